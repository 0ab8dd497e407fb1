package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/coopqueue/guard/internal/models"
)

// Notifier alerts operators about lockouts and IP bans. Delivery
// failures must never change a guard decision, so implementations log
// and swallow errors.
type Notifier interface {
	NotifyAccountLocked(ctx context.Context, identifier string, attemptType models.AttemptType, lockedUntil time.Time)
	NotifyIPBlocked(ctx context.Context, ipAddress, reason string)
}

// NoopNotifier is used when ENABLE_SECURITY_NOTIFICATIONS is off
type NoopNotifier struct{}

func (NoopNotifier) NotifyAccountLocked(context.Context, string, models.AttemptType, time.Time) {}
func (NoopNotifier) NotifyIPBlocked(context.Context, string, string)                            {}

// SESNotifier sends operator notifications through AWS SES
type SESNotifier struct {
	sesClient   *ses.Client
	fromAddress string
	operators   []string
	logger      *slog.Logger
}

// NewSESNotifier creates a new SESNotifier
func NewSESNotifier(region, fromAddress string, operators []string, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESNotifier{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		operators:   operators,
		logger:      logger,
	}, nil
}

// NotifyAccountLocked alerts operators that an identifier hit the lock
// threshold.
func (n *SESNotifier) NotifyAccountLocked(ctx context.Context, identifier string, attemptType models.AttemptType, lockedUntil time.Time) {
	subject := "Security alert: account locked"
	body := fmt.Sprintf(`An account was locked after repeated failed attempts.

Identifier:   %s
Attempt type: %s
Locked until: %s

Review the security event log in the admin dashboard for details.
`, identifier, attemptType, lockedUntil.UTC().Format(time.RFC3339))

	n.send(ctx, subject, body)
}

// NotifyIPBlocked alerts operators that an IP was added to the blacklist
func (n *SESNotifier) NotifyIPBlocked(ctx context.Context, ipAddress, reason string) {
	subject := "Security alert: IP address blocked"
	body := fmt.Sprintf(`An IP address was added to the blacklist.

IP address: %s
Reason:     %s

Review the security event log in the admin dashboard for details.
`, ipAddress, reason)

	n.send(ctx, subject, body)
}

func (n *SESNotifier) send(ctx context.Context, subject, body string) {
	if len(n.operators) == 0 {
		return
	}

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: n.operators,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(body),
				},
			},
		},
	}

	result, err := n.sesClient.SendEmail(ctx, input)
	if err != nil {
		n.logger.Error("failed to send security notification via SES",
			slog.String("subject", subject),
			slog.Any("error", err))
		return
	}

	n.logger.Info("security notification sent",
		slog.String("subject", subject),
		slog.String("message_id", *result.MessageId))
}
