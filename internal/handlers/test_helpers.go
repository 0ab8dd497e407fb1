package handlers

import (
	"context"
	"time"

	"github.com/coopqueue/guard/internal/models"
)

// MockGuardService implements GuardServiceInterface for testing
type MockGuardService struct {
	IsLockedFunc                func(ctx context.Context, identifier string, attemptType models.AttemptType, clientIP string) (bool, error)
	RecordFailedAttemptFunc     func(ctx context.Context, identifier string, attemptType models.AttemptType, clientIP, userAgent string, metadata models.EventMetadata) (*models.FailedAttemptResult, error)
	RecordSuccessfulAttemptFunc func(ctx context.Context, identifier string, attemptType models.AttemptType, clientIP, userAgent string) error
	RequiresCaptchaFunc         func(ctx context.Context, identifier string, attemptType models.AttemptType) (bool, error)
	GenerateCaptchaFunc         func(ctx context.Context, identifier string) (*models.ChallengeDescriptor, error)
	VerifyCaptchaFunc           func(ctx context.Context, tokenOrResponse, identifier, answer, clientIP string) bool
	DelayFunc                   func(ctx context.Context, failedAttempts int) error
	GetAccountStatusFunc        func(ctx context.Context, identifier string, attemptType models.AttemptType) (*models.AccountStatus, error)
	UnlockAccountFunc           func(ctx context.Context, identifier string, attemptType models.AttemptType) (bool, error)
	UnblockIPFunc               func(ctx context.Context, ipAddress string) (bool, error)
	BlockIPFunc                 func(ctx context.Context, ipAddress, reason string, blockedUntil *time.Time) error
}

func (m *MockGuardService) IsLocked(ctx context.Context, identifier string, attemptType models.AttemptType, clientIP string) (bool, error) {
	if m.IsLockedFunc != nil {
		return m.IsLockedFunc(ctx, identifier, attemptType, clientIP)
	}
	return false, nil
}

func (m *MockGuardService) RecordFailedAttempt(ctx context.Context, identifier string, attemptType models.AttemptType, clientIP, userAgent string, metadata models.EventMetadata) (*models.FailedAttemptResult, error) {
	if m.RecordFailedAttemptFunc != nil {
		return m.RecordFailedAttemptFunc(ctx, identifier, attemptType, clientIP, userAgent, metadata)
	}
	return &models.FailedAttemptResult{Attempts: 1, MaxAttempts: 5, Remaining: 4}, nil
}

func (m *MockGuardService) RecordSuccessfulAttempt(ctx context.Context, identifier string, attemptType models.AttemptType, clientIP, userAgent string) error {
	if m.RecordSuccessfulAttemptFunc != nil {
		return m.RecordSuccessfulAttemptFunc(ctx, identifier, attemptType, clientIP, userAgent)
	}
	return nil
}

func (m *MockGuardService) RequiresCaptcha(ctx context.Context, identifier string, attemptType models.AttemptType) (bool, error) {
	if m.RequiresCaptchaFunc != nil {
		return m.RequiresCaptchaFunc(ctx, identifier, attemptType)
	}
	return false, nil
}

func (m *MockGuardService) GenerateCaptcha(ctx context.Context, identifier string) (*models.ChallengeDescriptor, error) {
	if m.GenerateCaptchaFunc != nil {
		return m.GenerateCaptchaFunc(ctx, identifier)
	}
	return &models.ChallengeDescriptor{Type: models.CaptchaTypeMath, Token: "test-token", Question: "What is 1 + 1?"}, nil
}

func (m *MockGuardService) VerifyCaptcha(ctx context.Context, tokenOrResponse, identifier, answer, clientIP string) bool {
	if m.VerifyCaptchaFunc != nil {
		return m.VerifyCaptchaFunc(ctx, tokenOrResponse, identifier, answer, clientIP)
	}
	return false
}

func (m *MockGuardService) Delay(ctx context.Context, failedAttempts int) error {
	if m.DelayFunc != nil {
		return m.DelayFunc(ctx, failedAttempts)
	}
	return nil
}

func (m *MockGuardService) GetAccountStatus(ctx context.Context, identifier string, attemptType models.AttemptType) (*models.AccountStatus, error) {
	if m.GetAccountStatusFunc != nil {
		return m.GetAccountStatusFunc(ctx, identifier, attemptType)
	}
	return &models.AccountStatus{Identifier: identifier, AttemptType: attemptType, RemainingAttempts: 5}, nil
}

func (m *MockGuardService) UnlockAccount(ctx context.Context, identifier string, attemptType models.AttemptType) (bool, error) {
	if m.UnlockAccountFunc != nil {
		return m.UnlockAccountFunc(ctx, identifier, attemptType)
	}
	return false, nil
}

func (m *MockGuardService) UnblockIP(ctx context.Context, ipAddress string) (bool, error) {
	if m.UnblockIPFunc != nil {
		return m.UnblockIPFunc(ctx, ipAddress)
	}
	return false, nil
}

func (m *MockGuardService) BlockIP(ctx context.Context, ipAddress, reason string, blockedUntil *time.Time) error {
	if m.BlockIPFunc != nil {
		return m.BlockIPFunc(ctx, ipAddress, reason, blockedUntil)
	}
	return nil
}
