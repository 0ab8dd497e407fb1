package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coopqueue/guard/internal/models"
	pkglogger "github.com/coopqueue/guard/pkg/logger"
)

// SecurityLogStore defines the persistence interface for security events
type SecurityLogStore interface {
	Insert(ctx context.Context, entry *models.SecurityLogEntry) error
	ListRecent(ctx context.Context, limit, offset int) ([]*models.SecurityLogEntry, error)
	ListByIdentifier(ctx context.Context, identifier string, limit, offset int) ([]*models.SecurityLogEntry, error)
}

// SecurityLogService appends security events with a dual-write pattern
// (slog + database). Append never returns an error: an audit-trail gap
// must not change a lock/allow decision.
type SecurityLogService struct {
	repo        SecurityLogStore
	logger      *slog.Logger
	enabled     bool
	minSeverity models.Severity
}

// NewSecurityLogService creates a new SecurityLogService
func NewSecurityLogService(repo SecurityLogStore, logger *slog.Logger, enabled bool, minSeverity models.Severity) *SecurityLogService {
	return &SecurityLogService{
		repo:        repo,
		logger:      logger,
		enabled:     enabled,
		minSeverity: minSeverity,
	}
}

// Append records one security event. Events below the configured
// minimum severity are suppressed entirely; this is a write filter,
// not retention.
func (s *SecurityLogService) Append(
	ctx context.Context,
	eventType models.EventType,
	severity models.Severity,
	userType models.UserType,
	identifier, ipAddress, userAgent, description string,
	metadata models.EventMetadata,
) {
	if !s.enabled || severity.Rank() < s.minSeverity.Rank() {
		return
	}

	entry := &models.SecurityLogEntry{
		EventType:      eventType,
		Severity:       severity,
		UserType:       userType,
		UserIdentifier: identifier,
		IPAddress:      ipAddress,
		UserAgent:      userAgent,
		Description:    description,
		Metadata:       metadata,
	}

	// Dual-write: immediate slog output. The database row keeps the
	// raw identifier for admin lookups; the log stream, which can end
	// up in shared aggregators, gets email identifiers masked.
	logIdentifier := identifier
	if strings.Contains(identifier, "@") {
		logIdentifier = pkglogger.SanitizedEmail(identifier)
	}

	attrs := []slog.Attr{
		slog.String("event_type", string(eventType)),
		slog.String("severity", string(severity)),
		slog.String("user_type", string(userType)),
		slog.String("identifier", logIdentifier),
		slog.String("ip_address", ipAddress),
		slog.String("description", description),
	}
	if metadata != nil {
		attrs = append(attrs, slog.Any("metadata", metadata))
	}

	level := slog.LevelInfo
	switch severity {
	case models.SeverityWarning:
		level = slog.LevelWarn
	case models.SeverityCritical:
		level = slog.LevelError
	}
	s.logger.LogAttrs(ctx, level, "security event", attrs...)

	// Persist to database; failures are logged and discarded
	if err := s.repo.Insert(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist security log",
			slog.String("event_type", string(eventType)),
			slog.Any("error", err),
		)
	}
}

// Recent returns the latest entries for the admin dashboard
func (s *SecurityLogService) Recent(ctx context.Context, limit, offset int) ([]*models.SecurityLogEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := s.repo.ListRecent(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}
	return entries, nil
}

// ForIdentifier returns the latest entries concerning one identifier
func (s *SecurityLogService) ForIdentifier(ctx context.Context, identifier string, limit, offset int) ([]*models.SecurityLogEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := s.repo.ListByIdentifier(ctx, identifier, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}
	return entries, nil
}
