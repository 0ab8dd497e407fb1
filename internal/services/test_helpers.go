package services

import (
	"context"
	"time"

	"github.com/coopqueue/guard/internal/config"
	"github.com/coopqueue/guard/internal/models"
	"github.com/coopqueue/guard/internal/repositories"
	"github.com/jackc/pgx/v5"
)

// MockAttemptLedger implements AttemptLedger for testing
type MockAttemptLedger struct {
	RecordFailureFunc        func(ctx context.Context, identifier string, identifierType models.IdentifierType, attemptType models.AttemptType, clientIP, userAgent string, now, windowStart time.Time) (*repositories.RecordOutcome, error)
	LockFunc                 func(ctx context.Context, identifier string, identifierType models.IdentifierType, attemptType models.AttemptType, until time.Time) error
	GetFunc                  func(ctx context.Context, identifier string, identifierType models.IdentifierType, attemptType models.AttemptType) (*models.AttemptRecord, error)
	ClearExpiredLockFunc     func(ctx context.Context, identifier string, identifierType models.IdentifierType, attemptType models.AttemptType, now time.Time) (bool, error)
	DeleteFunc               func(ctx context.Context, identifier string, identifierType models.IdentifierType, attemptType models.AttemptType) error
	UnlockFunc               func(ctx context.Context, identifier string, attemptType models.AttemptType) (bool, error)
	CountLockedByIPSinceFunc func(ctx context.Context, ipAddress string, since time.Time) (int, error)
}

func (m *MockAttemptLedger) RecordFailure(ctx context.Context, identifier string, identifierType models.IdentifierType, attemptType models.AttemptType, clientIP, userAgent string, now, windowStart time.Time) (*repositories.RecordOutcome, error) {
	if m.RecordFailureFunc != nil {
		return m.RecordFailureFunc(ctx, identifier, identifierType, attemptType, clientIP, userAgent, now, windowStart)
	}
	return &repositories.RecordOutcome{FailedAttempts: 1}, nil
}

func (m *MockAttemptLedger) Lock(ctx context.Context, identifier string, identifierType models.IdentifierType, attemptType models.AttemptType, until time.Time) error {
	if m.LockFunc != nil {
		return m.LockFunc(ctx, identifier, identifierType, attemptType, until)
	}
	return nil
}

func (m *MockAttemptLedger) Get(ctx context.Context, identifier string, identifierType models.IdentifierType, attemptType models.AttemptType) (*models.AttemptRecord, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, identifier, identifierType, attemptType)
	}
	return nil, models.ErrNotFound
}

func (m *MockAttemptLedger) ClearExpiredLock(ctx context.Context, identifier string, identifierType models.IdentifierType, attemptType models.AttemptType, now time.Time) (bool, error) {
	if m.ClearExpiredLockFunc != nil {
		return m.ClearExpiredLockFunc(ctx, identifier, identifierType, attemptType, now)
	}
	return false, nil
}

func (m *MockAttemptLedger) Delete(ctx context.Context, identifier string, identifierType models.IdentifierType, attemptType models.AttemptType) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, identifier, identifierType, attemptType)
	}
	return nil
}

func (m *MockAttemptLedger) Unlock(ctx context.Context, identifier string, attemptType models.AttemptType) (bool, error) {
	if m.UnlockFunc != nil {
		return m.UnlockFunc(ctx, identifier, attemptType)
	}
	return false, nil
}

func (m *MockAttemptLedger) CountLockedByIPSince(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	if m.CountLockedByIPSinceFunc != nil {
		return m.CountLockedByIPSinceFunc(ctx, ipAddress, since)
	}
	return 0, nil
}

func (m *MockAttemptLedger) WithTx(tx pgx.Tx) AttemptLedger {
	return m
}

// MockBlacklistStore implements BlacklistStore for testing
type MockBlacklistStore struct {
	UpsertFunc     func(ctx context.Context, ipAddress, reason string, blockType models.BlockType, blockedUntil *time.Time) error
	GetActiveFunc  func(ctx context.Context, ipAddress string) (*models.IPBlacklistEntry, error)
	DeactivateFunc func(ctx context.Context, ipAddress string) (bool, error)
}

func (m *MockBlacklistStore) Upsert(ctx context.Context, ipAddress, reason string, blockType models.BlockType, blockedUntil *time.Time) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, ipAddress, reason, blockType, blockedUntil)
	}
	return nil
}

func (m *MockBlacklistStore) GetActive(ctx context.Context, ipAddress string) (*models.IPBlacklistEntry, error) {
	if m.GetActiveFunc != nil {
		return m.GetActiveFunc(ctx, ipAddress)
	}
	return nil, models.ErrNotFound
}

func (m *MockBlacklistStore) Deactivate(ctx context.Context, ipAddress string) (bool, error) {
	if m.DeactivateFunc != nil {
		return m.DeactivateFunc(ctx, ipAddress)
	}
	return false, nil
}

// MockTxRunner runs the transaction body with a nil Tx; the mock
// ledger ignores it.
type MockTxRunner struct {
	WithTransactionFunc func(ctx context.Context, fn func(pgx.Tx) error) error
}

func (m *MockTxRunner) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(nil)
}

// MockCaptchaChallengeStore implements CaptchaChallengeStore for testing
type MockCaptchaChallengeStore struct {
	CreateFunc          func(ctx context.Context, challenge *models.CaptchaChallenge) error
	GetByTokenFunc      func(ctx context.Context, token string) (*models.CaptchaChallenge, error)
	RegisterAttemptFunc func(ctx context.Context, token string) (int, error)
	MarkSolvedFunc      func(ctx context.Context, token string) error
}

func (m *MockCaptchaChallengeStore) Create(ctx context.Context, challenge *models.CaptchaChallenge) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, challenge)
	}
	return nil
}

func (m *MockCaptchaChallengeStore) GetByToken(ctx context.Context, token string) (*models.CaptchaChallenge, error) {
	if m.GetByTokenFunc != nil {
		return m.GetByTokenFunc(ctx, token)
	}
	return nil, models.ErrNotFound
}

func (m *MockCaptchaChallengeStore) RegisterAttempt(ctx context.Context, token string) (int, error) {
	if m.RegisterAttemptFunc != nil {
		return m.RegisterAttemptFunc(ctx, token)
	}
	return 1, nil
}

func (m *MockCaptchaChallengeStore) MarkSolved(ctx context.Context, token string) error {
	if m.MarkSolvedFunc != nil {
		return m.MarkSolvedFunc(ctx, token)
	}
	return nil
}

// MockSecurityLogStore implements SecurityLogStore for testing
type MockSecurityLogStore struct {
	InsertFunc           func(ctx context.Context, entry *models.SecurityLogEntry) error
	ListRecentFunc       func(ctx context.Context, limit, offset int) ([]*models.SecurityLogEntry, error)
	ListByIdentifierFunc func(ctx context.Context, identifier string, limit, offset int) ([]*models.SecurityLogEntry, error)

	Entries []*models.SecurityLogEntry
}

func (m *MockSecurityLogStore) Insert(ctx context.Context, entry *models.SecurityLogEntry) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, entry)
	}
	m.Entries = append(m.Entries, entry)
	return nil
}

func (m *MockSecurityLogStore) ListRecent(ctx context.Context, limit, offset int) ([]*models.SecurityLogEntry, error) {
	if m.ListRecentFunc != nil {
		return m.ListRecentFunc(ctx, limit, offset)
	}
	return m.Entries, nil
}

func (m *MockSecurityLogStore) ListByIdentifier(ctx context.Context, identifier string, limit, offset int) ([]*models.SecurityLogEntry, error) {
	if m.ListByIdentifierFunc != nil {
		return m.ListByIdentifierFunc(ctx, identifier, limit, offset)
	}
	return m.Entries, nil
}

// MockNotifier records notification calls
type MockNotifier struct {
	LockedCalls  []string
	BlockedCalls []string
}

func (m *MockNotifier) NotifyAccountLocked(ctx context.Context, identifier string, attemptType models.AttemptType, until time.Time) {
	m.LockedCalls = append(m.LockedCalls, identifier)
}

func (m *MockNotifier) NotifyIPBlocked(ctx context.Context, ipAddress, reason string) {
	m.BlockedCalls = append(m.BlockedCalls, ipAddress)
}

// NewTestGuardConfig returns thresholds small enough to cross in a few
// calls. Tests override individual fields as needed.
func NewTestGuardConfig() config.GuardConfig {
	return config.GuardConfig{
		MaxLoginAttempts:            5,
		AttemptWindow:               15 * time.Minute,
		LockoutDuration:             30 * time.Minute,
		ExtendedLockoutDuration:     24 * time.Hour,
		LockoutThresholdForExtended: 3,
		CaptchaThreshold:            3,
		IPBanThreshold:              3,
		IPBanDuration:               24 * time.Hour,
		EnableIPBlacklist:           true,
		EnableProgressiveDelay:      true,
		ProgressiveDelayBase:        100 * time.Millisecond,
		ProgressiveDelayMax:         1 * time.Second,
		EnableSecurityLogging:       true,
		LogSeverityLevel:            models.SeverityInfo,
	}
}
