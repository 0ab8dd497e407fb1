package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coopqueue/guard/internal/config"
	"github.com/coopqueue/guard/internal/models"
	"github.com/coopqueue/guard/internal/repositories"
	"github.com/jackc/pgx/v5"
)

// AttemptLedger defines the persistence interface for attempt records
type AttemptLedger interface {
	RecordFailure(ctx context.Context, identifier string, identifierType models.IdentifierType, attemptType models.AttemptType, clientIP, userAgent string, now, windowStart time.Time) (*repositories.RecordOutcome, error)
	Lock(ctx context.Context, identifier string, identifierType models.IdentifierType, attemptType models.AttemptType, until time.Time) error
	Get(ctx context.Context, identifier string, identifierType models.IdentifierType, attemptType models.AttemptType) (*models.AttemptRecord, error)
	ClearExpiredLock(ctx context.Context, identifier string, identifierType models.IdentifierType, attemptType models.AttemptType, now time.Time) (bool, error)
	Delete(ctx context.Context, identifier string, identifierType models.IdentifierType, attemptType models.AttemptType) error
	Unlock(ctx context.Context, identifier string, attemptType models.AttemptType) (bool, error)
	CountLockedByIPSince(ctx context.Context, ipAddress string, since time.Time) (int, error)
	WithTx(tx pgx.Tx) AttemptLedger
}

// txLedger adapts the concrete repository so its transactional copies
// satisfy AttemptLedger.
type txLedger struct {
	*repositories.AttemptRepository
}

func (l txLedger) WithTx(tx pgx.Tx) AttemptLedger {
	return txLedger{l.AttemptRepository.WithTx(tx)}
}

// NewAttemptLedger wraps an AttemptRepository as an AttemptLedger
func NewAttemptLedger(repo *repositories.AttemptRepository) AttemptLedger {
	return txLedger{repo}
}

// BlacklistStore defines the persistence interface for the IP
// reputation store
type BlacklistStore interface {
	Upsert(ctx context.Context, ipAddress, reason string, blockType models.BlockType, blockedUntil *time.Time) error
	GetActive(ctx context.Context, ipAddress string) (*models.IPBlacklistEntry, error)
	Deactivate(ctx context.Context, ipAddress string) (bool, error)
}

// TxRunner runs a function inside a database transaction
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error
}

// GuardService is the single entry point login-style handlers call. It
// consults the lockout policy, mutates the attempt ledger and IP
// reputation store, and appends to the security event log. Persistence
// errors propagate so callers fail closed; logging and notification
// failures are swallowed.
type GuardService struct {
	db        TxRunner
	attempts  AttemptLedger
	blacklist BlacklistStore
	captcha   *CaptchaService
	policy    *LockoutPolicy
	events    *SecurityLogService
	notifier  Notifier
	cfg       config.GuardConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewGuardService creates a new GuardService
func NewGuardService(
	db TxRunner,
	attempts AttemptLedger,
	blacklist BlacklistStore,
	captcha *CaptchaService,
	policy *LockoutPolicy,
	events *SecurityLogService,
	notifier Notifier,
	cfg config.GuardConfig,
	logger *slog.Logger,
) *GuardService {
	return &GuardService{
		db:        db,
		attempts:  attempts,
		blacklist: blacklist,
		captcha:   captcha,
		policy:    policy,
		events:    events,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the time source for deterministic tests
func (s *GuardService) SetClock(now func() time.Time) {
	s.now = now
}

// userTypeFor maps a guarded endpoint to the user category its events
// are logged under.
func userTypeFor(attemptType models.AttemptType) models.UserType {
	switch attemptType {
	case models.AttemptTypeAdminLogin:
		return models.UserTypeAdmin
	case models.AttemptTypeStudentLogin, models.AttemptTypeOTPVerify, models.AttemptTypePasswordReset:
		return models.UserTypeStudent
	default:
		return models.UserTypeGuest
	}
}

// failureEventFor and successEventFor pick the event type for the
// guarded endpoint; OTP checks carry their own pair.
func failureEventFor(attemptType models.AttemptType) models.EventType {
	if attemptType == models.AttemptTypeOTPVerify {
		return models.EventOTPFailed
	}
	return models.EventLoginFailed
}

func successEventFor(attemptType models.AttemptType) models.EventType {
	if attemptType == models.AttemptTypeOTPVerify {
		return models.EventOTPSuccess
	}
	return models.EventLoginSuccess
}

func (s *GuardService) isWhitelisted(ip string) bool {
	if ip == "" {
		return false
	}
	for _, allowed := range s.cfg.IPWhitelist {
		if allowed == ip {
			return true
		}
	}
	return false
}

// IsLocked reports whether the identifier or the client IP is currently
// blocked. Checks, in order: debug bypass, whitelist bypass, the IP
// blacklist, the identifier's own lock row, the IP's lock row. Expired
// locks are cleared lazily here rather than by a sweeper.
func (s *GuardService) IsLocked(ctx context.Context, identifier string, attemptType models.AttemptType, clientIP string) (bool, error) {
	if s.cfg.DebugMode {
		return false, nil
	}

	whitelisted := s.isWhitelisted(clientIP)

	if s.cfg.EnableIPBlacklist && clientIP != "" && !whitelisted {
		blocked, err := s.checkBlacklist(ctx, identifier, attemptType, clientIP)
		if err != nil {
			return false, err
		}
		if blocked {
			return true, nil
		}
	}

	locked, err := s.ledgerLocked(ctx, identifier, models.IdentifierTypeEmail, attemptType)
	if err != nil {
		return false, err
	}
	if locked {
		return true, nil
	}

	if clientIP != "" && !whitelisted {
		locked, err = s.ledgerLocked(ctx, clientIP, models.IdentifierTypeIP, attemptType)
		if err != nil {
			return false, err
		}
		if locked {
			return true, nil
		}
	}

	return false, nil
}

func (s *GuardService) checkBlacklist(ctx context.Context, identifier string, attemptType models.AttemptType, clientIP string) (bool, error) {
	entry, err := s.blacklist.GetActive(ctx, clientIP)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check ip blacklist: %w", err)
	}

	if !entry.BlockedNow(s.now()) {
		// ban window passed; retire the row lazily
		if _, err := s.blacklist.Deactivate(ctx, clientIP); err != nil {
			s.logger.ErrorContext(ctx, "failed to deactivate expired blacklist entry",
				slog.String("ip_address", clientIP), slog.Any("error", err))
		}
		return false, nil
	}

	s.events.Append(ctx, models.EventSuspiciousActivity, models.SeverityCritical,
		userTypeFor(attemptType), identifier, clientIP, "",
		"request from blacklisted ip address",
		models.EventMetadata{"block_type": entry.BlockType, "reason": entry.Reason})

	return true, nil
}

func (s *GuardService) ledgerLocked(ctx context.Context, identifier string, identifierType models.IdentifierType, attemptType models.AttemptType) (bool, error) {
	rec, err := s.attempts.Get(ctx, identifier, identifierType, attemptType)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read attempt ledger: %w", err)
	}

	if !rec.IsLocked {
		return false, nil
	}

	if rec.LockedNow(s.now()) {
		return true, nil
	}

	// lockout_count survives; only the lock itself is cleared
	if _, err := s.attempts.ClearExpiredLock(ctx, identifier, identifierType, attemptType, s.now()); err != nil {
		return false, fmt.Errorf("failed to clear expired lock: %w", err)
	}
	return false, nil
}

// RecordFailedAttempt registers one failed attempt against both the
// identifier ledger and the client IP ledger, applies the lockout
// policy, and returns what the caller needs for a user-facing message.
func (s *GuardService) RecordFailedAttempt(
	ctx context.Context,
	identifier string,
	attemptType models.AttemptType,
	clientIP, userAgent string,
	metadata models.EventMetadata,
) (*models.FailedAttemptResult, error) {
	if s.cfg.DebugMode {
		return &models.FailedAttemptResult{
			MaxAttempts: s.cfg.MaxLoginAttempts,
			Remaining:   s.cfg.MaxLoginAttempts,
		}, nil
	}

	now := s.now()
	windowStart := now.Add(-s.cfg.AttemptWindow)
	trackIP := clientIP != "" && !s.isWhitelisted(clientIP)

	var (
		emailOut, ipOut       *repositories.RecordOutcome
		emailLocked, ipLocked bool
		emailUntil, ipUntil   time.Time
	)

	err := s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		ledger := s.attempts.WithTx(tx)

		var err error
		emailOut, err = ledger.RecordFailure(ctx, identifier, models.IdentifierTypeEmail, attemptType, clientIP, userAgent, now, windowStart)
		if err != nil {
			return err
		}
		if s.policy.ShouldLock(emailOut.FailedAttempts) {
			emailUntil = now.Add(s.policy.LockoutDuration(emailOut.LockoutCount))
			if err := ledger.Lock(ctx, identifier, models.IdentifierTypeEmail, attemptType, emailUntil); err != nil {
				return err
			}
			emailLocked = true
		}

		if !trackIP {
			return nil
		}

		ipOut, err = ledger.RecordFailure(ctx, clientIP, models.IdentifierTypeIP, attemptType, clientIP, userAgent, now, windowStart)
		if err != nil {
			return err
		}
		if s.policy.ShouldLock(ipOut.FailedAttempts) {
			ipUntil = now.Add(s.policy.LockoutDuration(ipOut.LockoutCount))
			if err := ledger.Lock(ctx, clientIP, models.IdentifierTypeIP, attemptType, ipUntil); err != nil {
				return err
			}
			ipLocked = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record attempt: %w", err)
	}

	result := &models.FailedAttemptResult{
		Locked:      emailLocked || ipLocked,
		Attempts:    emailOut.FailedAttempts,
		MaxAttempts: s.cfg.MaxLoginAttempts,
		Remaining:   s.policy.RemainingAttempts(emailOut.FailedAttempts),
	}
	switch {
	case emailLocked:
		result.LockedUntil = &emailUntil
	case ipLocked:
		result.LockedUntil = &ipUntil
	}

	userType := userTypeFor(attemptType)

	if result.Locked {
		s.events.Append(ctx, models.EventAccountLocked, models.SeverityWarning, userType,
			identifier, clientIP, userAgent,
			fmt.Sprintf("locked after %d failed attempts", emailOut.FailedAttempts),
			mergeMetadata(metadata, models.EventMetadata{
				"attempt_type": attemptType,
				"locked_until": result.LockedUntil,
			}))

		if s.cfg.EnableNotifications {
			s.notifier.NotifyAccountLocked(ctx, identifier, attemptType, *result.LockedUntil)
		}

		if trackIP && s.cfg.EnableIPBlacklist {
			if err := s.promoteIP(ctx, clientIP, now); err != nil {
				return nil, err
			}
		}
	} else {
		s.events.Append(ctx, failureEventFor(attemptType), models.SeverityWarning, userType,
			identifier, clientIP, userAgent,
			fmt.Sprintf("failed attempt %d of %d", emailOut.FailedAttempts, s.cfg.MaxLoginAttempts),
			mergeMetadata(metadata, models.EventMetadata{"attempt_type": attemptType}))
	}

	return result, nil
}

// promoteIP blacklists an IP that caused enough lockouts within the
// trailing hour. The count spans every identifier type, so IP-keyed
// lock rows count themselves; that mirrors long-standing behavior.
func (s *GuardService) promoteIP(ctx context.Context, clientIP string, now time.Time) error {
	count, err := s.attempts.CountLockedByIPSince(ctx, clientIP, now.Add(-1*time.Hour))
	if err != nil {
		return fmt.Errorf("failed to evaluate ip promotion: %w", err)
	}
	if count < s.cfg.IPBanThreshold {
		return nil
	}

	reason := fmt.Sprintf("automatic block after %d lockouts within one hour", count)

	var blockedUntil *time.Time
	if s.cfg.IPBanDuration > 0 {
		until := now.Add(s.cfg.IPBanDuration)
		blockedUntil = &until
	}

	if err := s.blacklist.Upsert(ctx, clientIP, reason, models.BlockTypeAutomatic, blockedUntil); err != nil {
		return fmt.Errorf("failed to blacklist ip: %w", err)
	}

	s.events.Append(ctx, models.EventIPBlocked, models.SeverityCritical, models.UserTypeSystem,
		clientIP, clientIP, "", reason,
		models.EventMetadata{"block_type": models.BlockTypeAutomatic, "lockouts": count})

	if s.cfg.EnableNotifications {
		s.notifier.NotifyIPBlocked(ctx, clientIP, reason)
	}

	return nil
}

// RecordSuccessfulAttempt resets both ledgers for the attempt type and
// logs the success.
func (s *GuardService) RecordSuccessfulAttempt(ctx context.Context, identifier string, attemptType models.AttemptType, clientIP, userAgent string) error {
	if s.cfg.DebugMode {
		return nil
	}

	err := s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		ledger := s.attempts.WithTx(tx)

		if err := ledger.Delete(ctx, identifier, models.IdentifierTypeEmail, attemptType); err != nil {
			return err
		}
		if clientIP != "" {
			if err := ledger.Delete(ctx, clientIP, models.IdentifierTypeIP, attemptType); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reset attempts: %w", err)
	}

	s.events.Append(ctx, successEventFor(attemptType), models.SeverityInfo, userTypeFor(attemptType),
		identifier, clientIP, userAgent, "successful authentication",
		models.EventMetadata{"attempt_type": attemptType})

	return nil
}

// RequiresCaptcha reports whether the identifier has crossed the
// CAPTCHA tier for the attempt type.
func (s *GuardService) RequiresCaptcha(ctx context.Context, identifier string, attemptType models.AttemptType) (bool, error) {
	if s.cfg.DebugMode || !s.captcha.Enabled() {
		return false, nil
	}

	rec, err := s.attempts.Get(ctx, identifier, models.IdentifierTypeEmail, attemptType)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read attempt ledger: %w", err)
	}

	// attempts outside the sliding window no longer count
	if rec.FirstAttemptAt.Before(s.now().Add(-s.cfg.AttemptWindow)) {
		return false, nil
	}

	return s.policy.RequiresCaptcha(rec.FailedAttempts), nil
}

// GenerateCaptcha issues a challenge for the identifier
func (s *GuardService) GenerateCaptcha(ctx context.Context, identifier string) (*models.ChallengeDescriptor, error) {
	if !s.captcha.Enabled() {
		return nil, models.ErrBadRequest
	}
	return s.captcha.Generate(ctx, identifier)
}

// VerifyCaptcha validates a challenge response. Never returns an error:
// anything short of a confirmed success is a failed verification.
func (s *GuardService) VerifyCaptcha(ctx context.Context, tokenOrResponse, identifier, answer, clientIP string) bool {
	if !s.captcha.Enabled() {
		return false
	}
	return s.captcha.Verify(ctx, tokenOrResponse, identifier, answer, clientIP)
}

// Delay applies the progressive backoff pause for a failed attempt
func (s *GuardService) Delay(ctx context.Context, failedAttempts int) error {
	if s.cfg.DebugMode {
		return nil
	}
	return s.policy.Delay(ctx, failedAttempts)
}

// GetAccountStatus returns the read-only ledger view for the admin UI
func (s *GuardService) GetAccountStatus(ctx context.Context, identifier string, attemptType models.AttemptType) (*models.AccountStatus, error) {
	status := &models.AccountStatus{
		Identifier:        identifier,
		AttemptType:       attemptType,
		RemainingAttempts: s.cfg.MaxLoginAttempts,
	}

	rec, err := s.attempts.Get(ctx, identifier, models.IdentifierTypeEmail, attemptType)
	if errors.Is(err, models.ErrNotFound) {
		return status, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read attempt ledger: %w", err)
	}

	status.FailedAttempts = rec.FailedAttempts
	status.LockoutCount = rec.LockoutCount
	status.IsLocked = rec.LockedNow(s.now())
	if status.IsLocked {
		status.LockedUntil = rec.LockedUntil
	}
	status.RequiresCaptcha = s.captcha.Enabled() && s.policy.RequiresCaptcha(rec.FailedAttempts)
	status.RemainingAttempts = s.policy.RemainingAttempts(rec.FailedAttempts)

	return status, nil
}

// UnlockAccount clears lock state for the identifier across both
// ledgers. Unlocking an already-unlocked identifier is a no-op that
// still succeeds; the return value reports whether a row existed.
func (s *GuardService) UnlockAccount(ctx context.Context, identifier string, attemptType models.AttemptType) (bool, error) {
	existed, err := s.attempts.Unlock(ctx, identifier, attemptType)
	if err != nil {
		return false, fmt.Errorf("failed to unlock account: %w", err)
	}

	s.events.Append(ctx, models.EventAccountUnlocked, models.SeverityInfo, models.UserTypeAdmin,
		identifier, "", "", "manually unlocked by operator",
		models.EventMetadata{"attempt_type": attemptType, "record_existed": existed})

	return existed, nil
}

// UnblockIP deactivates a blacklist entry. The row is kept for history.
func (s *GuardService) UnblockIP(ctx context.Context, ipAddress string) (bool, error) {
	existed, err := s.blacklist.Deactivate(ctx, ipAddress)
	if err != nil {
		return false, fmt.Errorf("failed to unblock ip: %w", err)
	}

	s.events.Append(ctx, models.EventIPUnblocked, models.SeverityInfo, models.UserTypeAdmin,
		ipAddress, ipAddress, "", "manually unblocked by operator",
		models.EventMetadata{"entry_existed": existed})

	return existed, nil
}

// BlockIP inserts a manual blacklist entry
func (s *GuardService) BlockIP(ctx context.Context, ipAddress, reason string, blockedUntil *time.Time) error {
	if err := s.blacklist.Upsert(ctx, ipAddress, reason, models.BlockTypeManual, blockedUntil); err != nil {
		return fmt.Errorf("failed to block ip: %w", err)
	}

	s.events.Append(ctx, models.EventIPBlocked, models.SeverityCritical, models.UserTypeAdmin,
		ipAddress, ipAddress, "", reason,
		models.EventMetadata{"block_type": models.BlockTypeManual})

	if s.cfg.EnableNotifications {
		s.notifier.NotifyIPBlocked(ctx, ipAddress, reason)
	}

	return nil
}

func mergeMetadata(base, extra models.EventMetadata) models.EventMetadata {
	if base == nil {
		return extra
	}
	merged := make(models.EventMetadata, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
