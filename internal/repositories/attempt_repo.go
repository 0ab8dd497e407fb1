package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/coopqueue/guard/internal/database"
	"github.com/coopqueue/guard/internal/models"
	"github.com/jackc/pgx/v5"
)

// AttemptRepository owns the attempt ledger rows keyed by
// (identifier, identifier_type, attempt_type).
type AttemptRepository struct {
	q Querier
}

// NewAttemptRepository creates a new AttemptRepository
func NewAttemptRepository(db *database.DB) *AttemptRepository {
	return &AttemptRepository{q: db.Pool}
}

// WithTx returns a copy of the repository that runs against tx
func (r *AttemptRepository) WithTx(tx pgx.Tx) *AttemptRepository {
	return &AttemptRepository{q: tx}
}

// RecordOutcome is the ledger state immediately after a recorded failure
type RecordOutcome struct {
	AttemptID      string
	FailedAttempts int
	LockoutCount   int
}

// RecordFailure upserts a failed attempt in a single statement. A row
// whose first_attempt_at fell out of the sliding window restarts at 1
// and drops its lock, but keeps lockout_count so escalation history
// survives window expiry. The unique key serializes concurrent writers.
func (r *AttemptRepository) RecordFailure(
	ctx context.Context,
	identifier string,
	identifierType models.IdentifierType,
	attemptType models.AttemptType,
	clientIP, userAgent string,
	now, windowStart time.Time,
) (*RecordOutcome, error) {
	query := `
		INSERT INTO login_attempts (
			identifier, identifier_type, attempt_type,
			failed_attempts, first_attempt_at, last_attempt_at,
			ip_address, user_agent
		)
		VALUES ($1, $2, $3, 1, $4, $4, $5, $6)
		ON CONFLICT ON CONSTRAINT login_attempts_key DO UPDATE SET
			failed_attempts = CASE
				WHEN login_attempts.first_attempt_at < $7 THEN 1
				ELSE login_attempts.failed_attempts + 1
			END,
			first_attempt_at = CASE
				WHEN login_attempts.first_attempt_at < $7 THEN $4
				ELSE login_attempts.first_attempt_at
			END,
			is_locked = CASE
				WHEN login_attempts.first_attempt_at < $7 THEN false
				ELSE login_attempts.is_locked
			END,
			locked_until = CASE
				WHEN login_attempts.first_attempt_at < $7 THEN NULL
				ELSE login_attempts.locked_until
			END,
			last_attempt_at = $4,
			ip_address = $5,
			user_agent = $6
		RETURNING id, failed_attempts, lockout_count
	`

	var outcome RecordOutcome
	err := r.q.QueryRow(ctx, query,
		identifier, identifierType, attemptType,
		now, clientIP, userAgent, windowStart,
	).Scan(&outcome.AttemptID, &outcome.FailedAttempts, &outcome.LockoutCount)
	if err != nil {
		return nil, fmt.Errorf("failed to record attempt: %w", database.MapPostgresError(err))
	}

	return &outcome, nil
}

// Lock marks a ledger row locked until the given time and bumps its
// lockout counter.
func (r *AttemptRepository) Lock(
	ctx context.Context,
	identifier string,
	identifierType models.IdentifierType,
	attemptType models.AttemptType,
	until time.Time,
) error {
	query := `
		UPDATE login_attempts
		SET is_locked = true, locked_until = $4, lockout_count = lockout_count + 1
		WHERE identifier = $1 AND identifier_type = $2 AND attempt_type = $3
	`

	_, err := r.q.Exec(ctx, query, identifier, identifierType, attemptType, until)
	if err != nil {
		return fmt.Errorf("failed to lock attempt record: %w", database.MapPostgresError(err))
	}
	return nil
}

// Get fetches one ledger row
func (r *AttemptRepository) Get(
	ctx context.Context,
	identifier string,
	identifierType models.IdentifierType,
	attemptType models.AttemptType,
) (*models.AttemptRecord, error) {
	query := `
		SELECT id, identifier, identifier_type, attempt_type,
		       failed_attempts, first_attempt_at, last_attempt_at,
		       is_locked, locked_until, lockout_count, ip_address, user_agent
		FROM login_attempts
		WHERE identifier = $1 AND identifier_type = $2 AND attempt_type = $3
	`

	var rec models.AttemptRecord
	err := r.q.QueryRow(ctx, query, identifier, identifierType, attemptType).Scan(
		&rec.ID, &rec.Identifier, &rec.IdentifierType, &rec.AttemptType,
		&rec.FailedAttempts, &rec.FirstAttemptAt, &rec.LastAttemptAt,
		&rec.IsLocked, &rec.LockedUntil, &rec.LockoutCount,
		&rec.IPAddress, &rec.UserAgent,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &rec, nil
}

// ClearExpiredLock drops a lock whose expiry has passed, keeping
// lockout_count intact. Returns true if a lock was cleared.
func (r *AttemptRepository) ClearExpiredLock(
	ctx context.Context,
	identifier string,
	identifierType models.IdentifierType,
	attemptType models.AttemptType,
	now time.Time,
) (bool, error) {
	query := `
		UPDATE login_attempts
		SET is_locked = false, locked_until = NULL
		WHERE identifier = $1 AND identifier_type = $2 AND attempt_type = $3
		  AND is_locked = true
		  AND (locked_until IS NULL OR locked_until <= $4)
	`

	tag, err := r.q.Exec(ctx, query, identifier, identifierType, attemptType, now)
	if err != nil {
		return false, fmt.Errorf("failed to clear expired lock: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes one ledger row. Called on successful authentication.
func (r *AttemptRepository) Delete(
	ctx context.Context,
	identifier string,
	identifierType models.IdentifierType,
	attemptType models.AttemptType,
) error {
	query := `
		DELETE FROM login_attempts
		WHERE identifier = $1 AND identifier_type = $2 AND attempt_type = $3
	`

	_, err := r.q.Exec(ctx, query, identifier, identifierType, attemptType)
	if err != nil {
		return fmt.Errorf("failed to delete attempt record: %w", database.MapPostgresError(err))
	}
	return nil
}

// Unlock clears lock state and counters for every identifier_type row
// matching (identifier, attempt_type). Returns true if any row matched,
// so repeated unlocks stay idempotent no-ops.
func (r *AttemptRepository) Unlock(
	ctx context.Context,
	identifier string,
	attemptType models.AttemptType,
) (bool, error) {
	query := `
		UPDATE login_attempts
		SET is_locked = false, locked_until = NULL, failed_attempts = 0
		WHERE identifier = $1 AND attempt_type = $2
	`

	tag, err := r.q.Exec(ctx, query, identifier, attemptType)
	if err != nil {
		return false, fmt.Errorf("failed to unlock attempt record: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected() > 0, nil
}

// CountLockedByIPSince counts locked ledger rows recorded from an IP
// after the given time, across every identifier type. IP-keyed lock
// rows count themselves; that matches how promotion has always behaved.
func (r *AttemptRepository) CountLockedByIPSince(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE ip_address = $1 AND is_locked = true AND last_attempt_at >= $2
	`

	var count int
	err := r.q.QueryRow(ctx, query, ipAddress, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count locked attempts by ip: %w", database.MapPostgresError(err))
	}
	return count, nil
}

// DeleteStale removes unlocked rows with no escalation history whose
// last activity predates the cutoff. Housekeeping only; the window
// check in RecordFailure does not depend on it.
func (r *AttemptRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM login_attempts
		WHERE last_attempt_at < $1 AND is_locked = false AND lockout_count = 0
	`

	tag, err := r.q.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale attempts: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}
