package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/coopqueue/guard/internal/database"
	"github.com/coopqueue/guard/internal/models"
)

// BlacklistRepository owns the IP reputation rows, unique per IP.
type BlacklistRepository struct {
	q Querier
}

// NewBlacklistRepository creates a new BlacklistRepository
func NewBlacklistRepository(db *database.DB) *BlacklistRepository {
	return &BlacklistRepository{q: db.Pool}
}

// Upsert inserts or reactivates a blacklist row for the IP. A nil
// blockedUntil makes the ban permanent.
func (r *BlacklistRepository) Upsert(
	ctx context.Context,
	ipAddress, reason string,
	blockType models.BlockType,
	blockedUntil *time.Time,
) error {
	query := `
		INSERT INTO ip_blacklist (ip_address, reason, block_type, blocked_until, is_active)
		VALUES ($1, $2, $3, $4, true)
		ON CONFLICT (ip_address) DO UPDATE SET
			reason = $2,
			block_type = $3,
			blocked_until = $4,
			is_active = true
	`

	_, err := r.q.Exec(ctx, query, ipAddress, reason, blockType, blockedUntil)
	if err != nil {
		return fmt.Errorf("failed to upsert blacklist entry: %w", database.MapPostgresError(err))
	}
	return nil
}

// GetActive returns the active blacklist row for an IP, or ErrNotFound.
// Expiry is the caller's concern; rows are deactivated lazily.
func (r *BlacklistRepository) GetActive(ctx context.Context, ipAddress string) (*models.IPBlacklistEntry, error) {
	query := `
		SELECT id, ip_address, reason, block_type, blocked_until, is_active, created_at
		FROM ip_blacklist
		WHERE ip_address = $1 AND is_active = true
	`

	var entry models.IPBlacklistEntry
	err := r.q.QueryRow(ctx, query, ipAddress).Scan(
		&entry.ID, &entry.IPAddress, &entry.Reason, &entry.BlockType,
		&entry.BlockedUntil, &entry.IsActive, &entry.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &entry, nil
}

// Deactivate flips is_active off without deleting the row. Returns true
// if an active row existed.
func (r *BlacklistRepository) Deactivate(ctx context.Context, ipAddress string) (bool, error) {
	query := `
		UPDATE ip_blacklist SET is_active = false
		WHERE ip_address = $1 AND is_active = true
	`

	tag, err := r.q.Exec(ctx, query, ipAddress)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate blacklist entry: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected() > 0, nil
}

// DeactivateExpired sweeps rows whose ban window has passed
func (r *BlacklistRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE ip_blacklist SET is_active = false
		WHERE is_active = true AND blocked_until IS NOT NULL AND blocked_until <= $1
	`

	tag, err := r.q.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired blacklist entries: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}
