package repositories

import (
	"context"
	"fmt"

	"github.com/coopqueue/guard/internal/database"
	"github.com/coopqueue/guard/internal/models"
	"github.com/jackc/pgx/v5"
)

// SecurityLogRepository appends to and reads the security event log.
// The core never updates or deletes individual entries.
type SecurityLogRepository struct {
	q Querier
}

// NewSecurityLogRepository creates a new SecurityLogRepository
func NewSecurityLogRepository(db *database.DB) *SecurityLogRepository {
	return &SecurityLogRepository{q: db.Pool}
}

func scanSecurityLogRow(row rowScanner) (*models.SecurityLogEntry, error) {
	var entry models.SecurityLogEntry

	err := row.Scan(
		&entry.ID, &entry.EventType, &entry.Severity, &entry.UserType,
		&entry.UserIdentifier, &entry.IPAddress, &entry.UserAgent,
		&entry.Description, &entry.Metadata, &entry.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &entry, nil
}

func scanSecurityLogRows(rows pgx.Rows) ([]*models.SecurityLogEntry, error) {
	defer rows.Close()

	entries := make([]*models.SecurityLogEntry, 0)

	for rows.Next() {
		entry, err := scanSecurityLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security log: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security log rows: %w", err)
	}

	return entries, nil
}

// Insert appends one entry
func (r *SecurityLogRepository) Insert(ctx context.Context, entry *models.SecurityLogEntry) error {
	query := `
		INSERT INTO security_logs (
			event_type, severity, user_type, user_identifier,
			ip_address, user_agent, description, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.q.Exec(ctx, query,
		entry.EventType, entry.Severity, entry.UserType, entry.UserIdentifier,
		entry.IPAddress, entry.UserAgent, entry.Description, entry.Metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert security log: %w", database.MapPostgresError(err))
	}
	return nil
}

// ListRecent returns the newest entries for the admin dashboard
func (r *SecurityLogRepository) ListRecent(ctx context.Context, limit, offset int) ([]*models.SecurityLogEntry, error) {
	query := `
		SELECT id, event_type, severity, user_type, user_identifier,
		       ip_address, user_agent, description, metadata, created_at
		FROM security_logs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.q.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query security logs: %w", err)
	}

	return scanSecurityLogRows(rows)
}

// ListByIdentifier returns entries concerning a single identifier
func (r *SecurityLogRepository) ListByIdentifier(ctx context.Context, identifier string, limit, offset int) ([]*models.SecurityLogEntry, error) {
	query := `
		SELECT id, event_type, severity, user_type, user_identifier,
		       ip_address, user_agent, description, metadata, created_at
		FROM security_logs
		WHERE user_identifier = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.q.Query(ctx, query, identifier, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query security logs: %w", err)
	}

	return scanSecurityLogRows(rows)
}

// Cleanup removes entries older than the retention period. Retention is
// an operator policy applied wholesale, not a per-entry mutation.
func (r *SecurityLogRepository) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	query := `
		DELETE FROM security_logs
		WHERE created_at < CURRENT_TIMESTAMP - INTERVAL '1 day' * $1
	`

	tag, err := r.q.Exec(ctx, query, olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup security logs: %w", err)
	}

	return tag.RowsAffected(), nil
}
