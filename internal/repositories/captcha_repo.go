package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/coopqueue/guard/internal/database"
	"github.com/coopqueue/guard/internal/models"
)

// CaptchaRepository stores locally generated CAPTCHA challenges.
type CaptchaRepository struct {
	q Querier
}

// NewCaptchaRepository creates a new CaptchaRepository
func NewCaptchaRepository(db *database.DB) *CaptchaRepository {
	return &CaptchaRepository{q: db.Pool}
}

// Create stores a new challenge
func (r *CaptchaRepository) Create(ctx context.Context, challenge *models.CaptchaChallenge) error {
	query := `
		INSERT INTO captcha_challenges (identifier, challenge_token, challenge_answer, challenge_type, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.q.Exec(ctx, query,
		challenge.Identifier,
		challenge.ChallengeToken,
		challenge.ChallengeAnswer,
		challenge.ChallengeType,
		challenge.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create captcha challenge: %w", database.MapPostgresError(err))
	}
	return nil
}

// GetByToken fetches a challenge by its opaque token
func (r *CaptchaRepository) GetByToken(ctx context.Context, token string) (*models.CaptchaChallenge, error) {
	query := `
		SELECT id, identifier, challenge_token, challenge_answer, challenge_type,
		       is_solved, attempts, expires_at, created_at
		FROM captcha_challenges
		WHERE challenge_token = $1
	`

	var c models.CaptchaChallenge
	err := r.q.QueryRow(ctx, query, token).Scan(
		&c.ID, &c.Identifier, &c.ChallengeToken, &c.ChallengeAnswer,
		&c.ChallengeType, &c.IsSolved, &c.Attempts, &c.ExpiresAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &c, nil
}

// RegisterAttempt increments the verification counter and returns the
// new value. Incremented on every check regardless of outcome so the
// challenge itself cannot be brute-forced.
func (r *CaptchaRepository) RegisterAttempt(ctx context.Context, token string) (int, error) {
	query := `
		UPDATE captcha_challenges SET attempts = attempts + 1
		WHERE challenge_token = $1
		RETURNING attempts
	`

	var attempts int
	err := r.q.QueryRow(ctx, query, token).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("failed to register captcha attempt: %w", database.MapPostgresError(err))
	}
	return attempts, nil
}

// MarkSolved flags a challenge solved on first correct answer
func (r *CaptchaRepository) MarkSolved(ctx context.Context, token string) error {
	query := `UPDATE captcha_challenges SET is_solved = true WHERE challenge_token = $1`

	_, err := r.q.Exec(ctx, query, token)
	if err != nil {
		return fmt.Errorf("failed to mark captcha solved: %w", database.MapPostgresError(err))
	}
	return nil
}

// DeleteExpired removes challenges past their expiry
func (r *CaptchaRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM captcha_challenges WHERE expires_at <= $1`

	tag, err := r.q.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired captcha challenges: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}
