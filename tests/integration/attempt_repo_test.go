//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/coopqueue/guard/internal/models"
	"github.com/coopqueue/guard/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptRepository(t *testing.T) {
	ctx := context.Background()
	testDB, err := SetupTestDatabase(ctx)
	require.NoError(t, err)
	defer testDB.Teardown(ctx)

	repo := repositories.NewAttemptRepository(testDB.DB)
	window := 15 * time.Minute

	reset := func(t *testing.T) {
		t.Helper()
		require.NoError(t, testDB.TruncateAll(ctx))
	}

	t.Run("RecordFailure increments within window", func(t *testing.T) {
		reset(t)
		now := time.Now().UTC()

		for want := 1; want <= 3; want++ {
			out, err := repo.RecordFailure(ctx, "user@example.com", models.IdentifierTypeEmail,
				models.AttemptTypeStudentLogin, "203.0.113.9", "agent", now, now.Add(-window))
			require.NoError(t, err)
			assert.Equal(t, want, out.FailedAttempts)
		}
	})

	t.Run("RecordFailure resets after window expiry", func(t *testing.T) {
		reset(t)
		past := time.Now().UTC().Add(-1 * time.Hour)

		out, err := repo.RecordFailure(ctx, "user@example.com", models.IdentifierTypeEmail,
			models.AttemptTypeStudentLogin, "203.0.113.9", "agent", past, past.Add(-window))
		require.NoError(t, err)
		require.Equal(t, 1, out.FailedAttempts)

		require.NoError(t, repo.Lock(ctx, "user@example.com", models.IdentifierTypeEmail,
			models.AttemptTypeStudentLogin, past.Add(10*time.Minute)))

		// a fresh failure after the window restarts the count, drops
		// the lock, and keeps the escalation history
		now := time.Now().UTC()
		out, err = repo.RecordFailure(ctx, "user@example.com", models.IdentifierTypeEmail,
			models.AttemptTypeStudentLogin, "203.0.113.9", "agent", now, now.Add(-window))
		require.NoError(t, err)
		assert.Equal(t, 1, out.FailedAttempts)
		assert.Equal(t, 1, out.LockoutCount)

		rec, err := repo.Get(ctx, "user@example.com", models.IdentifierTypeEmail, models.AttemptTypeStudentLogin)
		require.NoError(t, err)
		assert.False(t, rec.IsLocked)
		assert.Nil(t, rec.LockedUntil)
		assert.Equal(t, 1, rec.LockoutCount)
	})

	t.Run("separate ledgers per identifier type", func(t *testing.T) {
		reset(t)
		now := time.Now().UTC()

		_, err := repo.RecordFailure(ctx, "user@example.com", models.IdentifierTypeEmail,
			models.AttemptTypeStudentLogin, "203.0.113.9", "", now, now.Add(-window))
		require.NoError(t, err)

		out, err := repo.RecordFailure(ctx, "203.0.113.9", models.IdentifierTypeIP,
			models.AttemptTypeStudentLogin, "203.0.113.9", "", now, now.Add(-window))
		require.NoError(t, err)
		assert.Equal(t, 1, out.FailedAttempts)
	})

	t.Run("separate ledgers per attempt type", func(t *testing.T) {
		reset(t)
		now := time.Now().UTC()

		_, err := repo.RecordFailure(ctx, "user@example.com", models.IdentifierTypeEmail,
			models.AttemptTypeStudentLogin, "", "", now, now.Add(-window))
		require.NoError(t, err)

		out, err := repo.RecordFailure(ctx, "user@example.com", models.IdentifierTypeEmail,
			models.AttemptTypeOTPVerify, "", "", now, now.Add(-window))
		require.NoError(t, err)
		assert.Equal(t, 1, out.FailedAttempts)
	})

	t.Run("Lock and ClearExpiredLock", func(t *testing.T) {
		reset(t)
		now := time.Now().UTC()

		_, err := repo.RecordFailure(ctx, "user@example.com", models.IdentifierTypeEmail,
			models.AttemptTypeStudentLogin, "", "", now, now.Add(-window))
		require.NoError(t, err)

		require.NoError(t, repo.Lock(ctx, "user@example.com", models.IdentifierTypeEmail,
			models.AttemptTypeStudentLogin, now.Add(-1*time.Minute)))

		rec, err := repo.Get(ctx, "user@example.com", models.IdentifierTypeEmail, models.AttemptTypeStudentLogin)
		require.NoError(t, err)
		assert.True(t, rec.IsLocked)
		assert.Equal(t, 1, rec.LockoutCount)

		cleared, err := repo.ClearExpiredLock(ctx, "user@example.com", models.IdentifierTypeEmail,
			models.AttemptTypeStudentLogin, now)
		require.NoError(t, err)
		assert.True(t, cleared)

		rec, err = repo.Get(ctx, "user@example.com", models.IdentifierTypeEmail, models.AttemptTypeStudentLogin)
		require.NoError(t, err)
		assert.False(t, rec.IsLocked)
		assert.Equal(t, 1, rec.LockoutCount)

		// nothing left to clear
		cleared, err = repo.ClearExpiredLock(ctx, "user@example.com", models.IdentifierTypeEmail,
			models.AttemptTypeStudentLogin, now)
		require.NoError(t, err)
		assert.False(t, cleared)
	})

	t.Run("ClearExpiredLock leaves active locks alone", func(t *testing.T) {
		reset(t)
		now := time.Now().UTC()

		_, err := repo.RecordFailure(ctx, "user@example.com", models.IdentifierTypeEmail,
			models.AttemptTypeStudentLogin, "", "", now, now.Add(-window))
		require.NoError(t, err)
		require.NoError(t, repo.Lock(ctx, "user@example.com", models.IdentifierTypeEmail,
			models.AttemptTypeStudentLogin, now.Add(30*time.Minute)))

		cleared, err := repo.ClearExpiredLock(ctx, "user@example.com", models.IdentifierTypeEmail,
			models.AttemptTypeStudentLogin, now)
		require.NoError(t, err)
		assert.False(t, cleared)
	})

	t.Run("Delete removes the row", func(t *testing.T) {
		reset(t)
		now := time.Now().UTC()

		_, err := repo.RecordFailure(ctx, "user@example.com", models.IdentifierTypeEmail,
			models.AttemptTypeStudentLogin, "", "", now, now.Add(-window))
		require.NoError(t, err)

		require.NoError(t, repo.Delete(ctx, "user@example.com", models.IdentifierTypeEmail, models.AttemptTypeStudentLogin))

		_, err = repo.Get(ctx, "user@example.com", models.IdentifierTypeEmail, models.AttemptTypeStudentLogin)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("Unlock clears all identifier types and is idempotent", func(t *testing.T) {
		reset(t)
		now := time.Now().UTC()

		for _, idType := range []models.IdentifierType{models.IdentifierTypeEmail, models.IdentifierTypeIP} {
			id := "user@example.com"
			if idType == models.IdentifierTypeIP {
				id = "203.0.113.9"
			}
			_, err := repo.RecordFailure(ctx, id, idType, models.AttemptTypeStudentLogin, "203.0.113.9", "", now, now.Add(-window))
			require.NoError(t, err)
			require.NoError(t, repo.Lock(ctx, id, idType, models.AttemptTypeStudentLogin, now.Add(30*time.Minute)))
		}

		existed, err := repo.Unlock(ctx, "user@example.com", models.AttemptTypeStudentLogin)
		require.NoError(t, err)
		assert.True(t, existed)

		rec, err := repo.Get(ctx, "user@example.com", models.IdentifierTypeEmail, models.AttemptTypeStudentLogin)
		require.NoError(t, err)
		assert.False(t, rec.IsLocked)
		assert.Equal(t, 0, rec.FailedAttempts)

		existed, err = repo.Unlock(ctx, "never-seen@example.com", models.AttemptTypeStudentLogin)
		require.NoError(t, err)
		assert.False(t, existed)
	})

	t.Run("CountLockedByIPSince spans identifier types", func(t *testing.T) {
		reset(t)
		now := time.Now().UTC()

		accounts := []struct {
			id     string
			idType models.IdentifierType
		}{
			{"a@example.com", models.IdentifierTypeEmail},
			{"b@example.com", models.IdentifierTypeEmail},
			{"203.0.113.9", models.IdentifierTypeIP},
		}
		for _, acct := range accounts {
			_, err := repo.RecordFailure(ctx, acct.id, acct.idType, models.AttemptTypeStudentLogin, "203.0.113.9", "", now, now.Add(-window))
			require.NoError(t, err)
			require.NoError(t, repo.Lock(ctx, acct.id, acct.idType, models.AttemptTypeStudentLogin, now.Add(30*time.Minute)))
		}

		// a locked row from a different address must not count
		_, err := repo.RecordFailure(ctx, "c@example.com", models.IdentifierTypeEmail, models.AttemptTypeStudentLogin, "198.51.100.1", "", now, now.Add(-window))
		require.NoError(t, err)
		require.NoError(t, repo.Lock(ctx, "c@example.com", models.IdentifierTypeEmail, models.AttemptTypeStudentLogin, now.Add(30*time.Minute)))

		count, err := repo.CountLockedByIPSince(ctx, "203.0.113.9", now.Add(-1*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("DeleteStale keeps locked rows and escalation history", func(t *testing.T) {
		reset(t)
		old := time.Now().UTC().Add(-48 * time.Hour)

		_, err := repo.RecordFailure(ctx, "stale@example.com", models.IdentifierTypeEmail,
			models.AttemptTypeStudentLogin, "", "", old, old.Add(-window))
		require.NoError(t, err)

		_, err = repo.RecordFailure(ctx, "locked@example.com", models.IdentifierTypeEmail,
			models.AttemptTypeStudentLogin, "", "", old, old.Add(-window))
		require.NoError(t, err)
		require.NoError(t, repo.Lock(ctx, "locked@example.com", models.IdentifierTypeEmail,
			models.AttemptTypeStudentLogin, time.Now().UTC().Add(30*time.Minute)))

		deleted, err := repo.DeleteStale(ctx, time.Now().UTC().Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		_, err = repo.Get(ctx, "stale@example.com", models.IdentifierTypeEmail, models.AttemptTypeStudentLogin)
		assert.ErrorIs(t, err, models.ErrNotFound)

		_, err = repo.Get(ctx, "locked@example.com", models.IdentifierTypeEmail, models.AttemptTypeStudentLogin)
		assert.NoError(t, err)
	})
}

func TestBlacklistRepository(t *testing.T) {
	ctx := context.Background()
	testDB, err := SetupTestDatabase(ctx)
	require.NoError(t, err)
	defer testDB.Teardown(ctx)

	repo := repositories.NewBlacklistRepository(testDB.DB)

	t.Run("Upsert and GetActive", func(t *testing.T) {
		require.NoError(t, testDB.TruncateAll(ctx))
		until := time.Now().UTC().Add(24 * time.Hour)

		require.NoError(t, repo.Upsert(ctx, "203.0.113.9", "too many lockouts", models.BlockTypeAutomatic, &until))

		entry, err := repo.GetActive(ctx, "203.0.113.9")
		require.NoError(t, err)
		assert.Equal(t, models.BlockTypeAutomatic, entry.BlockType)
		assert.True(t, entry.IsActive)
	})

	t.Run("Deactivate keeps the row", func(t *testing.T) {
		require.NoError(t, testDB.TruncateAll(ctx))
		require.NoError(t, repo.Upsert(ctx, "203.0.113.9", "abuse", models.BlockTypeManual, nil))

		existed, err := repo.Deactivate(ctx, "203.0.113.9")
		require.NoError(t, err)
		assert.True(t, existed)

		_, err = repo.GetActive(ctx, "203.0.113.9")
		assert.ErrorIs(t, err, models.ErrNotFound)

		// re-upserting the same address reactivates instead of conflicting
		require.NoError(t, repo.Upsert(ctx, "203.0.113.9", "again", models.BlockTypeManual, nil))
		entry, err := repo.GetActive(ctx, "203.0.113.9")
		require.NoError(t, err)
		assert.Equal(t, "again", entry.Reason)
	})

	t.Run("Deactivate unknown address", func(t *testing.T) {
		require.NoError(t, testDB.TruncateAll(ctx))

		existed, err := repo.Deactivate(ctx, "198.51.100.99")
		require.NoError(t, err)
		assert.False(t, existed)
	})
}
