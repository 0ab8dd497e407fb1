package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/coopqueue/guard/internal/repositories"
)

// CleanupManager periodically removes stale guard records: resolved
// attempt rows, expired captcha challenges, lapsed IP blocks and
// security log entries past the retention window.
type CleanupManager struct {
	attemptRepo   *repositories.AttemptRepository
	captchaRepo   *repositories.CaptchaRepository
	blacklistRepo *repositories.BlacklistRepository
	logRepo       *repositories.SecurityLogRepository
	logger        *slog.Logger
	interval      time.Duration
	staleAfter    time.Duration
	retentionDays int
	stopCh        chan struct{}
	now           func() time.Time
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	attemptRepo *repositories.AttemptRepository,
	captchaRepo *repositories.CaptchaRepository,
	blacklistRepo *repositories.BlacklistRepository,
	logRepo *repositories.SecurityLogRepository,
	logger *slog.Logger,
	interval time.Duration,
	staleAfter time.Duration,
	retentionDays int,
) *CleanupManager {
	return &CleanupManager{
		attemptRepo:   attemptRepo,
		captchaRepo:   captchaRepo,
		blacklistRepo: blacklistRepo,
		logRepo:       logRepo,
		logger:        logger,
		interval:      interval,
		staleAfter:    staleAfter,
		retentionDays: retentionDays,
		stopCh:        make(chan struct{}),
		now:           time.Now,
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup sweeps each table once
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cm.logger.Info("starting guard record cleanup")

	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := cm.now()

	staleAttempts, err := cm.attemptRepo.DeleteStale(cleanupCtx, now.Add(-cm.staleAfter))
	if err != nil {
		cm.logger.Error("failed to delete stale attempt records", slog.Any("error", err))
	}

	expiredChallenges, err := cm.captchaRepo.DeleteExpired(cleanupCtx, now)
	if err != nil {
		cm.logger.Error("failed to delete expired captcha challenges", slog.Any("error", err))
	}

	lapsedBlocks, err := cm.blacklistRepo.DeactivateExpired(cleanupCtx, now)
	if err != nil {
		cm.logger.Error("failed to deactivate lapsed IP blocks", slog.Any("error", err))
	}

	var prunedLogs int64
	if cm.retentionDays > 0 {
		prunedLogs, err = cm.logRepo.Cleanup(cleanupCtx, cm.retentionDays)
		if err != nil {
			cm.logger.Error("failed to prune security logs", slog.Any("error", err))
		}
	}

	if staleAttempts > 0 || expiredChallenges > 0 || lapsedBlocks > 0 || prunedLogs > 0 {
		cm.logger.Info("guard record cleanup completed",
			slog.Int64("stale_attempts", staleAttempts),
			slog.Int64("expired_challenges", expiredChallenges),
			slog.Int64("lapsed_blocks", lapsedBlocks),
			slog.Int64("pruned_logs", prunedLogs),
		)
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
