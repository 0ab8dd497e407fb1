package services

import (
	"context"
	"time"

	"github.com/coopqueue/guard/internal/config"
)

// LockoutPolicy is the pure decision layer: thresholds in, verdicts
// out. It performs no I/O; the guard service applies its decisions.
type LockoutPolicy struct {
	cfg config.GuardConfig
}

// NewLockoutPolicy creates a new LockoutPolicy
func NewLockoutPolicy(cfg config.GuardConfig) *LockoutPolicy {
	return &LockoutPolicy{cfg: cfg}
}

// ShouldLock reports whether the attempt count has reached the lock
// threshold. Thresholds are inclusive.
func (p *LockoutPolicy) ShouldLock(failedAttempts int) bool {
	return failedAttempts >= p.cfg.MaxLoginAttempts
}

// LockoutDuration returns the lock length for an identifier with the
// given lockout history. Repeat offenders get the extended tier.
func (p *LockoutPolicy) LockoutDuration(lockoutCount int) time.Duration {
	if lockoutCount >= p.cfg.LockoutThresholdForExtended {
		return p.cfg.ExtendedLockoutDuration
	}
	return p.cfg.LockoutDuration
}

// RequiresCaptcha reports whether the attempt count has crossed the
// CAPTCHA tier. Zero attempts never require a challenge.
func (p *LockoutPolicy) RequiresCaptcha(failedAttempts int) bool {
	return failedAttempts > 0 && failedAttempts >= p.cfg.CaptchaThreshold
}

// RemainingAttempts returns how many failures are left before a lock,
// floored at zero.
func (p *LockoutPolicy) RemainingAttempts(failedAttempts int) int {
	remaining := p.cfg.MaxLoginAttempts - failedAttempts
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ProgressiveDelay computes the exponential backoff pause for a failed
// attempt: base * 2^(attempts-1), capped. Zero attempts never delay.
func (p *LockoutPolicy) ProgressiveDelay(failedAttempts int) time.Duration {
	if !p.cfg.EnableProgressiveDelay || failedAttempts <= 0 {
		return 0
	}

	delay := p.cfg.ProgressiveDelayBase
	for i := 1; i < failedAttempts; i++ {
		delay *= 2
		if delay >= p.cfg.ProgressiveDelayMax {
			return p.cfg.ProgressiveDelayMax
		}
	}
	if delay > p.cfg.ProgressiveDelayMax {
		return p.cfg.ProgressiveDelayMax
	}
	return delay
}

// Delay blocks for the progressive delay or until ctx is cancelled.
// A timer instead of time.Sleep keeps the pause cancellable, so hosts
// that cannot block a request thread can abandon it cleanly.
func (p *LockoutPolicy) Delay(ctx context.Context, failedAttempts int) error {
	d := p.ProgressiveDelay(failedAttempts)
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
