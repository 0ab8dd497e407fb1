package models

import "time"

// IdentifierType distinguishes what kind of key an attempt record tracks.
type IdentifierType string

const (
	IdentifierTypeEmail IdentifierType = "email"
	IdentifierTypeIP    IdentifierType = "ip"
)

// AttemptType is the guarded action category. The set below covers the
// coop-store endpoints but the ledger accepts any non-empty tag.
type AttemptType string

const (
	AttemptTypeAdminLogin    AttemptType = "admin_login"
	AttemptTypeStudentLogin  AttemptType = "student_login"
	AttemptTypeOTPVerify     AttemptType = "otp_verify"
	AttemptTypePasswordReset AttemptType = "password_reset"
)

// AttemptRecord is one row of the attempt ledger, keyed by
// (identifier, identifier_type, attempt_type).
type AttemptRecord struct {
	ID             string         `db:"id"`
	Identifier     string         `db:"identifier"`
	IdentifierType IdentifierType `db:"identifier_type"`
	AttemptType    AttemptType    `db:"attempt_type"`
	FailedAttempts int            `db:"failed_attempts"`
	FirstAttemptAt time.Time      `db:"first_attempt_at"`
	LastAttemptAt  time.Time      `db:"last_attempt_at"`
	IsLocked       bool           `db:"is_locked"`
	LockedUntil    *time.Time     `db:"locked_until"`
	LockoutCount   int            `db:"lockout_count"`
	IPAddress      string         `db:"ip_address"`
	UserAgent      string         `db:"user_agent"`
}

// LockedNow reports whether the record's lock is still in force at now.
// A lock with no expiry or a past expiry is treated as expired; the
// guard clears those lazily.
func (a *AttemptRecord) LockedNow(now time.Time) bool {
	return a.IsLocked && a.LockedUntil != nil && a.LockedUntil.After(now)
}

// AccountStatus is the read-only view served to the admin dashboard.
type AccountStatus struct {
	Identifier        string     `json:"identifier"`
	AttemptType       AttemptType `json:"attempt_type"`
	IsLocked          bool       `json:"is_locked"`
	FailedAttempts    int        `json:"failed_attempts"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
	LockoutCount      int        `json:"lockout_count"`
	RequiresCaptcha   bool       `json:"requires_captcha"`
	RemainingAttempts int        `json:"remaining_attempts"`
}

// FailedAttemptResult is returned to the login handler so it can craft a
// user-facing message without learning which ledger triggered the lock.
type FailedAttemptResult struct {
	Locked      bool       `json:"locked"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	Remaining   int        `json:"remaining"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}
