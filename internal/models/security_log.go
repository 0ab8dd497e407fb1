package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Event types for the security log. Closed set; callers pick explicitly.
type EventType string

const (
	EventLoginSuccess           EventType = "login_success"
	EventLoginFailed            EventType = "login_failed"
	EventAccountLocked          EventType = "account_locked"
	EventAccountUnlocked        EventType = "account_unlocked"
	EventIPBlocked              EventType = "ip_blocked"
	EventIPUnblocked            EventType = "ip_unblocked"
	EventPasswordChanged        EventType = "password_changed"
	EventPasswordResetRequested EventType = "password_reset_requested"
	EventOTPFailed              EventType = "otp_failed"
	EventOTPSuccess             EventType = "otp_success"
	EventSuspiciousActivity     EventType = "suspicious_activity"
	EventCaptchaFailed          EventType = "captcha_failed"
	EventCaptchaSuccess         EventType = "captcha_success"
)

// Severity orders security events for the minimum-severity filter.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank maps severities to a comparable order. Unknown values rank lowest
// so a typo in configuration never silently suppresses critical events.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 0
	default:
		return -1
	}
}

// UserType tags who the event concerns.
type UserType string

const (
	UserTypeAdmin   UserType = "admin"
	UserTypeStudent UserType = "student"
	UserTypeGuest   UserType = "guest"
	UserTypeSystem  UserType = "system"
)

// SecurityLogEntry is one append-only row of the security event log.
type SecurityLogEntry struct {
	ID             string      `db:"id"`
	EventType      EventType   `db:"event_type"`
	Severity       Severity    `db:"severity"`
	UserType       UserType    `db:"user_type"`
	UserIdentifier string      `db:"user_identifier"`
	IPAddress      string      `db:"ip_address"`
	UserAgent      string      `db:"user_agent"`
	Description    string      `db:"description"`
	Metadata       EventMetadata `db:"metadata"`
	CreatedAt      time.Time   `db:"created_at"`
}

// EventMetadata holds additional structured context for an event.
type EventMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (m *EventMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = make(EventMetadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(bytes, &parsed); err != nil {
		return err
	}
	*m = EventMetadata(parsed)
	return nil
}

// Value implements driver.Valuer for JSONB
func (m EventMetadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
