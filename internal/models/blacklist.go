package models

import "time"

// BlockType records how a blacklist entry came to exist.
type BlockType string

const (
	BlockTypeAutomatic BlockType = "automatic"
	BlockTypeManual    BlockType = "manual"
)

// IPBlacklistEntry is one row of the IP reputation store, unique per IP.
// Entries are deactivated on unblock, never deleted.
type IPBlacklistEntry struct {
	ID           string     `db:"id"`
	IPAddress    string     `db:"ip_address"`
	Reason       string     `db:"reason"`
	BlockType    BlockType  `db:"block_type"`
	BlockedUntil *time.Time `db:"blocked_until"` // nil means permanent
	IsActive     bool       `db:"is_active"`
	CreatedAt    time.Time  `db:"created_at"`
}

// BlockedNow reports whether the entry blocks traffic at now.
func (e *IPBlacklistEntry) BlockedNow(now time.Time) bool {
	if !e.IsActive {
		return false
	}
	return e.BlockedUntil == nil || e.BlockedUntil.After(now)
}
