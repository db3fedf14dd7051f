package domain

import "time"

// Turn roles. Only these two appear in persisted history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single conversation message, immutable once written.
type Turn struct {
	Role      string
	Text      string
	Timestamp time.Time
}

// ConversationRecord is the per-user message log kept in the store.
type ConversationRecord struct {
	Turns        []Turn
	LastActivity time.Time
}

// ExpiredAt reports whether the record is logically expired and must be
// treated as absent, regardless of what is physically stored.
func (r ConversationRecord) ExpiredAt(now time.Time, horizon time.Duration) bool {
	if r.LastActivity.IsZero() {
		return true
	}
	return now.Sub(r.LastActivity) > horizon
}
