package models

import "time"

// ConversationSession is one assistant conversation for an owner scope
// (user + board/filter context). Sessions use sliding expiry: every appended
// message pushes ExpiresAt forward.
type ConversationSession struct {
	ID           string    `gorm:"primaryKey;size:36"`
	OwnerScope   string    `gorm:"size:255;not null;index:idx_scope_expiry"`
	UserID       string    `gorm:"size:64;not null;index"`
	Board        string    `gorm:"size:64"`
	MessageCount int       `gorm:"default:0"`
	LastQuery    string    `gorm:"type:text"`
	ExpiresAt    time.Time `gorm:"not null;index:idx_scope_expiry"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Messages []ConversationMessage `gorm:"foreignKey:SessionID"`
}

// Expired reports whether the session has lapsed at t.
func (s *ConversationSession) Expired(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationMessage is a single append-only turn in a session.
type ConversationMessage struct {
	ID            string  `gorm:"primaryKey;size:26"` // ULID
	SessionID     string  `gorm:"size:36;not null;index:idx_session_seq"`
	Sequence      int     `gorm:"not null;index:idx_session_seq"`
	Role          string  `gorm:"size:16;not null"`
	Content       string  `gorm:"type:text;not null"`
	ReferencedIDs string  `gorm:"type:json"` // JSON array of applicant IDs, ordered
	IntentTag     *string `gorm:"size:16"`
	CreatedAt     time.Time
}
