// ABOUTME: Store data types and errors for intake-gateway persistence
// ABOUTME: Defines Conversation, Message, Profile and the sentinel errors callers match on

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrAccessDenied is returned when a user touches a conversation they do not own.
// It is fatal for that request only; the conversation itself is unaffected.
var ErrAccessDenied = errors.New("access denied")

// Sender constants for messages
const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// Conversation represents one ongoing exchange between a user and the agent pipeline
type Conversation struct {
	ID        string
	UserID    string
	Topic     string
	StartedAt time.Time
	EndedAt   *time.Time
}

// Message represents a single message within a conversation
type Message struct {
	ID             string
	ConversationID string
	Sender         string // "user" or "bot"
	Content        string
	CreatedAt      time.Time
}

// Profile holds the demographic fields the report pipeline feeds to the
// diagnostic agent. All fields except DisplayName may be empty.
type Profile struct {
	UserID      string
	DisplayName string
	Gender      string
	DateOfBirth *time.Time
	Address     string
	City        string
	Province    string
}

// Age returns the profile's age in whole years at the given date, or -1
// when no date of birth is recorded.
func (p *Profile) Age(now time.Time) int {
	if p.DateOfBirth == nil {
		return -1
	}
	dob := *p.DateOfBirth
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}

// FullAddress combines street address and city for geocoding.
func (p *Profile) FullAddress() string {
	switch {
	case p.Address != "" && p.City != "":
		return p.Address + ", " + p.City
	case p.Address != "":
		return p.Address
	default:
		return p.City
	}
}
