package models

import (
	"strings"
	"time"
)

// TempIDPrefix marks optimistic messages that have not been persisted yet.
// The store never sees these ids; they are replaced by the server-assigned
// id once the insert is acknowledged.
const TempIDPrefix = "temp-"

// User is a participant summary joined from the users table.
type User struct {
	ID        string
	Username  string
	AvatarURL string
}

func (u User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return u.ID
}

type Message struct {
	ID         string
	SenderID   string
	ReceiverID string
	Content    string
	CreatedAt  time.Time
	Read       bool

	// Joined participant summaries; nil when the row was fetched or
	// delivered without join data.
	Sender   *User
	Receiver *User

	// Local-only send state, never persisted.
	Failed bool
}

// Pending reports whether the message is an optimistic local echo that the
// store has not acknowledged yet.
func (m Message) Pending() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// Inbound reports whether userID is the receiver of the message.
func (m Message) Inbound(userID string) bool {
	return m.ReceiverID == userID
}

// Counterpart returns the participant who is not userID, or nil when the
// join data needed to resolve them is missing.
func (m Message) Counterpart(userID string) *User {
	if m.SenderID == userID {
		return m.Receiver
	}
	return m.Sender
}

// Conversation is a derived view: the newest message exchanged with one
// counterpart. It is recomputed from a message page, never stored.
type Conversation struct {
	Other       User
	LastMessage Message
	Unread      bool
}

// TypingSignal is one row of the typing_status table, keyed by the
// (signaling user, observed user) pair.
type TypingSignal struct {
	UserID      string
	OtherUserID string
	IsTyping    bool
	UpdatedAt   time.Time
}

// EventKind is a change-feed event type, matching the wire spelling.
type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventUpdate EventKind = "UPDATE"
	EventDelete EventKind = "DELETE"
)

// MessageEvent is a change-feed event on the messages table.
type MessageEvent struct {
	Kind    EventKind
	Message Message
}

// TypingEvent is a change-feed event on the typing_status table.
type TypingEvent struct {
	Kind   EventKind
	Signal TypingSignal
}
