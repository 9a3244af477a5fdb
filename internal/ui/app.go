// Package ui contains the terminal screens. Each screen is a bubbletea
// model; screen changes return the next screen's model from Update.
package ui

import (
	"context"
	"log/slog"
	"time"

	"github.com/versely/stanza/internal/messaging"
	"github.com/versely/stanza/internal/models"
)

// UserSearcher is the subset of the row store the new-message screen needs.
type UserSearcher interface {
	SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error)
}

// App carries the signed-in user and the shared dependencies every screen
// needs. Screens hold a pointer to it and never copy it.
type App struct {
	UserID   string
	Username string

	Store messaging.Store
	List  *messaging.ConversationList
	Users UserSearcher
	Log   *slog.Logger

	ThreadPageSize int
	TypingQuiet    time.Duration
}

// MessageEventMsg delivers a change-feed message event into the running
// program via Program.Send.
type MessageEventMsg models.MessageEvent

// TypingEventMsg delivers a change-feed typing event into the running
// program via Program.Send.
type TypingEventMsg models.TypingEvent
