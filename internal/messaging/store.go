// Package messaging keeps a local, live view of one-to-one conversations:
// a paginated history fetch merged with change-feed events, optimistic echo
// of sent messages, read-state reconciliation, and a debounced
// typing-presence signal.
package messaging

import (
	"context"

	"github.com/versely/stanza/internal/models"
)

// Store is the row-store capability the synchronizer depends on. It is
// injected so the package can be driven by a fake in tests; the production
// implementation lives in internal/store.
type Store interface {
	// RecentMessages returns a page of the user's messages ordered
	// newest-first, with participant summaries joined where available.
	RecentMessages(ctx context.Context, userID string, limit, offset int) ([]models.Message, error)

	// ThreadMessages returns a page of messages between the two users
	// ordered oldest-first.
	ThreadMessages(ctx context.Context, userID, otherID string, limit, offset int) ([]models.Message, error)

	// InsertMessage persists a message and returns the stored row with its
	// server-assigned id. A zero-id result means the store did not echo the
	// inserted row.
	InsertMessage(ctx context.Context, msg models.Message) (models.Message, error)

	// MarkRead sets read=true for the given message ids. Implementations
	// must be idempotent.
	MarkRead(ctx context.Context, ids []string) error

	// SetTyping upserts the typing row keyed by (UserID, OtherUserID).
	SetTyping(ctx context.Context, sig models.TypingSignal) error
}

// Cache is an optional local snapshot of the most recent message page, used
// so the conversation list has something to show when the first refresh
// fails offline.
type Cache interface {
	SaveMessages(msgs []models.Message) error
	RecentMessages(userID string, limit int) ([]models.Message, error)
}
