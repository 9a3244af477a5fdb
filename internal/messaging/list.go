package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/versely/stanza/internal/models"
)

// DefaultListPageSize bounds the message page the conversation list is
// aggregated from.
const DefaultListPageSize = 50

// ConversationList maintains the ordered conversation view for one user.
// A failed refresh never clears an already-built list.
type ConversationList struct {
	store    Store
	cache    Cache
	log      *slog.Logger
	userID   string
	pageSize int

	mu     sync.Mutex
	convos []models.Conversation
	loaded bool
}

type ListOption func(*ConversationList)

// WithListCache attaches a local snapshot used as a fallback when the first
// refresh fails, and updated best-effort after successful refreshes.
func WithListCache(c Cache) ListOption {
	return func(l *ConversationList) { l.cache = c }
}

func WithListLog(log *slog.Logger) ListOption {
	return func(l *ConversationList) { l.log = log }
}

func WithListPageSize(n int) ListOption {
	return func(l *ConversationList) {
		if n > 0 {
			l.pageSize = n
		}
	}
}

func NewConversationList(store Store, userID string, opts ...ListOption) *ConversationList {
	l := &ConversationList{
		store:    store,
		log:      slog.New(slog.DiscardHandler),
		userID:   userID,
		pageSize: DefaultListPageSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Refresh re-fetches the newest message page and rebuilds the list. On
// fetch failure the previous list is returned alongside the error so the
// caller can keep rendering it; if nothing was ever loaded, the local
// snapshot is tried before giving up.
func (l *ConversationList) Refresh(ctx context.Context) ([]models.Conversation, error) {
	msgs, err := l.store.RecentMessages(ctx, l.userID, l.pageSize, 0)
	if err != nil {
		return l.fallback(err)
	}

	convos := Aggregate(l.userID, msgs)

	l.mu.Lock()
	l.convos = convos
	l.loaded = true
	l.mu.Unlock()

	if l.cache != nil {
		if cerr := l.cache.SaveMessages(msgs); cerr != nil {
			l.log.Warn("conversation snapshot save failed", "error", cerr)
		}
	}

	return l.Conversations(), nil
}

func (l *ConversationList) fallback(cause error) ([]models.Conversation, error) {
	err := fmt.Errorf("refresh conversations: %w", cause)

	l.mu.Lock()
	loaded := l.loaded
	l.mu.Unlock()

	if !loaded && l.cache != nil {
		cached, cerr := l.cache.RecentMessages(l.userID, l.pageSize)
		if cerr != nil {
			l.log.Warn("conversation snapshot load failed", "error", cerr)
		} else if len(cached) > 0 {
			convos := Aggregate(l.userID, cached)
			l.mu.Lock()
			l.convos = convos
			l.mu.Unlock()
			return convos, err
		}
	}

	return l.Conversations(), err
}

// Conversations returns the last successfully built list.
func (l *ConversationList) Conversations() []models.Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Conversation, len(l.convos))
	copy(out, l.convos)
	return out
}
