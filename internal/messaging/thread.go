package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/versely/stanza/internal/models"
)

// DefaultThreadPageSize bounds how much history Open loads.
const DefaultThreadPageSize = 200

// ErrEmptyMessage is returned by Send for empty or whitespace-only text.
var ErrEmptyMessage = errors.New("messaging: empty message")

// Thread is the controller for one open conversation. It owns the ordered
// in-memory message list between the local user and one counterpart and
// reconciles three producers into it: the initial history fetch, optimistic
// sends, and change-feed inserts.
//
// Append order is presentation order. Strict timestamp ordering across the
// optimistic and feed paths is not guaranteed, but the local user's own
// sends always appear in the order they were issued.
type Thread struct {
	store    Store
	log      *slog.Logger
	userID   string
	other    models.User
	pageSize int
	typing   *Signaler

	now    func() time.Time
	tempID func() string

	mu          sync.Mutex
	msgs        []models.Message
	seen        map[string]struct{}
	otherTyping bool
}

type ThreadOption func(*Thread)

// WithTyping couples a presence signaler to the thread so sending a message
// forces an immediate typing-stopped transition.
func WithTyping(s *Signaler) ThreadOption {
	return func(t *Thread) { t.typing = s }
}

func WithThreadLog(log *slog.Logger) ThreadOption {
	return func(t *Thread) { t.log = log }
}

func WithThreadPageSize(n int) ThreadOption {
	return func(t *Thread) {
		if n > 0 {
			t.pageSize = n
		}
	}
}

func NewThread(store Store, userID string, other models.User, opts ...ThreadOption) *Thread {
	t := &Thread{
		store:    store,
		log:      slog.New(slog.DiscardHandler),
		userID:   userID,
		other:    other,
		pageSize: DefaultThreadPageSize,
		now:      func() time.Time { return time.Now().UTC() },
		tempID:   newTempID,
		seen:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func newTempID() string {
	return models.TempIDPrefix + ulid.Make().String()
}

func (t *Thread) Other() models.User { return t.other }

// Messages returns a snapshot of the thread in presentation order.
func (t *Thread) Messages() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// OtherTyping reports whether the counterpart is currently composing,
// according to the last observed typing event for this pair.
func (t *Thread) OtherTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.otherTyping
}

// Open loads the thread history oldest-first, replacing any previous state,
// and best-effort marks unread inbound messages as read. Mark-read failures
// are logged, never surfaced, and never gate the returned history.
func (t *Thread) Open(ctx context.Context) ([]models.Message, error) {
	msgs, err := t.store.ThreadMessages(ctx, t.userID, t.other.ID, t.pageSize, 0)
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}

	t.mu.Lock()
	t.msgs = msgs
	t.seen = make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		t.seen[m.ID] = struct{}{}
	}
	t.mu.Unlock()

	t.markInboundRead(ctx, msgs)
	return t.Messages(), nil
}

// Send appends an optimistic local echo, signals typing-stopped, and
// persists the message. On success the temporary-id echo is replaced in
// place by the stored row; if the store does not echo the row, the thread
// is refetched. On failure the echo is kept and marked Failed so the user
// can retry without losing the draft.
func (t *Thread) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	msg := models.Message{
		ID:         t.tempID(),
		SenderID:   t.userID,
		ReceiverID: t.other.ID,
		Content:    text,
		CreatedAt:  t.now(),
		Sender:     &models.User{ID: t.userID},
		Receiver:   &t.other,
	}

	t.mu.Lock()
	t.msgs = append(t.msgs, msg)
	t.mu.Unlock()

	if t.typing != nil {
		t.typing.Stop(ctx)
	}

	return t.insert(ctx, msg)
}

// Retry re-runs the insert for a failed optimistic message.
func (t *Thread) Retry(ctx context.Context, tempID string) error {
	t.mu.Lock()
	var msg models.Message
	found := false
	for i := range t.msgs {
		if t.msgs[i].ID == tempID && t.msgs[i].Failed {
			t.msgs[i].Failed = false
			msg = t.msgs[i]
			found = true
			break
		}
	}
	t.mu.Unlock()

	if !found {
		return fmt.Errorf("messaging: no failed message %q", tempID)
	}
	return t.insert(ctx, msg)
}

// FailedMessages returns the optimistic messages whose insert failed, in
// presentation order.
func (t *Thread) FailedMessages() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []models.Message
	for _, m := range t.msgs {
		if m.Failed {
			out = append(out, m)
		}
	}
	return out
}

func (t *Thread) insert(ctx context.Context, msg models.Message) error {
	stored, err := t.store.InsertMessage(ctx, msg)
	if err != nil {
		t.setFailed(msg.ID)
		return fmt.Errorf("send message: %w", err)
	}

	if stored.ID == "" {
		// Store did not echo the inserted row; fall back to a refetch.
		_, err := t.Open(ctx)
		return err
	}

	t.promote(msg.ID, stored)
	return nil
}

func (t *Thread) setFailed(tempID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.msgs {
		if t.msgs[i].ID == tempID {
			t.msgs[i].Failed = true
			return
		}
	}
}

// promote replaces the temporary-id echo with the stored row, preserving
// its position and any joined participant summaries the store omitted.
func (t *Thread) promote(tempID string, stored models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, dup := t.seen[stored.ID]; dup {
		// The feed delivered this row before the insert response and the
		// echo was already promoted; drop the leftover temp copy if any.
		t.removeLocked(tempID)
		return
	}

	for i := range t.msgs {
		if t.msgs[i].ID == tempID {
			if stored.Sender == nil {
				stored.Sender = t.msgs[i].Sender
			}
			if stored.Receiver == nil {
				stored.Receiver = t.msgs[i].Receiver
			}
			t.msgs[i] = stored
			t.seen[stored.ID] = struct{}{}
			return
		}
	}

	// Temp echo is gone (a refetch replaced the state); just record the id.
	t.seen[stored.ID] = struct{}{}
}

func (t *Thread) removeLocked(id string) {
	for i := range t.msgs {
		if t.msgs[i].ID == id {
			t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
			return
		}
	}
}

// ApplyMessageEvent folds a change-feed event into the thread. Only inserts
// naming the open counterpart are appended; everything else is ignored,
// which is also the cancellation boundary when the user has switched
// conversations. Returns true when the thread content changed.
//
// Duplicate delivery is suppressed by server id, and a feed echo of a
// still-pending own send promotes the optimistic copy in place instead of
// appending a second rendering of it.
func (t *Thread) ApplyMessageEvent(ctx context.Context, ev models.MessageEvent) bool {
	if ev.Kind != models.EventInsert {
		return false
	}
	msg := ev.Message
	if msg.SenderID != t.other.ID && msg.ReceiverID != t.other.ID {
		return false
	}

	t.mu.Lock()
	if _, dup := t.seen[msg.ID]; dup {
		t.mu.Unlock()
		return false
	}

	if msg.SenderID == t.userID {
		for i := range t.msgs {
			if t.msgs[i].Pending() && !t.msgs[i].Failed && t.msgs[i].Content == msg.Content {
				if msg.Sender == nil {
					msg.Sender = t.msgs[i].Sender
				}
				if msg.Receiver == nil {
					msg.Receiver = t.msgs[i].Receiver
				}
				t.msgs[i] = msg
				t.seen[msg.ID] = struct{}{}
				t.mu.Unlock()
				return true
			}
		}
	}

	if msg.Sender == nil {
		msg.Sender = &models.User{ID: msg.SenderID}
	}
	t.msgs = append(t.msgs, msg)
	t.seen[msg.ID] = struct{}{}
	t.mu.Unlock()

	if msg.Inbound(t.userID) {
		t.markInboundRead(ctx, []models.Message{msg})
	}
	return true
}

// ApplyTypingEvent updates the counterpart-is-typing flag. Events for any
// pair other than (open counterpart signaling, local user observed) are
// ignored. Returns true when the event was for this pair.
func (t *Thread) ApplyTypingEvent(ev models.TypingEvent) bool {
	sig := ev.Signal
	if sig.UserID != t.other.ID || sig.OtherUserID != t.userID {
		return false
	}

	t.mu.Lock()
	t.otherTyping = sig.IsTyping && ev.Kind != models.EventDelete
	t.mu.Unlock()
	return true
}

// markInboundRead issues a best-effort batch mark-as-read for the unread
// inbound messages in msgs and flips the local copies on success.
func (t *Thread) markInboundRead(ctx context.Context, msgs []models.Message) {
	var ids []string
	for _, m := range msgs {
		if m.Inbound(t.userID) && !m.Read {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return
	}

	if err := t.store.MarkRead(ctx, ids); err != nil {
		t.log.Warn("mark read failed", "count", len(ids), "error", err)
		return
	}

	idset := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idset[id] = struct{}{}
	}

	t.mu.Lock()
	for i := range t.msgs {
		if _, ok := idset[t.msgs[i].ID]; ok {
			t.msgs[i].Read = true
		}
	}
	t.mu.Unlock()
}
