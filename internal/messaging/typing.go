package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/versely/stanza/internal/models"
)

// DefaultQuietPeriod is how long after the last keystroke the signaler
// reports typing-stopped.
const DefaultQuietPeriod = 2 * time.Second

// Signaler tells one counterpart whether the local user is composing. It is
// a two-state machine: the first keystroke after idle upserts typing=true
// and arms the quiet timer, further keystrokes only re-arm the timer, and
// timer expiry (or Stop) upserts typing=false. Presence is advisory, so
// upsert failures are logged and swallowed.
//
// The timer handle is single-owner: every keystroke replaces it rather than
// stacking a new one, so a burst of typing never fires multiple stale
// typing-stopped writes.
type Signaler struct {
	store   Store
	log     *slog.Logger
	userID  string
	otherID string
	quiet   time.Duration

	mu     sync.Mutex
	typing bool
	timer  *time.Timer
}

type SignalerOption func(*Signaler)

func WithSignalerLog(log *slog.Logger) SignalerOption {
	return func(s *Signaler) { s.log = log }
}

func WithQuietPeriod(d time.Duration) SignalerOption {
	return func(s *Signaler) {
		if d > 0 {
			s.quiet = d
		}
	}
}

func NewSignaler(store Store, userID, otherID string, opts ...SignalerOption) *Signaler {
	s := &Signaler{
		store:   store,
		log:     slog.New(slog.DiscardHandler),
		userID:  userID,
		otherID: otherID,
		quiet:   DefaultQuietPeriod,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Keystroke records compose activity. Only the idle-to-typing transition
// writes to the store; keystrokes inside the quiet period just re-arm the
// timer.
func (s *Signaler) Keystroke(ctx context.Context) {
	s.mu.Lock()
	wasIdle := !s.typing
	s.typing = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.quiet, s.quietExpired)
	s.mu.Unlock()

	if wasIdle {
		s.write(ctx, true)
	}
}

func (s *Signaler) quietExpired() {
	s.mu.Lock()
	if !s.typing {
		s.mu.Unlock()
		return
	}
	s.typing = false
	s.mu.Unlock()

	s.write(context.Background(), false)
}

// Stop forces an immediate typing-to-idle transition, regardless of the
// timer. Used when a message is sent.
func (s *Signaler) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	wasTyping := s.typing
	s.typing = false
	s.mu.Unlock()

	if wasTyping {
		s.write(ctx, false)
	}
}

// Close releases the timer without writing. Used when the conversation
// screen is torn down.
func (s *Signaler) Close() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.typing = false
	s.mu.Unlock()
}

func (s *Signaler) write(ctx context.Context, isTyping bool) {
	sig := models.TypingSignal{
		UserID:      s.userID,
		OtherUserID: s.otherID,
		IsTyping:    isTyping,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.store.SetTyping(ctx, sig); err != nil {
		s.log.Warn("typing upsert failed", "is_typing", isTyping, "error", err)
	}
}
