package messaging

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/versely/stanza/internal/models"
)

// fakeStore is an in-memory Store with controllable failures and insert
// gating, so tests can interleave completions deterministically.
type fakeStore struct {
	mu sync.Mutex

	recent    []models.Message
	recentErr error
	thread    []models.Message
	threadErr error

	insertErr   error
	insertGates map[string]chan struct{}
	echoInsert  bool
	nextID      int

	inserted      []models.Message
	markReadCalls [][]string
	typingWrites  []models.TypingSignal
}

func newFakeStore() *fakeStore {
	return &fakeStore{echoInsert: true}
}

func (s *fakeStore) RecentMessages(ctx context.Context, userID string, limit, offset int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recentErr != nil {
		return nil, s.recentErr
	}
	out := make([]models.Message, len(s.recent))
	copy(out, s.recent)
	return out, nil
}

func (s *fakeStore) ThreadMessages(ctx context.Context, userID, otherID string, limit, offset int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threadErr != nil {
		return nil, s.threadErr
	}
	out := make([]models.Message, len(s.thread))
	copy(out, s.thread)
	return out, nil
}

func (s *fakeStore) InsertMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	s.mu.Lock()
	gate := s.insertGates[msg.Content]
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return models.Message{}, s.insertErr
	}
	s.nextID++
	stored := msg
	stored.ID = fmt.Sprintf("srv-%d", s.nextID)
	stored.Sender = nil
	stored.Receiver = nil
	s.inserted = append(s.inserted, stored)
	s.thread = append(s.thread, stored)
	if !s.echoInsert {
		return models.Message{}, nil
	}
	return stored, nil
}

func (s *fakeStore) MarkRead(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markReadCalls = append(s.markReadCalls, append([]string(nil), ids...))
	idset := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idset[id] = struct{}{}
	}
	for i := range s.thread {
		if _, ok := idset[s.thread[i].ID]; ok {
			s.thread[i].Read = true
		}
	}
	for i := range s.recent {
		if _, ok := idset[s.recent[i].ID]; ok {
			s.recent[i].Read = true
		}
	}
	return nil
}

func (s *fakeStore) SetTyping(ctx context.Context, sig models.TypingSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typingWrites = append(s.typingWrites, sig)
	return nil
}

func (s *fakeStore) typingWritten() []models.TypingSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TypingSignal, len(s.typingWrites))
	copy(out, s.typingWrites)
	return out
}

func (s *fakeStore) readCalls() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.markReadCalls))
	copy(out, s.markReadCalls)
	return out
}

// testMessage builds a persisted message with joined participant summaries.
func testMessage(id, senderID, receiverID, content string, at time.Time, read bool) models.Message {
	return models.Message{
		ID:         id,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  at,
		Read:       read,
		Sender:     &models.User{ID: senderID, Username: "user-" + senderID},
		Receiver:   &models.User{ID: receiverID, Username: "user-" + receiverID},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
