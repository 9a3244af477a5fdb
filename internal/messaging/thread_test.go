package messaging

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/versely/stanza/internal/models"
)

func newTestThread(store *fakeStore, opts ...ThreadOption) *Thread {
	other := models.User{ID: "b", Username: "user-b"}
	return NewThread(store, "a", other, opts...)
}

func pendingCount(t *Thread) int {
	n := 0
	for _, m := range t.Messages() {
		if m.Pending() {
			n++
		}
	}
	return n
}

func TestOptimisticSendOrdering(t *testing.T) {
	store := newFakeStore()
	store.insertGates = map[string]chan struct{}{
		"hello": make(chan struct{}),
		"world": make(chan struct{}),
	}
	thread := newTestThread(store)

	errs := make(chan error, 2)
	go func() { errs <- thread.Send(context.Background(), "hello") }()

	// The optimistic echo appears before the insert completes.
	waitFor(t, "hello echo", func() bool { return len(thread.Messages()) == 1 })

	go func() { errs <- thread.Send(context.Background(), "world") }()
	waitFor(t, "world echo", func() bool { return len(thread.Messages()) == 2 })

	// Complete the inserts in reverse order.
	close(store.insertGates["world"])
	close(store.insertGates["hello"])
	for range 2 {
		if err := <-errs; err != nil {
			t.Fatalf("send failed: %v", err)
		}
	}

	msgs := thread.Messages()
	if msgs[0].Content != "hello" || msgs[1].Content != "world" {
		t.Fatalf("expected issue order hello, world; got %q, %q", msgs[0].Content, msgs[1].Content)
	}
}

func TestTempIDReplacement(t *testing.T) {
	store := newFakeStore()
	thread := newTestThread(store)

	if err := thread.Send(context.Background(), "  hello  "); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	msgs := thread.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one message, got %d", len(msgs))
	}
	if strings.HasPrefix(msgs[0].ID, models.TempIDPrefix) {
		t.Fatalf("temporary id %q survived a successful insert", msgs[0].ID)
	}
	if msgs[0].Content != "hello" {
		t.Fatalf("expected trimmed content, got %q", msgs[0].Content)
	}
	if msgs[0].Sender == nil || msgs[0].Sender.ID != "a" {
		t.Fatal("promotion must preserve the joined sender summary")
	}
}

func TestEmptySendRejected(t *testing.T) {
	store := newFakeStore()
	thread := newTestThread(store)

	for _, text := range []string{"", "   ", "\n\t"} {
		if err := thread.Send(context.Background(), text); !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("Send(%q): expected ErrEmptyMessage, got %v", text, err)
		}
	}
	if len(thread.Messages()) != 0 {
		t.Fatal("empty sends must not append an optimistic echo")
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.inserted) != 0 {
		t.Fatal("empty sends must not reach the store")
	}
}

func TestSendFailureKeepsDraftAndRetries(t *testing.T) {
	store := newFakeStore()
	store.insertErr = errors.New("insert rejected")
	thread := newTestThread(store)

	if err := thread.Send(context.Background(), "keep me"); err == nil {
		t.Fatal("expected send error")
	}

	failed := thread.FailedMessages()
	if len(failed) != 1 || failed[0].Content != "keep me" {
		t.Fatalf("expected one failed draft, got %+v", failed)
	}

	store.mu.Lock()
	store.insertErr = nil
	store.mu.Unlock()

	if err := thread.Retry(context.Background(), failed[0].ID); err != nil {
		t.Fatalf("retry failed: %v", err)
	}

	msgs := thread.Messages()
	if len(msgs) != 1 || msgs[0].Pending() || msgs[0].Failed {
		t.Fatalf("expected promoted message after retry, got %+v", msgs)
	}
}

func TestInsertWithoutEchoRefetches(t *testing.T) {
	store := newFakeStore()
	store.echoInsert = false
	thread := newTestThread(store)

	if err := thread.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	// The fallback refetch replaces the optimistic echo with store state.
	msgs := thread.Messages()
	if len(msgs) != 1 || msgs[0].ID != "srv-1" {
		t.Fatalf("expected refetched thread with srv-1, got %+v", msgs)
	}
}

func TestOpenMarksInboundReadOnce(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.thread = []models.Message{
		testMessage("m1", "b", "a", "unread one", base, false),
		testMessage("m2", "a", "b", "mine", base.Add(time.Minute), false),
		testMessage("m3", "b", "a", "unread two", base.Add(2*time.Minute), false),
	}
	thread := newTestThread(store)

	msgs, err := thread.Open(context.Background())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}

	calls := store.readCalls()
	if len(calls) != 1 || len(calls[0]) != 2 {
		t.Fatalf("expected one batch mark-read of 2 ids, got %+v", calls)
	}
	for _, m := range thread.Messages() {
		if m.Inbound("a") && !m.Read {
			t.Fatalf("inbound message %q still unread locally", m.ID)
		}
	}

	// Re-opening finds nothing unread; the read path is idempotent.
	if _, err := thread.Open(context.Background()); err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	if calls := store.readCalls(); len(calls) != 1 {
		t.Fatalf("expected no further mark-read calls, got %+v", calls)
	}
}

func TestFeedInsertAppendsAndMarksRead(t *testing.T) {
	store := newFakeStore()
	thread := newTestThread(store)

	ev := models.MessageEvent{
		Kind:    models.EventInsert,
		Message: models.Message{ID: "srv-9", SenderID: "b", ReceiverID: "a", Content: "incoming", CreatedAt: time.Now()},
	}
	if !thread.ApplyMessageEvent(context.Background(), ev) {
		t.Fatal("expected event to be applied")
	}

	msgs := thread.Messages()
	if len(msgs) != 1 || msgs[0].ID != "srv-9" {
		t.Fatalf("expected appended message srv-9, got %+v", msgs)
	}
	calls := store.readCalls()
	if len(calls) != 1 || len(calls[0]) != 1 || calls[0][0] != "srv-9" {
		t.Fatalf("expected single-id mark-read for srv-9, got %+v", calls)
	}
}

func TestFeedEventForOtherConversationIgnored(t *testing.T) {
	store := newFakeStore()
	thread := NewThread(store, "a", models.User{ID: "c", Username: "user-c"})

	// Traffic with b must not leak into the open thread with c.
	ev := models.MessageEvent{
		Kind:    models.EventInsert,
		Message: models.Message{ID: "srv-5", SenderID: "b", ReceiverID: "a", Content: "for b's thread"},
	}
	if thread.ApplyMessageEvent(context.Background(), ev) {
		t.Fatal("event naming another counterpart must be ignored")
	}
	if len(thread.Messages()) != 0 {
		t.Fatal("thread for c must stay empty")
	}
}

func TestFeedEchoPromotesPendingSend(t *testing.T) {
	store := newFakeStore()
	store.insertGates = map[string]chan struct{}{"hello": make(chan struct{})}
	thread := newTestThread(store)

	errs := make(chan error, 1)
	go func() { errs <- thread.Send(context.Background(), "hello") }()
	waitFor(t, "optimistic echo", func() bool { return pendingCount(thread) == 1 })

	// The feed delivers the persisted row before the insert response.
	ev := models.MessageEvent{
		Kind:    models.EventInsert,
		Message: models.Message{ID: "srv-77", SenderID: "a", ReceiverID: "b", Content: "hello", CreatedAt: time.Now()},
	}
	if !thread.ApplyMessageEvent(context.Background(), ev) {
		t.Fatal("expected feed echo to promote the pending send")
	}

	close(store.insertGates["hello"])
	if err := <-errs; err != nil {
		t.Fatalf("send failed: %v", err)
	}

	msgs := thread.Messages()
	if len(msgs) != 1 {
		t.Fatalf("feed echo plus insert response produced %d renderings, want 1", len(msgs))
	}
	if msgs[0].ID != "srv-77" {
		t.Fatalf("expected the feed-delivered id to win, got %q", msgs[0].ID)
	}
}

func TestDuplicateFeedDeliveryIgnored(t *testing.T) {
	store := newFakeStore()
	thread := newTestThread(store)

	if err := thread.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	id := thread.Messages()[0].ID

	ev := models.MessageEvent{
		Kind:    models.EventInsert,
		Message: models.Message{ID: id, SenderID: "a", ReceiverID: "b", Content: "hello"},
	}
	if thread.ApplyMessageEvent(context.Background(), ev) {
		t.Fatal("feed delivery of an already-known id must be ignored")
	}
	if len(thread.Messages()) != 1 {
		t.Fatal("duplicate delivery must not duplicate the rendering")
	}
}

func TestApplyTypingEvent(t *testing.T) {
	store := newFakeStore()
	thread := newTestThread(store)

	on := models.TypingEvent{
		Kind:   models.EventUpdate,
		Signal: models.TypingSignal{UserID: "b", OtherUserID: "a", IsTyping: true},
	}
	if !thread.ApplyTypingEvent(on) || !thread.OtherTyping() {
		t.Fatal("expected counterpart typing flag to turn on")
	}

	off := on
	off.Signal.IsTyping = false
	if !thread.ApplyTypingEvent(off) || thread.OtherTyping() {
		t.Fatal("expected counterpart typing flag to turn off")
	}

	// Signals for any other pair are ignored.
	foreign := models.TypingEvent{
		Kind:   models.EventUpdate,
		Signal: models.TypingSignal{UserID: "c", OtherUserID: "a", IsTyping: true},
	}
	if thread.ApplyTypingEvent(foreign) || thread.OtherTyping() {
		t.Fatal("typing signal from a different pair must be ignored")
	}
}
