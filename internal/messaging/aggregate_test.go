package messaging

import (
	"testing"
	"time"

	"github.com/versely/stanza/internal/models"
)

func TestAggregateGroupsByCounterpart(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Interleaved traffic between A and three counterparts.
	page := []models.Message{
		testMessage("m6", "d", "a", "newest from D", base.Add(6*time.Minute), false),
		testMessage("m5", "a", "b", "newest to B", base.Add(5*time.Minute), false),
		testMessage("m4", "c", "a", "newest from C", base.Add(4*time.Minute), true),
		testMessage("m3", "b", "a", "older from B", base.Add(3*time.Minute), true),
		testMessage("m2", "a", "c", "older to C", base.Add(2*time.Minute), true),
		testMessage("m1", "a", "d", "older to D", base.Add(1*time.Minute), true),
	}

	convos := Aggregate("a", page)
	if len(convos) != 3 {
		t.Fatalf("expected 3 conversations, got %d", len(convos))
	}

	wantOrder := []string{"d", "b", "c"}
	wantLast := []string{"m6", "m5", "m4"}
	for i, convo := range convos {
		if convo.Other.ID != wantOrder[i] {
			t.Errorf("conversation %d: expected counterpart %q, got %q", i, wantOrder[i], convo.Other.ID)
		}
		if convo.LastMessage.ID != wantLast[i] {
			t.Errorf("conversation %d: expected last message %q, got %q", i, wantLast[i], convo.LastMessage.ID)
		}
	}
}

func TestAggregateUnreadFlag(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	inbound := testMessage("m1", "b", "a", "hi", base, false)
	convos := Aggregate("a", []models.Message{inbound})
	if len(convos) != 1 || !convos[0].Unread {
		t.Fatalf("expected one unread conversation, got %+v", convos)
	}

	inbound.Read = true
	convos = Aggregate("a", []models.Message{inbound})
	if convos[0].Unread {
		t.Fatal("expected unread flag to clear after the message is read")
	}

	// An unread *outbound* newest message never marks the conversation.
	outbound := testMessage("m2", "a", "b", "hello", base.Add(time.Minute), false)
	convos = Aggregate("a", []models.Message{outbound, inbound})
	if convos[0].Unread {
		t.Fatal("outbound newest message must not mark the conversation unread")
	}
}

func TestAggregateDropsUnresolvedCounterpart(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	broken := testMessage("m1", "a", "b", "hello", base, true)
	broken.Receiver = nil // counterpart join missing

	convos := Aggregate("a", []models.Message{
		broken,
		testMessage("m2", "c", "a", "hi", base.Add(time.Minute), true),
	})
	if len(convos) != 1 {
		t.Fatalf("expected broken row to be dropped, got %d conversations", len(convos))
	}
	if convos[0].Other.ID != "c" {
		t.Fatalf("expected counterpart c, got %q", convos[0].Other.ID)
	}
}

func TestAggregateUnorderedInput(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Oldest-first input still yields the newest message per counterpart.
	convos := Aggregate("a", []models.Message{
		testMessage("m1", "b", "a", "old", base, true),
		testMessage("m2", "b", "a", "new", base.Add(time.Minute), true),
	})
	if len(convos) != 1 || convos[0].LastMessage.ID != "m2" {
		t.Fatalf("expected newest message m2 to win, got %+v", convos)
	}
}
