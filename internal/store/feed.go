package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/versely/stanza/internal/models"
)

const feedProtocolVersion = 1

// frame is the wire envelope for every feed message, in both directions.
type frame struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	Table   string          `json:"table,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type changePayload struct {
	Event  string          `json:"event"`
	Record json.RawMessage `json:"record"`
}

type messageRecord struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	Read       bool      `json:"read"`
}

type typingRecord struct {
	UserID      string    `json:"user_id"`
	OtherUserID string    `json:"other_user_id"`
	IsTyping    bool      `json:"is_typing"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Feed is a change-feed subscription over a single websocket. Handlers
// registered through SubscribeMessages and SubscribeTyping are invoked from
// the read loop, one frame at a time.
type Feed struct {
	conn *websocket.Conn
	log  *slog.Logger

	mu       sync.Mutex
	onMsg    func(models.MessageEvent)
	onTyping func(models.TypingEvent)
	closed   bool
}

// DialFeed connects to the change-feed endpoint. The auth token travels in
// the handshake headers; the server scopes row visibility by it.
func DialFeed(ctx context.Context, url, token string, log *slog.Logger) (*Feed, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	opts := &websocket.DialOptions{}
	if token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	conn, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("dial feed %s: %w", url, err)
	}

	f := &Feed{conn: conn, log: log}
	go f.readLoop(ctx)
	return f, nil
}

// SubscribeMessages registers the handler for message-table changes and
// asks the server to start streaming them. The returned func unsubscribes.
func (f *Feed) SubscribeMessages(ctx context.Context, fn func(models.MessageEvent)) (func(), error) {
	f.mu.Lock()
	f.onMsg = fn
	f.mu.Unlock()

	if err := f.send(ctx, frame{V: feedProtocolVersion, Type: "subscribe", Table: "messages"}); err != nil {
		return nil, err
	}
	return func() {
		f.mu.Lock()
		f.onMsg = nil
		f.mu.Unlock()
		_ = f.send(context.Background(), frame{V: feedProtocolVersion, Type: "unsubscribe", Table: "messages"})
	}, nil
}

// SubscribeTyping registers the handler for typing-table changes.
func (f *Feed) SubscribeTyping(ctx context.Context, fn func(models.TypingEvent)) (func(), error) {
	f.mu.Lock()
	f.onTyping = fn
	f.mu.Unlock()

	if err := f.send(ctx, frame{V: feedProtocolVersion, Type: "subscribe", Table: "typing_status"}); err != nil {
		return nil, err
	}
	return func() {
		f.mu.Lock()
		f.onTyping = nil
		f.mu.Unlock()
		_ = f.send(context.Background(), frame{V: feedProtocolVersion, Type: "unsubscribe", Table: "typing_status"})
	}, nil
}

func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()
	return f.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (f *Feed) send(ctx context.Context, fr frame) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, f.conn, fr); err != nil {
		return fmt.Errorf("write feed frame: %w", err)
	}
	return nil
}

func (f *Feed) readLoop(ctx context.Context) {
	for {
		_, data, err := f.conn.Read(ctx)
		if err != nil {
			f.mu.Lock()
			closed := f.closed
			f.mu.Unlock()
			if !closed {
				f.log.Warn("feed read loop ended", "error", err)
			}
			return
		}
		if err := f.handleFrame(data); err != nil {
			// A malformed frame is dropped, not fatal to the stream.
			f.log.Warn("dropping feed frame", "error", err)
		}
	}
}

// handleFrame decodes and dispatches one wire frame. Split from the read
// loop so decoding stays testable without a socket.
func (f *Feed) handleFrame(data []byte) error {
	var fr frame
	if err := json.Unmarshal(data, &fr); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	if fr.V != feedProtocolVersion {
		return fmt.Errorf("unsupported feed version %d", fr.V)
	}
	if fr.Type != "change" {
		// Acks and pings carry no rows.
		return nil
	}

	var pl changePayload
	if err := json.Unmarshal(fr.Payload, &pl); err != nil {
		return fmt.Errorf("decode change payload: %w", err)
	}
	kind := models.EventKind(pl.Event)
	switch kind {
	case models.EventInsert, models.EventUpdate, models.EventDelete:
	default:
		return fmt.Errorf("unknown change event %q", pl.Event)
	}

	switch fr.Table {
	case "messages":
		var rec messageRecord
		if err := json.Unmarshal(pl.Record, &rec); err != nil {
			return fmt.Errorf("decode message record: %w", err)
		}
		if rec.ID == "" || rec.SenderID == "" || rec.ReceiverID == "" {
			return errors.New("message record missing ids")
		}
		f.mu.Lock()
		fn := f.onMsg
		f.mu.Unlock()
		if fn != nil {
			fn(models.MessageEvent{Kind: kind, Message: models.Message{
				ID:         rec.ID,
				SenderID:   rec.SenderID,
				ReceiverID: rec.ReceiverID,
				Content:    rec.Content,
				CreatedAt:  rec.CreatedAt,
				Read:       rec.Read,
			}})
		}
	case "typing_status":
		var rec typingRecord
		if err := json.Unmarshal(pl.Record, &rec); err != nil {
			return fmt.Errorf("decode typing record: %w", err)
		}
		if rec.UserID == "" || rec.OtherUserID == "" {
			return errors.New("typing record missing ids")
		}
		f.mu.Lock()
		fn := f.onTyping
		f.mu.Unlock()
		if fn != nil {
			fn(models.TypingEvent{Kind: kind, Signal: models.TypingSignal{
				UserID:      rec.UserID,
				OtherUserID: rec.OtherUserID,
				IsTyping:    rec.IsTyping,
				UpdatedAt:   rec.UpdatedAt,
			}})
		}
	default:
		return fmt.Errorf("change for unknown table %q", fr.Table)
	}
	return nil
}
