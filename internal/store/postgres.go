// Package store contains the clients for the hosted row store: a pgx-backed
// table client and a websocket change-feed client.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/versely/stanza/internal/models"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// Postgres implements the synchronizer's store interface against the
// messages, typing_status, and users tables.
//
// Postgres does not own the pgx pool; the caller must close it.
type Postgres struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewPostgres(pool *pgxpool.Pool, log *slog.Logger) (*Postgres, error) {
	if pool == nil {
		return nil, errors.New("store: nil pool")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Postgres{pool: pool, log: log}, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

const messageColumns = `
	m.id::text, m.sender_id::text, m.receiver_id::text, m.content, m.created_at, m.read,
	s.id::text, s.username, s.avatar_url,
	r.id::text, r.username, r.avatar_url`

const messageJoins = `
	LEFT JOIN users s ON s.id = m.sender_id
	LEFT JOIN users r ON r.id = m.receiver_id`

// RecentMessages returns a page of the user's traffic ordered newest-first,
// with participant summaries joined for conversation aggregation.
func (p *Postgres) RecentMessages(ctx context.Context, userID string, limit, offset int) ([]models.Message, error) {
	limit, offset = clampPage(limit, offset)

	rows, err := p.pool.Query(ctx, `
		SELECT `+messageColumns+`
		  FROM messages m`+messageJoins+`
		 WHERE m.sender_id = $1 OR m.receiver_id = $1
		 ORDER BY m.created_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// ThreadMessages returns a page of the conversation between the two users
// ordered oldest-first, so the view can append-scroll.
func (p *Postgres) ThreadMessages(ctx context.Context, userID, otherID string, limit, offset int) ([]models.Message, error) {
	limit, offset = clampPage(limit, offset)

	rows, err := p.pool.Query(ctx, `
		SELECT `+messageColumns+`
		  FROM messages m`+messageJoins+`
		 WHERE (m.sender_id = $1 AND m.receiver_id = $2)
		    OR (m.sender_id = $2 AND m.receiver_id = $1)
		 ORDER BY m.created_at ASC
		 LIMIT $3 OFFSET $4`,
		userID, otherID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query thread messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// InsertMessage persists the message and echoes the stored row. Id,
// timestamp, and read flag are server-assigned.
func (p *Postgres) InsertMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	var stored models.Message
	err := p.pool.QueryRow(ctx, `
		INSERT INTO messages (sender_id, receiver_id, content)
		VALUES ($1, $2, $3)
		RETURNING id::text, sender_id::text, receiver_id::text, content, created_at, read`,
		msg.SenderID, msg.ReceiverID, msg.Content,
	).Scan(&stored.ID, &stored.SenderID, &stored.ReceiverID, &stored.Content, &stored.CreatedAt, &stored.Read)
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return stored, nil
}

// MarkRead flips read=true for the given ids. The NOT read guard makes the
// call idempotent.
func (p *Postgres) MarkRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := p.pool.Exec(ctx, `
		UPDATE messages
		   SET read = TRUE
		 WHERE id::text = ANY($1) AND NOT read`,
		ids,
	); err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	return nil
}

// SetTyping upserts the typing row keyed by the signaler/observer pair, so
// the latest state always overwrites any prior row. No history is kept.
func (p *Postgres) SetTyping(ctx context.Context, sig models.TypingSignal) error {
	if _, err := p.pool.Exec(ctx, `
		INSERT INTO typing_status (user_id, other_user_id, is_typing, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, other_user_id)
		DO UPDATE SET is_typing = EXCLUDED.is_typing, updated_at = EXCLUDED.updated_at`,
		sig.UserID, sig.OtherUserID, sig.IsTyping, sig.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert typing status: %w", err)
	}
	return nil
}

// SearchUsers finds poets by username for the new-message screen.
func (p *Postgres) SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error) {
	limit, _ = clampPage(limit, 0)

	rows, err := p.pool.Query(ctx, `
		SELECT id::text, username, COALESCE(avatar_url, '')
		  FROM users
		 WHERE username ILIKE '%' || $1 || '%'
		 ORDER BY username ASC
		 LIMIT $2`,
		query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.AvatarURL); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return users, nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMessages(rows pgxRows) ([]models.Message, error) {
	var msgs []models.Message
	for rows.Next() {
		var (
			m                                      models.Message
			senderID, senderName, senderAvatar     *string
			receiverID, receiverName, receiverAvat *string
		)
		if err := rows.Scan(
			&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.CreatedAt, &m.Read,
			&senderID, &senderName, &senderAvatar,
			&receiverID, &receiverName, &receiverAvat,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Sender = joinedUser(senderID, senderName, senderAvatar)
		m.Receiver = joinedUser(receiverID, receiverName, receiverAvat)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	return msgs, nil
}

// joinedUser builds a participant summary from nullable join columns, or
// nil when the join found no row. Aggregation drops messages with missing
// counterparts rather than rendering them broken.
func joinedUser(id, username, avatar *string) *models.User {
	if id == nil || *id == "" {
		return nil
	}
	u := &models.User{ID: *id}
	if username != nil {
		u.Username = *username
	}
	if avatar != nil {
		u.AvatarURL = *avatar
	}
	return u
}
