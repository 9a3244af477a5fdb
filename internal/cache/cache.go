// Package cache keeps a local sqlite snapshot of recent messages so the
// conversation list can render something when the row store is unreachable.
package cache

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/versely/stanza/internal/models"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		read INTEGER NOT NULL,
		sender_username TEXT,
		sender_avatar TEXT,
		receiver_username TEXT,
		receiver_avatar TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages (created_at DESC)`,
}

// Cache is a snapshot store, not a source of truth. Rows are overwritten
// wholesale on every save and consulted only as an offline fallback.
type Cache struct {
	db *sql.DB
}

func Open(dataDir string) (*Cache, error) {
	path := filepath.Join(dataDir, "snapshot.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db %s: %w", path, err)
	}
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate snapshot db: %w", err)
		}
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// SaveMessages upserts the page into the snapshot. Optimistic echoes are
// skipped: their temporary ids are meaningless across sessions.
func (c *Cache) SaveMessages(msgs []models.Message) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot save: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO messages (
			id, sender_id, receiver_id, content, created_at, read,
			sender_username, sender_avatar, receiver_username, receiver_avatar
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			content = excluded.content,
			read = excluded.read,
			sender_username = excluded.sender_username,
			sender_avatar = excluded.sender_avatar,
			receiver_username = excluded.receiver_username,
			receiver_avatar = excluded.receiver_avatar`)
	if err != nil {
		return fmt.Errorf("prepare snapshot save: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if m.Pending() {
			continue
		}
		sName, sAvatar := userColumns(m.Sender)
		rName, rAvatar := userColumns(m.Receiver)
		if _, err := stmt.Exec(
			m.ID, m.SenderID, m.ReceiverID, m.Content, m.CreatedAt.UTC(), m.Read,
			sName, sAvatar, rName, rAvatar,
		); err != nil {
			return fmt.Errorf("save message %s: %w", m.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot save: %w", err)
	}
	return nil
}

// RecentMessages returns the user's snapshotted traffic newest-first,
// mirroring the shape of the row store's recent-messages page.
func (c *Cache) RecentMessages(userID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.db.Query(`
		SELECT id, sender_id, receiver_id, content, created_at, read,
		       sender_username, sender_avatar, receiver_username, receiver_avatar
		  FROM messages
		 WHERE sender_id = ? OR receiver_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		userID, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var (
			m              models.Message
			sName, sAvatar *string
			rName, rAvatar *string
		)
		if err := rows.Scan(
			&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.CreatedAt, &m.Read,
			&sName, &sAvatar, &rName, &rAvatar,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		m.Sender = snapshotUser(m.SenderID, sName, sAvatar)
		m.Receiver = snapshotUser(m.ReceiverID, rName, rAvatar)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return msgs, nil
}

func userColumns(u *models.User) (username, avatar *string) {
	if u == nil {
		return nil, nil
	}
	return &u.Username, &u.AvatarURL
}

// snapshotUser rebuilds a participant summary, or nil when the original
// page had no join row, so offline aggregation drops the same messages the
// live path would.
func snapshotUser(id string, username, avatar *string) *models.User {
	if username == nil {
		return nil
	}
	u := &models.User{ID: id, Username: *username}
	if avatar != nil {
		u.AvatarURL = *avatar
	}
	return u
}
