package store

import (
	"database/sql"
	"fmt"
	"time"
)

const upsertChatSQL = `
	INSERT INTO chats (jid, name, unread_count, archived, last_message_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(jid) DO UPDATE SET
		name = CASE WHEN excluded.name != '' THEN excluded.name ELSE chats.name END,
		unread_count = excluded.unread_count,
		archived = excluded.archived,
		last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
		updated_at = excluded.updated_at`

// UpsertChat inserts or updates a chat record keyed by JID.
func (db *DB) UpsertChat(c *Chat) error {
	_, err := db.Exec(upsertChatSQL,
		c.JID, c.Name, c.UnreadCount, c.Archived, c.LastMessageAt, time.Now().UnixMilli())
	return err
}

// UpsertChats inserts or updates a batch of chats in a single transaction.
func (db *DB) UpsertChats(chats []Chat) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for i := range chats {
		c := &chats[i]
		if _, err := tx.Exec(upsertChatSQL,
			c.JID, c.Name, c.UnreadCount, c.Archived, c.LastMessageAt, now); err != nil {
			return fmt.Errorf("upsert chat %q: %w", c.JID, err)
		}
	}
	return tx.Commit()
}

// ListChats returns chats sorted by last message timestamp descending.
func (db *DB) ListChats(limit, offset int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT jid, name, unread_count, archived, last_message_at
		FROM chats
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.JID, &c.Name, &c.UnreadCount, &c.Archived, &c.LastMessageAt); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat by JID, or nil when absent.
func (db *DB) GetChat(jid string) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT jid, name, unread_count, archived, last_message_at
		FROM chats WHERE jid = ?`, jid).
		Scan(&c.JID, &c.Name, &c.UnreadCount, &c.Archived, &c.LastMessageAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ChatCount returns the total number of chats.
func (db *DB) ChatCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&count)
	return count, err
}
