package store

import (
	"fmt"
	"strings"
	"time"
)

const upsertMessageSQL = `
	INSERT INTO messages (chat_jid, msg_id, sender_jid, body, message_type, from_me, has_media, media_meta, ack, timestamp, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(chat_jid, msg_id) DO UPDATE SET
		sender_jid = excluded.sender_jid,
		body = excluded.body,
		message_type = excluded.message_type,
		has_media = excluded.has_media,
		media_meta = excluded.media_meta,
		ack = excluded.ack`

// UpsertMessage inserts or updates a message. Last write wins on the
// (chat_jid, msg_id) key, which makes re-ingestion of the same snapshot safe.
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(upsertMessageSQL,
		m.ChatJID, m.MsgID, m.SenderJID, m.Body, m.MessageType, m.FromMe,
		m.HasMedia, m.MediaMeta, m.Ack, m.Timestamp, time.Now().UnixMilli())
	return err
}

// UpsertMessages inserts or updates a batch of messages in a single transaction.
func (db *DB) UpsertMessages(msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for i := range msgs {
		m := &msgs[i]
		if _, err := tx.Exec(upsertMessageSQL,
			m.ChatJID, m.MsgID, m.SenderJID, m.Body, m.MessageType, m.FromMe,
			m.HasMedia, m.MediaMeta, m.Ack, m.Timestamp, now); err != nil {
			return fmt.Errorf("upsert message %q: %w", m.MsgID, err)
		}
	}
	return tx.Commit()
}

// UpdateAck raises the delivery ack for the given messages in a chat.
// Acks only move forward; a late delivery receipt never downgrades a read.
func (db *DB) UpdateAck(chatJID string, msgIDs []string, ack int) error {
	if len(msgIDs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(msgIDs)-1) + "?"
	args := make([]any, 0, len(msgIDs)+2)
	args = append(args, ack, chatJID)
	for _, id := range msgIDs {
		args = append(args, id)
	}
	_, err := db.Exec(`
		UPDATE messages SET ack = MAX(ack, ?)
		WHERE chat_jid = ? AND msg_id IN (`+placeholders+`)`, args...)
	return err
}

// ListMessages returns messages for a chat using keyset pagination by timestamp.
func (db *DB) ListMessages(chatJID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, chat_jid, msg_id, sender_jid, body, message_type, from_me, has_media, media_meta, ack, timestamp
		FROM messages
		WHERE chat_jid = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, chatJID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatJID, &m.MsgID, &m.SenderJID, &m.Body, &m.MessageType,
			&m.FromMe, &m.HasMedia, &m.MediaMeta, &m.Ack, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessage returns a single message by its upsert key, or nil when absent.
func (db *DB) GetMessage(chatJID, msgID string) (*Message, error) {
	msgs, err := db.queryMessages(`
		SELECT id, chat_jid, msg_id, sender_jid, body, message_type, from_me, has_media, media_meta, ack, timestamp
		FROM messages WHERE chat_jid = ? AND msg_id = ?`, chatJID, msgID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

func (db *DB) queryMessages(query string, args ...any) ([]Message, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatJID, &m.MsgID, &m.SenderJID, &m.Body, &m.MessageType,
			&m.FromMe, &m.HasMedia, &m.MediaMeta, &m.Ack, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
