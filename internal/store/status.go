package store

import (
	"database/sql"
	"time"
)

// UpsertSessionStatus writes the singleton session status row.
// Called on every state transition; callers treat failures as non-fatal.
func (db *DB) UpsertSessionStatus(s *SessionStatus) error {
	_, err := db.Exec(`
		INSERT INTO session_status (id, status, identity, challenge, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			identity = excluded.identity,
			challenge = excluded.challenge,
			updated_at = excluded.updated_at`,
		s.Status, s.Identity, s.Challenge, time.Now().UnixMilli())
	return err
}

// GetSessionStatus returns the persisted session status, or nil if none was
// ever written.
func (db *DB) GetSessionStatus() (*SessionStatus, error) {
	var s SessionStatus
	err := db.QueryRow(`SELECT status, identity, challenge FROM session_status WHERE id = 1`).
		Scan(&s.Status, &s.Identity, &s.Challenge)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
