package tokenstore

import (
	"context"
	"database/sql"
	"time"
)

// SQLiteStore keeps token entries in the undo_tokens table. Consume is one
// conditional DELETE ... RETURNING statement, so concurrent redeemers of the
// same key are serialized by the database and exactly one sees the row.
type SQLiteStore struct {
	DB  *sql.DB
	Now func() time.Time
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{DB: db}
}

func (s *SQLiteStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *SQLiteStore) Put(ctx context.Context, key, payload string, ttl time.Duration) (Entry, error) {
	now := s.now().UTC().Truncate(time.Second)
	e := Entry{
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	// Housekeeping rides along with writes; nothing sweeps in the background.
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM undo_tokens WHERE expires_at<=?`, fmtTime(now)); err != nil {
		return Entry{}, err
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO undo_tokens(id,payload,created_at,expires_at) VALUES (?,?,?,?)`,
		key, payload, fmtTime(e.CreatedAt), fmtTime(e.ExpiresAt))
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	var payload, createdAt, expiresAt string
	err := s.DB.QueryRowContext(ctx, `SELECT payload,created_at,expires_at FROM undo_tokens WHERE id=? AND expires_at>?`,
		key, fmtTime(s.now().UTC())).Scan(&payload, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return parseEntry(payload, createdAt, expiresAt)
}

func (s *SQLiteStore) Consume(ctx context.Context, key string) (Entry, bool, error) {
	var payload, createdAt, expiresAt string
	err := s.DB.QueryRowContext(ctx, `DELETE FROM undo_tokens WHERE id=? AND expires_at>? RETURNING payload,created_at,expires_at`,
		key, fmtTime(s.now().UTC())).Scan(&payload, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return parseEntry(payload, createdAt, expiresAt)
}

func parseEntry(payload, createdAt, expiresAt string) (Entry, bool, error) {
	created, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Entry{}, false, err
	}
	expires, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return Entry{}, false, err
	}
	return Entry{Payload: payload, CreatedAt: created, ExpiresAt: expires}, true, nil
}

// fmtTime renders UTC RFC3339 so string comparison in SQL matches time order.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
