// Package tokenstore holds short-lived undo payloads keyed by token id.
//
// The whole undo subsystem leans on Consume: under concurrent redemption of
// one key, exactly one caller gets the entry and everyone else sees absent.
// Both implementations make that a single guarded delete, never a
// get-then-delete.
package tokenstore

import (
	"context"
	"time"
)

// Entry is one stored token payload with its lifecycle stamps.
type Entry struct {
	Payload   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type Store interface {
	// Put stores payload under key, expiring after ttl. Returns the entry
	// with its computed stamps.
	Put(ctx context.Context, key, payload string, ttl time.Duration) (Entry, error)
	// Get returns the live entry without consuming it. Expired entries are
	// absent. Never mutates state.
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Consume atomically returns the live entry and deletes it. Absent when
	// the key never existed, expired, or was already consumed.
	Consume(ctx context.Context, key string) (Entry, bool, error)
}
