// Package kv provides the relay's durable state layer: session records with
// TTL, per-session FIFO lists and windowed counters. A Redis-backed
// implementation is recommended for production deployments; the in-memory
// implementation serves development and tests.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates no record exists for the given key, or it expired.
	ErrNotFound = errors.New("kv: not found")

	// ErrExists indicates a conditional put lost to an existing record.
	ErrExists = errors.New("kv: already exists")
)

// Session is the durable session record stored under session:{code}.
// A session exists iff its record exists; expiry is the only deletion path.
type Session struct {
	Code         string    `json:"code"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	TTL          int       `json:"ttl"` // seconds
}

// Store defines the contract for the relay's state layer. Implementations must
// be safe for concurrent use. List drains and windowed increments must be
// atomic with respect to concurrent appends and increments.
type Store interface {
	// PutSession inserts a session record with the TTL carried by the record.
	// Returns ErrExists when the code is already taken.
	PutSession(ctx context.Context, session *Session) error

	// Session retrieves a session record; ErrNotFound when missing or expired.
	Session(ctx context.Context, code string) (*Session, error)

	// TouchSession updates the last-activity timestamp without extending expiry.
	TouchSession(ctx context.Context, code string, at time.Time) error

	// Push appends data to the right of the list at key and refreshes the list TTL.
	Push(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Drain atomically returns the whole list at key and deletes it.
	// An empty or missing list yields a nil slice and no error.
	Drain(ctx context.Context, key string) ([][]byte, error)

	// List returns the list at key without consuming it.
	List(ctx context.Context, key string) ([][]byte, error)

	// RemoveItem removes the first list element equal to data, if any.
	RemoveItem(ctx context.Context, key string, data []byte) error

	// IncrWindow atomically increments the counter at key and returns the new
	// value. The first increment of a window arms a TTL of window on the key.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// SessionKey returns the storage key of a session record.
func SessionKey(code string) string { return "session:" + code }

// RequestKey returns the storage key of a session's request list.
func RequestKey(code string) string { return "req:" + code }

// ResponseKey returns the storage key of a session's response list.
func ResponseKey(code string) string { return "res:" + code }

// RateLimitKey returns the storage key of a windowed rate counter.
func RateLimitKey(endpoint, scope string) string { return "ratelimit:" + endpoint + ":" + scope }
