package kv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mux sync.Mutex
	at  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{at: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.at
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.at = c.at.Add(d)
}

func TestMemoryStoreSessions(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStoreWithClock(clock.Now)
	ctx := context.Background()

	session := &Session{Code: "ABCDEF23", CreatedAt: clock.Now(), LastActivity: clock.Now(), TTL: 10}
	require.NoError(t, store.PutSession(ctx, session))
	assert.ErrorIs(t, store.PutSession(ctx, session), ErrExists, "duplicate code must be rejected")

	loaded, err := store.Session(ctx, "ABCDEF23")
	require.NoError(t, err)
	assert.Equal(t, "ABCDEF23", loaded.Code)

	at := clock.Now().Add(time.Second)
	require.NoError(t, store.TouchSession(ctx, "ABCDEF23", at))
	loaded, err = store.Session(ctx, "ABCDEF23")
	require.NoError(t, err)
	assert.Equal(t, at, loaded.LastActivity)

	_, err = store.Session(ctx, "MISSING2")
	assert.ErrorIs(t, err, ErrNotFound)

	clock.Advance(11 * time.Second)
	_, err = store.Session(ctx, "ABCDEF23")
	assert.ErrorIs(t, err, ErrNotFound, "session must expire after its TTL")

	// An expired code can be reused.
	assert.NoError(t, store.PutSession(ctx, session))
}

func TestMemoryStoreLists(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStoreWithClock(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.Push(ctx, "req:X", []byte("a"), time.Minute))
	require.NoError(t, store.Push(ctx, "req:X", []byte("b"), time.Minute))
	require.NoError(t, store.Push(ctx, "req:X", []byte("c"), time.Minute))

	items, err := store.Drain(ctx, "req:X")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, items, "drain preserves append order")

	items, err = store.Drain(ctx, "req:X")
	require.NoError(t, err)
	assert.Empty(t, items, "drain consumes the list")

	require.NoError(t, store.Push(ctx, "res:X", []byte("r1"), time.Minute))
	require.NoError(t, store.Push(ctx, "res:X", []byte("r2"), time.Minute))
	items, err = store.List(ctx, "res:X")
	require.NoError(t, err)
	assert.Len(t, items, 2, "list does not consume")

	require.NoError(t, store.RemoveItem(ctx, "res:X", []byte("r1")))
	items, err = store.List(ctx, "res:X")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("r2")}, items)
}

func TestMemoryStoreListTTL(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStoreWithClock(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.Push(ctx, "req:X", []byte("a"), time.Minute))
	clock.Advance(30 * time.Second)
	// Append refreshes the TTL.
	require.NoError(t, store.Push(ctx, "req:X", []byte("b"), time.Minute))
	clock.Advance(45 * time.Second)
	items, err := store.List(ctx, "req:X")
	require.NoError(t, err)
	assert.Len(t, items, 2)

	clock.Advance(time.Minute)
	items, err = store.Drain(ctx, "req:X")
	require.NoError(t, err)
	assert.Empty(t, items, "expired list yields nothing")
}

func TestMemoryStoreIncrWindow(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStoreWithClock(clock.Now)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		value, err := store.IncrWindow(ctx, "ratelimit:request:ip", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(i), value)
	}

	clock.Advance(61 * time.Second)
	value, err := store.IncrWindow(ctx, "ratelimit:request:ip", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), value, "counter resets after the window")
}
