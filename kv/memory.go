package kv

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests. Expiry is
// evaluated lazily against an injectable clock so TTL behavior can be tested
// without sleeping.
type MemoryStore struct {
	mux      sync.Mutex
	sessions map[string]*sessionEntry
	lists    map[string]*listEntry
	counters map[string]*counterEntry
	now      func() time.Time
}

type sessionEntry struct {
	session   Session
	expiresAt time.Time
}

type listEntry struct {
	items     [][]byte
	expiresAt time.Time
}

type counterEntry struct {
	value     int64
	expiresAt time.Time
}

// NewMemoryStore creates a MemoryStore using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates a MemoryStore with a custom time source.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*sessionEntry{},
		lists:    map[string]*listEntry{},
		counters: map[string]*counterEntry{},
		now:      now,
	}
}

func (s *MemoryStore) PutSession(_ context.Context, session *Session) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	now := s.now()
	if entry, ok := s.sessions[session.Code]; ok && now.Before(entry.expiresAt) {
		return ErrExists
	}
	dup := *session
	s.sessions[session.Code] = &sessionEntry{
		session:   dup,
		expiresAt: now.Add(time.Duration(session.TTL) * time.Second),
	}
	return nil
}

func (s *MemoryStore) Session(_ context.Context, code string) (*Session, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	entry, ok := s.sessions[code]
	if !ok {
		return nil, ErrNotFound
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.sessions, code)
		return nil, ErrNotFound
	}
	dup := entry.session
	return &dup, nil
}

func (s *MemoryStore) TouchSession(_ context.Context, code string, at time.Time) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	entry, ok := s.sessions[code]
	if !ok || !s.now().Before(entry.expiresAt) {
		return ErrNotFound
	}
	entry.session.LastActivity = at
	return nil
}

func (s *MemoryStore) Push(_ context.Context, key string, data []byte, ttl time.Duration) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	now := s.now()
	entry, ok := s.lists[key]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &listEntry{}
		s.lists[key] = entry
	}
	entry.items = append(entry.items, append([]byte(nil), data...))
	entry.expiresAt = now.Add(ttl)
	return nil
}

func (s *MemoryStore) Drain(_ context.Context, key string) ([][]byte, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	entry, ok := s.lists[key]
	if !ok {
		return nil, nil
	}
	delete(s.lists, key)
	if !s.now().Before(entry.expiresAt) {
		return nil, nil
	}
	return entry.items, nil
}

func (s *MemoryStore) List(_ context.Context, key string) ([][]byte, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	entry, ok := s.lists[key]
	if !ok || !s.now().Before(entry.expiresAt) {
		return nil, nil
	}
	items := make([][]byte, len(entry.items))
	copy(items, entry.items)
	return items, nil
}

func (s *MemoryStore) RemoveItem(_ context.Context, key string, data []byte) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	entry, ok := s.lists[key]
	if !ok || !s.now().Before(entry.expiresAt) {
		return nil
	}
	for i, item := range entry.items {
		if bytes.Equal(item, data) {
			entry.items = append(entry.items[:i], entry.items[i+1:]...)
			break
		}
	}
	if len(entry.items) == 0 {
		delete(s.lists, key)
	}
	return nil
}

func (s *MemoryStore) IncrWindow(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	now := s.now()
	entry, ok := s.counters[key]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &counterEntry{expiresAt: now.Add(window)}
		s.counters[key] = entry
	}
	entry.value++
	return entry.value, nil
}
