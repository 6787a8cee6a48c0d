package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisStore is a durable Store backed by Redis. Session records are
// json-serialized strings with native TTLs; queues are redis lists drained
// with a transactional LRANGE+DEL; rate counters use INCR with a window TTL
// armed on the first increment.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store. The prefix namespaces all keys.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(key string) string { return s.prefix + key }

func (s *RedisStore) PutSession(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	ttl := time.Duration(session.TTL) * time.Second
	ok, err := s.rdb.SetNX(ctx, s.key(SessionKey(session.Code)), data, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (s *RedisStore) Session(ctx context.Context, code string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, s.key(SessionKey(code))).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}
	session := &Session{}
	if err := json.Unmarshal(raw, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *RedisStore) TouchSession(ctx context.Context, code string, at time.Time) error {
	session, err := s.Session(ctx, code)
	if err != nil {
		return err
	}
	session.LastActivity = at
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	// KeepTTL preserves the remaining expiry; touching never extends a session.
	return s.rdb.Set(ctx, s.key(SessionKey(code)), data, redis.KeepTTL).Err()
}

func (s *RedisStore) Push(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, s.key(key), data)
	pipe.Expire(ctx, s.key(key), ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Drain(ctx context.Context, key string) ([][]byte, error) {
	pipe := s.rdb.TxPipeline()
	rangeCmd := pipe.LRange(ctx, s.key(key), 0, -1)
	pipe.Del(ctx, s.key(key))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	return asByteItems(rangeCmd.Val()), nil
}

func (s *RedisStore) List(ctx context.Context, key string) ([][]byte, error) {
	items, err := s.rdb.LRange(ctx, s.key(key), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	return asByteItems(items), nil
}

func (s *RedisStore) RemoveItem(ctx context.Context, key string, data []byte) error {
	return s.rdb.LRem(ctx, s.key(key), 1, data).Err()
}

func (s *RedisStore) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	value, err := s.rdb.Incr(ctx, s.key(key)).Result()
	if err != nil {
		return 0, err
	}
	if value == 1 {
		if err := s.rdb.Expire(ctx, s.key(key), window).Err(); err != nil {
			return value, err
		}
	}
	return value, nil
}

func asByteItems(items []string) [][]byte {
	if len(items) == 0 {
		return nil
	}
	ret := make([][]byte, len(items))
	for i, item := range items {
		ret[i] = []byte(item)
	}
	return ret
}

// String returns a diagnostic representation of the store config.
func (s *RedisStore) String() string {
	return fmt.Sprintf("RedisStore{prefix=%s}", s.prefix)
}
