package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKey is the key the record is stored under.
const RedisKey = "viewstats:record"

// pingTimeout bounds the connection check in OpenRedis.
const pingTimeout = 5 * time.Second

// RedisStore keeps the record as a JSON string under RedisKey. SET
// replaces the value atomically.
type RedisStore struct {
	client *redis.Client
}

// OpenRedis connects to the server in rawURL and verifies it answers.
func OpenRedis(ctx context.Context, rawURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("store: redis ping failed: %w", err)
	}
	return NewRedisStore(client), nil
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Load(ctx context.Context) (*Record, error) {
	raw, err := s.client.Get(ctx, RedisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: redis get: %w", err)
	}
	rec, err := Decode(raw)
	if err != nil {
		slog.Warn("store: ignoring unreadable redis record", "key", RedisKey, "error", err)
		return nil, nil
	}
	return rec, nil
}

func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	raw, err := rec.MarshalJSON()
	if err != nil {
		return fmt.Errorf("store: encode record: %w", err)
	}
	if err := s.client.Set(ctx, RedisKey, raw, 0).Err(); err != nil {
		return fmt.Errorf("store: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
