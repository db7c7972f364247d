package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
)

// Store persists sessions outside the process
type Store interface {
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

const keyPrefix = "session:"

// RedisStore keeps sessions as JSON values with a TTL
type RedisStore struct {
	Redis *redis.Client
}

// NewRedisStore creates a store backed by the given client
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{Redis: rdb}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) Load(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	raw, err := s.Redis.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.Redis.Set(ctx, keyPrefix+sess.ID, raw, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := s.Redis.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
