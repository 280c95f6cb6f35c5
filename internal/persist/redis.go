// Package persist provides optional session-snapshot backends for the
// context store: a redis key-value surface and a SQL table. Both store
// whole sessions as JSON; the store remains the source of truth in memory.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chainflow/internal/config"
	"chainflow/internal/models"

	redis "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "chainflow:session:"

// ErrCacheMiss mirrors redis.Nil for callers.
var ErrCacheMiss = redis.Nil

// RedisStore persists session snapshots in redis.
type RedisStore struct {
	inner *redis.Client
	ttl   time.Duration
}

// NewRedisStore creates the redis-backed persister from app config.
// A zero ttl keeps snapshots until cleanup deletes them.
func NewRedisStore(cfg *config.Config, ttl time.Duration) (*RedisStore, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	host := cfg.Redis.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Redis.Port
	if port == 0 {
		port = 6379
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{inner: client, ttl: ttl}, nil
}

// LoadSessions scans the key prefix and decodes every stored session.
func (r *RedisStore) LoadSessions(ctx context.Context) ([]*models.Session, error) {
	var (
		sessions []*models.Session
		cursor   uint64
	)
	for {
		keys, next, err := r.inner.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan sessions: %w", err)
		}
		for _, key := range keys {
			raw, err := r.inner.Get(ctx, key).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return nil, fmt.Errorf("get %s: %w", key, err)
			}
			var sess models.Session
			if err := json.Unmarshal([]byte(raw), &sess); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
			sessions = append(sessions, &sess)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return sessions, nil
}

// SaveSession writes one session snapshot.
func (r *RedisStore) SaveSession(ctx context.Context, sess *models.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	return r.inner.Set(ctx, redisKeyPrefix+sess.ID, raw, r.ttl).Err()
}

// DeleteSession removes a session snapshot.
func (r *RedisStore) DeleteSession(ctx context.Context, id string) error {
	return r.inner.Del(ctx, redisKeyPrefix+id).Err()
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.inner.Close()
}
