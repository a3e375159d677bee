package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fluia/leadmagnet/internal/domain"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore keeps snapshots as plain string keys in Redis.
type RedisStore struct {
	client *redis.Client
	opts   Options
	logger *slog.Logger
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig, opts Options) (*RedisStore, error) {
	opts = opts.withDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	opts.Logger.Info("Connected to Redis session store", "addr", cfg.Addr, "db", cfg.DB)
	return &RedisStore{client: client, opts: opts, logger: opts.Logger}, nil
}

// Save writes the snapshot without expiry; the sweeper prunes old keys.
func (r *RedisStore) Save(ctx context.Context, s domain.Session) error {
	data, err := encode(s, r.opts.Now())
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.opts.key(s.SessionID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Load returns the snapshot, or nil when absent.
func (r *RedisStore) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	data, err := r.client.Get(ctx, r.opts.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	s, _, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return &s, nil
}

// Clear deletes the snapshot.
func (r *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.opts.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// List scans the key prefix.
func (r *RedisStore) List(ctx context.Context) ([]string, error) {
	keys, err := r.scan(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, strings.TrimPrefix(key, r.opts.Prefix))
	}
	slices.Sort(ids)
	return ids, nil
}

// CleanupExpired deletes snapshots whose save timestamp is older than ttl.
func (r *RedisStore) CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := r.opts.Now().Add(-ttl)
	keys, err := r.scan(ctx)
	if err != nil {
		return 0, err
	}

	var expired []string
	for _, key := range keys {
		data, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("redis get: %w", err)
		}
		if _, savedAt, err := decode(data); err != nil || savedAt.Before(threshold) {
			expired = append(expired, key)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	deleted, err := r.client.Del(ctx, expired...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return deleted, nil
}

func (r *RedisStore) scan(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, r.opts.Prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// Ping checks the connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
