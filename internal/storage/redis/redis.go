package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/deepwork/internal/config"
	"github.com/goodtune/deepwork/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client       *redis.Client
	sessionStore *sessionStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	// Create Redis client
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "deepwork"
	}

	store := &Store{
		client: client,
		sessionStore: &sessionStore{
			client: client,
			keys:   keyspace{prefix: prefix},
			commit: redis.NewScript(commitSessionScript),
			delete: redis.NewScript(deleteSessionScript),
		},
	}

	return store, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Sessions returns the SessionStore implementation
func (s *Store) Sessions() storage.SessionStore {
	return s.sessionStore
}

// keyspace builds the Redis keys used by the store.
type keyspace struct {
	prefix string
}

func (k keyspace) sessionSeq() string { return k.prefix + ":sessions:next_id" }

func (k keyspace) createdIndex() string { return k.prefix + ":sessions:created" }

func (k keyspace) session(id int64) string { return fmt.Sprintf("%s:session:%d", k.prefix, id) }

func (k keyspace) sessionInterruptions(id int64) string {
	return fmt.Sprintf("%s:session:%d:interruptions", k.prefix, id)
}

func (k keyspace) interruptionSeq() string { return k.prefix + ":interruptions:next_id" }

func (k keyspace) interruptionPrefix() string { return k.prefix + ":interruption:" }

func (k keyspace) interruption(id int64) string {
	return fmt.Sprintf("%s%d", k.interruptionPrefix(), id)
}
