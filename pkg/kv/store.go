// Package kv wraps the Redis client with the key/value capabilities the
// rest of the service consumes: get/set with TTL, atomic counters, NX locks,
// prefix scans, and list push/range/trim for ordered logs. Every key is
// namespaced with the configured prefix.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/replyworks/sage/pkg/config"
)

// ErrKeyNotFound is returned by Get/GetJSON when the key does not exist.
var ErrKeyNotFound = errors.New("key not found")

// Store is the k/v capability layer over one Redis client.
type Store struct {
	client *redis.Client
	prefix string
}

// New connects to Redis using the resolved address and verifies the
// connection with a short ping.
func New(cfg *config.RedisConfig) (*Store, error) {
	addr := cfg.Addr
	if cfg.AddrEnv != "" {
		if v := os.Getenv(cfg.AddrEnv); v != "" {
			addr = v
		}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &Store{client: client, prefix: cfg.KeyPrefix}, nil
}

// NewWithClient wraps an existing client; used by tests with miniredis.
func NewWithClient(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

// Get returns the raw value, or ErrKeyNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set stores the value with a TTL; ttl <= 0 means no expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), value, ttl).Err()
}

// SetNX stores the value only if the key does not exist. Returns true when
// the key was set; the basis of the per-draft commit lock and the inbound
// webhook replay guard.
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.key(key), value, ttl).Result()
}

// Del removes the given keys. Missing keys are not an error.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	return s.client.Del(ctx, full...).Err()
}

// Incr atomically increments the integer at key and returns the new value.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, s.key(key)).Result()
}

// Expire refreshes the TTL on an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, s.key(key), ttl).Err()
}

// ScanPrefix returns all keys under the given prefix, stripped of the store
// namespace. Uses SCAN, never KEYS.
func (s *Store) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	match := s.key(prefix) + "*"
	strip := s.key("")
	if s.prefix != "" {
		strip = s.prefix + ":"
	}
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			out = append(out, strings.TrimPrefix(k, strip))
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// RPush appends values to the list at key.
func (s *Store) RPush(ctx context.Context, key string, values ...[]byte) error {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return s.client.RPush(ctx, s.key(key), args...).Err()
}

// LRange returns list elements [start, stop] (inclusive, negatives from the
// tail, Redis semantics).
func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	vals, err := s.client.LRange(ctx, s.key(key), start, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

// LTrim keeps only list elements [start, stop].
func (s *Store) LTrim(ctx context.Context, key string, start, stop int64) error {
	return s.client.LTrim(ctx, s.key(key), start, stop).Err()
}

// LLen returns the list length.
func (s *Store) LLen(ctx context.Context, key string) (int64, error) {
	return s.client.LLen(ctx, s.key(key)).Result()
}

// GetJSON unmarshals the value at key into target.
func (s *Store) GetJSON(ctx context.Context, key string, target any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// SetJSON marshals v and stores it with a TTL.
func (s *Store) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Set(ctx, key, data, ttl)
}

// Ping verifies the connection; used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
