// Package valkey backs the key-value ports with a Valkey (Redis-protocol)
// server. One process-wide connection pool is shared by the string client,
// the binary client and the lock manager.
package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mira-ai/mira/internal/adapters/retry"
	"github.com/mira-ai/mira/internal/domain"
)

// Connect opens the shared pool and verifies the server is reachable.
// Transient command errors are retried once after a short pause, per the
// key-value policy in the retry package.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	cfg := retry.KVConfig()
	rdb := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        password,
		DB:              db,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.InitialInterval,
		MaxRetryBackoff: cfg.MaxInterval,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: ping %s: %v", domain.ErrKVUnavailable, addr, err)
	}
	return rdb, nil
}

// Client is the string-valued store surface.
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewClient(rdb *redis.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{rdb: rdb, logger: logger}
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	value, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%w: key %s", domain.ErrNotFound, key)
		}
		return "", kvErr("get", key, err)
	}
	return value, nil
}

func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return kvErr("set", key, err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return kvErr("del", key, err)
	}
	return nil
}

func (c *Client) HSet(ctx context.Context, key, field, value string) error {
	if err := c.rdb.HSet(ctx, key, field, value).Err(); err != nil {
		return kvErr("hset", key, err)
	}
	return nil
}

func (c *Client) HGet(ctx context.Context, key, field string) (string, error) {
	value, err := c.rdb.HGet(ctx, key, field).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%w: field %s of %s", domain.ErrNotFound, field, key)
		}
		return "", kvErr("hget", key, err)
	}
	return value, nil
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	values, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, kvErr("hgetall", key, err)
	}
	return values, nil
}

func (c *Client) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := c.rdb.HDel(ctx, key, fields...).Err(); err != nil {
		return kvErr("hdel", key, err)
	}
	return nil
}

func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return kvErr("expire", key, err)
	}
	return nil
}

func (c *Client) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, kvErr("scan", pattern, err)
	}
	return keys, nil
}

// JSONGet reads the document at key. Path "$" returns the whole document;
// "$.field" returns one top-level field.
func (c *Client) JSONGet(ctx context.Context, key, path string) (string, error) {
	raw, err := c.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if path == "$" {
		return raw, nil
	}

	field, err := jsonField(path)
	if err != nil {
		return "", err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return "", fmt.Errorf("key %s is not a JSON object: %w", key, err)
	}
	value, ok := doc[field]
	if !ok {
		return "", fmt.Errorf("%w: field %s of %s", domain.ErrNotFound, field, key)
	}
	return string(value), nil
}

// JSONSet writes the document at key. Path "$" replaces the whole document;
// "$.field" updates one top-level field, creating the document if absent.
// Any TTL already on the key is preserved.
func (c *Client) JSONSet(ctx context.Context, key, path string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value for %s: %w", key, err)
	}

	if path == "$" {
		if err := c.rdb.Set(ctx, key, string(encoded), redis.KeepTTL).Err(); err != nil {
			return kvErr("set", key, err)
		}
		return nil
	}

	field, err := jsonField(path)
	if err != nil {
		return err
	}

	doc := make(map[string]json.RawMessage)
	raw, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return fmt.Errorf("key %s is not a JSON object: %w", key, err)
		}
	case errors.Is(err, redis.Nil):
		// Field update on an absent key starts a fresh document.
	default:
		return kvErr("get", key, err)
	}

	doc[field] = encoded
	merged, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document for %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, string(merged), redis.KeepTTL).Err(); err != nil {
		return kvErr("set", key, err)
	}
	return nil
}

func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, kvErr("ttl", key, err)
	}
	return ttl, nil
}

// SetTTLWithWarning expires key after ttl and plants {key}:warning expiring
// warningOffset earlier. The expiry listener sees the warning fire while the
// value is still readable and can persist it.
func (c *Client) SetTTLWithWarning(ctx context.Context, key string, ttl, warningOffset time.Duration) error {
	if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return kvErr("expire", key, err)
	}

	warnTTL := ttl - warningOffset
	if warnTTL <= 0 {
		c.logger.Warn("warning offset exceeds ttl, skipping warning key", "key", key, "ttl", ttl, "offset", warningOffset)
		return nil
	}
	if err := c.rdb.Set(ctx, key+":warning", "1", warnTTL).Err(); err != nil {
		return kvErr("set", key+":warning", err)
	}
	return nil
}

func jsonField(path string) (string, error) {
	field, ok := strings.CutPrefix(path, "$.")
	if !ok || field == "" || strings.ContainsAny(field, ".[") {
		return "", fmt.Errorf("%w: unsupported JSON path %q", domain.ErrInvalidInput, path)
	}
	return field, nil
}

func kvErr(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", domain.ErrKVUnavailable, op, key, err)
}
