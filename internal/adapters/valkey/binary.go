package valkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// BinaryClient stores msgpack-encoded values on the shared pool. Embedding
// vectors go through here; msgpack keeps a 768-float vector at roughly a
// third of its JSON size.
type BinaryClient struct {
	rdb *redis.Client
}

func NewBinaryClient(rdb *redis.Client) *BinaryClient {
	return &BinaryClient{rdb: rdb}
}

// GetBinary decodes the value at key into out. The bool reports a cache hit;
// an absent key is not an error.
func (c *BinaryClient) GetBinary(ctx context.Context, key string, out any) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, kvErr("get", key, err)
	}
	if err := msgpack.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (c *BinaryClient) SetBinary(ctx context.Context, key string, value any, ttl time.Duration) error {
	encoded, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, encoded, ttl).Err(); err != nil {
		return kvErr("set", key, err)
	}
	return nil
}
