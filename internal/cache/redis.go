package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the connection settings of the redis backend.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// RedisCodeCache keeps codes in redis. Each code key is mirrored in a per-room
// set so a deleted room can drop its codes without scanning.
type RedisCodeCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCodeCache(cfg RedisConfig, prefix string) (*RedisCodeCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisCodeCacheFromClient(client, prefix), nil
}

// NewRedisCodeCacheFromClient wraps an existing client.
func NewRedisCodeCacheFromClient(client *redis.Client, prefix string) *RedisCodeCache {
	return &RedisCodeCache{
		client: client,
		prefix: prefix,
	}
}

func (c *RedisCodeCache) codeKey(code string) string {
	return fmt.Sprintf("%s:%s", c.prefix, code)
}

func (c *RedisCodeCache) roomKey(roomID string) string {
	return fmt.Sprintf("%s:room:%s", c.prefix, roomID)
}

func (c *RedisCodeCache) Get(ctx context.Context, code string) (*CodeEntry, error) {
	data, err := c.client.Get(ctx, c.codeKey(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var entry CodeEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}

	return &entry, nil
}

func (c *RedisCodeCache) Set(ctx context.Context, code string, entry *CodeEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	roomKey := c.roomKey(entry.RoomID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.codeKey(code), data, ttl)
		pipe.SAdd(ctx, roomKey, code)
		pipe.Expire(ctx, roomKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}

	return nil
}

func (c *RedisCodeCache) Delete(ctx context.Context, codes ...string) error {
	if len(codes) == 0 {
		return nil
	}

	keys := make([]string, 0, len(codes))
	for _, code := range codes {
		keys = append(keys, c.codeKey(code))
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}

	return nil
}

func (c *RedisCodeCache) DeleteRoom(ctx context.Context, roomID string) error {
	roomKey := c.roomKey(roomID)
	codes, err := c.client.SMembers(ctx, roomKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list room codes: %w", err)
	}

	// A code can collide with one issued for another room; only drop keys
	// that still point at roomID.
	stale := make([]string, 0, len(codes))
	for _, code := range codes {
		entry, err := c.Get(ctx, code)
		if err != nil {
			if errors.Is(err, ErrCacheMiss) {
				continue
			}
			return err
		}
		if entry.RoomID == roomID {
			stale = append(stale, c.codeKey(code))
		}
	}

	stale = append(stale, roomKey)
	if err := c.client.Del(ctx, stale...).Err(); err != nil {
		return fmt.Errorf("failed to delete room codes: %w", err)
	}

	return nil
}

func (c *RedisCodeCache) Close() error {
	return c.client.Close()
}
