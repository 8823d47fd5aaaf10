package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/campus-chat/internal/types"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "campuschat:conversations:"
	versionPrefix = "campuschat:conversations-version:"
)

type RedisConversationCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisConversationCache(client redis.UniversalClient, ttl time.Duration) *RedisConversationCache {
	return &RedisConversationCache{client: client, ttl: ttl}
}

func conversationsKey(userId int) string {
	return fmt.Sprintf("%s%d", keyPrefix, userId)
}

func versionKey(userId int) string {
	return fmt.Sprintf("%s%d", versionPrefix, userId)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readVersion(ctx context.Context, r getter, userId int) (int64, error) {
	v, err := r.Get(ctx, versionKey(userId)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (c *RedisConversationCache) Version(ctx context.Context, userId int) (int64, error) {
	v, err := readVersion(ctx, c.client, userId)
	if err != nil {
		return 0, fmt.Errorf("redis get version: %w", err)
	}
	return v, nil
}

func (c *RedisConversationCache) Get(ctx context.Context, userId int) ([]types.Conversation, bool, error) {
	raw, err := c.client.Get(ctx, conversationsKey(userId)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var convs []types.Conversation
	if err := json.Unmarshal(raw, &convs); err != nil {
		return nil, false, fmt.Errorf("decode cached conversations: %w", err)
	}

	return convs, true, nil
}

// Set stores conversations unless userId was invalidated after version was
// read. The version key is watched so a concurrent Invalidate aborts the write.
func (c *RedisConversationCache) Set(ctx context.Context, userId int, version int64, conversations []types.Conversation) error {
	raw, err := json.Marshal(conversations)
	if err != nil {
		return fmt.Errorf("encode conversations: %w", err)
	}

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readVersion(ctx, tx, userId)
		if err != nil {
			return err
		}
		if current != version {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, conversationsKey(userId), raw, c.ttl)
			return nil
		})
		return err
	}, versionKey(userId))

	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisConversationCache) Invalidate(ctx context.Context, userIds ...int) error {
	if len(userIds) == 0 {
		return nil
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range userIds {
			pipe.Incr(ctx, versionKey(id))
			pipe.Del(ctx, conversationsKey(id))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate: %w", err)
	}
	return nil
}
