// Package cache holds per-user conversation list caches. Both
// implementations satisfy messaging.ConversationCache.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/npezzotti/campus-chat/internal/types"
)

type entry struct {
	conversations []types.Conversation
	expires       time.Time
}

type MemoryConversationCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[int]entry
	// versions counts invalidations per user. A Set computed against an
	// older version is discarded.
	versions map[int]int64
	now      func() time.Time
}

func NewMemoryConversationCache(ttl time.Duration) *MemoryConversationCache {
	return &MemoryConversationCache{
		ttl:     ttl,
		entries:  make(map[int]entry),
		versions: make(map[int]int64),
		now:      time.Now,
	}
}

func (c *MemoryConversationCache) Get(_ context.Context, userId int) ([]types.Conversation, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[userId]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, userId)
		return nil, false, nil
	}

	return cloneConversations(e.conversations), true, nil
}

func (c *MemoryConversationCache) Version(_ context.Context, userId int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.versions[userId], nil
}

// Set stores conversations unless userId was invalidated after version was
// read.
func (c *MemoryConversationCache) Set(_ context.Context, userId int, version int64, conversations []types.Conversation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.versions[userId] != version {
		return nil
	}

	c.entries[userId] = entry{
		conversations: cloneConversations(conversations),
		expires:       c.now().Add(c.ttl),
	}
	return nil
}

func (c *MemoryConversationCache) Invalidate(_ context.Context, userIds ...int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range userIds {
		delete(c.entries, id)
		c.versions[id]++
	}
	return nil
}

func cloneConversations(in []types.Conversation) []types.Conversation {
	out := make([]types.Conversation, len(in))
	copy(out, in)
	return out
}
