package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/perspectra/internal/cache"
	"github.com/BaSui01/perspectra/types"
)

const stateKeyPrefix = "state:"

// StateCache keeps the latest ConversationState per conversation in Redis
// so a restarted process can report where a session left off.
type StateCache struct {
	cache *cache.Manager
	ttl   time.Duration
}

// NewStateCache 创建状态缓存，ttl <= 0 时使用 24h
func NewStateCache(m *cache.Manager, ttl time.Duration) *StateCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StateCache{cache: m, ttl: ttl}
}

func stateKey(conversationID string) string {
	return stateKeyPrefix + conversationID
}

// Save overwrites the cached snapshot
func (c *StateCache) Save(ctx context.Context, conversationID string, state types.ConversationState) error {
	if conversationID == "" {
		return ErrInvalidInput
	}
	if err := c.cache.SetJSON(ctx, stateKey(conversationID), state, c.ttl); err != nil {
		return fmt.Errorf("save state %s: %w", conversationID, err)
	}
	return nil
}

// Load returns ErrNotFound for an unknown or expired conversation.
func (c *StateCache) Load(ctx context.Context, conversationID string) (types.ConversationState, error) {
	var state types.ConversationState
	err := c.cache.GetJSON(ctx, stateKey(conversationID), &state)
	if cache.IsCacheMiss(err) {
		return types.ConversationState{}, ErrNotFound
	}
	if err != nil {
		return types.ConversationState{}, fmt.Errorf("load state %s: %w", conversationID, err)
	}
	return state, nil
}

func (c *StateCache) Delete(ctx context.Context, conversationID string) error {
	return c.cache.Delete(ctx, stateKey(conversationID))
}
