package memory

import (
	"context"
	"sync"

	"github.com/interflow/internal/model"
)

type Client struct {
	mu    sync.RWMutex
	slots map[string][]model.OptimisticMessage
}

func New() *Client {
	return &Client{slots: make(map[string][]model.OptimisticMessage)}
}

func (c *Client) Close() error { return nil }

func (c *Client) SaveFailed(ctx context.Context, chatID string, entries []model.OptimisticMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(entries) == 0 {
		delete(c.slots, chatID)
		return nil
	}
	cp := make([]model.OptimisticMessage, len(entries))
	copy(cp, entries)
	c.slots[chatID] = cp
	return nil
}

func (c *Client) LoadFailed(ctx context.Context, chatID string) ([]model.OptimisticMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries, ok := c.slots[chatID]
	if !ok {
		return nil, nil
	}
	cp := make([]model.OptimisticMessage, len(entries))
	copy(cp, entries)
	return cp, nil
}
