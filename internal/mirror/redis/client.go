package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/interflow/internal/model"
	"github.com/redis/go-redis/v9"
)

// Слот живёт 30 дней: неотправленное сообщение месячной давности ретраить
// уже бессмысленно, окно ответа канала давно закрыто.
const failedSlotTTL = 30 * 24 * time.Hour

const keyPrefix = "failed_messages_"

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// SaveFailed сериализует failed-подмножество в слот чата. Вызывается после
// каждой мутации подмножества; пустой список означает «всё отправлено» — слот удаляется.
func (c *Client) SaveFailed(ctx context.Context, chatID string, entries []model.OptimisticMessage) error {
	key := keyPrefix + chatID
	if len(entries) == 0 {
		return c.cli.Del(ctx, key).Err()
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("mirror marshal chat=%s: %w", chatID, err)
	}
	return c.cli.Set(ctx, key, data, failedSlotTTL).Err()
}

// LoadFailed читает слот чата; вызывается один раз при активации чата.
func (c *Client) LoadFailed(ctx context.Context, chatID string) ([]model.OptimisticMessage, error) {
	val, err := c.cli.Get(ctx, keyPrefix+chatID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []model.OptimisticMessage
	if err := json.Unmarshal(val, &entries); err != nil {
		return nil, fmt.Errorf("mirror unmarshal chat=%s: %w", chatID, err)
	}
	return entries, nil
}
