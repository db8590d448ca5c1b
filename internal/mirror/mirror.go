// Package mirror — durable-зеркало неотправленных сообщений. Failed-подмножество
// оптимистичного буфера переживает перезагрузку консоли: по одному слоту на чат,
// ключ failed_messages_<chatId>.
// Реализации: redis.Client, memory.Client (для -dev без Redis и для тестов).
package mirror

import (
	"context"

	"github.com/interflow/internal/model"
)

type FailedStore interface {
	// SaveFailed перезаписывает слот чата целиком; пустой список удаляет слот.
	SaveFailed(ctx context.Context, chatID string, entries []model.OptimisticMessage) error
	// LoadFailed возвращает содержимое слота (nil, nil если слота нет).
	LoadFailed(ctx context.Context, chatID string) ([]model.OptimisticMessage, error)
	Close() error
}
