// Package thread — ядро консоли: примирение трёх источников сообщений
// (страницы из хранилища, события ленты изменений, оптимистичные отправки)
// в одну согласованную ленту треда. Владеет дедупликацией, корреляцией
// tempId ↔ настоящий id, пагинацией с поправкой на живые вставки, сохранением
// позиции прокрутки при догрузке истории и принудительной ресинхронизацией
// после фоновых вкладок.
package thread

import (
	"context"
	"time"

	"github.com/interflow/internal/actions"
	"github.com/interflow/internal/model"
	"github.com/interflow/internal/realtime"
)

// State — состояние сессии треда.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
)

// Clock абстрагирует настенные часы: окна дедупликации и порог ресинка
// в тестах не должны зависеть от реального времени.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock — часы по умолчанию.
func SystemClock() Clock { return systemClock{} }

// MessageStore — срез хранилища, нужный ядру. Страницы приходят новыми вперёд;
// ядро само разворачивает их в хронологический порядок.
type MessageStore interface {
	PageByChat(ctx context.Context, chatID string, limit, offset int) ([]model.Message, error)
	PageByChatBefore(ctx context.Context, chatID string, before time.Time, limit int) ([]model.Message, error)
	PageByCustomer(ctx context.Context, customerID, channelID string, limit, offset int) ([]model.Message, error)
	GetByID(ctx context.Context, id string) (*model.Message, error)
}

type ChatStore interface {
	GetByID(ctx context.Context, id string) (*model.Chat, error)
}

type AgentStore interface {
	GetByID(ctx context.Context, id string) (*model.AgentProfile, error)
}

// ActionClient — побочные эффекты, которые сессия инициирует от имени агента.
type ActionClient interface {
	SendMessage(ctx context.Context, req actions.SendMessageRequest) error
	DeleteMessage(ctx context.Context, messageID string) error
}

// Canceler закрывает подписку ленты.
type Canceler interface {
	Close()
}

// Feed — срез клиента ленты изменений.
type Feed interface {
	Subscribe(table string, events []realtime.EventType, filter *realtime.Filter, h realtime.Handler) Canceler
	// LastActivity — последняя подтверждённая активность ленты (для resync-монитора).
	LastActivity() time.Time
}

// Notifier показывает агенту транзиентные уведомления и баннеры ошибок.
// Реализация — websocket-слой консоли; в тестах — запись в срез.
type Notifier interface {
	Notice(text string)
	ErrorBanner(text string)
}

// UpdateSink получает снапшот модели рендера после каждой мутации буферов.
type UpdateSink interface {
	ThreadUpdated(s Snapshot)
}

// Config — пороги ядра. Нулевые значения заменяются значениями веб-консоли.
type Config struct {
	PageSize             int
	ResyncGap            time.Duration
	NearBottomPx         float64
	PendingDedupWindow   time.Duration
	FailedDedupWindow    time.Duration
	WebViewScrollRetries int
	HighlightDuration    time.Duration
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 20
	}
	if c.ResyncGap <= 0 {
		c.ResyncGap = 30 * time.Second
	}
	if c.NearBottomPx <= 0 {
		c.NearBottomPx = 300
	}
	if c.PendingDedupWindow <= 0 {
		c.PendingDedupWindow = 5 * time.Second
	}
	if c.FailedDedupWindow <= 0 {
		c.FailedDedupWindow = 10 * time.Second
	}
	if c.WebViewScrollRetries <= 0 {
		c.WebViewScrollRetries = 5
	}
	if c.HighlightDuration <= 0 {
		c.HighlightDuration = 5 * time.Second
	}
	return c
}
