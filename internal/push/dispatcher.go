package push

import (
	"context"
	"encoding/json"
	"time"

	"github.com/interflow/internal/logger"
	"github.com/interflow/internal/model"
	"github.com/interflow/internal/realtime"
)

// Presence отвечает, подключена ли хоть одна консоль агента.
type Presence interface {
	Connected(agentID string) bool
}

type chatGetter interface {
	GetByID(ctx context.Context, id string) (*model.Chat, error)
}

// Dispatcher слушает вставки сообщений по всей таблице и шлёт web push
// назначенному агенту чата, если ни одна его консоль не подключена.
// Подключённые консоли получают сообщение через свою сессию — пуш был бы шумом.
type Dispatcher struct {
	client   *Client
	chats    chatGetter
	presence Presence
}

func NewDispatcher(client *Client, chats chatGetter, presence Presence) *Dispatcher {
	return &Dispatcher{client: client, chats: chats, presence: presence}
}

// Attach подписывает диспетчер на ленту. Возвращённая подписка живёт до
// закрытия клиента ленты.
func (d *Dispatcher) Attach(feed *realtime.Client) *realtime.Subscription {
	return feed.Subscribe("messages", []realtime.EventType{realtime.EventInsert}, nil, d.handleInsert)
}

func (d *Dispatcher) handleInsert(ev realtime.Event) {
	var m model.Message
	if err := json.Unmarshal(ev.New, &m); err != nil {
		logger.Errorf("push.dispatch decode: %v", err)
		return
	}
	// Только входящие от клиентов: свои и системные события пушей не заслуживают.
	if m.SenderType != model.SenderTypeCustomer {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	chat, err := d.chats.GetByID(ctx, m.ChatID)
	if err != nil {
		logger.Errorf("push.dispatch chat %s: %v", m.ChatID, err)
		return
	}
	if chat.AssignedTo == nil || *chat.AssignedTo == "" {
		return
	}
	agentID := *chat.AssignedTo
	if d.presence.Connected(agentID) {
		return
	}

	title := "Новое сообщение"
	if chat.Customer != nil && chat.Customer.Name != "" {
		title = chat.Customer.Name
	}
	body := m.TrimmedContent()
	if body == "" {
		body = "Вложение"
	}
	d.client.Notify(ctx, agentID, title, body, map[string]string{
		"chat_id":    m.ChatID,
		"message_id": m.ID,
	})
}
