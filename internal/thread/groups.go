package thread

import (
	"time"

	"github.com/interflow/internal/model"
)

// Entry — один элемент модели рендера: подтверждённое сообщение или
// оптимистичная запись, в едином виде для UI.
type Entry struct {
	ID          string              `json:"id"`
	ChatID      string              `json:"chat_id"`
	Content     *string             `json:"content"`
	Type        model.MessageType   `json:"type"`
	SenderType  model.SenderType    `json:"sender_type"`
	Status      string              `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
	Attachments []model.Attachment  `json:"attachments,omitempty"`
	SenderAgent *model.AgentProfile `json:"sender_agent,omitempty"`
	ResponseTo  *model.Message      `json:"response_to,omitempty"`
	// Optimistic — запись ещё не подтверждена хранилищем.
	Optimistic   bool   `json:"optimistic,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	CanRetry     bool   `json:"can_retry,omitempty"`
}

// DateGroup — сообщения одной календарной даты (локальное время),
// группы упорядочены от старых к новым.
type DateGroup struct {
	Date    string  `json:"date"` // YYYY-MM-DD
	Entries []Entry `json:"entries"`
}

// ChatBlock — блок режима «вся переписка с клиентом»: сообщения одного чата
// единым блоком, блоки в порядке первого появления. Для неактивных блоков
// UI отключает ответ/удаление/ретрай.
type ChatBlock struct {
	ChatID string      `json:"chat_id"`
	Active bool        `json:"active"`
	Groups []DateGroup `json:"groups"`
}

// Snapshot — состояние треда для UI, публикуется после каждой мутации буферов.
type Snapshot struct {
	ChatID   string                `json:"chat_id"`
	State    State                 `json:"state"`
	Groups   []DateGroup           `json:"groups,omitempty"`
	Blocks   []ChatBlock           `json:"blocks,omitempty"` // режим «все чаты клиента»
	HasMore  bool                  `json:"has_more"`
	Unread   int                   `json:"unread"`
	Window   model.WindowState     `json:"window"`
	Features model.ChannelFeatures `json:"features"`
	Error    string                `json:"error,omitempty"`
}

func entryFromMessage(m model.Message) Entry {
	return Entry{
		ID:          m.ID,
		ChatID:      m.ChatID,
		Content:     m.Content,
		Type:        m.Type,
		SenderType:  m.SenderType,
		Status:      string(m.Status),
		CreatedAt:   m.CreatedAt,
		Attachments: m.Attachments,
		SenderAgent: m.SenderAgent,
		ResponseTo:  m.ResponseTo,
	}
}

func entryFromOptimistic(o model.OptimisticMessage) Entry {
	content := o.Content
	return Entry{
		ID:           o.ID,
		ChatID:       o.ChatID,
		Content:      &content,
		Type:         model.MessageTypeText,
		SenderType:   model.SenderTypeAgent,
		Status:       string(o.Status),
		CreatedAt:    o.CreatedAt,
		Attachments:  o.Attachments,
		Optimistic:   true,
		ErrorMessage: o.ErrorMessage,
		CanRetry:     o.Status == model.OptimisticFailed,
	}
}

// buildEntries собирает плоскую модель: подтверждённые по возрастанию
// created_at, затем видимые оптимистичные в порядке добавления (они всегда
// новее хвоста — клиентские часы только ориентир, порядок не пересчитываем).
func buildEntries(persisted []model.Message, optimistic []model.OptimisticMessage) []Entry {
	entries := make([]Entry, 0, len(persisted)+len(optimistic))
	for _, m := range persisted {
		entries = append(entries, entryFromMessage(m))
	}
	for _, o := range optimistic {
		entries = append(entries, entryFromOptimistic(o))
	}
	return entries
}

func dateKey(t time.Time) string {
	return t.Local().Format("2006-01-02")
}

// GroupByDate группирует плоскую модель по календарной дате (локальное время).
// Вход уже упорядочен; внутри групп порядок сохраняется как есть.
func GroupByDate(entries []Entry) []DateGroup {
	var groups []DateGroup
	for _, e := range entries {
		key := dateKey(e.CreatedAt)
		if n := len(groups); n > 0 && groups[n-1].Date == key {
			groups[n-1].Entries = append(groups[n-1].Entries, e)
			continue
		}
		groups = append(groups, DateGroup{Date: key, Entries: []Entry{e}})
	}
	return groups
}

// GroupByChat — режим «вся переписка с клиентом на этом канале»: сначала по
// чату-источнику (блоки в порядке первого появления), внутри блока — по дате.
func GroupByChat(entries []Entry, activeChatID string) []ChatBlock {
	var blocks []ChatBlock
	pos := make(map[string]int)
	for _, e := range entries {
		i, ok := pos[e.ChatID]
		if !ok {
			i = len(blocks)
			pos[e.ChatID] = i
			blocks = append(blocks, ChatBlock{ChatID: e.ChatID, Active: e.ChatID == activeChatID})
		}
		key := dateKey(e.CreatedAt)
		groups := blocks[i].Groups
		if n := len(groups); n > 0 && groups[n-1].Date == key {
			groups[n-1].Entries = append(groups[n-1].Entries, e)
		} else {
			groups = append(groups, DateGroup{Date: key, Entries: []Entry{e}})
		}
		blocks[i].Groups = groups
	}
	return blocks
}
