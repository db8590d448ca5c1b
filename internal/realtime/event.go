// Package realtime — клиент сервиса ленты изменений: подписки на таблицы
// управляемого хранилища с доставкой INSERT/UPDATE/DELETE по websocket.
// Гарантии сервиса: at-least-once, порядок эмиссии сервера внутри одной таблицы,
// никакого порядка между разными подписками.
package realtime

import "encoding/json"

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Filter — фильтр подписки по равенству колонки (например chat_id = <id>).
// nil — подписка на всю таблицу.
type Filter struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

// Event — одно событие изменения строки. Old заполняется для UPDATE/DELETE,
// New — для INSERT/UPDATE. Строки приходят сырым JSON: декодирует потребитель.
type Event struct {
	Table string          `json:"table"`
	Type  EventType       `json:"event"`
	Old   json.RawMessage `json:"old,omitempty"`
	New   json.RawMessage `json:"new,omitempty"`
}

// Handler вызывается для каждого события подписки. Вызовы последовательны
// (из читающей горутины клиента) — порядок внутри подписки сохраняется.
type Handler func(Event)

// --- Кадры wire-протокола ---

type outFrame struct {
	Action string      `json:"action"` // subscribe | unsubscribe | heartbeat
	ID     string      `json:"id,omitempty"`
	Table  string      `json:"table,omitempty"`
	Events []EventType `json:"events,omitempty"`
	Filter *Filter     `json:"filter,omitempty"`
}

type inFrame struct {
	Type  string          `json:"type"` // connected | heartbeat_ack | event | error
	SubID string          `json:"sub_id,omitempty"`
	Table string          `json:"table,omitempty"`
	Event EventType       `json:"event,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
	New   json.RawMessage `json:"new,omitempty"`
	Error string          `json:"error,omitempty"`
}
