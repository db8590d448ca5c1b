package model

import (
	"strings"
	"time"
)

type OptimisticStatus string

const (
	OptimisticPending OptimisticStatus = "pending"
	OptimisticFailed  OptimisticStatus = "failed"
)

// OptimisticMessage — сообщение, созданное консолью и ещё не подтверждённое
// хранилищем. ID — клиентский временный id (tempId); он же уходит в metadata
// запроса отправки, по нему запись гасится, когда появляется настоящее Message.
// Никогда не сохраняется в БД; failed-подмножество зеркалируется в durable-слот
// failed_messages_<chatId>, чтобы пережить перезагрузку консоли.
type OptimisticMessage struct {
	ID               string           `json:"id"`
	ChatID           string           `json:"chat_id"`
	Content          string           `json:"content"`
	Attachments      []Attachment     `json:"attachments,omitempty"`
	ReplyToMessageID *string          `json:"reply_to_message_id,omitempty"`
	Status           OptimisticStatus `json:"status"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	// CreatedAt — клиентские часы, только для отображения.
	CreatedAt time.Time `json:"created_at"`
}

// IsPending — запись ещё ждёт подтверждения отправки.
func (o *OptimisticMessage) IsPending() bool { return o.Status == OptimisticPending }

// TrimmedContent возвращает content без крайних пробелов.
func (o *OptimisticMessage) TrimmedContent() string { return strings.TrimSpace(o.Content) }
