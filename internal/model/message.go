package model

import (
	"strings"
	"time"
)

type MessageType string

const (
	MessageTypeText         MessageType = "text"
	MessageTypeImage        MessageType = "image"
	MessageTypeVideo        MessageType = "video"
	MessageTypeAudio        MessageType = "audio"
	MessageTypeDocument     MessageType = "document"
	MessageTypeSticker      MessageType = "sticker"
	MessageTypeTemplate     MessageType = "template"
	MessageTypeUserJoin     MessageType = "user_join"
	MessageTypeUserLeave    MessageType = "user_leave"
	MessageTypeUserTransfer MessageType = "user_transfer"
	MessageTypeChatClosed   MessageType = "chat_closed"
)

// IsSystemEvent сообщает, является ли тип служебным событием чата
// (присоединение/выход/перевод/закрытие), а не пользовательским контентом.
func (t MessageType) IsSystemEvent() bool {
	switch t {
	case MessageTypeUserJoin, MessageTypeUserLeave, MessageTypeUserTransfer, MessageTypeChatClosed:
		return true
	}
	return false
}

type SenderType string

const (
	SenderTypeCustomer SenderType = "customer"
	SenderTypeAgent    SenderType = "agent"
	SenderTypeSystem   SenderType = "system"
)

type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusDeleted   MessageStatus = "deleted"
)

// Attachment — вложение сообщения (ссылка на объектное хранилище).
type Attachment struct {
	URL  string `json:"url"`
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// Message — сообщение, как оно хранится в БД. id присваивается хранилищем,
// стабилен и уникален; created_at задаёт порядок отображения.
type Message struct {
	ID                string         `json:"id"`
	ChatID            string         `json:"chat_id"`
	Content           *string        `json:"content"`
	Type              MessageType    `json:"type"`
	SenderType        SenderType     `json:"sender_type"`
	SenderAgentID     *string        `json:"sender_agent_id,omitempty"`
	SenderCustomerID  *string        `json:"sender_customer_id,omitempty"`
	Status            MessageStatus  `json:"status"`
	CreatedAt         time.Time      `json:"created_at"`
	Attachments       []Attachment   `json:"attachments,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	ResponseMessageID *string        `json:"response_message_id,omitempty"`

	// Обогащение для отображения (не колонки messages)
	SenderAgent *AgentProfile `json:"sender_agent,omitempty"`
	ResponseTo  *Message      `json:"response_to,omitempty"`
}

// TempID возвращает клиентский временный id из metadata, если отправка
// инициирована консолью, иначе пустую строку.
func (m *Message) TempID() string {
	if m.Metadata == nil {
		return ""
	}
	if v, ok := m.Metadata["tempId"].(string); ok {
		return v
	}
	return ""
}

// TrimmedContent возвращает content без крайних пробелов ("" для nil).
func (m *Message) TrimmedContent() string {
	if m.Content == nil {
		return ""
	}
	return strings.TrimSpace(*m.Content)
}
