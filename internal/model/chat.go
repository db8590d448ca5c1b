package model

import "time"

type ChatStatus string

const (
	ChatStatusPending      ChatStatus = "pending"
	ChatStatusInProgress   ChatStatus = "in_progress"
	ChatStatusClosed       ChatStatus = "closed"
	ChatStatusAwaitClosing ChatStatus = "await_closing"
	ChatStatusSpam         ChatStatus = "spam"
)

// ChannelDetails — канал, через который идёт переписка (тип + состояние подключения).
type ChannelDetails struct {
	ID          string      `json:"id"`
	Type        ChannelType `json:"type"`
	Name        string      `json:"name"`
	IsConnected bool        `json:"is_connected"`
}

// Customer — клиент на другой стороне чата (read-only для консоли).
type Customer struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Phone     *string `json:"phone,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// Collaborator — агент, участвующий в чате помимо назначенного.
// left_at == nil означает активное участие.
type Collaborator struct {
	ID       string        `json:"id"`
	ChatID   string        `json:"chat_id"`
	UserID   string        `json:"user_id"`
	JoinedAt time.Time     `json:"joined_at"`
	LeftAt   *time.Time    `json:"left_at,omitempty"`
	Agent    *AgentProfile `json:"agent,omitempty"`
}

// FlowSession — активная сессия автоматизации, привязанная к чату.
type FlowSession struct {
	ID     string `json:"id"`
	FlowID string `json:"flow_id"`
	Status string `json:"status"`
}

// Chat — контейнер переписки. Консоль читает его целиком с вложенными
// customer/channel/collaborators/flow_session и выводит из него права на отправку.
type Chat struct {
	ID                    string          `json:"id"`
	Status                ChatStatus      `json:"status"`
	AssignedTo            *string         `json:"assigned_to,omitempty"`
	ChannelDetails        *ChannelDetails `json:"channel_details,omitempty"`
	Customer              *Customer       `json:"customer,omitempty"`
	LastCustomerMessageAt *time.Time      `json:"last_customer_message_at,omitempty"`
	FlowSessionID         *string         `json:"flow_session_id,omitempty"`
	FlowSession           *FlowSession    `json:"flow_session,omitempty"`
	Collaborators         []Collaborator  `json:"collaborators,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
}

// ChannelType возвращает тип канала чата ("" если канал не загружен).
func (c *Chat) ChannelType() ChannelType {
	if c.ChannelDetails == nil {
		return ""
	}
	return c.ChannelDetails.Type
}
