package ws

import (
	"github.com/interflow/internal/thread"
)

type CommandType string

// Commands the console sends over the socket.
const (
	CmdActivate        CommandType = "activate"
	CmdActivateMessage CommandType = "activate_message"
	CmdCustomerHistory CommandType = "customer_history"
	CmdSend            CommandType = "send"
	CmdRetry           CommandType = "retry"
	CmdDiscard         CommandType = "discard"
	CmdDelete          CommandType = "delete"
	CmdLoadOlder       CommandType = "load_older"
	CmdMarkRead        CommandType = "mark_read"
	CmdVisible         CommandType = "visible"
	CmdViewportResult  CommandType = "viewport_result"
)

type EventType string

// Events the gateway pushes to the console.
const (
	EventThreadUpdate    EventType = "thread_update"
	EventNotice          EventType = "notice"
	EventErrorBanner     EventType = "error_banner"
	EventViewportRequest EventType = "viewport_request"
	EventError           EventType = "error"
)

// IncomingMessage is what the console sends to the gateway.
type IncomingMessage struct {
	Type CommandType `json:"type"`

	ChatID    string `json:"chat_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`

	// For customer_history
	CustomerID string `json:"customer_id,omitempty"`
	ChannelID  string `json:"channel_id,omitempty"`

	// For send / retry / discard
	Content   string  `json:"content,omitempty"`
	ReplyToID *string `json:"reply_to_id,omitempty"`
	TempID    string  `json:"temp_id,omitempty"`

	// For viewport_result
	RequestID string          `json:"request_id,omitempty"`
	Viewport  *ViewportResult `json:"viewport,omitempty"`
}

// ViewportResult carries list geometry back from the console.
type ViewportResult struct {
	OK             bool    `json:"ok"`
	AnchorFound    bool    `json:"anchor_found,omitempty"`
	AnchorOffset   float64 `json:"anchor_offset,omitempty"`
	ScrollTop      float64 `json:"scroll_top,omitempty"`
	ScrollHeight   float64 `json:"scroll_height,omitempty"`
	BottomGap      float64 `json:"bottom_gap,omitempty"`
	FirstVisibleID string  `json:"first_visible_id,omitempty"`
}

// OutgoingMessage is what the gateway sends to the console.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// ThreadUpdatePayload — full render snapshot after a buffer mutation.
type ThreadUpdatePayload struct {
	Snapshot thread.Snapshot `json:"snapshot"`
}

// NoticePayload is a transient toast.
type NoticePayload struct {
	Text string `json:"text"`
}

// ViewportRequestPayload asks the console to run a scroll operation and
// reply with viewport_result carrying the same request_id.
type ViewportRequestPayload struct {
	RequestID   string  `json:"request_id"`
	Op          string  `json:"op"` // metrics | first_visible | set_scroll_top | scroll_bottom | scroll_to | reflow
	AnchorID    string  `json:"anchor_id,omitempty"`
	MessageID   string  `json:"message_id,omitempty"`
	ScrollTop   float64 `json:"scroll_top,omitempty"`
	HighlightMS int64   `json:"highlight_ms,omitempty"`
}
