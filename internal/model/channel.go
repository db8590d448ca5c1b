package model

import "time"

type ChannelType string

const (
	ChannelWhatsAppOfficial ChannelType = "whatsapp_official"
	ChannelWhatsAppWApi     ChannelType = "whatsapp_wapi"
	ChannelWhatsAppEvo      ChannelType = "whatsapp_evo"
	ChannelInstagram        ChannelType = "instagram"
	ChannelFacebook         ChannelType = "facebook"
)

// MessageWindow — длительность окна ответа на каналах с ограничением
// (Meta закрывает переписку через 24 часа после последнего сообщения клиента).
const MessageWindow = 24 * time.Hour

// ChannelFeatures — что разрешено на канале. Чистая производная конфигурация:
// не хранится, пересчитывается при каждой смене типа канала чата.
type ChannelFeatures struct {
	CanReplyToMessage bool `json:"can_reply_to_message"`
	CanSendAudio      bool `json:"can_send_audio"`
	CanSendTemplates  bool `json:"can_send_templates"`
	CanDeleteMessage  bool `json:"can_delete_message"`
	CanEditMessage    bool `json:"can_edit_message"`
}

// FeaturesFor возвращает один из четырёх фиксированных профилей по типу канала.
// Неизвестный тип получает профиль как у неофициального WhatsApp.
func FeaturesFor(t ChannelType) ChannelFeatures {
	switch t {
	case ChannelWhatsAppOfficial:
		return ChannelFeatures{CanReplyToMessage: true, CanSendAudio: true, CanSendTemplates: true}
	case ChannelInstagram:
		return ChannelFeatures{CanReplyToMessage: true}
	case ChannelFacebook:
		return ChannelFeatures{CanReplyToMessage: true, CanSendAudio: true}
	default:
		// whatsapp_wapi / whatsapp_evo: полный контроль над сессией
		return ChannelFeatures{
			CanReplyToMessage: true,
			CanSendAudio:      true,
			CanDeleteMessage:  true,
			CanEditMessage:    true,
		}
	}
}

// IsWindowLimited сообщает, действует ли на канале 24-часовое окно ответа.
func IsWindowLimited(t ChannelType) bool {
	switch t {
	case ChannelInstagram, ChannelFacebook, ChannelWhatsAppOfficial:
		return true
	}
	return false
}

// WindowState — производные флаги окна ответа для рендера.
type WindowState struct {
	// CanSendMessage — разрешена ли свободная отправка текста.
	CanSendMessage bool `json:"can_send_message"`
	// IsMessageWindowClosed — окно истекло (значимо только на window-limited каналах).
	IsMessageWindowClosed bool `json:"is_message_window_closed"`
	// CanSendTemplate — разрешены ли шаблонные отправки (whatsapp_official вне окна).
	CanSendTemplate bool `json:"can_send_template"`
}

// WindowStateAt вычисляет состояние окна ответа на момент now.
// Сравнение по настенным часам при каждом рендере, без таймеров.
func WindowStateAt(chat *Chat, now time.Time) WindowState {
	t := chat.ChannelType()
	features := FeaturesFor(t)
	if !IsWindowLimited(t) {
		return WindowState{CanSendMessage: true, CanSendTemplate: features.CanSendTemplates}
	}
	closed := chat.LastCustomerMessageAt == nil ||
		now.Sub(*chat.LastCustomerMessageAt) > MessageWindow
	return WindowState{
		CanSendMessage:        !closed,
		IsMessageWindowClosed: closed,
		CanSendTemplate:       features.CanSendTemplates,
	}
}
