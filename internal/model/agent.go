package model

// AgentProfile — отображаемые поля агента (для подписи сообщений и списка участников).
type AgentProfile struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Email     string  `json:"email,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}
