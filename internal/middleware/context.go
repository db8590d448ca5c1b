package middleware

import "context"

type contextKey string

const (
	AgentIDKey  contextKey = "agent_id"
	TenantIDKey contextKey = "tenant_id"
	TokenKey    contextKey = "token"
)

// GetAgentID возвращает agent_id из контекста (устанавливается AuthJWT).
func GetAgentID(ctx context.Context) string {
	v, _ := ctx.Value(AgentIDKey).(string)
	return v
}

// GetTenantID возвращает tenant_id из контекста (устанавливается AuthJWT).
func GetTenantID(ctx context.Context) string {
	v, _ := ctx.Value(TenantIDKey).(string)
	return v
}

// GetToken возвращает сырой bearer-токен запроса (для проксирования в бэкенд действий).
func GetToken(ctx context.Context) string {
	v, _ := ctx.Value(TokenKey).(string)
	return v
}
