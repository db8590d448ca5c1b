package handler

import "github.com/go-chi/chi/v5"

// Routes монтирует аутентифицированный REST API консоли. chi сопоставляет имена
// параметров пути по точной строке, поэтому шаблоны живут рядом с обработчиками,
// которые эти параметры читают.
func Routes(r chi.Router, chatH *ChatHandler, msgH *MessageHandler, actionsH *ActionsHandler, wsH *WSHandler) {
	r.Get("/api/chats", chatH.ListQueue)
	r.Get("/api/chats/{chatID}", chatH.GetChat)
	r.Post("/api/chats/{chatID}/join", chatH.JoinChat)
	r.Post("/api/chats/{chatID}/leave", chatH.LeaveChat)
	r.Get("/api/chats/{chatID}/collaborators", chatH.ListCollaborators)
	r.Post("/api/chats/{chatID}/resolve", actionsH.ResolveChat)
	r.Post("/api/chats/{chatID}/flows", actionsH.StartFlow)
	r.Post("/api/flow-sessions/{sessionID}/pause", actionsH.PauseFlow)
	r.Post("/api/chats/{chatID}/summary", actionsH.GenerateSummary)
	r.Get("/api/chats/{chatID}/messages", msgH.ListMessages)
	r.Post("/api/chats/{chatID}/messages", msgH.SendWithAttachments)
	r.Post("/api/chats/{chatID}/messages/template", msgH.SendTemplate)
	r.Get("/api/messages/{messageID}", msgH.GetMessage)
	r.Delete("/api/messages/{messageID}", msgH.DeleteMessage)
	r.Get("/ws", wsH.ServeWS)
}
