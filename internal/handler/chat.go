package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/interflow/internal/middleware"
	"github.com/interflow/internal/model"
	"github.com/interflow/internal/repository"
)

// ChatHandler — очереди чатов и управление участниками.
type ChatHandler struct {
	chatRepo   *repository.ChatRepository
	collabRepo *repository.CollaboratorRepository
}

func NewChatHandler(chatRepo *repository.ChatRepository, collabRepo *repository.CollaboratorRepository) *ChatHandler {
	return &ChatHandler{chatRepo: chatRepo, collabRepo: collabRepo}
}

var queueStatuses = map[string]model.ChatStatus{
	"pending":       model.ChatStatusPending,
	"in_progress":   model.ChatStatusInProgress,
	"closed":        model.ChatStatusClosed,
	"await_closing": model.ChatStatusAwaitClosing,
	"spam":          model.ChatStatusSpam,
}

// ListQueue возвращает очередь чатов по статусу, свежие обращения первыми.
// GET /api/chats?status=pending&page=1
func (h *ChatHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	status, ok := queueStatuses[r.URL.Query().Get("status")]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	const pageSize = 50
	chats, err := h.chatRepo.ListByStatus(r.Context(), status, pageSize, (page-1)*pageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chats":    chats,
		"has_more": len(chats) == pageSize,
	})
}

// GetChat возвращает чат с каналом, клиентом, участниками и flow-сессией.
// GET /api/chats/{chatID}
func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	chat, err := h.chatRepo.GetByID(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load chat")
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

// JoinChat добавляет текущего агента в участники чата (или реактивирует).
// POST /api/chats/{chatID}/join
func (h *ChatHandler) JoinChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	agentID := middleware.GetAgentID(r.Context())
	if err := h.collabRepo.Join(r.Context(), chatID, agentID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to join chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "joined"})
}

// LeaveChat помечает участие текущего агента завершённым.
// POST /api/chats/{chatID}/leave
func (h *ChatHandler) LeaveChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	agentID := middleware.GetAgentID(r.Context())
	if err := h.collabRepo.Leave(r.Context(), chatID, agentID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to leave chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// ListCollaborators возвращает активных участников чата с профилями.
// GET /api/chats/{chatID}/collaborators
func (h *ChatHandler) ListCollaborators(w http.ResponseWriter, r *http.Request) {
	collabs, err := h.collabRepo.ActiveByChat(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list collaborators")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collaborators": collabs})
}
