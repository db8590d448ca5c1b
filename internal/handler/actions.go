package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/interflow/internal/actions"
	"github.com/interflow/internal/logger"
)

// ActionsHandler — операции над чатом, уходящие в бэкенд действий:
// резолв, автоматизации, сводка переписки.
type ActionsHandler struct {
	actions *actions.Client
}

func NewActionsHandler(actionsClient *actions.Client) *ActionsHandler {
	return &ActionsHandler{actions: actionsClient}
}

// ResolveChat закрывает обращение.
// POST /api/chats/{chatID}/resolve
func (h *ActionsHandler) ResolveChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	var req struct {
		ClosureType string `json:"closure_type"`
		Title       string `json:"title"`
	}
	if err := decodeJSON(r, &req); err != nil || req.ClosureType == "" {
		writeError(w, http.StatusBadRequest, "closure_type обязателен")
		return
	}
	if err := h.actions.ResolveChat(r.Context(), chatID, req.ClosureType, req.Title); err != nil {
		logger.Errorf("handler.ResolveChat %s: %v", chatID, err)
		writeBackendError(w, err, "failed to resolve chat")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "resolved"})
}

// StartFlow запускает автоматизацию в чате.
// POST /api/chats/{chatID}/flows
func (h *ActionsHandler) StartFlow(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	var req struct {
		FlowID string `json:"flow_id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.FlowID == "" {
		writeError(w, http.StatusBadRequest, "flow_id обязателен")
		return
	}
	if err := h.actions.StartFlow(r.Context(), chatID, req.FlowID); err != nil {
		logger.Errorf("handler.StartFlow %s: %v", chatID, err)
		writeBackendError(w, err, "failed to start flow")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// PauseFlow приостанавливает активную flow-сессию.
// POST /api/flow-sessions/{sessionID}/pause
func (h *ActionsHandler) PauseFlow(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.actions.PauseFlow(r.Context(), sessionID); err != nil {
		logger.Errorf("handler.PauseFlow %s: %v", sessionID, err)
		writeBackendError(w, err, "failed to pause flow")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "paused"})
}

// GenerateSummary запрашивает сводку переписки у бэкенда.
// POST /api/chats/{chatID}/summary
func (h *ActionsHandler) GenerateSummary(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	summary, err := h.actions.GenerateSummary(r.Context(), chatID)
	if err != nil {
		logger.Errorf("handler.GenerateSummary %s: %v", chatID, err)
		writeBackendError(w, err, "failed to generate summary")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}
