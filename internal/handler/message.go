package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/interflow/internal/actions"
	"github.com/interflow/internal/logger"
	"github.com/interflow/internal/repository"
)

const maxAttachmentMemory = 32 << 20 // 32 MB

// MessageHandler — REST-доступ к сообщениям: страницы истории для внешних
// интеграций и отправка с вложениями (файлы не гоняются через websocket).
type MessageHandler struct {
	msgRepo  *repository.MessageRepository
	actions  *actions.Client
	pageSize int
}

func NewMessageHandler(msgRepo *repository.MessageRepository, actionsClient *actions.Client, pageSize int) *MessageHandler {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &MessageHandler{msgRepo: msgRepo, actions: actionsClient, pageSize: pageSize}
}

// ListMessages возвращает страницу сообщений чата, новые первыми.
// GET /api/chats/{chatID}/messages?page=1
func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	msgs, err := h.msgRepo.PageByChat(r.Context(), chatID, h.pageSize, (page-1)*h.pageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"has_more": len(msgs) == h.pageSize,
	})
}

// GetMessage возвращает одно сообщение (цель deep link).
// GET /api/messages/{messageID}
func (h *MessageHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.msgRepo.GetByID(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load message")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// SendWithAttachments принимает multipart-отправку с файлами и проксирует её
// в бэкенд действий. tempId берётся из формы (его сгенерировала консоль и уже
// держит оптимистичную запись) или создаётся здесь.
// POST /api/chats/{chatID}/messages
func (h *MessageHandler) SendWithAttachments(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if err := r.ParseMultipartForm(maxAttachmentMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	req := actions.SendMessageRequest{
		ChatID:           chatID,
		Content:          r.FormValue("content"),
		ReplyToMessageID: r.FormValue("reply_to_message_id"),
		TempID:           r.FormValue("temp_id"),
	}
	if req.TempID == "" {
		req.TempID = "tmp-" + uuid.NewString()
	}
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["attachments"] {
			f, err := fh.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, "broken attachment")
				return
			}
			defer f.Close()
			req.Attachments = append(req.Attachments, actions.Attachment{
				Name:    fh.Filename,
				Type:    fh.Header.Get("Content-Type"),
				Content: f,
			})
		}
	}
	if err := h.actions.SendMessage(r.Context(), req); err != nil {
		logger.Errorf("handler.SendWithAttachments chat=%s: %v", chatID, err)
		writeBackendError(w, err, "failed to send message")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"temp_id": req.TempID})
}

// SendTemplate отправляет шаблон канала (единственный путь вне 24-часового окна).
// POST /api/chats/{chatID}/messages/template
func (h *MessageHandler) SendTemplate(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	var req struct {
		TemplateID string            `json:"template_id"`
		Params     map[string]string `json:"params"`
	}
	if err := decodeJSON(r, &req); err != nil || req.TemplateID == "" {
		writeError(w, http.StatusBadRequest, "template_id обязателен")
		return
	}
	if err := h.actions.SendTemplate(r.Context(), chatID, req.TemplateID, req.Params); err != nil {
		logger.Errorf("handler.SendTemplate chat=%s: %v", chatID, err)
		writeBackendError(w, err, "failed to send template")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// DeleteMessage проксирует удаление в бэкенд действий. Из буферов консолей
// сообщение уйдёт через DELETE-событие ленты.
// DELETE /api/messages/{messageID}
func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	if err := h.actions.DeleteMessage(r.Context(), messageID); err != nil {
		logger.Errorf("handler.DeleteMessage %s: %v", messageID, err)
		writeBackendError(w, err, "failed to delete message")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "deleted"})
}

// writeBackendError отдаёт текст ошибки бэкенда действий как есть (агент
// должен видеть причину отказа), либо generic-сообщение.
func writeBackendError(w http.ResponseWriter, err error, fallback string) {
	var berr *actions.BackendError
	if errors.As(err, &berr) {
		status := berr.StatusCode
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		writeError(w, status, berr.Error())
		return
	}
	writeError(w, http.StatusBadGateway, fallback)
}
