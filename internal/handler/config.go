package handler

import (
	"net/http"

	"github.com/interflow/internal/config"
)

// ConfigHandler отдаёт публичные параметры конфигурации консоли.
type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// GetThreadConfig возвращает пороги треда, которые консоль должна знать
// (без авторизации: значения не секретны).
func (h *ConfigHandler) GetThreadConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"page_size":          h.cfg.Thread.PageSize,
		"near_bottom_px":     h.cfg.Thread.NearBottomPx,
		"highlight_seconds":  int(h.cfg.Thread.HighlightDuration.Seconds()),
		"resync_gap_seconds": int(h.cfg.Thread.ResyncGap.Seconds()),
	})
}

// GetNotifyConfig возвращает публичный VAPID-ключ для подписки на пуши (если включены).
func (h *ConfigHandler) GetNotifyConfig(w http.ResponseWriter, r *http.Request) {
	if h.cfg.NotifyServiceURL == "" {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":    true,
		"notify_url": h.cfg.NotifyServiceURL,
	})
}
