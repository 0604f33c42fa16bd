package handler

import (
	"net/http"

	"github.com/huddle/internal/config"
)

// ConfigHandler отдаёт публичные параметры конфигурации без авторизации.
type ConfigHandler struct {
	cfg            *config.Config
	vapidPublicKey string
}

func NewConfigHandler(cfg *config.Config, vapidPublicKey string) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, vapidPublicKey: vapidPublicKey}
}

// GetCallConfig возвращает ICE-серверы для установки звонков.
func (h *ConfigHandler) GetCallConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ice_servers": h.cfg.CallICEServers,
	})
}

// GetPushConfig возвращает публичный VAPID-ключ для подписки на пуши (если включены).
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	if h.vapidPublicKey == "" {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          true,
		"vapid_public_key": h.vapidPublicKey,
	})
}
