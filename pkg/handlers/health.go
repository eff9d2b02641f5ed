package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type healthResponse struct {
	Status string `json:"status"`
	DB     string `json:"db"`
}

// Health проверяет доступность базы
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.log.Warn("база недоступна", zap.Error(err))
		h.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", DB: "down"})
		return
	}

	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", DB: "up"})
}
