package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/IPampurin/order-webhooks/pkg/db"
)

// GetOrderByID выдаёт заказ в формате маркетплейса, сначала смотрит в кэш
func (h *Handler) GetOrderByID(w http.ResponseWriter, r *http.Request) {

	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		h.writeError(w, r, http.StatusBadRequest, "Параметр order_id обязателен")
		return
	}

	// в кэше лежит готовое представление
	if data, ok := h.cache.Get(r.Context(), orderID); ok {
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "    "); err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(buf.Bytes())
			h.log.Debug("заказ найден в кэше", zap.String("order_id", orderID))
			return
		}
	}

	order, err := h.store.LoadOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, r, http.StatusNotFound, "Заказ не найден")
			return
		}
		h.log.Error("ошибка при получении заказа", zap.String("order_id", orderID), zap.Error(err))
		h.writeError(w, r, http.StatusInternalServerError, "Ошибка при получении заказа")
		return
	}

	view := order.View()
	h.cache.Set(r.Context(), orderID, view)

	h.writeJSON(w, http.StatusOK, view)
}
