package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/IPampurin/order-webhooks/pkg/db"
)

// DeleteOrder удаляет заказ со всеми вложенными данными и убирает его из кэша
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {

	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		h.writeError(w, r, http.StatusBadRequest, "Параметр order_id обязателен")
		return
	}

	if err := h.store.DeleteOrder(r.Context(), orderID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, r, http.StatusNotFound, "Заказ не найден")
			return
		}
		h.log.Error("ошибка при удалении заказа", zap.String("order_id", orderID), zap.Error(err))
		h.writeError(w, r, http.StatusInternalServerError, "Ошибка при удалении заказа")
		return
	}

	h.cache.Invalidate(r.Context(), orderID)
	h.log.Info("заказ удалён", zap.String("order_id", orderID))

	w.WriteHeader(http.StatusNoContent)
}
