package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/IPampurin/order-webhooks/pkg/db"
	"github.com/IPampurin/order-webhooks/pkg/printing"
)

// GetOrderLabel отдаёт ZPL этикетку заказа, с ?format=pdf - PDF через labelary
func (h *Handler) GetOrderLabel(w http.ResponseWriter, r *http.Request) {

	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		h.writeError(w, r, http.StatusBadRequest, "Параметр order_id обязателен")
		return
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

	zpl := printing.RenderLabel(printing.LabelFromOrder(order))

	switch r.URL.Query().Get("format") {
	case "", "zpl":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(zpl))
	case "pdf":
		if h.labelary == nil {
			h.writeError(w, r, http.StatusNotImplemented, "Предпросмотр PDF не настроен")
			return
		}
		pdf, err := h.labelary.RenderPDF(r.Context(), zpl)
		if err != nil {
			h.log.Warn("ошибка генерации PDF", zap.String("order_id", orderID), zap.Error(err))
			h.writeError(w, r, http.StatusBadGateway, "Не удалось получить PDF этикетки")
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `inline; filename="pedido_`+orderID+`.pdf"`)
		w.WriteHeader(http.StatusOK)
		w.Write(pdf)
	default:
		h.writeError(w, r, http.StatusBadRequest, "Параметр format: zpl или pdf")
	}
}
