package handlers

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/IPampurin/order-webhooks/pkg/ingest"
	"github.com/IPampurin/order-webhooks/pkg/marketplace"
)

type webhookResponse struct {
	Success   bool   `json:"success"`
	OrderDBID uint   `json:"order_db_id"`
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	Ignored   bool   `json:"ignored,omitempty"`
}

type ackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// IFoodWebhook принимает вебхук iFood
func (h *Handler) IFoodWebhook(w http.ResponseWriter, r *http.Request) {

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	res, err := h.ingest.Handle(r.Context(), body)
	if err != nil {
		status, message := webhookError(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("ошибка обработки вебхука", zap.String("order_id", res.OrderID), zap.Error(err))
		} else {
			h.log.Info("вебхук отклонён", zap.String("order_id", res.OrderID), zap.Error(err))
		}
		h.writeError(w, r, status, message)
		return
	}

	// маркетплейсу на keepalive достаточно пустого объекта
	if res.Keepalive {
		h.writeJSON(w, http.StatusOK, struct{}{})
		return
	}

	h.writeJSON(w, http.StatusOK, webhookResponse{
		Success:   true,
		OrderDBID: res.OrderDBID,
		OrderID:   res.OrderID,
		Status:    res.Status,
		Ignored:   res.Ignored,
	})
}

// VendorWebhook - заглушка для вендоров без интеграции: вебхук только пишется в журнал
func (h *Handler) VendorWebhook(vendor string) http.HandlerFunc {

	return func(w http.ResponseWriter, r *http.Request) {

		body, ok := h.readBody(w, r)
		if !ok {
			return
		}

		h.ingest.Acknowledge(r.Context(), vendor, body)
		h.writeJSON(w, http.StatusOK, ackResponse{Success: true, Message: "Событие " + vendor + " принято"})
	}
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.bodyLimit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, http.StatusRequestEntityTooLarge, "Тело запроса слишком большое")
			return nil, false
		}
		h.writeError(w, r, http.StatusBadRequest, "Не удалось прочитать тело запроса")
		return nil, false
	}

	return body, true
}

// webhookError сопоставляет ошибку обработки с HTTP статусом
func webhookError(err error) (int, string) {

	var upErr *marketplace.UpstreamError
	switch {
	case errors.Is(err, ingest.ErrMalformedPayload):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ingest.ErrOrderNotFound):
		return http.StatusNotFound, err.Error()
	case errors.As(err, &upErr) && upErr.Status == http.StatusNotFound:
		return http.StatusNotFound, "Заказ не найден у маркетплейса"
	case errors.Is(err, ingest.ErrUpstreamAuth), errors.Is(err, ingest.ErrUpstreamFetch):
		return http.StatusBadGateway, "Не удалось получить детали заказа у маркетплейса"
	default:
		return http.StatusInternalServerError, "Внутренняя ошибка сервера"
	}
}
