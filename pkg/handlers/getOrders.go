package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/IPampurin/order-webhooks/pkg/models"
)

const maxLimit = 100

// OrderSummary - строка списка заказов
type OrderSummary struct {
	OrderDBID    uint     `json:"order_db_id"`
	OrderID      string   `json:"orderId"`
	DisplayID    *string  `json:"displayId"`
	Status       string   `json:"status"`
	CreatedAt    *string  `json:"createdAt"`
	MerchantName *string  `json:"merchantName"`
	CustomerName *string  `json:"customerName"`
	OrderAmount  *float64 `json:"orderAmount"`
}

type ordersResponse struct {
	Total  int64          `json:"total"`
	Page   int            `json:"page"`
	Limit  int            `json:"limit"`
	Orders []OrderSummary `json:"orders"`
}

// GetOrders выводит список заказов с учётом параметров пагинации и общим количеством
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {

	// значения по умолчанию
	page := 1
	limit := 10

	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = min(l, maxLimit)
	}

	orders, total, err := h.store.ListOrders(r.Context(), page, limit)
	if err != nil {
		h.log.Error("ошибка при получении заказов", zap.Error(err))
		h.writeError(w, r, http.StatusInternalServerError, "Ошибка при получении заказов")
		return
	}

	resp := ordersResponse{Total: total, Page: page, Limit: limit, Orders: make([]OrderSummary, 0, len(orders))}
	for i := range orders {
		resp.Orders = append(resp.Orders, summary(&orders[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
	h.log.Debug("возвращён список заказов", zap.Int("count", len(orders)), zap.Int64("total", total))
}

func summary(o *models.Order) OrderSummary {

	s := OrderSummary{
		OrderDBID:   o.ID,
		OrderID:     o.OrderID,
		DisplayID:   o.DisplayID,
		Status:      o.Status,
		OrderAmount: o.OrderAmount,
	}
	if o.OrderCreatedAt != nil {
		t := o.OrderCreatedAt.UTC().Format(time.RFC3339Nano)
		s.CreatedAt = &t
	}
	if o.Merchant != nil {
		s.MerchantName = o.Merchant.Name
	}
	if o.Customer != nil {
		s.CustomerName = o.Customer.Name
	}

	return s
}
