// Package handlers - HTTP обработчики вебхуков и API чтения заказов
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/IPampurin/order-webhooks/pkg/cache"
	"github.com/IPampurin/order-webhooks/pkg/ingest"
	"github.com/IPampurin/order-webhooks/pkg/models"
)

// OrderStore - чтение и удаление заказов для API
type OrderStore interface {
	LoadOrder(ctx context.Context, orderID string) (*models.Order, error)
	ListOrders(ctx context.Context, page, limit int) ([]models.Order, int64, error)
	DeleteOrder(ctx context.Context, orderID string) error
	Ping(ctx context.Context) error
}

type PDFRenderer interface {
	RenderPDF(ctx context.Context, zpl string) ([]byte, error)
}

type Handler struct {
	ingest    *ingest.Service
	store     OrderStore
	cache     *cache.Cache
	labelary  PDFRenderer
	bodyLimit int64
	log       *zap.Logger
}

// Deps - зависимости обработчиков, Cache и Labelary могут быть nil
type Deps struct {
	Ingest    *ingest.Service
	Store     OrderStore
	Cache     *cache.Cache
	Labelary  PDFRenderer
	BodyLimit int64
	Log       *zap.Logger
}

func New(d Deps) *Handler {

	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.BodyLimit <= 0 {
		d.BodyLimit = 1 << 20
	}

	return &Handler{
		ingest:    d.Ingest,
		store:     d.Store,
		cache:     d.Cache,
		labelary:  d.Labelary,
		bodyLimit: d.BodyLimit,
		log:       d.Log.Named("http"),
	}
}

// errorResponse - единый формат ошибки
type errorResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSON маршалит ответ с отступами для читаемости
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {

	resp, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		h.log.Error("ошибка при маршалинге данных", zap.Error(err))
		http.Error(w, "Ошибка при формировании ответа", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(resp)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {

	h.writeJSON(w, status, errorResponse{
		Success:   false,
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}
