package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/IPampurin/order-webhooks/pkg/config"
	"github.com/IPampurin/order-webhooks/pkg/handlers"
	"github.com/IPampurin/order-webhooks/pkg/ingest"
	"github.com/IPampurin/order-webhooks/pkg/metrics"
	"github.com/IPampurin/order-webhooks/pkg/shutdown"
)

// NewRouter собирает роутер со всеми маршрутами сервиса
func NewRouter(h *handlers.Handler, jwtSecret string) http.Handler {

	r := chi.NewRouter() // роутер

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Instrument)
	r.Use(shutdown.Middleware)

	// вебхуки маркетплейсов
	r.Post("/webhook/ifood", h.IFoodWebhook)
	r.Post("/webhook/amazon", h.VendorWebhook(ingest.VendorAmazon))
	r.Post("/webhook/shopee", h.VendorWebhook(ingest.VendorShopee))

	// API чтения заказов
	r.Group(func(r chi.Router) {
		r.Use(h.RequireJWT(jwtSecret))
		r.Get("/orders", h.GetOrders)
		r.Get("/orders/{order_id}", h.GetOrderByID)
		r.Get("/orders/{order_id}/label", h.GetOrderLabel)
		r.Delete("/orders/{order_id}", h.DeleteOrder)
	})

	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	return r
}

// Run запускает сервер и блокируется до graceful shutdown
func Run(ctx context.Context, cfg config.Server, handler http.Handler, log *zap.Logger) error {

	// создаем экземпляр сервера
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return serve(ctx, srv, cfg.ShutdownTimeout, log, srv.ListenAndServe)
}

func serve(ctx context.Context, srv *http.Server, timeout time.Duration, log *zap.Logger, listen func() error) error {

	if log == nil {
		log = zap.NewNop()
	}

	done := make(chan struct{})

	// горутина для graceful shutdown
	go func() {

		defer close(done)

		// ждём сигнала отмены
		<-ctx.Done()
		log.Info("получен сигнал завершения, начинаем graceful shutdown")

		// переключаем флаг
		shutdown.StartShutdown()
		log.Info("приложение помечено как останавливающееся")

		// останавливаем сервер (до окончания текущих соединений или таймаута)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("ошибка при остановке сервера", zap.Error(err))
		} else {
			log.Info("сервер корректно остановлен")
		}
	}()

	// запускаем сервер (блокирующий вызов)
	log.Info("запуск сервера", zap.String("addr", srv.Addr))
	if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ошибка сервера: %w", err)
	}

	// дожидаемся окончания Shutdown
	<-done

	return nil
}
