// Package metrics - прометеус метрики сервиса
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// вебхуки по вендору, коду события и исходу (created, updated, ignored, keepalive, error...)
	webhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_webhooks_received_total",
		Help: "Количество принятых вебхуков",
	}, []string{"vendor", "event", "outcome"})

	// зафиксированные смены статусов
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Количество зафиксированных смен статуса заказа",
	}, []string{"status"})

	// сбои побочных действий: confirm, print, archive, publish, dlq
	sideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_side_effect_failures_total",
		Help: "Количество неудачных побочных действий",
	}, []string{"kind"})

	// время исходящих вызовов к маркетплейсу
	outboundDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "order_outbound_request_duration_seconds",
		Help:    "Время ответа внешнего API",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"op", "outcome"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "order_http_request_duration_seconds",
		Help:    "Время обработки входящих HTTP запросов",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"method", "route", "code"})
)

func Webhook(vendor, event, outcome string) {

	if event == "" {
		event = "unknown"
	}
	webhooksTotal.WithLabelValues(vendor, event, outcome).Inc()
}

func Transition(status string) {
	transitionsTotal.WithLabelValues(status).Inc()
}

func SideEffectFailed(kind string) {
	sideEffectFailures.WithLabelValues(kind).Inc()
}

// ObserveOutbound подходит как marketplace.ObserveFunc
func ObserveOutbound(op, outcome string, d time.Duration) {
	outboundDuration.WithLabelValues(op, outcome).Observe(d.Seconds())
}

// Handler отдаёт метрики для /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument меряет время запросов по шаблону маршрута chi
func Instrument(next http.Handler) http.Handler {

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		// шаблон маршрута известен только после роутинга
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}

		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}

		httpDuration.WithLabelValues(r.Method, route, strconv.Itoa(code)).Observe(time.Since(start).Seconds())
	})
}
