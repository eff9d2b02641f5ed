package shutdown

import (
	"net/http"
	"sync/atomic"
)

var isShuttingDown int32 // флаг состояния сервера

// IsShuttingDown проверяет, находится ли приложение в процессе остановки
func IsShuttingDown() bool {

	return atomic.LoadInt32(&isShuttingDown) == 1
}

// StartShutdown помечает приложение как останавливающееся
func StartShutdown() {

	atomic.StoreInt32(&isShuttingDown, 1)
}

// reset нужен только тестам
func reset() {

	atomic.StoreInt32(&isShuttingDown, 0)
}

// Middleware отвечает 503 на новые запросы, пока сервер останавливается
func Middleware(next http.Handler) http.Handler {

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		if IsShuttingDown() {
			w.Header().Set("Connection", "close")
			w.Header().Set("Retry-After", "5")
			http.Error(w, "Сервис останавливается", http.StatusServiceUnavailable)
			return
		}

		next.ServeHTTP(w, r)
	})
}
