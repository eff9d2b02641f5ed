package ingest

import (
	"errors"

	"github.com/IPampurin/order-webhooks/pkg/marketplace"
	"github.com/IPampurin/order-webhooks/pkg/printing"
)

var (
	ErrMalformedPayload = errors.New("некорректный payload вебхука")
	ErrOrderNotFound    = errors.New("заказ не найден")

	ErrUpstreamAuth  = marketplace.ErrUpstreamAuth
	ErrUpstreamFetch = marketplace.ErrUpstreamFetch
	ErrPrintFailure  = printing.ErrPrintFailure
)

// IsClientError - ошибка из-за содержимого запроса, повторять бессмысленно
func IsClientError(err error) bool {
	return errors.Is(err, ErrMalformedPayload) || errors.Is(err, ErrOrderNotFound)
}
