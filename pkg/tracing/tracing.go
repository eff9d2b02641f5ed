// Package tracing настраивает провайдер трейсов otel
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/IPampurin/order-webhooks/pkg/config"
)

const instrumentationName = "github.com/IPampurin/order-webhooks"

// Init ставит глобальный провайдер, без эндпоинта трейсы никуда не уходят
func Init(ctx context.Context, cfg config.Tracing, log *zap.Logger) (func(context.Context) error, error) {

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.Endpoint == "" {
		log.Info("эндпоинт OTLP не задан, трейсинг выключен")
		return func(context.Context) error { return nil }, nil
	}

	// экспорт трейсов через otlp/grpc
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("не удалось создать экспортер трейсов: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)

	log.Info("трейсинг инициализирован", zap.String("endpoint", cfg.Endpoint))

	return tp.Shutdown, nil
}

// Tracer возвращает трейсер сервиса из глобального провайдера
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
