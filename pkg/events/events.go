// Package events публикует смены статусов заказов и неудачные вебхуки в кафку
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/IPampurin/order-webhooks/pkg/config"
	"github.com/IPampurin/order-webhooks/pkg/logger"
)

// StatusChanged - событие о зафиксированной смене статуса
type StatusChanged struct {
	OrderID        string    `json:"orderId"`
	MerchantID     string    `json:"merchantId,omitempty"`
	EventCode      string    `json:"eventCode"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	Status         string    `json:"status"`
	ChangedAt      time.Time `json:"changedAt"`
}

// DeadLetter - вебхук, который не удалось обработать по вине сервера или маркетплейса
type DeadLetter struct {
	Vendor    string
	OrderID   string
	EventCode string
	Reason    string
	Body      []byte
	FailedAt  time.Time
}

// Publisher - то, чем пользуется оркестратор
type Publisher interface {
	PublishStatus(ctx context.Context, ev StatusChanged) error
	PublishDeadLetter(ctx context.Context, dl DeadLetter) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher пишет в два топика: статусы и DLQ
type KafkaPublisher struct {
	status messageWriter
	dlq    messageWriter
	log    *zap.Logger
}

// New возвращает Nop, если брокеры не заданы
func New(cfg config.Kafka, log *zap.Logger) Publisher {

	if log == nil {
		log = zap.NewNop()
	}
	if len(cfg.Brokers) == 0 {
		log.Info("брокеры кафки не заданы, события не публикуются")
		return Nop{}
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{}, // события одного заказа в одну партицию
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			ErrorLogger:            kafka.LoggerFunc(logger.Printf(log, zap.ErrorLevel)),
		}
	}

	return &KafkaPublisher{
		status: newWriter(cfg.StatusTopic),
		dlq:    newWriter(cfg.DLQTopic),
		log:    log.Named("events"),
	}
}

// PublishStatus отправляет событие смены статуса, ключ - id заказа
func (p *KafkaPublisher) PublishStatus(ctx context.Context, ev StatusChanged) error {

	msg, err := statusMessage(ctx, ev)
	if err != nil {
		return err
	}

	if err := p.status.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("ошибка публикации статуса заказа %s: %w", ev.OrderID, err)
	}
	p.log.Debug("статус опубликован", zap.String("order_id", ev.OrderID), zap.String("status", ev.Status))

	return nil
}

// PublishDeadLetter отправляет сырое тело вебхука в DLQ, причина - в заголовках
func (p *KafkaPublisher) PublishDeadLetter(ctx context.Context, dl DeadLetter) error {

	if err := p.dlq.WriteMessages(ctx, deadLetterMessage(ctx, dl)); err != nil {
		return fmt.Errorf("ошибка отправки вебхука в DLQ: %w", err)
	}
	p.log.Info("вебхук отправлен в DLQ", zap.String("order_id", dl.OrderID), zap.String("reason", dl.Reason))

	return nil
}

func (p *KafkaPublisher) Close() error {

	errStatus := p.status.Close()
	errDLQ := p.dlq.Close()
	if errStatus != nil {
		return errStatus
	}

	return errDLQ
}

func statusMessage(ctx context.Context, ev StatusChanged) (kafka.Message, error) {

	if ev.ChangedAt.IsZero() {
		ev.ChangedAt = time.Now().UTC()
	}

	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("ошибка сериализации события: %w", err)
	}

	return kafka.Message{
		Key:     []byte(ev.OrderID),
		Value:   value,
		Time:    ev.ChangedAt,
		Headers: traceHeaders(ctx, []kafka.Header{{Key: "event-code", Value: []byte(ev.EventCode)}}),
	}, nil
}

func deadLetterMessage(ctx context.Context, dl DeadLetter) kafka.Message {

	if dl.FailedAt.IsZero() {
		dl.FailedAt = time.Now().UTC()
	}

	key := dl.OrderID
	if key == "" {
		key = "<nil-key>"
	}

	headers := []kafka.Header{
		{Key: "vendor", Value: []byte(dl.Vendor)},
		{Key: "event-code", Value: []byte(dl.EventCode)},
		{Key: "error-reason", Value: []byte(dl.Reason)},
		{Key: "timestamp", Value: []byte(dl.FailedAt.Format(time.RFC3339))},
	}

	return kafka.Message{
		Key:     []byte(fmt.Sprintf("dlq-%s", key)),
		Value:   dl.Body,
		Time:    dl.FailedAt,
		Headers: traceHeaders(ctx, headers),
	}
}

// traceHeaders дописывает traceparent текущего спана
func traceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for _, k := range carrier.Keys() {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(carrier.Get(k))})
	}

	return headers
}

// Nop ничего не публикует
type Nop struct{}

func (Nop) PublishStatus(context.Context, StatusChanged) error { return nil }
func (Nop) PublishDeadLetter(context.Context, DeadLetter) error { return nil }
func (Nop) Close() error                                        { return nil }
