// Package consumer перечитывает DLQ и повторно передаёт вебхуки в обработку
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/IPampurin/order-webhooks/pkg/config"
	"github.com/IPampurin/order-webhooks/pkg/ingest"
	"github.com/IPampurin/order-webhooks/pkg/logger"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler - обработчик вебхука iFood
type Handler interface {
	Handle(ctx context.Context, body []byte) (ingest.Result, error)
}

// Stats - итог одного прохода по DLQ
type Stats struct {
	Replayed int // передано в обработку
	Failed   int // снова завершились ошибкой
	Skipped  int // другие вендоры
}

type Replayer struct {
	reader  messageReader
	handler Handler
	idle    time.Duration
	now     func() time.Time
	log     *zap.Logger
}

// NewReplayer возвращает nil, если брокеры или группа перечитывания не заданы
func NewReplayer(cfg config.Kafka, h Handler, log *zap.Logger) *Replayer {

	if len(cfg.Brokers) == 0 || cfg.ReplayGroup == "" {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.DLQTopic,
		GroupID:     cfg.ReplayGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: kafka.FirstOffset,
		ErrorLogger: kafka.LoggerFunc(logger.Printf(log, zap.ErrorLevel)),
	})

	return newReplayer(r, h, cfg.ReplayIdle, log)
}

func newReplayer(r messageReader, h Handler, idle time.Duration, log *zap.Logger) *Replayer {

	if idle <= 0 {
		idle = 10 * time.Second
	}

	return &Replayer{reader: r, handler: h, idle: idle, now: time.Now, log: log.Named("dlq")}
}

// Replay вычитывает DLQ до конца или до сообщений, попавших туда после старта прохода.
// Повторный сбой снова отправляет вебхук в DLQ, его разберёт следующий проход
func (r *Replayer) Replay(ctx context.Context) (Stats, error) {

	var st Stats
	if r == nil {
		return st, nil
	}

	started := r.now()
	r.log.Info("начинаем перечитывать DLQ")

	for {
		fctx, cancel := context.WithTimeout(ctx, r.idle)
		m, err := r.reader.FetchMessage(fctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return st, nil
			}
			if errors.Is(err, context.DeadlineExceeded) {
				r.log.Info("DLQ вычитан", zap.Int("replayed", st.Replayed), zap.Int("failed", st.Failed),
					zap.Int("skipped", st.Skipped))
				return st, nil
			}
			return st, fmt.Errorf("ошибка чтения из DLQ: %w", err)
		}

		// сообщение этого же прохода не коммитим, оно останется следующему
		if m.Time.After(started) {
			r.log.Info("дошли до сообщений текущего прохода", zap.Int("replayed", st.Replayed))
			return st, nil
		}

		r.replay(ctx, m, &st)

		if err := r.reader.CommitMessages(ctx, m); err != nil {
			return st, fmt.Errorf("ошибка коммита DLQ: %w", err)
		}
	}
}

func (r *Replayer) replay(ctx context.Context, m kafka.Message, st *Stats) {

	log := r.log.With(zap.String("key", string(m.Key)), zap.Int64("offset", m.Offset))

	if vendor := header(m, "vendor"); vendor != "" && vendor != ingest.VendorIFood {
		st.Skipped++
		log.Warn("вебхук вендора без интеграции пропущен", zap.String("vendor", vendor))
		return
	}

	// продолжаем исходный трейс
	carrier := propagation.MapCarrier{}
	for _, h := range m.Headers {
		carrier.Set(h.Key, string(h.Value))
	}
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)

	st.Replayed++
	res, err := r.handler.Handle(ctx, m.Value)
	if err != nil {
		st.Failed++
		log.Warn("повторная обработка не удалась", zap.String("reason", header(m, "error-reason")), zap.Error(err))
		return
	}
	log.Info("вебхук из DLQ обработан", zap.String("order_id", res.OrderID), zap.String("outcome", res.Outcome))
}

func (r *Replayer) Close() error {

	if r == nil {
		return nil
	}

	return r.reader.Close()
}

func header(m kafka.Message, key string) string {

	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}

	return ""
}
