// Package ingest - оркестратор вебхуков: разбор, решение по жизненному циклу,
// сохранение и побочные действия после фиксации статуса.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/IPampurin/order-webhooks/pkg/db"
	"github.com/IPampurin/order-webhooks/pkg/events"
	"github.com/IPampurin/order-webhooks/pkg/lifecycle"
	"github.com/IPampurin/order-webhooks/pkg/metrics"
	"github.com/IPampurin/order-webhooks/pkg/models"
	"github.com/IPampurin/order-webhooks/pkg/normalizer"
	"github.com/IPampurin/order-webhooks/pkg/printing"
	"github.com/IPampurin/order-webhooks/pkg/tracing"
)

const (
	VendorIFood  = "ifood"
	VendorAmazon = "amazon"
	VendorShopee = "shopee"
)

// исходы обработки, пишутся в журнал вебхуков и в метрики
const (
	OutcomeKeepalive    = "keepalive"
	OutcomeCreated      = "created"
	OutcomeUpdated      = "updated"
	OutcomeUnchanged    = "unchanged"
	OutcomeIgnored      = "ignored"
	OutcomeNotFound     = "not_found"
	OutcomeMalformed    = "malformed"
	OutcomeError        = "error"
	OutcomeAcknowledged = "acknowledged"
)

const (
	defaultSideEffectTimeout = 30 * time.Second
	defaultRedropDelay       = time.Second
)

// keepaliveMarker ищется в сыром теле до разбора JSON
var keepaliveMarker = []byte(lifecycle.EventKeepalive)

type OrderStore interface {
	FindOrder(ctx context.Context, orderID string) (*models.Order, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	UpdateStatus(ctx context.Context, orderID, status string) error
	RecordWebhook(ctx context.Context, ev *models.WebhookEvent) error
}

type Marketplace interface {
	Token(ctx context.Context) (string, error)
	ResetToken()
	FetchOrder(ctx context.Context, orderID, token string) ([]byte, error)
	ConfirmOrder(ctx context.Context, orderID, token string) error
}

type Printer interface {
	Submit(ctx context.Context, zpl string) (int64, error)
}

type LabelArchive interface {
	Store(ctx context.Context, orderID, zpl string) error
}

type Invalidator interface {
	Invalidate(ctx context.Context, orderID string)
}

// Deps - зависимости сервиса, Printer, Archive и Cache могут быть nil
type Deps struct {
	Store             OrderStore
	Marketplace       Marketplace
	Printer           Printer
	Archive           LabelArchive
	Cache             Invalidator
	Publisher         events.Publisher
	Normalizer        *normalizer.Normalizer
	Log               *zap.Logger
	SideEffectTimeout time.Duration
	RedropDelay       time.Duration // пауза перед повторным сбросом кэша после смены статуса
}

// Result - итог обработки одного вебхука
type Result struct {
	OrderDBID uint
	OrderID   string
	Status    string
	Outcome   string
	Created   bool
	Ignored   bool
	Keepalive bool
}

type Service struct {
	store     OrderStore
	market    Marketplace
	printer   Printer
	archive   LabelArchive
	cache     Invalidator
	publisher events.Publisher
	norm      *normalizer.Normalizer
	validate  *validator.Validate
	log       *zap.Logger
	timeout   time.Duration
	redrop    time.Duration

	wg sync.WaitGroup // побочные действия, которые ещё выполняются
}

func NewService(d Deps) *Service {

	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	if d.Normalizer == nil {
		d.Normalizer = normalizer.New(d.Log)
	}
	if d.SideEffectTimeout <= 0 {
		d.SideEffectTimeout = defaultSideEffectTimeout
	}
	if d.RedropDelay <= 0 {
		d.RedropDelay = defaultRedropDelay
	}

	return &Service{
		store:     d.Store,
		market:    d.Marketplace,
		printer:   d.Printer,
		archive:   d.Archive,
		cache:     d.Cache,
		publisher: d.Publisher,
		norm:      d.Normalizer,
		validate:  validator.New(),
		log:       d.Log.Named("ingest"),
		timeout:   d.SideEffectTimeout,
		redrop:    d.RedropDelay,
	}
}

// Handle обрабатывает вебхук iFood. Ответ не ждёт подтверждения, печати и публикации
func (s *Service) Handle(ctx context.Context, body []byte) (Result, error) {

	ctx, span := tracing.Tracer().Start(ctx, "ingest.Handle")
	defer span.End()

	ev := &models.WebhookEvent{
		ID:         uuid.NewString(),
		Vendor:     VendorIFood,
		RawBody:    string(body),
		ReceivedAt: time.Now().UTC(),
	}

	res, err := s.handle(ctx, body, ev)

	ev.Outcome = res.Outcome
	span.SetAttributes(
		attribute.String("order.id", ev.OrderID),
		attribute.String("event.code", ev.EventCode),
		attribute.String("outcome", res.Outcome),
	)
	if err != nil {
		ev.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	s.record(ctx, ev)
	metrics.Webhook(VendorIFood, ev.EventCode, res.Outcome)

	// серверные ошибки уходят в DLQ для повторной обработки
	if err != nil && !IsClientError(err) {
		dl := events.DeadLetter{
			Vendor:    VendorIFood,
			OrderID:   ev.OrderID,
			EventCode: ev.EventCode,
			Reason:    err.Error(),
			Body:      body,
		}
		s.background(ctx, "dlq", func(ctx context.Context) error {
			return s.publisher.PublishDeadLetter(ctx, dl)
		})
	}

	return res, err
}

func (s *Service) handle(ctx context.Context, body []byte, ev *models.WebhookEvent) (Result, error) {

	// keepalive проверяется по сырому телу, даже невалидный JSON
	if bytes.Contains(body, keepaliveMarker) {
		return Result{Keepalive: true, Outcome: OutcomeKeepalive}, nil
	}

	if !gjson.ValidBytes(body) {
		return Result{Outcome: OutcomeMalformed}, fmt.Errorf("%w: тело не является JSON", ErrMalformedPayload)
	}
	p := gjson.ParseBytes(body)
	if !p.IsObject() {
		return Result{Outcome: OutcomeMalformed}, fmt.Errorf("%w: ожидался JSON объект", ErrMalformedPayload)
	}

	env := extract(p)
	ev.OrderID, ev.MerchantID, ev.EventCode, ev.PreviousStatus = env.OrderID, env.MerchantID, env.EventCode, env.PreviousStatus

	if lifecycle.IsKeepalive(env.EventCode) {
		return Result{Keepalive: true, Outcome: OutcomeKeepalive}, nil
	}

	if err := s.validate.Struct(env); err != nil {
		return Result{OrderID: env.OrderID, Outcome: OutcomeMalformed},
			fmt.Errorf("%w: %s", ErrMalformedPayload, validationMessage(err))
	}

	log := s.log.With(zap.String("order_id", env.OrderID), zap.String("event", env.EventCode),
		zap.String("previous_status", env.PreviousStatus))

	existing, err := s.store.FindOrder(ctx, env.OrderID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return Result{OrderID: env.OrderID, Outcome: OutcomeError}, err
	}

	return s.decide(ctx, log, env, p, existing)
}

// decide применяет таблицу переходов к найденному (или отсутствующему) заказу
func (s *Service) decide(ctx context.Context, log *zap.Logger, env Envelope, p gjson.Result, existing *models.Order) (Result, error) {

	var current *string
	if existing != nil {
		current = &existing.Status
	}

	d := lifecycle.Decide(lifecycle.Event{Code: env.EventCode, PreviousClaim: env.PreviousStatus}, current)
	log.Debug("решение по событию", zap.String("reason", d.Reason))

	switch {
	case d.Keepalive:
		return Result{Keepalive: true, Outcome: OutcomeKeepalive}, nil

	case d.NotFound:
		log.Info("событие для неизвестного заказа")
		return Result{OrderID: env.OrderID, Outcome: OutcomeNotFound},
			fmt.Errorf("%w: %s", ErrOrderNotFound, env.OrderID)

	case d.Create:
		return s.create(ctx, log, env, p, d)

	case d.Ignored:
		log.Warn("событие после финального статуса проигнорировано", zap.String("status", existing.Status))
		return Result{OrderDBID: existing.ID, OrderID: existing.OrderID, Status: existing.Status,
			Outcome: OutcomeIgnored, Ignored: true}, nil

	case !d.Apply:
		log.Info("повтор события, статус не меняется", zap.String("status", existing.Status))
		return Result{OrderDBID: existing.ID, OrderID: existing.OrderID, Status: existing.Status,
			Outcome: OutcomeUnchanged}, nil
	}

	if d.Unrecognized {
		log.Warn("неизвестный код события, статус записан как есть", zap.String("status", d.Status))
	}

	if err := s.store.UpdateStatus(ctx, existing.OrderID, d.Status); err != nil {
		return Result{OrderDBID: existing.ID, OrderID: existing.OrderID, Status: existing.Status, Outcome: OutcomeError}, err
	}
	previous := existing.Status
	existing.Status = d.Status

	s.invalidate(ctx, existing.OrderID)
	metrics.Transition(d.Status)
	log.Info("статус заказа изменён", zap.String("from", previous), zap.String("to", d.Status))

	s.afterCommit(ctx, existing, env, previous, d.Confirm, d.Print)

	return Result{OrderDBID: existing.ID, OrderID: existing.OrderID, Status: d.Status, Outcome: OutcomeUpdated}, nil
}

// create строит заказ из тела вебхука или из деталей, полученных у маркетплейса
func (s *Service) create(ctx context.Context, log *zap.Logger, env Envelope, p gjson.Result, d lifecycle.Decision) (Result, error) {

	ctx, span := tracing.Tracer().Start(ctx, "ingest.create")
	defer span.End()

	raw := []byte(p.Raw)
	fromBody := hasFullOrder(p)
	if !fromBody {
		detail, err := s.fetchDetail(ctx, env.OrderID)
		if err != nil {
			return Result{OrderID: env.OrderID, Outcome: OutcomeError}, err
		}
		raw = detail
	}

	order, err := s.norm.Normalize(raw, d.Status)
	if err != nil {
		if fromBody {
			return Result{OrderID: env.OrderID, Outcome: OutcomeMalformed}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return Result{OrderID: env.OrderID, Outcome: OutcomeError}, fmt.Errorf("%w: детали заказа: %v", ErrUpstreamFetch, err)
	}
	if order.OrderID != env.OrderID {
		log.Warn("id заказа в деталях отличается от вебхука", zap.String("detail_order_id", order.OrderID))
		order.OrderID = env.OrderID
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		if !errors.Is(err, db.ErrOrderExists) {
			return Result{OrderID: env.OrderID, Outcome: OutcomeError}, err
		}
		// заказ уже создан параллельной доставкой, решаем заново по сохранённому статусу
		log.Info("заказ уже создан другим запросом, перечитываем")
		existing, err := s.store.FindOrder(ctx, env.OrderID)
		if err != nil {
			return Result{OrderID: env.OrderID, Outcome: OutcomeError}, err
		}
		return s.decide(ctx, log, env, p, existing)
	}

	metrics.Transition(order.Status)
	log.Info("заказ создан", zap.Uint("order_db_id", order.ID), zap.Bool("from_body", fromBody),
		zap.String("summary", normalizer.Describe(order)))

	s.afterCommit(ctx, order, env, "", false, false)

	return Result{OrderDBID: order.ID, OrderID: order.OrderID, Status: order.Status, Outcome: OutcomeCreated, Created: true}, nil
}

// fetchDetail получает детали заказа, при отказе в авторизации один раз обновляет токен
func (s *Service) fetchDetail(ctx context.Context, orderID string) ([]byte, error) {

	token, err := s.market.Token(ctx)
	if err != nil {
		return nil, err
	}

	detail, err := s.market.FetchOrder(ctx, orderID, token)
	if errors.Is(err, ErrUpstreamAuth) {
		s.market.ResetToken()
		if token, err = s.market.Token(ctx); err != nil {
			return nil, err
		}
		detail, err = s.market.FetchOrder(ctx, orderID, token)
	}

	return detail, err
}

// invalidate сбрасывает запись кэша сразу и ещё раз после паузы:
// GET, прочитавший старый статус до коммита, мог положить его в кэш уже после первого сброса
func (s *Service) invalidate(ctx context.Context, orderID string) {

	if s.cache == nil {
		return
	}
	s.cache.Invalidate(ctx, orderID)

	s.background(ctx, "invalidate", func(ctx context.Context) error {
		t := time.NewTimer(s.redrop)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.cache.Invalidate(ctx, orderID)
		return nil
	})
}

// afterCommit запускает побочные действия после фиксации статуса
func (s *Service) afterCommit(ctx context.Context, order *models.Order, env Envelope, previous string, confirm, printLabel bool) {

	change := events.StatusChanged{
		OrderID:        order.OrderID,
		MerchantID:     env.MerchantID,
		EventCode:      env.EventCode,
		PreviousStatus: previous,
		Status:         order.Status,
		ChangedAt:      time.Now().UTC(),
	}
	s.background(ctx, "publish", func(ctx context.Context) error {
		return s.publisher.PublishStatus(ctx, change)
	})

	if !confirm && !printLabel {
		return
	}

	label := printing.LabelFromOrder(order)
	s.background(ctx, "confirm_print", func(ctx context.Context) error {

		var errs []error
		// подтверждение и печать независимы, сбой одного не отменяет другое
		if confirm {
			if err := s.confirm(ctx, order.OrderID); err != nil {
				metrics.SideEffectFailed("confirm")
				errs = append(errs, err)
			}
		}
		if printLabel {
			if err := s.submitLabel(ctx, label); err != nil {
				metrics.SideEffectFailed("print")
				errs = append(errs, err)
			}
		}

		return errors.Join(errs...)
	})
}

func (s *Service) confirm(ctx context.Context, orderID string) error {

	token, err := s.market.Token(ctx)
	if err != nil {
		return err
	}
	if err := s.market.ConfirmOrder(ctx, orderID, token); err != nil {
		return err
	}
	s.log.Info("заказ подтверждён у маркетплейса", zap.String("order_id", orderID))

	return nil
}

// submitLabel рендерит этикетку, сохраняет её в архив и отправляет на принтер
func (s *Service) submitLabel(ctx context.Context, label printing.LabelData) error {

	zpl := printing.RenderLabel(label)

	if s.archive != nil {
		if err := s.archive.Store(ctx, label.OrderID, zpl); err != nil {
			metrics.SideEffectFailed("archive")
			s.log.Warn("не удалось сохранить этикетку", zap.String("order_id", label.OrderID), zap.Error(err))
		}
	}

	if s.printer == nil {
		s.log.Debug("печать выключена", zap.String("order_id", label.OrderID))
		return nil
	}

	jobID, err := s.printer.Submit(ctx, zpl)
	if err != nil {
		return err
	}
	s.log.Info("этикетка отправлена на печать", zap.String("order_id", label.OrderID), zap.Int64("job_id", jobID))

	return nil
}

// background выполняет действие вне запроса с собственным таймаутом, ошибки только логируются
func (s *Service) background(ctx context.Context, kind string, fn func(context.Context) error) {

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		// значения контекста (трейс) сохраняем, отмену запроса - нет
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		bctx, span := tracing.Tracer().Start(bctx, "ingest.background."+kind)
		defer span.End()

		if err := fn(bctx); err != nil {
			span.RecordError(err)
			if kind == "publish" || kind == "dlq" {
				metrics.SideEffectFailed(kind)
			}
			s.log.Error("ошибка побочного действия", zap.String("kind", kind), zap.Error(err))
		}
	}()
}

// Wait дожидается завершения запущенных побочных действий
func (s *Service) Wait() {
	s.wg.Wait()
}

// Acknowledge принимает вебхук неподключённого вендора: только запись в журнал
func (s *Service) Acknowledge(ctx context.Context, vendor string, body []byte) Result {

	ev := &models.WebhookEvent{
		ID:         uuid.NewString(),
		Vendor:     vendor,
		RawBody:    string(body),
		ReceivedAt: time.Now().UTC(),
		Outcome:    OutcomeAcknowledged,
	}
	if gjson.ValidBytes(body) {
		env := extract(gjson.ParseBytes(body))
		ev.OrderID, ev.MerchantID, ev.EventCode = env.OrderID, env.MerchantID, env.EventCode
	}

	s.record(ctx, ev)
	metrics.Webhook(vendor, ev.EventCode, OutcomeAcknowledged)

	return Result{OrderID: ev.OrderID, Outcome: OutcomeAcknowledged}
}

// record пишет журнал вебхуков, сбой записи не влияет на ответ
func (s *Service) record(ctx context.Context, ev *models.WebhookEvent) {

	if err := s.store.RecordWebhook(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Warn("не удалось записать вебхук в журнал", zap.String("order_id", ev.OrderID), zap.Error(err))
	}
}
