package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"

	"github.com/IPampurin/order-webhooks/pkg/db"
	"github.com/IPampurin/order-webhooks/pkg/events"
	"github.com/IPampurin/order-webhooks/pkg/marketplace"
	"github.com/IPampurin/order-webhooks/pkg/models"
)

// countingStore считает обращения к заказам поверх настоящего хранилища
type countingStore struct {
	*db.Store
	finds, creates, updates atomic.Int32
}

func (s *countingStore) FindOrder(ctx context.Context, orderID string) (*models.Order, error) {
	s.finds.Add(1)
	return s.Store.FindOrder(ctx, orderID)
}

func (s *countingStore) CreateOrder(ctx context.Context, order *models.Order) error {
	s.creates.Add(1)
	return s.Store.CreateOrder(ctx, order)
}

func (s *countingStore) UpdateStatus(ctx context.Context, orderID, status string) error {
	s.updates.Add(1)
	return s.Store.UpdateStatus(ctx, orderID, status)
}

type fakeMarket struct {
	mu         sync.Mutex
	details    map[string][]byte
	fetchErrs  []error // ошибки по очереди для первых вызовов FetchOrder
	confirmErr error

	tokens, fetches, confirms, resets int
}

func (m *fakeMarket) Token(context.Context) (string, error) {

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens++

	return "tok", nil
}

func (m *fakeMarket) ResetToken() {

	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
}

func (m *fakeMarket) FetchOrder(_ context.Context, orderID, _ string) ([]byte, error) {

	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++

	if len(m.fetchErrs) > 0 {
		err := m.fetchErrs[0]
		m.fetchErrs = m.fetchErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	body, ok := m.details[orderID]
	if !ok {
		return nil, &marketplace.UpstreamError{Op: "fetch", Status: 404, Kind: marketplace.ErrUpstreamFetch}
	}

	return body, nil
}

func (m *fakeMarket) ConfirmOrder(context.Context, string, string) error {

	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirms++

	return m.confirmErr
}

func (m *fakeMarket) counts() (fetches, confirms int) {

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.fetches, m.confirms
}

type fakePrinter struct {
	mu   sync.Mutex
	jobs []string
	err  error
}

func (p *fakePrinter) Submit(_ context.Context, zpl string) (int64, error) {

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	p.jobs = append(p.jobs, zpl)

	return int64(len(p.jobs)), nil
}

func (p *fakePrinter) count() int {

	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.jobs)
}

type fakeArchive struct {
	mu   sync.Mutex
	keys []string
}

func (a *fakeArchive) Store(_ context.Context, orderID, _ string) error {

	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, orderID)

	return nil
}

// fakeCache хранит записи как кэш заказов и помнит все сбросы
type fakeCache struct {
	mu          sync.Mutex
	entries     map[string]string
	invalidated []string
}

func (c *fakeCache) Invalidate(_ context.Context, orderID string) {

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, orderID)
	c.invalidated = append(c.invalidated, orderID)
}

// set кладёт запись так, как это делает чтение заказа через API
func (c *fakeCache) set(orderID, status string) {

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[string]string{}
	}
	c.entries[orderID] = status
}

func (c *fakeCache) get(orderID string) (string, bool) {

	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.entries[orderID]

	return status, ok
}

func (c *fakeCache) count() int {

	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.invalidated)
}

type fakePublisher struct {
	mu       sync.Mutex
	statuses []events.StatusChanged
	dead     []events.DeadLetter
}

func (p *fakePublisher) PublishStatus(_ context.Context, ev events.StatusChanged) error {

	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, ev)

	return nil
}

func (p *fakePublisher) PublishDeadLetter(_ context.Context, dl events.DeadLetter) error {

	p.mu.Lock()
	defer p.mu.Unlock()
	p.dead = append(p.dead, dl)

	return nil
}

func (p *fakePublisher) Close() error { return nil }

type harness struct {
	svc       *Service
	store     *countingStore
	market    *fakeMarket
	printer   *fakePrinter
	archive   *fakeArchive
	cache     *fakeCache
	publisher *fakePublisher
}

func newHarness(t *testing.T) *harness {

	t.Helper()

	s, err := db.Open(sqlite.Open("file::memory:?_foreign_keys=on"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(s.Close)

	e := &harness{
		store:     &countingStore{Store: s},
		market:    &fakeMarket{details: map[string][]byte{}},
		printer:   &fakePrinter{},
		archive:   &fakeArchive{},
		cache:     &fakeCache{},
		publisher: &fakePublisher{},
	}
	e.svc = NewService(Deps{
		Store:       e.store,
		Marketplace: e.market,
		Printer:     e.printer,
		Archive:     e.archive,
		Cache:       e.cache,
		Publisher:   e.publisher,
		Log:         zap.NewNop(),
		RedropDelay: time.Millisecond,
	})

	return e
}

// handle обрабатывает вебхук и дожидается побочных действий
func (e *harness) handle(t *testing.T, body string) (Result, error) {

	t.Helper()
	res, err := e.svc.Handle(context.Background(), []byte(body))
	e.svc.Wait()

	return res, err
}

func (e *harness) orderCount(t *testing.T) int64 {

	t.Helper()
	_, total, err := e.store.ListOrders(context.Background(), 1, 1)
	require.NoError(t, err)

	return total
}

// detail - детали заказа в том виде, в каком их отдаёт API маркетплейса
func detail(orderID, merchantID string) []byte {

	b, _ := json.Marshal(map[string]any{
		"id":        orderID,
		"displayId": gofakeit.DigitN(4),
		"createdAt": "2025-05-10T18:20:30Z",
		"merchant":  map[string]any{"id": merchantID, "name": gofakeit.Company()},
		"customer":  map[string]any{"id": gofakeit.UUID(), "name": "Maria Silva"},
		"items": []any{
			map[string]any{"id": "a", "name": "A"},
			map[string]any{"id": "b", "name": "B"},
		},
		"payments": []any{map[string]any{"value": 42.5, "method": "CREDIT"}, "CASH"},
		"total":    map[string]any{"orderAmount": 42.5},
	})

	return b
}

func event(orderID, code, claim string) string {

	if claim == "" {
		return fmt.Sprintf(`{"orderId":%q,"merchantId":"m-1","fullCode":%q}`, orderID, code)
	}

	return fmt.Sprintf(`{"orderId":%q,"merchantId":"m-1","fullCode":%q,"metadata":{"triggerEvent":{"previousStatus":%q}}}`,
		orderID, code, claim)
}

func TestKeepalive(t *testing.T) {

	tests := []struct {
		name string
		body string
	}{
		{name: "маркер в JSON", body: `{"code":"KEEPALIVE","fullCode":"KEEPALIVE"}`},
		{name: "маркер в невалидном теле", body: `KEEPALIVE {{{`},
		{name: "код в нижнем регистре", body: `{"orderId":"o-1","merchantId":"m-1","fullCode":"keepalive"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newHarness(t)

			res, err := e.handle(t, tt.body)
			require.NoError(t, err)
			assert.True(t, res.Keepalive)
			assert.Equal(t, OutcomeKeepalive, res.Outcome)
			assert.Zero(t, e.store.finds.Load(), "keepalive не должен искать заказ")
			assert.Zero(t, e.store.creates.Load())
			assert.Zero(t, e.store.updates.Load())
		})
	}
}

func TestMalformedPayload(t *testing.T) {

	tests := []struct {
		name string
		body string
	}{
		{name: "не JSON", body: `{"orderId":`},
		{name: "не объект", body: `["o-1"]`},
		{name: "нет id заказа", body: `{"merchantId":"m-1","fullCode":"PLACED"}`},
		{name: "нет id продавца", body: `{"orderId":"o-1","fullCode":"PLACED"}`},
		{name: "нет кода события", body: `{"orderId":"o-1","merchantId":"m-1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newHarness(t)

			res, err := e.handle(t, tt.body)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedPayload)
			assert.Equal(t, OutcomeMalformed, res.Outcome)
			assert.Zero(t, e.store.finds.Load())
			assert.Empty(t, e.publisher.dead, "ошибки клиента не уходят в DLQ")
		})
	}
}

func TestExtractRules(t *testing.T) {

	e := newHarness(t)
	e.market.details["o-7"] = detail("o-7", "m-7")

	// id вместо orderId, продавец из списка merchantIds, код в eventType
	res, err := e.handle(t, `{"id":"o-7","merchantIds":["m-7","m-8"],"eventType":"placed"}`)
	require.NoError(t, err)
	assert.True(t, res.Created)

	journal, err := e.store.WebhookEvents(context.Background(), "o-7")
	require.NoError(t, err)
	require.Len(t, journal, 1)
	assert.Equal(t, "m-7", journal[0].MerchantID)
	assert.Equal(t, "PLACED", journal[0].EventCode)
}

func TestPlacedUnknownOrderFetchesDetail(t *testing.T) {

	e := newHarness(t)
	e.market.details["o-1"] = detail("o-1", "m-1")

	res, err := e.handle(t, event("o-1", "PLACED", ""))
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Equal(t, "received", res.Status)
	assert.NotZero(t, res.OrderDBID)
	assert.Equal(t, int64(1), e.orderCount(t))

	fetches, confirms := e.market.counts()
	assert.Equal(t, 1, fetches)
	assert.Zero(t, confirms, "создание заказа не подтверждает его")
	assert.Zero(t, e.printer.count())

	order, err := e.store.LoadOrder(context.Background(), "o-1")
	require.NoError(t, err)
	require.Len(t, order.Items, 2)
	assert.Len(t, order.Payments, 1, "строковый платёж пропускается")

	require.Len(t, e.publisher.statuses, 1)
	assert.Equal(t, "received", e.publisher.statuses[0].Status)
}

func TestPlacedWithFullBody(t *testing.T) {

	e := newHarness(t)

	var body map[string]any
	require.NoError(t, json.Unmarshal(detail("o-2", "m-1"), &body))
	body["fullCode"] = "PLACED"
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	res, err := e.handle(t, string(raw))
	require.NoError(t, err)
	assert.True(t, res.Created)

	fetches, _ := e.market.counts()
	assert.Zero(t, fetches, "детали уже в теле, запрос к API не нужен")
}

func TestPlacedIdempotency(t *testing.T) {

	e := newHarness(t)
	e.market.details["o-1"] = detail("o-1", "m-1")

	_, err := e.handle(t, event("o-1", "PLACED", ""))
	require.NoError(t, err)

	// повторная доставка с подсказкой PLACED: строка одна, подтверждения и печати нет
	res, err := e.handle(t, event("o-1", "PLACED", "PLACED"))
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "received", res.Status)
	assert.Equal(t, int64(1), e.orderCount(t))

	fetches, confirms := e.market.counts()
	assert.Equal(t, 1, fetches)
	assert.Zero(t, confirms)
	assert.Zero(t, e.printer.count())

	// PLACED для известного заказа без подсказки: подтверждение и печать
	_, err = e.handle(t, event("o-1", "PLACED", ""))
	require.NoError(t, err)
	_, confirms = e.market.counts()
	assert.Equal(t, 1, confirms)
	require.Equal(t, 1, e.printer.count())
	assert.Contains(t, e.printer.jobs[0], "^FDPedido: o-1^FS")
	assert.Contains(t, e.printer.jobs[0], "^FDCliente: Maria Silva^FS")
	assert.Contains(t, e.printer.jobs[0], "^FDTotal: R$ 42.5^FS")
	assert.Equal(t, []string{"o-1"}, e.archive.keys)
}

func TestUnknownOrderNonPlaced(t *testing.T) {

	e := newHarness(t)

	res, err := e.handle(t, event("ghost", "CANCELLED", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.Zero(t, e.orderCount(t))
	assert.Zero(t, e.store.creates.Load())
	assert.Empty(t, e.publisher.dead)
}

func TestTransitions(t *testing.T) {

	e := newHarness(t)
	e.market.details["o-1"] = detail("o-1", "m-1")
	_, err := e.handle(t, event("o-1", "PLACED", ""))
	require.NoError(t, err)

	steps := []struct {
		name    string
		code    string
		claim   string
		status  string
		outcome string
	}{
		{name: "подтверждение", code: "CONFIRMED", claim: "PLACED", status: "accepted", outcome: OutcomeUpdated},
		{name: "повтор подтверждения", code: "CONFIRMED", claim: "CONFIRMED", status: "accepted", outcome: OutcomeUnchanged},
		{name: "готов к отправке", code: "READY_TO_SHIP", claim: "CONFIRMED", status: "ready_to_ship", outcome: OutcomeUpdated},
		{name: "неизвестный код", code: "HANDSHAKE_DISPUTE", claim: "", status: "handshake_dispute", outcome: OutcomeUpdated},
		{name: "отправлен", code: "DISPATCHED", claim: "", status: "dispatched", outcome: OutcomeUpdated},
		{name: "доставлен", code: "DELIVERED", claim: "DISPATCHED", status: "delivered", outcome: OutcomeUpdated},
		{name: "после финального статуса", code: "CANCELLED", claim: "DELIVERED", status: "delivered", outcome: OutcomeIgnored},
	}

	for _, st := range steps {
		res, err := e.handle(t, event("o-1", st.code, st.claim))
		require.NoError(t, err, st.name)
		assert.Equal(t, st.status, res.Status, st.name)
		assert.Equal(t, st.outcome, res.Outcome, st.name)

		order, err := e.store.FindOrder(context.Background(), "o-1")
		require.NoError(t, err)
		assert.Equal(t, st.status, order.Status, st.name)
	}

	// кэш сбрасывается только при реальной записи статуса, каждый раз дважды
	assert.Equal(t, 10, e.cache.count())

	_, confirms := e.market.counts()
	assert.Zero(t, confirms)
}

// TestStaleCacheEntryDropped проверяет, что старый статус, положенный в кэш
// параллельным чтением уже после первого сброса, тоже удаляется
func TestStaleCacheEntryDropped(t *testing.T) {

	e := newHarness(t)
	e.svc.redrop = 100 * time.Millisecond
	e.market.details["o-1"] = detail("o-1", "m-1")
	_, err := e.handle(t, event("o-1", "PLACED", ""))
	require.NoError(t, err)

	res, err := e.svc.Handle(context.Background(), []byte(event("o-1", "CONFIRMED", "PLACED")))
	require.NoError(t, err)
	require.Equal(t, "accepted", res.Status)
	assert.Equal(t, 1, e.cache.count(), "первый сброс синхронный")

	// чтение успело загрузить заказ до коммита и пишет его в кэш после сброса
	e.cache.set("o-1", "received")
	status, ok := e.cache.get("o-1")
	require.True(t, ok)
	assert.Equal(t, "received", status)

	e.svc.Wait()

	_, ok = e.cache.get("o-1")
	assert.False(t, ok, "устаревшая запись осталась в кэше")
	assert.Equal(t, 2, e.cache.count())
}

func TestUpstreamFailure(t *testing.T) {

	e := newHarness(t)
	// деталей нет - маркетплейс отвечает 404

	res, err := e.handle(t, event("o-9", "PLACED", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamFetch)
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.Zero(t, e.orderCount(t), "частичного сохранения нет")

	require.Len(t, e.publisher.dead, 1)
	assert.Equal(t, "o-9", e.publisher.dead[0].OrderID)
	assert.JSONEq(t, event("o-9", "PLACED", ""), string(e.publisher.dead[0].Body))
}

func TestUpstreamAuthRetry(t *testing.T) {

	e := newHarness(t)
	e.market.details["o-1"] = detail("o-1", "m-1")
	e.market.fetchErrs = []error{&marketplace.UpstreamError{Op: "fetch", Status: 401, Kind: marketplace.ErrUpstreamAuth}}

	res, err := e.handle(t, event("o-1", "PLACED", ""))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 1, e.market.resets)
	assert.Equal(t, 2, e.market.fetches)
}

func TestSideEffectFailuresDoNotFail(t *testing.T) {

	e := newHarness(t)
	e.market.details["o-1"] = detail("o-1", "m-1")
	e.market.confirmErr = errors.New("confirm down")
	e.printer.err = errors.New("printer offline")

	_, err := e.handle(t, event("o-1", "PLACED", ""))
	require.NoError(t, err)

	res, err := e.handle(t, event("o-1", "PLACED", "CANCELLED"))
	require.NoError(t, err, "сбой подтверждения и печати не влияет на ответ")
	assert.Equal(t, "received", res.Status)

	_, confirms := e.market.counts()
	assert.Equal(t, 1, confirms)
	assert.Empty(t, e.publisher.dead)
}

func TestConcurrentPlaced(t *testing.T) {

	e := newHarness(t)
	e.market.details["o-1"] = detail("o-1", "m-1")

	const n = 6
	var wg sync.WaitGroup
	var created atomic.Int32
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.svc.Handle(context.Background(), []byte(event("o-1", "PLACED", "PLACED")))
			if err != nil {
				errs <- err
				return
			}
			if res.Created {
				created.Add(1)
			}
		}()
	}
	wg.Wait()
	e.svc.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), created.Load(), "заказ создаётся ровно один раз")
	assert.Equal(t, int64(1), e.orderCount(t))
	assert.Zero(t, e.printer.count())
}

func TestWebhookJournal(t *testing.T) {

	e := newHarness(t)
	e.market.details["o-1"] = detail("o-1", "m-1")

	_, _ = e.handle(t, event("o-1", "PLACED", ""))
	_, _ = e.handle(t, event("o-1", "CONFIRMED", "PLACED"))
	_, _ = e.handle(t, event("o-1", "CONFIRMED", "CONFIRMED"))

	journal, err := e.store.WebhookEvents(context.Background(), "o-1")
	require.NoError(t, err)
	require.Len(t, journal, 3)

	outcomes := make([]string, 0, len(journal))
	for _, ev := range journal {
		assert.Equal(t, VendorIFood, ev.Vendor)
		assert.NotEmpty(t, ev.RawBody)
		outcomes = append(outcomes, ev.Outcome)
	}
	assert.ElementsMatch(t, []string{OutcomeCreated, OutcomeUpdated, OutcomeUnchanged}, outcomes)
}

func TestAcknowledge(t *testing.T) {

	e := newHarness(t)

	res := e.svc.Acknowledge(context.Background(), VendorAmazon, []byte(`{"orderId":"amz-1"}`))
	assert.Equal(t, OutcomeAcknowledged, res.Outcome)
	assert.Equal(t, "amz-1", res.OrderID)

	journal, err := e.store.WebhookEvents(context.Background(), "amz-1")
	require.NoError(t, err)
	require.Len(t, journal, 1)
	assert.Equal(t, VendorAmazon, journal[0].Vendor)
	assert.Zero(t, e.store.finds.Load())
}
