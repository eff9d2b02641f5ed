package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/IPampurin/order-webhooks/pkg/models"
	"github.com/IPampurin/order-webhooks/pkg/normalizer"
)

// newTestStore поднимает хранилище на sqlite в памяти
func newTestStore(t *testing.T) *Store {

	t.Helper()

	s, err := Open(sqlite.Open("file::memory:?_foreign_keys=on"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(s.Close)

	return s
}

// testOrder строит заказ через нормализатор, чтобы граф был как в бою
func testOrder(t *testing.T, orderID, merchantID, customerID string) *models.Order {

	t.Helper()

	body := fmt.Sprintf(`{
		"id": %q,
		"displayId": "7788",
		"createdAt": "2025-05-10T18:20:30Z",
		"merchant": {"id": %q, "name": "Loja"},
		"customer": {"id": %q, "name": "Maria", "phone": {"number": "0800"}},
		"delivery": {"mode": "DEFAULT", "deliveryAddress": {"streetName": "Rua A", "coordinates": {"latitude": -23.5}}},
		"items": [
			{"id": "a", "name": "A", "options": [{"name": "A1", "customizations": [{"name": "A1x"}, {"name": "A1y"}]}, {"name": "A2"}]},
			{"id": "b", "name": "B"},
			{"id": "c", "name": "C", "options": [{"name": "C1"}]}
		],
		"payments": {"methods": [{"value": 10, "method": "CREDIT", "card": {"brand": "VISA"}}, "CASH"]},
		"additionalFees": [{"type": "SERVICE", "value": 1.5, "liabilities": [{"name": "IFOOD"}]}],
		"total": {"orderAmount": 11.5}
	}`, orderID, merchantID, customerID)

	order, err := normalizer.New(nil).Normalize([]byte(body), "received")
	require.NoError(t, err)

	return order
}

func TestCreateAndLoadOrder(t *testing.T) {

	s := newTestStore(t)
	ctx := context.Background()

	order := testOrder(t, "o-1", "m-1", "c-1")
	require.NoError(t, s.CreateOrder(ctx, order))
	assert.NotZero(t, order.ID)
	require.NotNil(t, order.MerchantID)

	loaded, err := s.LoadOrder(ctx, "o-1")
	require.NoError(t, err)

	assert.Equal(t, "received", loaded.Status)
	require.NotNil(t, loaded.Merchant)
	assert.Equal(t, "m-1", loaded.Merchant.ExternalID)
	require.NotNil(t, loaded.Merchant.Name)
	assert.Equal(t, "Loja", *loaded.Merchant.Name)
	require.NotNil(t, loaded.Customer)
	assert.Equal(t, "c-1", loaded.Customer.ExternalID)
	require.NotNil(t, loaded.Customer.Name)
	assert.Equal(t, "Maria", *loaded.Customer.Name)
	require.NotNil(t, loaded.Delivery)
	assert.Equal(t, "Rua A", *loaded.Delivery.AddressStreet)

	// порядок позиций, опций и кастомизаций сохраняется
	require.Len(t, loaded.Items, 3)
	assert.Equal(t, "A", *loaded.Items[0].Name)
	assert.Equal(t, "B", *loaded.Items[1].Name)
	assert.Equal(t, "C", *loaded.Items[2].Name)
	require.Len(t, loaded.Items[0].Options, 2)
	assert.Equal(t, "A2", *loaded.Items[0].Options[1].Name)
	require.Len(t, loaded.Items[0].Options[0].Customizations, 2)
	assert.Equal(t, "A1y", *loaded.Items[0].Options[0].Customizations[1].Name)

	// строковый платёж пропущен
	require.Len(t, loaded.Payments, 1)
	assert.Equal(t, "VISA", *loaded.Payments[0].CardBrand)
	require.Len(t, loaded.AdditionalFees, 1)
	assert.JSONEq(t, `[{"name":"IFOOD"}]`, string(loaded.AdditionalFees[0].Liabilities))

	_, err = s.LoadOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestLoadOrderViewNames проверяет, что имена продавца и покупателя доходят до ответа API
func TestLoadOrderViewNames(t *testing.T) {

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateOrder(ctx, testOrder(t, "o-1", "m-1", "c-1")))

	loaded, err := s.LoadOrder(ctx, "o-1")
	require.NoError(t, err)

	v := loaded.View()
	merchant, ok := v.Merchant.(models.MerchantView)
	require.True(t, ok, "%T", v.Merchant)
	assert.Equal(t, "m-1", merchant.ID)
	require.NotNil(t, merchant.Name)
	assert.Equal(t, "Loja", *merchant.Name)

	customer, ok := v.Customer.(models.CustomerView)
	require.True(t, ok, "%T", v.Customer)
	assert.Equal(t, "c-1", customer.ID)
	require.NotNil(t, customer.Name)
	assert.Equal(t, "Maria", *customer.Name)
}

// TestCreateOrderTwice проверяет, что повторное создание не плодит строк
func TestCreateOrderTwice(t *testing.T) {

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateOrder(ctx, testOrder(t, "o-1", "m-1", "c-1")))
	err := s.CreateOrder(ctx, testOrder(t, "o-1", "m-1", "c-1"))
	assert.ErrorIs(t, err, ErrOrderExists)

	var orders, items, deliveries int64
	require.NoError(t, s.db.Model(&models.Order{}).Count(&orders).Error)
	require.NoError(t, s.db.Model(&models.Item{}).Count(&items).Error)
	require.NoError(t, s.db.Model(&models.Delivery{}).Count(&deliveries).Error)
	assert.Equal(t, int64(1), orders)
	assert.Equal(t, int64(3), items)
	// доставка проигравшей транзакции откатилась
	assert.Equal(t, int64(1), deliveries)
}

// TestMerchantDedup проверяет переиспользование продавца и покупателя
func TestMerchantDedup(t *testing.T) {

	s := newTestStore(t)
	ctx := context.Background()

	first := testOrder(t, "o-1", "m-1", "c-1")
	second := testOrder(t, "o-2", "m-1", "c-1")
	third := testOrder(t, "o-3", "m-2", "c-2")

	for _, o := range []*models.Order{first, second, third} {
		require.NoError(t, s.CreateOrder(ctx, o))
	}

	var merchants, customers int64
	require.NoError(t, s.db.Model(&models.Merchant{}).Count(&merchants).Error)
	require.NoError(t, s.db.Model(&models.Customer{}).Count(&customers).Error)
	assert.Equal(t, int64(2), merchants)
	assert.Equal(t, int64(2), customers)

	assert.Equal(t, *first.MerchantID, *second.MerchantID)
	assert.NotEqual(t, *first.MerchantID, *third.MerchantID)
	assert.Equal(t, *first.CustomerID, *second.CustomerID)
}

func TestUpdateStatus(t *testing.T) {

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateOrder(ctx, testOrder(t, "o-1", "m-1", "c-1")))
	require.NoError(t, s.UpdateStatus(ctx, "o-1", "accepted"))

	o, err := s.FindOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, "accepted", o.Status)
	require.NotNil(t, o.Customer)
	assert.Equal(t, "Maria", *o.Customer.Name)

	assert.ErrorIs(t, s.UpdateStatus(ctx, "missing", "accepted"), ErrNotFound)
	_, err = s.FindOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteOrder(t *testing.T) {

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateOrder(ctx, testOrder(t, "o-1", "m-1", "c-1")))
	require.NoError(t, s.CreateOrder(ctx, testOrder(t, "o-2", "m-1", "c-1")))

	require.NoError(t, s.DeleteOrder(ctx, "o-1"))
	assert.ErrorIs(t, s.DeleteOrder(ctx, "o-1"), ErrNotFound)

	counts := map[any]int64{
		&models.Order{}:         1,
		&models.Item{}:          3,
		&models.Option{}:        3,
		&models.Customization{}: 2,
		&models.Payment{}:       1,
		&models.AdditionalFee{}: 1,
		&models.Delivery{}:      1,
		&models.Merchant{}:      1, // продавец общий и не удаляется
	}
	for model, expected := range counts {
		var n int64
		require.NoError(t, s.db.Model(model).Count(&n).Error)
		assert.Equal(t, expected, n, "%T", model)
	}

	_, err := s.LoadOrder(ctx, "o-2")
	assert.NoError(t, err)
}

func TestListOrders(t *testing.T) {

	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.CreateOrder(ctx, testOrder(t, fmt.Sprintf("o-%d", i), "m-1", "c-1")))
	}

	orders, total, err := s.ListOrders(ctx, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, orders, 2)
	// новые первыми: 5,4 | 3,2 | 1
	assert.Equal(t, "o-3", orders[0].OrderID)
	assert.Equal(t, "o-2", orders[1].OrderID)

	ids, err := s.RecentOrderIDs(ctx, time.Now().Add(-time.Hour), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"o-5", "o-4", "o-3"}, ids)
}

func TestRecordWebhook(t *testing.T) {

	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i, outcome := range []string{"created", "duplicate"} {
		require.NoError(t, s.RecordWebhook(ctx, &models.WebhookEvent{
			ID:         uuid.NewString(),
			Vendor:     "ifood",
			EventCode:  "PLACED",
			OrderID:    "o-1",
			Outcome:    outcome,
			RawBody:    `{"orderId":"o-1"}`,
			ReceivedAt: now.Add(time.Duration(i) * time.Second),
		}))
	}

	events, err := s.WebhookEvents(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "created", events[0].Outcome)
	assert.Equal(t, "duplicate", events[1].Outcome)
}

func TestIsDuplicate(t *testing.T) {

	assert.True(t, isDuplicate(gorm.ErrDuplicatedKey))
	assert.True(t, isDuplicate(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isDuplicate(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isDuplicate(gorm.ErrRecordNotFound))
}

// TestVendorTextColumnsExist сверяет список расширяемых колонок со схемой моделей
func TestVendorTextColumnsExist(t *testing.T) {

	s := newTestStore(t)

	for table, columns := range vendorTextColumns {
		for _, column := range columns {
			assert.True(t, s.db.Migrator().HasColumn(table, column), "%s.%s", table, column)
		}
	}
}
