package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"

	"github.com/IPampurin/order-webhooks/pkg/models"
)

// newPostgresStore поднимает Postgres в контейнере и применяет миграции
func newPostgresStore(ctx context.Context, t *testing.T) *Store {

	t.Helper()

	pgContainer, err := tcPostgres.Run(ctx, "postgres:16-alpine",
		tcPostgres.WithDatabase("orders"),
		tcPostgres.WithUsername("postgres"),
		tcPostgres.WithPassword("postgres"),
		tcPostgres.BasicWaitStrategies(),
	)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("ошибка при остановке pgContainer в тесте: %v", err)
		}
	})
	require.NoError(t, err, "Не удалось запустить Postgres контейнер")

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := Open(postgres.Open(dsn), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(s.Close)

	return s
}

// TestConcurrentCreatePostgres проверяет уникальность заказа и продавца при одновременной доставке
func TestConcurrentCreatePostgres(t *testing.T) {

	if testing.Short() {
		t.Skip("Пропускаем интеграционный тест в short режиме")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	s := newPostgresStore(ctx, t)

	// повторная миграция не ломает схему
	require.NoError(t, Migrate(s.db))

	const workers = 8

	// один и тот же заказ и продавец, покупатели разные
	same := make([]*models.Order, workers)
	for i := range same {
		same[i] = testOrder(t, "race-1", "m-shared", fmt.Sprintf("c-%d", i))
	}

	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.CreateOrder(ctx, same[i])
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range results {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrOrderExists):
		default:
			t.Fatalf("неожиданная ошибка: %v", err)
		}
	}
	assert.Equal(t, 1, created)

	// разные заказы одного продавца параллельно
	distinct := make([]*models.Order, workers)
	for i := range distinct {
		distinct[i] = testOrder(t, fmt.Sprintf("par-%d", i), "m-new", "c-shared")
	}
	wg = sync.WaitGroup{}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.CreateOrder(ctx, distinct[i]))
		}(i)
	}
	wg.Wait()

	var orders, merchants, customers int64
	require.NoError(t, s.db.Model(&models.Order{}).Where("order_id = ?", "race-1").Count(&orders).Error)
	require.NoError(t, s.db.Model(&models.Merchant{}).Count(&merchants).Error)
	require.NoError(t, s.db.Model(&models.Customer{}).Where("customer_id = ?", "c-shared").Count(&customers).Error)
	assert.Equal(t, int64(1), orders)
	assert.Equal(t, int64(2), merchants)
	assert.Equal(t, int64(1), customers)

	loaded, err := s.LoadOrder(ctx, "race-1")
	require.NoError(t, err)
	assert.Len(t, loaded.Items, 3)
	require.NotNil(t, loaded.OrderCreatedAt)
	assert.Equal(t, time.Date(2025, 5, 10, 18, 20, 30, 0, time.UTC), loaded.OrderCreatedAt.UTC())

	// каскад по внешним ключам
	require.NoError(t, s.DeleteOrder(ctx, "race-1"))
	var items int64
	require.NoError(t, s.db.Model(&models.Item{}).Count(&items).Error)
	assert.Equal(t, int64(3*workers), items)
}

// TestLongVendorValuesPostgres проверяет, что длинные строки вендора сохраняются без обрезки,
// в том числе после перехода со старой схемы с VARCHAR
func TestLongVendorValuesPostgres(t *testing.T) {

	if testing.Short() {
		t.Skip("Пропускаем интеграционный тест в short режиме")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	s := newPostgresStore(ctx, t)

	// таблица в виде старой схемы
	require.NoError(t, s.db.Exec("ALTER TABLE orders ALTER COLUMN category TYPE VARCHAR(64)").Error)
	require.NoError(t, Migrate(s.db))

	long := strings.Repeat("x", 300)

	order := testOrder(t, "long-1", "m-1", "c-1")
	order.DisplayID = &long
	order.Category = &long
	order.Customer.Segmentation = &long
	order.Customer.PhoneLocalizer = &long
	order.Delivery.DeliveredBy = &long
	order.Delivery.PickupCode = &long
	order.Items[0].Type = &long
	order.Payments[0].Method = &long
	require.NoError(t, s.CreateOrder(ctx, order))

	loaded, err := s.LoadOrder(ctx, "long-1")
	require.NoError(t, err)
	assert.Equal(t, long, *loaded.DisplayID)
	assert.Equal(t, long, *loaded.Category)
	assert.Equal(t, long, *loaded.Customer.Segmentation)
	assert.Equal(t, long, *loaded.Delivery.PickupCode)
	assert.Equal(t, long, *loaded.Items[0].Type)
	assert.Equal(t, long, *loaded.Payments[0].Method)

	require.NoError(t, s.RecordWebhook(ctx, &models.WebhookEvent{
		ID:         uuid.NewString(),
		Vendor:     "amazon",
		EventCode:  long,
		Outcome:    "acknowledged",
		ReceivedAt: time.Now(),
	}))
}
