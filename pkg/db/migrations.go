package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/IPampurin/order-webhooks/pkg/models"
)

// Migrate создаёт схему: для postgres - сырым SQL в порядке зависимостей,
// для остальных диалектов (sqlite в тестах и локально) - через AutoMigrate
func Migrate(db *gorm.DB) error {

	if db.Dialector.Name() != "postgres" {
		return db.AutoMigrate(
			&models.Merchant{},
			&models.Customer{},
			&models.Delivery{},
			&models.Order{},
			&models.Item{},
			&models.Option{},
			&models.Customization{},
			&models.Payment{},
			&models.AdditionalFee{},
			&models.WebhookEvent{},
		)
	}

	// сначала родительские таблицы, затем дочерние
	migrations := []func(*gorm.DB) error{
		createMerchantsTable,
		createCustomersTable,
		createDeliveriesTable,
		createOrdersTable,
		createItemsTable,
		createOptionsTable,
		createCustomizationsTable,
		createPaymentsTable,
		createFeesTable,
		createWebhookEventsTable,
		widenVendorColumns,
	}

	for _, migration := range migrations {
		if err := migration(db); err != nil {
			return err
		}
	}

	return nil
}

// createMerchantsTable - продавцы, общие для всех заказов
func createMerchantsTable(db *gorm.DB) error {
	sql := `
		CREATE TABLE IF NOT EXISTS order_merchants (
			id SERIAL PRIMARY KEY,
			merchant_id VARCHAR(255) NOT NULL,              -- внешний идентификатор маркетплейса
			name TEXT,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT uq_order_merchants_merchant_id UNIQUE (merchant_id)
		);
	`

	return db.Exec(sql).Error
}

// createCustomersTable - покупатели, общие для всех заказов
func createCustomersTable(db *gorm.DB) error {
	sql := `
		CREATE TABLE IF NOT EXISTS order_customers (
			id SERIAL PRIMARY KEY,
			customer_id VARCHAR(255) NOT NULL,               -- внешний идентификатор маркетплейса
			name TEXT,
			document_number TEXT,
			phone_number TEXT,
			phone_localizer TEXT,
			phone_localizer_expiration TIMESTAMPTZ,
			orders_count_on_merchant INTEGER,
			segmentation TEXT,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT uq_order_customers_customer_id UNIQUE (customer_id)
		);
	`

	return db.Exec(sql).Error
}

// createDeliveriesTable - доставка, своя на каждый заказ
func createDeliveriesTable(db *gorm.DB) error {
	sql := `
		CREATE TABLE IF NOT EXISTS order_deliveries (
			id SERIAL PRIMARY KEY,
			mode TEXT,
			description TEXT,
			delivered_by TEXT,
			delivery_datetime TIMESTAMPTZ,
			observations TEXT,
			pickup_code TEXT,
			address_street TEXT,
			address_number TEXT,
			address_formatted TEXT,
			address_neighborhood TEXT,
			address_complement TEXT,
			address_postal_code TEXT,
			address_city TEXT,
			address_state TEXT,
			address_country TEXT,
			address_reference TEXT,
			address_latitude DOUBLE PRECISION,
			address_longitude DOUBLE PRECISION,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);
	`

	return db.Exec(sql).Error
}

// createOrdersTable - корневая таблица заказа, order_id - ключ идемпотентности
func createOrdersTable(db *gorm.DB) error {
	sql := `
		CREATE TABLE IF NOT EXISTS orders (
			id SERIAL PRIMARY KEY,
			order_id VARCHAR(255) NOT NULL,
			display_id TEXT,
			order_created_at TIMESTAMPTZ,                                         -- время создания на маркетплейсе
			category TEXT,
			order_timing TEXT,
			order_type TEXT,
			preparation_start TIMESTAMPTZ,
			is_test BOOLEAN,
			sales_channel TEXT,
			status VARCHAR(64) NOT NULL,
			order_amount DOUBLE PRECISION,
			sub_total DOUBLE PRECISION,
			delivery_fee DOUBLE PRECISION,
			benefits DOUBLE PRECISION,
			additional_fees_total DOUBLE PRECISION,
			details JSONB,                                                        -- исходный payload для аудита
			merchant_id INTEGER REFERENCES order_merchants(id),
			customer_id INTEGER REFERENCES order_customers(id),
			delivery_id INTEGER REFERENCES order_deliveries(id) ON DELETE SET NULL,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT uq_orders_order_id UNIQUE (order_id)
		);

		CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
		CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at);
		CREATE INDEX IF NOT EXISTS idx_orders_merchant_id ON orders(merchant_id);
	`

	return db.Exec(sql).Error
}

// createItemsTable - позиции заказа, position хранит порядок из payload
func createItemsTable(db *gorm.DB) error {
	sql := `
		CREATE TABLE IF NOT EXISTS order_items (
			id SERIAL PRIMARY KEY,
			order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			external_id TEXT,
			unique_id TEXT,
			name TEXT,
			external_code TEXT,
			ean TEXT,
			quantity DOUBLE PRECISION,
			unit TEXT,
			unit_price DOUBLE PRECISION,
			options_price DOUBLE PRECISION,
			total_price DOUBLE PRECISION,
			price DOUBLE PRECISION,
			observations TEXT,
			image_url TEXT,
			type TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id, position);
	`

	return db.Exec(sql).Error
}

// createOptionsTable - опции позиции
func createOptionsTable(db *gorm.DB) error {
	sql := `
		CREATE TABLE IF NOT EXISTS order_item_options (
			id SERIAL PRIMARY KEY,
			item_id INTEGER NOT NULL REFERENCES order_items(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			external_id TEXT,
			name TEXT,
			type TEXT,
			group_name TEXT,
			external_code TEXT,
			ean TEXT,
			quantity DOUBLE PRECISION,
			unit TEXT,
			unit_price DOUBLE PRECISION,
			addition DOUBLE PRECISION,
			price DOUBLE PRECISION,
			option_type TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_order_item_options_item_id ON order_item_options(item_id, position);
	`

	return db.Exec(sql).Error
}

// createCustomizationsTable - кастомизации опций
func createCustomizationsTable(db *gorm.DB) error {
	sql := `
		CREATE TABLE IF NOT EXISTS order_item_customizations (
			id SERIAL PRIMARY KEY,
			option_id INTEGER NOT NULL REFERENCES order_item_options(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			external_id TEXT,
			external_code TEXT,
			name TEXT,
			group_name TEXT,
			type TEXT,
			quantity DOUBLE PRECISION,
			unit_price DOUBLE PRECISION,
			addition DOUBLE PRECISION,
			price DOUBLE PRECISION
		);

		CREATE INDEX IF NOT EXISTS idx_order_item_customizations_option_id ON order_item_customizations(option_id, position);
	`

	return db.Exec(sql).Error
}

// createPaymentsTable - способы оплаты
func createPaymentsTable(db *gorm.DB) error {
	sql := `
		CREATE TABLE IF NOT EXISTS order_payments (
			id SERIAL PRIMARY KEY,
			order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			value DOUBLE PRECISION,
			currency TEXT,
			method TEXT,
			prepaid BOOLEAN,
			type TEXT,
			card_brand TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_order_payments_order_id ON order_payments(order_id, position);
	`

	return db.Exec(sql).Error
}

// createFeesTable - дополнительные сборы
func createFeesTable(db *gorm.DB) error {
	sql := `
		CREATE TABLE IF NOT EXISTS order_additional_fees (
			id SERIAL PRIMARY KEY,
			order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			type TEXT,
			description TEXT,
			full_description TEXT,
			value DOUBLE PRECISION,
			liabilities JSONB
		);

		CREATE INDEX IF NOT EXISTS idx_order_additional_fees_order_id ON order_additional_fees(order_id, position);
	`

	return db.Exec(sql).Error
}

// createWebhookEventsTable - журнал входящих вебхуков, без внешних ключей
func createWebhookEventsTable(db *gorm.DB) error {
	sql := `
		CREATE TABLE IF NOT EXISTS webhook_events (
			id VARCHAR(36) PRIMARY KEY,
			vendor VARCHAR(32) NOT NULL,
			event_code TEXT,
			order_id VARCHAR(255),
			merchant_id VARCHAR(255),
			previous_status VARCHAR(64),
			outcome VARCHAR(32) NOT NULL,
			error TEXT,
			raw_body TEXT,
			received_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_webhook_events_order_id ON webhook_events(order_id);
		CREATE INDEX IF NOT EXISTS idx_webhook_events_received_at ON webhook_events(received_at);
	`

	return db.Exec(sql).Error
}

// колонки, которые в ранних версиях схемы были VARCHAR и обрезали значения вендора
var vendorTextColumns = map[string][]string{
	"order_merchants":           {"name"},
	"order_customers":           {"name", "document_number", "phone_number", "phone_localizer", "segmentation"},
	"order_deliveries":          {"mode", "delivered_by", "pickup_code", "address_street", "address_number", "address_neighborhood", "address_complement", "address_postal_code", "address_city", "address_state", "address_country"},
	"orders":                    {"display_id", "category", "order_timing", "order_type", "sales_channel"},
	"order_items":               {"external_id", "unique_id", "name", "external_code", "ean", "unit", "type"},
	"order_item_options":        {"external_id", "name", "type", "group_name", "external_code", "ean", "unit", "option_type"},
	"order_item_customizations": {"external_id", "external_code", "name", "group_name", "type"},
	"order_payments":            {"currency", "method", "type", "card_brand"},
	"order_additional_fees":     {"type"},
	"webhook_events":            {"event_code"},
}

// widenVendorColumns переводит уже созданные таблицы на TEXT, на новой схеме ничего не меняет
func widenVendorColumns(db *gorm.DB) error {

	for table, columns := range vendorTextColumns {
		for _, column := range columns {
			sql := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE TEXT", table, column)
			if err := db.Exec(sql).Error; err != nil {
				return fmt.Errorf("ошибка расширения %s.%s: %w", table, column, err)
			}
		}
	}

	return nil
}
