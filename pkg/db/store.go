package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/IPampurin/order-webhooks/pkg/models"
)

// код postgres для нарушения уникальности
const uniqueViolation = "23505"

func byPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position")
}

// isDuplicate распознаёт нарушение уникального ключа
func isDuplicate(err error) bool {

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// FindOrder возвращает шапку заказа с продавцом и покупателем
func (s *Store) FindOrder(ctx context.Context, orderID string) (*models.Order, error) {

	var order models.Order
	err := s.db.WithContext(ctx).
		Preload("Merchant").
		Preload("Customer").
		Where("order_id = ?", orderID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка при получении заказа %s: %w", orderID, err)
	}

	return &order, nil
}

// LoadOrder возвращает полный граф заказа, коллекции отсортированы по позиции
func (s *Store) LoadOrder(ctx context.Context, orderID string) (*models.Order, error) {

	var order models.Order
	err := s.db.WithContext(ctx).
		Preload("Merchant").
		Preload("Customer").
		Preload("Delivery").
		Preload("Items", byPosition).
		Preload("Items.Options", byPosition).
		Preload("Items.Options.Customizations", byPosition).
		Preload("Payments", byPosition).
		Preload("AdditionalFees", byPosition).
		Where("order_id = ?", orderID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка при получении заказа %s: %w", orderID, err)
	}

	return &order, nil
}

// getOrCreate вставляет запись, если ключа ещё нет, иначе перечитывает существующую;
// конкурентная вставка того же ключа ждёт коммита соседа и получает его строку
func getOrCreate[T any](tx *gorm.DB, entity *T, column, key string) (*T, error) {

	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: column}},
		DoNothing: true,
	}).Create(entity)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		return entity, nil
	}

	var existing T
	if err := tx.Where(column+" = ?", key).First(&existing).Error; err != nil {
		return nil, err
	}

	return &existing, nil
}

// CreateOrder сохраняет граф заказа одной транзакцией.
// Если заказ с таким order_id уже есть (в том числе создан параллельно), возвращает ErrOrderExists
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {

		// продавец и покупатель переиспользуются между заказами
		if order.Merchant != nil {
			m, err := getOrCreate(tx, order.Merchant, "merchant_id", order.Merchant.ExternalID)
			if err != nil {
				return fmt.Errorf("ошибка сохранения продавца: %w", err)
			}
			order.Merchant, order.MerchantID = m, &m.ID
		}
		if order.Customer != nil {
			c, err := getOrCreate(tx, order.Customer, "customer_id", order.Customer.ExternalID)
			if err != nil {
				return fmt.Errorf("ошибка сохранения покупателя: %w", err)
			}
			order.Customer, order.CustomerID = c, &c.ID
		}

		// доставка всегда новая
		if order.Delivery != nil {
			if err := tx.Create(order.Delivery).Error; err != nil {
				return fmt.Errorf("ошибка сохранения доставки: %w", err)
			}
			order.DeliveryID = &order.Delivery.ID
		}

		res := tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
			Create(order)
		if res.Error != nil {
			if isDuplicate(res.Error) {
				return ErrOrderExists
			}
			return fmt.Errorf("ошибка сохранения заказа: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrOrderExists
		}

		for i := range order.Items {
			item := &order.Items[i]
			item.OrderID = order.ID
			if err := tx.Omit(clause.Associations).Create(item).Error; err != nil {
				return fmt.Errorf("ошибка сохранения позиции %d: %w", item.Index, err)
			}
			for j := range item.Options {
				option := &item.Options[j]
				option.ItemID = item.ID
				if err := tx.Omit(clause.Associations).Create(option).Error; err != nil {
					return fmt.Errorf("ошибка сохранения опции %d/%d: %w", item.Index, option.Index, err)
				}
				for k := range option.Customizations {
					option.Customizations[k].OptionID = option.ID
				}
				if len(option.Customizations) > 0 {
					if err := tx.Create(&option.Customizations).Error; err != nil {
						return fmt.Errorf("ошибка сохранения кастомизаций: %w", err)
					}
				}
			}
		}

		for i := range order.Payments {
			order.Payments[i].OrderID = order.ID
		}
		if len(order.Payments) > 0 {
			if err := tx.Create(&order.Payments).Error; err != nil {
				return fmt.Errorf("ошибка сохранения платежей: %w", err)
			}
		}

		for i := range order.AdditionalFees {
			order.AdditionalFees[i].OrderID = order.ID
		}
		if len(order.AdditionalFees) > 0 {
			if err := tx.Create(&order.AdditionalFees).Error; err != nil {
				return fmt.Errorf("ошибка сохранения сборов: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrOrderExists) {
			s.log.Error("транзакция создания заказа отменена", zap.String("order_id", order.OrderID), zap.Error(err))
		}
		return err
	}

	s.log.Info("заказ сохранён", zap.String("order_id", order.OrderID), zap.Uint("order_db_id", order.ID),
		zap.Int("items", len(order.Items)))

	return nil
}

// UpdateStatus меняет только статус заказа, вложенные данные после создания не редактируются
func (s *Store) UpdateStatus(ctx context.Context, orderID, status string) error {

	res := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("order_id = ?", orderID).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("ошибка обновления статуса заказа %s: %w", orderID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// ListOrders возвращает страницу заказов (новые первыми) и общее количество
func (s *Store) ListOrders(ctx context.Context, page, limit int) ([]models.Order, int64, error) {

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Order{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("ошибка при получении количества заказов: %w", err)
	}

	var orders []models.Order
	err := s.db.WithContext(ctx).
		Preload("Merchant").
		Preload("Customer").
		Order("id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка при получении заказов: %w", err)
	}

	return orders, total, nil
}

// RecentOrderIDs возвращает идентификаторы заказов, созданных после since, для прогрева кэша
func (s *Store) RecentOrderIDs(ctx context.Context, since time.Time, limit int) ([]string, error) {

	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("created_at >= ?", since).
		Order("id DESC").
		Limit(limit).
		Pluck("order_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении последних заказов: %w", err)
	}

	return ids, nil
}

// DeleteOrder удаляет заказ со всеми вложенными данными и его доставку
func (s *Store) DeleteOrder(ctx context.Context, orderID string) error {

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {

		var order models.Order
		if err := tx.Where("order_id = ?", orderID).First(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		// удаляем снизу вверх: кастомизации, опции, позиции, платежи, сборы, сам заказ
		itemIDs := func() *gorm.DB {
			return tx.Model(&models.Item{}).Select("id").Where("order_id = ?", order.ID)
		}
		optionIDs := func() *gorm.DB {
			return tx.Model(&models.Option{}).Select("id").Where("item_id IN (?)", itemIDs())
		}

		steps := []func() error{
			func() error { return tx.Where("option_id IN (?)", optionIDs()).Delete(&models.Customization{}).Error },
			func() error { return tx.Where("item_id IN (?)", itemIDs()).Delete(&models.Option{}).Error },
			func() error { return tx.Where("order_id = ?", order.ID).Delete(&models.Item{}).Error },
			func() error { return tx.Where("order_id = ?", order.ID).Delete(&models.Payment{}).Error },
			func() error { return tx.Where("order_id = ?", order.ID).Delete(&models.AdditionalFee{}).Error },
			func() error { return tx.Delete(&order).Error },
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return fmt.Errorf("ошибка удаления заказа %s: %w", orderID, err)
			}
		}

		if order.DeliveryID != nil {
			if err := tx.Delete(&models.Delivery{}, *order.DeliveryID).Error; err != nil {
				return fmt.Errorf("ошибка удаления доставки заказа %s: %w", orderID, err)
			}
		}

		return nil
	})
}

// RecordWebhook пишет запись в журнал вебхуков
func (s *Store) RecordWebhook(ctx context.Context, ev *models.WebhookEvent) error {

	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		return fmt.Errorf("ошибка записи журнала вебхуков: %w", err)
	}

	return nil
}

// WebhookEvents возвращает журнал вебхуков по заказу в порядке поступления
func (s *Store) WebhookEvents(ctx context.Context, orderID string) ([]models.WebhookEvent, error) {

	var events []models.WebhookEvent
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("received_at").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала вебхуков: %w", err)
	}

	return events, nil
}
