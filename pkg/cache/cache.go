// Package cache держит готовые представления заказов в Redis
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/IPampurin/order-webhooks/pkg/config"
	"github.com/IPampurin/order-webhooks/pkg/models"
)

// Cache - кэш представлений заказов; nil *Cache - рабочий выключенный кэш
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

// Key возвращает ключ заказа в кэше
func Key(orderID string) string {
	return fmt.Sprintf("order:%s", orderID)
}

// New подключается к Redis, при пустом адресе возвращает nil (кэш выключен)
func New(ctx context.Context, cfg config.Redis, log *zap.Logger) (*Cache, error) {

	if cfg.Addr == "" {
		return nil, nil
	}
	if log == nil {
		log = zap.NewNop()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// проверяем подключение
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ошибка подключения к Redis: %w", err)
	}

	return &Cache{rdb: rdb, ttl: cfg.TTL, log: log.Named("cache")}, nil
}

// Get возвращает сохранённое представление заказа
func (c *Cache) Get(ctx context.Context, orderID string) ([]byte, bool) {

	if c == nil {
		return nil, false
	}

	data, err := c.rdb.Get(ctx, Key(orderID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("ошибка чтения из кэша", zap.String("order_id", orderID), zap.Error(err))
		}
		return nil, false
	}

	// битые данные убираем
	if !json.Valid(data) {
		c.log.Warn("битые данные в кэше, удаляем ключ", zap.String("key", Key(orderID)))
		c.Invalidate(ctx, orderID)
		return nil, false
	}

	return data, true
}

// Set сохраняет представление заказа, ошибки только логируются
func (c *Cache) Set(ctx context.Context, orderID string, view any) {

	if c == nil {
		return
	}

	data, err := json.Marshal(view)
	if err != nil {
		c.log.Warn("ошибка сериализации данных для кэша", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, Key(orderID), data, c.ttl).Err(); err != nil {
		c.log.Warn("ошибка записи в кэш", zap.String("order_id", orderID), zap.Error(err))
	}
}

// Invalidate удаляет заказ из кэша
func (c *Cache) Invalidate(ctx context.Context, orderID string) {

	if c == nil {
		return
	}

	if err := c.rdb.Del(ctx, Key(orderID)).Err(); err != nil {
		c.log.Warn("ошибка удаления из кэша", zap.String("order_id", orderID), zap.Error(err))
	}
}

// OrderLoader читает полный заказ для прогрева
type OrderLoader func(ctx context.Context, orderID string) (*models.Order, error)

// Warmup загружает заказы в кэш одним pipeline и возвращает количество записанных
func (c *Cache) Warmup(ctx context.Context, ids []string, load OrderLoader) (int, error) {

	if c == nil || len(ids) == 0 {
		return 0, nil
	}

	pipe := c.rdb.Pipeline()
	queued := 0
	for _, id := range ids {
		order, err := load(ctx, id)
		if err != nil {
			c.log.Warn("заказ не загружен для прогрева", zap.String("order_id", id), zap.Error(err))
			continue
		}
		data, err := json.Marshal(order.View())
		if err != nil {
			continue
		}
		pipe.Set(ctx, Key(id), data, c.ttl)
		queued++
	}

	if queued == 0 {
		return 0, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("ошибка загрузки первичных данных в кэш: %w", err)
	}

	c.log.Info("кэш прогрет", zap.Int("orders", queued))

	return queued, nil
}

// Close закрывает клиент Redis
func (c *Cache) Close() {

	if c == nil {
		return
	}
	if err := c.rdb.Close(); err != nil {
		c.log.Warn("ошибка при закрытии Redis", zap.Error(err))
	}
}
