// Package db хранит канонический граф заказа в реляционной базе через GORM
package db

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/IPampurin/order-webhooks/pkg/config"
)

var (
	ErrNotFound    = errors.New("заказ не найден")
	ErrOrderExists = errors.New("заказ с таким order_id уже создан")
)

// Store - доступ к заказам и журналу вебхуков
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Connect открывает базу по конфигурации и применяет миграции
func Connect(cfg *config.Config, log *zap.Logger) (*Store, error) {

	var dialector gorm.Dialector
	switch cfg.DB.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DB.SQLitePath + "?_foreign_keys=on")
	default:
		// dsn - строка для соединения с базой данных, хост - имя сервиса БД из docker-compose
		dialector = postgres.Open(cfg.DSN())
	}

	return Open(dialector, log)
}

// Open подключается через готовый диалект и применяет миграции
func Open(dialector gorm.Dialector, log *zap.Logger) (*Store, error) {

	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("db")

	// TranslateError превращает нарушение уникальности в gorm.ErrDuplicatedKey
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		log.Error("не удалось подключиться к базе данных", zap.Error(err))
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	// sqlite не держит параллельных писателей
	if db.Dialector.Name() == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("ошибка получения SQL соединения: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	log.Info("подключение к базе данных установлено", zap.String("dialect", db.Dialector.Name()))

	if err := Migrate(db); err != nil {
		log.Error("ошибка при выполнении миграций", zap.Error(err))
		return nil, fmt.Errorf("ошибка миграции: %w", err)
	}

	log.Info("миграции успешно применены")

	return &Store{db: db, log: log}, nil
}

// Ping проверяет соединение с базой
func (s *Store) Ping(ctx context.Context) error {

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.PingContext(ctx)
}

// Close закрывает соединение с базой
func (s *Store) Close() {

	// получаем объект *sql.DB для закрытия соединения
	sqlDB, err := s.db.DB()
	if err != nil {
		s.log.Warn("ошибка при получении SQL соединения", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		s.log.Warn("ошибка при закрытии БД", zap.Error(err))
		return
	}

	s.log.Info("БД успешно отключена")
}
