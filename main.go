package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/IPampurin/order-webhooks/pkg/cache"
	"github.com/IPampurin/order-webhooks/pkg/config"
	consumer "github.com/IPampurin/order-webhooks/pkg/cons"
	"github.com/IPampurin/order-webhooks/pkg/db"
	"github.com/IPampurin/order-webhooks/pkg/events"
	"github.com/IPampurin/order-webhooks/pkg/handlers"
	"github.com/IPampurin/order-webhooks/pkg/ingest"
	"github.com/IPampurin/order-webhooks/pkg/logger"
	"github.com/IPampurin/order-webhooks/pkg/marketplace"
	"github.com/IPampurin/order-webhooks/pkg/metrics"
	"github.com/IPampurin/order-webhooks/pkg/printing"
	"github.com/IPampurin/order-webhooks/pkg/server"
	"github.com/IPampurin/order-webhooks/pkg/tracing"
)

// окно, за которое заказы попадают в кэш при старте
const warmupWindow = 24 * time.Hour

func main() {

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ошибка: %v\n", err)
		os.Exit(1)
	}
}

func run() error {

	// загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	// создаем контекст для graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, log)
	if err != nil {
		return err
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			log.Warn("ошибка при остановке трассировки", zap.Error(err))
		}
	}()

	// подключаем базу данных
	store, err := db.Connect(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	// кэш необязателен, без него сервис работает напрямую с базой
	orderCache, err := cache.New(ctx, cfg.Redis, log)
	if err != nil {
		log.Warn("кэш отключён", zap.Error(err))
	}
	defer orderCache.Close()
	warmup(ctx, orderCache, store, cfg.Redis.WarmupLimit, log)

	archive, err := printing.NewArchive(ctx, cfg.Archive, log)
	if err != nil {
		return err
	}

	publisher := events.New(cfg.Kafka, log)
	defer publisher.Close()

	deps := ingest.Deps{
		Store:             store,
		Marketplace:       marketplace.New(cfg.Marketplace, log, metrics.ObserveOutbound),
		Cache:             orderCache,
		Publisher:         publisher,
		Log:               log,
		SideEffectTimeout: cfg.SideEffectTimeout,
		RedropDelay:       cfg.Redis.RedropDelay,
	}
	// nil указатели в интерфейсы не кладём
	if cfg.Print.Enabled {
		deps.Printer = printing.NewPrintNode(cfg.Print, log)
	} else {
		log.Info("печать этикеток выключена")
	}
	if archive != nil {
		deps.Archive = archive
	}
	svc := ingest.NewService(deps)

	var labelary handlers.PDFRenderer
	if cfg.Labelary.URL != "" {
		labelary = printing.NewLabelary(cfg.Labelary, cfg.Print.Timeout)
	}

	h := handlers.New(handlers.Deps{
		Ingest:    svc,
		Store:     store,
		Cache:     orderCache,
		Labelary:  labelary,
		BodyLimit: cfg.Server.BodyLimit,
		Log:       log,
	})

	// вебхуки, упавшие в прошлых запусках, перечитываются из DLQ в фоне
	replayDone := make(chan struct{})
	go func() {
		defer close(replayDone)
		replayer := consumer.NewReplayer(cfg.Kafka, svc, log)
		defer replayer.Close()
		if _, err := replayer.Replay(ctx); err != nil {
			log.Error("ошибка перечитывания DLQ", zap.Error(err))
		}
	}()

	// запускаем сервер (блокирующий вызов до сигнала)
	err = server.Run(ctx, cfg.Server, server.NewRouter(h, cfg.Auth.JWTSecret), log)
	stop()

	// дожидаемся подтверждений, печати и публикаций, начатых до остановки
	log.Info("ожидаем завершения фоновых задач")
	<-replayDone
	svc.Wait()

	if err != nil {
		return err
	}
	log.Info("приложение корректно завершено")

	return nil
}

// warmup загружает в кэш заказы за последние сутки
func warmup(ctx context.Context, c *cache.Cache, store *db.Store, limit int, log *zap.Logger) {

	if c == nil || limit <= 0 {
		return
	}

	ids, err := store.RecentOrderIDs(ctx, time.Now().Add(-warmupWindow), limit)
	if err != nil {
		log.Warn("не удалось получить заказы для прогрева кэша", zap.Error(err))
		return
	}

	n, err := c.Warmup(ctx, ids, store.LoadOrder)
	if err != nil {
		log.Warn("ошибка прогрева кэша", zap.Error(err))
	}
	log.Info("кэш прогрет", zap.Int("orders", n))
}
