package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/roach88/orderledger/internal/adapter/handler"
	"github.com/roach88/orderledger/internal/adapter/storage"
	"github.com/roach88/orderledger/internal/config"
	"github.com/roach88/orderledger/internal/core/service"
	"github.com/roach88/orderledger/internal/event"
	"github.com/roach88/orderledger/internal/logging"
	"github.com/roach88/orderledger/internal/metrics"
	"github.com/roach88/orderledger/internal/port"
	"github.com/roach88/orderledger/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ledger store
	store := storage.NewFileAdapter(cfg.Ledger.Path)
	if _, err := store.Load(ctx); err != nil {
		// A corrupt ledger is fatal at startup; starting with an empty one
		// would silently lose orders.
		logger.Fatal("ledger unreadable", zap.String("path", cfg.Ledger.Path), zap.Error(err))
	}
	logger.Info("ledger opened", zap.String("path", cfg.Ledger.Path))

	// Intake idempotency guard
	var guard port.IdempotencyGuard
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		guard = storage.NewRedisAdapter(rdb)
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		guard = storage.NewMemoryGuard()
		logger.Info("using in-process intake guard")
	}

	defaultRate, err := decimal.NewFromString(cfg.Order.DefaultRate)
	if err != nil {
		logger.Fatal("invalid default rate", zap.String("value", cfg.Order.DefaultRate), zap.Error(err))
	}
	defaultDueLimit, err := decimal.NewFromString(cfg.Order.DefaultDueLimit)
	if err != nil {
		logger.Fatal("invalid default due limit", zap.String("value", cfg.Order.DefaultDueLimit), zap.Error(err))
	}

	m := metrics.New()
	dist := event.NewDistributor(cfg.Events.History, cfg.Events.Buffer, m, logger.Named("events"))

	orders := service.NewOrderService(store, guard, dist, m, logger.Named("orders"), service.Options{
		ProcessingTimeout: cfg.Order.ProcessingTimeout.Duration(),
		DefaultRate:       defaultRate,
		DefaultDueLimit:   defaultDueLimit,
	})
	tracker := service.NewPendingTracker(cfg.Recovery.PendingTTL.Duration())
	recovery := service.NewRecoveryService(orders, tracker, nil,
		cfg.Recovery.EnrichTimeout.Duration(), logger.Named("recovery"))

	// Background schedulers: timeout sweep and day-rollover check share one
	// mechanism.
	sweeper := service.NewTimeoutSweeper(orders, logger.Named("sweeper"))
	dayWatcher := service.NewDayWatcher(dist, logger.Named("daywatcher"))

	sched := scheduler.New(logger.Named("scheduler"))
	sched.Add("timeout-sweep", cfg.Sweep.Interval.Duration(), sweeper.Sweep)
	sched.Add("day-check", cfg.DayCheck.Interval.Duration(), dayWatcher.Check)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()
	logger.Info("schedulers started",
		zap.Duration("sweep_interval", cfg.Sweep.Interval.Duration()),
		zap.Duration("processing_timeout", cfg.Order.ProcessingTimeout.Duration()))

	// HTTP server
	srv := handler.NewServer(orders, recovery, tracker, dist, m, logger.Named("http"))
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.Start(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}
	logger.Info("http server stopped")

	cancel()
	wg.Wait()
	logger.Info("schedulers stopped")

	if rdb != nil {
		rdb.Close()
	}
	logger.Info("shutdown complete")
}
