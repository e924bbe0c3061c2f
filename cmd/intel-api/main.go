package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/api"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/app"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/config"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/intel"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/logging"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/metrics"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/monitor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("intel-api config error: %v", err)
	}
	logger := logging.Must(cfg.Log.Level, cfg.Log.Format).With(zap.String("service", "intel-api"))
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := app.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("database error", zap.Error(err))
	}
	defer closeStore()

	rdb, err := app.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal("redis error", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	}

	mt := metrics.New()
	engine := app.NewEngine(cfg, store)
	gate := app.NewGate(cfg, store)

	manager := monitor.NewManager(engine, app.Baselines(cfg, rdb), app.MonitorConfig(cfg),
		monitor.WithLogger(logger.Named("monitor")),
		monitor.WithMetrics(mt))
	defer manager.Close()

	svc := intel.NewService(engine, gate, store,
		intel.WithObserver(manager),
		intel.WithBatchLimits(intel.BatchLimits{MaxSize: cfg.Batch.MaxSize, ChunkSize: cfg.Batch.ChunkSize}),
		intel.WithMetrics(mt),
		intel.WithLogger(logger.Named("intel")))

	router := api.NewRouter(api.Deps{
		Service:     svc,
		Monitor:     manager,
		Limiter:     app.Limiter(cfg, rdb),
		Idempotency: app.Idempotency(cfg, rdb),
		Metrics:     mt,
		Logger:      logger.Named("api"),
		Ready:       store.Ping,
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("intel-api listening", zap.String("addr", cfg.HTTP.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("intel-api shutting down")
}
