package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/app"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/config"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/logging"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/metrics"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/monitor"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/mq"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/webhook"
)

// risk-scanner runs the global risk scan and the watches that back webhook
// subscriptions, publishing every update event to Kafka.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("risk-scanner config error: %v", err)
	}
	logger := logging.Must(cfg.Log.Level, cfg.Log.Format).With(zap.String("service", "risk-scanner"))
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

	writer := mq.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.TopicUpdates)
	defer writer.Close()
	publisher := mq.NewEventPublisher(writer)

	mt := metrics.New()
	engine := app.NewEngine(cfg, store)
	mcfg := app.MonitorConfig(cfg)

	manager := monitor.NewManager(engine, app.Baselines(cfg, rdb), mcfg,
		monitor.WithSinks(publisher),
		monitor.WithLogger(logger.Named("monitor")),
		monitor.WithMetrics(mt))
	defer manager.Close()

	scanner := monitor.NewScanner(store, engine, mcfg,
		monitor.ScanTo(publisher),
		monitor.ScanLogger(logger.Named("scanner")),
		monitor.ScanMetrics(mt))
	reconciler := webhook.NewReconciler(store, manager, cfg.Webhook.ReconcileInterval, logger.Named("reconciler"))
	ops := app.OpsServer(cfg.HTTP.Addr, "risk-scanner", store.Ping, mt)

	logger.Info("risk-scanner publishing updates",
		zap.String("topic", cfg.Kafka.TopicUpdates),
		zap.Duration("scan_interval", mcfg.ScanInterval),
		zap.Float64("risk_threshold", mcfg.RiskThreshold),
		zap.String("ops_addr", cfg.HTTP.Addr))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scanner.Run(gctx) })
	g.Go(func() error { return reconciler.Run(gctx) })
	g.Go(func() error { return app.Serve(gctx, ops, cfg.HTTP.ShutdownTimeout) })

	if err := g.Wait(); err != nil {
		logger.Error("risk-scanner stopped", zap.Error(err))
		return
	}
	logger.Info("risk-scanner shutting down")
}
