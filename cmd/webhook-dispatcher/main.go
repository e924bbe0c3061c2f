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
	"github.com/azrilxx/tradenestkgsb-sub002/internal/mq"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/webhook"
)

// webhook-dispatcher consumes update events and pushes them to matching
// webhook subscribers.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("webhook-dispatcher config error: %v", err)
	}
	logger := logging.Must(cfg.Log.Level, cfg.Log.Format).With(zap.String("service", "webhook-dispatcher"))
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := app.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("database error", zap.Error(err))
	}
	defer closeStore()

	reader := mq.NewReader(cfg.Kafka.Brokers, cfg.Kafka.TopicUpdates, cfg.Kafka.ConsumerGroup)
	defer reader.Close()

	mt := metrics.New()
	dispatcher := webhook.NewDispatcher(store, app.WebhookConfig(cfg), logger.Named("dispatcher"), mt)
	dispatcher.Start()
	defer dispatcher.Stop()

	if cfg.Webhook.SigningSecret == "" {
		logger.Warn("webhook signing secret not set, deliveries are unsigned")
	}
	ops := app.OpsServer(cfg.HTTP.Addr, "webhook-dispatcher", store.Ping, mt)

	logger.Info("webhook-dispatcher consuming updates",
		zap.String("topic", cfg.Kafka.TopicUpdates),
		zap.String("group", cfg.Kafka.ConsumerGroup),
		zap.Int("workers", cfg.Webhook.Workers))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mq.ConsumeEvents(gctx, reader, logger.Named("consumer"), dispatcher.Publish)
	})
	g.Go(func() error { return app.Serve(gctx, ops, cfg.HTTP.ShutdownTimeout) })

	if err := g.Wait(); err != nil {
		logger.Error("webhook-dispatcher stopped", zap.Error(err))
		return
	}
	logger.Info("webhook-dispatcher shutting down")
}
