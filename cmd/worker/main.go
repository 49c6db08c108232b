package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"charityledger/internal/config"
	"charityledger/pkg/db"
	"charityledger/pkg/logger"
	"charityledger/pkg/mq"
	"charityledger/pkg/otel"
	"charityledger/pkg/outbox"

	"go.uber.org/zap"
)

// worker relays ledger events from the postgres outbox to the ledger.events exchange.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if cfg.Ledger.Backend != config.BackendPostgres {
		log.Fatal("Outbox relay needs the postgres ledger backend", zap.String("backend", cfg.Ledger.Backend))
	}

	log.Info("Starting outbox relay...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := otel.Setup(ctx, cfg.Otel, log)
	if err != nil {
		log.Fatal("OpenTelemetry setup failed", zap.Error(err))
	}

	// DB
	dbConn, err := db.NewConnection(ctx, cfg.DB, log)
	if err != nil {
		log.Fatal("DB connection failed", zap.Error(err))
	}
	defer dbConn.Close()

	outboxRepo := outbox.NewRepository(dbConn)
	if err := outboxRepo.EnsureSchema(ctx); err != nil {
		log.Fatal("Outbox schema failed", zap.Error(err))
	}
	log.Info("DB ready")

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("failed to init publisher", zap.Error(err))
	}
	defer publisher.Close()

	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log).
		WithInterval(cfg.Outbox.Interval).
		WithBatchSize(cfg.Outbox.BatchSize).
		WithMaxRetries(cfg.Outbox.MaxRetries)

	done := make(chan struct{})
	go func() {
		defer close(done)
		dispatcher.Start(ctx)
	}()

	log.Info("Outbox relay running",
		zap.Duration("interval", cfg.Outbox.Interval),
		zap.Int("batch_size", cfg.Outbox.BatchSize),
	)

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down outbox relay gracefully...")
	cancel()
	<-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("Tracer shutdown failed", zap.Error(err))
	}

	log.Info("Outbox relay shutdown complete")
}
