package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	mqcontract "charityledger/contracts/mq"
	"charityledger/internal/chain"
	"charityledger/internal/config"
	"charityledger/internal/handler"
	"charityledger/internal/httpserver"
	"charityledger/internal/ledger"
	"charityledger/internal/mqhandler"
	"charityledger/internal/repository"
	"charityledger/pkg/logger"
	"charityledger/pkg/mq"
	"charityledger/pkg/otel"
	"charityledger/pkg/util"

	"go.uber.org/zap"
)

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

	log.Info("Starting charity ledger server...", zap.String("backend", cfg.Ledger.Backend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := otel.Setup(ctx, cfg.Otel, log)
	if err != nil {
		log.Fatal("OpenTelemetry setup failed", zap.Error(err))
	}

	// Storage
	backend, err := repository.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("Ledger backend initialization failed", zap.Error(err))
	}
	defer backend.Close()

	// Chain mirror
	opts := []ledger.Option{
		ledger.WithBackendName(backend.Store.Name()),
		ledger.WithRecheckBuffer(cfg.Ledger.RecheckBuffer),
	}
	if cfg.Chain.Enabled {
		client := chain.NewClient(cfg.Chain, log)
		opts = append(opts, ledger.WithChain(client, client.Functions()), ledger.WithViewer(client))
		log.Info("Chain mirror enabled", zap.String("module", cfg.Chain.ModuleAddress))
	} else {
		opts = append(opts, ledger.WithChain(chain.Noop{}, chain.Functions{}), ledger.WithViewer(chain.Noop{}))
	}

	store := ledger.New(backend.Store, log, opts...)
	if err := store.Open(ctx); err != nil {
		log.Fatal("Ledger load failed", zap.Error(err))
	}
	log.Info("Ledger loaded", zap.Int("projects", len(store.GetAllProjects())))

	// Chain donation consumer
	var consumer *mq.Consumer
	if cfg.Worker.Enabled {
		dlq, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Fatal("failed to init DLQ publisher", zap.Error(err))
		}
		defer dlq.Close()

		donationHandler := mqhandler.NewChainDonationHandler(
			store,
			util.NewDeduper(backend.Redis, cfg.Worker.DedupeTTL, log),
			util.NewRetryCounter(backend.Redis, cfg.Worker.RetryTTL),
			dlq,
			cfg.Worker.Queue,
			cfg.Worker.MaxRetries,
			log,
		)

		log.Info("Init consumer", zap.String("queue", cfg.Worker.Queue))
		consumer, err = mq.NewConsumer(cfg.MQ.URL, cfg.Worker.Queue, mqcontract.RoutingChainDonationReceived, log)
		if err != nil {
			log.Fatal("Chain donation consumer init failed", zap.Error(err))
		}
		consumer.SetHandler(donationHandler.Handle)
		go func() {
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Chain donation consumer stopped", zap.Error(err))
			}
		}()
	}

	// HTTP
	ready := func(ctx context.Context) error {
		if err := backend.Ping(ctx); err != nil {
			return err
		}
		if consumer != nil && !consumer.IsConnected() {
			return errors.New("mq consumer not connected")
		}
		return nil
	}
	router := httpserver.NewRouter(
		handler.NewAuthHandler(cfg.Operators, handler.JWTSettings{
			Secret: cfg.JWT.Secret,
			Issuer: cfg.JWT.Issuer,
			TTL:    cfg.JWT.TTL,
		}, log),
		handler.NewLedgerHandler(store, log),
		handler.NewFeedHandler(store, log),
		httpserver.Auth{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer},
		ready,
		log,
	)
	srv := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server start failed", zap.Error(err))
		}
	}()

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down charity ledger server gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	log.Info("Stopping HTTP server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}

	if consumer != nil {
		log.Info("Stopping MQ consumer...")
		consumer.Close()
	}
	cancel()

	log.Info("Draining release rechecks...")
	store.Close()

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("Tracer shutdown failed", zap.Error(err))
	}

	log.Info("charity ledger server shutdown complete")
}
