package main

import (
	"context"
	"flag"
	"os"

	"charityledger/internal/config"
	"charityledger/internal/ledger"
	"charityledger/internal/repository"
	"charityledger/pkg/logger"
	"charityledger/pkg/mq"
	"charityledger/pkg/outbox"

	"go.uber.org/zap"
)

// repair runs the fund consistency check over every project. It writes the
// ledger directly, so run it while the server is stopped.
func main() {
	projectID := flag.String("project", "", "repair only this project id")
	dryRun := flag.Bool("dry-run", false, "list the projects that would be checked without repairing them")
	replay := flag.Int("replay", 0, "republish up to N failed outbox events (postgres backend)")
	replayID := flag.Int64("replay-id", 0, "republish one outbox event by id (postgres backend)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()

	backend, err := repository.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("Ledger backend initialization failed", zap.Error(err))
	}
	defer backend.Close()

	store := ledger.New(backend.Store, log, ledger.WithBackendName(backend.Store.Name()))
	if err := store.Open(ctx); err != nil {
		log.Fatal("Ledger load failed", zap.Error(err))
	}
	defer store.Close()

	ids := []string{*projectID}
	if *projectID == "" {
		ids = ids[:0]
		for _, p := range store.GetAllProjects() {
			ids = append(ids, p.ID)
		}
	}

	failed := 0
	for _, id := range ids {
		if *dryRun {
			p, ok := store.GetProjectByID(id)
			if !ok {
				log.Warn("Project not found", zap.String("project_id", id))
				failed++
				continue
			}
			log.Info("Would check project",
				zap.String("project_id", id),
				zap.String("title", p.Title),
				zap.Int("donations", len(store.GetEscrowDonationsForProject(id))),
			)
			continue
		}

		rep := store.ValidateAndFixFundConsistency(ctx, id)
		switch {
		case rep.Err != nil:
			failed++
			log.Error("Consistency repair failed",
				zap.String("project_id", id),
				zap.Strings("issues", rep.Issues),
				zap.Error(rep.Err),
			)
		case rep.Fixed:
			log.Warn("Project repaired", zap.String("project_id", id), zap.Strings("issues", rep.Issues))
		default:
			log.Info("Project consistent", zap.String("project_id", id))
		}
	}

	if *replay > 0 || *replayID > 0 {
		if backend.Outbox == nil {
			log.Fatal("Outbox replay needs the postgres ledger backend")
		}
		publisher, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Fatal("failed to init publisher", zap.Error(err))
		}
		defer publisher.Close()
		replayer := outbox.NewReplayService(backend.Outbox, publisher, log)

		if *replayID > 0 {
			if err := replayer.ReplayEvent(ctx, *replayID); err != nil {
				log.Error("Outbox event replay failed", zap.Int64("event_id", *replayID), zap.Error(err))
				failed++
			} else {
				log.Info("Outbox event replayed", zap.Int64("event_id", *replayID))
			}
		}
		if *replay > 0 {
			n, err := replayer.ReplayFailedEvents(ctx, *replay)
			if err != nil {
				log.Error("Outbox replay failed", zap.Error(err))
				failed++
			} else {
				log.Info("Outbox events replayed", zap.Int("count", n))
			}
		}
	}

	if failed > 0 {
		log.Sync()
		os.Exit(1)
	}
}
