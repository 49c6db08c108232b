package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"charityledger/internal/model"
	"charityledger/pkg/metrics"
	"charityledger/pkg/otel"
	"charityledger/pkg/outbox"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS ledger_collections (
	name       TEXT PRIMARY KEY,
	data       JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Postgres stores one JSONB row per collection and writes the mutation's
// events into the outbox within the same transaction.
type Postgres struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewPostgres(db *pgxpool.Pool, outboxRepo *outbox.Repository, logger *zap.Logger) *Postgres {
	return &Postgres{db: db, outbox: outboxRepo, logger: logger}
}

func (p *Postgres) Name() string { return "postgres" }

// EnsureSchema 创建账本表与 outbox 表（幂等）
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, ledgerSchema); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return p.outbox.EnsureSchema(ctx)
}

func (p *Postgres) Load(ctx context.Context) (*model.Snapshot, error) {
	query := `SELECT name, data FROM ledger_collections`
	snap := &model.Snapshot{}
	start := time.Now()

	err := otel.DB(ctx, "select", query, func(ctx context.Context) error {
		rows, err := p.db.Query(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var name string
			var data []byte
			if err := rows.Scan(&name, &data); err != nil {
				return err
			}
			if err := decodeCollection(snap, name, data); err != nil {
				return err
			}
		}
		return rows.Err()
	})
	metrics.RecordDBQueryDuration("select", "ledger_collections", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger collections: %w", err)
	}
	return snap, nil
}

func (p *Postgres) Save(ctx context.Context, snap *model.Snapshot, events []model.Event) error {
	collections, err := encodeCollections(snap)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO ledger_collections (name, data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`
	start := time.Now()
	err = otel.DB(ctx, "upsert", query, func(ctx context.Context) error {
		tx, err := p.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		batch := &pgx.Batch{}
		for _, c := range collections {
			batch.Queue(query, c.name, c.data)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to write collections: %w", err)
		}

		for _, ev := range events {
			if err := outbox.InsertEventInTx(ctx, tx, p.outbox, "project", ev.ProjectID, ev.RoutingKey, ev.Payload); err != nil {
				return fmt.Errorf("failed to insert %s into outbox: %w", ev.RoutingKey, err)
			}
		}
		return tx.Commit(ctx)
	})
	metrics.RecordDBQueryDuration("upsert", "ledger_collections", time.Since(start))
	if err != nil {
		p.logger.Error("Failed to save ledger snapshot",
			zap.Int("events", len(events)),
			zap.Error(err),
		)
		return err
	}
	return nil
}
