package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"charityledger/internal/config"
	"charityledger/internal/model"
	"charityledger/pkg/db"
	"charityledger/pkg/outbox"
	redisclient "charityledger/pkg/redis"
)

// Store is a ledger snapshot backend.
type Store interface {
	Name() string
	Load(ctx context.Context) (*model.Snapshot, error)
	Save(ctx context.Context, snap *model.Snapshot, events []model.Event) error
}

// Backend 按配置打开的存储以及它持有的连接
type Backend struct {
	Store  Store
	DB     *pgxpool.Pool // postgres only
	Outbox *outbox.Repository
	Redis  *redis.Client
}

// Open connects the configured ledger backend. Redis is also opened when the
// chain donation consumer needs it for dedupe and retry counters.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backend, error) {
	b := &Backend{}
	if cfg.Ledger.Backend == config.BackendRedis || cfg.Worker.Enabled {
		rdb, err := redisclient.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		b.Redis = rdb
	}

	switch cfg.Ledger.Backend {
	case config.BackendPostgres:
		pool, err := db.NewConnection(ctx, cfg.DB, logger)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		b.DB = pool
		b.Outbox = outbox.NewRepository(pool)
		pg := NewPostgres(pool, b.Outbox, logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			b.Close()
			return nil, err
		}
		b.Store = pg
	case config.BackendRedis:
		b.Store = NewRedis(b.Redis, cfg.Ledger.StreamMaxLen, logger)
	default:
		b.Store = NewMemory()
	}
	return b, nil
}

// Ping checks every open connection.
func (b *Backend) Ping(ctx context.Context) error {
	if b.DB != nil {
		if err := b.DB.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if b.Redis != nil {
		if err := b.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (b *Backend) Close() {
	if b.DB != nil {
		b.DB.Close()
	}
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
}
