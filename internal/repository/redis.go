package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"charityledger/internal/model"
)

const (
	SnapshotKey = "ledger:snapshot"
	EventStream = "ledger:events"
)

// Redis keeps the snapshot under one key and appends events to a stream in
// the same MULTI/EXEC transaction.
type Redis struct {
	rdb          redis.Cmdable
	streamMaxLen int64
	logger       *zap.Logger
}

func NewRedis(rdb redis.Cmdable, streamMaxLen int64, logger *zap.Logger) *Redis {
	if streamMaxLen <= 0 {
		streamMaxLen = 100000
	}
	return &Redis{rdb: rdb, streamMaxLen: streamMaxLen, logger: logger}
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Load(ctx context.Context) (*model.Snapshot, error) {
	data, err := r.rdb.Get(ctx, SnapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return &model.Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	snap := &model.Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

func (r *Redis) Save(ctx context.Context, snap *model.Snapshot, events []model.Event) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, SnapshotKey, data, 0)
		for _, ev := range events {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: EventStream,
				MaxLen: r.streamMaxLen,
				Approx: true,
				Values: streamValues(ev),
			})
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to save ledger snapshot", zap.Int("events", len(events)), zap.Error(err))
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func streamValues(ev model.Event) map[string]any {
	return map[string]any{
		"routing_key": ev.RoutingKey,
		"project_id":  ev.ProjectID,
		"payload":     string(ev.Payload),
		"occurred_at": ev.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
}
