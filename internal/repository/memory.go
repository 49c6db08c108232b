package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"charityledger/internal/model"
)

// Memory keeps the snapshot JSON encoded, so nothing it returns aliases
// the caller's data. Used by tests and single process demos.
type Memory struct {
	mu      sync.Mutex
	data    []byte
	events  []model.Event
	saves   int
	failErr error
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Load(_ context.Context) (*model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := &model.Snapshot{}
	if m.data == nil {
		return snap, nil
	}
	if err := json.Unmarshal(m.data, snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

func (m *Memory) Save(ctx context.Context, snap *model.Snapshot, events []model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.data = data
	m.events = append(m.events, events...)
	m.saves++
	return nil
}

// FailSaves makes every following Save return err until called with nil.
func (m *Memory) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Events returns every event committed so far, oldest first.
func (m *Memory) Events() []model.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Event(nil), m.events...)
}

func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
