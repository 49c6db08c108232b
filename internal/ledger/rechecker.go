package ledger

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"charityledger/pkg/metrics"
	"charityledger/pkg/trace"
)

// RecheckFunc attempts a release for one milestone.
type RecheckFunc func(ctx context.Context, projectID, milestoneID string)

type recheckTask struct {
	milestoneID string
	traceID     string
}

type projectQueue struct {
	tasks   []recheckTask
	running bool
}

// Rechecker runs release rechecks in arrival order, one worker goroutine per
// project with pending work. Duplicate pending tasks for the same milestone
// are coalesced.
type Rechecker struct {
	run    RecheckFunc
	buffer int
	logger *zap.Logger

	mu      sync.Mutex
	idle    *sync.Cond
	queues  map[string]*projectQueue
	pending int
	closed  bool
	workers sync.WaitGroup
}

func NewRechecker(run RecheckFunc, buffer int, logger *zap.Logger) *Rechecker {
	r := &Rechecker{
		run:    run,
		buffer: buffer,
		logger: logger,
		queues: make(map[string]*projectQueue),
	}
	r.idle = sync.NewCond(&r.mu)
	return r
}

// Enqueue schedules a recheck and returns immediately.
func (r *Rechecker) Enqueue(ctx context.Context, projectID, milestoneID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.logger.Warn("Rechecker closed, dropping release recheck",
			zap.String("project_id", projectID),
			zap.String("milestone_id", milestoneID),
		)
		return
	}

	q, ok := r.queues[projectID]
	if !ok {
		q = &projectQueue{}
		r.queues[projectID] = q
	}
	for _, t := range q.tasks {
		if t.milestoneID == milestoneID {
			return
		}
	}
	if r.buffer > 0 && len(q.tasks) >= r.buffer {
		r.logger.Warn("Release recheck queue full, dropping task",
			zap.String("project_id", projectID),
			zap.String("milestone_id", milestoneID),
			zap.Int("buffer", r.buffer),
		)
		return
	}

	q.tasks = append(q.tasks, recheckTask{milestoneID: milestoneID, traceID: trace.FromContext(ctx)})
	r.pending++
	metrics.RecheckQueueDepth.Inc()
	if !q.running {
		q.running = true
		r.workers.Add(1)
		go r.drain(projectID)
	}
}

func (r *Rechecker) drain(projectID string) {
	defer r.workers.Done()
	for {
		r.mu.Lock()
		q := r.queues[projectID]
		if len(q.tasks) == 0 {
			q.running = false
			delete(r.queues, projectID)
			r.mu.Unlock()
			return
		}
		t := q.tasks[0]
		q.tasks = q.tasks[1:]
		r.mu.Unlock()

		r.runTask(projectID, t)

		r.mu.Lock()
		r.pending--
		metrics.RecheckQueueDepth.Dec()
		if r.pending == 0 {
			r.idle.Broadcast()
		}
		r.mu.Unlock()
	}
}

func (r *Rechecker) runTask(projectID string, t recheckTask) {
	ctx := context.Background()
	if t.traceID != "" {
		ctx = trace.WithContext(ctx, t.traceID)
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Release recheck panicked",
				zap.String("project_id", projectID),
				zap.String("milestone_id", t.milestoneID),
				zap.Any("panic", p),
			)
		}
	}()
	r.run(ctx, projectID, t.milestoneID)
}

// WaitIdle blocks until no recheck is queued or running.
func (r *Rechecker) WaitIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.pending > 0 {
		r.idle.Wait()
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (r *Rechecker) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.workers.Wait()
}
