package task

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// TaskType names a kind of background work spawned by a call
type TaskType string

const (
	TaskTypeLeadDelivery TaskType = "lead_delivery"
)

// ErrDraining is returned by Go once Wait has been called
var ErrDraining = errors.New("background tasks are draining")

// Tracker runs detached background tasks for one call and lets teardown wait for them.
type Tracker struct {
	wg      sync.WaitGroup
	mu      sync.Mutex
	pending map[TaskType]int
	closed  bool
	log     *zap.Logger
}

// NewTracker creates an empty tracker
func NewTracker(log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		pending: make(map[TaskType]int),
		log:     log,
	}
}

// Go runs fn on its own goroutine. A panic in fn is logged and swallowed.
// Once Wait has been called no new task is started.
func (t *Tracker) Go(taskType TaskType, fn func()) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrDraining
	}
	t.wg.Add(1)
	t.pending[taskType]++
	t.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				t.log.Error("Background task panic", zap.String("type", string(taskType)), zap.Any("panic", r))
			}
			t.mu.Lock()
			t.pending[taskType]--
			t.mu.Unlock()
			t.wg.Done()
		}()
		fn()
	}()
	return nil
}

// Pending returns the number of tasks still running
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.pending {
		n += c
	}
	return n
}

// Wait stops accepting tasks and blocks until all running ones finished or ctx is done
func (t *Tracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.log.Warn("Background tasks still running at teardown", zap.Int("pending", t.Pending()))
		return ctx.Err()
	}
}
