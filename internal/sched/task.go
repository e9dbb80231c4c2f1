package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/Foundation-Devices/tor/internal/logging"
)

// Task is a long-running unit of work started by Spawn.
type Task struct {
	id     ulid.ULID
	name   string
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Spawn starts fn on its own goroutine and returns immediately. fn receives
// a context that is cancelled by Task.Cancel and should return once it is.
func (s *Scheduler) Spawn(name string, fn func(ctx context.Context) error) *Task {
	ctx, cancel := context.WithCancel(s.ctx)
	t := &Task{id: ulid.Make(), name: name, cancel: cancel, done: make(chan struct{})}
	log := logging.Logger().With(zap.String("task", name), zap.Stringer("task_id", t.id))
	log.Debug("task started")

	go func() {
		defer close(t.done)
		defer cancel()

		err := runTask(ctx, fn)
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()

		switch {
		case err == nil, errors.Is(err, context.Canceled):
			log.Debug("task stopped")
		default:
			log.Warn("task failed", zap.Error(err))
		}
	}()

	return t
}

func runTask(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in task: %v", r)
		}
	}()
	return fn(ctx)
}

// Cancel asks the task to stop and returns without waiting for it.
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed once the task has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task's result once Done is closed, and nil before.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Name returns the name given to Spawn.
func (t *Task) Name() string {
	return t.name
}

// ID identifies this run of the task in log output.
func (t *Task) ID() ulid.ULID {
	return t.id
}
