// Package sched provides the process-wide background scheduler on which all
// asynchronous work behind the C boundary runs.
//
// Boundary calls are plain blocking calls made by foreign threads. They hand
// work to the scheduler with Block and wait for it; long-running work such
// as the SOCKS front-end is started with Spawn and runs until cancelled.
//
// The scheduler is built lazily on first use and never torn down. If it
// cannot be built, every later Get returns the same error.
package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Foundation-Devices/tor/internal/config"
	"github.com/Foundation-Devices/tor/internal/logging"
)

var (
	// ErrUnavailable is returned by Get when the scheduler could not be built.
	ErrUnavailable = errors.New("background scheduler unavailable")

	// ErrNested is returned by Block when called from scheduler-owned work.
	ErrNested = errors.New("blocking call from inside the background scheduler")
)

// Scheduler runs submitted work on a fixed pool of workers.
type Scheduler struct {
	ctx  context.Context
	work chan func(ctx context.Context)
	cfg  config.Config
}

type ownerKey struct{}

// New starts a scheduler with cfg.Workers workers.
func New(cfg config.Config) (*Scheduler, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("invalid worker count %d", cfg.Workers)
	}

	s := &Scheduler{
		ctx:  context.WithValue(context.Background(), ownerKey{}, true),
		work: make(chan func(ctx context.Context)),
		cfg:  cfg,
	}
	for range cfg.Workers {
		go s.worker()
	}
	return s, nil
}

var instance = sync.OnceValues(func() (*Scheduler, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if cfg.LogEnabled {
		if err := logging.Configure(cfg.LogLevel); err != nil {
			return nil, fmt.Errorf("%w: logger: %w", ErrUnavailable, err)
		}
	}
	s, err := New(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	logging.Logger().Debug("background scheduler started", zap.Int("workers", cfg.Workers))
	return s, nil
})

// Get returns the process-wide scheduler, building it on the first call.
func Get() (*Scheduler, error) {
	return instance()
}

// Config returns the configuration the scheduler was built with.
func (s *Scheduler) Config() config.Config {
	return s.cfg
}

func (s *Scheduler) worker() {
	for fn := range s.work {
		fn(s.ctx)
	}
}

// Block runs fn on a scheduler worker and waits for it to return. It is the
// only way synchronous boundary code performs asynchronous work.
//
// ctx must come from the calling thread, never from work already running on
// the scheduler; in that case Block returns ErrNested rather than tying up a
// second worker waiting on the first. Cancelling ctx abandons the wait but
// not fn.
func Block[T any](ctx context.Context, s *Scheduler, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if fromScheduler(ctx) {
		return zero, ErrNested
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)

	job := func(wctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic in background work: %v", r)}
			}
		}()
		v, err := fn(wctx)
		done <- result{v: v, err: err}
	}

	select {
	case s.work <- job:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func fromScheduler(ctx context.Context) bool {
	v, _ := ctx.Value(ownerKey{}).(bool)
	return v
}
