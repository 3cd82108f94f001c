package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/rover/internal/handler"
	"github.com/roach88/rover/internal/model"
	"github.com/roach88/rover/internal/source"
)

// shutdownFlushTimeout bounds the final day counter flush.
const shutdownFlushTimeout = 10 * time.Second

// Store is everything the engine needs from persistence.
// Implemented by *store.Store.
type Store interface {
	DispatchStore
	SchedulerStore
	DayCountsWriter
}

// Engine wires one Ingestor per stream kind and the Scheduler around a shared
// Dispatcher and day counter buffer.
//
// Thread-safety model:
//   - Run(): must be called once
//   - Dispatcher(), Scheduler(), Counters(): safe from any goroutine
type Engine struct {
	dispatcher *Dispatcher
	scheduler  *Scheduler
	counters   *Counters
	ingestors  []*Ingestor
	streams    []source.Stream
	names      []string
	settings
}

// New opens the submission and comment streams of src and builds the engine
// for the registry's handlers. Failing to open either stream is fatal.
func New(ctx context.Context, st Store, src source.Source, reg *handler.Registry, opts ...Option) (*Engine, error) {
	if reg == nil || reg.Len() == 0 {
		return nil, handler.ErrNoActiveHandlers
	}

	set := newSettings(opts)
	handlers := reg.Handlers()

	e := &Engine{
		counters: NewCounters(st, set.clock, set.logger),
		names:    reg.Names(),
		settings: set,
	}
	e.dispatcher = NewDispatcher(st, handlers, opts...)
	e.scheduler = NewScheduler(st, handlers, e.counters, opts...)

	for _, kind := range []model.Kind{model.KindSubmission, model.KindComment} {
		stream, err := src.Open(ctx, kind)
		if err != nil {
			closeErr := e.closeStreams()
			return nil, errors.Join(fmt.Errorf("open %s stream: %w", kind, err), closeErr)
		}
		e.streams = append(e.streams, stream)
		e.ingestors = append(e.ingestors, NewIngestor(kind, stream, e.dispatcher, e.counters, opts...))
	}
	return e, nil
}

// Run starts both ingestors and the scheduler and blocks until ctx is
// cancelled. On the way out it flushes the day counters and closes the
// streams.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "engine starting", "handlers", e.names)

	var wg sync.WaitGroup
	for _, in := range e.ingestors {
		wg.Add(1)
		go func(in *Ingestor) {
			defer wg.Done()
			_ = in.Run(ctx)
		}(in)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = e.scheduler.Run(ctx)
	}()

	<-ctx.Done()
	e.logger.InfoContext(ctx, "engine stopping: context cancelled")
	wg.Wait()

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownFlushTimeout)
	defer cancel()

	var errs []error
	if err := e.counters.Flush(flushCtx); err != nil {
		errs = append(errs, fmt.Errorf("flush day counters: %w", err))
	}
	if err := e.closeStreams(); err != nil {
		errs = append(errs, err)
	}
	e.logger.InfoContext(flushCtx, "engine stopped")
	return errors.Join(errs...)
}

func (e *Engine) closeStreams() error {
	var errs []error
	for _, s := range e.streams {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stream: %w", err))
		}
	}
	e.streams = nil
	return errors.Join(errs...)
}

// Dispatcher returns the engine's dispatcher.
func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }

// Scheduler returns the engine's scheduler.
func (e *Engine) Scheduler() *Scheduler { return e.scheduler }

// Counters returns the engine's day counter buffer.
func (e *Engine) Counters() *Counters { return e.counters }
