package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/rover/internal/handler"
	"github.com/roach88/rover/internal/logger"
	"github.com/roach88/rover/internal/model"
	"github.com/roach88/rover/internal/store"
)

// SchedulerStore is the part of the store a tick touches.
// Implemented by *store.Store.
type SchedulerStore interface {
	handler.MessageSink
	DueTasks(ctx context.Context, handler string, now time.Time) ([]model.DeferredTask, error)
	TouchTask(ctx context.Context, itemID, handler string, now time.Time) (bool, error)
	Compact(ctx context.Context, olderThan, now time.Time) (store.CompactResult, error)
}

// FiredUpdate is one deferred update invoked during a tick.
type FiredUpdate struct {
	Handler string `json:"handler"`
	ItemID  string `json:"item_id"`
	Err     error  `json:"-"`
}

// TickReport describes what one scheduler tick did.
type TickReport struct {
	At        time.Time           `json:"at"`
	Fired     []FiredUpdate       `json:"fired"`
	Messages  int                 `json:"messages"`
	Compacted store.CompactResult `json:"compacted"`
	Errors    []error             `json:"-"`
}

// Scheduler fires deferred updates, processes handler inboxes, compacts the
// store and flushes the day counters on a cron schedule.
//
// Each tick runs under mu. Ticks never overlap; ingestion does not take mu.
type Scheduler struct {
	mu       sync.Mutex
	store    SchedulerStore
	handlers []handler.Handler
	counters *Counters
	settings
}

// NewScheduler creates a scheduler over handlers in registration order.
func NewScheduler(s SchedulerStore, handlers []handler.Handler, counters *Counters, opts ...Option) *Scheduler {
	hs := make([]handler.Handler, len(handlers))
	copy(hs, handlers)
	return &Scheduler{
		store:    s,
		handlers: hs,
		counters: counters,
		settings: newSettings(opts),
	}
}

// Run ticks on the schedule until ctx is cancelled. A tick in progress at
// cancellation runs to completion.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "rover.engine.scheduler"})
	for {
		now := s.clock.Now()
		next := s.schedule.Next(now)
		if !pause(ctx, next.Sub(now)) {
			return nil
		}
		s.Tick(context.WithoutCancel(ctx))
	}
}

// Tick performs one update cycle at the clock's current time:
//
//  1. For every handler, each due task is touched (last invocation advanced
//     to now) and then its OnUpdate callback runs.
//  2. Every handler with a session processes its inbox.
//  3. Old dedup records and expired tasks are compacted.
//  4. One cycle is counted and the day counters are flushed.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	now := s.clock.Now()
	report := TickReport{At: now}

	sc := logger.StartSpan(ctx, "engine.tick",
		trace.WithAttributes(attribute.Int("handlers", len(s.handlers))),
	)
	defer sc.End()
	ctx = sc.Context()

	for _, h := range s.handlers {
		s.fireUpdates(ctx, h, now, &report)
	}
	for _, h := range s.handlers {
		s.processInbox(ctx, h, &report)
	}

	res, err := s.store.Compact(ctx, now.Add(-s.retention), now)
	if err != nil {
		s.logger.ErrorContext(ctx, "compact store", "error", err)
		sc.RecordError(err)
		report.Errors = append(report.Errors, err)
	}
	report.Compacted = res
	s.metrics.Compacted("dedup_records", res.Dedup)
	s.metrics.Compacted("deferred_tasks", res.Tasks)

	if s.counters != nil {
		s.counters.Cycle(ctx)
		if err := s.counters.Flush(ctx); err != nil {
			s.logger.ErrorContext(ctx, "flush day counters", "error", err)
			report.Errors = append(report.Errors, err)
		}
	}

	s.metrics.Tick(time.Since(start))
	s.logger.DebugContext(ctx, "tick complete",
		"fired", len(report.Fired),
		"messages", report.Messages,
		"compacted_dedup", res.Dedup,
		"compacted_tasks", res.Tasks,
	)
	return report
}

func (s *Scheduler) fireUpdates(ctx context.Context, h handler.Handler, now time.Time, report *TickReport) {
	name := h.Name()
	ctx = logger.WithLogFields(ctx, logger.LogFields{Handler: name})

	tasks, err := s.store.DueTasks(ctx, name, now)
	if err != nil {
		report.Errors = append(report.Errors, s.fail(ctx, CodeUpdateFailed, name, "", err))
		return
	}

	retry := s.retry
	retry.OnRetry = func(attempt int, err error) {
		s.metrics.Retried(name)
		s.logger.WarnContext(ctx, "retrying update", "handler", name, "attempt", attempt, "error", err)
	}

	for _, task := range tasks {
		// Advance first: a callback that hangs or crashes must not make the
		// task fire again on the next tick.
		ok, err := s.store.TouchTask(ctx, task.ItemID, name, now)
		if err != nil {
			report.Errors = append(report.Errors, s.fail(ctx, CodeUpdateFailed, name, task.ItemID, err))
			continue
		}
		if !ok {
			continue
		}

		update := model.Update{
			ItemID:      task.ItemID,
			CreatedAt:   task.CreatedAt,
			ExpiresAt:   task.ExpiresAt,
			LastUpdated: task.LastInvoked,
			Interval:    task.Interval,
		}
		fired := FiredUpdate{Handler: name, ItemID: task.ItemID}
		if _, err := retry.Do(ctx, func(actx context.Context) error {
			return h.OnUpdate(actx, update)
		}); err != nil {
			fired.Err = s.fail(ctx, CodeUpdateFailed, name, task.ItemID, err)
			report.Errors = append(report.Errors, fired.Err)
			s.metrics.Updated(name, "error")
		} else {
			s.metrics.Updated(name, "ok")
		}
		report.Fired = append(report.Fired, fired)
	}
}

func (s *Scheduler) processInbox(ctx context.Context, h handler.Handler, report *TickReport) {
	if h.Session() == nil {
		return
	}
	name := h.Name()
	ctx = logger.WithLogFields(ctx, logger.LogFields{Handler: name})

	var stored int
	err := safeCall(ctx, func(ctx context.Context) error {
		ictx, cancel := context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
		var err error
		stored, err = handler.ProcessInbox(ictx, h, s.store, s.markRead)
		return err
	})
	report.Messages += stored
	if err != nil {
		report.Errors = append(report.Errors, s.fail(ctx, CodeInboxFailed, name, "", err))
	}
}
