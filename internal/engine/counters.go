package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/rover/internal/model"
)

// DefaultFlushThreshold is the number of buffered increments that forces a
// flush of the day counters.
const DefaultFlushThreshold = 500

// DayCountsWriter persists day counters. Implemented by *store.Store.
type DayCountsWriter interface {
	AddDayCounts(ctx context.Context, day string, counts model.DayCounts) error
}

// Counters buffers the daily meta counters (seen submissions, seen comments,
// update cycles) in memory.
//
// The buffer is flushed when DefaultFlushThreshold increments accumulate,
// when the wall-clock hour changes, and on explicit Flush calls (each
// scheduler tick and shutdown). A failed flush keeps the pending counts.
//
// Thread-safety: all methods are safe for concurrent use.
type Counters struct {
	mu        sync.Mutex
	store     DayCountsWriter
	clock     Clock
	logger    *slog.Logger
	threshold int

	pending model.DayCounts
	day     string
	hour    time.Time
	n       int
}

// NewCounters creates an empty buffer writing to store.
func NewCounters(store DayCountsWriter, clock Clock, logger *slog.Logger) *Counters {
	if clock == nil {
		clock = SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Counters{
		store:     store,
		clock:     clock,
		logger:    logger,
		threshold: DefaultFlushThreshold,
	}
}

// SeenItem counts one item read from the stream of the given kind.
func (c *Counters) SeenItem(ctx context.Context, kind model.Kind) {
	switch kind {
	case model.KindSubmission:
		c.add(ctx, model.DayCounts{Submissions: 1})
	case model.KindComment:
		c.add(ctx, model.DayCounts{Comments: 1})
	}
}

// Cycle counts one completed update cycle.
func (c *Counters) Cycle(ctx context.Context) {
	c.add(ctx, model.DayCounts{Cycles: 1})
}

// Pending returns the buffered counts not yet written.
func (c *Counters) Pending() model.DayCounts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Flush writes the buffered counts to the day they were collected on.
func (c *Counters) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked(ctx)
}

func (c *Counters) add(ctx context.Context, delta model.DayCounts) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now().UTC()
	hour := now.Truncate(time.Hour)
	if c.n > 0 && !hour.Equal(c.hour) {
		c.flushLogged(ctx)
	}
	if c.n == 0 {
		c.day = model.DayKey(now)
		c.hour = hour
	}

	c.pending = c.pending.Add(delta)
	c.n++
	if c.n >= c.threshold {
		c.flushLogged(ctx)
	}
}

func (c *Counters) flushLogged(ctx context.Context) {
	if err := c.flushLocked(ctx); err != nil {
		c.logger.ErrorContext(ctx, "flush day counters", "day", c.day, "error", err)
	}
}

func (c *Counters) flushLocked(ctx context.Context) error {
	if c.pending.IsZero() {
		c.n = 0
		return nil
	}
	if err := c.store.AddDayCounts(ctx, c.day, c.pending); err != nil {
		return err
	}
	c.pending = model.DayCounts{}
	c.n = 0
	return nil
}
