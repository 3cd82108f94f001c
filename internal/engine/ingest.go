package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/roach88/rover/internal/logger"
	"github.com/roach88/rover/internal/model"
	"github.com/roach88/rover/internal/source"
)

// Ingestor moves items of one kind from a stream to the dispatcher.
//
// A puller goroutine reads the stream into an unbounded itemQueue and a
// dispatcher goroutine drains it: Dispatch, then Ack, then one day counter
// increment. Items are never dropped; an item left in the queue at shutdown
// is not acked and is delivered again by the source.
type Ingestor struct {
	kind       model.Kind
	stream     source.Stream
	dispatcher *Dispatcher
	counters   *Counters
	queue      *itemQueue
	settings
}

// NewIngestor creates an ingestor for an opened stream.
func NewIngestor(kind model.Kind, stream source.Stream, d *Dispatcher, counters *Counters, opts ...Option) *Ingestor {
	return &Ingestor{
		kind:       kind,
		stream:     stream,
		dispatcher: d,
		counters:   counters,
		queue:      newItemQueue(),
		settings:   newSettings(opts),
	}
}

// Run blocks until ctx is cancelled. The item being dispatched when ctx is
// cancelled is finished and acked before Run returns.
func (in *Ingestor) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "rover.engine.ingest", Stream: string(in.kind)})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		in.pull(ctx)
	}()

	in.drain(ctx)
	in.queue.Close()
	wg.Wait()

	if n := in.queue.Len(); n > 0 {
		in.logger.InfoContext(ctx, "ingestor stopped with queued items", "stream", in.kind, "queued", n)
	}
	return nil
}

func (in *Ingestor) pull(ctx context.Context) {
	stream := string(in.kind)
	for ctx.Err() == nil {
		item, err := in.stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, source.ErrMalformed) {
				in.logger.WarnContext(ctx, "skipping malformed entry", "stream", stream, "error", err)
				continue
			}
			in.logger.ErrorContext(ctx, "read stream", "stream", stream, "error", err, "pause", in.errorPause)
			if !pause(ctx, in.errorPause) {
				return
			}
			continue
		}
		if item == nil {
			continue
		}

		in.metrics.ItemRead(stream)
		if !in.queue.Enqueue(item) {
			return
		}
		in.metrics.QueueDepth(stream, in.queue.Len())
	}
}

func (in *Ingestor) drain(ctx context.Context) {
	for ctx.Err() == nil {
		if item, ok := in.queue.TryDequeue(); ok {
			in.process(ctx, item)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-in.queue.Wait():
		}
	}
}

// process dispatches one item on a context that outlives cancellation of ctx,
// so a shutdown never interrupts an item halfway through its handlers.
func (in *Ingestor) process(ctx context.Context, item *model.Item) {
	work := context.WithoutCancel(ctx)

	in.dispatcher.Dispatch(work, item)
	if err := in.stream.Ack(work, item); err != nil {
		in.logger.ErrorContext(ctx, "ack item", "stream", in.kind, "item_id", item.ID, "error", err)
	}
	in.counters.SeenItem(work, in.kind)
	in.metrics.QueueDepth(string(in.kind), in.queue.Len())
}

func pause(ctx context.Context, d time.Duration) bool {
	return sleepContext(ctx, d) == nil
}
