package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rover/internal/model"
)

func TestItemQueue_FIFO(t *testing.T) {
	q := newItemQueue()

	for _, id := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(&model.Item{ID: id}))
	}

	for _, want := range []string{"A", "B", "C"} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got.ID)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestItemQueue_WaitSignalsEnqueue(t *testing.T) {
	q := newItemQueue()

	done := make(chan string)
	go func() {
		for {
			if item, ok := q.TryDequeue(); ok {
				done <- item.ID
				return
			}
			<-q.Wait()
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue(&model.Item{ID: "late"})

	select {
	case id := <-done:
		assert.Equal(t, "late", id)
	case <-time.After(time.Second):
		t.Fatal("waiter did not wake up")
	}
}

func TestItemQueue_Close(t *testing.T) {
	q := newItemQueue()

	woke := make(chan struct{})
	go func() {
		<-q.Wait()
		close(woke)
	}()

	q.Close()
	q.Close() // idempotent

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("close did not wake waiter")
	}
	assert.False(t, q.Enqueue(&model.Item{ID: "after-close"}))
}

func TestItemQueue_Len(t *testing.T) {
	q := newItemQueue()
	assert.Equal(t, 0, q.Len())

	q.Enqueue(&model.Item{ID: "1"})
	q.Enqueue(&model.Item{ID: "2"})
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())
}

func TestItemQueue_ConcurrentProducers(t *testing.T) {
	q := newItemQueue()

	const producers = 10
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(&model.Item{ID: fmt.Sprintf("%d-%d", p, i)})
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for {
		item, ok := q.TryDequeue()
		if !ok {
			break
		}
		seen[item.ID] = true
	}
	assert.Len(t, seen, producers*perProducer)
}
