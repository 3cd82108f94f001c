package engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator produces statistics row ids.
// Implemented by UUIDv7Generator (production), SequenceGenerator and
// FixedGenerator (tests and scenarios).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequenceGenerator returns "<prefix>-0001", "<prefix>-0002", ...
// It never runs out, which suits scenarios whose reaction count is not known
// up front.
type SequenceGenerator struct {
	prefix string
	seq    atomic.Int64
}

// NewSequenceGenerator creates a generator starting at 1.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id in the sequence.
func (g *SequenceGenerator) Generate() string {
	return fmt.Sprintf("%s-%04d", g.prefix, g.seq.Add(1))
}

// FixedGenerator returns predetermined ids for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
//
//	gen := NewFixedGenerator("s-1", "s-2")
//	gen.Generate() // "s-1"
//	gen.Generate() // "s-2"
//	gen.Generate() // panic: all ids exhausted
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
//
// Panics if all ids have been consumed, so a test that reacts more often
// than it expected fails loudly.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
