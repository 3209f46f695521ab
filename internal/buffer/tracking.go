package buffer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// EventKind names a step in a buffer's lifecycle.
type EventKind string

const (
	EventLock    EventKind = "lock"
	EventEmit    EventKind = "emit"
	EventRelease EventKind = "release"
	EventCleanup EventKind = "cleanup"
)

// Event records one lifecycle step seen by the TrackingProvider.
type Event struct {
	Seq   int64
	Kind  EventKind
	Type  Key
	Block uint64
	Size  int
}

// Recorder receives buffer events, e.g. to persist them in a journal.
type Recorder interface {
	RecordBufferEvent(Event)
}

// Block is one heap allocation made by the TrackingProvider. Blocks are never
// reused, so every lock gets fresh storage.
type Block struct {
	ID      uint64
	Type    Key
	storage []byte

	locked   bool
	emitted  bool
	released bool
}

// Storage returns the block memory, kept for inspection after release.
func (b *Block) Storage() []byte { return b.storage }

// WasUsed reports whether the block was ever locked.
func (b *Block) WasUsed() bool { return b.locked }

// WasReleased reports whether the block was given back.
func (b *Block) WasReleased() bool { return b.released }

// WasEmitted reports whether the block content was handed on.
func (b *Block) WasEmitted() bool { return b.emitted }

// TrackingOption configures a TrackingProvider.
type TrackingOption func(*TrackingProvider)

// WithRecorder forwards every buffer event to r.
func WithRecorder(r Recorder) TrackingOption {
	return func(p *TrackingProvider) { p.recorder = r }
}

// WithTrackingLimit caps the number of live blocks per type. Zero is unlimited.
func WithTrackingLimit(n int) TrackingOption {
	return func(p *TrackingProvider) { p.limit = n }
}

// TrackingProvider is the diagnostic provider. It honours the Provider
// contract exactly, but allocates every buffer on the heap and keeps a record
// of all lock, emit and release events for verification in tests.
type TrackingProvider struct {
	core

	recorder Recorder
	limit    int
	seq      atomic.Int64

	mu      sync.Mutex
	blocks  map[uint64]*Block
	order   []*Block
	emitSeq []*Block
	events  []Event
	nextID  uint64
}

// NewTrackingProvider creates a diagnostic provider.
func NewTrackingProvider(opts ...TrackingOption) *TrackingProvider {
	p := &TrackingProvider{blocks: make(map[uint64]*Block)}
	for _, opt := range opts {
		opt(p)
	}
	p.core.init(p, "Diagnostic_HeapAllocated", p)
	return p
}

func (p *TrackingProvider) record(kind EventKind, t *typeEntry, tag uint64) {
	ev := Event{Seq: p.seq.Add(1), Kind: kind, Type: t.key, Block: tag, Size: t.size}
	p.events = append(p.events, ev)
	if p.recorder != nil {
		p.recorder.RecordBufferEvent(ev)
	}
}

func (p *TrackingProvider) liveOf(k Key) int {
	n := 0
	for _, b := range p.blocks {
		if b.Type == k && b.locked && !b.released {
			n++
		}
	}
	return n
}

func (p *TrackingProvider) prepare(count int, t *typeEntry) int {
	if p.limit == 0 {
		return count
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	available := p.limit - p.liveOf(t.key)
	if available < count {
		return available
	}
	return count
}

func (p *TrackingProvider) provide(_ context.Context, t *typeEntry) (uint64, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.limit > 0 && p.liveOf(t.key) >= p.limit {
		return 0, nil, newBufferError(ErrCodeExhausted, "diagnostic allocation limit reached", t.key)
	}
	p.nextID++
	b := &Block{ID: p.nextID, Type: t.key, storage: make([]byte, t.size), locked: true}
	p.blocks[b.ID] = b
	p.order = append(p.order, b)
	p.record(EventLock, t, b.ID)
	return b.ID, b.storage, nil
}

func (p *TrackingProvider) emitted(t *typeEntry, tag uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.blocks[tag]
	if !ok || b.emitted {
		slog.Warn("emit of a buffer not found in the active pool", "block", tag)
		return
	}
	b.emitted = true
	p.emitSeq = append(p.emitSeq, b)
	p.record(EventEmit, t, tag)
}

func (p *TrackingProvider) detach(t *typeEntry, tag uint64, _ []byte, cleanup bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.blocks[tag]
	if !ok || b.released {
		panic("diagnostic buffer provider: releasing a block not allocated through this provider")
	}
	b.released = true
	if cleanup {
		p.record(EventCleanup, t, tag)
	} else {
		p.record(EventRelease, t, tag)
	}
}

// Events returns a copy of all recorded events in order.
func (p *TrackingProvider) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// LiveCount returns the number of blocks locked and not yet released.
func (p *TrackingProvider) LiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.blocks {
		if b.locked && !b.released {
			n++
		}
	}
	return n
}

// AllocatedCount returns how many blocks were handed out in total.
func (p *TrackingProvider) AllocatedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// AllReleased reports whether every block ever locked was released.
func (p *TrackingProvider) AllReleased() bool {
	return p.LiveCount() == 0
}

// EmittedCount returns the number of emitted buffers.
func (p *TrackingProvider) EmittedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.emitSeq)
}

// AccessEmitted returns the i-th emitted block, in emit order.
func (p *TrackingProvider) AccessEmitted(i int) (*Block, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.emitSeq) {
		return nil, false
	}
	return p.emitSeq[i], true
}

// Blocks returns all blocks in allocation order.
func (p *TrackingProvider) Blocks() []*Block {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Block, len(p.order))
	copy(out, p.order)
	return out
}
