package buffer

import (
	"context"
	"errors"
	"sync"
	"time"
)

// PoolOption configures a PoolProvider.
type PoolOption func(*PoolProvider)

// WithMaxBuffers caps the number of buffers checked out per buffer type.
// Zero means unlimited.
func WithMaxBuffers(n int) PoolOption {
	return func(p *PoolProvider) {
		if n > 0 {
			p.maxBuffers = n
		}
	}
}

// WithAcquireTimeout bounds how long Lock waits for a buffer to come free
// once the cap is reached.
func WithAcquireTimeout(d time.Duration) PoolOption {
	return func(p *PoolProvider) {
		p.acquireTimeout = d
	}
}

// DefaultAcquireTimeout is how long Lock waits under memory pressure.
const DefaultAcquireTimeout = 50 * time.Millisecond

// PoolProvider is the production provider: it recycles storage through
// per-type free lists. Storage goes back to a free list only when its buffer
// was released, so live handles never alias.
type PoolProvider struct {
	core

	maxBuffers     int
	acquireTimeout time.Duration

	mu    sync.Mutex
	pools map[Key]*blockPool
}

type pooledBlock struct {
	tag     uint64
	storage []byte
}

type blockPool struct {
	mu      sync.Mutex
	size    int
	free    []pooledBlock
	inUse   map[uint64][]byte
	nextTag uint64
	slots   chan struct{} // nil when unlimited
}

// NewPoolProvider creates a pooling provider for the named buffer family.
func NewPoolProvider(implementationID string, opts ...PoolOption) *PoolProvider {
	p := &PoolProvider{
		acquireTimeout: DefaultAcquireTimeout,
		pools:          make(map[Key]*blockPool),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.core.init(p, implementationID, p)
	return p
}

func (p *PoolProvider) poolFor(t *typeEntry) *blockPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	bp, ok := p.pools[t.key]
	if !ok {
		bp = &blockPool{size: t.size, inUse: make(map[uint64][]byte)}
		if p.maxBuffers > 0 {
			bp.slots = make(chan struct{}, p.maxBuffers)
		}
		p.pools[t.key] = bp
	}
	return bp
}

func (p *PoolProvider) prepare(count int, t *typeEntry) int {
	bp := p.poolFor(t)
	if bp.slots == nil {
		return count
	}
	available := cap(bp.slots) - len(bp.slots)
	if available < count {
		return available
	}
	return count
}

func (p *PoolProvider) provide(ctx context.Context, t *typeEntry) (uint64, []byte, error) {
	bp := p.poolFor(t)

	if bp.slots != nil {
		select {
		case bp.slots <- struct{}{}:
		default:
			waitCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
			defer cancel()
			select {
			case bp.slots <- struct{}{}:
			case <-waitCtx.Done():
				err := newBufferError(ErrCodeExhausted, "no buffer became available", t.key)
				err.Err = waitCtx.Err()
				if errors.Is(ctx.Err(), context.Canceled) {
					err.Err = ctx.Err()
				}
				return 0, nil, err
			}
		}
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()
	var blk pooledBlock
	if n := len(bp.free); n > 0 {
		blk = bp.free[n-1]
		bp.free = bp.free[:n-1]
	} else {
		bp.nextTag++
		blk = pooledBlock{tag: bp.nextTag, storage: make([]byte, bp.size)}
	}
	bp.inUse[blk.tag] = blk.storage
	return blk.tag, blk.storage, nil
}

func (p *PoolProvider) emitted(*typeEntry, uint64) {}

func (p *PoolProvider) detach(t *typeEntry, tag uint64, storage []byte, _ bool) {
	bp := p.poolFor(t)
	bp.mu.Lock()
	if _, ok := bp.inUse[tag]; !ok {
		bp.mu.Unlock()
		panic("buffer pool corrupted: detaching a block not in use")
	}
	delete(bp.inUse, tag)
	bp.free = append(bp.free, pooledBlock{tag: tag, storage: storage})
	bp.mu.Unlock()

	if bp.slots != nil {
		<-bp.slots
	}
}

// PoolStats summarises one buffer type of the pool.
type PoolStats struct {
	Type  Key
	Size  int
	InUse int
	Free  int
	Max   int
}

// Stats returns a snapshot per buffer type.
func (p *PoolProvider) Stats() []PoolStats {
	p.mu.Lock()
	pools := make(map[Key]*blockPool, len(p.pools))
	for k, bp := range p.pools {
		pools[k] = bp
	}
	p.mu.Unlock()

	out := make([]PoolStats, 0, len(pools))
	for k, bp := range pools {
		bp.mu.Lock()
		out = append(out, PoolStats{
			Type:  k,
			Size:  bp.size,
			InUse: len(bp.inUse),
			Free:  len(bp.free),
			Max:   p.maxBuffers,
		})
		bp.mu.Unlock()
	}
	return out
}

// InUse returns the total number of checked-out buffers.
func (p *PoolProvider) InUse() int {
	return p.meta.LockedCount()
}
