package buffer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// providers returns both implementations so every contract test runs twice.
func providers() map[string]func() Provider {
	return map[string]func() Provider{
		"pool":     func() Provider { return NewPoolProvider("test") },
		"tracking": func() Provider { return NewTrackingProvider() },
	}
}

func storageAddr(t *testing.T, h *Handle) uintptr {
	t.Helper()
	b, err := h.Bytes()
	require.NoError(t, err)
	require.NotEmpty(t, b)
	return uintptr(unsafe.Pointer(&b[0]))
}

func TestProvider_DescriptorInterning(t *testing.T) {
	for name, mk := range providers() {
		t.Run(name, func(t *testing.T) {
			p := mk()
			d1 := p.DescriptorFor(1024)
			d2 := p.DescriptorFor(1024)
			d3 := p.DescriptorFor(2048)

			assert.Equal(t, d1, d2)
			assert.NotEqual(t, d1, d3)
			assert.Same(t, p, d1.Provider())

			size, err := p.BufferSize(d1)
			require.NoError(t, err)
			assert.Equal(t, 1024, size)
		})
	}
}

func TestProvider_LockYieldsDistinctBuffers(t *testing.T) {
	for name, mk := range providers() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p := mk()
			d1, d2 := p.DescriptorFor(1024), p.DescriptorFor(1024)

			h1, err := p.Lock(ctx, d1)
			require.NoError(t, err)
			h2, err := p.Lock(ctx, d2)
			require.NoError(t, err)

			assert.NotEqual(t, h1.Descriptor(), h2.Descriptor())
			assert.NotEqual(t, storageAddr(t, h1), storageAddr(t, h2))
			assert.Equal(t, 1024, h1.Size())
			assert.True(t, h1.Valid())
			assert.True(t, p.VerifyValidity(h1.Descriptor()))
			assert.False(t, p.VerifyValidity(d1), "type descriptors are not checked-out buffers")

			require.NoError(t, h1.Release())
			require.NoError(t, h2.Release())
			assert.False(t, p.VerifyValidity(h1.Descriptor()))
		})
	}
}

func TestProvider_DoubleReleaseDetected(t *testing.T) {
	for name, mk := range providers() {
		t.Run(name, func(t *testing.T) {
			p := mk()
			h, err := p.Lock(context.Background(), p.DescriptorFor(64))
			require.NoError(t, err)

			require.NoError(t, h.Release())
			err = h.Release()
			require.Error(t, err)
			assert.True(t, HasCode(err, ErrCodeDoubleRelease))
			assert.True(t, IsContractViolation(err))
		})
	}
}

func TestProvider_UseAfterRelease(t *testing.T) {
	for name, mk := range providers() {
		t.Run(name, func(t *testing.T) {
			p := mk()
			h, err := p.Lock(context.Background(), p.DescriptorFor(64))
			require.NoError(t, err)
			require.NoError(t, h.Release())

			_, err = h.Bytes()
			assert.True(t, HasCode(err, ErrCodeReleased))
			assert.True(t, HasCode(h.Emit(), ErrCodeReleased))
			assert.False(t, h.Valid())
		})
	}
}

func TestProvider_ReleaseWithoutAcquire(t *testing.T) {
	p := NewPoolProvider("test")
	var h Handle
	assert.True(t, HasCode(h.Release(), ErrCodeForeignDescriptor))
	assert.True(t, HasCode(p.Release(&h), ErrCodeForeignDescriptor))
}

func TestProvider_ForeignDescriptor(t *testing.T) {
	a := NewPoolProvider("a")
	b := NewTrackingProvider()

	_, err := a.Lock(context.Background(), b.DescriptorFor(16))
	assert.True(t, HasCode(err, ErrCodeForeignDescriptor))

	h, err := b.Lock(context.Background(), b.DescriptorFor(16))
	require.NoError(t, err)
	assert.True(t, HasCode(a.Release(h), ErrCodeForeignDescriptor))
	require.NoError(t, h.Release())
}

func TestProvider_EmitTransitions(t *testing.T) {
	p := NewTrackingProvider()
	h, err := p.Lock(context.Background(), p.DescriptorFor(8))
	require.NoError(t, err)

	require.NoError(t, h.Emit())
	assert.True(t, HasCode(h.Emit(), ErrCodeInvalidTransition), "emit at most once")
	assert.True(t, h.Valid(), "emitted buffers stay accessible")

	require.NoError(t, h.Release())
	assert.Equal(t, 1, p.EmittedCount())
	blk, ok := p.AccessEmitted(0)
	require.True(t, ok)
	assert.True(t, blk.WasReleased())
}

func TestProvider_TypeHandlerHooks(t *testing.T) {
	var inits, destroys int
	h := TypeHandler{
		ID:      "counter",
		Init:    func(b []byte) { inits++; b[0] = 0xAB },
		Destroy: func([]byte) { destroys++ },
	}
	p := NewPoolProvider("test")
	d := p.DescriptorForType(4, h)
	assert.NotEqual(t, p.DescriptorFor(4), d)

	buf, err := p.Lock(context.Background(), d)
	require.NoError(t, err)
	b, _ := buf.Bytes()
	assert.Equal(t, byte(0xAB), b[0])
	require.NoError(t, buf.Release())
	assert.Equal(t, 1, inits)
	assert.Equal(t, 1, destroys)

	buf, err = p.Lock(context.Background(), d)
	require.NoError(t, err)
	require.NoError(t, p.EmergencyCleanup(buf))
	assert.Equal(t, 1, destroys, "emergency cleanup skips destroy hooks")
}

func TestPoolProvider_RecyclesOnlyReleasedStorage(t *testing.T) {
	ctx := context.Background()
	p := NewPoolProvider("test")
	d := p.DescriptorFor(32)

	h1, err := p.Lock(ctx, d)
	require.NoError(t, err)
	addr1 := storageAddr(t, h1)
	require.NoError(t, h1.Release())

	h2, err := p.Lock(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, addr1, storageAddr(t, h2), "freed storage is reused")

	h3, err := p.Lock(ctx, d)
	require.NoError(t, err)
	assert.NotEqual(t, storageAddr(t, h2), storageAddr(t, h3))
	assert.Equal(t, 2, p.InUse())
}

func TestPoolProvider_Exhaustion(t *testing.T) {
	ctx := context.Background()
	p := NewPoolProvider("test", WithMaxBuffers(2), WithAcquireTimeout(10*time.Millisecond))
	d := p.DescriptorFor(16)

	n, err := p.Announce(5, d)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	h1, err := p.Lock(ctx, d)
	require.NoError(t, err)
	_, err = p.Lock(ctx, d)
	require.NoError(t, err)

	_, err = p.Announce(1, d)
	assert.True(t, IsExhausted(err))

	_, err = p.Lock(ctx, d)
	require.Error(t, err)
	assert.True(t, IsExhausted(err))
	assert.False(t, IsContractViolation(err))

	require.NoError(t, h1.Release())
	h3, err := p.Lock(ctx, d)
	require.NoError(t, err)
	require.NoError(t, h3.Release())
}

func TestPoolProvider_WaitsForRelease(t *testing.T) {
	ctx := context.Background()
	p := NewPoolProvider("test", WithMaxBuffers(1), WithAcquireTimeout(time.Second))
	d := p.DescriptorFor(16)

	h, err := p.Lock(ctx, d)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = h.Release()
	}()

	h2, err := p.Lock(ctx, d)
	require.NoError(t, err)
	require.NoError(t, h2.Release())
}

func TestProvider_ConcurrentExclusivity(t *testing.T) {
	for name, mk := range providers() {
		t.Run(name, func(t *testing.T) {
			p := mk()
			d := p.DescriptorFor(8)

			var mu sync.Mutex
			live := make(map[uintptr]bool)
			var violations int

			var wg sync.WaitGroup
			for w := 0; w < 8; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 25000; i++ {
						h, err := p.Lock(context.Background(), d)
						if err != nil {
							t.Error(err)
							return
						}
						b, _ := h.Bytes()
						addr := uintptr(unsafe.Pointer(&b[0]))

						mu.Lock()
						if live[addr] {
							violations++
						}
						live[addr] = true
						mu.Unlock()

						mu.Lock()
						delete(live, addr)
						mu.Unlock()
						if err := h.Release(); err != nil {
							t.Error(err)
						}
					}
				}()
			}
			wg.Wait()
			assert.Zero(t, violations)
		})
	}
}

func TestScope_ConcurrentLockClose(t *testing.T) {
	p := NewPoolProvider("test")
	d := p.DescriptorFor(64)

	var failures atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25000; i++ {
				s := NewScope()
				if _, err := s.Lock(context.Background(), d); err != nil {
					failures.Add(1)
					continue
				}
				if _, err := s.Close(); err != nil {
					failures.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, failures.Load())
	assert.Zero(t, p.Metadata().LockedCount())
}

func TestProvider_StaleDescriptorAfterSlotReuse(t *testing.T) {
	for name, mk := range providers() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p := mk()
			d := p.DescriptorFor(64)

			h1, err := p.Lock(ctx, d)
			require.NoError(t, err)
			stale := h1.Descriptor()
			require.True(t, p.VerifyValidity(stale))
			require.NoError(t, h1.Release())
			assert.False(t, p.VerifyValidity(stale))

			h2, err := p.Lock(ctx, d)
			require.NoError(t, err)
			assert.NotEqual(t, stale.Key(), h2.Descriptor().Key())
			assert.True(t, p.VerifyValidity(h2.Descriptor()))
			assert.False(t, p.VerifyValidity(stale))
			assert.False(t, stale.Valid())
			require.NoError(t, h2.Release())
		})
	}
}

func TestTrackingProvider_RecordsEvents(t *testing.T) {
	rec := &eventSink{}
	p := NewTrackingProvider(WithRecorder(rec))
	ctx := context.Background()

	h1, err := p.Lock(ctx, p.DescriptorFor(10))
	require.NoError(t, err)
	h2, err := p.Lock(ctx, p.DescriptorFor(10))
	require.NoError(t, err)
	assert.Equal(t, 2, p.LiveCount())
	assert.False(t, p.AllReleased())

	require.NoError(t, h1.Emit())
	require.NoError(t, h1.Release())
	require.NoError(t, p.EmergencyCleanup(h2))

	assert.True(t, p.AllReleased())
	kinds := []EventKind{}
	for _, ev := range p.Events() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []EventKind{EventLock, EventLock, EventEmit, EventRelease, EventCleanup}, kinds)
	assert.Equal(t, p.Events(), rec.events)
}

func TestTrackingProvider_Limit(t *testing.T) {
	p := NewTrackingProvider(WithTrackingLimit(1))
	d := p.DescriptorFor(4)
	h, err := p.Lock(context.Background(), d)
	require.NoError(t, err)

	_, err = p.Lock(context.Background(), d)
	assert.True(t, IsExhausted(err))
	require.NoError(t, h.Release())
}

func TestScope_CloseReleasesRemaining(t *testing.T) {
	p := NewTrackingProvider()
	ctx := context.Background()
	s := NewScope()

	a, err := s.Lock(ctx, p.DescriptorFor(4))
	require.NoError(t, err)
	_, err = s.Lock(ctx, p.DescriptorFor(4))
	require.NoError(t, err)
	require.NoError(t, a.Release())
	assert.Equal(t, 1, s.Held())

	cleaned, err := s.Close()
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)
	assert.True(t, p.AllReleased())

	_, err = s.Lock(ctx, p.DescriptorFor(4))
	assert.True(t, HasCode(err, ErrCodeReleased))

	cleaned, err = s.Close()
	require.NoError(t, err)
	assert.Zero(t, cleaned)
}

func TestMetadata_IllegalTransitions(t *testing.T) {
	m := NewMetadata("test")
	tk := m.TypeKey(4, RawBuffer)
	k, err := m.markLocked(tk, 1, make([]byte, 4))
	require.NoError(t, err)

	assert.True(t, m.IsLocked(k))
	_, err = m.mark(k, StateLocked)
	assert.True(t, HasCode(err, ErrCodeInvalidTransition))

	assert.Panics(t, func() { _, _ = m.markLocked(tk, 1, make([]byte, 4)) },
		"re-locking storage still in use is corrupted bookkeeping")

	_, err = m.mark(k, StateFree)
	require.NoError(t, err)
	require.NoError(t, m.release(k))
	assert.True(t, HasCode(m.release(k), ErrCodeUnknownEntry))

	again, err := m.markLocked(tk, 1, make([]byte, 4))
	require.NoError(t, err)
	assert.NotEqual(t, k, again, "a reused slot gets a fresh key")
	assert.False(t, m.IsLocked(k))
	assert.True(t, m.IsLocked(again))
}

type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) RecordBufferEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}
