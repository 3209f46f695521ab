package buffer

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Key identifies either a buffer type or one concrete buffer within the
// metadata of a provider. Keys are chained hashes: a buffer's key derives
// from its type key, which derives from the provider family seed.
type Key uint64

// State of a concrete buffer.
type State int

const (
	// StateNil marks an abstract type entry without storage.
	StateNil State = iota
	// StateFree marks an allocated buffer no longer in use.
	StateFree
	// StateLocked marks a buffer checked out for exclusive use.
	StateLocked
	// StateEmitted marks a buffer whose content was handed on.
	StateEmitted
	// StateBlocked marks a buffer withdrawn after a protocol failure.
	StateBlocked
)

func (s State) String() string {
	switch s {
	case StateNil:
		return "NIL"
	case StateFree:
		return "FREE"
	case StateLocked:
		return "LOCKED"
	case StateEmitted:
		return "EMITTED"
	case StateBlocked:
		return "BLOCKED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// TypeHandler attaches lifecycle hooks to the content of a buffer type.
// Init runs after a buffer is locked, Destroy before it is freed.
// The ID takes part in the type key, so distinct handlers yield distinct types.
type TypeHandler struct {
	ID      string
	Init    func([]byte)
	Destroy func([]byte)
}

// RawBuffer is the type handler of plain memory.
var RawBuffer = TypeHandler{}

func (h TypeHandler) isRaw() bool {
	return h.ID == "" && h.Init == nil && h.Destroy == nil
}

type typeEntry struct {
	key     Key
	size    int
	handler TypeHandler
}

type bufferEntry struct {
	key     Key
	typ     *typeEntry
	tag     uint64
	state   State
	storage []byte
}

// slot names one piece of backend storage of a type.
type slot struct {
	typ Key
	tag uint64
}

// Metadata is the registry behind a provider: it interns buffer types and
// tracks the state of every buffer currently checked out.
//
// Thread-safety: all methods are safe for concurrent use.
type Metadata struct {
	mu      sync.Mutex
	family  Key
	serial  uint64
	types   map[Key]*typeEntry
	entries map[Key]*bufferEntry
	slots   map[slot]Key
}

// NewMetadata creates the registry for one family of buffers. The
// implementation ID seeds the key chain and sets the family apart.
func NewMetadata(implementationID string) *Metadata {
	return &Metadata{
		family:  Key(xxhash.Sum64String(implementationID)),
		types:   make(map[Key]*typeEntry),
		entries: make(map[Key]*bufferEntry),
		slots:   make(map[slot]Key),
	}
}

func chainKey(parent Key, parts ...any) Key {
	d := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(parent))
	_, _ = d.Write(buf[:])
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			_, _ = d.WriteString(v)
			_, _ = d.Write([]byte{0})
		case int:
			binary.LittleEndian.PutUint64(buf[:], uint64(v))
			_, _ = d.Write(buf[:])
		case uint64:
			binary.LittleEndian.PutUint64(buf[:], v)
			_, _ = d.Write(buf[:])
		}
	}
	return Key(d.Sum64())
}

// TypeKey interns the buffer type for the given storage size and handler.
// Identical shapes always map to the same key.
func (m *Metadata) TypeKey(size int, h TypeHandler) Key {
	if size < 0 {
		size = 0
	}
	k := chainKey(m.family, "type", size, h.ID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.types[k]; !ok {
		m.types[k] = &typeEntry{key: k, size: size, handler: h}
	}
	return k
}

func (m *Metadata) typeFor(k Key) (*typeEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.types[k]
	return t, ok
}

// IsTypeKey reports whether k denotes an interned buffer type.
func (m *Metadata) IsTypeKey(k Key) bool {
	_, ok := m.typeFor(k)
	return ok
}

// StorageSize returns the storage size of a type or buffer key.
func (m *Metadata) StorageSize(k Key) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.types[k]; ok {
		return t.size, true
	}
	if e, ok := m.entries[k]; ok {
		return e.typ.size, true
	}
	return 0, false
}

// markLocked registers storage identified by tag as checked out under the
// given type and returns the key of the new buffer entry. Every lock draws a
// fresh serial into its key, so a key never outlives the lock it was issued
// for, even when the backend hands out the same slot again.
//
// Locking a slot that is still in use means two live handles would share
// storage. That bookkeeping can not be trusted anymore, so it panics.
func (m *Metadata) markLocked(typeKey Key, tag uint64, storage []byte) (Key, error) {
	if storage == nil {
		return 0, newBufferError(ErrCodeInvalidTransition, "attempt to lock a slot for a NULL buffer", typeKey)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.types[typeKey]
	if !ok {
		return 0, newBufferError(ErrCodeUnknownEntry, "locking a buffer of unknown type", typeKey)
	}
	sl := slot{typ: typeKey, tag: tag}
	if prev, ok := m.slots[sl]; ok {
		if existing := m.entries[prev]; existing != nil && existing.state != StateFree {
			panic(fmt.Sprintf("buffer metadata corrupted: re-lock of slot %d still %s", tag, existing.state))
		}
	}
	m.serial++
	k := chainKey(typeKey, "buffer", tag, m.serial)
	m.entries[k] = &bufferEntry{key: k, typ: t, tag: tag, state: StateLocked, storage: storage}
	m.slots[sl] = k
	return k, nil
}

// transitions lists the legal buffer state changes.
var transitions = map[State][]State{
	StateFree:    {StateLocked},
	StateLocked:  {StateEmitted, StateBlocked, StateFree},
	StateEmitted: {StateBlocked, StateFree},
	StateBlocked: {StateFree},
}

func legal(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// mark moves a buffer entry into a new state. Moving into StateFree runs the
// type's Destroy hook.
func (m *Metadata) mark(k Key, to State) (*bufferEntry, error) {
	m.mu.Lock()
	e, ok := m.entries[k]
	if !ok {
		m.mu.Unlock()
		return nil, newBufferError(ErrCodeUnknownEntry, "attempt to access an unknown buffer metadata entry", k)
	}
	if !legal(e.state, to) {
		from := e.state
		m.mu.Unlock()
		return nil, newBufferError(ErrCodeInvalidTransition,
			fmt.Sprintf("invalid buffer state transition %s -> %s", from, to), k)
	}
	e.state = to
	m.mu.Unlock()

	if to == StateFree && e.typ.handler.Destroy != nil {
		e.typ.handler.Destroy(e.storage)
	}
	return e, nil
}

// invalidate forces a buffer into StateFree regardless of its current state,
// without running the Destroy hook.
func (m *Metadata) invalidate(k Key) (*bufferEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[k]
	if !ok {
		return nil, newBufferError(ErrCodeUnknownEntry, "cleanup of an unknown buffer metadata entry", k)
	}
	e.state = StateFree
	return e, nil
}

// release drops a freed buffer entry.
func (m *Metadata) release(k Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[k]
	if !ok {
		return newBufferError(ErrCodeUnknownEntry, "release of an unknown buffer metadata entry", k)
	}
	if e.state != StateFree {
		return newBufferError(ErrCodeInvalidTransition, "attempt to release a buffer still in use", k)
	}
	delete(m.entries, k)
	sl := slot{typ: e.typ.key, tag: e.tag}
	if m.slots[sl] == k {
		delete(m.slots, sl)
	}
	return nil
}

// State reports the state of a buffer entry. Type keys report StateNil.
func (m *Metadata) State(k Key) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[k]; ok {
		return e.state, true
	}
	if _, ok := m.types[k]; ok {
		return StateNil, true
	}
	return StateNil, false
}

// IsLocked reports whether k is a buffer currently checked out.
func (m *Metadata) IsLocked(k Key) bool {
	s, _ := m.State(k)
	return s == StateLocked || s == StateEmitted
}

// LockedCount returns the number of buffers not yet released.
func (m *Metadata) LockedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.state != StateFree {
			n++
		}
	}
	return n
}
