package buffer

import (
	"context"
	"fmt"
)

// backend is the storage strategy plugged into the shared provider logic.
type backend interface {
	// prepare returns how many of count buffers of the type can be provided.
	prepare(count int, t *typeEntry) int
	// provide reserves storage for one buffer and returns its slot tag.
	provide(ctx context.Context, t *typeEntry) (tag uint64, storage []byte, err error)
	// emitted is notified when a buffer's content was handed on.
	emitted(t *typeEntry, tag uint64)
	// detach takes back the storage of a freed buffer.
	detach(t *typeEntry, tag uint64, storage []byte, cleanup bool)
}

// core implements the Provider protocol on top of Metadata and a backend.
// Concrete providers embed it and set self to themselves, so descriptors
// carry the public provider as their back-reference.
type core struct {
	self    Provider
	meta    *Metadata
	backend backend
}

func (c *core) init(self Provider, implementationID string, b backend) {
	c.self = self
	c.meta = NewMetadata(implementationID)
	c.backend = b
}

// Metadata exposes the provider's registry for diagnostics.
func (c *core) Metadata() *Metadata {
	return c.meta
}

func (c *core) DescriptorFor(storageSize int) Descriptor {
	return c.DescriptorForType(storageSize, RawBuffer)
}

func (c *core) DescriptorForType(storageSize int, h TypeHandler) Descriptor {
	return Descriptor{provider: c.self, key: c.meta.TypeKey(storageSize, h)}
}

func (c *core) ownType(d Descriptor) (*typeEntry, error) {
	if d.provider != c.self {
		return nil, newBufferError(ErrCodeForeignDescriptor, "descriptor was not created by this provider", d.key)
	}
	t, ok := c.meta.typeFor(d.key)
	if !ok {
		return nil, newBufferError(ErrCodeUnknownEntry, "descriptor does not denote a buffer type", d.key)
	}
	return t, nil
}

func (c *core) ownHandle(h *Handle) error {
	if h == nil || h.buffer.provider != c.self {
		return newBufferError(ErrCodeForeignDescriptor, "handle was not issued by this provider", 0)
	}
	return nil
}

func (c *core) Announce(count int, d Descriptor) (int, error) {
	t, err := c.ownType(d)
	if err != nil {
		return 0, err
	}
	possible := c.backend.prepare(count, t)
	if possible <= 0 && count > 0 {
		return 0, newBufferError(ErrCodeExhausted, "unable to fulfil request for buffers", d.key)
	}
	return possible, nil
}

func (c *core) Lock(ctx context.Context, d Descriptor) (*Handle, error) {
	t, err := c.ownType(d)
	if err != nil {
		return nil, err
	}
	tag, storage, err := c.backend.provide(ctx, t)
	if err != nil {
		return nil, err
	}
	k, err := c.meta.markLocked(t.key, tag, storage)
	if err != nil {
		c.backend.detach(t, tag, storage, true)
		return nil, err
	}
	if t.handler.Init != nil {
		t.handler.Init(storage)
	}
	return &Handle{
		buffer:  Descriptor{provider: c.self, key: k},
		typ:     d,
		tag:     tag,
		storage: storage,
	}, nil
}

func (c *core) Emit(h *Handle) error {
	if err := c.ownHandle(h); err != nil {
		return err
	}
	e, err := c.meta.mark(h.buffer.key, StateEmitted)
	if err != nil {
		return err
	}
	c.backend.emitted(e.typ, e.tag)
	return nil
}

func (c *core) Release(h *Handle) error {
	if err := c.ownHandle(h); err != nil {
		return err
	}
	if !h.released.CompareAndSwap(false, true) {
		return newBufferError(ErrCodeDoubleRelease, "buffer handle released twice", h.buffer.key)
	}
	e, err := c.meta.mark(h.buffer.key, StateFree)
	if err != nil {
		return err
	}
	// The entry goes before the storage returns to the backend, so a
	// concurrent Lock of the same slot always finds it gone.
	if err := c.meta.release(h.buffer.key); err != nil {
		panic(fmt.Sprintf("buffer metadata corrupted: %v", err))
	}
	c.backend.detach(e.typ, e.tag, e.storage, false)
	return nil
}

func (c *core) EmergencyCleanup(h *Handle) error {
	if err := c.ownHandle(h); err != nil {
		return err
	}
	if !h.released.CompareAndSwap(false, true) {
		return newBufferError(ErrCodeDoubleRelease, "cleanup of an already released buffer", h.buffer.key)
	}
	e, err := c.meta.invalidate(h.buffer.key)
	if err != nil {
		return err
	}
	if err := c.meta.release(h.buffer.key); err != nil {
		return err
	}
	c.backend.detach(e.typ, e.tag, e.storage, true)
	return nil
}

func (c *core) VerifyValidity(d Descriptor) bool {
	return d.provider == c.self && c.meta.IsLocked(d.key)
}

func (c *core) BufferSize(d Descriptor) (int, error) {
	if d.provider != c.self {
		return 0, newBufferError(ErrCodeForeignDescriptor, "descriptor was not created by this provider", d.key)
	}
	size, ok := c.meta.StorageSize(d.key)
	if !ok {
		return 0, newBufferError(ErrCodeUnknownEntry, "no buffer type or buffer behind descriptor", d.key)
	}
	return size, nil
}
