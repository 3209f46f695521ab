package buffer

import (
	"context"
	"sync/atomic"
)

// Provider hands out working buffers for frame data.
//
// Buffers are described by a Descriptor obtained from the same provider,
// checked out with Lock and returned exactly once through Release.
// A provider never hands the same storage to two live handles.
//
// Implementations are safe for concurrent use.
type Provider interface {
	// DescriptorFor interns the buffer type for plain storage of the given size.
	DescriptorFor(storageSize int) Descriptor

	// DescriptorForType interns a buffer type whose content is managed by h.
	DescriptorForType(storageSize int, h TypeHandler) Descriptor

	// Announce declares the need for count buffers of a type in advance and
	// returns how many can be provided. Zero is reported as exhaustion.
	Announce(count int, d Descriptor) (int, error)

	// Lock checks out one buffer of the given type for exclusive use. Blocking
	// is bounded by ctx and the provider's acquire timeout.
	Lock(ctx context.Context, d Descriptor) (*Handle, error)

	// Emit marks a locked buffer's content as handed on. At most once.
	Emit(h *Handle) error

	// Release returns a buffer. Releasing a handle twice is an error.
	Release(h *Handle) error

	// EmergencyCleanup detaches a buffer from any state without running
	// content hooks. Used on failure paths.
	EmergencyCleanup(h *Handle) error

	// VerifyValidity reports whether d refers to a buffer currently checked
	// out and safe to use.
	VerifyValidity(d Descriptor) bool

	// BufferSize returns the storage size behind a descriptor.
	BufferSize(d Descriptor) (int, error)
}

// Descriptor is an opaque key for a buffer type or a concrete buffer, bound
// to the provider that issued it. Descriptors are comparable; interning the
// same shape twice yields equal descriptors.
type Descriptor struct {
	provider Provider
	key      Key
}

// Provider returns the provider that issued the descriptor.
func (d Descriptor) Provider() Provider {
	return d.provider
}

// Key returns the metadata key of the descriptor.
func (d Descriptor) Key() Key {
	return d.key
}

// IsZero reports whether the descriptor was never issued.
func (d Descriptor) IsZero() bool {
	return d.provider == nil
}

// Valid delegates to the issuing provider's VerifyValidity.
func (d Descriptor) Valid() bool {
	return d.provider != nil && d.provider.VerifyValidity(d)
}

// Lock is shorthand for d.Provider().Lock(ctx, d).
func (d Descriptor) Lock(ctx context.Context) (*Handle, error) {
	if d.provider == nil {
		return nil, newBufferError(ErrCodeForeignDescriptor, "descriptor not issued by any provider", 0)
	}
	return d.provider.Lock(ctx, d)
}

// Handle is one checked-out buffer. It is held by exactly one computation and
// released exactly once. After Release the storage must not be touched.
type Handle struct {
	buffer   Descriptor
	typ      Descriptor
	tag      uint64
	storage  []byte
	released atomic.Bool
}

// Descriptor identifies this concrete buffer. It stays valid for
// VerifyValidity checks until the buffer is released.
func (h *Handle) Descriptor() Descriptor {
	return h.buffer
}

// Type returns the descriptor of the buffer's type.
func (h *Handle) Type() Descriptor {
	return h.typ
}

// Bytes gives access to the storage. Fails once the handle was released.
func (h *Handle) Bytes() ([]byte, error) {
	if h.released.Load() {
		return nil, newBufferError(ErrCodeReleased, "access through a released buffer handle", h.buffer.key)
	}
	return h.storage, nil
}

// Size is the storage size of the buffer.
func (h *Handle) Size() int {
	return len(h.storage)
}

// Released reports whether the handle was given back.
func (h *Handle) Released() bool {
	return h.released.Load()
}

// Valid reports whether the handle still refers to a checked-out buffer.
func (h *Handle) Valid() bool {
	return !h.released.Load() && h.buffer.Valid()
}

// Emit marks the buffer content as handed on.
func (h *Handle) Emit() error {
	if h.released.Load() {
		return newBufferError(ErrCodeReleased, "emit of a released buffer", h.buffer.key)
	}
	return h.buffer.provider.Emit(h)
}

// Release gives the buffer back to its provider.
func (h *Handle) Release() error {
	if h.buffer.provider == nil {
		return newBufferError(ErrCodeForeignDescriptor, "release of a handle never acquired", 0)
	}
	return h.buffer.provider.Release(h)
}
