// Package buffer provides working memory for frame computations.
//
// A Provider interns buffer types (Descriptor), checks out buffers for
// exclusive use (Handle) and takes them back exactly once. Each provider keeps
// a Metadata registry: type keys are chained xxhash values seeded with the
// provider's implementation ID, and every checked-out buffer has an entry
// following the state machine
//
//	FREE -> LOCKED -> (EMITTED ->) FREE
//	LOCKED|EMITTED -> BLOCKED -> FREE
//
// Two implementations exist. PoolProvider recycles storage per type with an
// optional cap and a bounded wait, reporting exhaustion as ErrCodeExhausted.
// TrackingProvider is the diagnostic variant for tests: it never reuses
// storage and records every event for later verification.
//
// Buffer lifetime is independent of whatever planned the computation: a
// handle stays valid until released, even after its calculation stream ended.
package buffer
