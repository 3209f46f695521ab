// Package dispatch resolves model ports and nominal times to job tickets and
// plans frames chunk by chunk.
//
// The Dispatcher answers three questions during planning: which frame comes
// n frames after this one (LocateRelative), which ticket computes a frame
// (AccessJobTicket) and when to stop looking ahead (IsEndOfChunk). Table is
// the production implementation over a port registry and a segmentation.
//
// Frame adjacency is computed on the stream's frame grid, independent of
// segment boundaries: segments only decide which ticket serves a frame. A
// coordinate landing outside the timeline is reported as a PlanningError,
// never returned as a dispatchable frame.
//
// Planning is not synchronized per stream: each JobBuilder is meant to be
// driven by a single control path. The Table itself is safe for concurrent
// use by many streams.
package dispatch
