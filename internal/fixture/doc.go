// Package fixture holds the segmentation of the timeline: strictly ordered,
// non-overlapping segments that together cover all of time. Within a segment
// the processing graph wiring is constant, so each segment carries one job
// ticket per model port it feeds.
//
// The segmentation starts out as a single NOP segment. The builder splices
// in segments with SplitSplice; segments that get cut or covered are replaced
// by fresh ones and marked obsolete, which invalidates jobs planned against
// them. Readers always see an immutable snapshot and never block.
package fixture
