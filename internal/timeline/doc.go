// Package timeline loads timeline definitions written in CUE and builds the
// model port registry and segmentation the dispatcher plans against.
//
// A definition lists the model ports and, per segment, the ticket wired to
// each port. Every file is unified with an embedded schema before decoding,
// so defaults and constraints live in one place:
//
//	timeline: {
//		name:       "demo"
//		frame_rate: "25"
//		ports: [{pipe: "video"}]
//		segments: [{
//			start: "0s"
//			end:   "4s"
//			tickets: video: {kind: "CALC", buffers: [4096]}
//		}]
//	}
//
// Tickets are backed by Synthetic functors: they lock the declared buffers
// and spend the declared cost, which is enough to drive the engine end to end
// without real media processing.
package timeline
