// Package frame holds the value types identifying frames in time.
//
// A Grid quantises nominal timeline time into frame numbers for a Rate.
// Timings add the relation to wall-clock time (urgency, latencies, scheduled
// delivery). A TimeAnchor binds one frame of a stream to a real time, and a
// Coord is the fully qualified identity of a single frame: nominal time,
// frame number, real deadline, model port and channel.
//
// All types are immutable values and safe to share between goroutines.
package frame
