package engine

import "sync"

// EventType distinguishes journal events.
type EventType int

const (
	// EventTypeStreamOpened records a new calculation stream.
	EventTypeStreamOpened EventType = iota + 1
	// EventTypeJobPlanned records a job handed to the scheduler.
	EventTypeJobPlanned
	// EventTypeJobFinished records the outcome of a job.
	EventTypeJobFinished
	// EventTypeStreamClosed records the end of a stream.
	EventTypeStreamClosed
)

func (t EventType) String() string {
	switch t {
	case EventTypeStreamOpened:
		return "stream_opened"
	case EventTypeJobPlanned:
		return "job_planned"
	case EventTypeJobFinished:
		return "job_finished"
	case EventTypeStreamClosed:
		return "stream_closed"
	default:
		return "unknown"
	}
}

// Event wraps one journal record for the event queue. Exactly one of the
// record pointers is set, matching Type.
type Event struct {
	Type    EventType
	Stream  *StreamRecord
	Job     *JobRecord
	Outcome *OutcomeRecord
	End     *StreamEnd
}

// eventQueue is a thread-safe FIFO of journal events.
//
// Planning goroutines and scheduler workers enqueue; the service's Run loop
// is the single writer draining it into the journal. The queue is unbounded
// so workers never block on journal I/O.
//
// A 1-slot signal channel lets the Run loop wait with a context; Close
// closes the channel to wake the loop.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends an event. Returns false once the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	// Non-blocking: the 1-slot buffer coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]

	// Clear the slot so the backing array drops the record pointers.
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel signalling that events may be available. It is
// closed together with the queue.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close was called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting events and wakes waiters. Queued events can still be
// dequeued.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
