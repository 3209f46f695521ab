package harness

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/framejobs/internal/engine"
)

// Assertion types.
const (
	AssertTraceContains   = "trace_contains"
	AssertTraceOrder      = "trace_order"
	AssertTraceCount      = "trace_count"
	AssertFrames          = "frames"
	AssertStreamStats     = "stream_stats"
	AssertStreamEnd       = "stream_end"
	AssertBuffersReleased = "buffers_released"
	AssertPlanningErrors  = "planning_errors"
)

// Match selects trace events. Empty fields match anything.
type Match struct {
	Event    string `yaml:"event,omitempty"`
	Stream   string `yaml:"stream,omitempty"`
	Frame    *int64 `yaml:"frame,omitempty"`
	Kind     string `yaml:"kind,omitempty"`
	Pipeline string `yaml:"pipeline,omitempty"`
	Outcome  string `yaml:"outcome,omitempty"`
	Reason   string `yaml:"reason,omitempty"`
}

func (m Match) matches(e TraceEvent) bool {
	switch {
	case m.Event != "" && m.Event != e.Event:
		return false
	case m.Stream != "" && m.Stream != e.Stream:
		return false
	case m.Frame != nil && *m.Frame != e.Frame:
		return false
	case m.Kind != "" && m.Kind != e.Kind:
		return false
	case m.Pipeline != "" && m.Pipeline != e.Pipeline:
		return false
	case m.Outcome != "" && m.Outcome != e.Outcome:
		return false
	case m.Reason != "" && m.Reason != e.Reason:
		return false
	}
	return true
}

func (m Match) String() string {
	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	add("event", m.Event)
	add("stream", m.Stream)
	if m.Frame != nil {
		add("frame", fmt.Sprint(*m.Frame))
	}
	add("kind", m.Kind)
	add("pipeline", m.Pipeline)
	add("outcome", m.Outcome)
	add("reason", m.Reason)
	if len(parts) == 0 {
		return "any event"
	}
	return strings.Join(parts, " ")
}

// Assertion checks one property of a scenario result.
//
//	trace_contains, trace_count: the inline Match fields select events
//	trace_order: Order lists matches that must appear in this order
//	frames: the frames planned for Stream, in planning order
//	stream_stats: Expect holds counters of Stream (chunks, planned, ...)
//	stream_end: Stream ended with Reason
//	buffers_released: every buffer went back to the provider
//	planning_errors: Count top-ups failed
type Assertion struct {
	Type  string `yaml:"type"`
	Match `yaml:",inline"`

	Count  *int             `yaml:"count,omitempty"`
	Order  []Match          `yaml:"order,omitempty"`
	Frames []int64          `yaml:"frames,omitempty"`
	Expect map[string]int64 `yaml:"expect,omitempty"`
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s frame=%d %s%s\n",
				ev.Seq, ev.Event, ev.Stream, ev.Frame, ev.Outcome, ev.Reason)
		}
	}
	return buf.String()
}

var statFields = map[string]func(engine.StreamStats) int64{
	"chunks":     func(s engine.StreamStats) int64 { return s.Chunks },
	"planned":    func(s engine.StreamStats) int64 { return s.Planned },
	"skipped":    func(s engine.StreamStats) int64 { return s.Skipped },
	"completed":  func(s engine.StreamStats) int64 { return s.Completed },
	"failed":     func(s engine.StreamStats) int64 { return s.Failed },
	"stale":      func(s engine.StreamStats) int64 { return s.Stale },
	"late":       func(s engine.StreamStats) int64 { return s.Late },
	"pending":    func(s engine.StreamStats) int64 { return s.Pending },
	"next_frame": func(s engine.StreamStats) int64 { return s.NextFrame },
}

func validateAssertion(i int, a *Assertion) error {
	field := fmt.Sprintf("assertions[%d]", i)
	switch a.Type {
	case AssertTraceContains:
	case AssertTraceCount, AssertPlanningErrors:
		if a.Count == nil {
			return fmt.Errorf("%s: %s requires count", field, a.Type)
		}
	case AssertTraceOrder:
		if len(a.Order) < 2 {
			return fmt.Errorf("%s: trace_order requires at least two entries in order", field)
		}
	case AssertFrames:
		if a.Stream == "" {
			return fmt.Errorf("%s: frames requires stream", field)
		}
	case AssertStreamStats:
		if a.Stream == "" || len(a.Expect) == 0 {
			return fmt.Errorf("%s: stream_stats requires stream and expect", field)
		}
		for k := range a.Expect {
			if _, ok := statFields[k]; !ok {
				return fmt.Errorf("%s: unknown stream counter %q", field, k)
			}
		}
	case AssertStreamEnd:
		if a.Stream == "" || a.Reason == "" {
			return fmt.Errorf("%s: stream_end requires stream and reason", field)
		}
	case AssertBuffersReleased:
	case "":
		return fmt.Errorf("%s: type is required", field)
	default:
		return fmt.Errorf("%s: unknown assertion type %q", field, a.Type)
	}
	return nil
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, e := range trace {
		if a.Match.matches(e) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: a.Match.String(),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that every match occurs after the previous one.
// Events need not be consecutive.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	pos := 0
	for _, m := range a.Order {
		found := false
		for pos < len(trace) {
			e := trace[pos]
			pos++
			if m.matches(e) {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("%d events in order", len(a.Order)),
				Actual:   fmt.Sprintf("no %s after the previous entry", m),
				Trace:    trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, e := range trace {
		if a.Match.matches(e) {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", *a.Count, a.Match),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertFrames(trace []TraceEvent, a Assertion) error {
	frames := []int64{}
	for _, e := range trace {
		if e.Event == EventPlanned && e.Stream == a.Stream {
			frames = append(frames, e.Frame)
		}
	}
	want := a.Frames
	if want == nil {
		want = []int64{}
	}
	if !slices.Equal(frames, want) {
		return &AssertionError{
			Type:     AssertFrames,
			Expected: fmt.Sprintf("%s plans frames %v", a.Stream, want),
			Actual:   fmt.Sprintf("planned %v", frames),
		}
	}
	return nil
}

func assertStreamStats(r *Result, a Assertion) error {
	stats, ok := r.Streams[a.Stream]
	if !ok {
		return &AssertionError{Type: AssertStreamStats, Expected: "stream " + a.Stream, Actual: "no such stream"}
	}
	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if got := statFields[k](stats); got != a.Expect[k] {
			return &AssertionError{
				Type:     AssertStreamStats,
				Expected: fmt.Sprintf("%s %s = %d", a.Stream, k, a.Expect[k]),
				Actual:   fmt.Sprintf("%s = %d", k, got),
			}
		}
	}
	return nil
}

func assertStreamEnd(r *Result, a Assertion) error {
	stats, ok := r.Streams[a.Stream]
	switch {
	case !ok:
		return &AssertionError{Type: AssertStreamEnd, Expected: "stream " + a.Stream, Actual: "no such stream"}
	case stats.Active:
		return &AssertionError{Type: AssertStreamEnd, Expected: "ended with " + a.Reason, Actual: "still active"}
	case stats.EndReason != a.Reason:
		return &AssertionError{Type: AssertStreamEnd, Expected: "ended with " + a.Reason, Actual: "ended with " + stats.EndReason}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result and
// returns a message per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFrames:
			err = assertFrames(result.Trace, a)
		case AssertStreamStats:
			err = assertStreamStats(result, a)
		case AssertStreamEnd:
			err = assertStreamEnd(result, a)
		case AssertBuffersReleased:
			if !result.BuffersReleased {
				err = &AssertionError{Type: a.Type, Expected: "all buffers released", Actual: "buffers still held"}
			}
		case AssertPlanningErrors:
			if n := len(result.PlanningErrors); n != *a.Count {
				err = &AssertionError{
					Type:     a.Type,
					Expected: fmt.Sprintf("%d planning errors", *a.Count),
					Actual:   fmt.Sprintf("%d: %v", n, result.PlanningErrors),
				}
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
