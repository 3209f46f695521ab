package harness

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/framejobs/internal/canon"
)

// MarshalTrace renders a trace as canonical JSON, one event per line. Only
// the fields meaningful for an event type are written, so the output stays
// stable when unrelated fields are added to TraceEvent.
func MarshalTrace(trace []TraceEvent) ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range trace {
		obj := canon.Object{
			"seq":    e.Seq,
			"event":  e.Event,
			"stream": e.Stream,
		}
		switch e.Event {
		case EventOpened:
			obj["port"] = e.Port
			obj["start_frame"] = e.Frame
		case EventPlanned:
			obj["frame"] = e.Frame
			obj["kind"] = e.Kind
			obj["pipeline"] = e.Pipeline
		case EventFinished:
			obj["frame"] = e.Frame
			obj["kind"] = e.Kind
			obj["pipeline"] = e.Pipeline
			obj["outcome"] = e.Outcome
			if e.Late > 0 {
				obj["late_ms"] = e.Late.Milliseconds()
			}
		case EventClosed:
			obj["reason"] = e.Reason
		}
		line, err := canon.Marshal(obj)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/<scenario name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()
	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an already computed result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()
	data, err := MarshalTrace(result.Trace)
	if err != nil {
		return err
	}
	newGoldie(t).Assert(t, name, data)
	return nil
}
