package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/framejobs/internal/engine"
	"github.com/roach88/framejobs/internal/frame"
	"github.com/roach88/framejobs/internal/job"
)

// Scenario drives the calculation service over a timeline and checks the
// resulting trace.
type Scenario struct {
	// Name uniquely identifies this scenario; it also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Timeline is the CUE timeline definition, relative to the scenario file.
	Timeline string `yaml:"timeline"`

	// LookAhead overrides the service's open chunk look-ahead.
	LookAhead int `yaml:"look_ahead,omitempty"`

	// ChunkLimit caps the frames per planning chunk.
	ChunkLimit int64 `yaml:"chunk_limit,omitempty"`

	// Streams are opened in order before the first step.
	Streams []StreamSpec `yaml:"streams"`

	// Steps run after the streams were opened.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and stream state.
	Assertions []Assertion `yaml:"assertions"`
}

// StreamSpec opens one calculation stream.
type StreamSpec struct {
	Pipe    string `yaml:"pipe"`
	Channel uint   `yaml:"channel,omitempty"`
	Urgency string `yaml:"urgency,omitempty"`
	Quality string `yaml:"quality,omitempty"`

	StartFrame    *int64 `yaml:"start_frame,omitempty"`
	PlanningChunk string `yaml:"planning_chunk,omitempty"`
	OutputLatency string `yaml:"output_latency,omitempty"`
	EngineLatency string `yaml:"engine_latency,omitempty"`

	// ExpectError is the error code Calculate must fail with. The stream is
	// not counted when it fails as expected.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step is one scenario action. Exactly one field is set.
type Step struct {
	// Run invokes scheduled jobs in scheduling order: "all" keeps topping up
	// until nothing is left to run, "once" runs what is scheduled right now.
	Run string `yaml:"run,omitempty"`

	// Advance moves the wall clock.
	Advance string `yaml:"advance,omitempty"`

	// Stop stops the stream with this ID.
	Stop string `yaml:"stop,omitempty"`

	// TopUp plans all active streams up to their look-ahead.
	TopUp bool `yaml:"top_up,omitempty"`

	// Reject makes the scheduler refuse jobs with this message; "" accepts
	// again.
	Reject *string `yaml:"reject,omitempty"`

	// Splice rewires part of the timeline.
	Splice *SpliceSpec `yaml:"splice,omitempty"`

	// Open starts another stream mid-scenario.
	Open *StreamSpec `yaml:"open,omitempty"`
}

// SpliceSpec describes a replacement segment.
type SpliceSpec struct {
	Start   string                `yaml:"start"`
	End     string                `yaml:"end"`
	Tickets map[string]TicketSpec `yaml:"tickets"`
}

// TicketSpec mirrors the timeline's ticket definition.
type TicketSpec struct {
	Pipeline string `yaml:"pipeline,omitempty"`
	Kind     string `yaml:"kind,omitempty"`
	Buffers  []int  `yaml:"buffers,omitempty"`
	Fail     string `yaml:"fail,omitempty"`
}

// Step run modes.
const (
	RunAll  = "all"
	RunOnce = "once"
)

// LoadScenario reads and parses a scenario YAML file. The timeline path is
// resolved relative to the file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Timeline != "" && !filepath.IsAbs(scenario.Timeline) {
		scenario.Timeline = filepath.Join(filepath.Dir(path), scenario.Timeline)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// DiscoverScenarios returns the scenario files of a directory in name order.
func DiscoverScenarios(dir string) ([]string, error) {
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		m, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, m...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no scenario files in %s", dir)
	}
	return sortedPaths(files), nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Timeline == "" {
		return fmt.Errorf("timeline is required")
	}
	if _, err := os.Stat(s.Timeline); os.IsNotExist(err) {
		return fmt.Errorf("timeline file not found: %s", s.Timeline)
	}
	if len(s.Streams) == 0 {
		return fmt.Errorf("streams list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.LookAhead < 0 || s.ChunkLimit < 0 {
		return fmt.Errorf("look_ahead and chunk_limit must not be negative")
	}

	for i, st := range s.Streams {
		if err := validateStream(fmt.Sprintf("streams[%d]", i), st); err != nil {
			return err
		}
	}
	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStream(field string, st StreamSpec) error {
	if st.Pipe == "" {
		return fmt.Errorf("%s: pipe is required", field)
	}
	if st.Urgency != "" {
		if _, err := frame.ParseUrgency(st.Urgency); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	if st.Quality != "" {
		if _, err := engine.ParseQuality(st.Quality); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	for _, d := range []string{st.PlanningChunk, st.OutputLatency, st.EngineLatency} {
		if _, err := parseDuration(d); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	return nil
}

func validateStep(i int, step Step) error {
	set := 0
	if step.Run != "" {
		set++
		if step.Run != RunAll && step.Run != RunOnce {
			return fmt.Errorf("steps[%d]: run must be %q or %q", i, RunAll, RunOnce)
		}
	}
	if step.Advance != "" {
		set++
		if _, err := parseDuration(step.Advance); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	if step.Stop != "" {
		set++
	}
	if step.TopUp {
		set++
	}
	if step.Reject != nil {
		set++
	}
	if step.Splice != nil {
		set++
		if err := validateSplice(i, step.Splice); err != nil {
			return err
		}
	}
	if step.Open != nil {
		set++
		if err := validateStream(fmt.Sprintf("steps[%d].open", i), *step.Open); err != nil {
			return err
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", i, set)
	}
	return nil
}

func validateSplice(i int, sp *SpliceSpec) error {
	start, err := parseDuration(sp.Start)
	if err != nil {
		return fmt.Errorf("steps[%d].splice.start: %w", i, err)
	}
	end, err := parseDuration(sp.End)
	if err != nil {
		return fmt.Errorf("steps[%d].splice.end: %w", i, err)
	}
	if start >= end {
		return fmt.Errorf("steps[%d].splice: empty range", i)
	}
	for pipe, tk := range sp.Tickets {
		if tk.Kind == "" {
			continue
		}
		if _, err := job.ParseKind(tk.Kind); err != nil {
			return fmt.Errorf("steps[%d].splice.tickets.%s: %w", i, pipe, err)
		}
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
