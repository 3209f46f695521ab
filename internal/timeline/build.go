package timeline

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/roach88/framejobs/internal/buffer"
	"github.com/roach88/framejobs/internal/dispatch"
	"github.com/roach88/framejobs/internal/fixture"
	"github.com/roach88/framejobs/internal/frame"
	"github.com/roach88/framejobs/internal/job"
	"github.com/roach88/framejobs/internal/port"
)

// Timeline is a built definition: the registered ports and the segmentation
// holding one ticket per wired port and segment.
type Timeline struct {
	Name     string
	Rate     frame.Rate
	Registry *port.Registry
	Segments *fixture.Segmentation

	provider buffer.Provider
	ports    map[string]port.ModelPort
	pipes    []string

	mu        sync.Mutex
	functors  []*Synthetic
	pipelines map[string]*Synthetic
}

// Build registers the definition's ports in one transaction and splices its
// segments in order. Every ticket draws buffers from provider.
func Build(def *Definition, provider buffer.Provider) (*Timeline, error) {
	rate, err := frame.ParseRate(def.FrameRate)
	if err != nil {
		return nil, &DefinitionError{Code: ErrCodeInvalid, Field: "frame_rate", Message: "invalid frame rate", Err: err}
	}
	tl := &Timeline{
		Name:      def.Name,
		Rate:      rate,
		Registry:  port.NewRegistry(),
		Segments:  fixture.New(),
		provider:  provider,
		ports:     make(map[string]port.ModelPort, len(def.Ports)),
		pipelines: make(map[string]*Synthetic),
	}

	tx, err := tl.Registry.Begin()
	if err != nil {
		return nil, &DefinitionError{Code: ErrCodeBuildFailed, Message: "open port transaction", Err: err}
	}
	for _, pd := range def.Ports {
		p, err := tx.Define(pd.Pipe, pd.StreamType)
		if err != nil {
			tx.Rollback()
			return nil, &DefinitionError{Code: ErrCodeBuildFailed, Field: "ports", Message: fmt.Sprintf("define %s", pd.Pipe), Err: err}
		}
		tl.ports[pd.Pipe] = p
		tl.pipes = append(tl.pipes, pd.Pipe)
	}
	if err := tx.Commit(); err != nil {
		return nil, &DefinitionError{Code: ErrCodeBuildFailed, Message: "commit ports", Err: err}
	}

	for i, seg := range def.Segments {
		if _, err := tl.Splice(seg); err != nil {
			return nil, fmt.Errorf("segments[%d]: %w", i, err)
		}
	}
	return tl, nil
}

// Port returns the model port of a pipe.
func (tl *Timeline) Port(pipe string) (port.ModelPort, bool) {
	p, ok := tl.ports[pipe]
	return p, ok
}

// Pipes returns the pipes in definition order.
func (tl *Timeline) Pipes() []string {
	out := make([]string, len(tl.pipes))
	copy(out, tl.pipes)
	return out
}

// Provider returns the buffer provider backing the tickets.
func (tl *Timeline) Provider() buffer.Provider {
	return tl.provider
}

// Dispatcher returns a dispatch table over the timeline.
func (tl *Timeline) Dispatcher(opts ...dispatch.TableOption) *dispatch.Table {
	return dispatch.NewTable(tl.Registry, tl.Segments, opts...)
}

// Timings returns default ASAP timings on the timeline's frame grid.
func (tl *Timeline) Timings() frame.Timings {
	return frame.DefaultTimings(tl.Rate)
}

// Splice rewires [seg.Start, seg.End). Segments it overlaps become obsolete,
// so jobs already planned against them turn stale.
func (tl *Timeline) Splice(seg SegmentDef) (*fixture.Segment, error) {
	pipes := make([]string, 0, len(seg.Tickets))
	for pipe := range seg.Tickets {
		pipes = append(pipes, pipe)
	}
	sort.Strings(pipes)

	builds := make([]fixture.TicketBuild, 0, len(pipes))
	for _, pipe := range pipes {
		p, ok := tl.ports[pipe]
		if !ok {
			return nil, &DefinitionError{Code: ErrCodeInvalid, Field: "tickets." + pipe, Message: "unknown pipe"}
		}
		spec, err := tl.ticketSpec(pipe, seg.Start, seg.Tickets[pipe])
		if err != nil {
			return nil, err
		}
		builds = append(builds, fixture.TicketBuild{Port: p, Spec: spec})
	}
	s, err := tl.Segments.SplitSplice(seg.Start, seg.End, builds)
	if err != nil {
		return nil, &DefinitionError{Code: ErrCodeBuildFailed, Message: "splice segment", Err: err}
	}
	return s, nil
}

func (tl *Timeline) ticketSpec(pipe string, start time.Duration, td TicketDef) (job.TicketSpec, error) {
	fn, err := newSynthetic(td)
	if err != nil {
		return job.TicketSpec{}, &DefinitionError{Code: ErrCodeInvalid, Field: "tickets." + pipe + ".kind", Message: err.Error()}
	}
	id := td.Pipeline
	if id == "" {
		id = fmt.Sprintf("%s@%s", pipe, start)
	}
	spec := job.TicketSpec{
		PipelineID:      id,
		Functor:         fn,
		Provider:        tl.provider,
		ExpectedRuntime: td.ExpectedRuntime,
	}
	for i, pre := range td.Prerequisites {
		if pre.Pipeline == "" {
			pre.Pipeline = fmt.Sprintf("%s/pre%d", id, i)
		}
		ps, err := tl.ticketSpec(pipe, start, pre)
		if err != nil {
			return job.TicketSpec{}, err
		}
		spec.Prerequisites = append(spec.Prerequisites, ps)
	}

	tl.mu.Lock()
	tl.functors = append(tl.functors, fn)
	tl.pipelines[id] = fn
	tl.mu.Unlock()
	return spec, nil
}

// Functor returns the synthetic functor of a pipeline ID.
func (tl *Timeline) Functor(pipelineID string) (*Synthetic, bool) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	fn, ok := tl.pipelines[pipelineID]
	return fn, ok
}

// Invocations sums invocations over every functor built so far.
func (tl *Timeline) Invocations() int64 {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	var n int64
	for _, fn := range tl.functors {
		n += fn.Invocations()
	}
	return n
}

// LoadAndBuild reads and builds a timeline in one step.
func LoadAndBuild(path string, provider buffer.Provider) (*Timeline, error) {
	def, err := Load(path)
	if err != nil {
		return nil, err
	}
	return Build(def, provider)
}
