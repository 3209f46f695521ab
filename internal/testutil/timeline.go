package testutil

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/framejobs/internal/buffer"
	"github.com/roach88/framejobs/internal/fixture"
	"github.com/roach88/framejobs/internal/job"
	"github.com/roach88/framejobs/internal/port"
)

// Timeline bundles a port registry and a segmentation for tests, the way the
// builder would deliver them.
type Timeline struct {
	Registry *port.Registry
	Segments *fixture.Segmentation

	// Provider is attached to every ticket spliced through Splice.
	Provider buffer.Provider

	ports map[string]port.ModelPort
}

// NewTimeline registers one model port per pipe. The segmentation is empty
// (a single NOP segment).
func NewTimeline(t testing.TB, pipes ...string) *Timeline {
	t.Helper()
	tl := &Timeline{
		Registry: port.NewRegistry(),
		Segments: fixture.New(),
		ports:    make(map[string]port.ModelPort, len(pipes)),
	}
	tx, err := tl.Registry.Begin()
	require.NoError(t, err)
	for _, pipe := range pipes {
		p, err := tx.Define(pipe, "video/raw")
		require.NoError(t, err)
		tl.ports[pipe] = p
	}
	require.NoError(t, tx.Commit())
	return tl
}

// Port returns the model port of a pipe, NIL if unknown.
func (tl *Timeline) Port(pipe string) port.ModelPort {
	return tl.ports[pipe]
}

// Splice adds a segment [start, after) wiring the given pipes. Each ticket's
// pipeline ID is "<pipe>/<start>".
func (tl *Timeline) Splice(t testing.TB, start, after time.Duration, functors map[string]job.Functor) *fixture.Segment {
	t.Helper()
	pipes := make([]string, 0, len(functors))
	for pipe := range functors {
		pipes = append(pipes, pipe)
	}
	sort.Strings(pipes)

	builds := make([]fixture.TicketBuild, 0, len(pipes))
	for _, pipe := range pipes {
		p, ok := tl.ports[pipe]
		require.True(t, ok, "unknown pipe %q", pipe)
		builds = append(builds, fixture.TicketBuild{Port: p, Spec: job.TicketSpec{
			PipelineID: pipe + "/" + start.String(),
			Functor:    functors[pipe],
			Provider:   tl.Provider,
		}})
	}
	return tl.SpliceBuilds(t, start, after, builds)
}

// SpliceBuilds adds a segment from explicit ticket builds.
func (tl *Timeline) SpliceBuilds(t testing.TB, start, after time.Duration, builds []fixture.TicketBuild) *fixture.Segment {
	t.Helper()
	seg, err := tl.Segments.SplitSplice(start, after, builds)
	require.NoError(t, err)
	return seg
}
