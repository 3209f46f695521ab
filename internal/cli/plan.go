package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/framejobs/internal/buffer"
	"github.com/roach88/framejobs/internal/engine"
	"github.com/roach88/framejobs/internal/frame"
	"github.com/roach88/framejobs/internal/job"
	"github.com/roach88/framejobs/internal/timeline"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	Pipe       string
	Chunks     int
	StartFrame int64
	Urgency    string
	Channel    uint
}

// PlannedJob is one row of the plan output.
type PlannedJob struct {
	Frame    int64  `json:"frame"`
	Nominal  string `json:"nominal"`
	Kind     string `json:"kind"`
	Pipeline string `json:"pipeline"`
	StartBy  string `json:"start_by"`
	Deadline string `json:"deadline"`
	Hash     string `json:"instance_hash"`
}

// PlanResult is the output of the plan command.
type PlanResult struct {
	Timeline string       `json:"timeline"`
	Pipe     string       `json:"pipe"`
	Urgency  string       `json:"urgency"`
	Jobs     []PlannedJob `json:"jobs"`
	Skipped  int64        `json:"skipped"`
	Next     int64        `json:"next_frame"`
	Ended    string       `json:"ended,omitempty"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{}

	cmd := &cobra.Command{
		Use:   "plan <timeline>",
		Short: "Show the jobs a stream would schedule",
		Long: `Open one calculation stream on a timeline and print the jobs planned for its
first chunks without running them.

Deadlines are shown relative to the moment of planning.`,
		Example: `  framejobs plan timeline.cue --pipe video
  framejobs plan timeline.cue --pipe audio --chunks 4 --urgency timebound`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd.Context(), rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Pipe, "pipe", "", "pipe to plan (default: first port of the timeline)")
	cmd.Flags().IntVar(&opts.Chunks, "chunks", 1, "number of chunks to plan")
	cmd.Flags().Int64Var(&opts.StartFrame, "start-frame", -1, "first frame (default: start of the timeline)")
	cmd.Flags().StringVar(&opts.Urgency, "urgency", "asap", "playback urgency (asap|nice|timebound)")
	cmd.Flags().UintVar(&opts.Channel, "channel", 0, "channel of the port")

	return cmd
}

// collector accepts every job without running it.
type collector struct {
	jobs []*job.Job
}

func (c *collector) Schedule(j *job.Job) error {
	c.jobs = append(c.jobs, j)
	return nil
}

func runPlan(ctx context.Context, rootOpts *RootOptions, opts *PlanOptions, path string, cmd *cobra.Command) error {
	formatter := rootOpts.formatter(cmd)
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Chunks < 1 {
		return NewExitError(ExitCommandError, "--chunks must be at least 1")
	}

	tl, err := timeline.LoadAndBuild(path, buffer.NewTrackingProvider())
	if err != nil {
		return outputValidationErrors(formatter, err)
	}

	pipe := opts.Pipe
	if pipe == "" {
		pipes := tl.Pipes()
		if len(pipes) == 0 {
			return NewExitError(ExitCommandError, "timeline has no ports")
		}
		pipe = pipes[0]
	}
	p, ok := tl.Port(pipe)
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown pipe %q", pipe))
	}

	timings := tl.Timings()
	if timings.Urgency, err = frame.ParseUrgency(opts.Urgency); err != nil {
		return WrapExitError(ExitCommandError, "invalid urgency", err)
	}
	now := time.Now()
	if timings.Urgency == frame.TIMEBOUND {
		timings.ScheduledDelivery = now
	}

	var streamOpts []engine.StreamOption
	if opts.StartFrame >= 0 {
		streamOpts = append(streamOpts, engine.StartAt(opts.StartFrame))
	}

	sched := &collector{}
	svc := engine.New(tl.Dispatcher(), sched,
		engine.WithLookAheadChunks(opts.Chunks),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	defer svc.Close(ctx)

	formatter.VerboseLog("Planning %d chunk(s) of %s at %s", opts.Chunks, pipe, tl.Rate)
	stream, err := svc.Calculate(ctx, p, timings,
		engine.OutputConnection{Channel: opts.Channel, Sink: "plan"}, engine.QualityDefault, streamOpts...)
	if err != nil {
		if formatter.jsonMode() {
			_ = formatter.Error("E_PLAN_FAILED", err.Error(), nil)
		}
		return WrapExitError(ExitFailure, "planning failed", err)
	}
	stream.Stop()

	stats := stream.Stats()
	result := PlanResult{
		Timeline: tl.Name,
		Pipe:     pipe,
		Urgency:  timings.Urgency.String(),
		Jobs:     make([]PlannedJob, 0, len(sched.jobs)),
		Skipped:  stats.Skipped,
		Next:     stats.NextFrame,
	}
	if stats.EndReason == "end of timeline" {
		result.Ended = stats.EndReason
	}
	for _, j := range sched.jobs {
		c := j.Coord()
		result.Jobs = append(result.Jobs, PlannedJob{
			Frame:    c.FrameNumber,
			Nominal:  c.NominalTime.String(),
			Kind:     j.Kind().String(),
			Pipeline: j.Ticket().PipelineID(),
			StartBy:  formatDeadline(j.StartDeadline(), now),
			Deadline: formatDeadline(j.Deadline(), now),
			Hash:     j.InstanceHash(),
		})
	}

	if formatter.jsonMode() {
		return formatter.JSON(result)
	}
	outputPlanText(formatter.Writer, result)
	return nil
}

// formatDeadline renders a deadline relative to now. Far-future deadlines
// (NICE streams) read as "none".
func formatDeadline(deadline, now time.Time) string {
	d := deadline.Sub(now)
	if d > 24*time.Hour {
		return "none"
	}
	if d < 0 {
		return "-" + (-d).Round(time.Millisecond).String()
	}
	return "+" + d.Round(time.Millisecond).String()
}

func outputPlanText(w io.Writer, r PlanResult) {
	fmt.Fprintf(w, "Timeline %s, pipe %s (%s)\n\n", r.Timeline, r.Pipe, r.Urgency)
	if len(r.Jobs) > 0 {
		rows := make([][]string, 0, len(r.Jobs))
		for _, j := range r.Jobs {
			rows = append(rows, []string{
				strconv.FormatInt(j.Frame, 10),
				j.Nominal,
				j.Kind,
				j.Pipeline,
				j.StartBy,
				j.Deadline,
			})
		}
		fmt.Fprintln(w, renderTable(
			[]string{"Frame", "Nominal", "Kind", "Pipeline", "Start By", "Deadline"},
			rows,
			[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight, alignRight},
		))
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "%s job(s) planned, %s frame(s) skipped, next frame %s\n",
		humanize.Comma(int64(len(r.Jobs))), humanize.Comma(r.Skipped), humanize.Comma(r.Next))
	if r.Ended != "" {
		fmt.Fprintf(w, "Stream ended: %s\n", r.Ended)
	}
}
