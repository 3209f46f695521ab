package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/framejobs/internal/config"
	"github.com/roach88/framejobs/internal/engine"
	"github.com/roach88/framejobs/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Outcome  string // optional - filter jobs by outcome
}

// StreamTrace is one stream as read back from the journal.
type StreamTrace struct {
	ID         string    `json:"id"`
	Seq        int64     `json:"seq"`
	Port       string    `json:"port"`
	Channel    uint      `json:"channel"`
	Urgency    string    `json:"urgency"`
	Quality    string    `json:"quality"`
	StartFrame int64     `json:"start_frame"`
	OpenedAt   time.Time `json:"opened_at"`
	EndReason  string    `json:"end_reason,omitempty"`
	Planned    int64     `json:"planned"`
	Completed  int64     `json:"completed"`
	Late       int64     `json:"late"`
}

// JobTrace is one planned job and its outcome.
type JobTrace struct {
	Seq      int64  `json:"seq"`
	Frame    int64  `json:"frame"`
	Kind     string `json:"kind"`
	Pipeline string `json:"pipeline"`
	Outcome  string `json:"outcome,omitempty"`
	LateMS   int64  `json:"late_ms,omitempty"`
	Error    string `json:"error,omitempty"`
}

// StreamTraceResult holds the trace of a single stream.
type StreamTraceResult struct {
	Stream StreamTrace `json:"stream"`
	Jobs   []JobTrace  `json:"jobs"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace [stream-id]",
		Short: "Read streams and jobs back from the journal",
		Long: `List the streams recorded in a journal, or show the jobs of one stream with
their outcomes in sequence order.

The journal defaults to the [journal] path of the configuration.`,
		Example: `  framejobs trace --db ./framejobs.db
  framejobs trace --db ./framejobs.db 0192f0c4-...
  framejobs trace --db ./framejobs.db 0192f0c4-... --outcome failed`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			streamID := ""
			if len(args) == 1 {
				streamID = args[0]
			}
			return runTrace(cmd.Context(), opts, streamID, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the journal database (default from config)")
	cmd.Flags().StringVar(&opts.Outcome, "outcome", "", "show only jobs with this outcome")

	return cmd
}

func runTrace(ctx context.Context, opts *TraceOptions, streamID string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	path := opts.Database
	if path == "" {
		cfg, _, _, err := config.Load(opts.ConfigPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "load config", err)
		}
		path = cfg.Journal.Path
	}
	if _, err := os.Stat(path); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", path), err)
	}

	jr, err := journal.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer jr.Close()

	if streamID == "" {
		return traceStreams(ctx, formatter, jr)
	}
	return traceStream(ctx, formatter, jr, streamID, opts.Outcome)
}

func traceStreams(ctx context.Context, formatter *OutputFormatter, jr *journal.Journal) error {
	summaries, err := jr.ReadStreams(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read streams", err)
	}
	streams := make([]StreamTrace, 0, len(summaries))
	for _, s := range summaries {
		streams = append(streams, streamTrace(s))
	}

	if formatter.jsonMode() {
		return formatter.JSON(streams)
	}

	w := formatter.Writer
	if len(streams) == 0 {
		fmt.Fprintln(w, "No streams recorded.")
		return nil
	}
	rows := make([][]string, 0, len(streams))
	for _, s := range streams {
		rows = append(rows, []string{
			s.ID,
			s.Port,
			s.Urgency,
			humanize.Time(s.OpenedAt),
			orElse(s.EndReason, "active"),
			humanize.Comma(s.Planned),
			humanize.Comma(s.Completed),
			humanize.Comma(s.Late),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Stream", "Port", "Urgency", "Opened", "Ended", "Planned", "Completed", "Late"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
	))
	return nil
}

func traceStream(ctx context.Context, formatter *OutputFormatter, jr *journal.Journal, id, outcome string) error {
	summary, err := jr.ReadStream(ctx, id)
	if errors.Is(err, journal.ErrNotFound) {
		_ = formatter.Error("E_NOT_FOUND", fmt.Sprintf("no stream %s in journal", id), nil)
		return NewExitError(ExitFailure, fmt.Sprintf("no stream %s", id))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read stream", err)
	}
	entries, err := jr.ReadJobs(ctx, id)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read jobs", err)
	}

	result := StreamTraceResult{Stream: streamTrace(summary), Jobs: []JobTrace{}}
	for _, e := range entries {
		jt := JobTrace{Seq: e.Seq, Frame: e.Frame, Kind: e.Kind, Pipeline: e.Pipeline}
		if e.Outcome != nil {
			jt.Outcome = string(e.Outcome.Outcome)
			jt.LateMS = e.Outcome.Lateness.Milliseconds()
			jt.Error = e.Outcome.Error
		}
		if outcome != "" && jt.Outcome != outcome {
			continue
		}
		result.Jobs = append(result.Jobs, jt)
	}
	// Stats of an active stream come from its jobs.
	if summary.End == nil {
		for _, e := range entries {
			result.Stream.Planned++
			if e.Outcome == nil {
				continue
			}
			if e.Outcome.Outcome == engine.OutcomeCompleted {
				result.Stream.Completed++
			}
			if e.Outcome.Lateness > 0 {
				result.Stream.Late++
			}
		}
	}

	if formatter.jsonMode() {
		return formatter.JSON(result)
	}
	outputStreamTrace(formatter.Writer, result, formatter.Verbose)
	return nil
}

func streamTrace(s journal.StreamSummary) StreamTrace {
	st := StreamTrace{
		ID:         s.ID,
		Seq:        s.Seq,
		Port:       s.Port,
		Channel:    s.Channel,
		Urgency:    s.Urgency,
		Quality:    s.Quality,
		StartFrame: s.StartFrame,
		OpenedAt:   s.OpenedAt,
	}
	if s.End != nil {
		st.EndReason = s.End.Reason
		st.Planned = s.End.Stats.Planned
		st.Completed = s.End.Stats.Completed
		st.Late = s.End.Stats.Late
	}
	return st
}

func outputStreamTrace(w io.Writer, r StreamTraceResult, verbose bool) {
	s := r.Stream
	fmt.Fprintf(w, "Stream %s\n", s.ID)
	fmt.Fprintf(w, "  Port:    %s (channel %d)\n", s.Port, s.Channel)
	fmt.Fprintf(w, "  Urgency: %s, quality %s\n", s.Urgency, s.Quality)
	fmt.Fprintf(w, "  Opened:  %s at frame %d\n", s.OpenedAt.Format(time.RFC3339), s.StartFrame)
	fmt.Fprintf(w, "  Status:  %s\n", orElse(s.EndReason, "active"))
	fmt.Fprintln(w)

	if len(r.Jobs) == 0 {
		fmt.Fprintln(w, "  (no jobs)")
		return
	}
	headers := []string{"Seq", "Frame", "Kind", "Pipeline", "Outcome", "Late"}
	aligns := []columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignLeft, alignRight}
	if verbose {
		headers = append(headers, "Error")
		aligns = append(aligns, alignLeft)
	}
	rows := make([][]string, 0, len(r.Jobs))
	for _, j := range r.Jobs {
		late := ""
		if j.LateMS > 0 {
			late = strconv.FormatInt(j.LateMS, 10) + "ms"
		}
		row := []string{
			strconv.FormatInt(j.Seq, 10),
			strconv.FormatInt(j.Frame, 10),
			j.Kind,
			j.Pipeline,
			orElse(j.Outcome, "pending"),
			late,
		}
		if verbose {
			row = append(row, j.Error)
		}
		rows = append(rows, row)
	}
	fmt.Fprintln(w, renderTable(headers, rows, aligns))
	fmt.Fprintf(w, "\n%s job(s), %s planned, %s completed, %s late\n",
		humanize.Comma(int64(len(r.Jobs))), humanize.Comma(s.Planned), humanize.Comma(s.Completed), humanize.Comma(s.Late))
}

func orElse(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
