package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/framejobs/internal/buffer"
	"github.com/roach88/framejobs/internal/engine"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("journal: not found")

// StreamSummary is a stream with its end record, if it ended.
type StreamSummary struct {
	engine.StreamRecord
	End *engine.StreamEnd
}

// JobEntry is a planned job with its outcome, if reported.
type JobEntry struct {
	engine.JobRecord
	Outcome *engine.OutcomeRecord
}

// ReadStreams returns all streams ordered by seq.
func (j *Journal) ReadStreams(ctx context.Context) ([]StreamSummary, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT s.id, s.seq, s.port, s.channel, s.urgency, s.quality, s.start_frame, s.opened_at,
		       e.seq, e.reason, e.stats
		FROM streams s
		LEFT JOIN stream_ends e ON e.stream_id = s.id
		ORDER BY s.seq ASC, s.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query streams: %w", err)
	}
	defer rows.Close()

	out := []StreamSummary{}
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate streams: %w", err)
	}
	return out, nil
}

// ReadStream returns one stream, or ErrNotFound.
func (j *Journal) ReadStream(ctx context.Context, id string) (StreamSummary, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT s.id, s.seq, s.port, s.channel, s.urgency, s.quality, s.start_frame, s.opened_at,
		       e.seq, e.reason, e.stats
		FROM streams s
		LEFT JOIN stream_ends e ON e.stream_id = s.id
		WHERE s.id = ?
	`, id)
	s, err := scanStream(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StreamSummary{}, fmt.Errorf("stream %s: %w", id, ErrNotFound)
	}
	return s, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStream(sc scanner) (StreamSummary, error) {
	var (
		s        StreamSummary
		openedAt string
		endSeq   sql.NullInt64
		reason   sql.NullString
		stats    sql.NullString
	)
	err := sc.Scan(&s.ID, &s.Seq, &s.Port, &s.Channel, &s.Urgency, &s.Quality, &s.StartFrame, &openedAt,
		&endSeq, &reason, &stats)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s, err
		}
		return s, fmt.Errorf("scan stream: %w", err)
	}
	if s.OpenedAt, err = parseTime(openedAt); err != nil {
		return s, fmt.Errorf("stream %s: opened_at: %w", s.ID, err)
	}
	if endSeq.Valid {
		end := &engine.StreamEnd{Seq: endSeq.Int64, StreamID: s.ID, Reason: reason.String}
		if end.Stats, err = unmarshalStats(stats.String); err != nil {
			return s, fmt.Errorf("stream %s: %w", s.ID, err)
		}
		s.End = end
	}
	return s, nil
}

// ReadJobs returns the jobs planned for a stream in planning order, each
// with its outcome if one was recorded.
func (j *Journal) ReadJobs(ctx context.Context, streamID string) ([]JobEntry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT p.seq, p.stream_id, p.instance_hash, p.kind, p.pipeline, p.frame, p.nominal_ns, p.deadline,
		       o.seq, o.outcome, o.error, o.lateness_ns
		FROM planned_jobs p
		LEFT JOIN job_outcomes o ON o.stream_id = p.stream_id AND o.instance_hash = p.instance_hash
		WHERE p.stream_id = ?
		ORDER BY p.seq ASC
	`, streamID)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	out := []JobEntry{}
	for rows.Next() {
		var (
			e        JobEntry
			nominal  int64
			deadline string
			oSeq     sql.NullInt64
			outcome  sql.NullString
			errText  sql.NullString
			lateness sql.NullInt64
		)
		if err := rows.Scan(&e.Seq, &e.StreamID, &e.InstanceHash, &e.Kind, &e.Pipeline, &e.Frame, &nominal, &deadline,
			&oSeq, &outcome, &errText, &lateness); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		e.NominalTime = time.Duration(nominal)
		if e.Deadline, err = parseTime(deadline); err != nil {
			return nil, fmt.Errorf("job %d: deadline: %w", e.Seq, err)
		}
		if oSeq.Valid {
			e.Outcome = &engine.OutcomeRecord{
				Seq:          oSeq.Int64,
				StreamID:     e.StreamID,
				InstanceHash: e.InstanceHash,
				Outcome:      engine.Outcome(outcome.String),
				Error:        errText.String,
				Lateness:     time.Duration(lateness.Int64),
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// ReadBufferEvents returns all buffer events in recording order.
func (j *Journal) ReadBufferEvents(ctx context.Context) ([]buffer.Event, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT event_seq, kind, type_key, block, size
		FROM buffer_events
		ORDER BY event_seq ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query buffer events: %w", err)
	}
	defer rows.Close()

	out := []buffer.Event{}
	for rows.Next() {
		var (
			ev      buffer.Event
			kind    string
			typeKey string
			block   int64
		)
		if err := rows.Scan(&ev.Seq, &kind, &typeKey, &block, &ev.Size); err != nil {
			return nil, fmt.Errorf("scan buffer event: %w", err)
		}
		key, err := strconv.ParseUint(typeKey, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("buffer event %d: type key: %w", ev.Seq, err)
		}
		ev.Kind = buffer.EventKind(kind)
		ev.Type = buffer.Key(key)
		ev.Block = uint64(block)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buffer events: %w", err)
	}
	return out, nil
}

// LastSeq returns the highest sequence number in the journal, 0 if empty.
// A service resuming on this journal starts its clock there.
func (j *Journal) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := j.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM (
			SELECT MAX(seq) AS seq FROM streams
			UNION ALL SELECT MAX(seq) FROM stream_ends
			UNION ALL SELECT MAX(seq) FROM planned_jobs
			UNION ALL SELECT MAX(seq) FROM job_outcomes
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq, nil
}

type statsJSON struct {
	Chunks    int64 `json:"chunks"`
	Planned   int64 `json:"planned"`
	Skipped   int64 `json:"skipped"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Stale     int64 `json:"stale"`
	Late      int64 `json:"late"`
	Pending   int64 `json:"pending"`
	NextFrame int64 `json:"next_frame"`
}

func unmarshalStats(data string) (engine.StreamStats, error) {
	var s statsJSON
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return engine.StreamStats{}, fmt.Errorf("unmarshal stream stats: %w", err)
	}
	return engine.StreamStats{
		Chunks:    s.Chunks,
		Planned:   s.Planned,
		Skipped:   s.Skipped,
		Completed: s.Completed,
		Failed:    s.Failed,
		Stale:     s.Stale,
		Late:      s.Late,
		Pending:   s.Pending,
		NextFrame: s.NextFrame,
	}, nil
}
