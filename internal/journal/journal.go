package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/framejobs/internal/buffer"
	"github.com/roach88/framejobs/internal/canon"
	"github.com/roach88/framejobs/internal/engine"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema
const currentSchemaVersion = 1

// Journal records streams, jobs and buffer events in SQLite.
type Journal struct {
	db *sql.DB
}

var (
	_ engine.Journal  = (*Journal)(nil)
	_ buffer.Recorder = (*Journal)(nil)
)

// Open creates or opens a journal database at path. Pragmas and schema are
// applied on every open; opening is idempotent.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect journal: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// DB returns the underlying database for ad-hoc queries.
func (j *Journal) DB() *sql.DB {
	return j.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// OpenStream records a newly opened stream.
func (j *Journal) OpenStream(ctx context.Context, r engine.StreamRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO streams
		(id, seq, port, channel, urgency, quality, start_frame, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		r.ID,
		r.Seq,
		r.Port,
		r.Channel,
		r.Urgency,
		r.Quality,
		r.StartFrame,
		formatTime(r.OpenedAt),
	)
	if err != nil {
		return fmt.Errorf("write stream: %w", err)
	}
	return nil
}

// CloseStream records the end of a stream. The counters are stored as
// canonical JSON.
func (j *Journal) CloseStream(ctx context.Context, r engine.StreamEnd) error {
	stats, err := marshalStats(r.Stats)
	if err != nil {
		return fmt.Errorf("write stream end: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO stream_ends (stream_id, seq, reason, stats)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(stream_id) DO NOTHING
	`, r.StreamID, r.Seq, r.Reason, stats)
	if err != nil {
		return fmt.Errorf("write stream end: %w", err)
	}
	return nil
}

// RecordPlanned records a job handed to the scheduler.
func (j *Journal) RecordPlanned(ctx context.Context, r engine.JobRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO planned_jobs
		(seq, stream_id, instance_hash, kind, pipeline, frame, nominal_ns, deadline)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		r.Seq,
		r.StreamID,
		r.InstanceHash,
		r.Kind,
		r.Pipeline,
		r.Frame,
		int64(r.NominalTime),
		formatTime(r.Deadline),
	)
	if err != nil {
		return fmt.Errorf("write planned job: %w", err)
	}
	return nil
}

// RecordOutcome records how a job ended. Each job has at most one outcome.
func (j *Journal) RecordOutcome(ctx context.Context, r engine.OutcomeRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO job_outcomes
		(seq, stream_id, instance_hash, outcome, error, lateness_ns)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		r.Seq,
		r.StreamID,
		r.InstanceHash,
		string(r.Outcome),
		r.Error,
		int64(r.Lateness),
	)
	if err != nil {
		return fmt.Errorf("write job outcome: %w", err)
	}
	return nil
}

// RecordBufferEvent stores a buffer lifecycle event. Providers cannot handle
// errors from their recorder, so failures are logged.
func (j *Journal) RecordBufferEvent(ev buffer.Event) {
	_, err := j.db.Exec(`
		INSERT INTO buffer_events (event_seq, kind, type_key, block, size)
		VALUES (?, ?, ?, ?, ?)
	`,
		ev.Seq,
		string(ev.Kind),
		fmt.Sprintf("%016x", uint64(ev.Type)),
		int64(ev.Block),
		ev.Size,
	)
	if err != nil {
		slog.Error("journal buffer event failed", "error", err, "kind", ev.Kind, "block", ev.Block)
	}
}

func marshalStats(s engine.StreamStats) (string, error) {
	b, err := canon.Marshal(canon.Object{
		"chunks":     s.Chunks,
		"planned":    s.Planned,
		"skipped":    s.Skipped,
		"completed":  s.Completed,
		"failed":     s.Failed,
		"stale":      s.Stale,
		"late":       s.Late,
		"pending":    s.Pending,
		"next_frame": s.NextFrame,
	})
	if err != nil {
		return "", fmt.Errorf("marshal stream stats: %w", err)
	}
	return string(b), nil
}
