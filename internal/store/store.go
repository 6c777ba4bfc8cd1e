package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/keagan/avsync/internal/pipeline"
	"github.com/keagan/avsync/internal/validate"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned for an unknown run id.
var ErrNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	total_us INTEGER NOT NULL,
	segments INTEGER NOT NULL,
	placeholders INTEGER NOT NULL,
	report_passed BOOLEAN,
	report_p95_us INTEGER,
	report_max_us INTEGER
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

CREATE TABLE IF NOT EXISTS run_segments (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	segment_id TEXT NOT NULL,
	offset_us INTEGER NOT NULL,
	duration_us INTEGER NOT NULL,
	clip_us INTEGER NOT NULL,
	action TEXT NOT NULL,
	placeholder BOOLEAN NOT NULL DEFAULT 0,
	failure TEXT,
	PRIMARY KEY (run_id, position)
);
`

// Run is a recorded pipeline run.
type Run struct {
	ID           string
	CreatedAt    time.Time
	FinishedAt   time.Time
	Total        time.Duration
	Segments     int
	Placeholders int

	// Report fields are set once a validation report is saved.
	HasReport    bool
	ReportPassed bool
	ReportP95    time.Duration
	ReportMax    time.Duration
}

// RunSegment is one timeline entry of a recorded run.
type RunSegment struct {
	Position    int
	SegmentID   string
	Offset      time.Duration
	Duration    time.Duration
	Clip        time.Duration
	Action      string
	Placeholder bool
	Failure     string
}

// Store keeps run history in SQLite.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun records a run and its timeline. Saving the same run twice
// replaces the earlier record.
func (s *Store) SaveRun(ctx context.Context, r *pipeline.Result) error {
	if r == nil || r.Timeline == nil {
		return errors.New("run has no timeline")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_segments WHERE run_id = ?`, r.RunID); err != nil {
		return fmt.Errorf("clear segments: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, finished_at, total_us, segments, placeholders)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			created_at = excluded.created_at,
			finished_at = excluded.finished_at,
			total_us = excluded.total_us,
			segments = excluded.segments,
			placeholders = excluded.placeholders`,
		r.RunID,
		r.StartedAt.UnixMilli(),
		r.FinishedAt.UnixMilli(),
		micros(r.Timeline.Total),
		len(r.Timeline.Entries),
		r.Placeholders(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_segments (run_id, position, segment_id, offset_us, duration_us, clip_us, action, placeholder, failure)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range r.Timeline.Entries {
		seg := e.Segment
		_, err := stmt.ExecContext(ctx,
			r.RunID,
			e.Position,
			seg.SegmentID,
			micros(e.Offset),
			micros(seg.Duration),
			micros(seg.ClipDuration),
			string(seg.Action),
			seg.Placeholder,
			nullString(seg.FailureReason),
		)
		if err != nil {
			return fmt.Errorf("insert segment %q: %w", seg.SegmentID, err)
		}
	}

	return tx.Commit()
}

// SaveReport attaches a validation report to a recorded run.
func (s *Store) SaveReport(ctx context.Context, runID string, rep *validate.Report) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET report_passed = ?, report_p95_us = ?, report_max_us = ?
		WHERE id = ?`,
		rep.Passed, micros(rep.P95), micros(rep.Max), runID)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return nil
}

const runColumns = `id, created_at, finished_at, total_us, segments, placeholders, report_passed, report_p95_us, report_max_us`

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns a run and its segments in timeline order. A unique id
// prefix is accepted.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, []RunSegment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id LIKE ? ESCAPE '\' ORDER BY id LIMIT 2`,
		escapeLike(id)+"%")
	if err != nil {
		return nil, nil, fmt.Errorf("get run: %w", err)
	}

	var matches []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, nil, err
		}
		matches = append(matches, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	switch {
	case len(matches) == 0:
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case len(matches) > 1 && matches[0].ID != id:
		return nil, nil, fmt.Errorf("run id %q is ambiguous", id)
	}
	run := matches[0]

	segs, err := s.segments(ctx, run.ID)
	if err != nil {
		return nil, nil, err
	}
	return &run, segs, nil
}

func (s *Store) segments(ctx context.Context, runID string) ([]RunSegment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, segment_id, offset_us, duration_us, clip_us, action, placeholder, failure
		FROM run_segments WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("get segments: %w", err)
	}
	defer rows.Close()

	var out []RunSegment
	for rows.Next() {
		var (
			seg                    RunSegment
			offset, duration, clip int64
			failure                sql.NullString
		)
		if err := rows.Scan(&seg.Position, &seg.SegmentID, &offset, &duration, &clip, &seg.Action, &seg.Placeholder, &failure); err != nil {
			return nil, err
		}
		seg.Offset = fromMicros(offset)
		seg.Duration = fromMicros(duration)
		seg.Clip = fromMicros(clip)
		seg.Failure = failure.String
		out = append(out, seg)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r                 Run
		created, finished int64
		total             int64
		passed            sql.NullBool
		p95, worst        sql.NullInt64
	)
	if err := row.Scan(&r.ID, &created, &finished, &total, &r.Segments, &r.Placeholders, &passed, &p95, &worst); err != nil {
		return r, err
	}

	r.CreatedAt = time.UnixMilli(created)
	r.FinishedAt = time.UnixMilli(finished)
	r.Total = fromMicros(total)
	if passed.Valid {
		r.HasReport = true
		r.ReportPassed = passed.Bool
		r.ReportP95 = fromMicros(p95.Int64)
		r.ReportMax = fromMicros(worst.Int64)
	}
	return r, nil
}

// micros rounds d to whole microseconds for storage.
func micros(d time.Duration) int64 {
	return d.Round(time.Microsecond).Microseconds()
}

func fromMicros(us int64) time.Duration {
	return time.Duration(us) * time.Microsecond
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
