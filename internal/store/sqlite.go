package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/framesched/pkg/model"

	_ "modernc.org/sqlite"
)

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// Every connection to ":memory:" is its own database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, host, workers, frame_delay, started_at, stopped_at, cycles)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Host, run.Workers, int64(run.FrameDelay),
		run.StartedAt.UTC().Format(timeFormat), formatTimePtr(run.StoppedAt), int64(run.Cycles),
	)
	return err
}

func (s *SQLiteStore) FinishRun(ctx context.Context, id string, stoppedAt time.Time, cycles uint64) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET stopped_at = ?, cycles = ? WHERE id = ?`,
		stoppedAt.UTC().Format(timeFormat), int64(cycles), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

const runColumns = `id, host, workers, frame_delay, started_at, stopped_at, cycles,
	(SELECT COUNT(*) FROM cycle_samples WHERE run_id = runs.id)`

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)

	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

// --- Cycle samples ---

// RecordSamples inserts samples for a run in one transaction. A sample for
// a cycle already recorded replaces the earlier one.
func (s *SQLiteStore) RecordSamples(ctx context.Context, runID string, samples []model.CycleSample) error {
	if len(samples) == 0 {
		return nil
	}
	s.logger.Debug("sql", "op", "insert", "table", "cycle_samples", "run_id", runID, "count", len(samples))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO cycle_samples (run_id, cycle, delta, exec, frame_delay, recorded_at, overrun)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, cs := range samples {
		overrun := 0
		if cs.Overrun() {
			overrun = 1
		}
		if _, err := stmt.ExecContext(ctx, runID, int64(cs.Cycle), int64(cs.Delta), int64(cs.Exec), int64(cs.FrameDelay),
			cs.At.UTC().Format(timeFormat), overrun); err != nil {
			return fmt.Errorf("insert sample %d: %w", cs.Cycle, err)
		}
	}
	return tx.Commit()
}

// ListSamples returns a run's newest samples, oldest first.
func (s *SQLiteStore) ListSamples(ctx context.Context, runID string, opts model.ListOptions) ([]model.CycleSample, error) {
	s.logger.Debug("sql", "op", "list", "table", "cycle_samples", "run_id", runID, "limit", opts.Limit)
	opts.Clamp()

	rows, err := s.db.QueryContext(ctx,
		`SELECT cycle, delta, exec, frame_delay, recorded_at FROM (
			SELECT cycle, delta, exec, frame_delay, recorded_at FROM cycle_samples
			WHERE run_id = ? ORDER BY cycle DESC LIMIT ? OFFSET ?
		 ) ORDER BY cycle ASC`,
		runID, opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []model.CycleSample
	for rows.Next() {
		var cs model.CycleSample
		var cycle, delta, exec, frame int64
		var recordedAt string
		if err := rows.Scan(&cycle, &delta, &exec, &frame, &recordedAt); err != nil {
			return nil, err
		}
		cs.Cycle = uint64(cycle)
		cs.Delta = time.Duration(delta)
		cs.Exec = time.Duration(exec)
		cs.FrameDelay = time.Duration(frame)
		cs.Rate = model.RateOf(cs.Delta)
		cs.At, _ = time.Parse(timeFormat, recordedAt)
		samples = append(samples, cs)
	}
	return samples, rows.Err()
}

// --- helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.Run, error) {
	var run model.Run
	var frame, cycles int64
	var startedAt string
	var stoppedAt sql.NullString
	if err := row.Scan(&run.ID, &run.Host, &run.Workers, &frame, &startedAt, &stoppedAt, &cycles, &run.SampleCount); err != nil {
		return nil, err
	}
	run.FrameDelay = time.Duration(frame)
	run.Cycles = uint64(cycles)
	run.StartedAt, _ = time.Parse(timeFormat, startedAt)
	if stoppedAt.Valid {
		t, err := time.Parse(timeFormat, stoppedAt.String)
		if err == nil {
			run.StoppedAt = &t
		}
	}
	return &run, nil
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeFormat)
}
