// Package tracestore records simulation runs and their per-step
// configurations in a SQLite database.
package tracestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/daniacca/membranedb/internal/psystem"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	system        TEXT NOT NULL,
	model         TEXT NOT NULL DEFAULT '',
	policy        TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL DEFAULT '',
	max_steps     INTEGER NOT NULL,
	steps         INTEGER NOT NULL,
	halted        INTEGER NOT NULL,
	system_config BLOB NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS steps (
	run_id   TEXT NOT NULL REFERENCES runs(id),
	step     INTEGER NOT NULL,
	snapshot BLOB NOT NULL,
	PRIMARY KEY (run_id, step)
);`

// Run is the summary row of one recorded simulation.
type Run struct {
	ID        string    `json:"id"`
	System    string    `json:"system"`
	Model     string    `json:"model,omitempty"`
	Policy    string    `json:"policy,omitempty"`
	Source    string    `json:"source,omitempty"`
	MaxSteps  int       `json:"max_steps"`
	Steps     int       `json:"steps"`
	Halted    bool      `json:"halted"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordOptions carries run metadata that is not part of the result.
type RecordOptions struct {
	Policy   psystem.DissolutionPolicy
	MaxSteps int
	Source   string // e.g. the .pli path or environment id
}

// Store is a SQLite-backed run log.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "membranedb-traces.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &Store{db: db, path: path, now: time.Now}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores result under a fresh run id. With a trace every
// configuration is kept; otherwise only the final one.
func (s *Store) Record(ctx context.Context, sys *psystem.System, result psystem.SimulationResult, opts RecordOptions) (_ Run, retErr error) {
	cfgJSON, err := json.Marshal(psystem.ConfigFromSystem(sys))
	if err != nil {
		return Run{}, fmt.Errorf("encode system: %w", err)
	}

	run := Run{
		ID:        psystem.NewRandomID(),
		System:    sys.Name(),
		Model:     sys.Model(),
		Policy:    opts.Policy.String(),
		Source:    opts.Source,
		MaxSteps:  opts.MaxSteps,
		Steps:     result.Steps,
		Halted:    result.Halted,
		CreatedAt: s.now().UTC(),
	}

	configs := result.Trace
	if len(configs) == 0 {
		configs = []psystem.Configuration{result.Final}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, system, model, policy, source, max_steps, steps, halted, system_config, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.System, run.Model, run.Policy, run.Source, run.MaxSteps, run.Steps, run.Halted,
		cfgJSON, run.CreatedAt.UnixMilli()); err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO steps (run_id, step, snapshot) VALUES (?, ?, ?)`)
	if err != nil {
		return Run{}, fmt.Errorf("prepare steps: %w", err)
	}
	defer stmt.Close()

	for _, cfg := range configs {
		data, err := psystem.EncodeSnapshotJSON(psystem.SnapshotFromConfiguration(psystem.EnvironmentID(run.ID), sys, cfg))
		if err != nil {
			return Run{}, fmt.Errorf("encode step %d: %w", cfg.Step(), err)
		}
		if _, err := stmt.ExecContext(ctx, run.ID, cfg.Step(), data); err != nil {
			return Run{}, fmt.Errorf("insert step %d: %w", cfg.Step(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("commit: %w", err)
	}
	return run, nil
}

const runColumns = `id, system, model, policy, source, max_steps, steps, halted, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var r Run
	var created int64
	if err := row.Scan(&r.ID, &r.System, &r.Model, &r.Policy, &r.Source, &r.MaxSteps, &r.Steps, &r.Halted, &created); err != nil {
		return Run{}, err
	}
	r.CreatedAt = time.UnixMilli(created).UTC()
	return r, nil
}

// ListRuns returns all runs, oldest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns the run summary for id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}
	return r, err
}

// System rebuilds the system a run was recorded with.
func (s *Store) System(ctx context.Context, id string) (*psystem.System, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT system_config FROM runs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}
	var cfg psystem.SystemConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode system: %w", err)
	}
	return psystem.BuildSystemFromConfig(cfg)
}

// Steps returns the stored snapshots of a run in step order.
func (s *Store) Steps(ctx context.Context, id string) ([]psystem.Snapshot, error) {
	if _, err := s.GetRun(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT snapshot FROM steps WHERE run_id = ? ORDER BY step`, id)
	if err != nil {
		return nil, fmt.Errorf("select steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snaps []psystem.Snapshot
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		snap, err := psystem.DecodeSnapshotJSON(data)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// Trace rebuilds the recorded configurations of a run.
func (s *Store) Trace(ctx context.Context, id string) (*psystem.System, []psystem.Configuration, error) {
	sys, err := s.System(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	snaps, err := s.Steps(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	configs := make([]psystem.Configuration, 0, len(snaps))
	for _, snap := range snaps {
		cfg, err := psystem.RestoreConfiguration(snap, sys)
		if err != nil {
			return nil, nil, fmt.Errorf("step %d: %w", snap.Step, err)
		}
		configs = append(configs, cfg)
	}
	return sys, configs, nil
}

// DeleteRun removes a run and its steps.
func (s *Store) DeleteRun(ctx context.Context, id string) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("delete steps: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}
	return tx.Commit()
}
