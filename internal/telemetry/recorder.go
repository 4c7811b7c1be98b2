// Package telemetry persists per-frame pipeline output — issued commands and
// observed speeds — to a sqlite database, one run per pipeline session. The
// recorder is optional: the pipeline runs identically without it, and the
// speed-report tool reads the database offline.
package telemetry

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/trafficmgr/internal/monitoring"
	"github.com/banshee-data/trafficmgr/internal/sim"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Recorder writes pipeline telemetry for one run.
type Recorder struct {
	mu    sync.Mutex
	db    *sql.DB
	runID string
}

// Open opens (creating if needed) the telemetry database at path, applies
// pending schema migrations and starts a new run.
func Open(path string, startedAt time.Time) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	runID := uuid.NewString()
	if _, err := db.Exec("INSERT INTO runs (run_id, started_at) VALUES (?, ?)", runID, startedAt); err != nil {
		db.Close()
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return &Recorder{db: db, runID: runID}, nil
}

// OpenForReading opens an existing telemetry database without starting a
// run. Used by the report tooling.
func OpenForReading(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}
	return &Recorder{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// Not closing m: that would close the underlying DB connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// RunID returns the id of the run this recorder writes to. Empty for a
// read-only recorder.
func (r *Recorder) RunID() string { return r.runID }

// Close closes the database.
func (r *Recorder) Close() error { return r.db.Close() }

// RecordBatch persists one applied batch. The signature matches the
// pipeline's RecordFunc hook; failures are logged, never surfaced into the
// control loop.
func (r *Recorder) RecordBatch(frame uint64, issuedAt time.Time, commands []sim.ActorCommand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, err := r.db.Begin()
	if err != nil {
		monitoring.Logf("[telemetry] begin batch tx: %v", err)
		return
	}
	for _, c := range commands {
		if _, err := tx.Exec(
			"INSERT INTO commands (run_id, frame, actor_id, throttle, steer, brake, issued_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			r.runID, frame, int64(c.ID), c.Throttle, c.Steer, c.Brake, issuedAt,
		); err != nil {
			monitoring.Logf("[telemetry] record command: %v", err)
			tx.Rollback()
			return
		}
	}
	if err := tx.Commit(); err != nil {
		monitoring.Logf("[telemetry] commit batch: %v", err)
	}
}

// RecordSpeed persists one observed speed sample.
func (r *Recorder) RecordSpeed(actor sim.ActorID, at time.Time, speedMPS float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.Exec(
		"INSERT INTO speed_observations (run_id, actor_id, observed_at, speed_mps) VALUES (?, ?, ?, ?)",
		r.runID, int64(actor), at, speedMPS,
	)
	if err != nil {
		return fmt.Errorf("record speed: %w", err)
	}
	return nil
}

// RunInfo describes one recorded run.
type RunInfo struct {
	RunID     string
	StartedAt time.Time
}

// Runs lists recorded runs, newest first.
func (r *Recorder) Runs() ([]RunInfo, error) {
	rows, err := r.db.Query("SELECT run_id, started_at FROM runs ORDER BY started_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []RunInfo
	for rows.Next() {
		var ri RunInfo
		if err := rows.Scan(&ri.RunID, &ri.StartedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, ri)
	}
	return out, rows.Err()
}

// SpeedSample is one observed speed for one actor.
type SpeedSample struct {
	At       time.Time
	SpeedMPS float64
}

// SpeedSeries returns each actor's speed samples for a run, in time order.
func (r *Recorder) SpeedSeries(runID string) (map[sim.ActorID][]SpeedSample, error) {
	rows, err := r.db.Query(
		"SELECT actor_id, observed_at, speed_mps FROM speed_observations WHERE run_id = ? ORDER BY observed_at",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query speed series: %w", err)
	}
	defer rows.Close()
	out := make(map[sim.ActorID][]SpeedSample)
	for rows.Next() {
		var actor int64
		var s SpeedSample
		if err := rows.Scan(&actor, &s.At, &s.SpeedMPS); err != nil {
			return nil, fmt.Errorf("scan speed sample: %w", err)
		}
		out[sim.ActorID(actor)] = append(out[sim.ActorID(actor)], s)
	}
	return out, rows.Err()
}

// BatchCount returns how many distinct frames were applied during a run.
func (r *Recorder) BatchCount(runID string) (int, error) {
	var n int
	err := r.db.QueryRow(
		"SELECT COUNT(DISTINCT frame) FROM commands WHERE run_id = ?", runID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count batches: %w", err)
	}
	return n, nil
}
