// Package persistence records simulation runs in SQLite: one row per run,
// per-tick engine metrics and the committed event stream.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/progression/internal/engine"
)

// DB wraps a SQLite connection for run data.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		seed INTEGER NOT NULL,
		config_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tick_metrics (
		run_id TEXT NOT NULL,
		engine TEXT NOT NULL,
		tick INTEGER NOT NULL,
		processed INTEGER NOT NULL,
		skipped_paused INTEGER NOT NULL,
		skipped_conditions INTEGER NOT NULL,
		skipped_hook INTEGER NOT NULL,
		newly_terminal INTEGER NOT NULL,
		events INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL,
		total_delta REAL NOT NULL,
		PRIMARY KEY (run_id, engine, tick)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		engine TEXT NOT NULL,
		seq INTEGER NOT NULL,
		tick INTEGER NOT NULL,
		handle TEXT NOT NULL,
		old REAL NOT NULL,
		new REAL NOT NULL,
		delta REAL NOT NULL,
		status_changed INTEGER NOT NULL,
		band TEXT NOT NULL,
		source TEXT NOT NULL,
		costs_json TEXT NOT NULL,
		at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_run_engine ON events(run_id, engine, seq);
	CREATE INDEX IF NOT EXISTS idx_events_handle ON events(run_id, handle);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Run is one recorded simulation run.
type Run struct {
	ID        string `db:"id" json:"id"`
	StartedAt string `db:"started_at" json:"started_at"`
	Seed      int64  `db:"seed" json:"seed"`
	Config    string `db:"config_json" json:"config"`
}

// StartRun registers a new run and returns it. cfg is stored as JSON.
func (db *DB) StartRun(ctx context.Context, seed int64, cfg any) (Run, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return Run{}, fmt.Errorf("encode run config: %w", err)
	}
	run := Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC().Format(time.RFC3339),
		Seed:      seed,
		Config:    string(cfgJSON),
	}
	_, err = db.conn.NamedExecContext(ctx,
		"INSERT INTO runs (id, started_at, seed, config_json) VALUES (:id, :started_at, :seed, :config_json)", run)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	slog.Info("run started", "run_id", run.ID, "seed", seed)
	return run, nil
}

// Runs returns the most recent runs, newest first.
func (db *DB) Runs(ctx context.Context, limit int) ([]Run, error) {
	var runs []Run
	err := db.conn.SelectContext(ctx, &runs,
		"SELECT id, started_at, seed, config_json FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?", limit)
	return runs, err
}

// MetricsRow is one persisted tick summary.
type MetricsRow struct {
	Engine            string  `db:"engine" json:"engine"`
	Tick              int64   `db:"tick" json:"tick"`
	Processed         int     `db:"processed" json:"processed"`
	SkippedPaused     int     `db:"skipped_paused" json:"skipped_paused"`
	SkippedConditions int     `db:"skipped_conditions" json:"skipped_conditions"`
	SkippedHook       int     `db:"skipped_hook" json:"skipped_hook"`
	NewlyTerminal     int     `db:"newly_terminal" json:"newly_terminal"`
	Events            int     `db:"events" json:"events"`
	DurationNS        int64   `db:"duration_ns" json:"duration_ns"`
	TotalDelta        float64 `db:"total_delta" json:"total_delta"`
}

// SaveMetrics appends tick metrics for one engine. Ticks already stored are replaced.
func (db *DB) SaveMetrics(ctx context.Context, runID, engineName string, ms []engine.Metrics) error {
	if len(ms) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `INSERT OR REPLACE INTO tick_metrics
		(run_id, engine, tick, processed, skipped_paused, skipped_conditions, skipped_hook,
		 newly_terminal, events, duration_ns, total_delta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range ms {
		_, err := stmt.ExecContext(ctx,
			runID, engineName, int64(m.Tick), m.Processed, m.SkippedPaused, m.SkippedConditions,
			m.SkippedHook, m.NewlyTerminal, m.Events, m.Duration.Nanoseconds(), m.TotalDelta,
		)
		if err != nil {
			return fmt.Errorf("insert metrics tick %d: %w", m.Tick, err)
		}
	}

	return tx.Commit()
}

// MetricsHistory returns up to limit tick summaries for an engine, oldest first.
func (db *DB) MetricsHistory(ctx context.Context, runID, engineName string, limit int) ([]MetricsRow, error) {
	var rows []MetricsRow
	err := db.conn.SelectContext(ctx, &rows, `
		SELECT * FROM (
			SELECT engine, tick, processed, skipped_paused, skipped_conditions, skipped_hook,
			       newly_terminal, events, duration_ns, total_delta
			FROM tick_metrics WHERE run_id = ? AND engine = ?
			ORDER BY tick DESC LIMIT ?
		) ORDER BY tick ASC`,
		runID, engineName, limit,
	)
	return rows, err
}

// EventRow is one persisted engine event.
type EventRow struct {
	Engine        string  `db:"engine" json:"engine"`
	Seq           int64   `db:"seq" json:"seq"`
	Tick          int64   `db:"tick" json:"tick"`
	Handle        string  `db:"handle" json:"handle"`
	Old           float64 `db:"old" json:"old"`
	New           float64 `db:"new" json:"new"`
	Delta         float64 `db:"delta" json:"delta"`
	StatusChanged bool    `db:"status_changed" json:"status_changed"`
	Band          string  `db:"band" json:"band"`
	Source        string  `db:"source" json:"source"`
	CostsJSON     string  `db:"costs_json" json:"-"`
	At            string  `db:"at" json:"at"`
}

// Costs decodes the stored resource costs.
func (r EventRow) Costs() ([]engine.Cost, error) {
	var costs []engine.Cost
	if r.CostsJSON == "" || r.CostsJSON == "null" {
		return nil, nil
	}
	err := json.Unmarshal([]byte(r.CostsJSON), &costs)
	return costs, err
}

// SaveEvents appends events for one engine.
func (db *DB) SaveEvents(ctx context.Context, runID, engineName string, events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO events
		(run_id, engine, seq, tick, handle, old, new, delta, status_changed, band, source, costs_json, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		costsJSON, err := json.Marshal(e.Costs)
		if err != nil {
			return fmt.Errorf("encode costs for event %d: %w", e.Seq, err)
		}
		changed := 0
		if e.StatusChanged {
			changed = 1
		}
		_, err = stmt.ExecContext(ctx,
			runID, engineName, int64(e.Seq), int64(e.Tick), e.Handle.String(),
			e.Old, e.New, e.Delta, changed, e.Band, e.Source,
			string(costsJSON), e.At.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("insert event %d: %w", e.Seq, err)
		}
	}

	return tx.Commit()
}

// RecentEvents returns the most recent limit events of an engine, newest first.
// An empty engine name matches every engine of the run.
func (db *DB) RecentEvents(ctx context.Context, runID, engineName string, limit int) ([]EventRow, error) {
	var events []EventRow
	err := db.conn.SelectContext(ctx, &events, `
		SELECT engine, seq, tick, handle, old, new, delta, status_changed, band, source, costs_json, at
		FROM events
		WHERE run_id = ? AND (? = '' OR engine = ?)
		ORDER BY id DESC LIMIT ?`,
		runID, engineName, engineName, limit,
	)
	return events, err
}

// EntityHistory returns every stored event of one entity, oldest first.
func (db *DB) EntityHistory(ctx context.Context, runID, engineName string, h engine.Handle) ([]EventRow, error) {
	var events []EventRow
	err := db.conn.SelectContext(ctx, &events, `
		SELECT engine, seq, tick, handle, old, new, delta, status_changed, band, source, costs_json, at
		FROM events
		WHERE run_id = ? AND engine = ? AND handle = ?
		ORDER BY id ASC`,
		runID, engineName, h.String(),
	)
	return events, err
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO run_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.GetContext(ctx, &value, "SELECT value FROM run_meta WHERE key = ?", key)
	return value, err
}
