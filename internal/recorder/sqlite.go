package recorder

import (
	"database/sql"
	"fmt"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"SpotBridge/internal/model"
)

// SQLiteRecorder persists cycle outcomes to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log *zap.SugaredLogger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, log *zap.SugaredLogger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL so the journal can be inspected while the service writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, log: log}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Infow("sqlite recorder opened", "path", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sync_cycles (
			id            TEXT PRIMARY KEY,
			trigger_type  TEXT NOT NULL,
			started_at    INTEGER NOT NULL,
			finished_at   INTEGER,
			records       INTEGER,
			has_rate      INTEGER,
			percentile_x  REAL,
			percentile_y  REAL,
			written       INTEGER,
			failed        INTEGER,
			unavailable   INTEGER,
			error         TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_started ON sync_cycles(started_at)`,

		`CREATE TABLE IF NOT EXISTS register_writes (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id  TEXT NOT NULL REFERENCES sync_cycles(id),
			metric    TEXT NOT NULL,
			address   INTEGER NOT NULL,
			value     REAL,
			raw       INTEGER,
			status    TEXT NOT NULL,
			error     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_writes_cycle ON register_writes(cycle_id)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func errText(err error) sql.NullString {
	if err == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: err.Error(), Valid: true}
}

func (r *SQLiteRecorder) RecordCycle(rep *model.CycleReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		records int
		hasRate bool
		x, y    sql.NullFloat64
	)
	if rep.Series != nil {
		records = len(rep.Series.Records)
		hasRate = rep.Series.HasRate()
	}
	if rep.Stats != nil {
		x = sql.NullFloat64{Float64: rep.Stats.Params.X, Valid: true}
		y = sql.NullFloat64{Float64: rep.Stats.Params.Y, Valid: true}
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO sync_cycles
		(id, trigger_type, started_at, finished_at, records, has_rate,
		 percentile_x, percentile_y, written, failed, unavailable, error)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		rep.ID.String(), string(rep.Trigger), rep.StartedAt.Unix(), rep.FinishedAt.Unix(),
		records, hasRate, x, y,
		rep.Succeeded(), rep.Failed(), rep.Unavailable(), errText(rep.Err),
	)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}

	for _, w := range rep.Writes {
		var v sql.NullFloat64
		if w.Value != nil {
			v = sql.NullFloat64{Float64: *w.Value, Valid: true}
		}
		_, err := tx.Exec(`INSERT INTO register_writes
			(cycle_id, metric, address, value, raw, status, error)
			VALUES (?,?,?,?,?,?,?)`,
			rep.ID.String(), string(w.Metric), int(w.Address), v, int(w.Raw), string(w.Status), errText(w.Err),
		)
		if err != nil {
			return fmt.Errorf("insert register write: %w", err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRecorder) Close() error {
	r.log.Info("closing sqlite recorder")
	return r.db.Close()
}
