package mlwatch

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	_ "modernc.org/sqlite"
)

// MetricRow is one persisted final metric of one run. UpperBound and
// LowerBound carry the alerting bounds computed for the metric, when any.
type MetricRow struct {
	TestName   string
	MetricName string
	Value      float64
	Timestamp  time.Time
	LogsLink   string
	UpperBound *float64
	LowerBound *float64
}

// MetricStore is the persistence gateway for final metrics. History reads
// are independent of the current run's write: a failed append must not
// prevent regression analysis over prior runs.
type MetricStore interface {
	// EnsureTable creates the sink table if it does not exist yet.
	EnsureTable(ctx context.Context) error

	// Append writes the rows of one run as a single batch. It either
	// persists all rows or none.
	Append(ctx context.Context, rows []MetricRow) error

	// History returns all persisted points of a test, keyed by metric name,
	// in insertion order.
	History(ctx context.Context, testName string) (History, error)
}

// SQLiteStoreConfig configures the SQLite-backed metric store.
type SQLiteStoreConfig struct {
	// Path is the database file. ":memory:" gives an ephemeral store.
	Path string

	// Dataset and Table name the sink table; they are joined with an
	// underscore to form the SQLite table name.
	Dataset string
	Table   string

	// MaxRetries enables retrying the batch insert when greater than zero.
	// The insert runs in one transaction, so a retry never half-applies.
	MaxRetries int
}

// SQLiteStore persists final metrics to a SQLite database, one row per
// metric per run.
type SQLiteStore struct {
	db      *sql.DB
	table   string
	retryer *Retryer
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NewSQLiteStore opens (creating if needed) the database file and prepares
// the store. Call Close when done.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store path is required: %w", ErrConfig)
	}
	if cfg.Dataset == "" || cfg.Table == "" {
		return nil, fmt.Errorf("dataset and table names are required: %w", ErrConfig)
	}
	table := cfg.Dataset + "_" + cfg.Table
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("bad table name %q: %w", table, ErrConfig)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Path, err)
	}
	// The pipeline is single-threaded; one connection avoids SQLITE_BUSY
	// between the schema and insert statements.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	store := &SQLiteStore{db: db, table: table}
	if cfg.MaxRetries > 0 {
		retryCfg := DefaultRetryConfig()
		retryCfg.MaxAttempts = cfg.MaxRetries + 1
		store.retryer = NewRetryer(retryCfg)
	}
	return store, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// EnsureTable creates the sink table if it does not exist yet.
func (s *SQLiteStore) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		test_name          TEXT NOT NULL,
		metric_name        TEXT NOT NULL,
		metric_value       REAL NOT NULL,
		timestamp          INTEGER NOT NULL,
		logs_link          TEXT NOT NULL,
		metric_upper_bound REAL,
		metric_lower_bound REAL
	)`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return &PersistenceError{Table: s.table, Cause: err}
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_%s_test ON %s (test_name)", s.table, s.table)); err != nil {
		return &PersistenceError{Table: s.table, Cause: err}
	}
	return nil
}

// Append writes the rows of one run inside a single transaction.
func (s *SQLiteStore) Append(ctx context.Context, rows []MetricRow) error {
	if len(rows) == 0 {
		return nil
	}
	if s.retryer == nil {
		return s.appendOnce(ctx, rows)
	}
	return s.retryer.Do(ctx, func() error {
		return s.appendOnce(ctx, rows)
	})
}

func (s *SQLiteStore) appendOnce(ctx context.Context, rows []MetricRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Table: s.table, Rows: len(rows), Cause: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (test_name, metric_name, metric_value, timestamp, logs_link,
			metric_upper_bound, metric_lower_bound) VALUES (?, ?, ?, ?, ?, ?, ?)`, s.table))
	if err != nil {
		return &PersistenceError{Table: s.table, Rows: len(rows), Cause: err}
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.TestName, row.MetricName, row.Value,
			row.Timestamp.Unix(), row.LogsLink, row.UpperBound, row.LowerBound); err != nil {
			return &PersistenceError{Table: s.table, Rows: len(rows), Cause: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Table: s.table, Rows: len(rows), Cause: err}
	}
	return nil
}

// History returns the persisted points of a test keyed by metric name. Rows
// of other tests are filtered out by the query; rows that fail to scan are
// skipped with a log line rather than aborting the read.
func (s *SQLiteStore) History(ctx context.Context, testName string) (History, error) {
	query := fmt.Sprintf(
		`SELECT metric_name, metric_value, timestamp FROM %s
		 WHERE test_name = ? ORDER BY rowid`, s.table)
	rows, err := s.db.QueryContext(ctx, query, testName)
	if err != nil {
		return nil, &PersistenceError{Table: s.table, Cause: err}
	}
	defer rows.Close()

	history := make(History)
	for rows.Next() {
		var name string
		var value float64
		var ts int64
		if err := rows.Scan(&name, &value, &ts); err != nil {
			slog.Error("skipping unreadable history row", "table", s.table, "error", err)
			continue
		}
		history[name] = append(history[name], MetricPoint{Value: value, WallTime: float64(ts)})
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Table: s.table, Cause: err}
	}
	return history, nil
}
