package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS check_results(
	run_id        TEXT NOT NULL,
	execution_id  TEXT NOT NULL PRIMARY KEY,
	service_key   TEXT NOT NULL,
	checker_class TEXT NOT NULL,
	check_key     TEXT NOT NULL,
	status        TEXT NOT NULL,
	observed_at   TEXT NOT NULL,
	latency_ms    INTEGER,
	http_status   INTEGER,
	error_code    TEXT,
	error_message TEXT,
	metadata_json TEXT NOT NULL,
	ingested_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_check_results_run ON check_results(run_id);
CREATE INDEX IF NOT EXISTS idx_check_results_service ON check_results(service_key, observed_at);
`

// SQLiteSink persists rows to a local database file. Each batch is written
// in one transaction so a failure never leaves a partial batch behind.
type SQLiteSink struct {
	db *sql.DB
}

func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite sink path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sink directory: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite sink: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite sink: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) WriteRows(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &WriteError{Sink: "sqlite", Err: err}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO check_results(
		run_id, execution_id, service_key, checker_class, check_key, status,
		observed_at, latency_ms, http_status, error_code, error_message,
		metadata_json, ingested_at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		_ = tx.Rollback()
		return &WriteError{Sink: "sqlite", Err: err}
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.ExecContext(ctx,
			row.RunID, row.ExecutionID, row.ServiceKey, row.CheckerClass,
			row.CheckKey, string(row.Status),
			row.ObservedAt.UTC().Format(time.RFC3339Nano),
			nullableInt64(row.LatencyMS), nullableInt(row.HTTPStatus),
			row.ErrorCode, row.ErrorMessage, row.MetadataJSON,
			row.IngestedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			_ = tx.Rollback()
			return &WriteError{Sink: "sqlite", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &WriteError{Sink: "sqlite", Err: err}
	}
	return nil
}

func (s *SQLiteSink) Close() error { return s.db.Close() }

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
