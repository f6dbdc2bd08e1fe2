package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Alias1177/PredictorPipeline/models"
	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// DB represents a database connection
type DB struct {
	*sql.DB
}

// ConnectionParams holds PostgreSQL connection parameters
type ConnectionParams struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN builds the lib/pq connection string. Empty values are left out so the
// driver defaults apply.
func (p ConnectionParams) DSN() string {
	pairs := []struct{ key, value string }{
		{"host", p.Host},
		{"port", p.Port},
		{"user", p.User},
		{"password", p.Password},
		{"dbname", p.DBName},
		{"sslmode", p.SSLMode},
	}
	parts := make([]string, 0, len(pairs))
	for _, kv := range pairs {
		if kv.value == "" {
			continue
		}
		parts = append(parts, kv.key+"="+quoteValue(kv.value))
	}
	return strings.Join(parts, " ")
}

func quoteValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// New opens a database connection, waiting for the server with exponential
// backoff, and creates the history tables.
func New(ctx context.Context, params ConnectionParams) (*DB, error) {
	db, err := sql.Open("postgres", params.DSN())
	if err != nil {
		return nil, err
	}

	backoffStrategy := backoff.NewExponentialBackOff()
	backoffStrategy.MaxElapsedTime = 30 * time.Second
	operation := func() error {
		if err := db.PingContext(ctx); err != nil {
			log.Warn().Err(err).Str("host", params.Host).Msg("Database not ready, retrying")
			return err
		}
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(backoffStrategy, ctx)); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := createTables(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db}, nil
}

// createTables creates the necessary tables if they don't exist
func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS pipeline_runs (
			id BIGSERIAL PRIMARY KEY,
			pipeline TEXT NOT NULL,
			config_hash TEXT NOT NULL,
			policy TEXT NOT NULL,
			end_date TEXT NOT NULL,
			status TEXT NOT NULL,
			ticker_count INT NOT NULL DEFAULT 0,
			failure_count INT NOT NULL DEFAULT 0,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating pipeline_runs: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS stage_invocations (
			id BIGSERIAL PRIMARY KEY,
			run_id BIGINT NOT NULL REFERENCES pipeline_runs(id) ON DELETE CASCADE,
			seq INT NOT NULL,
			stage TEXT NOT NULL,
			ticker TEXT,
			argv TEXT NOT NULL,
			status TEXT NOT NULL,
			exit_code INT NOT NULL,
			error TEXT,
			started_at TIMESTAMP NOT NULL,
			duration_ms BIGINT NOT NULL,
			UNIQUE (run_id, seq)
		)
	`)
	if err != nil {
		return fmt.Errorf("creating stage_invocations: %w", err)
	}
	return nil
}

// StartRun inserts a run row and returns its id
func (db *DB) StartRun(ctx context.Context, report *models.RunReport) (int64, error) {
	var id int64
	err := db.QueryRowContext(ctx, `
		INSERT INTO pipeline_runs (pipeline, config_hash, policy, end_date, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, report.Pipeline, report.ConfigHash, report.Policy, report.EndDate, report.Status, report.StartedAt).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// RecordOutcome stores one stage invocation of a run
func (db *DB) RecordOutcome(ctx context.Context, runID int64, seq int, o models.StageOutcome) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO stage_invocations (
			run_id, seq, stage, ticker, argv, status, exit_code, error, started_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		runID, seq, o.Invocation.Stage, nullString(o.Invocation.Ticker), strings.Join(o.Invocation.Argv(), " "),
		o.Status, o.ExitCode, nullString(o.Error), o.StartedAt, o.Duration.Milliseconds())
	return err
}

// FinishRun stores the final status of a run
func (db *DB) FinishRun(ctx context.Context, report *models.RunReport) error {
	_, err := db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET status = $1, ticker_count = $2, failure_count = $3, finished_at = $4
		WHERE id = $5
	`, report.Status, len(report.Tickers), report.FailureCount, report.FinishedAt, report.RunID)
	return err
}

// ListRuns returns the most recent runs first
func (db *DB) ListRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, pipeline, config_hash, policy, end_date, status,
			ticker_count, failure_count, started_at, finished_at
		FROM pipeline_runs
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetRun retrieves a run with its invocations. A missing run returns nil, nil, nil.
func (db *DB) GetRun(ctx context.Context, id int64) (*models.RunSummary, []models.InvocationRecord, error) {
	run, err := scanRun(db.QueryRowContext(ctx, `
		SELECT id, pipeline, config_hash, policy, end_date, status,
			ticker_count, failure_count, started_at, finished_at
		FROM pipeline_runs
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil // No run found
		}
		return nil, nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, run_id, seq, stage, ticker, argv, status, exit_code, error, started_at, duration_ms
		FROM stage_invocations
		WHERE run_id = $1
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var records []models.InvocationRecord
	for rows.Next() {
		var rec models.InvocationRecord
		var ticker, errText sql.NullString
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Seq, &rec.Stage, &ticker, &rec.Argv,
			&rec.Status, &rec.ExitCode, &errText, &rec.StartedAt, &rec.DurationMS); err != nil {
			return nil, nil, err
		}
		if ticker.Valid {
			rec.Ticker = ticker.String
		}
		if errText.Valid {
			rec.Error = errText.String
		}
		records = append(records, rec)
	}
	return run, records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.RunSummary, error) {
	var run models.RunSummary
	var finished sql.NullTime
	if err := row.Scan(&run.ID, &run.Pipeline, &run.ConfigHash, &run.Policy, &run.EndDate, &run.Status,
		&run.TickerCount, &run.FailureCount, &run.StartedAt, &finished); err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
