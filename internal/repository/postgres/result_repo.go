package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres

	"github.com/xela07ax/podtato-smoke/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS smoke_results (
	id          UUID PRIMARY KEY,
	run_id      TEXT NOT NULL,
	vu          INTEGER NOT NULL,
	iteration   BIGINT NOT NULL,
	url         TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	success     BOOLEAN NOT NULL,
	kind        TEXT NOT NULL,
	error       TEXT NOT NULL,
	duration_ms DOUBLE PRECISION NOT NULL,
	responded   BOOLEAN NOT NULL,
	timestamp   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS smoke_results_run_id_idx ON smoke_results (run_id, timestamp);
`

// Количество колонок в таблице smoke_results
const numFields = 12

type ResultRepo struct {
	db *sql.DB
}

// NewResultRepo открывает пул соединений. Доступность проверяется через Ping.
func NewResultRepo(connString string, maxConns int) (*ResultRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &ResultRepo{db: db}, nil
}

// NewResultRepoFromDB использует готовый *sql.DB (тесты, общий пул).
func NewResultRepoFromDB(db *sql.DB) *ResultRepo {
	return &ResultRepo{db: db}
}

// Ping проверяет доступность базы при старте
func (r *ResultRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *ResultRepo) Close() error {
	return r.db.Close()
}

// EnsureSchema создает таблицу результатов, если ее нет.
func (r *ResultRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

// WriteBatch сохраняет пачку наблюдений одним INSERT.
func (r *ResultRepo) WriteBatch(ctx context.Context, batch []domain.Observation) error {
	if len(batch) == 0 {
		return nil
	}

	var placeholders strings.Builder
	vals := make([]interface{}, 0, len(batch)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, o := range batch {
		p := i * numFields
		if i > 0 {
			placeholders.WriteString(",")
		}
		placeholders.WriteString("(")
		for f := 1; f <= numFields; f++ {
			if f > 1 {
				placeholders.WriteString(", ")
			}
			fmt.Fprintf(&placeholders, "$%d", p+f)
		}
		placeholders.WriteString(")")

		vals = append(vals,
			o.ID, o.RunID, o.VU, o.Iteration, o.URL, o.StatusCode, o.Success,
			string(o.Kind), o.Error, o.DurationMs(), o.Responded, o.Timestamp,
		)
	}

	query := "INSERT INTO smoke_results (id, run_id, vu, iteration, url, status_code, success, kind, error, duration_ms, responded, timestamp) VALUES " +
		placeholders.String()

	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: insert %d results: %w", len(batch), err)
	}
	return nil
}

// LoadObservations отдает наблюдения прогона в порядке записи через fn.
func (r *ResultRepo) LoadObservations(ctx context.Context, runID string, fn func(domain.Observation)) (int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, vu, iteration, url, status_code, success, kind, error, duration_ms, responded, timestamp
		FROM smoke_results
		WHERE run_id = $1
		ORDER BY timestamp`, runID)
	if err != nil {
		return 0, fmt.Errorf("postgres: load results: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		o := domain.Observation{RunID: runID}
		var kind string
		var durationMs float64
		if err := rows.Scan(&o.ID, &o.VU, &o.Iteration, &o.URL, &o.StatusCode, &o.Success,
			&kind, &o.Error, &durationMs, &o.Responded, &o.Timestamp); err != nil {
			return n, fmt.Errorf("postgres: scan result: %w", err)
		}
		o.Kind = domain.FailureKind(kind)
		o.Duration = time.Duration(durationMs * float64(time.Millisecond))
		fn(o)
		n++
	}
	return n, rows.Err()
}

// RunInfo - краткая сводка по сохраненному прогону.
type RunInfo struct {
	RunID      string    `json:"run_id"`
	URL        string    `json:"url"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
	Iterations int64     `json:"iterations"`
	Errors     int64     `json:"errors"`
	P95Ms      float64   `json:"p95_ms"`
}

// ListRuns возвращает последние прогоны. P95 считаем честно через PERCENTILE_CONT.
func (r *ResultRepo) ListRuns(ctx context.Context, limit int) ([]RunInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			run_id,
			MIN(url),
			MIN(timestamp),
			MAX(timestamp),
			COUNT(*),
			COUNT(*) FILTER (WHERE NOT success),
			COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY duration_ms) FILTER (WHERE responded), 0)
		FROM smoke_results
		GROUP BY run_id
		ORDER BY MIN(timestamp) DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var ri RunInfo
		if err := rows.Scan(&ri.RunID, &ri.URL, &ri.Started, &ri.Finished, &ri.Iterations, &ri.Errors, &ri.P95Ms); err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		runs = append(runs, ri)
	}
	return runs, rows.Err()
}
