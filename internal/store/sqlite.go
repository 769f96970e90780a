package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quantbench/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ ResultStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS backtest_results (
	id            TEXT PRIMARY KEY,
	strategy_id   TEXT NOT NULL DEFAULT '',
	strategy_name TEXT NOT NULL DEFAULT '',
	symbol        TEXT NOT NULL,
	status        TEXT NOT NULL,
	start_date    TEXT NOT NULL,
	end_date      TEXT NOT NULL,
	bar_count     INTEGER NOT NULL DEFAULT 0,
	metrics_json  TEXT,
	trades_json   TEXT,
	equity_json   TEXT,
	error_message TEXT NOT NULL DEFAULT '',
	error_kind    TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	started_at    TEXT,
	completed_at  TEXT
);

CREATE INDEX IF NOT EXISTS idx_backtest_results_created_at
	ON backtest_results(created_at);
`

// SQLiteStore implements ResultStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer at a time; avoids SQLITE_BUSY from concurrent settles.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// ResultStore implementation
// ---------------------------------------------------------------------------

// SaveResult inserts or replaces a result in a single statement, so readers
// see either the previous row or the complete new one.
func (s *SQLiteStore) SaveResult(ctx context.Context, res *domain.BacktestResult) error {
	metrics, err := marshalNullable(res.Metrics, res.Metrics == nil)
	if err != nil {
		return fmt.Errorf("encoding metrics: %w", err)
	}
	trades, err := marshalNullable(res.Trades, res.Trades == nil)
	if err != nil {
		return fmt.Errorf("encoding trades: %w", err)
	}
	equity, err := marshalNullable(res.EquityCurve, res.EquityCurve == nil)
	if err != nil {
		return fmt.Errorf("encoding equity curve: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO backtest_results (
	id, strategy_id, strategy_name, symbol, status, start_date, end_date,
	bar_count, metrics_json, trades_json, equity_json, error_message,
	error_kind, created_at, started_at, completed_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.StrategyID, res.StrategyName, res.Symbol, string(res.Status),
		formatTime(res.StartDate), formatTime(res.EndDate), res.BarCount,
		metrics, trades, equity, res.ErrorMessage, res.ErrorKind,
		formatTime(res.CreatedAt), formatTimePtr(res.StartedAt), formatTimePtr(res.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("saving result %s: %w", res.ID, err)
	}
	return nil
}

// GetResult retrieves a full result, including trades and equity curve.
func (s *SQLiteStore) GetResult(ctx context.Context, id string) (*domain.BacktestResult, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, strategy_id, strategy_name, symbol, status, start_date, end_date,
	bar_count, metrics_json, trades_json, equity_json, error_message,
	error_kind, created_at, started_at, completed_at
FROM backtest_results WHERE id = ?`, id)

	var (
		r                               resultRow
		metricsJSON, tradesJSON, eqJSON sql.NullString
	)
	err := row.Scan(&r.id, &r.strategyID, &r.strategyName, &r.symbol, &r.status,
		&r.startDate, &r.endDate, &r.barCount, &metricsJSON, &tradesJSON, &eqJSON,
		&r.errorMessage, &r.errorKind, &r.createdAt, &r.startedAt, &r.completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: backtest %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading result %s: %w", id, err)
	}

	res, err := r.result()
	if err != nil {
		return nil, err
	}
	if metricsJSON.Valid {
		var m domain.Metrics
		if err := json.Unmarshal([]byte(metricsJSON.String), &m); err != nil {
			return nil, fmt.Errorf("decoding metrics of %s: %w", id, err)
		}
		res.Metrics = &m
	}
	if tradesJSON.Valid {
		if err := json.Unmarshal([]byte(tradesJSON.String), &res.Trades); err != nil {
			return nil, fmt.Errorf("decoding trades of %s: %w", id, err)
		}
	}
	if eqJSON.Valid {
		if err := json.Unmarshal([]byte(eqJSON.String), &res.EquityCurve); err != nil {
			return nil, fmt.Errorf("decoding equity curve of %s: %w", id, err)
		}
	}
	return res, nil
}

// ListResults returns summaries (metrics but no trades or equity curve),
// newest first. A limit of zero or less returns every row.
func (s *SQLiteStore) ListResults(ctx context.Context, limit int) ([]domain.BacktestResult, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, strategy_id, strategy_name, symbol, status, start_date, end_date,
	bar_count, metrics_json, error_message, error_kind, created_at,
	started_at, completed_at
FROM backtest_results ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}
	defer rows.Close()

	var out []domain.BacktestResult
	for rows.Next() {
		var (
			r           resultRow
			metricsJSON sql.NullString
		)
		if err := rows.Scan(&r.id, &r.strategyID, &r.strategyName, &r.symbol, &r.status,
			&r.startDate, &r.endDate, &r.barCount, &metricsJSON, &r.errorMessage,
			&r.errorKind, &r.createdAt, &r.startedAt, &r.completedAt); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		res, err := r.result()
		if err != nil {
			return nil, err
		}
		if metricsJSON.Valid {
			var m domain.Metrics
			if err := json.Unmarshal([]byte(metricsJSON.String), &m); err != nil {
				return nil, fmt.Errorf("decoding metrics of %s: %w", r.id, err)
			}
			res.Metrics = &m
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Row helpers
// ---------------------------------------------------------------------------

type resultRow struct {
	id, strategyID, strategyName, symbol, status string
	startDate, endDate, createdAt                string
	startedAt, completedAt                       sql.NullString
	barCount                                     int
	errorMessage, errorKind                      string
}

func (r resultRow) result() (*domain.BacktestResult, error) {
	res := &domain.BacktestResult{
		ID:           r.id,
		StrategyID:   r.strategyID,
		StrategyName: r.strategyName,
		Symbol:       r.symbol,
		Status:       domain.RunStatus(r.status),
		BarCount:     r.barCount,
		ErrorMessage: r.errorMessage,
		ErrorKind:    r.errorKind,
	}
	var err error
	if res.StartDate, err = parseTime(r.startDate); err != nil {
		return nil, err
	}
	if res.EndDate, err = parseTime(r.endDate); err != nil {
		return nil, err
	}
	if res.CreatedAt, err = parseTime(r.createdAt); err != nil {
		return nil, err
	}
	if res.StartedAt, err = parseTimePtr(r.startedAt); err != nil {
		return nil, err
	}
	if res.CompletedAt, err = parseTimePtr(r.completedAt); err != nil {
		return nil, err
	}
	return res, nil
}

func marshalNullable(v any, isNil bool) (sql.NullString, error) {
	if isNil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// Timestamps are stored as fixed-width UTC RFC 3339 so that text order is
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
