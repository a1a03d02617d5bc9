// Package source fetches windowed record series from the monitoring store.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Postgres driver registration.
	_ "github.com/lib/pq"

	"github.com/crosswatchhq/crosswatch/internal/models"
	"github.com/crosswatchhq/crosswatch/internal/utils"
)

// DataSource returns the two record series for a look-back interval.
type DataSource interface {
	FetchWindow(ctx context.Context, lookback time.Duration) (infra, app []models.Record, err error)
}

const (
	infraQuery = `SELECT item_id, name, last_value, last_clock, host_id
FROM infra_items
WHERE recorded_at >= now() - $1::interval
ORDER BY last_clock DESC`

	appQuery = `SELECT ts, response_time_ms, error_rate
FROM app_metrics
WHERE recorded_at >= now() - $1::interval
ORDER BY ts DESC`
)

// PostgresSource reads the infra and app series from the shared monitoring
// database. Query failures yield empty series rather than errors, so a dark
// database shows up as a zero-data cycle, not a failed one.
type PostgresSource struct {
	db      *sql.DB
	logger  *slog.Logger
	timeout time.Duration
}

// Open connects to Postgres and applies pool settings.
func Open(dsn string, maxOpenConns int, queryTimeout time.Duration, logger *slog.Logger) (*PostgresSource, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, utils.NewAppError("source.Open", "open postgres", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns / 2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	return NewPostgresSource(db, queryTimeout, logger), nil
}

// NewPostgresSource wraps an existing connection pool.
func NewPostgresSource(db *sql.DB, queryTimeout time.Duration, logger *slog.Logger) *PostgresSource {
	if logger == nil {
		logger = slog.Default()
	}
	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}
	return &PostgresSource{db: db, logger: logger, timeout: queryTimeout}
}

// FetchWindow returns recent infra and app records. Each query runs under
// its own timeout; a failed query is logged and its series comes back empty.
func (s *PostgresSource) FetchWindow(ctx context.Context, lookback time.Duration) ([]models.Record, []models.Record, error) {
	if s.db == nil {
		return nil, nil, utils.NewAppError("source.FetchWindow", "database not configured", nil)
	}

	interval := fmt.Sprintf("%d seconds", int64(lookback.Seconds()))

	infra := s.fetchInfra(ctx, interval)
	app := s.fetchApp(ctx, interval)

	s.logger.Info("fetched windowed records",
		slog.Int("infra_records", len(infra)),
		slog.Int("app_records", len(app)),
		slog.Duration("lookback", lookback),
	)

	return infra, app, nil
}

// Close releases the connection pool.
func (s *PostgresSource) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresSource) fetchInfra(ctx context.Context, interval string) []models.Record {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, infraQuery, interval)
	if err != nil {
		s.logger.Error("infra query failed", slog.Any("error", err))
		return nil
	}
	defer rows.Close()

	records := make([]models.Record, 0)
	for rows.Next() {
		var (
			itemID    int64
			name      string
			lastValue sql.NullString
			lastClock sql.NullInt64
			hostID    sql.NullInt64
		)
		if err := rows.Scan(&itemID, &name, &lastValue, &lastClock, &hostID); err != nil {
			s.logger.Warn("infra row scan failed", slog.Any("error", err))
			continue
		}
		rec := models.Record{
			Timestamp: lastClock.Int64,
			Fields: map[string]any{
				"item_id": itemID,
				"name":    name,
			},
		}
		if lastValue.Valid {
			rec.Fields["last_value"] = lastValue.String
		}
		if hostID.Valid {
			rec.Fields["host_id"] = hostID.Int64
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("infra row iteration failed", slog.Any("error", err))
	}
	return records
}

func (s *PostgresSource) fetchApp(ctx context.Context, interval string) []models.Record {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, appQuery, interval)
	if err != nil {
		s.logger.Error("app query failed", slog.Any("error", err))
		return nil
	}
	defer rows.Close()

	records := make([]models.Record, 0)
	for rows.Next() {
		var (
			ts           sql.NullInt64
			responseTime sql.NullFloat64
			errorRate    sql.NullFloat64
		)
		if err := rows.Scan(&ts, &responseTime, &errorRate); err != nil {
			s.logger.Warn("app row scan failed", slog.Any("error", err))
			continue
		}
		rec := models.Record{
			Timestamp: ts.Int64,
			Fields:    map[string]any{},
		}
		if responseTime.Valid {
			rec.Fields["response_time_ms"] = responseTime.Float64
		}
		if errorRate.Valid {
			rec.Fields["error_rate"] = errorRate.Float64
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("app row iteration failed", slog.Any("error", err))
	}
	return records
}
