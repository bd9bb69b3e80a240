package store

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjstillabower/room-climate-charts/internal/models"
)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// pgPool is the subset of *pgxpool.Pool used by PostgresStore.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresStore keeps readings in an append-only table. Rows carry a serial
// id so that scan order, and therefore the duplicate tie-break, is insertion
// order.
type PostgresStore struct {
	pool  pgPool
	table string
}

// NewPostgresStore returns a store on table. Call EnsureSchema before use.
func NewPostgresStore(pool *pgxpool.Pool, table string) (*PostgresStore, error) {
	if table == "" {
		table = "temperature_readings"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the readings table and its lookup index if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	table := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id          BIGSERIAL PRIMARY KEY,
			observed_at TIMESTAMPTZ NOT NULL,
			station_id  TEXT NOT NULL,
			temperature DOUBLE PRECISION NOT NULL
		)
	`, s.table)
	if _, err := s.pool.Exec(ctx, table); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.table, err)
	}

	index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_station_hour_idx ON %[1]s (station_id, observed_at)`, s.table)
	if _, err := s.pool.Exec(ctx, index); err != nil {
		return fmt.Errorf("failed to create index on %s: %w", s.table, err)
	}
	return nil
}

// Append implements ReadingStore with a single batch of inserts.
func (s *PostgresStore) Append(ctx context.Context, stationID string, readings []models.HourlyTemperature) error {
	rows := present(readings)
	if len(rows) == 0 {
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO %s (observed_at, station_id, temperature) VALUES ($1, $2, $3)`, s.table)
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(query, r.Timestamp, stationID, r.Temperature)
	}

	br := s.pool.SendBatch(ctx, batch)
	for range rows {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("failed to insert reading: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to insert readings: %w", err)
	}
	return nil
}

// Query implements ReadingStore.
func (s *PostgresStore) Query(ctx context.Context, stationID string, start, end time.Time) (map[time.Time]float64, error) {
	query := fmt.Sprintf(`
		SELECT observed_at, temperature
		FROM %s
		WHERE station_id = $1 AND observed_at >= $2 AND observed_at <= $3
		ORDER BY id
	`, s.table)

	rows, err := s.pool.Query(ctx, query, stationID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	out := make(map[time.Time]float64)
	for rows.Next() {
		var ts time.Time
		var v float64
		if err := rows.Scan(&ts, &v); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		key := models.HourKey(ts)
		if _, seen := out[key]; !seen {
			out[key] = v
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}
