// Package postgres implements the agroflow warehouse on PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres-backed dimensional warehouse.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new Postgres Store and verifies the connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate runs the schema DDL to create tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaDDL)
	if err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// PopulateDateDimension fills dim_date for the [from, to] range. Existing
// rows are untouched; the pipeline itself never writes this table.
func (s *Store) PopulateDateDimension(ctx context.Context, from, to time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dim_date (date_key, full_date, year, quarter, month, day, day_of_week, is_weekend)
		SELECT
			(EXTRACT(YEAR FROM d)::int * 10000 + EXTRACT(MONTH FROM d)::int * 100 + EXTRACT(DAY FROM d)::int),
			d::date,
			EXTRACT(YEAR FROM d)::int,
			EXTRACT(QUARTER FROM d)::int,
			EXTRACT(MONTH FROM d)::int,
			EXTRACT(DAY FROM d)::int,
			EXTRACT(ISODOW FROM d)::int,
			EXTRACT(ISODOW FROM d)::int >= 6
		FROM generate_series($1::date, $2::date, interval '1 day') AS d
		ON CONFLICT (date_key) DO NOTHING
	`, from, to)
	if err != nil {
		return fmt.Errorf("populate dim_date: %w", err)
	}
	return nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
