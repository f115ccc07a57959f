package postgres

import (
	"context"
	"fmt"
	"time"
)

// EnsureWeatherPartition creates the fact_weather partition covering one
// calendar month. Creating an existing partition is a no-op, and an advisory
// lock serializes concurrent creators so the DDL never races itself.
func (s *Store) EnsureWeatherPartition(ctx context.Context, year int, month time.Month) error {
	name := fmt.Sprintf("fact_weather_y%04dm%02d", year, int(month))
	from := year*10000 + int(month)*100 + 1

	next := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	to := next.Year()*10000 + int(next.Month())*100 + 1

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, name); err != nil {
		return fmt.Errorf("partition lock: %w", err)
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s PARTITION OF fact_weather
		FOR VALUES FROM (%d) TO (%d)
	`, name, from, to)
	if _, err := tx.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create partition %s: %w", name, err)
	}
	return tx.Commit(ctx)
}
