// Package partition manages the monthly range partitions of the weather fact
// table. Partition creation is idempotent at the database level; the manager
// adds a process-local cache so the steady state costs no round trips.
package partition

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agroflow-systems/agroflow/internal/metrics"
)

// Creator issues the partition DDL. Creating an existing partition is a no-op.
type Creator interface {
	EnsureWeatherPartition(ctx context.Context, year int, month time.Month) error
}

// Manager ensures fact partitions exist ahead of loads.
type Manager struct {
	creator     Creator
	futureYears int
	log         *slog.Logger

	mu      sync.Mutex
	ensured map[int]bool // year*100 + month
}

func NewManager(creator Creator, futureYears int, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		creator:     creator,
		futureYears: futureYears,
		log:         log,
		ensured:     make(map[int]bool),
	}
}

// DateKey encodes a date as the YYYYMMDD integer used throughout the fact
// tables.
func DateKey(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// MonthOf decodes the year and month of a date key.
func MonthOf(dateKey int) (int, time.Month, error) {
	year := dateKey / 10000
	month := dateKey / 100 % 100
	day := dateKey % 100
	if year < 1 || month < 1 || month > 12 || day < 1 || day > 31 {
		return 0, 0, fmt.Errorf("invalid date key %d", dateKey)
	}
	return year, time.Month(month), nil
}

// EnsureForDateKey makes sure the partition covering the date key's month
// exists before any row targets it.
func (m *Manager) EnsureForDateKey(ctx context.Context, dateKey int) error {
	year, month, err := MonthOf(dateKey)
	if err != nil {
		return err
	}
	return m.ensure(ctx, year, month)
}

// EnsureHorizon pre-creates every monthly partition from January of the
// current year through December of the configured future horizon. Runs at
// startup so historical backfills and near-future loads never hit DDL on the
// hot path.
func (m *Manager) EnsureHorizon(ctx context.Context, now time.Time) error {
	lastYear := now.Year() + m.futureYears
	for year := now.Year(); year <= lastYear; year++ {
		for month := time.January; month <= time.December; month++ {
			if err := m.ensure(ctx, year, month); err != nil {
				return fmt.Errorf("ensure horizon: %w", err)
			}
		}
	}
	m.log.Info("partition horizon ensured",
		"from_year", now.Year(), "to_year", lastYear)
	return nil
}

// HorizonEnd is the last day EnsureHorizon covers for the given time.
func (m *Manager) HorizonEnd(now time.Time) time.Time {
	return time.Date(now.Year()+m.futureYears, time.December, 31, 0, 0, 0, 0, time.UTC)
}

func (m *Manager) ensure(ctx context.Context, year int, month time.Month) error {
	key := year*100 + int(month)

	m.mu.Lock()
	done := m.ensured[key]
	m.mu.Unlock()
	if done {
		return nil
	}

	if err := m.creator.EnsureWeatherPartition(ctx, year, month); err != nil {
		return fmt.Errorf("ensure partition %04d-%02d: %w", year, int(month), err)
	}
	metrics.PartitionsCreated.Add(1)

	m.mu.Lock()
	m.ensured[key] = true
	m.mu.Unlock()
	return nil
}
