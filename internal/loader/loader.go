// Package loader accumulates resolved fact rows and writes them to the
// warehouse in bounded batches. Each batch commits with its fingerprints in
// one transaction, so a crash mid-load loses at most one uncommitted buffer
// and never double-applies a record.
package loader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agroflow-systems/agroflow/internal/idempotency"
	"github.com/agroflow-systems/agroflow/internal/metrics"
	"github.com/agroflow-systems/agroflow/internal/partition"
	"github.com/agroflow-systems/agroflow/internal/warehouse"
	"github.com/agroflow-systems/agroflow/pkg/types"
)

// Sink is the warehouse subset the loader writes through.
type Sink interface {
	UpsertWeatherFacts(ctx context.Context, rows []types.WeatherFactRow, fps []types.Fingerprint) (int64, int64, error)
	UpsertSoilMeasurements(ctx context.Context, rows []types.SoilMeasurementRow, fps []types.Fingerprint) (int64, int64, error)
	UpsertCropSuitability(ctx context.Context, rows []types.CropSuitabilityRow, fps []types.Fingerprint) (int64, int64, error)
}

// Loader buffers fact rows per batch. It is owned by a single pipeline
// goroutine and is not safe for concurrent use.
type Loader struct {
	sink       Sink
	guard      *idempotency.Guard
	partitions *partition.Manager
	batchSize  int
	retry      types.RetryPolicy
	log        *slog.Logger

	weather    []types.WeatherFactRow
	weatherFps []types.Fingerprint
	soil       []types.SoilMeasurementRow
	soilFps    []types.Fingerprint
	suit       []types.CropSuitabilityRow
	suitFps    []types.Fingerprint

	counters types.Counters
}

func New(sink Sink, guard *idempotency.Guard, partitions *partition.Manager, batchSize int, retry types.RetryPolicy, log *slog.Logger) *Loader {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loader{
		sink:       sink,
		guard:      guard,
		partitions: partitions,
		batchSize:  batchSize,
		retry:      retry,
		log:        log,
	}
}

// Counters returns the totals accumulated so far.
func (l *Loader) Counters() types.Counters { return l.counters }

// RecordFailed counts a candidate that never reached the buffer.
func (l *Loader) RecordFailed() {
	l.counters.Processed++
	l.counters.Failed++
	metrics.RecordsRejected.Add(1)
}

// RecordSkipped counts a logical record whose fingerprint was already
// applied, when the duplicate check happened outside the loader.
func (l *Loader) RecordSkipped() {
	l.counters.Processed++
	l.counters.Skipped++
	metrics.RecordsProcessed.Add(1)
	metrics.RecordsSkipped.Add(1)
}

// RecordDimension counts a dimension merge outcome against the batch.
func (l *Loader) RecordDimension(outcome types.MergeOutcome) {
	l.counters.Processed++
	metrics.RecordsProcessed.Add(1)
	l.noteDimensionOutcome(outcome)
}

// NoteDimension counts a dimension row written for a record whose fingerprint
// rides on a companion fact write; the fact side owns the Processed count.
func (l *Loader) NoteDimension(outcome types.MergeOutcome) {
	l.noteDimensionOutcome(outcome)
}

func (l *Loader) noteDimensionOutcome(outcome types.MergeOutcome) {
	switch outcome {
	case types.OutcomeInserted:
		l.counters.Inserted++
		metrics.FactsInserted.Add(1)
	case types.OutcomeUpdated:
		l.counters.Updated++
		metrics.FactsUpdated.Add(1)
	case types.OutcomeLowConfidence, types.OutcomeRejected:
		l.counters.Failed++
		metrics.RecordsRejected.Add(1)
	}
}

// AddWeather buffers one weather fact unless its fingerprint was already
// applied. A row without a resolved location key is rejected and counted
// failed. The target month's partition is ensured before the row can reach
// a flush.
func (l *Loader) AddWeather(ctx context.Context, row types.WeatherFactRow, fp types.Fingerprint) (types.MergeOutcome, error) {
	if row.LocationKey <= 0 {
		l.RecordFailed()
		l.log.Warn("weather fact rejected", "date_key", row.DateKey, "error", types.ErrDimensionUnresolved)
		return types.OutcomeRejected, nil
	}
	l.counters.Processed++
	metrics.RecordsProcessed.Add(1)

	seen, err := l.guard.Seen(ctx, fp)
	if err != nil {
		return "", err
	}
	if seen {
		l.counters.Skipped++
		metrics.RecordsSkipped.Add(1)
		return types.OutcomeDuplicate, nil
	}

	if err := l.partitions.EnsureForDateKey(ctx, row.DateKey); err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrTransientInfra, err)
	}

	l.weather = append(l.weather, row)
	l.weatherFps = append(l.weatherFps, fp)
	if len(l.weather) >= l.batchSize {
		if err := l.flushWeather(ctx); err != nil {
			return "", err
		}
	}
	return types.OutcomeApplied, nil
}

// AddSoilMeasurement buffers one soil measurement fact. The record's
// fingerprint rides on this write, not the companion dimension upsert, so a
// rerun after a crash between the two still completes the fact.
func (l *Loader) AddSoilMeasurement(ctx context.Context, row types.SoilMeasurementRow, fp types.Fingerprint) (types.MergeOutcome, error) {
	if row.LocationKey <= 0 {
		l.RecordFailed()
		l.log.Warn("soil measurement rejected", "date_key", row.DateKey, "error", types.ErrDimensionUnresolved)
		return types.OutcomeRejected, nil
	}
	l.counters.Processed++
	metrics.RecordsProcessed.Add(1)

	seen, err := l.guard.Seen(ctx, fp)
	if err != nil {
		return "", err
	}
	if seen {
		l.counters.Skipped++
		metrics.RecordsSkipped.Add(1)
		return types.OutcomeDuplicate, nil
	}

	l.soil = append(l.soil, row)
	l.soilFps = append(l.soilFps, fp)
	if len(l.soil) >= l.batchSize {
		if err := l.flushSoil(ctx); err != nil {
			return "", err
		}
	}
	return types.OutcomeApplied, nil
}

// AddSuitability buffers one crop suitability fact. Suitability rows are
// derived, not sourced, so they carry no fingerprint and always overwrite.
func (l *Loader) AddSuitability(ctx context.Context, row types.CropSuitabilityRow) error {
	l.suit = append(l.suit, row)
	l.suitFps = append(l.suitFps, types.Fingerprint{})
	if len(l.suit) >= l.batchSize {
		return l.flushSuitability(ctx)
	}
	return nil
}

// Flush drains every buffer. Called once per pipeline before the batch
// finalizes; a partial buffer is a normal end-of-stream, not an error.
func (l *Loader) Flush(ctx context.Context) error {
	if err := l.flushWeather(ctx); err != nil {
		return err
	}
	if err := l.flushSoil(ctx); err != nil {
		return err
	}
	return l.flushSuitability(ctx)
}

func (l *Loader) flushWeather(ctx context.Context) error {
	if len(l.weather) == 0 {
		return nil
	}
	var inserted, updated int64
	err := warehouse.RetryTransient(ctx, l.retry, l.log, "flush weather facts", func() error {
		var ferr error
		inserted, updated, ferr = l.sink.UpsertWeatherFacts(ctx, l.weather, l.weatherFps)
		return ferr
	})
	if err != nil {
		return fmt.Errorf("%w: flush weather facts: %v", types.ErrTransientInfra, err)
	}
	l.note("weather", inserted, updated)
	l.weather = l.weather[:0]
	l.weatherFps = l.weatherFps[:0]
	return nil
}

func (l *Loader) flushSoil(ctx context.Context) error {
	if len(l.soil) == 0 {
		return nil
	}
	var inserted, updated int64
	err := warehouse.RetryTransient(ctx, l.retry, l.log, "flush soil measurements", func() error {
		var ferr error
		inserted, updated, ferr = l.sink.UpsertSoilMeasurements(ctx, l.soil, l.soilFps)
		return ferr
	})
	if err != nil {
		return fmt.Errorf("%w: flush soil measurements: %v", types.ErrTransientInfra, err)
	}
	l.note("soil", inserted, updated)
	l.soil = l.soil[:0]
	l.soilFps = l.soilFps[:0]
	return nil
}

func (l *Loader) flushSuitability(ctx context.Context) error {
	if len(l.suit) == 0 {
		return nil
	}
	var inserted, updated int64
	err := warehouse.RetryTransient(ctx, l.retry, l.log, "flush crop suitability", func() error {
		var ferr error
		inserted, updated, ferr = l.sink.UpsertCropSuitability(ctx, l.suit, l.suitFps)
		return ferr
	})
	if err != nil {
		return fmt.Errorf("%w: flush crop suitability: %v", types.ErrTransientInfra, err)
	}
	l.note("suitability", inserted, updated)
	l.suit = l.suit[:0]
	l.suitFps = l.suitFps[:0]
	return nil
}

func (l *Loader) note(kind string, inserted, updated int64) {
	l.counters.Inserted += inserted
	l.counters.Updated += updated
	metrics.FactsInserted.Add(inserted)
	metrics.FactsUpdated.Add(updated)
	l.log.Debug("facts flushed", "kind", kind, "inserted", inserted, "updated", updated)
}
