// Package dimension applies candidate records to the warehouse dimensions
// with the history semantics each dimension calls for: versioned history for
// locations, overwrite-in-place for soil profiles and crops.
package dimension

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agroflow-systems/agroflow/internal/idempotency"
	"github.com/agroflow-systems/agroflow/internal/metrics"
	"github.com/agroflow-systems/agroflow/pkg/types"
)

// Store is the warehouse subset the merger writes through.
type Store interface {
	CurrentLocation(ctx context.Context, locationHash string) (*types.LocationRow, error)
	InsertLocation(ctx context.Context, row types.LocationRow, fp types.Fingerprint) (int64, error)
	RotateLocation(ctx context.Context, currentKey int64, row types.LocationRow, fp types.Fingerprint) (int64, error)
	UpsertSoilProfile(ctx context.Context, row types.SoilProfileRow, fp types.Fingerprint) (int64, bool, error)
	GetCrop(ctx context.Context, cropName string) (*types.CropRow, error)
	UpsertCrop(ctx context.Context, row types.CropRow, fp types.Fingerprint) (int64, bool, error)
}

// Resolution is the surrogate key a candidate resolved to plus what the
// merge did to get there.
type Resolution struct {
	Key     int64
	Outcome types.MergeOutcome
}

// Merger resolves candidates against the dimension tables.
type Merger struct {
	store         Store
	minConfidence float64
	log           *slog.Logger
}

func NewMerger(store Store, minConfidence float64, log *slog.Logger) *Merger {
	if log == nil {
		log = slog.Default()
	}
	return &Merger{store: store, minConfidence: minConfidence, log: log}
}

// ResolveLocation resolves a location version against the SCD2 dimension.
// An unknown hash opens the first version; a known hash with identical
// tracked attributes is a no-op; a changed hash expires the current version
// and opens a new one in a single transaction.
func (m *Merger) ResolveLocation(ctx context.Context, row types.LocationRow) (Resolution, error) {
	cur, err := m.store.CurrentLocation(ctx, row.LocationHash)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve location %s: %w", row.LocationHash, err)
	}

	if cur == nil {
		key, err := m.store.InsertLocation(ctx, row, idempotency.LocationVersion(row))
		if err != nil {
			return Resolution{}, fmt.Errorf("insert location %s: %w", row.LocationHash, err)
		}
		return Resolution{Key: key, Outcome: types.OutcomeInserted}, nil
	}

	if cur.TrackedAttributesEqual(row) {
		return Resolution{Key: cur.LocationKey, Outcome: types.OutcomeUnchanged}, nil
	}

	// History is kept at day granularity. The expiring version must retain at
	// least its opening day, so a change arriving on or before the current
	// effective date takes effect the following day.
	minEffective := cur.EffectiveDate.AddDate(0, 0, 1)
	if row.EffectiveDate.Before(minEffective) {
		row.EffectiveDate = minEffective
	}

	key, err := m.store.RotateLocation(ctx, cur.LocationKey, row, idempotency.LocationVersion(row))
	if err != nil {
		return Resolution{}, fmt.Errorf("rotate location %s: %w", row.LocationHash, err)
	}
	m.log.Info("location version rotated",
		"location_hash", row.LocationHash,
		"expired_key", cur.LocationKey, "new_key", key,
		"effective_date", row.EffectiveDate.Format("2006-01-02"))
	return Resolution{Key: key, Outcome: types.OutcomeUpdated}, nil
}

// ResolveSoil applies a soil profile, overwriting any prior row for the same
// location and extraction date.
func (m *Merger) ResolveSoil(ctx context.Context, row types.SoilProfileRow, fp types.Fingerprint) (Resolution, error) {
	key, inserted, err := m.store.UpsertSoilProfile(ctx, row, fp)
	if err != nil {
		return Resolution{}, fmt.Errorf("upsert soil profile (location %d): %w", row.LocationKey, err)
	}
	outcome := types.OutcomeUpdated
	if inserted {
		outcome = types.OutcomeInserted
	}
	return Resolution{Key: key, Outcome: outcome}, nil
}

// ResolveCrop applies an extracted crop requirement set. Rows below the
// confidence floor are rejected without touching the warehouse.
func (m *Merger) ResolveCrop(ctx context.Context, row types.CropRow, fp types.Fingerprint) (Resolution, error) {
	if row.ExtractionConfidence < m.minConfidence {
		metrics.LowConfidenceRejected.Add(1)
		m.log.Warn("crop extraction below confidence floor",
			"crop", row.CropName,
			"confidence", row.ExtractionConfidence,
			"floor", m.minConfidence)
		return Resolution{Outcome: types.OutcomeLowConfidence},
			fmt.Errorf("%w: crop %q confidence %.2f below %.2f",
				types.ErrLowConfidence, row.CropName, row.ExtractionConfidence, m.minConfidence)
	}

	key, inserted, err := m.store.UpsertCrop(ctx, row, fp)
	if err != nil {
		return Resolution{}, fmt.Errorf("upsert crop %q: %w", row.CropName, err)
	}
	outcome := types.OutcomeUpdated
	if inserted {
		outcome = types.OutcomeInserted
	}
	return Resolution{Key: key, Outcome: outcome}, nil
}
