package dimension

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agroflow-systems/agroflow/internal/testutil"
	"github.com/agroflow-systems/agroflow/pkg/types"
)

func strp(s string) *string     { return &s }
func floatp(f float64) *float64 { return &f }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func locationRow(hash string, zone string, effective time.Time) types.LocationRow {
	return types.LocationRow{
		Latitude:      41.8781,
		Longitude:     -87.6298,
		LocationHash:  hash,
		ClimateZone:   strp(zone),
		EffectiveDate: effective,
	}
}

func TestResolveLocation_FirstSightInserts(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	merger := NewMerger(wh, 0.5, nil)

	res, err := merger.ResolveLocation(context.Background(), locationRow("h1", "temperate", day(2025, 1, 1)))
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeInserted, res.Outcome)
	assert.NotZero(t, res.Key)

	versions, err := wh.LocationVersions(context.Background(), "h1")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.True(t, versions[0].IsCurrent)
	assert.Equal(t, types.ExpirationSentinel, versions[0].ExpirationDate)
}

func TestResolveLocation_UnchangedAttributesNoNewVersion(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	merger := NewMerger(wh, 0.5, nil)
	ctx := context.Background()

	first, err := merger.ResolveLocation(ctx, locationRow("h1", "temperate", day(2025, 1, 1)))
	require.NoError(t, err)

	// Same tracked attributes on a later day: resolve to the existing key.
	res, err := merger.ResolveLocation(ctx, locationRow("h1", "temperate", day(2025, 6, 1)))
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeUnchanged, res.Outcome)
	assert.Equal(t, first.Key, res.Key)

	versions, _ := wh.LocationVersions(ctx, "h1")
	assert.Len(t, versions, 1)
}

func TestResolveLocation_ChangedAttributesRotate(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	merger := NewMerger(wh, 0.5, nil)
	ctx := context.Background()

	first, err := merger.ResolveLocation(ctx, locationRow("h1", "temperate", day(2025, 1, 1)))
	require.NoError(t, err)

	res, err := merger.ResolveLocation(ctx, locationRow("h1", "arid", day(2025, 3, 1)))
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeUpdated, res.Outcome)
	assert.NotEqual(t, first.Key, res.Key)

	versions, _ := wh.LocationVersions(ctx, "h1")
	require.Len(t, versions, 2)
	assert.False(t, versions[0].IsCurrent)
	assert.Equal(t, day(2025, 2, 28), versions[0].ExpirationDate)
	assert.True(t, versions[1].IsCurrent)
	assert.Equal(t, day(2025, 3, 1), versions[1].EffectiveDate)
}

func TestResolveLocation_SameDayChangeShiftsEffectiveDate(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	merger := NewMerger(wh, 0.5, nil)
	ctx := context.Background()

	_, err := merger.ResolveLocation(ctx, locationRow("h1", "temperate", day(2025, 1, 1)))
	require.NoError(t, err)

	// A change arriving the same day must not zero out the first version's
	// interval.
	_, err = merger.ResolveLocation(ctx, locationRow("h1", "arid", day(2025, 1, 1)))
	require.NoError(t, err)

	versions, _ := wh.LocationVersions(ctx, "h1")
	require.Len(t, versions, 2)
	assert.Equal(t, day(2025, 1, 1), versions[0].ExpirationDate)
	assert.Equal(t, day(2025, 1, 2), versions[1].EffectiveDate)
}

func TestResolveSoil_InsertThenOverwrite(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	merger := NewMerger(wh, 0.5, nil)
	ctx := context.Background()

	row := types.SoilProfileRow{
		LocationKey:    7,
		PHLevel:        floatp(6.1),
		SoilDepthCM:    5,
		ExtractionDate: day(2025, 4, 2),
	}
	first, err := merger.ResolveSoil(ctx, row, types.Fingerprint{Hash: "s1"})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeInserted, first.Outcome)

	row.PHLevel = floatp(6.4)
	second, err := merger.ResolveSoil(ctx, row, types.Fingerprint{Hash: "s2"})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeUpdated, second.Outcome)
	assert.Equal(t, first.Key, second.Key)
}

func TestResolveCrop_BelowConfidenceFloorNoWrite(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	merger := NewMerger(wh, 0.5, nil)
	ctx := context.Background()

	row := types.CropRow{
		CropName:             "quinoa",
		OptimalTempMinC:      floatp(12),
		ExtractionConfidence: 0.3,
		ExtractionDate:       day(2025, 5, 1),
	}
	res, err := merger.ResolveCrop(ctx, row, types.Fingerprint{Hash: "c1"})
	assert.ErrorIs(t, err, types.ErrLowConfidence)
	assert.Equal(t, types.OutcomeLowConfidence, res.Outcome)

	crop, _ := wh.GetCrop(ctx, "quinoa")
	assert.Nil(t, crop, "rejected extraction must not touch the dimension")
	assert.Zero(t, wh.FingerprintCount(), "rejected extraction must not register a fingerprint")
}

func TestResolveCrop_UpsertKeepsKey(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	merger := NewMerger(wh, 0.5, nil)
	ctx := context.Background()

	row := types.CropRow{
		CropName:             "wheat",
		OptimalTempMinC:      floatp(15),
		OptimalTempMaxC:      floatp(25),
		ExtractionConfidence: 0.82,
		ExtractionDate:       day(2025, 5, 1),
	}
	first, err := merger.ResolveCrop(ctx, row, types.Fingerprint{Hash: "c1"})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeInserted, first.Outcome)

	row.OptimalTempMaxC = floatp(27)
	row.ExtractionConfidence = 0.9
	second, err := merger.ResolveCrop(ctx, row, types.Fingerprint{Hash: "c2"})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeUpdated, second.Outcome)
	assert.Equal(t, first.Key, second.Key)

	crop, _ := wh.GetCrop(ctx, "wheat")
	require.NotNil(t, crop)
	assert.Equal(t, 27.0, *crop.OptimalTempMaxC)
	assert.Equal(t, 0.9, crop.ExtractionConfidence)
}
