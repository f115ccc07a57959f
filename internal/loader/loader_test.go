package loader

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agroflow-systems/agroflow/internal/idempotency"
	"github.com/agroflow-systems/agroflow/internal/partition"
	"github.com/agroflow-systems/agroflow/internal/testutil"
	"github.com/agroflow-systems/agroflow/pkg/types"
)

func newLoader(wh *testutil.MemWarehouse, batchSize int) *Loader {
	return newLoaderWithSink(wh, wh, batchSize, types.RetryPolicy{})
}

func newLoaderWithSink(wh *testutil.MemWarehouse, sink Sink, batchSize int, retry types.RetryPolicy) *Loader {
	guard := idempotency.NewGuard(wh, nil)
	parts := partition.NewManager(wh, 0, nil)
	return New(sink, guard, parts, batchSize, retry, nil)
}

func weatherRow(dateKey int, locKey int64) types.WeatherFactRow {
	temp := 19.0
	return types.WeatherFactRow{
		LocationKey: locKey,
		DateKey:     dateKey,
		TempMeanC:   &temp,
		BatchID:     "batch-1",
	}
}

func TestAddWeather_FlushesAtBatchSize(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	l := newLoader(wh, 2)
	ctx := context.Background()

	out, err := l.AddWeather(ctx, weatherRow(20250301, 1), types.Fingerprint{Hash: "w1"})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeApplied, out)
	assert.Zero(t, wh.WeatherFactCount(), "below threshold, nothing written")

	_, err = l.AddWeather(ctx, weatherRow(20250302, 1), types.Fingerprint{Hash: "w2"})
	require.NoError(t, err)
	assert.Equal(t, 2, wh.WeatherFactCount(), "threshold reached, buffer flushed")

	c := l.Counters()
	assert.Equal(t, int64(2), c.Processed)
	assert.Equal(t, int64(2), c.Inserted)
}

func TestAddWeather_DuplicateSkipped(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	l := newLoader(wh, 1)
	ctx := context.Background()

	_, err := l.AddWeather(ctx, weatherRow(20250301, 1), types.Fingerprint{Hash: "w1"})
	require.NoError(t, err)
	assert.Equal(t, 1, wh.WeatherFactCount())

	// Same content hash again: skipped before the buffer.
	out, err := l.AddWeather(ctx, weatherRow(20250301, 1), types.Fingerprint{Hash: "w1"})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeDuplicate, out)
	assert.Equal(t, 1, wh.WeatherFactCount())

	c := l.Counters()
	assert.Equal(t, int64(1), c.Skipped)
	assert.Equal(t, int64(1), c.Inserted)
}

func TestAddWeather_CorrectedValueUpdatesInPlace(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	l := newLoader(wh, 1)
	ctx := context.Background()

	row := weatherRow(20250301, 1)
	_, err := l.AddWeather(ctx, row, types.Fingerprint{Hash: "w1"})
	require.NoError(t, err)

	// Same natural key, different content: a correction, not a duplicate.
	corrected := weatherRow(20250301, 1)
	temp := 21.0
	corrected.TempMeanC = &temp
	out, err := l.AddWeather(ctx, corrected, types.Fingerprint{Hash: "w1-corrected"})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeApplied, out)

	assert.Equal(t, 1, wh.WeatherFactCount())
	assert.Equal(t, 21.0, *wh.WeatherFact(20250301, 1).TempMeanC)

	c := l.Counters()
	assert.Equal(t, int64(1), c.Inserted)
	assert.Equal(t, int64(1), c.Updated)
}

func TestAddWeather_EnsuresPartitionBeforeBuffering(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	l := newLoader(wh, 10)
	ctx := context.Background()

	_, err := l.AddWeather(ctx, weatherRow(20250301, 1), types.Fingerprint{Hash: "w1"})
	require.NoError(t, err)
	assert.Equal(t, 1, wh.PartitionCount())

	require.NoError(t, l.Flush(ctx))
	assert.Equal(t, 1, wh.WeatherFactCount())
}

func TestFlush_DrainsPartialBuffers(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	l := newLoader(wh, 100)
	ctx := context.Background()

	_, err := l.AddWeather(ctx, weatherRow(20250301, 1), types.Fingerprint{Hash: "w1"})
	require.NoError(t, err)
	_, err = l.AddSoilMeasurement(ctx, types.SoilMeasurementRow{
		LocationKey: 1, DateKey: 20250301, BatchID: "batch-1",
	}, types.Fingerprint{Hash: "s1"})
	require.NoError(t, err)
	require.NoError(t, l.AddSuitability(ctx, types.CropSuitabilityRow{
		CropKey: 1, LocationKey: 1, DateKey: 20250301, SuitabilityScore: 0.8, BatchID: "batch-1",
	}))

	require.NoError(t, l.Flush(ctx))
	assert.Equal(t, 1, wh.WeatherFactCount())
	assert.Equal(t, 1, wh.SoilMeasurementCount())
	assert.Equal(t, int64(3), l.Counters().Inserted)
}

func TestFlush_WriteFailureIsTransient(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	l := newLoader(wh, 100)
	ctx := context.Background()

	_, err := l.AddWeather(ctx, weatherRow(20250301, 1), types.Fingerprint{Hash: "w1"})
	require.NoError(t, err)

	wh.FailWrites = errors.New("connection reset")
	err = l.Flush(ctx)
	assert.ErrorIs(t, err, types.ErrTransientInfra)

	// Buffer survives the failed flush; the retry writes it.
	wh.FailWrites = nil
	require.NoError(t, l.Flush(ctx))
	assert.Equal(t, 1, wh.WeatherFactCount())
}

// failingOnceSink rejects the first upsert of each fact table before handing
// off to the real warehouse.
type failingOnceSink struct {
	*testutil.MemWarehouse
	failures int
}

func (s *failingOnceSink) UpsertWeatherFacts(ctx context.Context, rows []types.WeatherFactRow, fps []types.Fingerprint) (int64, int64, error) {
	if s.failures > 0 {
		s.failures--
		return 0, 0, errors.New("connection reset by peer")
	}
	return s.MemWarehouse.UpsertWeatherFacts(ctx, rows, fps)
}

func TestFlush_RetriesTransientFailure(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	sink := &failingOnceSink{MemWarehouse: wh, failures: 1}
	l := newLoaderWithSink(wh, sink, 100, types.RetryPolicy{MaxAttempts: 3})
	ctx := context.Background()

	_, err := l.AddWeather(ctx, weatherRow(20250301, 1), types.Fingerprint{Hash: "w1"})
	require.NoError(t, err)

	// The first attempt fails; the budget absorbs it.
	require.NoError(t, l.Flush(ctx))
	assert.Equal(t, 1, wh.WeatherFactCount())
	assert.Equal(t, int64(1), l.Counters().Inserted)
}

func TestFlush_RetryBudgetExhausted(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	sink := &failingOnceSink{MemWarehouse: wh, failures: 2}
	l := newLoaderWithSink(wh, sink, 100, types.RetryPolicy{MaxAttempts: 2})
	ctx := context.Background()

	_, err := l.AddWeather(ctx, weatherRow(20250301, 1), types.Fingerprint{Hash: "w1"})
	require.NoError(t, err)

	err = l.Flush(ctx)
	assert.ErrorIs(t, err, types.ErrTransientInfra)
	assert.Zero(t, wh.WeatherFactCount())
}

func TestAddWeather_UnresolvedDimensionRejected(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	l := newLoader(wh, 1)

	out, err := l.AddWeather(context.Background(), weatherRow(20250301, 0), types.Fingerprint{Hash: "w1"})
	require.NoError(t, err, "rejection is counted, not escalated")
	assert.Equal(t, types.OutcomeRejected, out)
	assert.Zero(t, wh.WeatherFactCount())

	c := l.Counters()
	assert.Equal(t, int64(1), c.Processed)
	assert.Equal(t, int64(1), c.Failed)
}

func TestRecordFailed(t *testing.T) {
	l := newLoader(testutil.NewMemWarehouse(), 10)
	l.RecordFailed()
	l.RecordFailed()

	c := l.Counters()
	assert.Equal(t, int64(2), c.Processed)
	assert.Equal(t, int64(2), c.Failed)
}
