package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/agroflow-systems/agroflow/internal/audit"
	"github.com/agroflow-systems/agroflow/internal/dimension"
	"github.com/agroflow-systems/agroflow/internal/idempotency"
	"github.com/agroflow-systems/agroflow/internal/partition"
	"github.com/agroflow-systems/agroflow/internal/testutil"
	"github.com/agroflow-systems/agroflow/internal/transform"
	"github.com/agroflow-systems/agroflow/internal/warehouse"
	"github.com/agroflow-systems/agroflow/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeWeather struct {
	cands []types.WeatherCandidate
	err   error
	calls atomic.Int32
}

func (f *fakeWeather) ExtractHistorical(ctx context.Context, lat, lon float64, startDate, endDate string) ([]types.WeatherCandidate, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]types.WeatherCandidate, len(f.cands))
	copy(out, f.cands)
	for i := range out {
		out[i].Latitude = lat
		out[i].Longitude = lon
	}
	return out, nil
}

type fakeSoil struct {
	cand types.SoilCandidate
	err  error
}

func (f *fakeSoil) Extract(ctx context.Context, lat, lon float64) (types.SoilCandidate, error) {
	if f.err != nil {
		return types.SoilCandidate{}, f.err
	}
	c := f.cand
	c.Latitude = lat
	c.Longitude = lon
	return c, nil
}

type fakeCrops struct {
	sources []types.CropSource
	err     error
}

func (f *fakeCrops) ScrapeCrops(ctx context.Context, crops []string) ([]types.CropSource, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sources, nil
}

func floatp(v float64) *float64 { return &v }

const wheatText = `Wheat grows best at temperatures of 15°C to 25°C. It requires
4.5 mm per day of water during the growing season, with 8 hours of sunlight.
Prefers soil with pH 6.0 to 7.0.`

func newTestOrchestrator(wh warehouse.Warehouse, w WeatherSource, s SoilSource, c CropProfiler) *Orchestrator {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Params{
		Warehouse:  wh,
		Recorder:   audit.NewRecorder(wh, 24*time.Hour, log),
		Merger:     dimension.NewMerger(wh, 0.5, log),
		Guard:      idempotency.NewGuard(wh, log),
		Partitions: partition.NewManager(wh, 1, log),
		Weather:    w,
		Soil:       s,
		Crops:      c,
		Logger:     log,
	})
}

func weatherDays() []types.WeatherCandidate {
	return []types.WeatherCandidate{
		{
			Date:            "2024-06-01",
			TempMaxC:        floatp(24),
			TempMinC:        floatp(12),
			TempMeanC:       floatp(18),
			PrecipitationMM: floatp(3.2),
		},
		{
			Date:            "2024-06-02",
			TempMaxC:        floatp(26),
			TempMinC:        floatp(14),
			TempMeanC:       floatp(20),
			PrecipitationMM: floatp(0),
		},
	}
}

var chicago = []types.Coordinate{{Lat: 41.8781, Lon: -87.6298}}

func TestRunWeather_LoadsFactsAndSuitability(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	o := newTestOrchestrator(wh, &fakeWeather{cands: weatherDays()}, nil, nil)
	ctx := context.Background()

	// A known crop makes the derived suitability facts appear.
	_, _, err := wh.UpsertCrop(ctx, types.CropRow{
		CropName:             "Wheat",
		OptimalTempMinC:      floatp(15),
		OptimalTempMaxC:      floatp(25),
		WaterRequirementMM:   floatp(4.5),
		ExtractionConfidence: 0.9,
	}, types.Fingerprint{Hash: "crop-seed", EntityType: types.EntityCrop, EntityID: "Wheat"})
	require.NoError(t, err)

	res, err := o.RunWeather(ctx, chicago, "2024-06-01", "2024-06-02")
	require.NoError(t, err)

	assert.Equal(t, types.BatchSuccess, res.Status)
	assert.Equal(t, int64(2), res.Counters.Processed)
	assert.Equal(t, 2, wh.WeatherFactCount())
	assert.Equal(t, 2, wh.SuitabilityCount())

	// Day two: mean 20 inside the band, precipitation 0 of 4.5 required.
	locs, err := wh.LocationVersions(ctx, locationHashOf(chicago[0]))
	require.NoError(t, err)
	require.Len(t, locs, 1)
	suit := wh.Suitability(20240602, locs[0].LocationKey, 1)
	require.NotNil(t, suit)
	assert.Equal(t, 0.5, suit.SuitabilityScore)

	rec, err := wh.GetAudit(ctx, res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, types.BatchSuccess, rec.Status)
	assert.NotNil(t, rec.EndTime)

	// The run window lands in dim_date before any fact references it.
	from, to := wh.DateDimensionRange()
	assert.False(t, from.After(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, to.Before(time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)))
}

func TestRunWeather_RerunSkipsEverything(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	o := newTestOrchestrator(wh, &fakeWeather{cands: weatherDays()}, nil, nil)
	ctx := context.Background()

	_, err := o.RunWeather(ctx, chicago, "2024-06-01", "2024-06-02")
	require.NoError(t, err)
	factsBefore := wh.WeatherFactCount()
	fpsBefore := wh.FingerprintCount()

	res, err := o.RunWeather(ctx, chicago, "2024-06-01", "2024-06-02")
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Counters.Skipped)
	assert.Zero(t, res.Counters.Inserted)
	assert.Equal(t, factsBefore, wh.WeatherFactCount())
	assert.Equal(t, fpsBefore, wh.FingerprintCount())
}

func TestRunWeather_CorrectedValueUpdatesInPlace(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	days := weatherDays()[:1]
	src := &fakeWeather{cands: days}
	o := newTestOrchestrator(wh, src, nil, nil)
	ctx := context.Background()

	_, err := o.RunWeather(ctx, chicago, "2024-06-01", "2024-06-01")
	require.NoError(t, err)

	// The source republishes the same day with a corrected maximum.
	corrected := weatherDays()[:1]
	corrected[0].TempMaxC = floatp(21)
	src.cands = corrected

	res, err := o.RunWeather(ctx, chicago, "2024-06-01", "2024-06-01")
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Counters.Updated)
	assert.Equal(t, 1, wh.WeatherFactCount(), "correction lands on the same natural key")

	locs, err := wh.LocationVersions(ctx, locationHashOf(chicago[0]))
	require.NoError(t, err)
	fact := wh.WeatherFact(20240601, locs[0].LocationKey)
	require.NotNil(t, fact)
	assert.Equal(t, 21.0, *fact.TempMaxC)
}

func TestRunWeather_InvalidCandidateCountedFailed(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	days := weatherDays()
	days[0].Date = "not-a-date"
	o := newTestOrchestrator(wh, &fakeWeather{cands: days}, nil, nil)

	res, err := o.RunWeather(context.Background(), chicago, "2024-06-01", "2024-06-02")
	require.NoError(t, err, "a bad record is rejected, not a batch failure")

	assert.Equal(t, types.BatchSuccess, res.Status)
	assert.Equal(t, int64(1), res.Counters.Failed)
	assert.Equal(t, 1, wh.WeatherFactCount())
}

func TestRunWeather_SourceFailureMarksBatchFailed(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	o := newTestOrchestrator(wh, &fakeWeather{err: errors.New("upstream 503")}, nil, nil)

	res, err := o.RunWeather(context.Background(), chicago, "2024-06-01", "2024-06-02")
	require.Error(t, err)

	assert.Equal(t, types.BatchFailed, res.Status)
	rec, gerr := wh.GetAudit(context.Background(), res.BatchID)
	require.NoError(t, gerr)
	assert.Equal(t, types.BatchFailed, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "upstream 503")
	assert.Zero(t, wh.WeatherFactCount())
}

func TestRunWeather_CancellationMarksBatchFailed(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeWeather{err: context.Canceled}
	o := newTestOrchestrator(wh, src, nil, nil)
	cancel()

	res, err := o.RunWeather(ctx, chicago, "2024-06-01", "2024-06-02")
	require.Error(t, err)

	// Finalization runs on a detached context, so the ledger still lands
	// on a terminal row.
	rec, gerr := wh.GetAudit(context.Background(), res.BatchID)
	require.NoError(t, gerr)
	assert.Equal(t, types.BatchFailed, rec.Status)
}

func TestRunSoil_LoadsDimensionAndMeasurement(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	sampled := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	o := newTestOrchestrator(wh, nil, &fakeSoil{cand: types.SoilCandidate{
		ClayContent:   floatp(28),
		SandContent:   floatp(42),
		SiltContent:   floatp(30),
		PHLevel:       floatp(6.4),
		OrganicCarbon: floatp(1.8),
		ExtractedAt:   sampled,
	}}, nil)
	ctx := context.Background()

	res, err := o.RunSoil(ctx, chicago)
	require.NoError(t, err)

	assert.Equal(t, types.BatchSuccess, res.Status)
	assert.Equal(t, int64(1), res.Counters.Processed)
	assert.Equal(t, 1, wh.SoilMeasurementCount())

	locs, err := wh.LocationVersions(ctx, locationHashOf(chicago[0]))
	require.NoError(t, err)
	require.Len(t, locs, 1)
	profile, err := wh.LatestSoilProfile(ctx, locs[0].LocationKey)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, 6.4, *profile.PHLevel)

	// Rerunning the same sample day is a no-op.
	res2, err := o.RunSoil(ctx, chicago)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res2.Counters.Skipped)
	assert.Equal(t, 1, wh.SoilMeasurementCount())
}

func TestRunCrops_ExtractsAndMerges(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	o := newTestOrchestrator(wh, nil, nil, &fakeCrops{sources: []types.CropSource{{
		CropName:    "wheat",
		SourceURL:   "https://example.org/wheat",
		RawText:     wheatText,
		Reliability: 0.95,
	}}})
	ctx := context.Background()

	res, err := o.RunCrops(ctx, []string{"wheat"})
	require.NoError(t, err)

	assert.Equal(t, types.BatchSuccess, res.Status)
	assert.Equal(t, int64(1), res.Counters.Inserted)

	crop, err := wh.GetCrop(ctx, "Wheat")
	require.NoError(t, err)
	require.NotNil(t, crop)
	assert.Equal(t, 15.0, *crop.OptimalTempMinC)
	assert.Equal(t, 25.0, *crop.OptimalTempMaxC)
	assert.Equal(t, 6.0, *crop.SoilPHMin)
	assert.InDelta(t, 0.95, crop.ExtractionConfidence, 1e-9,
		"extraction confidence scaled by source reliability")
	assert.Equal(t, []string{"https://example.org/wheat"}, crop.SourceURLs)
}

func TestRunCrops_LowConfidenceNeverWrites(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	o := newTestOrchestrator(wh, nil, nil, &fakeCrops{sources: []types.CropSource{{
		CropName:    "sorghum",
		SourceURL:   "https://example.org/sorghum",
		RawText:     "This crop tolerates drought well.",
		Reliability: 0.95,
	}}})
	ctx := context.Background()

	res, err := o.RunCrops(ctx, []string{"sorghum"})
	require.NoError(t, err, "a low-confidence extraction is rejected, not a batch failure")

	assert.Equal(t, types.BatchSuccess, res.Status)
	assert.Equal(t, int64(1), res.Counters.Failed)
	crops, err := wh.ListCrops(ctx)
	require.NoError(t, err)
	assert.Empty(t, crops)
	assert.Zero(t, wh.FingerprintCount(), "rejected extractions leave no fingerprint")
}

func TestRunFull_WeatherSeesFreshDimensions(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	sampled := time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC)
	o := newTestOrchestrator(wh,
		&fakeWeather{cands: weatherDays()},
		&fakeSoil{cand: types.SoilCandidate{PHLevel: floatp(6.5), ExtractedAt: sampled}},
		&fakeCrops{sources: []types.CropSource{{
			CropName:    "wheat",
			SourceURL:   "https://example.org/wheat",
			RawText:     wheatText,
			Reliability: 0.95,
		}}})
	ctx := context.Background()

	full, err := o.RunFull(ctx, chicago, []string{"wheat"}, "2024-06-01", "2024-06-02")
	require.NoError(t, err)

	assert.Equal(t, types.BatchSuccess, full.Soil.Status)
	assert.Equal(t, types.BatchSuccess, full.Crops.Status)
	assert.Equal(t, types.BatchSuccess, full.Weather.Status)

	assert.Equal(t, 2, wh.WeatherFactCount())
	assert.Equal(t, 1, wh.SoilMeasurementCount())
	assert.Equal(t, 2, wh.SuitabilityCount(), "one score per crop per loaded day")

	// The soil profile loaded moments earlier feeds the pH component.
	locs, err := wh.LocationVersions(ctx, locationHashOf(chicago[0]))
	require.NoError(t, err)
	require.Len(t, locs, 1)
	suit := wh.Suitability(20240601, locs[0].LocationKey, 1)
	require.NotNil(t, suit)
	assert.Greater(t, suit.SuitabilityScore, 0.5)
}

func TestRunFull_OneFailureDoesNotStopOthers(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	o := newTestOrchestrator(wh,
		&fakeWeather{cands: weatherDays()},
		&fakeSoil{err: errors.New("soilgrids timeout")},
		&fakeCrops{sources: nil})

	full, err := o.RunFull(context.Background(), chicago, []string{"wheat"}, "2024-06-01", "2024-06-02")
	require.Error(t, err)

	assert.Equal(t, types.BatchFailed, full.Soil.Status)
	assert.Equal(t, types.BatchSuccess, full.Crops.Status)
	assert.Equal(t, types.BatchSuccess, full.Weather.Status)
	assert.Equal(t, 2, wh.WeatherFactCount())
}

func TestStartup_ProvisionsPartitionsAndRecoversStale(t *testing.T) {
	wh := testutil.NewMemWarehouse()
	o := newTestOrchestrator(wh, nil, nil, nil)
	ctx := context.Background()

	// A RUNNING row from a process that died two days ago.
	staleID := audit.NewBatchID(time.Now().Add(-48 * time.Hour))
	require.NoError(t, wh.InsertAudit(ctx, types.AuditRecord{
		BatchID:      staleID,
		PipelineName: "weather",
		Status:       types.BatchRunning,
		StartTime:    time.Now().UTC().Add(-48 * time.Hour),
	}))

	require.NoError(t, o.Startup(ctx))

	assert.Equal(t, 24, wh.PartitionCount(), "current year plus one future year")
	rec, err := wh.GetAudit(ctx, staleID)
	require.NoError(t, err)
	assert.Equal(t, types.BatchFailed, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "recovered")

	// dim_date backs every fact's date key: it must reach behind today for
	// historical extraction windows and ahead through the partition horizon.
	from, to := wh.DateDimensionRange()
	require.False(t, from.IsZero(), "date dimension populated at startup")
	assert.False(t, from.After(time.Now().AddDate(0, 0, -365)))
	assert.Equal(t, time.Now().Year()+1, to.Year())
	assert.Equal(t, time.December, to.Month())
}

// flakySoilWarehouse drops the connection on the first soil measurement
// flush, after the dimension upsert already committed.
type flakySoilWarehouse struct {
	*testutil.MemWarehouse
	failures atomic.Int32
}

func (w *flakySoilWarehouse) UpsertSoilMeasurements(ctx context.Context, rows []types.SoilMeasurementRow, fps []types.Fingerprint) (int64, int64, error) {
	if w.failures.Add(-1) >= 0 {
		return 0, 0, errors.New("connection reset by peer")
	}
	return w.MemWarehouse.UpsertSoilMeasurements(ctx, rows, fps)
}

func TestRunSoil_ResumesAfterFactFlushFailure(t *testing.T) {
	wh := &flakySoilWarehouse{MemWarehouse: testutil.NewMemWarehouse()}
	wh.failures.Store(1)
	sampled := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	o := newTestOrchestrator(wh, nil, &fakeSoil{cand: types.SoilCandidate{
		PHLevel:     floatp(6.4),
		ExtractedAt: sampled,
	}}, nil)
	ctx := context.Background()

	res, err := o.RunSoil(ctx, chicago)
	require.ErrorIs(t, err, types.ErrTransientInfra)
	assert.Equal(t, types.BatchFailed, res.Status)
	assert.Zero(t, wh.SoilMeasurementCount(), "fact flush failed")

	// The dimension upsert carried no fingerprint, so the record is not
	// marked applied and the rerun completes the measurement instead of
	// skipping it.
	res2, err := o.RunSoil(ctx, chicago)
	require.NoError(t, err)
	assert.Equal(t, types.BatchSuccess, res2.Status)
	assert.Zero(t, res2.Counters.Skipped)
	assert.Equal(t, int64(1), res2.Counters.Processed)
	assert.Equal(t, 1, wh.SoilMeasurementCount())
}

// auditCountingWarehouse records every counter delta the ledger receives.
type auditCountingWarehouse struct {
	*testutil.MemWarehouse
	addCalls atomic.Int32
}

func (w *auditCountingWarehouse) AddAuditCounts(ctx context.Context, batchID string, delta types.Counters) error {
	w.addCalls.Add(1)
	return w.MemWarehouse.AddAuditCounts(ctx, batchID, delta)
}

func TestRunSoil_ReportsCountersPerStage(t *testing.T) {
	wh := &auditCountingWarehouse{MemWarehouse: testutil.NewMemWarehouse()}
	sampled := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	o := newTestOrchestrator(wh, nil, &fakeSoil{cand: types.SoilCandidate{
		PHLevel:     floatp(6.4),
		ExtractedAt: sampled,
	}}, nil)
	ctx := context.Background()

	res, err := o.RunSoil(ctx, chicago)
	require.NoError(t, err)

	// The dimension row lands on the ledger at the loading transition, the
	// fact at finalization; zero deltas are never sent.
	assert.Equal(t, int32(2), wh.addCalls.Load())
	rec, err := wh.GetAudit(ctx, res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Counters.Processed)
	assert.Equal(t, int64(2), rec.Counters.Inserted, "dimension row plus measurement fact")
}

func TestRunSoil_FailedBatchKeepsPartialCounters(t *testing.T) {
	wh := &flakySoilWarehouse{MemWarehouse: testutil.NewMemWarehouse()}
	wh.failures.Store(10)
	sampled := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	o := newTestOrchestrator(wh, nil, &fakeSoil{cand: types.SoilCandidate{
		PHLevel:     floatp(6.4),
		ExtractedAt: sampled,
	}}, nil)
	ctx := context.Background()

	res, err := o.RunSoil(ctx, chicago)
	require.Error(t, err)

	rec, gerr := wh.GetAudit(ctx, res.BatchID)
	require.NoError(t, gerr)
	assert.Equal(t, types.BatchFailed, rec.Status)
	assert.Equal(t, int64(1), rec.Counters.Processed)
	assert.Equal(t, int64(1), rec.Counters.Inserted, "dimension row written before the failure")
}

// gatedWeather serves the first coordinate immediately and holds the second
// until released.
type gatedWeather struct {
	cands   []types.WeatherCandidate
	release chan struct{}
	calls   atomic.Int32
}

func (f *gatedWeather) ExtractHistorical(ctx context.Context, lat, lon float64, startDate, endDate string) ([]types.WeatherCandidate, error) {
	if f.calls.Add(1) > 1 {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make([]types.WeatherCandidate, len(f.cands))
	copy(out, f.cands)
	for i := range out {
		out[i].Latitude = lat
		out[i].Longitude = lon
	}
	return out, nil
}

// releaseOnWeatherWrite opens the gate as soon as the first fact flush lands.
type releaseOnWeatherWrite struct {
	*testutil.MemWarehouse
	release chan struct{}
	once    sync.Once
}

func (w *releaseOnWeatherWrite) UpsertWeatherFacts(ctx context.Context, rows []types.WeatherFactRow, fps []types.Fingerprint) (int64, int64, error) {
	w.once.Do(func() { close(w.release) })
	return w.MemWarehouse.UpsertWeatherFacts(ctx, rows, fps)
}

func TestRunWeather_LoadsWhileExtracting(t *testing.T) {
	release := make(chan struct{})
	wh := &releaseOnWeatherWrite{MemWarehouse: testutil.NewMemWarehouse(), release: release}
	src := &gatedWeather{cands: weatherDays(), release: release}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	o := New(Params{
		Warehouse:  wh,
		Recorder:   audit.NewRecorder(wh, 24*time.Hour, log),
		Merger:     dimension.NewMerger(wh, 0.5, log),
		Guard:      idempotency.NewGuard(wh, log),
		Partitions: partition.NewManager(wh, 1, log),
		Weather:    src,
		BatchSize:  1,
		QueueDepth: 1,
		Logger:     log,
	})

	// The second extraction only proceeds once the first coordinate's facts
	// reach the warehouse, so buffering the whole window before loading
	// would never finish.
	coords := []types.Coordinate{
		{Lat: 41.8781, Lon: -87.6298},
		{Lat: 52.5200, Lon: 13.4050},
	}
	res, err := o.RunWeather(context.Background(), coords, "2024-06-01", "2024-06-02")
	require.NoError(t, err)

	assert.Equal(t, types.BatchSuccess, res.Status)
	assert.Equal(t, int64(4), res.Counters.Processed)
	assert.Equal(t, 4, wh.WeatherFactCount())
}

// locationHashOf mirrors the identity derivation used throughout the module.
func locationHashOf(c types.Coordinate) string {
	return transform.LocationHash(c.Lat, c.Lon)
}
