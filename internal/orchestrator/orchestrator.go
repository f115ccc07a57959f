// Package orchestrator drives the entity pipelines end to end: extraction
// from the external sources, transformation into typed rows, dimension
// resolution, and fingerprint-guarded fact loading, with every batch bracketed
// by the audit ledger and the stage state machine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agroflow-systems/agroflow/internal/audit"
	"github.com/agroflow-systems/agroflow/internal/dimension"
	"github.com/agroflow-systems/agroflow/internal/idempotency"
	"github.com/agroflow-systems/agroflow/internal/lifecycle"
	"github.com/agroflow-systems/agroflow/internal/loader"
	"github.com/agroflow-systems/agroflow/internal/partition"
	"github.com/agroflow-systems/agroflow/internal/transform"
	"github.com/agroflow-systems/agroflow/internal/warehouse"
	"github.com/agroflow-systems/agroflow/pkg/types"
)

const (
	defaultBatchSize  = 1000
	defaultQueueDepth = 64
	extractWorkers    = 4

	// Budget for writing the terminal ledger row after the run context is
	// cancelled. Fingerprints committed before the failure stay registered.
	finalizeTimeout = 30 * time.Second

	// dim_date must reach far enough back to cover historical extraction
	// windows; the default weather window is one year.
	dateDimLookbackYears = 2
)

// WeatherSource produces daily weather candidates for a coordinate and
// date window.
type WeatherSource interface {
	ExtractHistorical(ctx context.Context, lat, lon float64, startDate, endDate string) ([]types.WeatherCandidate, error)
}

// SoilSource produces the topsoil sample for a coordinate.
type SoilSource interface {
	Extract(ctx context.Context, lat, lon float64) (types.SoilCandidate, error)
}

// CropProfiler fetches the source prose crop requirements are extracted from.
type CropProfiler interface {
	ScrapeCrops(ctx context.Context, crops []string) ([]types.CropSource, error)
}

// Result is the terminal outcome of one pipeline batch.
type Result struct {
	BatchID  string
	Status   types.BatchStatus
	Counters types.Counters
}

// FullResult collects the per-pipeline outcomes of a full run.
type FullResult struct {
	Soil    Result
	Crops   Result
	Weather Result
}

// Params wires an Orchestrator. Warehouse, Recorder, Merger, Guard and
// Partitions are required; a pipeline whose source is nil cannot run.
type Params struct {
	Warehouse  warehouse.Warehouse
	Recorder   *audit.Recorder
	Merger     *dimension.Merger
	Guard      *idempotency.Guard
	Partitions *partition.Manager
	Weather    WeatherSource
	Soil       SoilSource
	Crops      CropProfiler
	BatchSize  int
	QueueDepth int
	Retry      types.RetryPolicy
	Logger     *slog.Logger
}

// Orchestrator runs the weather, soil and crop pipelines against one
// warehouse.
type Orchestrator struct {
	wh         warehouse.Warehouse
	recorder   *audit.Recorder
	merger     *dimension.Merger
	guard      *idempotency.Guard
	partitions *partition.Manager
	weather    WeatherSource
	soil       SoilSource
	crops      CropProfiler
	nlp        *transform.Extractor
	batchSize  int
	queueDepth int
	retry      types.RetryPolicy
	log        *slog.Logger
	now        func() time.Time
}

func New(p Params) *Orchestrator {
	if p.BatchSize <= 0 {
		p.BatchSize = defaultBatchSize
	}
	if p.QueueDepth <= 0 {
		p.QueueDepth = defaultQueueDepth
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &Orchestrator{
		wh:         p.Warehouse,
		recorder:   p.Recorder,
		merger:     p.Merger,
		guard:      p.Guard,
		partitions: p.Partitions,
		weather:    p.Weather,
		soil:       p.Soil,
		crops:      p.Crops,
		nlp:        transform.NewExtractor(),
		batchSize:  p.BatchSize,
		queueDepth: p.QueueDepth,
		retry:      p.Retry,
		log:        p.Logger,
		now:        time.Now,
	}
}

// Startup prepares the warehouse for new batches: the fact partition horizon
// is provisioned ahead of time, the date dimension is populated to cover it
// plus the historical extraction windows, and RUNNING batches abandoned by a
// crashed process are closed as FAILED.
func (o *Orchestrator) Startup(ctx context.Context) error {
	now := o.now()
	if err := o.partitions.EnsureHorizon(ctx, now); err != nil {
		return fmt.Errorf("ensure partition horizon: %w", err)
	}
	from := now.AddDate(-dateDimLookbackYears, 0, 0)
	if err := o.wh.PopulateDateDimension(ctx, from, o.partitions.HorizonEnd(now)); err != nil {
		return fmt.Errorf("populate date dimension: %w", err)
	}
	recovered, err := o.recorder.RecoverStale(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		o.log.Info("stale batches recovered", "count", recovered)
	}
	return nil
}

// batch tracks one running pipeline batch: its ledger row, its stage, the
// loader accumulating its counters, and how much of them the ledger has seen.
type batch struct {
	id       string
	stage    types.Stage
	loader   *loader.Loader
	rec      *audit.Recorder
	reported types.Counters
	log      *slog.Logger
}

func (o *Orchestrator) begin(ctx context.Context, pipeline string, metadata map[string]interface{}) (*batch, error) {
	id, err := o.recorder.Begin(ctx, pipeline, metadata)
	if err != nil {
		return nil, err
	}
	return &batch{
		id:     id,
		stage:  types.StageCreated,
		loader: loader.New(o.wh, o.guard, o.partitions, o.batchSize, o.retry, o.log),
		rec:    o.recorder,
		log:    o.log.With("batch_id", id, "pipeline", pipeline),
	}, nil
}

func (b *batch) advance(ctx context.Context, to types.Stage) error {
	if err := lifecycle.Transition(b.stage, to); err != nil {
		return err
	}
	b.log.Debug("stage", "from", b.stage, "to", to)
	b.stage = to
	b.reportProgress(ctx)
	return nil
}

// reportProgress lands the counter delta since the last report on the ledger,
// so a batch that dies mid-run leaves its partial counts behind. A failed
// report is not fatal; the unreported delta is carried forward.
func (b *batch) reportProgress(ctx context.Context) {
	current := b.loader.Counters()
	delta := current.Sub(b.reported)
	if delta == (types.Counters{}) {
		return
	}
	if err := b.rec.Add(ctx, b.id, delta); err != nil {
		b.log.Warn("progress report failed", "error", err)
		return
	}
	b.reported = current
}

// finish lands the batch on its terminal ledger row. Failure finalization
// runs on a detached context so a cancelled run still records FAILED.
func (o *Orchestrator) finish(ctx context.Context, b *batch, runErr error) (Result, error) {
	counters := b.loader.Counters()

	if runErr == nil {
		if err := b.advance(ctx, types.StageSucceeded); err != nil {
			runErr = err
		}
	}
	if runErr == nil {
		if delta := counters.Sub(b.reported); delta != (types.Counters{}) {
			if err := o.recorder.Add(ctx, b.id, delta); err != nil {
				runErr = err
			} else {
				b.reported = counters
			}
		}
	}
	if runErr == nil {
		if err := o.recorder.Complete(ctx, b.id, types.BatchSuccess, ""); err != nil {
			return Result{}, err
		}
		return Result{BatchID: b.id, Status: types.BatchSuccess, Counters: counters}, nil
	}

	b.stage = types.StageFailed
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if delta := counters.Sub(b.reported); delta != (types.Counters{}) {
		if err := o.recorder.Add(fctx, b.id, delta); err != nil {
			b.log.Error("failed to record partial counters", "error", err)
		}
	}
	if err := o.recorder.Complete(fctx, b.id, types.BatchFailed, runErr.Error()); err != nil {
		b.log.Error("failed to finalize batch", "error", err)
	}
	return Result{BatchID: b.id, Status: types.BatchFailed, Counters: counters}, runErr
}

// RunWeather ingests daily weather for the given coordinates and date window
// and refreshes the derived crop suitability facts for every day it loads.
func (o *Orchestrator) RunWeather(ctx context.Context, coords []types.Coordinate, startDate, endDate string) (Result, error) {
	b, err := o.begin(ctx, "weather", map[string]interface{}{
		"coordinates": len(coords),
		"start_date":  startDate,
		"end_date":    endDate,
	})
	if err != nil {
		return Result{}, err
	}
	return o.finish(ctx, b, o.runWeather(ctx, b, coords, startDate, endDate))
}

func (o *Orchestrator) runWeather(ctx context.Context, b *batch, coords []types.Coordinate, startDate, endDate string) error {
	if o.weather == nil {
		return fmt.Errorf("%w: no weather source configured", types.ErrFatalInfra)
	}
	winFrom, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return fmt.Errorf("%w: start date %q", types.ErrValidationFailure, startDate)
	}
	winTo, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return fmt.Errorf("%w: end date %q", types.ErrValidationFailure, endDate)
	}

	if err := b.advance(ctx, types.StageExtracting); err != nil {
		return err
	}
	ectx, cancel := context.WithCancel(ctx)
	defer cancel()
	out, done := o.startWeatherExtraction(ectx, coords, startDate, endDate)

	// Candidates stream through the remaining phases as extraction produces
	// them: the bounded channel is the only buffer, so a slow warehouse
	// blocks the extraction workers instead of accumulating the whole window
	// in memory. The stage markers advance as each phase first opens.
	if err := b.advance(ctx, types.StageTransforming); err != nil {
		return err
	}
	if err := b.advance(ctx, types.StageMerging); err != nil {
		return err
	}
	if err := b.advance(ctx, types.StageLoading); err != nil {
		return err
	}

	if err := o.retryWrite(ctx, "populate date dimension", func() error {
		return o.wh.PopulateDateDimension(ctx, winFrom, winTo)
	}); err != nil {
		return err
	}
	crops, err := o.wh.ListCrops(ctx)
	if err != nil {
		return fmt.Errorf("%w: list crops: %v", types.ErrTransientInfra, err)
	}

	locKeys := make(map[string]int64)
	soilByLoc := make(map[int64]*types.SoilProfileRow)
	for cand := range out {
		row, err := transform.WeatherFact(cand, 0, b.id)
		if err != nil {
			b.loader.RecordFailed()
			b.log.Warn("weather candidate rejected", "date", cand.Date, "error", err)
			continue
		}

		hash := transform.LocationHash(cand.Latitude, cand.Longitude)
		key, ok := locKeys[hash]
		if !ok {
			res, rerr := o.resolveLocation(ctx, cand.Latitude, cand.Longitude, o.now())
			if rerr != nil {
				return rerr
			}
			key = res.Key
			locKeys[hash] = key
		}
		row.LocationKey = key

		outcome, err := b.loader.AddWeather(ctx, row, idempotency.Weather(cand))
		if err != nil {
			return err
		}
		if outcome == types.OutcomeApplied {
			if err := o.addSuitability(ctx, b, row, crops, soilByLoc); err != nil {
				return err
			}
		}
		if c := b.loader.Counters(); c.Processed-b.reported.Processed >= int64(o.batchSize) {
			b.reportProgress(ctx)
		}
	}
	if err := <-done; err != nil {
		return err
	}
	return b.loader.Flush(ctx)
}

// addSuitability scores every known crop against one loaded weather day,
// using the location's most recent soil profile when one exists.
func (o *Orchestrator) addSuitability(ctx context.Context, b *batch, row types.WeatherFactRow, crops []types.CropRow, soilByLoc map[int64]*types.SoilProfileRow) error {
	if len(crops) == 0 {
		return nil
	}
	soil, ok := soilByLoc[row.LocationKey]
	if !ok {
		var err error
		soil, err = o.wh.LatestSoilProfile(ctx, row.LocationKey)
		if err != nil {
			return fmt.Errorf("%w: latest soil profile: %v", types.ErrTransientInfra, err)
		}
		soilByLoc[row.LocationKey] = soil
	}
	for _, crop := range crops {
		err := b.loader.AddSuitability(ctx, types.CropSuitabilityRow{
			CropKey:          crop.CropKey,
			LocationKey:      row.LocationKey,
			DateKey:          row.DateKey,
			SuitabilityScore: transform.SuitabilityScore(crop, row, soil),
			BatchID:          b.id,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) startWeatherExtraction(ctx context.Context, coords []types.Coordinate, startDate, endDate string) (<-chan types.WeatherCandidate, <-chan error) {
	out := make(chan types.WeatherCandidate, o.queueDepth)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(extractWorkers)
	for _, c := range coords {
		c := c
		g.Go(func() error {
			series, err := o.weather.ExtractHistorical(gctx, c.Lat, c.Lon, startDate, endDate)
			if err != nil {
				return fmt.Errorf("weather %.4f,%.4f: %w", c.Lat, c.Lon, err)
			}
			for _, cand := range series {
				select {
				case out <- cand:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
		close(out)
	}()
	return out, done
}

// RunSoil samples the topsoil at the given coordinates and applies the
// profiles to the soil dimension and the measurement fact table.
func (o *Orchestrator) RunSoil(ctx context.Context, coords []types.Coordinate) (Result, error) {
	b, err := o.begin(ctx, "soil", map[string]interface{}{"coordinates": len(coords)})
	if err != nil {
		return Result{}, err
	}
	return o.finish(ctx, b, o.runSoil(ctx, b, coords))
}

func (o *Orchestrator) runSoil(ctx context.Context, b *batch, coords []types.Coordinate) error {
	if o.soil == nil {
		return fmt.Errorf("%w: no soil source configured", types.ErrFatalInfra)
	}

	if err := b.advance(ctx, types.StageExtracting); err != nil {
		return err
	}
	out := make(chan types.SoilCandidate, len(coords))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(extractWorkers)
	for _, c := range coords {
		c := c
		g.Go(func() error {
			cand, err := o.soil.Extract(gctx, c.Lat, c.Lon)
			if err != nil {
				return fmt.Errorf("soil %.4f,%.4f: %w", c.Lat, c.Lon, err)
			}
			out <- cand
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	close(out)

	if err := b.advance(ctx, types.StageTransforming); err != nil {
		return err
	}
	type staged struct {
		cand    types.SoilCandidate
		profile types.SoilProfileRow
		fp      types.Fingerprint
	}
	var stagedRows []staged
	for cand := range out {
		profile, err := transform.SoilProfile(cand, 0)
		if err != nil {
			b.loader.RecordFailed()
			b.log.Warn("soil candidate rejected", "lat", cand.Latitude, "lon", cand.Longitude, "error", err)
			continue
		}
		stagedRows = append(stagedRows, staged{cand: cand, profile: profile, fp: idempotency.Soil(cand)})
	}

	if err := b.advance(ctx, types.StageMerging); err != nil {
		return err
	}
	type stagedFact struct {
		row types.SoilMeasurementRow
		fp  types.Fingerprint
	}
	var facts []stagedFact
	locKeys := make(map[string]int64)
	for i := range stagedRows {
		s := &stagedRows[i]
		hash := transform.LocationHash(s.cand.Latitude, s.cand.Longitude)
		key, ok := locKeys[hash]
		if !ok {
			res, err := o.resolveLocation(ctx, s.cand.Latitude, s.cand.Longitude, s.cand.ExtractedAt)
			if err != nil {
				return err
			}
			key = res.Key
			locKeys[hash] = key
		}
		s.profile.LocationKey = key

		seen, err := o.guard.Seen(ctx, s.fp)
		if err != nil {
			return err
		}
		if seen {
			b.loader.RecordSkipped()
			continue
		}
		// The dimension upsert carries no fingerprint: overwriting it on a
		// rerun is harmless, while the fingerprint commits with the
		// measurement fact below, so a crash between the two writes leaves
		// the record resumable instead of half-applied.
		var res dimension.Resolution
		err = o.retryWrite(ctx, "merge soil profile", func() error {
			var merr error
			res, merr = o.merger.ResolveSoil(ctx, s.profile, types.Fingerprint{})
			return merr
		})
		if err != nil {
			return err
		}
		b.loader.NoteDimension(res.Outcome)
		facts = append(facts, stagedFact{row: transform.SoilMeasurement(s.profile, b.id), fp: s.fp})
	}

	if err := b.advance(ctx, types.StageLoading); err != nil {
		return err
	}
	for _, fact := range facts {
		if _, err := b.loader.AddSoilMeasurement(ctx, fact.row, fact.fp); err != nil {
			return err
		}
	}
	return b.loader.Flush(ctx)
}

// RunCrops scrapes the requirement prose for the given crops, extracts the
// structured requirements and merges them into the crop dimension. Final
// confidence is the extraction confidence scaled by the source's reliability.
func (o *Orchestrator) RunCrops(ctx context.Context, cropNames []string) (Result, error) {
	b, err := o.begin(ctx, "crop", map[string]interface{}{"crops": len(cropNames)})
	if err != nil {
		return Result{}, err
	}
	return o.finish(ctx, b, o.runCrops(ctx, b, cropNames))
}

func (o *Orchestrator) runCrops(ctx context.Context, b *batch, cropNames []string) error {
	if o.crops == nil {
		return fmt.Errorf("%w: no crop source configured", types.ErrFatalInfra)
	}

	if err := b.advance(ctx, types.StageExtracting); err != nil {
		return err
	}
	sources, err := o.crops.ScrapeCrops(ctx, cropNames)
	if err != nil {
		return err
	}
	b.log.Info("crop scraping complete", "sources", len(sources))

	if err := b.advance(ctx, types.StageTransforming); err != nil {
		return err
	}
	type staged struct {
		row types.CropRow
		fp  types.Fingerprint
	}
	var stagedRows []staged
	for _, src := range sources {
		cand := o.nlp.Extract(src.RawText, src.CropName)
		cand.Confidence *= src.Reliability
		cand.SourceURLs = []string{src.SourceURL}
		stagedRows = append(stagedRows, staged{
			row: transform.CropDimension(cand, o.now()),
			fp:  idempotency.Crop(cand),
		})
	}

	if err := b.advance(ctx, types.StageMerging); err != nil {
		return err
	}
	for _, s := range stagedRows {
		seen, err := o.guard.Seen(ctx, s.fp)
		if err != nil {
			return err
		}
		if seen {
			b.loader.RecordSkipped()
			continue
		}
		var res dimension.Resolution
		err = o.retryWrite(ctx, "merge crop", func() error {
			var merr error
			res, merr = o.merger.ResolveCrop(ctx, s.row, s.fp)
			return merr
		})
		if errors.Is(err, types.ErrLowConfidence) {
			b.loader.RecordDimension(types.OutcomeLowConfidence)
			continue
		}
		if err != nil {
			return err
		}
		b.loader.RecordDimension(res.Outcome)
	}

	if err := b.advance(ctx, types.StageLoading); err != nil {
		return err
	}
	return b.loader.Flush(ctx)
}

// RunFull runs all three pipelines: soil and crops first, concurrently, so
// the weather pipeline's suitability scoring sees fresh dimensions, then
// weather. Each pipeline is its own audited batch; one failing does not stop
// the others.
func (o *Orchestrator) RunFull(ctx context.Context, coords []types.Coordinate, cropNames []string, startDate, endDate string) (FullResult, error) {
	var full FullResult
	var soilErr, cropErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		full.Soil, soilErr = o.RunSoil(gctx, coords)
		return nil
	})
	g.Go(func() error {
		full.Crops, cropErr = o.RunCrops(gctx, cropNames)
		return nil
	})
	_ = g.Wait()

	var weatherErr error
	full.Weather, weatherErr = o.RunWeather(ctx, coords, startDate, endDate)

	return full, errors.Join(soilErr, cropErr, weatherErr)
}

func (o *Orchestrator) resolveLocation(ctx context.Context, lat, lon float64, effective time.Time) (dimension.Resolution, error) {
	row, err := transform.LocationFromCandidate(types.LocationCandidate{Latitude: lat, Longitude: lon}, effective)
	if err != nil {
		return dimension.Resolution{}, err
	}
	var res dimension.Resolution
	err = o.retryWrite(ctx, "resolve location", func() error {
		var merr error
		res, merr = o.merger.ResolveLocation(ctx, row)
		return merr
	})
	if err != nil {
		return dimension.Resolution{}, err
	}
	return res, nil
}

// retryWrite applies the configured retry budget to a transient warehouse
// write and escalates what survives it.
func (o *Orchestrator) retryWrite(ctx context.Context, op string, fn func() error) error {
	err := warehouse.RetryTransient(ctx, o.retry, o.log, op, fn)
	if err == nil || errors.Is(err, types.ErrLowConfidence) || errors.Is(err, types.ErrBatchCancelled) ||
		errors.Is(err, types.ErrValidationFailure) || errors.Is(err, types.ErrFatalInfra) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", types.ErrTransientInfra, op, err)
}
