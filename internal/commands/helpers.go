// Package commands implements the CLI subcommands for the agroflow binary.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agroflow-systems/agroflow/internal/audit"
	"github.com/agroflow-systems/agroflow/internal/config"
	"github.com/agroflow-systems/agroflow/internal/dimension"
	"github.com/agroflow-systems/agroflow/internal/extract"
	"github.com/agroflow-systems/agroflow/internal/idempotency"
	"github.com/agroflow-systems/agroflow/internal/orchestrator"
	"github.com/agroflow-systems/agroflow/internal/partition"
	"github.com/agroflow-systems/agroflow/internal/warehouse/postgres"
	"github.com/agroflow-systems/agroflow/pkg/types"
)

// defaultCoordinates are the extraction targets used when --coords is not
// given: Chicago, Berlin, São Paulo, Delhi.
var defaultCoordinates = []types.Coordinate{
	{Lat: 41.8781, Lon: -87.6298},
	{Lat: 52.5200, Lon: 13.4050},
	{Lat: -23.5505, Lon: -46.6333},
	{Lat: 28.6139, Lon: 77.2090},
}

// defaultCrops are the crops profiled when --crops is not given.
var defaultCrops = []string{"wheat", "maize", "rice", "soybean", "potato"}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// openStore connects to the configured warehouse and applies the schema.
// The DDL is idempotent, so running it on every start is safe.
func openStore(ctx context.Context, cfg *types.ProjectConfig) (*postgres.Store, error) {
	store, err := postgres.New(ctx, config.DSN(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("connecting to warehouse: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrating warehouse: %w", err)
	}
	return store, nil
}

// buildOrchestrator assembles the pipeline engine from the project config.
func buildOrchestrator(cfg *types.ProjectConfig, store *postgres.Store, log *slog.Logger) *orchestrator.Orchestrator {
	retry := *cfg.Pipeline.Retry
	staleAfter, err := time.ParseDuration(cfg.Audit.StaleAfter)
	if err != nil {
		staleAfter = 24 * time.Hour
	}

	return orchestrator.New(orchestrator.Params{
		Warehouse:  store,
		Recorder:   audit.NewRecorder(store, staleAfter, log),
		Merger:     dimension.NewMerger(store, cfg.Pipeline.CropMinConfidence, log),
		Guard:      idempotency.NewGuard(store, log),
		Partitions: partition.NewManager(store, cfg.Partitions.FutureYears, log),
		Weather:    extract.NewOpenMeteo(*cfg.Weather, retry, cfg.Scraper.UserAgent, log),
		Soil:       extract.NewSoilGrids(*cfg.Soil, retry, cfg.Scraper.UserAgent, log),
		Crops:      extract.NewScraper(*cfg.Scraper, log),
		BatchSize:  cfg.Pipeline.BatchSize,
		QueueDepth: cfg.Pipeline.QueueDepth,
		Retry:      retry,
		Logger:     log,
	})
}

// parseCoordinates parses a semicolon-separated list of lat,lon pairs,
// e.g. "41.88,-87.63;52.52,13.41".
func parseCoordinates(raw string) ([]types.Coordinate, error) {
	if strings.TrimSpace(raw) == "" {
		return defaultCoordinates, nil
	}
	var coords []types.Coordinate
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.Split(pair, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("coordinate %q: want lat,lon", pair)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("coordinate %q: bad latitude", pair)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("coordinate %q: bad longitude", pair)
		}
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return nil, fmt.Errorf("coordinate %q: out of range", pair)
		}
		coords = append(coords, types.Coordinate{Lat: lat, Lon: lon})
	}
	if len(coords) == 0 {
		return nil, fmt.Errorf("no coordinates in %q", raw)
	}
	return coords, nil
}

// parseCrops parses a comma-separated crop list.
func parseCrops(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return defaultCrops
	}
	var crops []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			crops = append(crops, strings.ToLower(c))
		}
	}
	if len(crops) == 0 {
		return defaultCrops
	}
	return crops
}

// defaultWindow is the extraction date window used when --start-date and
// --end-date are omitted: the 365 days up to today.
func defaultWindow(now time.Time) (string, string) {
	end := now.UTC()
	start := end.AddDate(0, 0, -365)
	return start.Format("2006-01-02"), end.Format("2006-01-02")
}

func validateWindow(startDate, endDate string) error {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return fmt.Errorf("start date %q: want YYYY-MM-DD", startDate)
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return fmt.Errorf("end date %q: want YYYY-MM-DD", endDate)
	}
	if end.Before(start) {
		return fmt.Errorf("end date %s is before start date %s", endDate, startDate)
	}
	return nil
}
