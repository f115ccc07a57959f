// Package warehouse defines the storage backend interface for the agroflow
// dimensional warehouse. The Postgres implementation lives in the postgres
// subpackage; tests use an in-memory fake.
package warehouse

import (
	"context"
	"time"

	"github.com/agroflow-systems/agroflow/pkg/types"
)

// Warehouse is the storage backend interface. Write methods that accept a
// Fingerprint register it in the idempotency registry within the same
// transaction as the write, so a crash can never separate "applied" from
// "registered".
type Warehouse interface {
	// Fingerprint registry
	SeenFingerprint(ctx context.Context, hash string) (bool, error)

	// Location dimension (SCD2)
	CurrentLocation(ctx context.Context, locationHash string) (*types.LocationRow, error)
	InsertLocation(ctx context.Context, row types.LocationRow, fp types.Fingerprint) (int64, error)
	// RotateLocation atomically expires the current version and opens a new
	// one. The old row's expiration date is set to the new effective date
	// minus one day; both updates commit together or not at all.
	RotateLocation(ctx context.Context, currentKey int64, row types.LocationRow, fp types.Fingerprint) (int64, error)
	LocationVersions(ctx context.Context, locationHash string) ([]types.LocationRow, error)

	// Soil dimension (SCD1, keyed by location + extraction date)
	UpsertSoilProfile(ctx context.Context, row types.SoilProfileRow, fp types.Fingerprint) (key int64, inserted bool, err error)
	LatestSoilProfile(ctx context.Context, locationKey int64) (*types.SoilProfileRow, error)

	// Crop dimension (SCD1, keyed by crop name)
	GetCrop(ctx context.Context, cropName string) (*types.CropRow, error)
	ListCrops(ctx context.Context) ([]types.CropRow, error)
	UpsertCrop(ctx context.Context, row types.CropRow, fp types.Fingerprint) (key int64, inserted bool, err error)

	// Fact partitions. Creating an existing partition is a no-op.
	EnsureWeatherPartition(ctx context.Context, year int, month time.Month) error

	// Date dimension. Existing rows are untouched; the pipeline never
	// writes dim_date except through this call.
	PopulateDateDimension(ctx context.Context, from, to time.Time) error

	// Fact upserts, bulk. Returned counts distinguish fresh inserts from
	// in-place updates of the same natural key.
	UpsertWeatherFacts(ctx context.Context, rows []types.WeatherFactRow, fps []types.Fingerprint) (inserted, updated int64, err error)
	UpsertSoilMeasurements(ctx context.Context, rows []types.SoilMeasurementRow, fps []types.Fingerprint) (inserted, updated int64, err error)
	UpsertCropSuitability(ctx context.Context, rows []types.CropSuitabilityRow, fps []types.Fingerprint) (inserted, updated int64, err error)

	// Audit ledger
	InsertAudit(ctx context.Context, rec types.AuditRecord) error
	AddAuditCounts(ctx context.Context, batchID string, delta types.Counters) error
	CompleteAudit(ctx context.Context, batchID string, status types.BatchStatus, errMsg string, endedAt time.Time) error
	GetAudit(ctx context.Context, batchID string) (*types.AuditRecord, error)
	ListAudits(ctx context.Context, since time.Time, limit int) ([]types.AuditRecord, error)
	StaleRunning(ctx context.Context, olderThan time.Time) ([]types.AuditRecord, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close()
}
