// Package testutil provides an in-memory warehouse fake for unit tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agroflow-systems/agroflow/pkg/types"
)

// MemWarehouse is an in-memory stand-in for the Postgres store. It mirrors
// the store's semantics closely enough for orchestration tests: fingerprints
// register atomically with writes, fact upserts fail when the target month's
// partition has not been ensured, and terminal audit rows are immutable.
type MemWarehouse struct {
	mu sync.Mutex

	fingerprints map[string]types.Fingerprint
	locations    []types.LocationRow
	soil         map[string]types.SoilProfileRow
	crops        map[string]types.CropRow
	partitions   map[string]bool
	weather      map[string]types.WeatherFactRow
	soilFacts    map[string]types.SoilMeasurementRow
	suitability  map[string]types.CropSuitabilityRow
	audits       map[string]*types.AuditRecord

	nextLocKey  int64
	nextSoilKey int64
	nextCropKey int64

	dateFrom time.Time
	dateTo   time.Time

	// FailWrites, when set, makes every write method return this error.
	// Tests use it to simulate infrastructure outages mid-batch.
	FailWrites error
}

func NewMemWarehouse() *MemWarehouse {
	return &MemWarehouse{
		fingerprints: make(map[string]types.Fingerprint),
		soil:         make(map[string]types.SoilProfileRow),
		crops:        make(map[string]types.CropRow),
		partitions:   make(map[string]bool),
		weather:      make(map[string]types.WeatherFactRow),
		soilFacts:    make(map[string]types.SoilMeasurementRow),
		suitability:  make(map[string]types.CropSuitabilityRow),
		audits:       make(map[string]*types.AuditRecord),
	}
}

func (m *MemWarehouse) register(fp types.Fingerprint) {
	if fp.Hash == "" {
		return
	}
	if _, ok := m.fingerprints[fp.Hash]; !ok {
		m.fingerprints[fp.Hash] = fp
	}
}

func (m *MemWarehouse) SeenFingerprint(_ context.Context, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.fingerprints[hash]
	return ok, nil
}

// FingerprintCount reports how many fingerprints are registered.
func (m *MemWarehouse) FingerprintCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fingerprints)
}

func (m *MemWarehouse) CurrentLocation(_ context.Context, locationHash string) (*types.LocationRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.locations {
		if m.locations[i].LocationHash == locationHash && m.locations[i].IsCurrent {
			row := m.locations[i]
			return &row, nil
		}
	}
	return nil, nil
}

func (m *MemWarehouse) InsertLocation(_ context.Context, row types.LocationRow, fp types.Fingerprint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return 0, m.FailWrites
	}
	m.nextLocKey++
	row.LocationKey = m.nextLocKey
	row.ExpirationDate = types.ExpirationSentinel
	row.IsCurrent = true
	m.locations = append(m.locations, row)
	m.register(fp)
	return row.LocationKey, nil
}

func (m *MemWarehouse) RotateLocation(_ context.Context, currentKey int64, row types.LocationRow, fp types.Fingerprint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return 0, m.FailWrites
	}
	rotated := false
	for i := range m.locations {
		if m.locations[i].LocationKey == currentKey && m.locations[i].IsCurrent {
			m.locations[i].ExpirationDate = row.EffectiveDate.AddDate(0, 0, -1)
			m.locations[i].IsCurrent = false
			rotated = true
			break
		}
	}
	if !rotated {
		return 0, fmt.Errorf("rotate location: key %d is not the current version", currentKey)
	}
	m.nextLocKey++
	row.LocationKey = m.nextLocKey
	row.ExpirationDate = types.ExpirationSentinel
	row.IsCurrent = true
	m.locations = append(m.locations, row)
	m.register(fp)
	return row.LocationKey, nil
}

func (m *MemWarehouse) LocationVersions(_ context.Context, locationHash string) ([]types.LocationRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var versions []types.LocationRow
	for _, row := range m.locations {
		if row.LocationHash == locationHash {
			versions = append(versions, row)
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].EffectiveDate.Before(versions[j].EffectiveDate)
	})
	return versions, nil
}

func soilKey(locationKey int64, extractionDate time.Time) string {
	return fmt.Sprintf("%d|%s", locationKey, extractionDate.Format("2006-01-02"))
}

func (m *MemWarehouse) UpsertSoilProfile(_ context.Context, row types.SoilProfileRow, fp types.Fingerprint) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return 0, false, m.FailWrites
	}
	k := soilKey(row.LocationKey, row.ExtractionDate)
	if existing, ok := m.soil[k]; ok {
		row.SoilKey = existing.SoilKey
		m.soil[k] = row
		m.register(fp)
		return row.SoilKey, false, nil
	}
	m.nextSoilKey++
	row.SoilKey = m.nextSoilKey
	m.soil[k] = row
	m.register(fp)
	return row.SoilKey, true, nil
}

func (m *MemWarehouse) LatestSoilProfile(_ context.Context, locationKey int64) (*types.SoilProfileRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *types.SoilProfileRow
	for k := range m.soil {
		row := m.soil[k]
		if row.LocationKey != locationKey {
			continue
		}
		if latest == nil || row.ExtractionDate.After(latest.ExtractionDate) {
			cp := row
			latest = &cp
		}
	}
	return latest, nil
}

func (m *MemWarehouse) ListCrops(_ context.Context) ([]types.CropRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var crops []types.CropRow
	for name := range m.crops {
		crops = append(crops, m.crops[name])
	}
	sort.Slice(crops, func(i, j int) bool { return crops[i].CropName < crops[j].CropName })
	return crops, nil
}

func (m *MemWarehouse) GetCrop(_ context.Context, cropName string) (*types.CropRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.crops[cropName]; ok {
		return &row, nil
	}
	return nil, nil
}

func (m *MemWarehouse) UpsertCrop(_ context.Context, row types.CropRow, fp types.Fingerprint) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return 0, false, m.FailWrites
	}
	if existing, ok := m.crops[row.CropName]; ok {
		row.CropKey = existing.CropKey
		m.crops[row.CropName] = row
		m.register(fp)
		return row.CropKey, false, nil
	}
	m.nextCropKey++
	row.CropKey = m.nextCropKey
	m.crops[row.CropName] = row
	m.register(fp)
	return row.CropKey, true, nil
}

func partitionName(year int, month time.Month) string {
	return fmt.Sprintf("y%04dm%02d", year, int(month))
}

func (m *MemWarehouse) EnsureWeatherPartition(_ context.Context, year int, month time.Month) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.partitions[partitionName(year, month)] = true
	return nil
}

// PartitionCount reports how many weather partitions have been ensured.
func (m *MemWarehouse) PartitionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.partitions)
}

func (m *MemWarehouse) PopulateDateDimension(_ context.Context, from, to time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	if m.dateFrom.IsZero() || from.Before(m.dateFrom) {
		m.dateFrom = from
	}
	if to.After(m.dateTo) {
		m.dateTo = to
	}
	return nil
}

// DateDimensionRange reports the populated dim_date span; zero times mean the
// dimension was never populated.
func (m *MemWarehouse) DateDimensionRange() (time.Time, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dateFrom, m.dateTo
}

func (m *MemWarehouse) UpsertWeatherFacts(_ context.Context, rows []types.WeatherFactRow, fps []types.Fingerprint) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return 0, 0, m.FailWrites
	}
	var inserted, updated int64
	for _, r := range rows {
		year, month := r.DateKey/10000, time.Month(r.DateKey/100%100)
		if !m.partitions[partitionName(year, month)] {
			return 0, 0, fmt.Errorf("no partition for date_key %d", r.DateKey)
		}
		k := fmt.Sprintf("%d|%d", r.DateKey, r.LocationKey)
		if _, ok := m.weather[k]; ok {
			updated++
		} else {
			inserted++
		}
		m.weather[k] = r
	}
	for _, fp := range fps {
		m.register(fp)
	}
	return inserted, updated, nil
}

// WeatherFact returns the stored fact for a natural key, or nil.
func (m *MemWarehouse) WeatherFact(dateKey int, locationKey int64) *types.WeatherFactRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.weather[fmt.Sprintf("%d|%d", dateKey, locationKey)]; ok {
		return &row
	}
	return nil
}

// WeatherFactCount reports the number of stored weather facts.
func (m *MemWarehouse) WeatherFactCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.weather)
}

func (m *MemWarehouse) UpsertSoilMeasurements(_ context.Context, rows []types.SoilMeasurementRow, fps []types.Fingerprint) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return 0, 0, m.FailWrites
	}
	var inserted, updated int64
	for _, r := range rows {
		k := fmt.Sprintf("%d|%d", r.DateKey, r.LocationKey)
		if _, ok := m.soilFacts[k]; ok {
			updated++
		} else {
			inserted++
		}
		m.soilFacts[k] = r
	}
	for _, fp := range fps {
		m.register(fp)
	}
	return inserted, updated, nil
}

// SoilMeasurementCount reports the number of stored soil measurement facts.
func (m *MemWarehouse) SoilMeasurementCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.soilFacts)
}

func (m *MemWarehouse) UpsertCropSuitability(_ context.Context, rows []types.CropSuitabilityRow, fps []types.Fingerprint) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return 0, 0, m.FailWrites
	}
	var inserted, updated int64
	for _, r := range rows {
		k := fmt.Sprintf("%d|%d|%d", r.DateKey, r.LocationKey, r.CropKey)
		if _, ok := m.suitability[k]; ok {
			updated++
		} else {
			inserted++
		}
		m.suitability[k] = r
	}
	for _, fp := range fps {
		m.register(fp)
	}
	return inserted, updated, nil
}

// SuitabilityCount reports the number of stored crop suitability facts.
func (m *MemWarehouse) SuitabilityCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.suitability)
}

// Suitability returns a stored suitability fact, or nil if absent.
func (m *MemWarehouse) Suitability(dateKey int, locationKey, cropKey int64) *types.CropSuitabilityRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.suitability[fmt.Sprintf("%d|%d|%d", dateKey, locationKey, cropKey)]
	if !ok {
		return nil
	}
	return &r
}

func (m *MemWarehouse) InsertAudit(_ context.Context, rec types.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	if _, ok := m.audits[rec.BatchID]; ok {
		return fmt.Errorf("insert audit: duplicate batch id %s", rec.BatchID)
	}
	cp := rec
	m.audits[rec.BatchID] = &cp
	return nil
}

func (m *MemWarehouse) AddAuditCounts(_ context.Context, batchID string, delta types.Counters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.audits[batchID]
	if !ok || rec.Status != types.BatchRunning {
		return fmt.Errorf("add audit counts: batch %s is not running", batchID)
	}
	rec.Counters = rec.Counters.Add(delta)
	return nil
}

func (m *MemWarehouse) CompleteAudit(_ context.Context, batchID string, status types.BatchStatus, errMsg string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.audits[batchID]
	if !ok || rec.Status != types.BatchRunning {
		return fmt.Errorf("complete audit: batch %s is not running", batchID)
	}
	rec.Status = status
	rec.ErrorMessage = errMsg
	rec.EndTime = &endedAt
	return nil
}

func (m *MemWarehouse) GetAudit(_ context.Context, batchID string) (*types.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.audits[batchID]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, nil
}

func (m *MemWarehouse) ListAudits(_ context.Context, since time.Time, limit int) ([]types.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var records []types.AuditRecord
	for _, rec := range m.audits {
		if !rec.StartTime.Before(since) {
			records = append(records, *rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartTime.After(records[j].StartTime)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (m *MemWarehouse) StaleRunning(_ context.Context, olderThan time.Time) ([]types.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var records []types.AuditRecord
	for _, rec := range m.audits {
		if rec.Status == types.BatchRunning && rec.StartTime.Before(olderThan) {
			records = append(records, *rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartTime.Before(records[j].StartTime)
	})
	return records, nil
}

func (m *MemWarehouse) Ping(context.Context) error { return nil }

func (m *MemWarehouse) Close() {}
