package types

import "time"

// ExpirationSentinel is the far-future expiration date carried by the current
// version of an SCD2 dimension row.
var ExpirationSentinel = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// Counters aggregates per-batch record counts.
type Counters struct {
	Processed int64 `json:"processed"`
	Inserted  int64 `json:"inserted"`
	Updated   int64 `json:"updated"`
	Skipped   int64 `json:"skipped"`
	Failed    int64 `json:"failed"`
}

// Add returns the element-wise sum of two counter sets.
func (c Counters) Add(d Counters) Counters {
	return Counters{
		Processed: c.Processed + d.Processed,
		Inserted:  c.Inserted + d.Inserted,
		Updated:   c.Updated + d.Updated,
		Skipped:   c.Skipped + d.Skipped,
		Failed:    c.Failed + d.Failed,
	}
}

// Sub returns the element-wise difference of two counter sets.
func (c Counters) Sub(d Counters) Counters {
	return Counters{
		Processed: c.Processed - d.Processed,
		Inserted:  c.Inserted - d.Inserted,
		Updated:   c.Updated - d.Updated,
		Skipped:   c.Skipped - d.Skipped,
		Failed:    c.Failed - d.Failed,
	}
}

// AuditRecord is one row of the etl_audit_log batch ledger. It is created
// RUNNING when a batch starts and becomes immutable once the status leaves
// RUNNING.
type AuditRecord struct {
	BatchID      string                 `json:"batchId"`
	PipelineName string                 `json:"pipelineName"`
	Status       BatchStatus            `json:"status"`
	Counters     Counters               `json:"counters"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	StartTime    time.Time              `json:"startTime"`
	EndTime      *time.Time             `json:"endTime,omitempty"`
}

// Fingerprint is the durable identity of an applied logical record: a stable
// content hash plus the entity it belongs to. Existence of the hash in the
// registry is the sole duplicate signal.
type Fingerprint struct {
	Hash       string
	EntityType EntityType
	EntityID   string
}

// LocationRow is an SCD2 version of the location dimension. For a given
// LocationHash exactly one row is current, and all rows for that hash form a
// gapless sequence of [EffectiveDate, ExpirationDate) intervals.
type LocationRow struct {
	LocationKey    int64
	Latitude       float64
	Longitude      float64
	CountryCode    *string
	CountryName    *string
	AdminRegion    *string
	ClimateZone    *string
	ElevationM     *float64
	LocationHash   string
	EffectiveDate  time.Time
	ExpirationDate time.Time
	IsCurrent      bool
}

// TrackedAttributesEqual reports whether the SCD2-tracked attributes of two
// location versions match. A new version is opened only when they differ.
func (r LocationRow) TrackedAttributesEqual(o LocationRow) bool {
	return ptrStrEq(r.CountryCode, o.CountryCode) &&
		ptrStrEq(r.CountryName, o.CountryName) &&
		ptrStrEq(r.AdminRegion, o.AdminRegion) &&
		ptrStrEq(r.ClimateZone, o.ClimateZone) &&
		ptrFloatEq(r.ElevationM, o.ElevationM)
}

// SoilProfileRow is a Type-1 soil dimension row keyed by (location, extraction date).
type SoilProfileRow struct {
	SoilKey        int64
	LocationKey    int64
	SoilTexture    *string
	ClayContent    *float64
	SandContent    *float64
	SiltContent    *float64
	PHLevel        *float64
	OrganicCarbon  *float64
	BulkDensity    *float64
	WaterCapacity  *float64
	SoilDepthCM    int
	ExtractionDate time.Time
	Metadata       map[string]interface{}
}

// CropRow is a Type-1 crop dimension row keyed by crop name. It carries the
// extraction confidence and provenance of the NLP-derived requirements.
type CropRow struct {
	CropKey              int64
	CropName             string
	OptimalTempMinC      *float64
	OptimalTempMaxC      *float64
	WaterRequirementMM   *float64
	SunlightHoursMin     *float64
	SunlightHoursMax     *float64
	SoilPHMin            *float64
	SoilPHMax            *float64
	ExtractionConfidence float64
	ExtractionDate       time.Time
	SourceURLs           []string
}

// WeatherFactRow is one daily weather observation resolved against its
// dimensions. Natural key: (DateKey, LocationKey).
type WeatherFactRow struct {
	LocationKey        int64
	DateKey            int
	Latitude           float64
	Longitude          float64
	TempMaxC           *float64
	TempMinC           *float64
	TempMeanC          *float64
	PrecipitationMM    *float64
	EvapotranspirationMM *float64
	SolarRadiationMJ   *float64
	HumidityPercent    *float64
	WindSpeedMS        *float64
	WeatherCode        *int
	BatchID            string
}

// SoilMeasurementRow is one soil sampling observation. Natural key:
// (DateKey, LocationKey).
type SoilMeasurementRow struct {
	LocationKey   int64
	DateKey       int
	PHLevel       *float64
	OrganicCarbon *float64
	BulkDensity   *float64
	WaterCapacity *float64
	BatchID       string
}

// CropSuitabilityRow scores one crop for one location on one date.
// Natural key: (DateKey, LocationKey, CropKey).
type CropSuitabilityRow struct {
	CropKey          int64
	LocationKey      int64
	DateKey          int
	SuitabilityScore float64
	BatchID          string
}

func ptrStrEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func ptrFloatEq(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
