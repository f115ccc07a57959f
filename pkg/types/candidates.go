package types

import "time"

// Coordinate is a latitude/longitude pair targeted by an extraction run.
type Coordinate struct {
	Lat float64
	Lon float64
}

// LocationCandidate is a typed location observation produced by
// transformation, before dimension resolution.
type LocationCandidate struct {
	Latitude    float64
	Longitude   float64
	CountryCode *string
	CountryName *string
	AdminRegion *string
	ClimateZone *string
	ElevationM  *float64
}

// WeatherCandidate is one daily observation from a weather source.
type WeatherCandidate struct {
	Latitude           float64
	Longitude          float64
	Date               string // YYYY-MM-DD
	TempMaxC           *float64
	TempMinC           *float64
	TempMeanC          *float64
	PrecipitationMM    *float64
	EvapotranspirationMM *float64
	SolarRadiationMJ   *float64
	HumidityPercent    *float64
	WindSpeedMS        *float64
	WeatherCode        *int
}

// SoilCandidate is one soil sample from a soil source, 0-5cm horizon.
type SoilCandidate struct {
	Latitude      float64
	Longitude     float64
	ClayContent   *float64
	SandContent   *float64
	SiltContent   *float64
	PHLevel       *float64
	OrganicCarbon *float64
	BulkDensity   *float64
	WaterCapacity *float64
	Texture       *string
	ExtractedAt   time.Time
}

// CropSource is the scraped prose a crop candidate is extracted from.
type CropSource struct {
	CropName    string
	SourceURL   string
	RawText     string
	Reliability float64 // 0-1, source authority
}

// CropCandidate carries the NLP-derived crop requirements together with the
// extraction confidence and the evidence that produced them.
type CropCandidate struct {
	CropName           string
	TempMinC           *float64
	TempMaxC           *float64
	WaterRequirementMM *float64
	SunlightHours      *float64
	SoilPHMin          *float64
	SoilPHMax          *float64
	Confidence         float64
	ExtractionMethod   string
	SourceURLs         []string
	Evidence           []string
}
