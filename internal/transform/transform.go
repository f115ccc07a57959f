package transform

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/agroflow-systems/agroflow/pkg/types"
)

// LocationHash derives the stable identity of a coordinate pair at six
// decimal places, roughly 11cm of ground truth. Everything that refers to a
// location keys off this hash.
func LocationHash(lat, lon float64) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%.6f,%.6f", lat, lon)))
	return hex.EncodeToString(sum[:])
}

// DateKeyFromISO converts a YYYY-MM-DD date string to the YYYYMMDD integer
// key of the date dimension.
func DateKeyFromISO(date string) (int, error) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0, fmt.Errorf("%w: bad date %q: %v", types.ErrValidationFailure, date, err)
	}
	return t.Year()*10000 + int(t.Month())*100 + t.Day(), nil
}

// ValidateCoordinates rejects out-of-range coordinate pairs.
func ValidateCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90, 90]", types.ErrValidationFailure, lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180, 180]", types.ErrValidationFailure, lon)
	}
	return nil
}

// LocationFromCandidate builds the SCD2 location row a candidate opens,
// effective on the observation day.
func LocationFromCandidate(c types.LocationCandidate, effective time.Time) (types.LocationRow, error) {
	if err := ValidateCoordinates(c.Latitude, c.Longitude); err != nil {
		return types.LocationRow{}, err
	}
	return types.LocationRow{
		Latitude:      c.Latitude,
		Longitude:     c.Longitude,
		CountryCode:   c.CountryCode,
		CountryName:   c.CountryName,
		AdminRegion:   c.AdminRegion,
		ClimateZone:   c.ClimateZone,
		ElevationM:    c.ElevationM,
		LocationHash:  LocationHash(c.Latitude, c.Longitude),
		EffectiveDate: effective.Truncate(24 * time.Hour),
	}, nil
}

// WeatherFact cleans a weather candidate and resolves it to a fact row.
func WeatherFact(c types.WeatherCandidate, locationKey int64, batchID string) (types.WeatherFactRow, error) {
	if err := ValidateCoordinates(c.Latitude, c.Longitude); err != nil {
		return types.WeatherFactRow{}, err
	}
	dateKey, err := DateKeyFromISO(c.Date)
	if err != nil {
		return types.WeatherFactRow{}, err
	}

	tempMax := CleanTemperature(c.TempMaxC)
	tempMin := CleanTemperature(c.TempMinC)
	// Sources occasionally deliver the pair swapped.
	if tempMax != nil && tempMin != nil && *tempMax < *tempMin {
		tempMax, tempMin = tempMin, tempMax
	}

	return types.WeatherFactRow{
		LocationKey:          locationKey,
		DateKey:              dateKey,
		Latitude:             c.Latitude,
		Longitude:            c.Longitude,
		TempMaxC:             tempMax,
		TempMinC:             tempMin,
		TempMeanC:            CleanTemperature(c.TempMeanC),
		PrecipitationMM:      CleanNonNegative(c.PrecipitationMM),
		EvapotranspirationMM: CleanNonNegative(c.EvapotranspirationMM),
		SolarRadiationMJ:     CleanNonNegative(c.SolarRadiationMJ),
		HumidityPercent:      ClampHumidity(c.HumidityPercent),
		WindSpeedMS:          CleanNonNegative(c.WindSpeedMS),
		WeatherCode:          c.WeatherCode,
		BatchID:              batchID,
	}, nil
}

// SoilProfile cleans a soil candidate into a soil dimension row, 0-5cm
// horizon. Texture falls back to the classification triangle when the source
// omits it.
func SoilProfile(c types.SoilCandidate, locationKey int64) (types.SoilProfileRow, error) {
	if err := ValidateCoordinates(c.Latitude, c.Longitude); err != nil {
		return types.SoilProfileRow{}, err
	}

	clay := CleanPercentage(c.ClayContent)
	sand := CleanPercentage(c.SandContent)
	silt := CleanPercentage(c.SiltContent)

	texture := c.Texture
	if texture == nil {
		texture = InferTexture(clay, sand, silt)
	}

	return types.SoilProfileRow{
		LocationKey:    locationKey,
		SoilTexture:    texture,
		ClayContent:    clay,
		SandContent:    sand,
		SiltContent:    silt,
		PHLevel:        CleanPH(c.PHLevel),
		OrganicCarbon:  CleanNonNegative(c.OrganicCarbon),
		BulkDensity:    CleanNonNegative(c.BulkDensity),
		WaterCapacity:  CleanNonNegative(c.WaterCapacity),
		SoilDepthCM:    5,
		ExtractionDate: c.ExtractedAt.UTC().Truncate(24 * time.Hour),
		Metadata: map[string]interface{}{
			"source": "SoilGrids",
			"coordinates": map[string]float64{
				"lat": c.Latitude,
				"lon": c.Longitude,
			},
		},
	}, nil
}

// SoilMeasurement builds the fact-grain counterpart of a soil sample.
func SoilMeasurement(row types.SoilProfileRow, batchID string) types.SoilMeasurementRow {
	return types.SoilMeasurementRow{
		LocationKey:   row.LocationKey,
		DateKey:       row.ExtractionDate.Year()*10000 + int(row.ExtractionDate.Month())*100 + row.ExtractionDate.Day(),
		PHLevel:       row.PHLevel,
		OrganicCarbon: row.OrganicCarbon,
		BulkDensity:   row.BulkDensity,
		WaterCapacity: row.WaterCapacity,
		BatchID:       batchID,
	}
}

// CropDimension builds the crop dimension row from an extraction result.
func CropDimension(c types.CropCandidate, extractionDate time.Time) types.CropRow {
	return types.CropRow{
		CropName:             c.CropName,
		OptimalTempMinC:      c.TempMinC,
		OptimalTempMaxC:      c.TempMaxC,
		WaterRequirementMM:   c.WaterRequirementMM,
		SunlightHoursMin:     c.SunlightHours,
		SunlightHoursMax:     c.SunlightHours,
		SoilPHMin:            c.SoilPHMin,
		SoilPHMax:            c.SoilPHMax,
		ExtractionConfidence: c.Confidence,
		ExtractionDate:       extractionDate.UTC().Truncate(24 * time.Hour),
		SourceURLs:           c.SourceURLs,
	}
}

// SuitabilityScore rates how well one day's conditions at a location fit a
// crop's requirements, 0 to 1. Each requirement the crop actually has
// contributes one component: inside the optimal band scores full, outside
// decays linearly with distance. Crops with no usable requirements score 0.
func SuitabilityScore(crop types.CropRow, weather types.WeatherFactRow, soil *types.SoilProfileRow) float64 {
	var sum float64
	var n int

	if crop.OptimalTempMinC != nil && crop.OptimalTempMaxC != nil && weather.TempMeanC != nil {
		sum += bandScore(*weather.TempMeanC, *crop.OptimalTempMinC, *crop.OptimalTempMaxC, 10)
		n++
	}
	if crop.WaterRequirementMM != nil && *crop.WaterRequirementMM > 0 && weather.PrecipitationMM != nil {
		ratio := *weather.PrecipitationMM / *crop.WaterRequirementMM
		if ratio > 1 {
			ratio = 1
		}
		sum += ratio
		n++
	}
	if crop.SoilPHMin != nil && crop.SoilPHMax != nil && soil != nil && soil.PHLevel != nil {
		sum += bandScore(*soil.PHLevel, *crop.SoilPHMin, *crop.SoilPHMax, 2)
		n++
	}

	if n == 0 {
		return 0
	}
	return math.Round(sum/float64(n)*1000) / 1000
}

// bandScore is 1 inside [lo, hi] and decays linearly to 0 over falloff units
// outside the band.
func bandScore(v, lo, hi, falloff float64) float64 {
	var dist float64
	switch {
	case v < lo:
		dist = lo - v
	case v > hi:
		dist = v - hi
	default:
		return 1
	}
	if dist >= falloff {
		return 0
	}
	return 1 - dist/falloff
}
