// Package idempotency derives stable content fingerprints for logical records
// and gates writes on the durable fingerprint registry. The hash covers only
// the semantic payload of a record, never the batch id or arrival time, so
// re-extracting the same observation in a later batch produces the same hash.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/agroflow-systems/agroflow/pkg/types"
)

// Weather fingerprints one daily weather observation. Identity is the
// coordinate pair plus the observation date; the metric values are part of
// the hash so a corrected re-delivery is not mistaken for a duplicate.
func Weather(c types.WeatherCandidate) types.Fingerprint {
	return types.Fingerprint{
		Hash: hashFields(types.EntityWeather,
			coord(c.Latitude, c.Longitude),
			c.Date,
			f(c.TempMaxC), f(c.TempMinC), f(c.TempMeanC),
			f(c.PrecipitationMM), f(c.EvapotranspirationMM),
			f(c.SolarRadiationMJ), f(c.HumidityPercent), f(c.WindSpeedMS),
			i(c.WeatherCode),
		),
		EntityType: types.EntityWeather,
		EntityID:   coord(c.Latitude, c.Longitude) + ":" + c.Date,
	}
}

// Soil fingerprints one soil sample at day granularity.
func Soil(c types.SoilCandidate) types.Fingerprint {
	day := c.ExtractedAt.Format("2006-01-02")
	return types.Fingerprint{
		Hash: hashFields(types.EntitySoil,
			coord(c.Latitude, c.Longitude),
			day,
			f(c.ClayContent), f(c.SandContent), f(c.SiltContent),
			f(c.PHLevel), f(c.OrganicCarbon), f(c.BulkDensity),
			f(c.WaterCapacity), s(c.Texture),
		),
		EntityType: types.EntitySoil,
		EntityID:   coord(c.Latitude, c.Longitude) + ":" + day,
	}
}

// Crop fingerprints an extracted crop requirement set. Source URLs are hashed
// in sorted order so scrape ordering does not change identity; the free-text
// evidence snippets are provenance, not content, and stay out of the hash.
func Crop(c types.CropCandidate) types.Fingerprint {
	urls := append([]string(nil), c.SourceURLs...)
	sort.Strings(urls)

	return types.Fingerprint{
		Hash: hashFields(types.EntityCrop,
			c.CropName,
			f(c.TempMinC), f(c.TempMaxC),
			f(c.WaterRequirementMM), f(c.SunlightHours),
			f(c.SoilPHMin), f(c.SoilPHMax),
			strconv.FormatFloat(c.Confidence, 'f', 4, 64),
			strings.Join(urls, ","),
		),
		EntityType: types.EntityCrop,
		EntityID:   c.CropName,
	}
}

// LocationVersion fingerprints one SCD2 version of a location: the tracked
// attributes plus the effective date that opens the version.
func LocationVersion(r types.LocationRow) types.Fingerprint {
	return types.Fingerprint{
		Hash: hashFields(types.EntityLocation,
			r.LocationHash,
			s(r.CountryCode), s(r.CountryName), s(r.AdminRegion),
			s(r.ClimateZone), f(r.ElevationM),
			r.EffectiveDate.Format("2006-01-02"),
		),
		EntityType: types.EntityLocation,
		EntityID:   r.LocationHash,
	}
}

func hashFields(entity types.EntityType, fields ...string) string {
	h := sha256.New()
	h.Write([]byte(string(entity)))
	for _, field := range fields {
		h.Write([]byte{'|'})
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func coord(lat, lon float64) string {
	return fmt.Sprintf("%.6f,%.6f", lat, lon)
}

func f(p *float64) string {
	if p == nil {
		return "null"
	}
	return strconv.FormatFloat(*p, 'f', 6, 64)
}

func i(p *int) string {
	if p == nil {
		return "null"
	}
	return strconv.Itoa(*p)
}

func s(p *string) string {
	if p == nil {
		return "null"
	}
	return *p
}
