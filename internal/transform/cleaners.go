// Package transform turns raw source payloads into validated, typed candidate
// records and warehouse-ready rows. Cleaning is forgiving where sources are
// known to be sloppy (scaled pH, Fahrenheit leaks, 0-1 percentages) and strict
// where a bad value would poison the warehouse.
package transform

import (
	"math"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Bounds for plausible agricultural values. Values outside these are dropped
// rather than clamped: a nonsense reading carries no information.
const (
	minTempC = -50.0
	maxTempC = 60.0
)

// CleanPercentage normalizes a percentage that may arrive on a 0-1 scale.
func CleanPercentage(v *float64) *float64 {
	if v == nil {
		return nil
	}
	switch {
	case *v >= 0 && *v <= 1:
		scaled := round2(*v * 100)
		return &scaled
	case *v >= 0 && *v <= 100:
		r := round2(*v)
		return &r
	default:
		return nil
	}
}

// CleanPH normalizes a pH reading. SoilGrids delivers pH scaled by ten.
func CleanPH(v *float64) *float64 {
	if v == nil {
		return nil
	}
	switch {
	case *v >= 0 && *v <= 14:
		r := round2(*v)
		return &r
	case *v > 14 && *v <= 140:
		r := round2(*v / 10)
		return &r
	default:
		return nil
	}
}

// CleanTemperature validates a Celsius reading. Values above 60 are assumed
// to be Fahrenheit leaking through and are converted before the range check.
func CleanTemperature(v *float64) *float64 {
	if v == nil {
		return nil
	}
	t := *v
	if t > maxTempC {
		t = (t - 32) * 5 / 9
	}
	if t < minTempC || t > maxTempC {
		return nil
	}
	r := round1(t)
	return &r
}

// CleanNonNegative drops negative readings for quantities that cannot be
// negative (precipitation, solar radiation, wind speed).
func CleanNonNegative(v *float64) *float64 {
	if v == nil || *v < 0 {
		if v != nil && *v < 0 {
			zero := 0.0
			return &zero
		}
		return nil
	}
	r := round3(*v)
	return &r
}

// ClampHumidity bounds relative humidity to 0-100.
func ClampHumidity(v *float64) *float64 {
	if v == nil {
		return nil
	}
	h := math.Min(100, math.Max(0, *v))
	return &h
}

// InferTexture classifies a sample on a simplified USDA texture triangle.
// Fractions are renormalized so partial totals still classify.
func InferTexture(clay, sand, silt *float64) *string {
	if clay == nil || sand == nil || silt == nil {
		return nil
	}
	total := *clay + *sand + *silt
	if total == 0 {
		return nil
	}
	clayPct := *clay / total * 100
	sandPct := *sand / total * 100
	siltPct := *silt / total * 100

	var texture string
	switch {
	case sandPct >= 85 && siltPct+1.5*clayPct < 15:
		texture = "Sand"
	case siltPct >= 80 && clayPct < 12:
		texture = "Silt"
	case clayPct >= 40:
		texture = "Clay"
	case sandPct >= 52 && siltPct+2*clayPct < 50:
		texture = "Sandy Loam"
	case siltPct >= 50 && clayPct < 27:
		texture = "Silt Loam"
	case clayPct >= 27 && sandPct > 20:
		texture = "Clay Loam"
	default:
		texture = "Loam"
	}
	return &texture
}

// cropNameMap folds common and botanical names onto canonical crop names.
var cropNameMap = map[string]string{
	"maize":                "Maize",
	"corn":                 "Maize",
	"zea mays":             "Maize",
	"wheat":                "Wheat",
	"triticum":             "Wheat",
	"bread wheat":          "Wheat",
	"durum wheat":          "Wheat",
	"rice":                 "Rice",
	"oryza sativa":         "Rice",
	"paddy":                "Rice",
	"soybean":              "Soybean",
	"soy":                  "Soybean",
	"soya":                 "Soybean",
	"glycine max":          "Soybean",
	"potato":               "Potato",
	"solanum tuberosum":    "Potato",
	"irish potato":         "Potato",
	"tomato":               "Tomato",
	"solanum lycopersicum": "Tomato",
	"barley":               "Barley",
	"hordeum vulgare":      "Barley",
	"cotton":               "Cotton",
	"gossypium":            "Cotton",
}

var titleCaser = cases.Title(language.English)

// StandardizeCropName maps a raw crop name onto its canonical form.
func StandardizeCropName(name string) string {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return "Unknown"
	}
	if canonical, ok := cropNameMap[trimmed]; ok {
		return canonical
	}
	return titleCaser.String(trimmed)
}

var (
	whitespaceRe      = regexp.MustCompile(`\s+`)
	bracketCitationRe = regexp.MustCompile(`\[\d+(?:,\s*\d+)*\]`)
	authorCitationRe  = regexp.MustCompile(`\([A-Z][a-z]+(?:\s+et\s+al\.?)?,\s*\d{4}[a-z]?\)`)
	urlRe             = regexp.MustCompile(`https?://[^\s)\]>]+`)
)

// textAbbreviations expands shorthand common in agronomy prose so the
// requirement patterns see consistent wording. Ordered longest-first to avoid
// partial replacement.
var textAbbreviations = []struct{ abbr, full string }{
	{"degrees c", "°C"},
	{"deg celsius", "°C"},
	{"precip", "precipitation"},
	{"deg c", "°C"},
	{"temp", "temperature"},
	{"opt", "optimal"},
	{"req", "required"},
}

// CleanText normalizes scraped prose ahead of requirement extraction:
// citations and URLs go, abbreviations expand, whitespace collapses.
func CleanText(text string) string {
	text = bracketCitationRe.ReplaceAllString(text, "")
	text = authorCitationRe.ReplaceAllString(text, "")
	text = urlRe.ReplaceAllString(text, "")

	lower := strings.ToLower(text)
	for _, a := range textAbbreviations {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(a.abbr) + `\.?\b`)
		lower = re.ReplaceAllString(lower, a.full)
	}

	lower = whitespaceRe.ReplaceAllString(lower, " ")
	return strings.TrimSpace(lower)
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
