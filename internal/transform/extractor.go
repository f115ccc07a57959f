package transform

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/agroflow-systems/agroflow/pkg/types"
)

// Requirement extraction works on cleaned lowercase prose with regex pattern
// banks per requirement type. Matched values outside agronomic plausibility
// are treated as misparses and skipped, not clamped.

var temperatureRangePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)temperature[^\d]*(\d+)\s*°?c[^\d]*(?:to|and|-)[^\d]*(\d+)\s*°?c`),
	regexp.MustCompile(`(?i)(\d+)\s*°?c\s*(?:to|-)\s*(\d+)\s*°?c`),
	regexp.MustCompile(`(?i)optimal.*?(\d+)\s*°?c.*?(?:to|and|-).*?(\d+)\s*°?c`),
	regexp.MustCompile(`(?i)grow.*?between.*?(\d+)\s*°?c.*?and.*?(\d+)\s*°?c`),
}

var waterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d+\.?\d*)\s*(?:mm|millimeters?)\s*(?:per|/)\s*(?:day|d)`),
	regexp.MustCompile(`(?i)water.*?(\d+\.?\d*)\s*(?:mm|millimeters?)`),
	regexp.MustCompile(`(?i)irrigation.*?(\d+\.?\d*)\s*(?:mm|l)`),
	regexp.MustCompile(`(?i)requires?\s+(\d+\.?\d*)\s*(?:mm|cm)\s*(?:of\s+)?water`),
}

var sunlightPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d+\.?\d*)\s*(?:hours?|hrs?|h)\s*(?:of\s+)?(?:sun|light|daylight)`),
	regexp.MustCompile(`(?i)sun.*?(\d+)[\s-]*(?:hours?|hrs?)`),
	regexp.MustCompile(`(?i)full\s+sun.*?(\d+)\s*(?:hours?|hrs?)`),
	regexp.MustCompile(`(?i)light.*?(\d+)\s*(?:hours?|hrs?)`),
}

var phRangePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ph\s+(\d+\.?\d*)\s*(?:to|-)\s*(\d+\.?\d*)`),
	regexp.MustCompile(`(?i)ph.*?range.*?(\d+\.?\d*).*?(?:to|-).*?(\d+\.?\d*)`),
	regexp.MustCompile(`(?i)(?:acidic|alkaline).*?ph\s+(\d+\.?\d*)\s*(?:to|-)\s*(\d+\.?\d*)`),
}

// Extractor derives structured crop requirements from prose.
type Extractor struct{}

func NewExtractor() *Extractor { return &Extractor{} }

// Extract runs the full pattern bank over one source text and scores the
// result by completeness: temperature and water weigh 0.3 each, sunlight and
// pH 0.2 each, plus up to 0.2 for corroborating evidence snippets.
func (e *Extractor) Extract(rawText, cropName string) types.CropCandidate {
	text := CleanText(rawText)
	var evidence []string

	tempMin, tempMax, tempEv := extractTemperature(text)
	evidence = append(evidence, tempEv...)

	water, waterEv := extractFirstValue(text, waterPatterns, 0.1, 50)
	if waterEv != "" {
		evidence = append(evidence, waterEv)
	}

	sun, sunEv := extractSunlight(text)
	if sunEv != "" {
		evidence = append(evidence, sunEv)
	}

	phMin, phMax, phEv := extractRange(text, phRangePatterns, 3.0, 9.0)
	evidence = append(evidence, phEv...)

	confidence := extractionConfidence(tempMin != nil, water != nil, sun != nil, phMin != nil, len(evidence))

	if len(evidence) > 5 {
		evidence = evidence[:5]
	}
	return types.CropCandidate{
		CropName:           StandardizeCropName(cropName),
		TempMinC:           tempMin,
		TempMaxC:           tempMax,
		WaterRequirementMM: water,
		SunlightHours:      sun,
		SoilPHMin:          phMin,
		SoilPHMax:          phMax,
		Confidence:         confidence,
		ExtractionMethod:   "pattern_bank",
		Evidence:           evidence,
	}
}

func extractTemperature(text string) (*float64, *float64, []string) {
	for _, re := range temperatureRangePatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			lo, err1 := strconv.ParseFloat(m[1], 64)
			hi, err2 := strconv.ParseFloat(m[2], 64)
			if err1 != nil || err2 != nil {
				continue
			}
			if lo < -10 || lo > 50 || hi < -10 || hi > 50 {
				continue
			}
			if lo > hi {
				lo, hi = hi, lo
			}
			return &lo, &hi, []string{m[0]}
		}
	}
	return nil, nil, nil
}

func extractFirstValue(text string, patterns []*regexp.Regexp, lo, hi float64) (*float64, string) {
	for _, re := range patterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || v < lo || v > hi {
			continue
		}
		return &v, m[0]
	}
	return nil, ""
}

func extractSunlight(text string) (*float64, string) {
	if v, ev := extractFirstValue(text, sunlightPatterns, 0, 24); v != nil {
		return v, ev
	}
	// Qualitative fallbacks when no numeric figure appears.
	if strings.Contains(text, "full sun") {
		v := 6.0
		return &v, "full sun (inferred 6+ hours)"
	}
	if strings.Contains(text, "partial shade") {
		v := 3.0
		return &v, "partial shade (inferred 3-6 hours)"
	}
	return nil, ""
}

func extractRange(text string, patterns []*regexp.Regexp, lo, hi float64) (*float64, *float64, []string) {
	for _, re := range patterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		vLo, err1 := strconv.ParseFloat(m[1], 64)
		vHi, err2 := strconv.ParseFloat(m[2], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		if vLo < lo || vLo > hi || vHi < lo || vHi > hi {
			continue
		}
		if vLo > vHi {
			vLo, vHi = vHi, vLo
		}
		return &vLo, &vHi, []string{m[0]}
	}
	return nil, nil, nil
}

func extractionConfidence(hasTemp, hasWater, hasSun, hasPH bool, evidenceCount int) float64 {
	score := 0.0
	if hasTemp {
		score += 0.3
	}
	if hasWater {
		score += 0.3
	}
	if hasSun {
		score += 0.2
	}
	if hasPH {
		score += 0.2
	}
	bonus := float64(evidenceCount) * 0.05
	if bonus > 0.2 {
		bonus = 0.2
	}
	if score+bonus > 1.0 {
		return 1.0
	}
	return score + bonus
}
