// Package scoring converts raw criterion measurements into comparable 0-100
// scores and dense national ranks.
package scoring

import (
	"math"
	"sort"
)

// NeutralScore is returned for every value when the reference population has
// no usable spread (2nd and 98th percentile are equal).
const NeutralScore = 50

// Normalize maps value onto a 0-100 score relative to population.
//
// The population's 2nd and 98th percentile values bound the scale, so a
// single erroneous outlier cannot compress the useful range for everyone
// else; values beyond the band clip to 0 or 100. When higherIsBetter is
// false the score is inverted. Scores are only comparable when every value
// of a criterion is normalized against the same population.
func Normalize(value float64, population []float64, higherIsBetter bool) int {
	p2, p98, ok := percentileBand(population)
	if !ok {
		return NeutralScore
	}
	return scale(value, p2, p98, higherIsBetter)
}

// NormalizeAll scores every entry of values against the full population in
// one pass, computing the percentile band once.
func NormalizeAll(values map[string]float64, higherIsBetter bool) map[string]int {
	population := make([]float64, 0, len(values))
	for _, v := range values {
		population = append(population, v)
	}

	scores := make(map[string]int, len(values))
	p2, p98, ok := percentileBand(population)
	for code, v := range values {
		if !ok {
			scores[code] = NeutralScore
			continue
		}
		scores[code] = scale(v, p2, p98, higherIsBetter)
	}
	return scores
}

// percentileBand returns the 2nd- and 98th-percentile values of population.
// ok is false when the band is degenerate (empty input or zero spread).
func percentileBand(population []float64) (p2, p98 float64, ok bool) {
	n := len(population)
	if n == 0 {
		return 0, 0, false
	}

	sorted := make([]float64, n)
	copy(sorted, population)
	sort.Float64s(sorted)

	lo := int(math.Floor(float64(n) * 0.02))
	hi := int(math.Floor(float64(n) * 0.98))
	if hi >= n {
		hi = n - 1
	}

	p2, p98 = sorted[lo], sorted[hi]
	return p2, p98, p98 != p2
}

func scale(value, p2, p98 float64, higherIsBetter bool) int {
	raw := (value - p2) / (p98 - p2) * 100
	if raw < 0 {
		raw = 0
	}
	if raw > 100 {
		raw = 100
	}
	if !higherIsBetter {
		raw = 100 - raw
	}
	return int(math.Round(raw))
}
