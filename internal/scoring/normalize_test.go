package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func rangePopulation() []float64 {
	return []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
}

func TestNormalize_Midpoint(t *testing.T) {
	// 55 sits at the middle of the 10..100 band.
	score := Normalize(55, rangePopulation(), true)
	assert.InDelta(t, 50, score, 1)
}

func TestNormalize_Bounds(t *testing.T) {
	pop := rangePopulation()

	assert.Equal(t, 0, Normalize(10, pop, true))
	assert.Equal(t, 100, Normalize(100, pop, true))

	// Values beyond the percentile band clip to the boundary score.
	assert.Equal(t, 0, Normalize(-500, pop, true))
	assert.Equal(t, 100, Normalize(1e9, pop, true))
}

func TestNormalize_Inverted(t *testing.T) {
	pop := rangePopulation()

	assert.Equal(t, 100, Normalize(10, pop, false))
	assert.Equal(t, 0, Normalize(100, pop, false))
	assert.Equal(t, 100, Normalize(-500, pop, false))
}

func TestNormalize_DegeneratePopulation(t *testing.T) {
	pop := []float64{42, 42, 42, 42}

	assert.Equal(t, NeutralScore, Normalize(42, pop, true))
	assert.Equal(t, NeutralScore, Normalize(0, pop, true))
	assert.Equal(t, NeutralScore, Normalize(1000, pop, false))
	assert.Equal(t, NeutralScore, Normalize(1, nil, true))
}

func TestNormalize_Monotonic(t *testing.T) {
	pop := make([]float64, 200)
	for i := range pop {
		pop[i] = float64(i) * 1.7
	}

	prev := -1
	for v := -50.0; v <= 400; v += 2.5 {
		score := Normalize(v, pop, true)
		assert.GreaterOrEqual(t, score, prev, "score must not decrease at value %v", v)
		assert.GreaterOrEqual(t, score, 0)
		assert.LessOrEqual(t, score, 100)
		prev = score
	}

	// Inverted polarity is non-increasing.
	prev = 101
	for v := -50.0; v <= 400; v += 2.5 {
		score := Normalize(v, pop, false)
		assert.LessOrEqual(t, score, prev, "inverted score must not increase at value %v", v)
		prev = score
	}
}

func TestNormalize_OutlierClipping(t *testing.T) {
	// One commune with a 10x data-entry error must not compress the scale.
	pop := make([]float64, 100)
	for i := range pop {
		pop[i] = 100 + float64(i)
	}
	pop[99] = 10000

	// A value at the top of the sane range still scores high.
	score := Normalize(197, pop, true)
	assert.Greater(t, score, 90)

	// The outlier itself clips to 100 along with everything past p98.
	assert.Equal(t, Normalize(10000, pop, true), Normalize(500, pop, true))
}

func TestNormalizeAll(t *testing.T) {
	values := map[string]float64{
		"29019": 10, "75056": 40, "69123": 70, "33063": 100,
	}

	scores := NormalizeAll(values, true)
	assert.Len(t, scores, 4)
	assert.Equal(t, 0, scores["29019"])
	assert.Equal(t, 100, scores["33063"])
	assert.Greater(t, scores["69123"], scores["75056"])

	// Degenerate population: everyone lands on the neutral score.
	flat := NormalizeAll(map[string]float64{"a": 5, "b": 5, "c": 5}, true)
	for code, s := range flat {
		assert.Equal(t, NeutralScore, s, code)
	}
}
