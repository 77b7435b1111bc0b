package scoring

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRank_Basic(t *testing.T) {
	entries := []Entry{
		{Code: "A", Value: 10},
		{Code: "B", Value: 5},
		{Code: "C", Value: 10},
	}

	ranks := Rank(entries, true)
	assert.Equal(t, 1, ranks["A"])
	assert.Equal(t, 2, ranks["C"]) // tie with A, input order wins
	assert.Equal(t, 3, ranks["B"])

	ranks = Rank(entries, false)
	assert.Equal(t, 1, ranks["B"])
	assert.Equal(t, 2, ranks["A"])
	assert.Equal(t, 3, ranks["C"])
}

func TestRank_Bijection(t *testing.T) {
	const n = 500
	entries := make([]Entry, n)
	for i := range entries {
		// Duplicated values on purpose: ranks must still be 1..n.
		entries[i] = Entry{Code: string(rune('a'+i%26)) + string(rune('0'+i/26)), Value: float64(rand.IntN(40))}
	}

	ranks := Rank(entries, true)
	require.Len(t, ranks, n)

	seen := make(map[int]bool, n)
	for code, r := range ranks {
		assert.GreaterOrEqual(t, r, 1, code)
		assert.LessOrEqual(t, r, n, code)
		assert.False(t, seen[r], "duplicate rank %d", r)
		seen[r] = true
	}
}

func TestRank_Empty(t *testing.T) {
	assert.Empty(t, Rank(nil, true))
}

func TestRankMap_DeterministicTies(t *testing.T) {
	values := map[string]float64{"C": 10, "A": 10, "B": 5}

	// Map iteration order varies; RankMap must not.
	for i := 0; i < 20; i++ {
		ranks := RankMap(values, true)
		assert.Equal(t, 1, ranks["A"])
		assert.Equal(t, 2, ranks["C"])
		assert.Equal(t, 3, ranks["B"])
	}
}
