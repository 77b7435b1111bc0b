package scoring

import "sort"

// Entry is one (territory code, raw value) pair submitted for ranking.
type Entry struct {
	Code  string
	Value float64
}

// Rank assigns 1-based national ranks over entries: best value first, where
// "best" is highest when higherIsBetter and lowest otherwise. The output
// covers exactly the input codes with ranks 1..n, no gaps and no duplicates.
//
// Ties keep their input order (stable sort). Callers that need a
// deterministic rank for equal values must order entries before calling,
// e.g. alphabetically by code via RankMap.
func Rank(entries []Entry, higherIsBetter bool) map[string]int {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)

	sort.SliceStable(sorted, func(i, j int) bool {
		if higherIsBetter {
			return sorted[i].Value > sorted[j].Value
		}
		return sorted[i].Value < sorted[j].Value
	})

	ranks := make(map[string]int, len(sorted))
	for i, e := range sorted {
		ranks[e.Code] = i + 1
	}
	return ranks
}

// RankMap ranks a code→value map. Entries are ordered alphabetically by code
// before ranking, so equal values always tie-break the same way between runs.
func RankMap(values map[string]float64, higherIsBetter bool) map[string]int {
	entries := make([]Entry, 0, len(values))
	for code, v := range values {
		entries = append(entries, Entry{Code: code, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Code < entries[j].Code })
	return Rank(entries, higherIsBetter)
}
