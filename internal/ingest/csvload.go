package ingest

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/opencarto/territoria/internal/geo"
	"github.com/opencarto/territoria/pkg/opendata"
)

// CSVResult reports what a CSV load produced.
type CSVResult struct {
	Observations []opendata.Observation
	Skipped      int
}

// LoadCSV parses criterion observations from a CSV file. The header must
// carry a "value" column and either a "code" column (INSEE code, preferred)
// or a "name" column resolved against the index with accent-insensitive
// matching. Rows that parse badly or resolve to no known territory are
// skipped and counted, never fatal.
func LoadCSV(r io.Reader, index *geo.Index, level geo.Level) (*CSVResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read csv header")
	}
	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[strings.ToLower(strings.TrimSpace(col))] = i
	}

	valueIdx, hasValue := idx["value"]
	if !hasValue {
		return nil, eris.New("ingest: csv missing value column")
	}
	codeIdx, hasCode := idx["code"]
	nameIdx, hasName := idx["name"]
	if !hasCode && !hasName {
		return nil, eris.New("ingest: csv needs a code or name column")
	}

	var byName map[string]string
	if hasName {
		byName = nameLookup(index, level)
	}

	result := &CSVResult{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Skipped++
			continue
		}

		get := func(i int) string {
			if i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		value, err := strconv.ParseFloat(strings.ReplaceAll(get(valueIdx), ",", "."), 64)
		if err != nil {
			result.Skipped++
			continue
		}

		code := ""
		if hasCode {
			code = get(codeIdx)
		}
		if code == "" && hasName {
			code = byName[FoldName(get(nameIdx))]
		}
		if code == "" || index.Get(code) == nil {
			result.Skipped++
			continue
		}

		result.Observations = append(result.Observations, opendata.Observation{
			EntityID: code,
			Value:    value,
		})
	}

	if result.Skipped > 0 {
		zap.L().Warn("ingest: skipped csv rows", zap.Int("skipped", result.Skipped))
	}
	return result, nil
}

// nameLookup builds a folded-name to code map for one level. When two
// territories fold to the same name (a real occurrence among communes) the
// name becomes ambiguous and is dropped from the lookup.
func nameLookup(index *geo.Index, level geo.Level) map[string]string {
	byName := make(map[string]string)
	ambiguous := make(map[string]bool)
	for _, t := range index.AtLevel(level) {
		folded := FoldName(t.Name)
		if _, seen := byName[folded]; seen {
			ambiguous[folded] = true
			continue
		}
		byName[folded] = t.Code
	}
	for name := range ambiguous {
		delete(byName, name)
	}
	return byName
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldName lowercases a territory name, strips accents, and collapses the
// hyphen and apostrophe variants that differ between sources ("L'Haÿ-les-Roses"
// and "l hay les roses" fold to the same key).
func FoldName(name string) string {
	folded, _, err := transform.String(foldTransformer, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(folded)
	folded = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return r
		default:
			return ' '
		}
	}, folded)
	return strings.Join(strings.Fields(folded), " ")
}
