// Package export writes ranking workbooks for offline analysis.
package export

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/opencarto/territoria/internal/critstore"
	"github.com/opencarto/territoria/internal/geo"
	"github.com/opencarto/territoria/internal/registry"
)

// RankingWriter exports one criterion's national ranking to an XLSX file.
type RankingWriter struct {
	reader critstore.Reader
	index  *geo.Index
}

// NewRankingWriter creates a RankingWriter reading values from reader and
// resolving names through index.
func NewRankingWriter(reader critstore.Reader, index *geo.Index) *RankingWriter {
	return &RankingWriter{reader: reader, index: index}
}

// WriteRanking writes the ranked territories at one level for one criterion
// to path, ordered by national rank. Returns the number of ranked rows.
func (w *RankingWriter) WriteRanking(ctx context.Context, criterion registry.Criterion, level geo.Level, path string) (int, error) {
	territories := w.index.AtLevel(level)
	codes := make([]string, len(territories))
	for i, t := range territories {
		codes[i] = t.Code
	}

	values, err := w.reader.QueryByTerritoryCodes(ctx, criterion.ID, codes)
	if err != nil {
		return 0, eris.Wrap(err, "export: query criterion values")
	}
	sort.Slice(values, func(i, j int) bool {
		return values[i].RankNational < values[j].RankNational
	})

	file := xlsx.NewFile()
	sheet, err := file.AddSheet(sheetName(criterion))
	if err != nil {
		return 0, eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range []string{"Rank", "Code", "Name", "Raw value", "Score"} {
		header.AddCell().SetString(col)
	}
	if criterion.Unit != "" {
		header.Cells[3].SetString("Raw value (" + criterion.Unit + ")")
	}

	for _, v := range values {
		t := w.index.Get(v.TerritoryCode)
		name := ""
		if t != nil {
			name = t.Name
		}
		row := sheet.AddRow()
		row.AddCell().SetInt(v.RankNational)
		row.AddCell().SetString(v.TerritoryCode)
		row.AddCell().SetString(name)
		row.AddCell().SetFloat(v.RawValue)
		row.AddCell().SetInt(v.Score)
	}

	if err := file.Save(path); err != nil {
		return 0, eris.Wrap(err, "export: save workbook")
	}

	zap.L().Info("export: ranking written",
		zap.String("criterion", criterion.ID),
		zap.String("level", string(level)),
		zap.String("path", path),
		zap.Int("rows", len(values)),
	)
	return len(values), nil
}

// sheetName trims criterion names to Excel's 31-character sheet name limit.
func sheetName(criterion registry.Criterion) string {
	name := criterion.Name
	if name == "" {
		name = criterion.ID
	}
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}
