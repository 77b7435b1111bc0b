// Package geo holds the administrative territory model and the in-memory
// index used by the ingestion pipeline and the viewport assembler.
package geo

import (
	"github.com/rotisserie/eris"
)

// Level is an administrative level: region, département, or commune.
type Level string

const (
	LevelRegion     Level = "region"
	LevelDepartment Level = "department"
	LevelCommune    Level = "commune"
)

// RegionUnmapped is the sentinel region code assigned to a département whose
// region could not be resolved during import. Consumers must treat it as
// "unknown region", never as a real territory code.
const RegionUnmapped = "00"

// ParseLevel maps the plural API-facing names onto Level values. The singular
// forms are accepted too, since they appear in stored rows.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "regions", "region":
		return LevelRegion, nil
	case "departements", "department", "departement":
		return LevelDepartment, nil
	case "communes", "commune":
		return LevelCommune, nil
	}
	return "", eris.Errorf("geo: unknown level %q", s)
}

// Territory is one administrative unit. Codes are INSEE codes and are stable
// once assigned: commune codes are 5 characters, département codes 2-3, and
// region codes 2.
type Territory struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	Level      Level   `json:"level"`
	ParentCode string  `json:"parent_code,omitempty"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
}

// Index is an in-memory lookup over territories: by code, by level, and by
// parent. It is built once and read-only afterwards, so it is safe for
// concurrent use.
type Index struct {
	byCode   map[string]*Territory
	byLevel  map[Level][]*Territory
	children map[string][]*Territory
}

// NewIndex builds an Index from a territory list. Duplicate codes are
// rejected since they would make parent resolution ambiguous.
func NewIndex(territories []Territory) (*Index, error) {
	idx := &Index{
		byCode:   make(map[string]*Territory, len(territories)),
		byLevel:  make(map[Level][]*Territory),
		children: make(map[string][]*Territory),
	}
	for i := range territories {
		t := &territories[i]
		if _, dup := idx.byCode[t.Code]; dup {
			return nil, eris.Errorf("geo: duplicate territory code %q", t.Code)
		}
		idx.byCode[t.Code] = t
		idx.byLevel[t.Level] = append(idx.byLevel[t.Level], t)
		if t.ParentCode != "" {
			idx.children[t.ParentCode] = append(idx.children[t.ParentCode], t)
		}
	}
	return idx, nil
}

// Get returns the territory for a code, or nil when unknown.
func (idx *Index) Get(code string) *Territory {
	return idx.byCode[code]
}

// AtLevel returns all territories at the given level.
func (idx *Index) AtLevel(level Level) []*Territory {
	return idx.byLevel[level]
}

// ChildrenOf returns the direct children of a territory code.
func (idx *Index) ChildrenOf(parentCode string) []*Territory {
	return idx.children[parentCode]
}

// Len returns the number of indexed territories.
func (idx *Index) Len() int {
	return len(idx.byCode)
}

// RegionOf walks parent links up to the region level. It returns
// RegionUnmapped when any link in the chain is missing, so callers never see
// an empty string or a dangling code.
func (idx *Index) RegionOf(code string) string {
	t := idx.byCode[code]
	for t != nil {
		if t.Level == LevelRegion {
			return t.Code
		}
		if t.ParentCode == "" {
			return RegionUnmapped
		}
		t = idx.byCode[t.ParentCode]
	}
	return RegionUnmapped
}
