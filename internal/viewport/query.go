// Package viewport assembles the GeoJSON payloads served to the map client:
// territory geometries at one administrative level, optionally enriched with
// one criterion's values, scores, and ranks.
package viewport

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/opencarto/territoria/internal/geo"
)

// ErrBoundsRequired is returned when a commune query carries neither a
// parent code nor a bounding box, or both. A nationwide commune layer is
// tens of thousands of polygons, so communes are always scoped.
var ErrBoundsRequired = eris.New("viewport: commune queries need exactly one of parent or bbox")

// BBox is a lon/lat bounding box, west/south/east/north.
type BBox struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

// ParseBBox parses the "minLon,minLat,maxLon,maxLat" query form.
func ParseBBox(s string) (*BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, eris.Errorf("viewport: bbox needs 4 comma-separated numbers, got %d", len(parts))
	}
	nums := make([]float64, 4)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "viewport: bbox component %d", i)
		}
		nums[i] = f
	}
	box := &BBox{MinLon: nums[0], MinLat: nums[1], MaxLon: nums[2], MaxLat: nums[3]}
	if box.MinLon >= box.MaxLon || box.MinLat >= box.MaxLat {
		return nil, eris.New("viewport: bbox is empty or inverted")
	}
	return box, nil
}

// Query selects the territories for one viewport response.
type Query struct {
	Level       geo.Level
	ParentCode  string
	BBox        *BBox
	CriterionID string
}

// Validate enforces the bounds policy: regions and départements may be
// fetched nationwide, communes only within a parent or a bounding box.
func (q Query) Validate() error {
	switch q.Level {
	case geo.LevelRegion, geo.LevelDepartment:
		return nil
	case geo.LevelCommune:
		hasParent := q.ParentCode != ""
		hasBBox := q.BBox != nil
		if hasParent == hasBBox {
			return ErrBoundsRequired
		}
		return nil
	}
	return eris.Errorf("viewport: unknown level %q", string(q.Level))
}
