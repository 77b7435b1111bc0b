package mapstate

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/opencarto/territoria/internal/registry"
)

// NoDataColor fills territories with no stored value for the active
// criterion. It must read as "no data", not as a worst score.
const NoDataColor = "#d8d8d8"

// Palette turns criterion scores into fill colors using each criterion's
// configured ramp. It is built once from loaded criteria and is read-only.
type Palette struct {
	scales map[string]registry.ColorScale
}

// NewPalette builds a Palette from the loaded criteria.
func NewPalette(criteria []registry.Criterion) *Palette {
	scales := make(map[string]registry.ColorScale, len(criteria))
	for _, c := range criteria {
		scales[c.ID] = c.ColorScale
	}
	return &Palette{scales: scales}
}

// Colors computes the fill color per feature code for one criterion. With no
// active criterion the result is nil and the renderer uses its base style.
func (p *Palette) Colors(criterionID string, fc *geojson.FeatureCollection) map[string]string {
	if p == nil || criterionID == "" || fc == nil {
		return nil
	}
	scale, ok := p.scales[criterionID]
	if !ok {
		return nil
	}

	colors := make(map[string]string, len(fc.Features))
	for _, f := range fc.Features {
		score, ok := featureScore(f)
		if !ok {
			colors[f.ID] = NoDataColor
			continue
		}
		colors[f.ID] = InterpolateHex(scale, score)
	}
	return colors
}

func featureScore(f *geojson.Feature) (int, bool) {
	raw, ok := f.Properties["criterionScore"]
	if !ok {
		return 0, false
	}
	// Scores arrive as int when assembled in-process and as float64 after a
	// JSON round trip.
	switch v := raw.(type) {
	case int:
		return v, true
	case float64:
		return int(math.Round(v)), true
	}
	return 0, false
}

// InterpolateHex maps a 0-100 score onto the low/mid/high ramp: the lower
// half blends low to mid, the upper half mid to high.
func InterpolateHex(scale registry.ColorScale, score int) string {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	var from, to string
	var t float64
	if score <= 50 {
		from, to = scale.Low, scale.Mid
		t = float64(score) / 50
	} else {
		from, to = scale.Mid, scale.High
		t = float64(score-50) / 50
	}

	fr, fg, fb, err1 := parseHex(from)
	tr, tg, tb, err2 := parseHex(to)
	if err1 != nil || err2 != nil {
		return NoDataColor
	}

	blend := func(a, b int) int {
		return int(math.Round(float64(a) + (float64(b)-float64(a))*t))
	}
	return fmt.Sprintf("#%02x%02x%02x", blend(fr, tr), blend(fg, tg), blend(fb, tb))
}

func parseHex(s string) (r, g, b int, err error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return 0, 0, 0, fmt.Errorf("hex color %q", s)
	}
	rv, err := strconv.ParseInt(s[0:2], 16, 32)
	if err != nil {
		return 0, 0, 0, err
	}
	gv, err := strconv.ParseInt(s[2:4], 16, 32)
	if err != nil {
		return 0, 0, 0, err
	}
	bv, err := strconv.ParseInt(s[4:6], 16, 32)
	if err != nil {
		return 0, 0, 0, err
	}
	return int(rv), int(gv), int(bv), nil
}
