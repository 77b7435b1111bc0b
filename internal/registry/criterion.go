// Package registry loads and caches criterion metadata: the indicators
// territories are scored against, their polarity, and their color ramps.
package registry

import (
	"github.com/rotisserie/eris"
)

// ColorScale is the three-stop choropleth ramp for one criterion. Stops are
// "#rrggbb" hex strings for scores 0, 50, and 100.
type ColorScale struct {
	Low  string `yaml:"low" json:"low"`
	Mid  string `yaml:"mid" json:"mid"`
	High string `yaml:"high" json:"high"`
}

// Criterion describes one indicator: identity, unit, score polarity, and
// presentation. Metadata is edited by administrators out of band; this
// module only reads it.
type Criterion struct {
	ID             string     `yaml:"id" json:"id"`
	Name           string     `yaml:"name" json:"name"`
	Unit           string     `yaml:"unit" json:"unit"`
	HigherIsBetter bool       `yaml:"higher_is_better" json:"higherIsBetter"`
	ColorScale     ColorScale `yaml:"color_scale" json:"colorScale"`
	Enabled        bool       `yaml:"enabled" json:"enabled"`
}

// Validate checks the fields every consumer relies on.
func (c Criterion) Validate() error {
	if c.ID == "" {
		return eris.New("registry: criterion id is required")
	}
	if c.Name == "" {
		return eris.Errorf("registry: criterion %s: name is required", c.ID)
	}
	return nil
}
