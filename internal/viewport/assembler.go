package viewport

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/opencarto/territoria/internal/critstore"
)

// Assembler builds GeoJSON FeatureCollections from geometries and criterion
// values.
type Assembler struct {
	geometries GeometryStore
	values     critstore.Reader
}

// NewAssembler creates an Assembler reading geometries from gs and criterion
// values from reader.
func NewAssembler(gs GeometryStore, reader critstore.Reader) *Assembler {
	return &Assembler{geometries: gs, values: reader}
}

// Assemble validates the query, fetches geometries, and joins in the
// requested criterion's values. A failing enrichment join degrades to a
// geometry-only response rather than failing the map: the client can still
// draw boundaries without the choropleth.
func (a *Assembler) Assemble(ctx context.Context, q Query) (*geojson.FeatureCollection, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	geometries, err := a.geometries.FetchGeometries(ctx, q)
	if err != nil {
		return nil, eris.Wrap(err, "viewport: fetch geometries")
	}

	valuesByCode := a.enrich(ctx, q, geometries)

	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(geometries))}
	for _, tg := range geometries {
		props := map[string]any{
			"code":  tg.Code,
			"name":  tg.Name,
			"level": string(tg.Level),
		}
		if v, ok := valuesByCode[tg.Code]; ok {
			props["criterionValue"] = v.RawValue
			props["criterionScore"] = v.Score
			props["criterionRank"] = v.RankNational
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         tg.Code,
			Geometry:   tg.Geometry,
			Properties: props,
		})
	}

	return fc, nil
}

func (a *Assembler) enrich(ctx context.Context, q Query, geometries []TerritoryGeometry) map[string]critstore.CriterionValue {
	if q.CriterionID == "" || len(geometries) == 0 {
		return nil
	}

	codes := make([]string, len(geometries))
	for i, tg := range geometries {
		codes[i] = tg.Code
	}

	values, err := a.values.QueryByTerritoryCodes(ctx, q.CriterionID, codes)
	if err != nil {
		zap.L().Warn("viewport: criterion enrichment failed, serving geometry only",
			zap.String("criterion", q.CriterionID),
			zap.String("level", string(q.Level)),
			zap.Error(err),
		)
		return nil
	}

	byCode := make(map[string]critstore.CriterionValue, len(values))
	for _, v := range values {
		byCode[v.TerritoryCode] = v
	}
	return byCode
}
