package geo

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/opencarto/territoria/internal/db"
)

// ImportStats summarizes a shapefile import.
type ImportStats struct {
	Loaded  int
	Skipped int
}

// ImportCommunes loads an ADMIN-EXPRESS commune shapefile into
// geo.territories. Attribute fields follow IGN naming: INSEE_COM, NOM,
// INSEE_DEP, INSEE_REG. Records missing a commune code are skipped and
// counted. The centroid is the average of the outer ring's vertices, which
// is close enough for nearest-station assignment.
func ImportCommunes(ctx context.Context, pool db.Pool, shpPath string) (*ImportStats, error) {
	log := zap.L().With(zap.String("component", "geo.importer"))

	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: open shapefile %s", filepath.Base(shpPath))
	}
	defer func() { _ = reader.Close() }()

	codeIdx := fieldIndex(reader, "INSEE_COM")
	nameIdx := fieldIndex(reader, "NOM")
	deptIdx := fieldIndex(reader, "INSEE_DEP")
	if codeIdx < 0 || nameIdx < 0 || deptIdx < 0 {
		return nil, eris.New("geo: required shapefile fields (INSEE_COM, NOM, INSEE_DEP) not found")
	}

	stats := &ImportStats{}
	for reader.Next() {
		_, shape := reader.Shape()
		if shape == nil {
			stats.Skipped++
			continue
		}

		code := strings.TrimSpace(reader.Attribute(codeIdx))
		name := strings.TrimSpace(reader.Attribute(nameIdx))
		dept := strings.TrimSpace(reader.Attribute(deptIdx))
		if code == "" {
			stats.Skipped++
			continue
		}

		poly, ok := shape.(*shp.Polygon)
		if !ok {
			stats.Skipped++
			continue
		}

		mp := polygonToMultiPolygon(poly)
		if mp == nil {
			stats.Skipped++
			continue
		}
		wkbData, err := ewkb.Marshal(mp, ewkb.NDR)
		if err != nil {
			log.Warn("geo: encode geometry failed", zap.String("code", code), zap.Error(err))
			stats.Skipped++
			continue
		}

		lat, lon := ringCentroid(poly)

		_, err = pool.Exec(ctx, `
			INSERT INTO geo.territories (code, name, level, parent_code, latitude, longitude, geom)
			VALUES ($1, $2, $3, $4, $5, $6, ST_GeomFromEWKB($7))
			ON CONFLICT (code) DO UPDATE SET
				name = EXCLUDED.name,
				parent_code = EXCLUDED.parent_code,
				latitude = EXCLUDED.latitude,
				longitude = EXCLUDED.longitude,
				geom = EXCLUDED.geom`,
			code, name, string(LevelCommune), dept, lat, lon, wkbData)
		if err != nil {
			log.Warn("geo: failed to insert commune", zap.String("code", code), zap.Error(err))
			stats.Skipped++
			continue
		}
		stats.Loaded++
	}

	log.Info("commune shapefile loaded",
		zap.Int("loaded", stats.Loaded),
		zap.Int("skipped", stats.Skipped),
	)
	return stats, nil
}

// fieldIndex returns the index of a named field in the shapefile, or -1 if not found.
func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon.
// Each shapefile part becomes a single-ring polygon.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		var end int32
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		} else {
			end = int32(len(p.Points))
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		poly := geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("geo: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// ringCentroid averages the polygon vertices. Shapefile points are
// (lon, lat) in X/Y order.
func ringCentroid(p *shp.Polygon) (lat, lon float64) {
	if len(p.Points) == 0 {
		return 0, 0
	}
	var sumX, sumY float64
	for _, pt := range p.Points {
		sumX += pt.X
		sumY += pt.Y
	}
	n := float64(len(p.Points))
	return sumY / n, sumX / n
}
