package viewport

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/opencarto/territoria/internal/db"
	geoidx "github.com/opencarto/territoria/internal/geo"
)

// TerritoryGeometry is one territory's polygon with display metadata.
type TerritoryGeometry struct {
	Code     string
	Name     string
	Level    geoidx.Level
	Geometry geom.T
}

// GeometryStore fetches territory geometries for a viewport query.
type GeometryStore interface {
	FetchGeometries(ctx context.Context, q Query) ([]TerritoryGeometry, error)
}

// PostgresGeometryStore reads geometries from PostGIS.
type PostgresGeometryStore struct {
	pool db.Pool
}

// NewPostgresGeometryStore creates a PostgresGeometryStore on pool.
func NewPostgresGeometryStore(pool db.Pool) *PostgresGeometryStore {
	return &PostgresGeometryStore{pool: pool}
}

// FetchGeometries returns territories at the query's level, filtered by
// parent or bounding box when given. Geometries come back as EWKB and are
// decoded into go-geom types.
func (s *PostgresGeometryStore) FetchGeometries(ctx context.Context, q Query) ([]TerritoryGeometry, error) {
	sql := `
		SELECT code, name, level, ST_AsEWKB(geom)
		FROM geo.territories
		WHERE level = $1 AND geom IS NOT NULL`
	args := []any{string(q.Level)}

	switch {
	case q.ParentCode != "":
		sql += ` AND parent_code = $2`
		args = append(args, q.ParentCode)
	case q.BBox != nil:
		sql += ` AND geom && ST_MakeEnvelope($2, $3, $4, $5, 4326)`
		args = append(args, q.BBox.MinLon, q.BBox.MinLat, q.BBox.MaxLon, q.BBox.MaxLat)
	}
	sql += ` ORDER BY code`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "viewport: query geometries")
	}
	defer rows.Close()

	var geometries []TerritoryGeometry
	for rows.Next() {
		var tg TerritoryGeometry
		var level string
		var raw []byte
		if err := rows.Scan(&tg.Code, &tg.Name, &level, &raw); err != nil {
			return nil, eris.Wrap(err, "viewport: scan geometry row")
		}
		tg.Level = geoidx.Level(level)
		g, err := ewkb.Unmarshal(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "viewport: decode geometry for %s", tg.Code)
		}
		tg.Geometry = g
		geometries = append(geometries, tg)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "viewport: iterate geometry rows")
	}

	return geometries, nil
}
