package geo

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/opencarto/territoria/internal/db"
)

// LoadIndex reads all territories from geo.territories and builds an Index.
func LoadIndex(ctx context.Context, pool db.Pool) (*Index, error) {
	rows, err := pool.Query(ctx, `
		SELECT code, name, level, COALESCE(parent_code, ''), latitude, longitude
		FROM geo.territories
		ORDER BY code`)
	if err != nil {
		return nil, eris.Wrap(err, "geo: query territories")
	}
	defer rows.Close()

	var territories []Territory
	for rows.Next() {
		var t Territory
		var level string
		if err := rows.Scan(&t.Code, &t.Name, &level, &t.ParentCode, &t.Latitude, &t.Longitude); err != nil {
			return nil, eris.Wrap(err, "geo: scan territory row")
		}
		t.Level = Level(level)
		territories = append(territories, t)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "geo: iterate territory rows")
	}

	return NewIndex(territories)
}
