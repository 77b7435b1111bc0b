package registry

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/opencarto/territoria/internal/db"
)

// PostgresSource loads criteria from geo.criteria.
type PostgresSource struct {
	Pool db.Pool
}

// LoadCriteria reads all criterion rows, enabled or not.
func (s PostgresSource) LoadCriteria(ctx context.Context) ([]Criterion, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, name, unit, higher_is_better, color_low, color_mid, color_high, enabled
		FROM geo.criteria
		ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "registry: query criteria")
	}
	defer rows.Close()

	var criteria []Criterion
	for rows.Next() {
		var c Criterion
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Unit, &c.HigherIsBetter,
			&c.ColorScale.Low, &c.ColorScale.Mid, &c.ColorScale.High,
			&c.Enabled,
		); err != nil {
			return nil, eris.Wrap(err, "registry: scan criterion row")
		}
		criteria = append(criteria, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "registry: iterate criterion rows")
	}
	return criteria, nil
}

// FileSource loads criteria from a YAML seed file. Used for bootstrap and
// offline runs against the SQLite store.
type FileSource struct {
	Path string
}

type seedFile struct {
	Criteria []Criterion `yaml:"criteria"`
}

// LoadCriteria parses the seed file.
func (s FileSource) LoadCriteria(_ context.Context) ([]Criterion, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read seed file %s", s.Path)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, eris.Wrapf(err, "registry: parse seed file %s", s.Path)
	}
	return seed.Criteria, nil
}
