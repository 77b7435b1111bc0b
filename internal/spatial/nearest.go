package spatial

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/opencarto/territoria/internal/geo"
)

// Station is a raw point observation from a sparse sample network. It lives
// only for the duration of one ingestion run.
type Station struct {
	ID    string
	Lat   float64
	Lon   float64
	Value float64
}

// Mapper assigns every territory the value of its nearest station.
type Mapper struct {
	// Workers is the number of parallel territory chunks. Values below 1
	// fall back to 1.
	Workers int
}

// MapNearest returns, for each territory, the value of the geometrically
// nearest station by great-circle distance. The scan is brute force:
// stations number in the hundreds while territories number in the tens of
// thousands, so territories × stations stays well under 10^8 comparisons.
// Territory chunks are scored in parallel since nothing is shared.
//
// An empty station list yields an empty map, never fabricated values. Exact
// distance ties resolve to the first station in slice order.
func (m Mapper) MapNearest(ctx context.Context, territories []*geo.Territory, stations []Station) (map[string]float64, error) {
	if len(stations) == 0 || len(territories) == 0 {
		return map[string]float64{}, nil
	}

	workers := m.Workers
	if workers < 1 {
		workers = 1
	}
	chunkSize := (len(territories) + workers - 1) / workers

	var mu sync.Mutex
	out := make(map[string]float64, len(territories))

	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < len(territories); start += chunkSize {
		end := start + chunkSize
		if end > len(territories) {
			end = len(territories)
		}
		chunk := territories[start:end]

		g.Go(func() error {
			local := make(map[string]float64, len(chunk))
			for _, t := range chunk {
				if err := ctx.Err(); err != nil {
					return err
				}
				local[t.Code] = nearestValue(t, stations)
			}
			mu.Lock()
			for code, v := range local {
				out[code] = v
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func nearestValue(t *geo.Territory, stations []Station) float64 {
	best := stations[0]
	bestDist := HaversineKM(t.Latitude, t.Longitude, best.Lat, best.Lon)
	for _, s := range stations[1:] {
		d := HaversineKM(t.Latitude, t.Longitude, s.Lat, s.Lon)
		if d < bestDist {
			best, bestDist = s, d
		}
	}
	return best.Value
}
