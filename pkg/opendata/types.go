// Package opendata fetches raw criterion measurements from public data
// sources: JSON HTTP APIs and FTP climate archives.
package opendata

import "time"

// Observation is one raw measurement for one territory, keyed by the
// provider's entity identifier (an INSEE code for French sources).
type Observation struct {
	EntityID string    `json:"entity_id"`
	Value    float64   `json:"value"`
	Date     time.Time `json:"date,omitempty"`
}

// StationReading is one measurement at a weather or sensor station. Station
// values are attached to territories by proximity, not by code.
type StationReading struct {
	StationID string  `json:"station_id"`
	Name      string  `json:"name,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Value     float64 `json:"value"`
}
