package opendata

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleArchive = `NUM_POSTE;NOM_USUEL;LAT;LON;NBJOURS_SOLEIL;ENSOLEILLEMENT
07156;PARIS-MONTSOURIS;48,8217;2,3378;52;1662.3
07630;TOULOUSE-BLAGNAC;43.621;1.3788;88;2031.1
07650;MARSEILLE-MARIGNANE;43.4377;5.216;115;2858.4
`

func TestParseStationCSV(t *testing.T) {
	readings, skipped, err := ParseStationCSV(strings.NewReader(sampleArchive), "ENSOLEILLEMENT")
	require.NoError(t, err)

	assert.Equal(t, 0, skipped)
	require.Len(t, readings, 3)

	assert.Equal(t, "07156", readings[0].StationID)
	assert.Equal(t, "PARIS-MONTSOURIS", readings[0].Name)
	assert.InDelta(t, 48.8217, readings[0].Latitude, 1e-9)
	assert.InDelta(t, 2.3378, readings[0].Longitude, 1e-9)
	assert.Equal(t, 1662.3, readings[0].Value)

	assert.Equal(t, "07650", readings[2].StationID)
	assert.Equal(t, 2858.4, readings[2].Value)
}

func TestParseStationCSV_SkipsMalformedRows(t *testing.T) {
	archive := `NUM_POSTE;NOM_USUEL;LAT;LON;ENSOLEILLEMENT
07156;PARIS-MONTSOURIS;48.8217;2.3378;1662.3
;MISSING-ID;43.0;1.0;2000
07630;TOULOUSE-BLAGNAC;not-a-number;1.3788;2031.1
07650;MARSEILLE-MARIGNANE;43.4377;5.216;
`
	readings, skipped, err := ParseStationCSV(strings.NewReader(archive), "ENSOLEILLEMENT")
	require.NoError(t, err)

	assert.Equal(t, 3, skipped)
	require.Len(t, readings, 1)
	assert.Equal(t, "07156", readings[0].StationID)
}

func TestParseStationCSV_MissingColumn(t *testing.T) {
	archive := `NUM_POSTE;LAT;LON
07156;48.8217;2.3378
`
	_, _, err := ParseStationCSV(strings.NewReader(archive), "ENSOLEILLEMENT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENSOLEILLEMENT")
}

func TestParseStationCSV_ColumnCaseInsensitive(t *testing.T) {
	archive := `num_poste;lat;lon;ensoleillement
07156;48.8217;2.3378;1662.3
`
	readings, skipped, err := ParseStationCSV(strings.NewReader(archive), "ensoleillement")
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)
	require.Len(t, readings, 1)
	assert.Empty(t, readings[0].Name)
}

func TestNewFTPArchive_Defaults(t *testing.T) {
	a := NewFTPArchive(FTPArchiveOptions{Addr: "ftp.example.org"})
	assert.Equal(t, "ftp.example.org:21", a.opts.Addr)
	assert.Equal(t, "anonymous", a.opts.User)

	b := NewFTPArchive(FTPArchiveOptions{Addr: "ftp.example.org:2121", User: "dataro", Password: "s3cret"})
	assert.Equal(t, "ftp.example.org:2121", b.opts.Addr)
	assert.Equal(t, "dataro", b.opts.User)
}
