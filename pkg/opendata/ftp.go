package opendata

import (
	"context"
	"encoding/csv"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPArchiveOptions configures the FTP climate-archive source.
type FTPArchiveOptions struct {
	Addr     string // host or host:port; port defaults to 21
	User     string // defaults to anonymous
	Password string
	Timeout  time.Duration
}

// FTPArchive reads semicolon-delimited station archives from an FTP server,
// the distribution format of French climate normals.
type FTPArchive struct {
	opts FTPArchiveOptions
}

// NewFTPArchive creates an FTPArchive with the given options.
func NewFTPArchive(opts FTPArchiveOptions) *FTPArchive {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.User == "" {
		opts.User = "anonymous"
		opts.Password = "anonymous@"
	}
	if _, _, err := net.SplitHostPort(opts.Addr); err != nil {
		opts.Addr = net.JoinHostPort(opts.Addr, "21")
	}
	return &FTPArchive{opts: opts}
}

// Download retrieves one archive file. The caller must close the returned
// reader to release the FTP connection.
func (a *FTPArchive) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	zap.L().Debug("opendata: ftp connecting",
		zap.String("addr", a.opts.Addr),
		zap.String("path", path),
	)

	conn, err := ftp.Dial(a.opts.Addr, ftp.DialWithTimeout(a.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "opendata: ftp dial")
	}
	if err := conn.Login(a.opts.User, a.opts.Password); err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrap(err, "opendata: ftp login")
	}
	resp, err := conn.Retr(path)
	if err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrap(err, "opendata: ftp retrieve")
	}
	return &ftpReader{resp: resp, conn: conn}, nil
}

// FetchStations downloads an archive file and parses it into station
// readings. valueColumn names the measurement column to extract.
func (a *FTPArchive) FetchStations(ctx context.Context, path, valueColumn string) ([]StationReading, error) {
	rc, err := a.Download(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	readings, skipped, err := ParseStationCSV(rc, valueColumn)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		zap.L().Warn("opendata: skipped malformed archive rows",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return readings, nil
}

// ParseStationCSV parses a semicolon-delimited station archive. Expected
// columns are NUM_POSTE, NOM_USUEL, LAT, LON plus measurement columns.
// Malformed rows are skipped and counted rather than failing the parse.
func ParseStationCSV(r io.Reader, valueColumn string) ([]StationReading, int, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, 0, eris.Wrap(err, "opendata: read archive header")
	}
	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[strings.ToUpper(strings.TrimSpace(col))] = i
	}

	required := []string{"NUM_POSTE", "LAT", "LON", strings.ToUpper(valueColumn)}
	for _, col := range required {
		if _, ok := idx[col]; !ok {
			return nil, 0, eris.Errorf("opendata: archive missing column %q", col)
		}
	}
	valueIdx := idx[strings.ToUpper(valueColumn)]
	nameIdx, hasName := idx["NOM_USUEL"]

	var readings []StationReading
	skipped := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}

		reading, ok := parseStationRow(record, idx, valueIdx, nameIdx, hasName)
		if !ok {
			skipped++
			continue
		}
		readings = append(readings, reading)
	}

	return readings, skipped, nil
}

func parseStationRow(record []string, idx map[string]int, valueIdx, nameIdx int, hasName bool) (StationReading, bool) {
	get := func(i int) string {
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	id := get(idx["NUM_POSTE"])
	if id == "" {
		return StationReading{}, false
	}
	lat, err := parseArchiveFloat(get(idx["LAT"]))
	if err != nil {
		return StationReading{}, false
	}
	lon, err := parseArchiveFloat(get(idx["LON"]))
	if err != nil {
		return StationReading{}, false
	}
	value, err := parseArchiveFloat(get(valueIdx))
	if err != nil {
		return StationReading{}, false
	}

	reading := StationReading{
		StationID: id,
		Latitude:  lat,
		Longitude: lon,
		Value:     value,
	}
	if hasName {
		reading.Name = get(nameIdx)
	}
	return reading, true
}

// parseArchiveFloat accepts both dot and comma decimal separators, which mix
// freely in the archives.
func parseArchiveFloat(s string) (float64, error) {
	if s == "" {
		return 0, eris.New("empty value")
	}
	s = strings.ReplaceAll(s, ",", ".")
	return strconv.ParseFloat(s, 64)
}

type ftpReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "opendata: close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "opendata: quit ftp connection")
	}
	return nil
}
