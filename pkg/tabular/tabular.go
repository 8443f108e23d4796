// Package tabular reads and writes the CSV form of a record set. The
// four exported columns are the stable interchange format: what WriteCSV
// produces, ReadCSV loads back into the same tuples in the same order,
// so a saved run can be picked up again later.
package tabular

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ot2i7ba/UFEDMapper/pkg/locations"
)

// Header is the column set of every export. The timestamp column stays
// empty for undated records.
var Header = []string{"name", "latitude", "longitude", "timestamp"}

// WriteCSV writes recs in order. Coordinates use the shortest decimal
// form that round-trips through ParseFloat.
func WriteCSV(w io.Writer, recs []locations.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}
	for i, r := range recs {
		row := []string{
			r.Name,
			strconv.FormatFloat(r.Lat, 'f', -1, 64),
			strconv.FormatFloat(r.Lon, 'f', -1, 64),
			"",
		}
		if r.TimeValid {
			row[3] = r.Time.UTC().Format(time.RFC3339)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write CSV row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV loads an export back. Column order is taken from the header
// line, extra columns are ignored, and a malformed row fails the load
// with its line number so a hand-edited file is easy to fix.
func ReadCSV(r io.Reader) ([]locations.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("read CSV header: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, need := range []string{"name", "latitude", "longitude"} {
		if _, ok := cols[need]; !ok {
			return nil, fmt.Errorf("read CSV header: missing %q column", need)
		}
	}
	tsCol, hasTS := cols["timestamp"]

	var recs []locations.Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV row %d: %w", line, err)
		}

		rec, err := rowToRecord(row, cols, tsCol, hasTS)
		if err != nil {
			return nil, fmt.Errorf("read CSV row %d: %w", line, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func rowToRecord(row []string, cols map[string]int, tsCol int, hasTS bool) (locations.Record, error) {
	field := func(i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}

	var rec locations.Record
	rec.Name = field(cols["name"])

	lat, err := strconv.ParseFloat(strings.TrimSpace(field(cols["latitude"])), 64)
	if err != nil {
		return rec, fmt.Errorf("bad latitude %q", field(cols["latitude"]))
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(field(cols["longitude"])), 64)
	if err != nil {
		return rec, fmt.Errorf("bad longitude %q", field(cols["longitude"]))
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return rec, fmt.Errorf("coordinates out of range (lat=%v, lon=%v)", lat, lon)
	}
	rec.Lat, rec.Lon = lat, lon

	if hasTS {
		if ts := strings.TrimSpace(field(tsCol)); ts != "" {
			t, err := time.Parse(time.RFC3339, ts)
			if err != nil {
				return rec, fmt.Errorf("bad timestamp %q", ts)
			}
			rec.Time = t.UTC().Truncate(time.Second)
			rec.TimeValid = true
		}
	}
	return rec, nil
}

// WriteFile writes recs to path, creating the directory when needed.
func WriteFile(path string, recs []locations.Record) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create CSV file: %w", err)
	}
	defer f.Close()

	if err := WriteCSV(f, recs); err != nil {
		return err
	}
	return f.Close()
}

// ReadFile loads the export at path.
func ReadFile(path string) ([]locations.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open CSV file: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}
