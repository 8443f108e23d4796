package tabular

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ot2i7ba/UFEDMapper/pkg/locations"
)

func sample() []locations.Record {
	ts := time.Date(2021, 2, 15, 18, 33, 16, 0, time.UTC)
	return []locations.Record{
		{Name: "Home", Lat: 52.52, Lon: 13.405, Time: ts, TimeValid: true},
		{Name: "Südkreuz, Berlin", Lat: 52.475938, Lon: 13.365561, Time: ts.Add(time.Hour), TimeValid: true},
		{Name: "no clock", Lat: -33.8688, Lon: 151.2093},
		{Name: "", Lat: 0.00001, Lon: -0.00001},
	}
}

// TestRoundTrip is the contract of the package: what goes out comes
// back, same tuples, same order.
func TestRoundTrip(t *testing.T) {
	t.Parallel()

	recs := sample()
	var buf bytes.Buffer
	if err := WriteCSV(&buf, recs); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	got, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(got) != len(recs) {
		t.Fatalf("got %d records, want %d", len(got), len(recs))
	}
	for i := range recs {
		w, g := recs[i], got[i]
		if g.Name != w.Name || g.Lat != w.Lat || g.Lon != w.Lon {
			t.Fatalf("record %d = %+v, want %+v", i, g, w)
		}
		if g.TimeValid != w.TimeValid {
			t.Fatalf("record %d TimeValid = %t, want %t", i, g.TimeValid, w.TimeValid)
		}
		if w.TimeValid && !g.Time.Equal(w.Time) {
			t.Fatalf("record %d time = %v, want %v", i, g.Time, w.Time)
		}
	}
}

func TestWriteCSVHeaderAndEmptyTimestamp(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := WriteCSV(&buf, sample()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if lines[0] != "name,latitude,longitude,timestamp" {
		t.Fatalf("header = %q", lines[0])
	}
	// The undated record ends with an empty timestamp column.
	if !strings.HasSuffix(lines[3], ",") {
		t.Fatalf("undated row = %q, want trailing empty column", lines[3])
	}
}

func TestReadCSVTolerantColumns(t *testing.T) {
	t.Parallel()

	in := strings.Join([]string{
		"Latitude,extra,name,longitude,timestamp",
		"52.5,ignored,Home,13.4,2021-02-15T18:33:16Z",
		"1.0,x,Short,2.0",
	}, "\n")

	got, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].Name != "Home" || got[0].Lat != 52.5 || got[0].Lon != 13.4 || !got[0].TimeValid {
		t.Fatalf("first record = %+v", got[0])
	}
	if got[1].Name != "Short" || got[1].TimeValid {
		t.Fatalf("short row = %+v, want undated", got[1])
	}
}

func TestReadCSVFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty input", in: "", want: "empty input"},
		{name: "missing column", in: "name,latitude\nx,1", want: "missing"},
		{name: "bad latitude", in: "name,latitude,longitude\nx,abc,2", want: "row 2"},
		{name: "out of range", in: "name,latitude,longitude\nx,91,200", want: "out of range"},
		{name: "bad timestamp", in: "name,latitude,longitude,timestamp\nx,1,2,noonish", want: "row 2"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ReadCSV(strings.NewReader(tc.in))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestWriteFileReadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "run.csv")
	if err := WriteFile(path, sample()); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != len(sample()) {
		t.Fatalf("got %d records, want %d", len(got), len(sample()))
	}
}
