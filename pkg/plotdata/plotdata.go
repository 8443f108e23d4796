// Package plotdata shapes a record set into the exact payload one map
// rendering needs. Each plot kind wants its own geometry: point lists
// for markers and heat, a single chronological path for lines and
// polygons, instants only for the time replay. Preparation is pure so
// the renderer can stay a dumb template.
package plotdata

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ot2i7ba/UFEDMapper/pkg/locations"
)

// Kind names one map style the tool can produce.
type Kind string

const (
	KindScatter Kind = "scatter"
	KindHeatmap Kind = "heatmap"
	KindLine    Kind = "line"
	KindCircle  Kind = "circle"
	KindPolygon Kind = "polygon"
	KindCluster Kind = "cluster"
	KindTime    Kind = "time"
)

// All lists every kind in menu order.
var All = []Kind{KindScatter, KindHeatmap, KindLine, KindCircle, KindPolygon, KindCluster, KindTime}

// ErrNoData reports that nothing is left to draw. The pipeline logs it
// and moves on; it is never fatal.
var ErrNoData = errors.New("no records to plot")

// Point is one drawable marker. Time is RFC 3339 or empty for undated
// records; Weight only matters to the heatmap.
type Point struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Label  string  `json:"label,omitempty"`
	Popup  string  `json:"popup,omitempty"`
	Time   string  `json:"time,omitempty"`
	Weight float64 `json:"weight,omitempty"`
}

// Input is everything the HTML renderer needs for one document.
type Input struct {
	Kind   Kind         `json:"kind"`
	Points []Point      `json:"points,omitempty"`
	Path   [][2]float64 `json:"path,omitempty"`
	Center [2]float64   `json:"center"`
	Zoom   int          `json:"zoom"`
}

// ParseKinds reads a comma-separated kind list; "all" expands to every
// kind. Order is kept, repeats are dropped, unknown names are an error.
func ParseKinds(s string) ([]Kind, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("no plot kinds given")
	}
	if strings.EqualFold(s, "all") {
		return append([]Kind(nil), All...), nil
	}

	known := make(map[Kind]bool, len(All))
	for _, k := range All {
		known[k] = true
	}

	var out []Kind
	seen := make(map[Kind]bool)
	for _, part := range strings.Split(s, ",") {
		k := Kind(strings.ToLower(strings.TrimSpace(part)))
		if k == "" {
			continue
		}
		if !known[k] {
			return nil, fmt.Errorf("unknown plot kind %q (valid: %s)", part, kindList())
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no plot kinds given")
	}
	return out, nil
}

func kindList() string {
	names := make([]string, len(All))
	for i, k := range All {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

// Prepare builds the renderer payload for one kind. An empty input, or
// a time plot over records that all lack timestamps, returns ErrNoData.
func Prepare(recs []locations.Record, kind Kind) (*Input, error) {
	if len(recs) == 0 {
		return nil, ErrNoData
	}

	in := &Input{Kind: kind}

	switch kind {
	case KindScatter, KindCircle, KindCluster:
		in.Points = points(recs, false)
	case KindHeatmap:
		for _, r := range recs {
			// Every occurrence weighs 1; repeat visits pile up into
			// density on their own.
			in.Points = append(in.Points, Point{Lat: r.Lat, Lon: r.Lon, Weight: 1})
		}
	case KindLine, KindPolygon:
		ordered := locations.SortChronological(recs)
		in.Path = make([][2]float64, len(ordered))
		for i, r := range ordered {
			in.Path[i] = [2]float64{r.Lat, r.Lon}
		}
	case KindTime:
		var dated []locations.Record
		for _, r := range recs {
			if r.TimeValid {
				dated = append(dated, r)
			}
		}
		if len(dated) == 0 {
			return nil, ErrNoData
		}
		in.Points = points(locations.SortChronological(dated), true)
	default:
		return nil, fmt.Errorf("unknown plot kind %q (valid: %s)", kind, kindList())
	}

	frame(in)
	return in, nil
}

// points converts records in their given order. timeOnly marks inputs
// already reduced to dated records, where every point carries a label
// for the replay slider.
func points(recs []locations.Record, timeOnly bool) []Point {
	out := make([]Point, 0, len(recs))
	for _, r := range recs {
		p := Point{Lat: r.Lat, Lon: r.Lon, Label: r.Name, Popup: popupText(r)}
		if r.TimeValid {
			p.Time = r.Time.Format(time.RFC3339)
		}
		if timeOnly && p.Time == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// popupText folds description and ExtendedData into the plain-text
// popup body. Field order is alphabetical so the output is stable.
func popupText(r locations.Record) string {
	var lines []string
	if r.Description != "" {
		lines = append(lines, r.Description)
	}
	if len(r.Fields) > 0 {
		keys := make([]string, 0, len(r.Fields))
		for k := range r.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			lines = append(lines, k+": "+r.Fields[k])
		}
	}
	return strings.Join(lines, "\n")
}

// frame fills Center and Zoom from the coordinates that ended up in the
// payload, so the time kind frames only its dated subset.
func frame(in *Input) {
	var n int
	var sumLat, sumLon float64
	minLat, maxLat := math.MaxFloat64, -math.MaxFloat64
	minLon, maxLon := math.MaxFloat64, -math.MaxFloat64

	consider := func(lat, lon float64) {
		n++
		sumLat += lat
		sumLon += lon
		minLat = math.Min(minLat, lat)
		maxLat = math.Max(maxLat, lat)
		minLon = math.Min(minLon, lon)
		maxLon = math.Max(maxLon, lon)
	}

	for _, v := range in.Path {
		consider(v[0], v[1])
	}
	for _, p := range in.Points {
		consider(p.Lat, p.Lon)
	}

	if n == 0 {
		return
	}
	in.Center = [2]float64{sumLat / float64(n), sumLon / float64(n)}
	in.Zoom = spanZoom(maxLat-minLat, maxLon-minLon)
}

// spanZoom picks an initial Leaflet zoom for a bounding box span in
// degrees. A single point gets a street-level view.
func spanZoom(latSpan, lonSpan float64) int {
	span := math.Max(latSpan, lonSpan)
	if span <= 0 {
		return 15
	}
	z := int(math.Floor(math.Log2(360 / span)))
	if z < 2 {
		z = 2
	}
	if z > 17 {
		z = 17
	}
	return z
}
