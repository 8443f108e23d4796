// Package locations defines the location record extracted from a KML
// export and the pure helpers the pipeline shares: the dedup identity
// key, the calendar date filter and the chronological ordering used by
// path-style plots. Everything here is free of I/O so the stages that
// build on it stay easy to test.
package locations

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// DefaultRoundPlaces is the coordinate rounding used for the dedup key
// when the caller does not override it. Five decimal places keep points
// within roughly a metre of each other in the same bucket.
const DefaultRoundPlaces = 5

// DayFormat is the calendar date layout used by flags and the wizard.
const DayFormat = "02.01.2006"

// ErrBadDateRange reports a filter whose start day lies after its end day.
var ErrBadDateRange = errors.New("start date is after end date")

// Record is one placemark reduced to the fields the pipeline works with.
// Times are UTC at whole-second precision; TimeValid is false when the
// placemark carried no usable timestamp. Fields holds the ExtendedData
// name/value pairs and stays nil when the placemark had none.
type Record struct {
	Name        string            `json:"name"`
	Lat         float64           `json:"lat"`
	Lon         float64           `json:"lon"`
	Time        time.Time         `json:"time,omitzero"`
	TimeValid   bool              `json:"timeValid"`
	Description string            `json:"description,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// Key is the dedup identity of a record: both coordinates rounded to a
// fixed number of decimal places plus the exact name. Scaled integers
// avoid float equality surprises when keys are compared or used as map
// keys.
type Key struct {
	LatE int64
	LonE int64
	Name string
}

// KeyOf builds the dedup key for r, rounding coordinates to the given
// number of decimal places (clamped to 0..9).
func KeyOf(r Record, places int) Key {
	return Key{
		LatE: roundScaled(r.Lat, places),
		LonE: roundScaled(r.Lon, places),
		Name: r.Name,
	}
}

func roundScaled(v float64, places int) int64 {
	if places < 0 {
		places = 0
	}
	if places > 9 {
		places = 9
	}
	return int64(math.Round(v * math.Pow10(places)))
}

// FilterByDate keeps the records whose timestamp falls inside the given
// calendar window. Both bounds are inclusive whole days; a nil bound is
// open on that side. With no bounds at all the input is returned as is.
// Once any bound is set, undated records are dropped: there is nothing
// to compare them against. The input slice is never mutated.
func FilterByDate(recs []Record, from, to *time.Time) ([]Record, error) {
	if from == nil && to == nil {
		return recs, nil
	}

	var lo, hi time.Time
	if from != nil {
		lo = startOfDay(*from)
	}
	if to != nil {
		// Inclusive end day: pass everything before the next midnight.
		hi = startOfDay(*to).Add(24 * time.Hour)
	}
	if from != nil && to != nil && lo.After(startOfDay(*to)) {
		return nil, fmt.Errorf("%w: %s > %s",
			ErrBadDateRange, lo.Format(DayFormat), startOfDay(*to).Format(DayFormat))
	}

	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		if !r.TimeValid {
			continue
		}
		if from != nil && r.Time.Before(lo) {
			continue
		}
		if to != nil && !r.Time.Before(hi) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func startOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// SortChronological returns a copy of recs ordered by timestamp
// ascending. Undated records keep their relative order and move to the
// tail, dated records with equal timestamps keep document order. The
// input slice is left untouched.
func SortChronological(recs []Record) []Record {
	out := append([]Record(nil), recs...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.TimeValid && b.TimeValid:
			return a.Time.Before(b.Time)
		case a.TimeValid:
			return true
		default:
			return false
		}
	})
	return out
}

// ParseDay reads a DD.MM.YYYY calendar date as midnight UTC.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DayFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q, expected DD.MM.YYYY: %w", s, err)
	}
	return t.UTC(), nil
}
