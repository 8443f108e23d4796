// Package analytics turns an extracted record set into the numbers an
// examiner asks for first: how many points, how many are the same place
// seen again, which places come up most and least. Every derived list
// has a total order, so the same input always produces the same report,
// byte for byte.
package analytics

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ot2i7ba/UFEDMapper/pkg/locations"
)

// Visit is one named place with its occurrence count. FirstSeen is the
// index of the first occurrence in source order and breaks count ties.
type Visit struct {
	Name      string `json:"name"`
	Count     int    `json:"count"`
	FirstSeen int    `json:"firstSeen"`
}

// DuplicateGroup is one dedup bucket that holds more than one record.
// Lat and Lon are the coordinates of the first record in the bucket.
type DuplicateGroup struct {
	Name  string  `json:"name"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Count int     `json:"count"`
}

// Report is the full analysis of one record set. Source and Digest are
// annotations the caller may fill in before writing the report out;
// Analyze leaves them empty.
type Report struct {
	Source     string           `json:"source,omitempty"`
	Digest     string           `json:"digest,omitempty"`
	Total      int              `json:"total"`
	Unique     int              `json:"unique"`
	Duplicates int              `json:"duplicates"`
	Dated      int              `json:"dated"`
	Undated    int              `json:"undated"`
	Groups     []DuplicateGroup `json:"duplicateGroups,omitempty"`
	Ranking    []Visit          `json:"ranking,omitempty"`
	TopMost    []Visit          `json:"topMostVisited,omitempty"`
	TopLeast   []Visit          `json:"topLeastVisited,omitempty"`
	Most       *Visit           `json:"mostVisited,omitempty"`
	Least      *Visit           `json:"leastVisited,omitempty"`
}

// topN bounds the most/least visited tables.
const topN = 10

// Analyze computes the report for recs. Identity for duplicate counting
// is the rounded-coordinate key at roundPlaces decimal places; the visit
// ranking covers named records only. The function is pure: no clock, no
// I/O, no mutation of recs.
func Analyze(recs []locations.Record, roundPlaces int) Report {
	rep := Report{Total: len(recs)}

	type bucket struct {
		name  string
		lat   float64
		lon   float64
		count int
	}
	buckets := make(map[locations.Key]*bucket)
	visits := make(map[string]*Visit)

	for i, r := range recs {
		if r.TimeValid {
			rep.Dated++
		} else {
			rep.Undated++
		}

		k := locations.KeyOf(r, roundPlaces)
		if b, seen := buckets[k]; seen {
			b.count++
		} else {
			buckets[k] = &bucket{name: r.Name, lat: r.Lat, lon: r.Lon, count: 1}
		}

		if r.Name == "" {
			continue
		}
		if v, seen := visits[r.Name]; seen {
			v.Count++
		} else {
			visits[r.Name] = &Visit{Name: r.Name, Count: 1, FirstSeen: i}
		}
	}

	rep.Unique = len(buckets)
	rep.Duplicates = rep.Total - rep.Unique

	for _, b := range buckets {
		if b.count > 1 {
			rep.Groups = append(rep.Groups, DuplicateGroup{
				Name: b.name, Lat: b.lat, Lon: b.lon, Count: b.count,
			})
		}
	}
	sort.Slice(rep.Groups, func(i, j int) bool {
		a, b := rep.Groups[i], rep.Groups[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Lat != b.Lat {
			return a.Lat < b.Lat
		}
		return a.Lon < b.Lon
	})

	for _, v := range visits {
		rep.Ranking = append(rep.Ranking, *v)
	}
	sort.Slice(rep.Ranking, func(i, j int) bool {
		a, b := rep.Ranking[i], rep.Ranking[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Name < b.Name
	})

	if n := len(rep.Ranking); n > 0 {
		rep.TopMost = append([]Visit(nil), rep.Ranking[:min(topN, n)]...)

		least := append([]Visit(nil), rep.Ranking...)
		sort.Slice(least, func(i, j int) bool {
			if least[i].Count != least[j].Count {
				return least[i].Count < least[j].Count
			}
			return least[i].Name < least[j].Name
		})
		rep.TopLeast = least[:min(topN, n)]

		rep.Most = pickExtreme(rep.Ranking, true)
		rep.Least = pickExtreme(rep.Ranking, false)
	}

	return rep
}

// pickExtreme selects the single most or least visited place. Ties on
// the count go to the place encountered first in the source.
func pickExtreme(ranking []Visit, most bool) *Visit {
	pick := ranking[0]
	for _, v := range ranking[1:] {
		better := v.Count > pick.Count
		if !most {
			better = v.Count < pick.Count
		}
		if better || (v.Count == pick.Count && v.FirstSeen < pick.FirstSeen) {
			pick = v
		}
	}
	return &pick
}

// WriteJSON writes the report as indented JSON, the shape archived next
// to the CSV exports.
func WriteJSON(w io.Writer, rep Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(rep)
}

// WriteConsole prints the report for the terminal.
func WriteConsole(w io.Writer, rep Report) {
	border := strings.Repeat("═", 55)
	thin := strings.Repeat("─", 55)

	fmt.Fprintf(w, "\n╔%s╗\n", border)
	fmt.Fprintf(w, "║%s║\n", center("LOCATION ANALYSIS", 55))
	fmt.Fprintf(w, "╚%s╝\n", border)

	fmt.Fprintf(w, "\n OVERVIEW\n%s\n", thin)
	fmt.Fprintf(w, "  Total records      : %d\n", rep.Total)
	fmt.Fprintf(w, "  Unique locations   : %d\n", rep.Unique)
	fmt.Fprintf(w, "  Duplicates         : %d\n", rep.Duplicates)
	fmt.Fprintf(w, "  With timestamp     : %d\n", rep.Dated)
	fmt.Fprintf(w, "  Without timestamp  : %d\n", rep.Undated)

	if rep.Most != nil {
		fmt.Fprintf(w, "\n EXTREMES\n%s\n", thin)
		fmt.Fprintf(w, "  Most visited   : %s (%d)\n", rep.Most.Name, rep.Most.Count)
		fmt.Fprintf(w, "  Least visited  : %s (%d)\n", rep.Least.Name, rep.Least.Count)
	}

	writeVisitTable(w, thin, "MOST VISITED", rep.TopMost)
	writeVisitTable(w, thin, "LEAST VISITED", rep.TopLeast)

	if len(rep.Groups) > 0 {
		fmt.Fprintf(w, "\n DUPLICATE GROUPS (%d)\n%s\n", len(rep.Groups), thin)
		shown := rep.Groups
		if len(shown) > topN {
			shown = shown[:topN]
		}
		for _, g := range shown {
			name := g.Name
			if name == "" {
				name = "(unnamed)"
			}
			fmt.Fprintf(w, "  %-30s ×%-4d  %11.5f %11.5f\n", truncate(name, 30), g.Count, g.Lat, g.Lon)
		}
		if len(rep.Groups) > topN {
			fmt.Fprintf(w, "  … and %d more\n", len(rep.Groups)-topN)
		}
	}

	fmt.Fprintf(w, "\n%s\n\n", border)
}

func writeVisitTable(w io.Writer, thin, title string, visits []Visit) {
	if len(visits) == 0 {
		return
	}
	maxCount := visits[0].Count
	for _, v := range visits {
		if v.Count > maxCount {
			maxCount = v.Count
		}
	}
	fmt.Fprintf(w, "\n TOP %d %s\n%s\n", len(visits), title, thin)
	for i, v := range visits {
		bar := strings.Repeat("▓", scaleBar(v.Count, maxCount))
		fmt.Fprintf(w, "  %2d. %-30s %4d  %s\n", i+1, truncate(v.Name, 30), v.Count, bar)
	}
}

// scaleBar keeps the histogram inside the table no matter how large the
// counts get.
func scaleBar(count, max int) int {
	const width = 16
	if max <= 0 {
		return 0
	}
	n := count * width / max
	if n < 1 {
		n = 1
	}
	return n
}

func center(s string, width int) string {
	runes := []rune(s)
	if len(runes) >= width {
		return s
	}
	pad := (width - len(runes)) / 2
	return strings.Repeat(" ", pad) + s + strings.Repeat(" ", width-len(runes)-pad)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
