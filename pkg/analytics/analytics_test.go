package analytics

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ot2i7ba/UFEDMapper/pkg/locations"
)

func named(name string, lat, lon float64) locations.Record {
	return locations.Record{Name: name, Lat: lat, Lon: lon}
}

func dated(name string, lat, lon float64, t time.Time) locations.Record {
	return locations.Record{Name: name, Lat: lat, Lon: lon, Time: t, TimeValid: true}
}

// TestAnalyzeCounts walks the canonical small case: four records where
// one place repeats exactly.
func TestAnalyzeCounts(t *testing.T) {
	t.Parallel()

	now := time.Date(2021, 2, 15, 12, 0, 0, 0, time.UTC)
	recs := []locations.Record{
		dated("A", 52.1, 13.1, now),
		named("B", 52.2, 13.2),
		dated("A", 52.1, 13.1, now.Add(time.Hour)),
		named("C", 52.3, 13.3),
	}

	rep := Analyze(recs, locations.DefaultRoundPlaces)

	if rep.Total != 4 || rep.Unique != 3 || rep.Duplicates != 1 {
		t.Fatalf("total/unique/duplicates = %d/%d/%d, want 4/3/1",
			rep.Total, rep.Unique, rep.Duplicates)
	}
	if rep.Dated != 2 || rep.Undated != 2 {
		t.Fatalf("dated/undated = %d/%d, want 2/2", rep.Dated, rep.Undated)
	}

	if len(rep.Groups) != 1 || rep.Groups[0].Name != "A" || rep.Groups[0].Count != 2 {
		t.Fatalf("groups = %+v, want one group A×2", rep.Groups)
	}

	wantRanking := []Visit{
		{Name: "A", Count: 2, FirstSeen: 0},
		{Name: "B", Count: 1, FirstSeen: 1},
		{Name: "C", Count: 1, FirstSeen: 3},
	}
	if !reflect.DeepEqual(rep.Ranking, wantRanking) {
		t.Fatalf("ranking = %+v, want %+v", rep.Ranking, wantRanking)
	}

	if rep.Most == nil || rep.Most.Name != "A" {
		t.Fatalf("most = %+v, want A", rep.Most)
	}
	// B and C tie on one visit; B came first in the source.
	if rep.Least == nil || rep.Least.Name != "B" {
		t.Fatalf("least = %+v, want B", rep.Least)
	}
}

// TestAnalyzeExtremeTieBreak pins the deterministic tie rule: when the
// alphabetical ranking order disagrees with source order, the extreme
// still goes to the place seen first.
func TestAnalyzeExtremeTieBreak(t *testing.T) {
	t.Parallel()

	recs := []locations.Record{
		named("zebra", 1, 1),
		named("apple", 2, 2),
		named("zebra", 1, 1),
		named("apple", 2, 2),
	}

	rep := Analyze(recs, locations.DefaultRoundPlaces)

	// Ranking is alphabetical inside the tie.
	if rep.Ranking[0].Name != "apple" || rep.Ranking[1].Name != "zebra" {
		t.Fatalf("ranking order = %+v", rep.Ranking)
	}
	// The extremes follow first encounter instead.
	if rep.Most.Name != "zebra" {
		t.Fatalf("most = %q, want zebra (first seen)", rep.Most.Name)
	}
	if rep.Least.Name != "zebra" {
		t.Fatalf("least = %q, want zebra (first seen)", rep.Least.Name)
	}
}

func TestAnalyzeRoundedDuplicates(t *testing.T) {
	t.Parallel()

	recs := []locations.Record{
		named("Cafe", 52.520000, 13.405000),
		named("Cafe", 52.520004, 13.405004), // below the 5-decimal step
		named("Cafe", 52.520100, 13.405000), // a real move
	}

	rep := Analyze(recs, locations.DefaultRoundPlaces)
	if rep.Unique != 2 || rep.Duplicates != 1 {
		t.Fatalf("unique/duplicates = %d/%d, want 2/1", rep.Unique, rep.Duplicates)
	}
}

func TestAnalyzeUnnamedRecords(t *testing.T) {
	t.Parallel()

	recs := []locations.Record{
		named("", 10, 10),
		named("", 10, 10),
		named("Pier", 11, 11),
	}

	rep := Analyze(recs, locations.DefaultRoundPlaces)
	if rep.Total != 3 || rep.Unique != 2 || rep.Duplicates != 1 {
		t.Fatalf("total/unique/duplicates = %d/%d/%d", rep.Total, rep.Unique, rep.Duplicates)
	}
	if len(rep.Ranking) != 1 || rep.Ranking[0].Name != "Pier" {
		t.Fatalf("ranking should hold named places only: %+v", rep.Ranking)
	}
	if len(rep.Groups) != 1 || rep.Groups[0].Name != "" {
		t.Fatalf("unnamed duplicate group lost: %+v", rep.Groups)
	}
}

func TestAnalyzeEmptyInput(t *testing.T) {
	t.Parallel()

	rep := Analyze(nil, locations.DefaultRoundPlaces)
	if rep.Total != 0 || rep.Unique != 0 || rep.Duplicates != 0 {
		t.Fatalf("empty input produced %+v", rep)
	}
	if rep.Most != nil || rep.Least != nil || len(rep.Ranking) != 0 {
		t.Fatalf("empty input should have no ranking: %+v", rep)
	}

	var buf bytes.Buffer
	if err := WriteJSON(&buf, rep); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
}

// TestAnalyzeDeterministic feeds the same shuffled-looking input twice
// and expects byte-identical JSON, the property the whole report design
// leans on.
func TestAnalyzeDeterministic(t *testing.T) {
	t.Parallel()

	recs := []locations.Record{
		named("delta", 4, 4), named("bravo", 2, 2), named("alpha", 1, 1),
		named("bravo", 2, 2), named("charlie", 3, 3), named("alpha", 1, 1),
		named("", 9, 9), named("delta", 4, 4), named("delta", 4.000001, 4),
	}

	var first, second bytes.Buffer
	if err := WriteJSON(&first, Analyze(recs, locations.DefaultRoundPlaces)); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if err := WriteJSON(&second, Analyze(recs, locations.DefaultRoundPlaces)); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Fatalf("two runs over the same input produced different reports")
	}
}

func TestTopLeastOrdering(t *testing.T) {
	t.Parallel()

	var recs []locations.Record
	add := func(name string, times int) {
		for i := 0; i < times; i++ {
			recs = append(recs, named(name, float64(len(recs)), 0))
		}
	}
	add("often", 5)
	add("rare", 1)
	add("sometimes", 3)
	add("also rare", 1)

	rep := Analyze(recs, locations.DefaultRoundPlaces)

	if rep.TopMost[0].Name != "often" {
		t.Fatalf("top most = %+v", rep.TopMost)
	}
	wantLeast := []string{"also rare", "rare", "sometimes", "often"}
	for i, w := range wantLeast {
		if rep.TopLeast[i].Name != w {
			t.Fatalf("top least[%d] = %q, want %q", i, rep.TopLeast[i].Name, w)
		}
	}
}

func TestWriteConsole(t *testing.T) {
	t.Parallel()

	recs := []locations.Record{
		named("Harbour", 1, 1), named("Harbour", 1, 1), named("", 2, 2), named("", 2, 2),
	}
	var buf bytes.Buffer
	WriteConsole(&buf, Analyze(recs, locations.DefaultRoundPlaces))

	out := buf.String()
	for _, want := range []string{"Total records", "Harbour", "(unnamed)", "DUPLICATE GROUPS"} {
		if !strings.Contains(out, want) {
			t.Fatalf("console report misses %q:\n%s", want, out)
		}
	}
}
