package database

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ot2i7ba/UFEDMapper/pkg/locations"

	_ "modernc.org/sqlite"
)

// openTestDB opens a throwaway in-memory store with the schema applied.
func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(Config{DBType: "sqlite", DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	return db
}

func noplog(string, ...any) {}

// TestFileDSN checks stem completion against explicit paths. Operators
// pass either a bare name or a full filename; both must land on a
// predictable file.
func TestFileDSN(t *testing.T) {
	tests := []struct {
		path string
		ext  string
		want string
	}{
		{"", "sqlite", "ufedmapper.sqlite"},
		{"case042", "sqlite", "case042.sqlite"},
		{"case042.db", "sqlite", "case042.db"},
		{"evidence/case.duckdb", "duckdb", "evidence/case.duckdb"},
		{":memory:", "sqlite", ":memory:"},
		{"  case042  ", "genji", "case042.genji"},
	}
	for _, tc := range tests {
		if got := fileDSN(tc.path, tc.ext); got != tc.want {
			t.Errorf("fileDSN(%q, %q) = %q, want %q", tc.path, tc.ext, got, tc.want)
		}
	}
}

// TestPlaceholders verifies both placeholder styles, since a wrong bind
// marker only surfaces at query time on the affected engine.
func TestPlaceholders(t *testing.T) {
	if got := placeholder("sqlite", 3); got != "?" {
		t.Fatalf("placeholder(sqlite, 3) = %q, want ?", got)
	}
	if got := placeholder("pgx", 3); got != "$3" {
		t.Fatalf("placeholder(pgx, 3) = %q, want $3", got)
	}

	ph := newPlaceholderGenerator("PGX ")
	for i, want := range []string{"$1", "$2", "$3"} {
		if got := ph(); got != want {
			t.Fatalf("generator call %d = %q, want %q", i+1, got, want)
		}
	}
}

// TestNewDatabaseRejectsBadConfig covers the failures that must be
// caught before any connection is attempted.
func TestNewDatabaseRejectsBadConfig(t *testing.T) {
	if _, err := NewDatabase(Config{DBType: "oracle"}); err == nil {
		t.Fatal("unknown engine accepted")
	}
	if _, err := NewDatabase(Config{DBType: "pgx"}); err == nil {
		t.Fatal("pgx without a connection string accepted")
	}
}

// TestSnapshotRoundTrip writes a mixed batch and reads it back through
// the streaming query, expecting identical records in document order.
func TestSnapshotRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	in := []locations.Record{
		{
			Name: "Hauptbahnhof", Lat: 52.5251, Lon: 13.3694,
			Time: time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC), TimeValid: true,
			Description: "arrival scan",
			Fields:      map[string]string{"Source": "Device A", "Tag": "transit"},
		},
		{Name: "Unnamed stop", Lat: 52.5, Lon: 13.4},
		{
			Name: "Hauptbahnhof", Lat: 52.5251, Lon: 13.3694,
			Time: time.Date(2024, 3, 2, 19, 5, 42, 0, time.UTC), TimeValid: true,
		},
	}

	if err := db.ReplaceRecords(ctx, in, noplog); err != nil {
		t.Fatalf("ReplaceRecords: %v", err)
	}

	recCh, errCh := db.StreamRecords(ctx)
	got, err := CollectRecords(recCh, errCh)
	if err != nil {
		t.Fatalf("CollectRecords: %v", err)
	}
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, in)
	}
}

// TestReplaceRecordsReplaces makes sure a second import wipes the first
// snapshot instead of appending to it.
func TestReplaceRecordsReplaces(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first := []locations.Record{
		{Name: "old A", Lat: 1, Lon: 1},
		{Name: "old B", Lat: 2, Lon: 2},
		{Name: "old C", Lat: 3, Lon: 3},
	}
	if err := db.ReplaceRecords(ctx, first, noplog); err != nil {
		t.Fatalf("first import: %v", err)
	}

	second := []locations.Record{{Name: "new", Lat: 9, Lon: 9}}
	if err := db.ReplaceRecords(ctx, second, noplog); err != nil {
		t.Fatalf("second import: %v", err)
	}

	recCh, errCh := db.StreamRecords(ctx)
	got, err := CollectRecords(recCh, errCh)
	if err != nil {
		t.Fatalf("CollectRecords: %v", err)
	}
	if !reflect.DeepEqual(got, second) {
		t.Fatalf("snapshot after replace = %+v, want %+v", got, second)
	}
}

// TestStreamDatedRecords exercises the windowed read: undated rows never
// appear, bounds are half-open on the upper side, and nil bounds leave
// the respective side unbounded.
func TestStreamDatedRecords(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	day := func(d int) time.Time { return time.Date(2024, 3, d, 12, 0, 0, 0, time.UTC) }
	in := []locations.Record{
		{Name: "first", Lat: 1, Lon: 1, Time: day(1), TimeValid: true},
		{Name: "undated", Lat: 2, Lon: 2},
		{Name: "second", Lat: 3, Lon: 3, Time: day(2), TimeValid: true},
		{Name: "third", Lat: 4, Lon: 4, Time: day(3), TimeValid: true},
	}
	if err := db.ReplaceRecords(ctx, in, noplog); err != nil {
		t.Fatalf("ReplaceRecords: %v", err)
	}

	names := func(lo, hi *time.Time) []string {
		t.Helper()
		recCh, errCh := db.StreamDatedRecords(ctx, lo, hi)
		recs, err := CollectRecords(recCh, errCh)
		if err != nil {
			t.Fatalf("StreamDatedRecords: %v", err)
		}
		out := make([]string, 0, len(recs))
		for _, r := range recs {
			out = append(out, r.Name)
		}
		return out
	}

	tp := func(t time.Time) *time.Time { return &t }

	tests := []struct {
		label  string
		lo, hi *time.Time
		want   []string
	}{
		{"unbounded", nil, nil, []string{"first", "second", "third"}},
		{"lower only", tp(day(2)), nil, []string{"second", "third"}},
		{"upper only", nil, tp(day(2)), []string{"first"}},
		{"window", tp(day(2)), tp(day(3)), []string{"second"}},
		{"upper bound excluded", tp(day(1)), tp(day(1)), []string{}},
	}
	for _, tc := range tests {
		if got := names(tc.lo, tc.hi); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.label, got, tc.want)
		}
	}
}

// TestImportHistory walks the digest ledger through miss, insert and
// refresh. A refreshed digest must overwrite its row, not add one.
func TestImportHistory(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	const digest = "1f0e4c52cafe"

	if _, found, err := db.FindImportByDigest(ctx, digest); err != nil || found {
		t.Fatalf("lookup before insert = found %v, err %v", found, err)
	}
	if _, found, err := db.FindImportByDigest(ctx, ""); err != nil || found {
		t.Fatalf("empty digest lookup = found %v, err %v", found, err)
	}

	rec := ImportRecord{
		Source:     "export.kml",
		Digest:     digest,
		ImportedAt: 1709280000,
		Total:      812,
		Skipped:    3,
		Status:     "ok",
	}
	if err := db.RecordImport(ctx, rec); err != nil {
		t.Fatalf("RecordImport insert: %v", err)
	}

	got, found, err := db.FindImportByDigest(ctx, digest)
	if err != nil || !found {
		t.Fatalf("lookup after insert = found %v, err %v", found, err)
	}
	if !reflect.DeepEqual(got, rec) {
		t.Fatalf("stored record = %+v, want %+v", got, rec)
	}

	rec.ImportedAt = 1709366400
	rec.Total = 815
	rec.Message = "re-imported after fix"
	if err := db.RecordImport(ctx, rec); err != nil {
		t.Fatalf("RecordImport update: %v", err)
	}

	got, found, err = db.FindImportByDigest(ctx, digest)
	if err != nil || !found {
		t.Fatalf("lookup after update = found %v, err %v", found, err)
	}
	if !reflect.DeepEqual(got, rec) {
		t.Fatalf("refreshed record = %+v, want %+v", got, rec)
	}

	var rows int64
	if err := db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM import_history`).Scan(&rows); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if rows != 1 {
		t.Fatalf("import_history rows = %d, want 1", rows)
	}

	if err := db.RecordImport(ctx, ImportRecord{}); err == nil {
		t.Fatal("empty digest accepted")
	}
}

// TestNextIDResumesPastStoredRows reopens a file-backed store and
// expects fresh ids to continue above everything already on disk.
func TestNextIDResumesPastStoredRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "case.sqlite")
	ctx := context.Background()

	db, err := NewDatabase(Config{DBType: "sqlite", DBPath: path})
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	if err := db.ReplaceRecords(ctx, []locations.Record{
		{Name: "a", Lat: 1, Lon: 1},
		{Name: "b", Lat: 2, Lon: 2},
	}, noplog); err != nil {
		t.Fatalf("ReplaceRecords: %v", err)
	}

	var maxID int64
	if err := db.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM locations`).Scan(&maxID); err != nil {
		t.Fatalf("max id: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewDatabase(Config{DBType: "sqlite", DBPath: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if next := reopened.NextID(); next <= maxID {
		t.Fatalf("NextID() after reopen = %d, want > %d", next, maxID)
	}
}
