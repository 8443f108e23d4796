// UFEDMapper turns a KML geolocation export into CSV tables, a visit
// analysis and interactive map documents. One run is a straight
// pipeline: fingerprint the source, parse it, snapshot the records into
// a SQL store, export tables, analyze, then render the requested maps
// from the snapshot.
package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ot2i7ba/UFEDMapper/pkg/analytics"
	"github.com/ot2i7ba/UFEDMapper/pkg/database"
	"github.com/ot2i7ba/UFEDMapper/pkg/evidence"
	"github.com/ot2i7ba/UFEDMapper/pkg/kml"
	"github.com/ot2i7ba/UFEDMapper/pkg/locations"
	"github.com/ot2i7ba/UFEDMapper/pkg/logger"
	"github.com/ot2i7ba/UFEDMapper/pkg/mapreport"
	"github.com/ot2i7ba/UFEDMapper/pkg/plotdata"
	"github.com/ot2i7ba/UFEDMapper/pkg/qrstamp"
	"github.com/ot2i7ba/UFEDMapper/pkg/tabular"
	"github.com/ot2i7ba/UFEDMapper/pkg/wizard"
)

//go:embed public_html/plot.html
var content embed.FS

var kmlFile = flag.String("kml", "", "Path to the KML geolocation export (blank starts the interactive setup)")
var prefix = flag.String("prefix", wizard.DefaultPrefix, "Prefix for output artifact names")
var plots = flag.String("plots", "scatter", `Comma-separated plot kinds or "all": scatter, heatmap, line, circle, polygon, cluster, time`)
var fromDate = flag.String("from", "", "Start date filter, DD.MM.YYYY (inclusive)")
var toDate = flag.String("to", "", "End date filter, DD.MM.YYYY (inclusive)")
var dbType = flag.String("db-type", "sqlite", "Snapshot engine: sqlite, genji, duckdb, or pgx (postgresql)")
var dbPath = flag.String("db-path", "", "Snapshot file for the file-based engines (a bare name gets the engine extension)")
var dbConn = flag.String("db-conn", "", "PostgreSQL connection string (pgx engine)")
var outDir = flag.String("out-dir", ".", "Directory for maps, CSV exports and the analysis report")
var workers = flag.Int("workers", 0, "Parallel placemark decoders (0 = one per CPU)")
var roundPlaces = flag.Int("round", locations.DefaultRoundPlaces, "Coordinate decimal places for duplicate grouping")
var logFile = flag.String("log-file", "", "Append the run log to this file as well")
var noInput = flag.Bool("no-input", false, "Never prompt; fail when required settings are missing")
var version = flag.Bool("version", false, "Show the application version")

var CompileVersion = "dev"

// runConfig is the resolved configuration one pipeline run works from,
// assembled either from flags alone or from the interactive setup.
type runConfig struct {
	KMLPath string
	Prefix  string
	Kinds   []plotdata.Kind
	From    *time.Time
	To      *time.Time
	DB      database.Config
	OutDir  string
	Workers int
	Round   int
}

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("UFEDMapper version %s\n", CompileVersion)
		return
	}

	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatalf("open log file: %v", err)
		}
		defer f.Close()
		log.SetOutput(io.MultiWriter(os.Stderr, f))
	}

	log.Printf("UFEDMapper %s", CompileVersion)

	cfg, err := resolveConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

// resolveConfig turns flags into a runConfig, falling back to the
// interactive setup when no KML file was given and a terminal is
// attached.
func resolveConfig() (runConfig, error) {
	cfg := runConfig{
		KMLPath: strings.TrimSpace(*kmlFile),
		Prefix:  wizard.SanitizePrefix(*prefix),
		DB: database.Config{
			DBType: *dbType,
			DBPath: *dbPath,
			DBConn: *dbConn,
		},
		OutDir:  *outDir,
		Workers: *workers,
		Round:   *roundPlaces,
	}

	if cfg.KMLPath == "" {
		if *noInput || !stdinIsTerminal() {
			return runConfig{}, errors.New("no KML file given; pass -kml or run interactively")
		}
		res, err := wizard.Run(context.Background(), os.Stdin, os.Stdout, wizard.Defaults{
			Prefix:   *prefix,
			Plots:    *plots,
			FromText: *fromDate,
			ToText:   *toDate,
			DBType:   *dbType,
			DBPath:   *dbPath,
			DBConn:   *dbConn,
			OutDir:   *outDir,
		})
		if err != nil {
			return runConfig{}, err
		}
		cfg.KMLPath = res.KMLPath
		cfg.Prefix = res.Prefix
		cfg.Kinds = res.Kinds
		cfg.From = res.From
		cfg.To = res.To
		cfg.DB = database.Config{DBType: res.DBType, DBPath: res.DBPath, DBConn: res.DBConn}
		cfg.OutDir = res.OutDir
		return cfg, validateRange(cfg)
	}

	kinds, err := plotdata.ParseKinds(*plots)
	if err != nil {
		return runConfig{}, err
	}
	cfg.Kinds = kinds

	if cfg.From, err = parseDayFlag(*fromDate); err != nil {
		return runConfig{}, err
	}
	if cfg.To, err = parseDayFlag(*toDate); err != nil {
		return runConfig{}, err
	}
	return cfg, validateRange(cfg)
}

func parseDayFlag(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	day, err := locations.ParseDay(s)
	if err != nil {
		return nil, err
	}
	return &day, nil
}

// validateRange rejects a reversed date window before any work starts.
func validateRange(cfg runConfig) error {
	_, err := locations.FilterByDate(nil, cfg.From, cfg.To)
	return err
}

func stdinIsTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// run executes the pipeline. Every stage opens a logger buffer; detail
// lines surface only when the stage fails, warnings always do.
func run(ctx context.Context, cfg runConfig) error {
	start := time.Now()
	stamp := start.Format("20060102_150405")
	base := strings.TrimSuffix(filepath.Base(cfg.KMLPath), filepath.Ext(cfg.KMLPath))

	artifact := func(suffix string) string {
		return filepath.Join(cfg.OutDir, fmt.Sprintf("%s_%s_%s", cfg.Prefix, stamp, suffix))
	}

	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		log.Printf("✖ %v", err)
		return err
	}

	// The fingerprint ties every artifact of this run to the exact
	// source bytes.
	logger.Begin("source")
	fp, err := evidence.File(cfg.KMLPath)
	if err != nil {
		logger.Fail("source", err)
		return err
	}
	if !strings.EqualFold(filepath.Ext(cfg.KMLPath), ".kml") {
		logger.Warn("source", "unusual extension %q, the content decides whether this parses", filepath.Ext(cfg.KMLPath))
	}
	logger.Success("source", "%s (%d bytes, BLAKE2b %s)", filepath.Base(cfg.KMLPath), fp.Size, fp.Short())

	logger.Begin("parse")
	res, err := kml.ParseFile(ctx, cfg.KMLPath, kml.Config{
		Workers: cfg.Workers,
		Logf: func(format string, args ...any) {
			logger.Warn("parse", format, args...)
		},
	})
	if err != nil {
		logger.Fail("parse", err)
		return err
	}
	if len(res.Records) == 0 {
		logger.Warn("parse", "document contains no placemarks")
	}
	logger.Success("parse", "%d records (%d skipped, %d undated)", len(res.Records), res.Skipped, res.Undated)

	logger.Begin("store")
	db, err := database.NewDatabase(cfg.DB)
	if err != nil {
		logger.Fail("store", err)
		return err
	}
	defer db.Close()
	if err := db.InitSchema(); err != nil {
		logger.Fail("store", err)
		return err
	}
	if prev, found, lookupErr := db.FindImportByDigest(ctx, fp.Digest); lookupErr != nil {
		logger.Append("store", "import history lookup failed: %v", lookupErr)
	} else if found {
		logger.Warn("store", "this export was already imported as %s on %s (%d records); the snapshot will be replaced",
			prev.Source, time.Unix(prev.ImportedAt, 0).UTC().Format("2006-01-02 15:04:05"), prev.Total)
	}
	if err := db.ReplaceRecords(ctx, res.Records, func(format string, args ...any) {
		logger.Append("store", format, args...)
	}); err != nil {
		logger.Fail("store", err)
		return err
	}
	if err := db.RecordImport(ctx, database.ImportRecord{
		Source:     filepath.Base(cfg.KMLPath),
		Digest:     fp.Digest,
		ImportedAt: start.UTC().Unix(),
		Total:      int64(len(res.Records)),
		Skipped:    int64(res.Skipped),
		Status:     "ok",
	}); err != nil {
		logger.Warn("store", "import history not updated: %v", err)
	}
	logger.Success("store", "%d records in %s snapshot", len(res.Records), db.Driver)

	logger.Begin("export")
	fullCSV := artifact(base + ".csv")
	if err := tabular.WriteFile(fullCSV, res.Records); err != nil {
		logger.Fail("export", err)
		return err
	}
	dated := datedOnly(res.Records)
	datedCSV := artifact(base + "_timestamps.csv")
	if err := tabular.WriteFile(datedCSV, dated); err != nil {
		logger.Fail("export", err)
		return err
	}
	logger.Success("export", "%s and %s (%d dated rows)", filepath.Base(fullCSV), filepath.Base(datedCSV), len(dated))

	logger.Begin("analyze")
	rep := analytics.Analyze(res.Records, cfg.Round)
	rep.Source = filepath.Base(cfg.KMLPath)
	rep.Digest = fp.Digest
	analysisPath := artifact(base + "_analysis.json")
	if err := writeReportFile(analysisPath, rep); err != nil {
		logger.Fail("analyze", err)
		return err
	}
	logger.Success("analyze", "%d unique of %d total, report %s", rep.Unique, rep.Total, filepath.Base(analysisPath))

	// The console report writes to stdout directly, so drain the log
	// queue first to keep the output in order.
	logger.Sync()
	analytics.WriteConsole(os.Stdout, rep)

	// The plot working set is read back from the snapshot rather than
	// reused from memory, so what gets drawn is exactly what a later
	// re-run over the same store would see.
	logger.Begin("filter")
	working, err := loadWorkingSet(ctx, db, cfg)
	if err != nil {
		logger.Fail("filter", err)
		return err
	}
	if cfg.From == nil && cfg.To == nil {
		logger.Success("filter", "no date filter, %d records", len(working))
	} else {
		if res.Undated > 0 {
			logger.Warn("filter", "%d undated records fall outside any date filter", res.Undated)
		}
		filteredCSV := artifact(base + "_filtered.csv")
		if err := tabular.WriteFile(filteredCSV, working); err != nil {
			logger.Fail("filter", err)
			return err
		}
		logger.Success("filter", "%d of %d records in %s, saved %s",
			len(working), len(res.Records), rangeLabel(cfg.From, cfg.To), filepath.Base(filteredCSV))
	}

	logger.Begin("plots")
	qrURI, err := qrstamp.DataURI(qrPayload(fp, start), qrstamp.Options{})
	if err != nil {
		logger.Append("plots", "qr stamp unavailable: %v", err)
		qrURI = ""
	}

	type plotResult struct {
		kind  plotdata.Kind
		path  string
		count int
		err   error
	}

	results := make(chan plotResult, len(cfg.Kinds))
	for _, kind := range cfg.Kinds {
		go func(kind plotdata.Kind) {
			in, err := plotdata.Prepare(working, kind)
			if err != nil {
				results <- plotResult{kind: kind, err: err}
				return
			}
			count := len(in.Points)
			if count == 0 {
				count = len(in.Path)
			}
			doc := mapreport.Document{
				Title:        fmt.Sprintf("%s %s map", cfg.Prefix, kind),
				Version:      CompileVersion,
				Generated:    start.UTC().Format("2006-01-02 15:04:05 UTC"),
				SourceName:   filepath.Base(cfg.KMLPath),
				SourceDigest: fp.Short(),
				RangeLabel:   rangeLabel(cfg.From, cfg.To),
				Count:        count,
				Input:        in,
				QRDataURI:    qrURI,
			}
			path := artifact(string(kind) + "_map.html")
			f, err := os.Create(path)
			if err != nil {
				results <- plotResult{kind: kind, err: err}
				return
			}
			if err := mapreport.Render(f, content, doc); err != nil {
				f.Close()
				results <- plotResult{kind: kind, err: err}
				return
			}
			results <- plotResult{kind: kind, path: path, count: count, err: f.Close()}
		}(kind)
	}

	byKind := make(map[plotdata.Kind]plotResult, len(cfg.Kinds))
	for range cfg.Kinds {
		r := <-results
		byKind[r.kind] = r
	}

	rendered := 0
	for _, kind := range cfg.Kinds {
		r := byKind[kind]
		switch {
		case errors.Is(r.err, plotdata.ErrNoData):
			logger.Warn("plots", "%s: no records to plot, skipped", kind)
		case r.err != nil:
			logger.Fail("plots", fmt.Errorf("%s: %w", kind, r.err))
			return r.err
		default:
			logger.Append("plots", "%s rendered to %s", kind, filepath.Base(r.path))
			rendered++
		}
	}
	logger.Success("plots", "%d of %d maps rendered", rendered, len(cfg.Kinds))

	log.Printf("✔ finished in %s, artifacts in %s", time.Since(start).Round(time.Millisecond), cfg.OutDir)
	return nil
}

// loadWorkingSet streams the snapshot back out of the store, pushing
// the date window into SQL when one is set and re-applying the calendar
// filter in memory as the authoritative check.
func loadWorkingSet(ctx context.Context, db *database.Database, cfg runConfig) ([]locations.Record, error) {
	if cfg.From == nil && cfg.To == nil {
		recCh, errCh := db.StreamRecords(ctx)
		return database.CollectRecords(recCh, errCh)
	}

	var lo, hi *time.Time
	if cfg.From != nil {
		lo = cfg.From
	}
	if cfg.To != nil {
		// From and To are day-aligned; the exclusive SQL bound is the
		// next midnight.
		h := cfg.To.Add(24 * time.Hour)
		hi = &h
	}
	recCh, errCh := db.StreamDatedRecords(ctx, lo, hi)
	stored, err := database.CollectRecords(recCh, errCh)
	if err != nil {
		return nil, err
	}
	return locations.FilterByDate(stored, cfg.From, cfg.To)
}

func datedOnly(recs []locations.Record) []locations.Record {
	out := make([]locations.Record, 0, len(recs))
	for _, r := range recs {
		if r.TimeValid {
			out = append(out, r)
		}
	}
	return out
}

func writeReportFile(path string, rep analytics.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := analytics.WriteJSON(f, rep); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// qrPayload is the provenance text baked into the QR badge on every
// rendered map.
func qrPayload(fp evidence.Fingerprint, at time.Time) string {
	return fmt.Sprintf("UFEDMapper %s\nsource: %s\nBLAKE2b: %s\nimported: %s",
		CompileVersion, filepath.Base(fp.Path), fp.Digest, at.UTC().Format(time.RFC3339))
}

func rangeLabel(from, to *time.Time) string {
	switch {
	case from == nil && to == nil:
		return "all records"
	case from == nil:
		return "until " + to.Format(locations.DayFormat)
	case to == nil:
		return "from " + from.Format(locations.DayFormat)
	default:
		return from.Format(locations.DayFormat) + " to " + to.Format(locations.DayFormat)
	}
}
