// Package database is the snapshot store behind a run: every extracted
// record lands in a `locations` table, every import attempt in
// `import_history`, and later stages read their working sets back out
// through streaming queries. One SQL surface covers four engines; the
// differences live in the DSN assembly, the DDL variants and the
// placeholder style, nowhere else.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Database wraps the SQL connection together with the id generator all
// inserts draw from. Handing out ids from one goroutine keeps primary
// keys identical across engines with and without native sequences.
type Database struct {
	DB          *sql.DB
	idGenerator chan int64
	Driver      string
}

// Config holds what NewDatabase needs to open a store.
type Config struct {
	DBType string // sqlite (default), genji, duckdb or pgx
	DBPath string // file path or stem for the file-based engines
	DBConn string // DSN for pgx
}

// normalizeDBType trims and lowercases driver names so the switch
// blocks below never miss an engine over stray case or whitespace.
func normalizeDBType(dbType string) string {
	return strings.ToLower(strings.TrimSpace(dbType))
}

// startIDGenerator hands out sequential ids over a channel.
func startIDGenerator(initialID int64) chan int64 {
	idChannel := make(chan int64)
	go func(start int64) {
		currentID := start
		for {
			idChannel <- currentID
			currentID++
		}
	}(initialID)
	return idChannel
}

// NextID reserves the next primary key.
func (db *Database) NextID() int64 { return <-db.idGenerator }

// fileDSN resolves the on-disk name for a file-based engine. A bare
// stem gets the engine suffix; explicit paths and :memory: pass through.
func fileDSN(path, ext string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "ufedmapper"
	}
	if strings.Contains(path, ":memory:") || strings.Contains(path, ".") {
		return path
	}
	return path + "." + ext
}

// NewDatabase opens the store and configures pooling. The file-based
// engines run over a single physical connection; concurrent access is
// serialized at this layer instead of inside the engine.
func NewDatabase(config Config) (*Database, error) {
	driverName := normalizeDBType(config.DBType)
	if driverName == "" {
		driverName = "sqlite"
	}

	var (
		dsn                string
		applySQLitePragmas bool
	)

	switch driverName {
	case "sqlite":
		applySQLitePragmas = true
		dsn = fileDSN(config.DBPath, "sqlite")
	case "genji":
		// Genji reuses file-style DSNs but manages its own journal, so
		// the SQLite PRAGMA tuning must not run against it.
		dsn = fileDSN(config.DBPath, "genji")
	case "duckdb":
		// The file appears on first open.
		dsn = fileDSN(config.DBPath, "duckdb")
	case "pgx":
		dsn = strings.TrimSpace(config.DBConn)
		if dsn == "" {
			return nil, fmt.Errorf("pgx engine needs a connection string (-db-conn)")
		}
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.DBType)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	switch driverName {
	case "sqlite", "genji":
		// One physical connection, never recycled. A second connection
		// to :memory: would even see a different database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		if applySQLitePragmas {
			tuneCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := tuneSQLiteLikeConnection(tuneCtx, db, log.Printf); err != nil {
				log.Printf("sqlite tuning skipped: %v", err)
			}
			cancel()
		}
	case "duckdb":
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		tuneCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := tuneDuckDBConnection(tuneCtx, db, log.Printf); err != nil {
			log.Printf("duckdb tuning skipped: %v", err)
		}
		cancel()
	case "pgx":
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	{
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("connect to database: %w", err)
		}
	}

	// Seed the id generator past everything already stored. Errors are
	// ignored on purpose: the tables may not exist until InitSchema.
	var (
		maxLocations sql.NullInt64
		maxImports   sql.NullInt64
	)
	_ = db.QueryRow(`SELECT MAX(id) FROM locations`).Scan(&maxLocations)
	_ = db.QueryRow(`SELECT MAX(id) FROM import_history`).Scan(&maxImports)
	initialID := int64(1)
	if maxLocations.Valid && maxLocations.Int64 >= initialID {
		initialID = maxLocations.Int64 + 1
	}
	if maxImports.Valid && maxImports.Int64 >= initialID {
		initialID = maxImports.Int64 + 1
	}

	return &Database{
		DB:          db,
		idGenerator: startIDGenerator(initialID),
		Driver:      driverName,
	}, nil
}

// Close releases the underlying connection.
func (db *Database) Close() error { return db.DB.Close() }

// tuneSQLiteLikeConnection applies WAL/synchronous/busy pragmas. The
// steps run through a small channel pipeline owned by a worker
// goroutine, so a hung engine cannot strand the caller past its ctx.
func tuneSQLiteLikeConnection(ctx context.Context, db *sql.DB, logf func(string, ...any)) error {
	type pragma struct {
		label     string
		query     string
		expectRow bool
	}

	steps := []pragma{
		{label: "journal_mode", query: "PRAGMA journal_mode=WAL;", expectRow: true},
		{label: "synchronous", query: "PRAGMA synchronous=NORMAL;"},
		{label: "temp_store", query: "PRAGMA temp_store=MEMORY;"},
		{label: "cache_size", query: "PRAGMA cache_size=-20000;"},
		{label: "busy_timeout", query: "PRAGMA busy_timeout=5000;"},
	}

	jobs := make(chan pragma)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		for step := range jobs {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			default:
			}

			if step.expectRow {
				var mode string
				if err := db.QueryRowContext(ctx, step.query).Scan(&mode); err != nil {
					errs <- fmt.Errorf("apply %s: %w", step.label, err)
					return
				}
				logf("sqlite tuning %s -> %s", step.label, mode)
				continue
			}
			if _, err := db.ExecContext(ctx, step.query); err != nil {
				errs <- fmt.Errorf("apply %s: %w", step.label, err)
				return
			}
		}
		errs <- nil
	}()

	go func() {
		defer close(jobs)
		for _, step := range steps {
			jobs <- step
		}
	}()

	return <-errs
}

// tuneDuckDBConnection raises the thread count and the checkpoint
// threshold so a bulk snapshot flushes once at commit instead of
// pausing mid-import.
func tuneDuckDBConnection(ctx context.Context, db *sql.DB, logf func(string, ...any)) error {
	threads := runtime.NumCPU()
	if threads < 1 {
		threads = 1
	}

	steps := []struct {
		label string
		query string
	}{
		{label: "threads", query: fmt.Sprintf("PRAGMA threads=%d;", threads)},
		{label: "checkpoint_threshold", query: "PRAGMA checkpoint_threshold='1GB';"},
	}
	for _, step := range steps {
		if _, err := db.ExecContext(ctx, step.query); err != nil {
			return fmt.Errorf("apply %s: %w", step.label, err)
		}
		logf("duckdb tuning %s applied", step.label)
	}
	return nil
}

// placeholder formats the n-th bind parameter for the given engine.
func placeholder(dbType string, n int) string {
	if normalizeDBType(dbType) == "pgx" {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// newPlaceholderGenerator returns a closure yielding consecutive bind
// parameters, for building multi-row VALUES lists.
func newPlaceholderGenerator(dbType string) func() string {
	n := 0
	pgx := normalizeDBType(dbType) == "pgx"
	return func() string {
		n++
		if pgx {
			return "$" + strconv.Itoa(n)
		}
		return "?"
	}
}

// InitSchema creates the tables when missing. Each engine keeps its own
// DDL variant; the column set is identical everywhere.
func (db *Database) InitSchema() error {
	var statements []string

	switch db.Driver {
	case "pgx":
		statements = []string{`
CREATE TABLE IF NOT EXISTS locations (
  id          BIGINT PRIMARY KEY,
  seq         BIGINT,
  name        TEXT,
  lat         DOUBLE PRECISION,
  lon         DOUBLE PRECISION,
  ts          BIGINT,
  description TEXT,
  fields      TEXT
);`, `
CREATE INDEX IF NOT EXISTS idx_locations_seq ON locations (seq);`, `
CREATE INDEX IF NOT EXISTS idx_locations_ts ON locations (ts);`, `
CREATE TABLE IF NOT EXISTS import_history (
  id          BIGINT PRIMARY KEY,
  source      TEXT,
  digest      TEXT,
  imported_at BIGINT,
  total       BIGINT,
  skipped     BIGINT,
  status      TEXT,
  message     TEXT
);`, `
CREATE UNIQUE INDEX IF NOT EXISTS idx_import_history_digest ON import_history (digest);`,
		}

	case "sqlite":
		statements = []string{`
CREATE TABLE IF NOT EXISTS locations (
  id          BIGINT PRIMARY KEY,
  seq         BIGINT,
  name        TEXT,
  lat         REAL,
  lon         REAL,
  ts          BIGINT,
  description TEXT,
  fields      TEXT
);`, `
CREATE INDEX IF NOT EXISTS idx_locations_seq ON locations (seq);`, `
CREATE INDEX IF NOT EXISTS idx_locations_ts ON locations (ts);`, `
CREATE TABLE IF NOT EXISTS import_history (
  id          BIGINT PRIMARY KEY,
  source      TEXT,
  digest      TEXT,
  imported_at BIGINT,
  total       BIGINT,
  skipped     BIGINT,
  status      TEXT,
  message     TEXT
);`, `
CREATE UNIQUE INDEX IF NOT EXISTS idx_import_history_digest ON import_history (digest);`,
		}

	case "genji":
		// Conservative types; Genji maps them onto its document fields.
		statements = []string{`
CREATE TABLE IF NOT EXISTS locations (
  id          INTEGER PRIMARY KEY,
  seq         INTEGER,
  name        TEXT,
  lat         DOUBLE,
  lon         DOUBLE,
  ts          INTEGER,
  description TEXT,
  fields      TEXT
);`, `
CREATE INDEX IF NOT EXISTS idx_locations_seq ON locations (seq);`, `
CREATE INDEX IF NOT EXISTS idx_locations_ts ON locations (ts);`, `
CREATE TABLE IF NOT EXISTS import_history (
  id          INTEGER PRIMARY KEY,
  source      TEXT,
  digest      TEXT,
  imported_at INTEGER,
  total       INTEGER,
  skipped     INTEGER,
  status      TEXT,
  message     TEXT
);`, `
CREATE UNIQUE INDEX IF NOT EXISTS idx_import_history_digest ON import_history (digest);`,
		}

	case "duckdb":
		statements = []string{`
CREATE TABLE IF NOT EXISTS locations (
  id          BIGINT PRIMARY KEY,
  seq         BIGINT,
  name        TEXT,
  lat         DOUBLE,
  lon         DOUBLE,
  ts          BIGINT,
  description TEXT,
  fields      TEXT
);`, `
CREATE INDEX IF NOT EXISTS idx_locations_seq ON locations (seq);`, `
CREATE INDEX IF NOT EXISTS idx_locations_ts ON locations (ts);`, `
CREATE TABLE IF NOT EXISTS import_history (
  id          BIGINT PRIMARY KEY,
  source      TEXT,
  digest      TEXT,
  imported_at BIGINT,
  total       BIGINT,
  skipped     BIGINT,
  status      TEXT,
  message     TEXT
);`, `
CREATE UNIQUE INDEX IF NOT EXISTS idx_import_history_digest ON import_history (digest);`,
		}

	default:
		return fmt.Errorf("unsupported database type: %s", db.Driver)
	}

	if err := execStatements(db.DB, statements); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// execStatements runs DDL one statement at a time so engines without
// multi-statement Exec still boot.
func execStatements(db *sql.DB, stmts []string) error {
	for _, raw := range stmts {
		stmt := strings.TrimSpace(raw)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
