package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ot2i7ba/UFEDMapper/pkg/locations"
)

// insertBatch caps one multi-row VALUES statement at 500 rows, eight
// bind parameters each, comfortably inside every engine's limits.
const insertBatch = 500

// copyThreshold is the record count from which the pgx engine tries the
// COPY fast path before falling back to batched inserts.
const copyThreshold = 1000

// ReplaceRecords swaps the stored snapshot for recs in one transaction:
// previous rows go away, the new set comes in with seq preserving the
// document order. logf may be nil.
func (db *Database) ReplaceRecords(ctx context.Context, recs []locations.Record, logf func(string, ...any)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}

	if db.Driver == "pgx" && len(recs) >= copyThreshold {
		if err := db.replaceRecordsCopy(ctx, recs); err == nil {
			logf("COPY stored %d records", len(recs))
			return nil
		} else {
			logf("COPY unavailable, using batched inserts: %v", err)
		}
	}

	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM locations`); err != nil {
		return fmt.Errorf("clear previous snapshot: %w", err)
	}

	for start := 0; start < len(recs); start += insertBatch {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+insertBatch, len(recs))
		if err := db.insertRecordsChunk(ctx, tx, recs[start:end], start); err != nil {
			return err
		}
		logf("stored %d/%d records", end, len(recs))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func (db *Database) insertRecordsChunk(ctx context.Context, tx *sql.Tx, chunk []locations.Record, seqBase int) error {
	if len(chunk) == 0 {
		return nil
	}

	ph := newPlaceholderGenerator(db.Driver)
	var sb strings.Builder
	sb.WriteString(`INSERT INTO locations (id, seq, name, lat, lon, ts, description, fields) VALUES `)
	args := make([]any, 0, len(chunk)*8)

	for i, r := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for c := 0; c < 8; c++ {
			if c > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(ph())
		}
		sb.WriteString(")")
		args = append(args,
			db.NextID(), int64(seqBase+i), r.Name, r.Lat, r.Lon,
			nullableUnix(r), nullableText(r.Description), fieldsJSON(r.Fields))
	}

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert snapshot batch at %d: %w", seqBase, err)
	}
	return nil
}

// StreamRecords replays the stored snapshot in document order, row by
// row over a channel so large exports never sit in memory twice.
func (db *Database) StreamRecords(ctx context.Context) (<-chan locations.Record, <-chan error) {
	query := `SELECT name, lat, lon, ts, description, fields FROM locations ORDER BY seq`
	return db.streamQuery(ctx, query)
}

// StreamDatedRecords replays only rows with a timestamp inside
// [lo, hi), still in document order. Nil bounds stay open.
func (db *Database) StreamDatedRecords(ctx context.Context, lo, hi *time.Time) (<-chan locations.Record, <-chan error) {
	var (
		where = []string{"ts IS NOT NULL"}
		args  []any
		ph    = newPlaceholderGenerator(db.Driver)
	)
	if lo != nil {
		where = append(where, fmt.Sprintf("ts >= %s", ph()))
		args = append(args, lo.UTC().Unix())
	}
	if hi != nil {
		where = append(where, fmt.Sprintf("ts < %s", ph()))
		args = append(args, hi.UTC().Unix())
	}
	query := `SELECT name, lat, lon, ts, description, fields FROM locations WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY seq`
	return db.streamQuery(ctx, query, args...)
}

func (db *Database) streamQuery(ctx context.Context, query string, args ...any) (<-chan locations.Record, <-chan error) {
	out := make(chan locations.Record)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		rows, err := db.DB.QueryContext(ctx, query, args...)
		if err != nil {
			errCh <- fmt.Errorf("query locations: %w", err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				rec    locations.Record
				ts     sql.NullInt64
				desc   sql.NullString
				fields sql.NullString
			)
			if err := rows.Scan(&rec.Name, &rec.Lat, &rec.Lon, &ts, &desc, &fields); err != nil {
				errCh <- fmt.Errorf("scan location: %w", err)
				return
			}
			if ts.Valid {
				rec.Time = time.Unix(ts.Int64, 0).UTC()
				rec.TimeValid = true
			}
			rec.Description = desc.String
			if fields.Valid && fields.String != "" {
				if err := json.Unmarshal([]byte(fields.String), &rec.Fields); err != nil {
					errCh <- fmt.Errorf("decode fields for %q: %w", rec.Name, err)
					return
				}
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}

		if err := rows.Err(); err != nil {
			errCh <- fmt.Errorf("iterate locations: %w", err)
		}
	}()

	return out, errCh
}

// CollectRecords drains a stream into a slice. Convenience for callers
// that want the whole working set.
func CollectRecords(recCh <-chan locations.Record, errCh <-chan error) ([]locations.Record, error) {
	var recs []locations.Record
	for rec := range recCh {
		recs = append(recs, rec)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return recs, nil
}

func nullableUnix(r locations.Record) any {
	if !r.TimeValid {
		return nil
	}
	return r.Time.UTC().Unix()
}

func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func fieldsJSON(m map[string]string) any {
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return string(b)
}
