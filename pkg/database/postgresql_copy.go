//go:build !(windows && 386)

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/ot2i7ba/UFEDMapper/pkg/locations"
)

// replaceRecordsCopy swaps the snapshot through PostgreSQL COPY: rows
// stream into a temp table, then one INSERT…SELECT moves them over
// inside the same transaction that clears the old snapshot. On any
// failure the caller falls back to batched inserts.
func (db *Database) replaceRecordsCopy(ctx context.Context, recs []locations.Record) error {
	if len(recs) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	conn, err := db.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open postgres connection: %w", err)
	}
	defer conn.Close()

	// Unique per call; temp scope keeps it invisible to other sessions.
	tempTable := fmt.Sprintf("temp_locations_%d", time.Now().UnixNano())
	createTemp := fmt.Sprintf(`CREATE TEMP TABLE %s (
id          BIGINT,
seq         BIGINT,
name        TEXT,
lat         DOUBLE PRECISION,
lon         DOUBLE PRECISION,
ts          BIGINT,
description TEXT,
fields      TEXT
)`, tempTable)
	if _, err := conn.ExecContext(ctx, createTemp); err != nil {
		return fmt.Errorf("create temp table: %w", err)
	}

	// Drop with a detached context so cleanup still runs when the
	// caller's context is already cancelled.
	dropCtx, dropCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer dropCancel()
	defer conn.ExecContext(dropCtx, fmt.Sprintf("DROP TABLE IF EXISTS %s", tempTable))

	rows := make([][]interface{}, 0, len(recs))
	for i, r := range recs {
		rows = append(rows, []interface{}{
			db.NextID(), int64(i), r.Name, r.Lat, r.Lon,
			nullableUnix(r), nullableText(r.Description), fieldsJSON(r.Fields),
		})
	}

	copyErr := conn.Raw(func(driverConn any) error {
		direct, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected postgres driver %T", driverConn)
		}
		_, err := direct.Conn().CopyFrom(
			ctx,
			pgx.Identifier{tempTable},
			[]string{"id", "seq", "name", "lat", "lon", "ts", "description", "fields"},
			pgx.CopyFromRows(rows),
		)
		return err
	})
	if copyErr != nil {
		return fmt.Errorf("copy records into temp table: %w", copyErr)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot swap: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM locations`); err != nil {
		return fmt.Errorf("clear previous snapshot: %w", err)
	}
	merge := fmt.Sprintf(`INSERT INTO locations (id, seq, name, lat, lon, ts, description, fields)
SELECT id, seq, name, lat, lon, ts, description, fields FROM %s ORDER BY seq`, tempTable)
	if _, err := tx.ExecContext(ctx, merge); err != nil {
		return fmt.Errorf("merge temp records: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot swap: %w", err)
	}
	return nil
}
