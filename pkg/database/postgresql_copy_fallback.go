//go:build windows && 386

package database

import (
	"context"
	"fmt"

	"github.com/ot2i7ba/UFEDMapper/pkg/locations"
)

// On Windows x86 the pgx stdlib bridge is unavailable (lib/pq serves
// the "pgx" driver name there), so the COPY fast path reports failure
// and ReplaceRecords stays on batched inserts.
func (db *Database) replaceRecordsCopy(ctx context.Context, recs []locations.Record) error {
	return fmt.Errorf("COPY path not available on this platform")
}
