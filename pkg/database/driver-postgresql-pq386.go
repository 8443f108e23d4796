//go:build windows && 386

package database

import (
	"database/sql"

	"github.com/lib/pq"
)

// On Windows x86 we register lib/pq under the same "pgx" name, so the
// rest of the code and the -db-type flag stay unchanged. The pgx stdlib
// bridge (and with it the COPY fast path) is excluded on this platform.
func init() {
	sql.Register("pgx", &pq.Driver{})
}
