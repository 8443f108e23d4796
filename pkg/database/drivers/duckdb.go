//go:build cgo && duckdb && linux && (amd64 || arm64)

// DuckDB needs CGO and a platform-specific binary package, so the
// driver only compiles in when the duckdb tag is set on a Linux build.
// Build examples:
//
//	CGO_ENABLED=1 GOOS=linux GOARCH=amd64 go build -tags duckdb
//	CGO_ENABLED=1 GOOS=linux GOARCH=arm64 go build -tags duckdb
//
// Binaries built without the tag still run; they just cannot open the
// duckdb engine.
package drivers

import (
	_ "github.com/marcboeker/go-duckdb"
)
