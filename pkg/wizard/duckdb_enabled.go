//go:build duckdb

// The duckdb build tag compiles the DuckDB driver in. This file marks
// the wizard as aware of that, so the engine list only offers DuckDB
// when the binary can actually open it.
package wizard

const duckDBBuilt = true
