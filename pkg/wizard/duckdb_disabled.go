//go:build !duckdb

// Without the duckdb tag the driver is absent, so the wizard hides the
// engine instead of offering a choice that would fail at open time.
package wizard

const duckDBBuilt = false
