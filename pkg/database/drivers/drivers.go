// Package drivers groups database/sql driver registrations so heavy
// engine dependencies stay out of lightweight go test/go vet runs
// unless a binary explicitly imports this package.
package drivers

// Ready is a no-op helper used by main packages to make the import
// explicit.  Calling Ready from init keeps the reason the package is
// pulled in visible without adding any other side effects.
func Ready() {}
