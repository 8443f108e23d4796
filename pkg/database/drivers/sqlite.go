//go:build (netbsd && amd64) || ios || freebsd || darwin || (linux && riscv64) || (linux && ppc64le) || (linux && s390x) || (linux && amd64) || (linux && arm64) || (linux && 386) || android || (openbsd && amd64) || (openbsd && arm64)

package drivers

import (
	// Register the modernc SQLite driver, the default engine. Binaries
	// opt in by importing this package; plain test builds stay free of
	// the dependency.
	_ "modernc.org/sqlite"
)
