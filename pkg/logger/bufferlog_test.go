package logger

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"
)

// capture redirects the standard logger, runs fn, syncs the command
// channel and returns everything printed. The logger goroutine is
// global, so these tests must not run in parallel with each other.
func capture(fn func()) string {
	var buf bytes.Buffer
	old := log.Writer()
	flags := log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(old)
		log.SetFlags(flags)
	}()

	fn()
	Sync()
	return buf.String()
}

func TestSuccessDropsDetail(t *testing.T) {
	out := capture(func() {
		Begin("parse")
		Append("parse", "read %d placemarks", 12)
		Append("parse", "pool of %d workers", 4)
		Success("parse", "12 records")
	})

	if !strings.Contains(out, "▶ start") || !strings.Contains(out, "✔ 12 records") {
		t.Fatalf("missing begin/success lines:\n%s", out)
	}
	if strings.Contains(out, "placemarks") || strings.Contains(out, "workers") {
		t.Fatalf("buffered detail leaked on success:\n%s", out)
	}
}

func TestFailReplaysDetail(t *testing.T) {
	out := capture(func() {
		Begin("snapshot")
		Append("snapshot", "opening engine %s", "sqlite")
		Append("snapshot", "batch %d of %d", 1, 3)
		Fail("snapshot", errors.New("disk full"))
	})

	for _, want := range []string{"opening engine sqlite", "batch 1 of 3", "✖ disk full"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in failure replay:\n%s", want, out)
		}
	}
	// The detail must come before the error line.
	if strings.Index(out, "batch 1 of 3") > strings.Index(out, "✖") {
		t.Fatalf("detail printed after the error:\n%s", out)
	}
}

func TestWarnBypassesBuffer(t *testing.T) {
	out := capture(func() {
		Begin("parse")
		Warn("parse", "placemark #4 skipped: no coordinates")
		Success("parse", "done")
	})

	if !strings.Contains(out, "⚠ placemark #4 skipped") {
		t.Fatalf("warning swallowed by a successful stage:\n%s", out)
	}
}

func TestAppendWithoutBeginPrintsDirectly(t *testing.T) {
	out := capture(func() {
		Append("loose", "no stage opened")
	})
	if !strings.Contains(out, "no stage opened") {
		t.Fatalf("unbuffered append lost:\n%s", out)
	}
}
