// Package logger implements a per-stage in-memory log buffer.
//
// Detail lines are held in a buffer while a pipeline stage runs. On
// failure the buffer is replayed ahead of the final error so the
// operator sees the whole story; on success it is dropped and one short
// ✔ line remains. Warnings bypass the buffer: a skipped record must be
// visible even when the run succeeds.
//
// Thread safety comes from a dedicated logger goroutine fed over a
// command channel; there are no mutexes.
package logger

import (
	"bytes"
	"fmt"
	"log"
	"strings"
	"time"
)

type action int

const (
	actBegin action = iota
	actAppend
	actWarn
	actSuccess
	actFail
	actSync
)

type cmd struct {
	act     action
	stage   string
	message string
	err     error
	done    chan struct{} // for actSync
	when    time.Time
}

var ch = make(chan cmd, 128) // headroom for bursts of skip warnings

// Begin opens the buffer for stage and announces it.
func Begin(stage string) { ch <- cmd{act: actBegin, stage: stage, when: time.Now()} }

// Append adds a detail line. It is only ever shown when the stage fails.
func Append(stage, format string, args ...any) {
	ch <- cmd{act: actAppend, stage: stage, message: fmt.Sprintf(format, args...), when: time.Now()}
}

// Warn prints immediately, success or not.
func Warn(stage, format string, args ...any) {
	ch <- cmd{act: actWarn, stage: stage, message: fmt.Sprintf(format, args...), when: time.Now()}
}

// Success drops the buffer and leaves one ✔ line.
func Success(stage, format string, args ...any) {
	ch <- cmd{act: actSuccess, stage: stage, message: fmt.Sprintf(format, args...), when: time.Now()}
}

// Fail replays the buffered detail, then prints the error.
func Fail(stage string, err error) {
	ch <- cmd{act: actFail, stage: stage, err: err, when: time.Now()}
}

// Sync blocks until every command queued before it has been printed.
// Call it before writing to stdout directly and before exiting.
func Sync() {
	done := make(chan struct{})
	ch <- cmd{act: actSync, done: done}
	<-done
}

func init() { go runloop() }

func runloop() {
	buffers := make(map[string]*bytes.Buffer)

	for c := range ch {
		switch c.act {
		case actBegin:
			buffers[c.stage] = &bytes.Buffer{}
			log.Printf("[%s] ▶ start", c.stage)

		case actAppend:
			if b := buffers[c.stage]; b != nil {
				_, _ = b.WriteString(c.message + "\n")
			} else {
				log.Printf("[%s] %s", c.stage, c.message)
			}

		case actWarn:
			log.Printf("[%s] ⚠ %s", c.stage, c.message)

		case actSuccess:
			log.Printf("[%s] ✔ %s", c.stage, c.message)
			delete(buffers, c.stage)

		case actFail:
			if b := buffers[c.stage]; b != nil {
				lines := strings.Split(strings.TrimRight(b.String(), "\n"), "\n")
				for _, ln := range lines {
					if ln != "" {
						log.Printf("[%s] %s", c.stage, ln)
					}
				}
				delete(buffers, c.stage)
			}
			log.Printf("[%s] ✖ %v", c.stage, c.err)

		case actSync:
			close(c.done)
		}
	}
}
