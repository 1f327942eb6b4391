// Package vclog is a small leveled wrapper over the standard log package,
// writing plain diagnostics straight to stderr rather than structured
// key/value logging.
package vclog

import (
	"log"
	"os"
	"sync/atomic"
)

var debugEnabled atomic.Bool

// SetDebug toggles Debugf output. Off by default; no command in this module
// turns it on.
func SetDebug(on bool) {
	debugEnabled.Store(on)
}

var std = log.New(os.Stderr, "", log.LstdFlags)

// Warnf logs a recoverable-condition warning, e.g. a WAL entry that fails to
// apply during replay.
func Warnf(format string, args ...interface{}) {
	std.Printf("warning: "+format, args...)
}

// Errorf logs a non-fatal error observed in background work, e.g. a write
// that fails to apply after its caller was already acknowledged; that caller
// is not told of the failure.
func Errorf(format string, args ...interface{}) {
	std.Printf("error: "+format, args...)
}

// Debugf logs only when SetDebug(true) has been called.
func Debugf(format string, args ...interface{}) {
	if debugEnabled.Load() {
		std.Printf("debug: "+format, args...)
	}
}
