// Package recovery wraps the daemon's long-lived goroutines with panic
// recovery so a single failing session or connection cannot take down the
// whole daemon.
package recovery

import (
	"runtime/debug"

	"github.com/holdover-sh/holdover/internal/logger"
)

// Go runs fn in a goroutine and logs any panic with a stack trace instead
// of crashing the process.
func Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("panic in %s: %v\n%s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
}

// GoWithCleanup is Go with a cleanup that runs whether fn returns or
// panics. The cleanup runs before the panic is logged so resources are
// released even when the log write itself fails.
func GoWithCleanup(name string, fn func(), cleanup func()) {
	go func() {
		defer func() {
			r := recover()
			if cleanup != nil {
				cleanup()
			}
			if r != nil {
				logger.Errorf("panic in %s: %v\n%s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
}
