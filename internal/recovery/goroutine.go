package recovery

import (
	"fmt"
	"runtime/debug"

	"github.com/vanpelt/xurl/internal/logger"
)

// Guard runs fn and converts a panic into an error, so one malformed store
// file cannot take down a whole listing.
func Guard(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("🚨 PANIC recovered in '%s': %v", name, r)
			logger.Debugf("Stack trace:\n%s", debug.Stack())
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
	}()
	return fn()
}

// SafeGo runs a function in a goroutine with automatic panic recovery
func SafeGo(name string, fn func()) {
	go func() {
		_ = Guard(name, func() error {
			fn()
			return nil
		})
	}()
}
