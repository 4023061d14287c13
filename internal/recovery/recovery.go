// Package recovery turns goroutine panics into log lines or errors.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// RecoverWithLog recovers from a panic and logs it with the goroutine name
// and stack. Defer it directly at the top of a goroutine:
//
//	go func() {
//	    defer recovery.RecoverWithLog(logger, "udp.Socket.receiveLoop")
//	    // ...
//	}()
func RecoverWithLog(logger *slog.Logger, name string) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
	}
}

// RecoverToError recovers from a panic, logs it and stores it in *errp as
// an error, so errgroup-style workers fail instead of crashing the process.
func RecoverToError(logger *slog.Logger, name string, errp *error) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
		if errp != nil {
			*errp = fmt.Errorf("panic in %s: %v", name, r)
		}
	}
}

func logPanic(logger *slog.Logger, name string, r any) {
	logger.Error("panic recovered",
		slog.String("goroutine", name),
		slog.String("panic", fmt.Sprintf("%v", r)),
		slog.String("stack", string(debug.Stack())))
}
