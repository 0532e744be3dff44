// Package async provides a small helper for launching goroutines that must
// never crash the process: reader tasks, health-check tickers, and
// supervised restart loops all go through Go so a panic is logged instead
// of taking down the whole runtime.
package async

// PanicLogger is the minimal logging capability Go/Recover need.
type PanicLogger interface {
	Error(format string, args ...any)
}

// Go launches fn in a new goroutine, recovering and logging any panic under
// the given name instead of propagating it.
func Go(logger PanicLogger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Recover is the deferred recovery half of Go, exposed separately so callers
// that manage their own goroutine (e.g. a loop that must run on the calling
// goroutine) can still opt into the same panic handling.
func Recover(logger PanicLogger, name string) {
	if r := recover(); r != nil {
		if logger != nil {
			logger.Error("goroutine panic [%s]: %v", name, r)
		}
	}
}
