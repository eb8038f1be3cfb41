package task

import (
	"fmt"
	"sync/atomic"
)

// Launcher starts fn on an independent execution context. It returns an error
// when no context could be created, in which case fn never runs.
type Launcher interface {
	Launch(name string, fn func()) error
}

// LauncherFunc adapts an ordinary function to Launcher.
type LauncherFunc func(name string, fn func()) error

// Launch calls f(name, fn).
func (f LauncherFunc) Launch(name string, fn func()) error {
	return f(name, fn)
}

// GoroutineLauncher runs every function on a fresh goroutine. With a positive
// limit it refuses to start more than limit goroutines at once.
type GoroutineLauncher struct {
	limit int64
	live  atomic.Int64
}

// NewGoroutineLauncher creates a launcher. limit <= 0 means unlimited.
func NewGoroutineLauncher(limit int) *GoroutineLauncher {
	return &GoroutineLauncher{limit: int64(limit)}
}

// Launch implements Launcher.
func (l *GoroutineLauncher) Launch(name string, fn func()) error {
	if n := l.live.Add(1); l.limit > 0 && n > l.limit {
		l.live.Add(-1)
		return fmt.Errorf("%w: %s: %d execution contexts already running", ErrLaunchFailed, name, l.limit)
	}

	go func() {
		defer l.live.Add(-1)
		fn()
	}()
	return nil
}

// Live returns the number of goroutines started by l that are still running
func (l *GoroutineLauncher) Live() int64 {
	return l.live.Load()
}
