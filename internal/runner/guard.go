// internal/runner/guard.go
package runner

import (
	"errors"
	"sync/atomic"
)

// ErrAlreadyRunning is returned when a run is triggered while a previous one
// is still active. Triggers are rejected, never queued.
var ErrAlreadyRunning = errors.New("runner: a run is already in progress")

const (
	stateIdle int32 = iota
	stateRunning
)

// Guard is an explicit idle/running state for a worker. The zero value is
// idle and ready to use.
type Guard struct {
	state atomic.Int32
}

// TryBegin transitions idle → running, or fails if a run is active.
func (g *Guard) TryBegin() error {
	if !g.state.CompareAndSwap(stateIdle, stateRunning) {
		return ErrAlreadyRunning
	}
	return nil
}

// End transitions back to idle. Safe to call from a deferred statement.
func (g *Guard) End() {
	g.state.Store(stateIdle)
}

// Running reports whether a run is active.
func (g *Guard) Running() bool {
	return g.state.Load() == stateRunning
}
