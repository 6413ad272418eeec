// Package status exposes the small save/connection state machine shown to users.
// It is purely observational: nothing in the sync engine gates on it.
package status

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

// State is the save indicator of a board session.
type State string

const (
	// StateIdle means nothing is being saved and no recent outcome is displayed
	StateIdle State = "idle"

	// StateSaving means a persist call is in flight
	StateSaving State = "saving"

	// StateSaved means the last persist succeeded (reverts to idle)
	StateSaved State = "saved"

	// StateError means the last persist or the connection failed (reverts to idle)
	StateError State = "error"
)

// Connection is the passive connectivity indicator.
type Connection string

const (
	ConnectionOffline    Connection = "offline"
	ConnectionConnecting Connection = "connecting"
	ConnectionOnline     Connection = "online"
)

// DefaultDisplayDuration is how long saved/error stay visible.
const DefaultDisplayDuration = 2 * time.Second

// Snapshot is what listeners receive on every transition.
type Snapshot struct {
	State      State
	Connection Connection
	At         time.Time
}

// Reporter tracks the save state and connection indicator of one session.
// Transitions are driven by save outcomes and connection events; saved and
// error revert to idle after the display duration.
type Reporter struct {
	clock      quartz.Clock
	displayFor time.Duration

	mu         sync.Mutex
	state      State
	connection Connection
	timer      *quartz.Timer
	generation uint64
	listeners  []func(Snapshot)
	stopped    bool
}

// New creates a reporter in the idle/offline state.
// A non-positive displayFor uses DefaultDisplayDuration.
func New(clock quartz.Clock, displayFor time.Duration) *Reporter {
	if displayFor <= 0 {
		displayFor = DefaultDisplayDuration
	}
	return &Reporter{
		clock:      clock,
		displayFor: displayFor,
		state:      StateIdle,
		connection: ConnectionOffline,
	}
}

// Subscribe registers a listener called after every transition.
// Listeners run on the goroutine that caused the transition and must not block.
func (r *Reporter) Subscribe(fn func(Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// State returns the current save state.
func (r *Reporter) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Connection returns the current connection indicator.
func (r *Reporter) Connection() Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connection
}

// SaveStarted marks a persist call as in flight.
func (r *Reporter) SaveStarted() {
	r.transition(StateSaving, false)
}

// SaveSucceeded marks the last persist as successful.
func (r *Reporter) SaveSucceeded() {
	r.transition(StateSaved, true)
}

// SaveFailed marks the last persist as failed.
func (r *Reporter) SaveFailed() {
	r.transition(StateError, true)
}

// ConnectionChanged updates the connectivity indicator.
// gaveUp is set when reconnection attempts are exhausted; it is the only
// connection event that surfaces as an error.
func (r *Reporter) ConnectionChanged(c Connection, gaveUp bool) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.connection = c
	r.mu.Unlock()

	if gaveUp {
		r.transition(StateError, true)
		return
	}
	r.notify()
}

// Stop cancels the revert timer and ignores further transitions.
func (r *Reporter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	r.generation++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Reporter) transition(next State, revert bool) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.state = next
	r.generation++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if revert {
		gen := r.generation
		r.timer = r.clock.AfterFunc(r.displayFor, func() { r.revert(gen) }, "status", "revert")
	}
	r.mu.Unlock()

	r.notify()
}

func (r *Reporter) revert(gen uint64) {
	r.mu.Lock()
	if r.stopped || gen != r.generation {
		r.mu.Unlock()
		return
	}
	r.state = StateIdle
	r.timer = nil
	r.mu.Unlock()

	r.notify()
}

func (r *Reporter) notify() {
	r.mu.Lock()
	snap := Snapshot{State: r.state, Connection: r.connection, At: r.clock.Now()}
	listeners := make([]func(Snapshot), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}
