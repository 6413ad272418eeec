// Package save owns the timing policy for persisting a board: debounce,
// throttle, mutual exclusion and the data-loss guard.
package save

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/dyluth/boardsync/internal/elements"
	"github.com/dyluth/boardsync/internal/versionstore"
	"github.com/dyluth/boardsync/pkg/board"
)

const (
	// DefaultDebounce is the quiet period after the last local change before a save is attempted.
	DefaultDebounce = 3 * time.Second

	// DefaultMinInterval is the minimum time between two successful saves.
	DefaultMinInterval = 5 * time.Second

	// DefaultTimeout bounds a single call to the persistence endpoint.
	DefaultTimeout = 30 * time.Second
)

// Persister stores a board's serialized document.
// The call either durably stores the whole document or returns an error.
type Persister interface {
	Persist(ctx context.Context, boardID string, doc *board.Document) error
}

// StatusSink receives save lifecycle transitions. *status.Reporter implements it.
type StatusSink interface {
	SaveStarted()
	SaveSucceeded()
	SaveFailed()
}

// Options configures a Coordinator.
type Options struct {
	BoardID   string
	Persister Persister
	Store     *versionstore.Store
	Clock     quartz.Clock

	// Debounce, MinInterval and Timeout default to the package constants when zero.
	Debounce    time.Duration
	MinInterval time.Duration
	Timeout     time.Duration

	// SeedActive is the active element count of the initial document.
	// A non-zero seed arms the data-loss guard from the start.
	SeedActive int

	// ViewState and Files supply the auxiliary parts of the saved document.
	ViewState func() json.RawMessage
	Files     func() map[string]json.RawMessage

	Status      StatusSink
	Diagnostics func(Decision)
}

// Coordinator decides when a board is persisted.
//
// Request is the debounced entry point used for local edits. Save runs the
// policy directly, and Flush is the teardown path. All state is owned by the
// coordinator instance; one coordinator serves exactly one board session.
type Coordinator struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	observedContent bool
	inFlight        bool
	inFlightDone    chan struct{}
	pending         []board.Element
	hasPending      bool
	generation      uint64
	timer           *quartz.Timer
	rearmAfterSave  bool
	closed          bool
}

// New creates a coordinator. Persister, Store and BoardID are required.
func New(opts Options) (*Coordinator, error) {
	if opts.BoardID == "" {
		return nil, fmt.Errorf("board id cannot be empty")
	}
	if opts.Persister == nil {
		return nil, fmt.Errorf("persister is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("version store is required")
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.MinInterval < 0 {
		opts.MinInterval = 0
	} else if opts.MinInterval == 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		opts:            opts,
		ctx:             ctx,
		cancel:          cancel,
		observedContent: opts.SeedActive > 0,
	}, nil
}

// Observe records an element set seen by the session (for example a merged
// remote update) so the data-loss guard knows the board has had content.
func (c *Coordinator) Observe(set []board.Element) {
	if elements.CountActive(set) == 0 {
		return
	}
	c.mu.Lock()
	c.observedContent = true
	c.mu.Unlock()
}

// Request schedules a debounced save of set. Every call restarts the quiet
// period; only the latest set reaches the policy when the timer fires.
func (c *Coordinator) Request(set []board.Element) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.pending = elements.Clone(set)
	c.hasPending = true
	c.generation++
	c.armLocked(c.opts.Debounce)
}

// Pending reports whether a debounced save is waiting to run.
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasPending
}

// Save runs the save policy once for set.
// teardown skips the throttle check; every other rule still applies.
func (c *Coordinator) Save(ctx context.Context, set []board.Element, teardown bool) Decision {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.report(Decision{
			Reason:   ReasonClosed,
			Teardown: teardown,
			Active:   elements.CountActive(set),
			Total:    len(set),
			At:       c.opts.Clock.Now(),
		})
	}
	c.mu.Unlock()

	return c.save(ctx, set, teardown)
}

// Flush is the teardown path: it cancels pending timers, waits for an
// in-flight save to finish, then saves set with the throttle skipped.
// After Flush the coordinator accepts no further saves.
func (c *Coordinator) Flush(ctx context.Context, set []board.Element) Decision {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.report(Decision{Reason: ReasonClosed, Teardown: true, At: c.opts.Clock.Now()})
	}
	c.closed = true
	c.stopTimerLocked()
	c.mu.Unlock()

	defer c.cancel()

	return c.save(ctx, set, true)
}

// Stop cancels pending timers without saving and rejects further saves.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.closed = true
	c.stopTimerLocked()
	c.mu.Unlock()
	c.cancel()
}

// save evaluates the policy in order: data-loss guard, mutual exclusion,
// throttle, change check, persist. A teardown save waits out an in-flight
// save instead of being refused by it. Once the coordinator is closed only
// the teardown save may claim the endpoint.
func (c *Coordinator) save(ctx context.Context, set []board.Element, teardown bool) Decision {
	active := elements.CountActive(set)
	d := Decision{
		Teardown: teardown,
		Active:   active,
		Total:    len(set),
	}

	c.mu.Lock()
	for teardown && c.inFlight {
		wait := c.inFlightDone
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			d.Reason = ReasonInFlight
			d.At = c.opts.Clock.Now()
			d.Err = ctx.Err()
			return c.report(d)
		}
		c.mu.Lock()
	}
	d.At = c.opts.Clock.Now()

	if c.closed && !teardown {
		c.mu.Unlock()
		d.Reason = ReasonClosed
		return c.report(d)
	}

	if active == 0 && c.observedContent {
		c.mu.Unlock()
		d.Reason = ReasonDataLossGuard
		return c.report(d)
	}
	if active > 0 {
		c.observedContent = true
	}

	if c.inFlight {
		c.mu.Unlock()
		d.Reason = ReasonInFlight
		return c.report(d)
	}

	if !teardown {
		if last := c.opts.Store.SavedAt(); !last.IsZero() {
			elapsed := d.At.Sub(last)
			if elapsed < c.opts.MinInterval {
				c.mu.Unlock()
				d.Reason = ReasonThrottled
				d.RetryIn = c.opts.MinInterval - elapsed
				return c.report(d)
			}
		}
	}

	if !elements.IsChanged(set, c.opts.Store.Saved()) {
		c.mu.Unlock()
		d.Reason = ReasonUnchanged
		return c.report(d)
	}

	c.inFlight = true
	c.inFlightDone = make(chan struct{})
	c.mu.Unlock()

	if c.opts.Status != nil {
		c.opts.Status.SaveStarted()
	}

	snapshot := elements.Clone(set)
	doc := &board.Document{Elements: snapshot}
	if c.opts.ViewState != nil {
		doc.ViewState = c.opts.ViewState()
	}
	if c.opts.Files != nil {
		doc.Files = c.opts.Files()
	}

	persistCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	err := c.opts.Persister.Persist(persistCtx, c.opts.BoardID, doc)
	cancel()

	if err == nil {
		c.opts.Store.RecordSave(snapshot, c.opts.Clock.Now())
	}

	c.mu.Lock()
	c.inFlight = false
	close(c.inFlightDone)
	if c.rearmAfterSave {
		c.rearmAfterSave = false
		if c.hasPending && !c.closed {
			c.armLocked(c.opts.Debounce)
		}
	}
	c.mu.Unlock()

	if err != nil {
		if c.opts.Status != nil {
			c.opts.Status.SaveFailed()
		}
		d.Reason = ReasonFailed
		d.Err = err
		return c.report(d)
	}

	if c.opts.Status != nil {
		c.opts.Status.SaveSucceeded()
	}
	d.Reason = ReasonSaved
	return c.report(d)
}

// fire runs when the debounce timer expires.
func (c *Coordinator) fire() {
	c.mu.Lock()
	if c.closed || !c.hasPending {
		c.mu.Unlock()
		return
	}
	set := c.pending
	gen := c.generation
	c.mu.Unlock()

	d := c.Save(c.ctx, set, false)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	switch d.Reason {
	case ReasonThrottled:
		// try again the moment the window reopens, unless a newer request already re-armed
		if gen == c.generation {
			c.armLocked(d.RetryIn)
		}
	case ReasonInFlight:
		if c.inFlight {
			c.rearmAfterSave = true
		} else {
			// the blocking save finished while this one was being refused
			c.armLocked(c.opts.Debounce)
		}
	default:
		if gen == c.generation {
			c.pending = nil
			c.hasPending = false
		}
	}
}

func (c *Coordinator) armLocked(d time.Duration) {
	c.stopTimerLocked()
	c.timer = c.opts.Clock.AfterFunc(d, c.fire, "save", "debounce")
}

func (c *Coordinator) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator) report(d Decision) Decision {
	switch d.Reason {
	case ReasonSaved:
		log.Printf("[Save] board=%s %s", c.opts.BoardID, d)
	case ReasonFailed:
		log.Printf("[Save] [ERROR] board=%s %s", c.opts.BoardID, d)
	default:
		log.Printf("[Save] [DEBUG] board=%s skipped: %s", c.opts.BoardID, d)
	}

	if c.opts.Diagnostics != nil {
		c.opts.Diagnostics(d)
	}
	return d
}
