// Package connection owns the lifecycle of a board session's channel to its
// room: connect, join, bounded reconnection, leave and teardown.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"
	"github.com/dyluth/boardsync/internal/transport"
	"github.com/dyluth/boardsync/pkg/board"
)

const (
	// DefaultMaxAttempts bounds the connection attempts made after a drop.
	DefaultMaxAttempts = 5

	// DefaultRetryInterval is the fixed wait between two attempts.
	DefaultRetryInterval = time.Second

	sendTimeout = 10 * time.Second
)

// ErrClosed is returned by Start on a manager that has been closed.
var ErrClosed = errors.New("connection manager closed")

// State is the lifecycle state of the room channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateJoined       State = "joined"
)

// Handler receives everything the manager learns from the room.
// Callbacks run on the manager's goroutine and are never invoked after Close
// has begun.
type Handler interface {
	// JoinElements returns the element set announced in the join message.
	JoinElements() []board.Element

	// HandleMessage is called for every inbound envelope while joined.
	HandleMessage(env board.Envelope)

	// StateChanged reports transitions. gaveUp is set on the transition to
	// disconnected that follows exhausted reconnection attempts.
	StateChanged(state State, gaveUp bool)
}

// Options configures a Manager.
type Options struct {
	BoardID   string
	Self      board.Collaborator
	Transport transport.Transport
	Handler   Handler
	Clock     quartz.Clock

	// MaxAttempts and RetryInterval default to the package constants when zero.
	MaxAttempts   int
	RetryInterval time.Duration
}

// Manager keeps one board room channel joined for the lifetime of a session.
type Manager struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	state   State
	conn    transport.Conn
	started bool
	active  bool
}

// New validates options and returns a disconnected manager.
func New(opts Options) (*Manager, error) {
	if opts.BoardID == "" {
		return nil, fmt.Errorf("board id cannot be empty")
	}
	if opts.Self.ParticipantID == "" {
		return nil, fmt.Errorf("participant id cannot be empty")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateDisconnected,
		active: true,
	}, nil
}

// Start launches the connection loop. It returns immediately; progress is
// reported through Handler.StateChanged. Cancelling ctx has the same effect on
// the loop as Close, minus the leave message.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return ErrClosed
	}
	if m.started {
		return fmt.Errorf("connection manager already started")
	}
	m.started = true

	go func() {
		select {
		case <-ctx.Done():
			m.cancel()
		case <-m.ctx.Done():
		}
	}()
	go m.run()

	return nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Broadcast forwards a local element set to the room immediately.
// It is a no-op unless the manager is joined.
func (m *Manager) Broadcast(set []board.Element) error {
	m.mu.Lock()
	conn, state, active := m.conn, m.state, m.active
	m.mu.Unlock()

	if !active || state != StateJoined || conn == nil {
		return nil
	}

	env, err := board.NewEnvelope(board.MessageElementsChange, board.ElementsChangePayload{
		BoardID:       m.opts.BoardID,
		Elements:      set,
		ParticipantID: m.opts.Self.ParticipantID,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(m.ctx, sendTimeout)
	defer cancel()
	if err := conn.Send(ctx, env); err != nil {
		return fmt.Errorf("failed to broadcast elements: %w", err)
	}
	return nil
}

// Close sends leave, closes the channel and stops reconnection. Only the
// first call does anything; later calls return nil immediately.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return nil
	}
	m.active = false
	conn, state, started := m.conn, m.state, m.started
	m.conn = nil
	m.mu.Unlock()

	var closeErr error
	if conn != nil {
		if state == StateJoined {
			env, err := board.NewEnvelope(board.MessageLeave, board.LeavePayload{BoardID: m.opts.BoardID})
			if err == nil {
				if err := conn.Send(ctx, env); err != nil {
					log.Printf("[Connection] board=%s failed to send leave: %v", m.opts.BoardID, err)
				}
			}
		}
		closeErr = conn.Close()
	}

	m.cancel()

	if started {
		select {
		case <-m.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()

	return closeErr
}

func (m *Manager) run() {
	defer close(m.done)

	for {
		conn, err := m.connect()
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}
			log.Printf("[Connection] [ERROR] board=%s giving up after %d attempts: %v", m.opts.BoardID, m.opts.MaxAttempts, err)
			m.setState(StateDisconnected, true)
			return
		}

		err = m.receive(conn)

		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()
		conn.Close()

		if m.ctx.Err() != nil {
			return
		}

		log.Printf("[Connection] board=%s connection dropped: %v", m.opts.BoardID, err)
		m.setState(StateDisconnected, false)
	}
}

// connect dials and joins, retrying at a fixed interval on the session clock.
func (m *Manager) connect() (transport.Conn, error) {
	var conn transport.Conn

	attempt := 0
	op := func() error {
		attempt++
		m.setState(StateConnecting, false)

		c, err := m.opts.Transport.Dial(m.ctx, m.opts.BoardID)
		if err != nil {
			return err
		}
		if err := m.join(c); err != nil {
			c.Close()
			return err
		}

		m.mu.Lock()
		if !m.active {
			m.mu.Unlock()
			c.Close()
			return backoff.Permanent(ErrClosed)
		}
		m.conn = c
		m.mu.Unlock()

		conn = c
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.opts.RetryInterval), uint64(m.opts.MaxAttempts-1)),
		m.ctx,
	)
	notify := func(err error, wait time.Duration) {
		log.Printf("[Connection] board=%s attempt %d/%d failed: %v (retrying in %s)",
			m.opts.BoardID, attempt, m.opts.MaxAttempts, err, wait)
	}

	if err := backoff.RetryNotifyWithTimer(op, b, notify, &clockTimer{clock: m.opts.Clock}); err != nil {
		return nil, err
	}

	log.Printf("[Connection] [INFO] board=%s joined room as %s", m.opts.BoardID, m.opts.Self.ParticipantID)
	m.setState(StateJoined, false)
	return conn, nil
}

func (m *Manager) join(c transport.Conn) error {
	env, err := board.NewEnvelope(board.MessageJoin, board.JoinPayload{
		BoardID:       m.opts.BoardID,
		ParticipantID: m.opts.Self.ParticipantID,
		DisplayName:   m.opts.Self.DisplayName,
		ColorToken:    m.opts.Self.ColorToken,
		Elements:      m.opts.Handler.JoinElements(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(m.ctx, sendTimeout)
	defer cancel()
	if err := c.Send(ctx, env); err != nil {
		return fmt.Errorf("failed to send join: %w", err)
	}
	return nil
}

func (m *Manager) receive(conn transport.Conn) error {
	for {
		env, err := conn.Receive(m.ctx)
		if err != nil {
			return err
		}

		if !m.isActive() {
			return ErrClosed
		}
		if err := env.Type.Validate(); err != nil {
			log.Printf("[Connection] board=%s ignoring message: %v", m.opts.BoardID, err)
			continue
		}
		m.opts.Handler.HandleMessage(env)
	}
}

func (m *Manager) isActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Manager) setState(s State, gaveUp bool) {
	m.mu.Lock()
	if !m.active || (m.state == s && !gaveUp) {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	m.opts.Handler.StateChanged(s, gaveUp)
}

// clockTimer runs backoff waits on the manager's clock.
type clockTimer struct {
	clock quartz.Clock
	timer *quartz.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d, "connection", "retry")
		return
	}
	t.timer.Reset(d, "connection", "retry")
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.C
}
