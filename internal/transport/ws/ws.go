// Package ws connects board sessions to a WebSocket room relay.
//
// Each board room lives at {base}/boards/{boardID}. Envelopes travel as JSON
// text frames; the client pings the relay periodically and treats a missing
// pong as a dead connection.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/dyluth/boardsync/internal/transport"
	"github.com/dyluth/boardsync/pkg/board"
	"github.com/gorilla/websocket"
)

const (
	// DefaultPingInterval is how often the client pings the relay.
	DefaultPingInterval = 30 * time.Second

	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	maxMessageSize = 8 << 20
)

// Options configures a WebSocket transport.
type Options struct {
	// URL is the relay base URL (ws:// or wss://).
	URL string

	// Header is sent with the opening handshake, e.g. for authentication.
	Header http.Header

	HandshakeTimeout time.Duration
	PingInterval     time.Duration

	// Clock drives the keepalive ticker. Defaults to the real clock.
	Clock quartz.Clock
}

// Transport dials board rooms on a WebSocket relay.
type Transport struct {
	base   *url.URL
	opts   Options
	dialer *websocket.Dialer
}

// New validates the relay URL and returns a transport.
func New(opts Options) (*Transport, error) {
	base, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid transport url: %w", err)
	}
	switch base.Scheme {
	case "ws", "wss":
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported transport url scheme %q", base.Scheme)
	}

	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}

	return &Transport{
		base: base,
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
	}, nil
}

// RoomURL returns the relay URL of a board room.
func (t *Transport) RoomURL(boardID string) string {
	return t.base.JoinPath("boards", boardID).String()
}

// Dial opens the board room.
func (t *Transport) Dial(ctx context.Context, boardID string) (transport.Conn, error) {
	if boardID == "" {
		return nil, fmt.Errorf("board id cannot be empty")
	}

	ws, resp, err := t.dialer.DialContext(ctx, t.RoomURL(boardID), t.opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial room (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial room: %w", err)
	}

	c := &conn{
		ws:       ws,
		boardID:  boardID,
		clock:    t.opts.Clock,
		incoming: make(chan board.Envelope, 64),
		done:     make(chan struct{}),
	}

	pongWait := t.opts.PingInterval * 2
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readLoop()
	go c.pingLoop(t.opts.PingInterval)

	return c, nil
}

type conn struct {
	ws      *websocket.Conn
	boardID string
	clock   quartz.Clock

	writeMu sync.Mutex

	incoming chan board.Envelope
	done     chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	readErr   error
}

func (c *conn) readLoop() {
	defer close(c.incoming)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.setErr(err)
			return
		}

		var env board.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("[Transport] [ERROR] board=%s dropping malformed message: %v", c.boardID, err)
			continue
		}

		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *conn) pingLoop(interval time.Duration) {
	ticker := c.clock.NewTicker(interval, "ws", "ping")
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *conn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr == nil {
		c.readErr = err
	}
}

func (c *conn) err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	if c.readErr == nil || websocket.IsCloseError(c.readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return transport.ErrClosed
	}
	return fmt.Errorf("room connection lost: %w", c.readErr)
}

// Send writes one envelope as a text frame.
func (c *conn) Send(ctx context.Context, env board.Envelope) error {
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write %s message: %w", env.Type, err)
	}
	return nil
}

// Receive returns the next envelope from the relay.
func (c *conn) Receive(ctx context.Context) (board.Envelope, error) {
	select {
	case env, ok := <-c.incoming:
		if !ok {
			return board.Envelope{}, c.err()
		}
		return env, nil
	case <-ctx.Done():
		return board.Envelope{}, ctx.Err()
	}
}

// Close sends a close frame and releases the socket. Safe to call multiple times.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}
