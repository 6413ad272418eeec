// Package transport defines the boundary between a board session and the
// real-time room relay. A Conn carries JSON envelopes in both directions; the
// relay itself (a WebSocket server or Redis pub/sub) is an implementation detail.
package transport

import (
	"context"
	"errors"

	"github.com/dyluth/boardsync/pkg/board"
)

// ErrClosed is returned by Send and Receive once a connection has been closed
// locally or by the relay.
var ErrClosed = errors.New("transport: connection closed")

// Conn is one open channel to a board room.
//
// Send and Receive may be called from different goroutines. Receive is not
// safe for concurrent use by more than one reader.
type Conn interface {
	Send(ctx context.Context, env board.Envelope) error
	Receive(ctx context.Context) (board.Envelope, error)
	Close() error
}

// Transport opens connections to board rooms.
type Transport interface {
	Dial(ctx context.Context, boardID string) (Conn, error)
}

// Func adapts a plain function to the Transport interface.
type Func func(ctx context.Context, boardID string) (Conn, error)

// Dial calls f.
func (f Func) Dial(ctx context.Context, boardID string) (Conn, error) {
	return f(ctx, boardID)
}
