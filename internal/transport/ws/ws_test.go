package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/dyluth/boardsync/internal/transport"
	"github.com/dyluth/boardsync/pkg/board"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// relay is a minimal room server: it answers join with a collaborators
// snapshot and records the paths and messages it sees.
type relay struct {
	t        *testing.T
	upgrader websocket.Upgrader
	paths    chan string
	received chan board.Envelope
	conns    chan *websocket.Conn
	pings    chan struct{}
}

func newRelay(t *testing.T) (*relay, *httptest.Server) {
	r := &relay{
		t:        t,
		paths:    make(chan string, 10),
		received: make(chan board.Envelope, 10),
		conns:    make(chan *websocket.Conn, 10),
		pings:    make(chan struct{}, 10),
	}
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return r, srv
}

func (r *relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Header.Get("Authorization") == "Bearer bad" {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	c, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	c.SetPingHandler(func(data string) error {
		r.pings <- struct{}{}
		return c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	r.paths <- req.URL.Path
	r.conns <- c

	for {
		var env board.Envelope
		if err := c.ReadJSON(&env); err != nil {
			return
		}
		r.received <- env

		if env.Type == board.MessageJoin {
			reply, _ := board.NewEnvelope(board.MessageCollaborators, []board.Collaborator{
				{ParticipantID: "11111111-1111-1111-1111-111111111111", DisplayName: "Remote"},
			})
			_ = c.WriteJSON(reply)
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestNew(t *testing.T) {
	_, err := New(Options{URL: "ftp://example.com"})
	assert.Error(t, err)

	tr, err := New(Options{URL: "https://relay.example.com/rt"})
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example.com/rt/boards/b1", tr.RoomURL("b1"))
	assert.Equal(t, DefaultPingInterval, tr.opts.PingInterval)
}

func TestDial_JoinRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, srv := newRelay(t)
	tr, err := New(Options{URL: wsURL(srv)})
	require.NoError(t, err)

	conn, err := tr.Dial(ctx, "board-7")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "/boards/board-7", <-r.paths)

	join, err := board.NewEnvelope(board.MessageJoin, board.JoinPayload{BoardID: "board-7", DisplayName: "Me"})
	require.NoError(t, err)
	require.NoError(t, conn.Send(ctx, join))

	got := <-r.received
	assert.Equal(t, board.MessageJoin, got.Type)

	env, err := conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, board.MessageCollaborators, env.Type)

	var list []board.Collaborator
	require.NoError(t, env.Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "Remote", list[0].DisplayName)
}

func TestDial_Rejected(t *testing.T) {
	_, srv := newRelay(t)
	tr, err := New(Options{URL: wsURL(srv), Header: http.Header{"Authorization": []string{"Bearer bad"}}})
	require.NoError(t, err)

	_, err = tr.Dial(context.Background(), "b1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 403")

	_, err = tr.Dial(context.Background(), "")
	assert.Error(t, err)
}

func TestConn_ServerClose(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, srv := newRelay(t)
	tr, err := New(Options{URL: wsURL(srv)})
	require.NoError(t, err)

	conn, err := tr.Dial(ctx, "b1")
	require.NoError(t, err)
	defer conn.Close()

	server := <-r.conns
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, server.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye")))

	// the malformed frame is dropped, then the close surfaces as ErrClosed
	_, err = conn.Receive(ctx)
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestConn_Close(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, srv := newRelay(t)
	tr, err := New(Options{URL: wsURL(srv)})
	require.NoError(t, err)

	conn, err := tr.Dial(ctx, "b1")
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())

	env, err := board.NewEnvelope(board.MessageLeave, board.LeavePayload{BoardID: "b1"})
	require.NoError(t, err)
	assert.ErrorIs(t, conn.Send(ctx, env), transport.ErrClosed)

	_, err = conn.Receive(ctx)
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestConn_ReceiveHonoursContext(t *testing.T) {
	_, srv := newRelay(t)
	tr, err := New(Options{URL: wsURL(srv)})
	require.NoError(t, err)

	conn, err := tr.Dial(context.Background(), "b1")
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = conn.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConn_PingsOnTheClock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, srv := newRelay(t)
	clock := quartz.NewMock(t)
	trap := clock.Trap().NewTicker("ws", "ping")
	defer trap.Close()

	tr, err := New(Options{URL: wsURL(srv), PingInterval: time.Minute, Clock: clock})
	require.NoError(t, err)

	c, err := tr.Dial(ctx, "b1")
	require.NoError(t, err)
	defer c.Close()

	trap.MustWait(ctx).MustRelease(ctx)
	assert.Empty(t, r.pings, "no ping before the interval elapses")

	clock.Advance(time.Minute).MustWait(ctx)
	select {
	case <-r.pings:
	case <-ctx.Done():
		t.Fatal("relay never saw a ping")
	}
}
