package watch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/quartz"
	"github.com/dyluth/boardsync/pkg/board"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupClient(t *testing.T) *board.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := board.NewClient(&redis.Options{Addr: mr.Addr()}, "test-ns")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func sampleDocument() *board.Document {
	return &board.Document{Elements: []board.Element{
		board.NewElement("a", 1),
		board.NewElement("b", 2),
	}}
}

type pollResult struct {
	doc *board.Document
	err error
}

func TestPollForDocument(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("returns document when found immediately", func(t *testing.T) {
		client := setupClient(t)
		savedAt := time.UnixMilli(1_700_000_000_000)
		require.NoError(t, client.SaveDocument(ctx, "roadmap", sampleDocument(), savedAt))

		doc, at, err := PollForDocument(ctx, quartz.NewMock(t), client, "roadmap", time.Second)
		require.NoError(t, err)
		require.Len(t, doc.Elements, 2)
		require.True(t, savedAt.Equal(at))
	})

	t.Run("returns document when saved after a poll", func(t *testing.T) {
		client := setupClient(t)
		clock := quartz.NewMock(t)

		tickerTrap := clock.Trap().NewTicker("watch", "poll")
		defer tickerTrap.Close()

		result := make(chan pollResult, 1)
		go func() {
			doc, _, err := PollForDocument(ctx, clock, client, "roadmap", 2*time.Second)
			result <- pollResult{doc, err}
		}()
		tickerTrap.MustWait(ctx).MustRelease(ctx)

		// First tick: still missing.
		clock.Advance(200 * time.Millisecond).MustWait(ctx)
		require.NoError(t, client.SaveDocument(ctx, "roadmap", sampleDocument(), clock.Now()))
		clock.Advance(200 * time.Millisecond).MustWait(ctx)

		select {
		case r := <-result:
			require.NoError(t, r.err)
			require.Len(t, r.doc.Elements, 2)
		case <-ctx.Done():
			t.Fatal("poll did not return")
		}
	})

	t.Run("returns error on timeout", func(t *testing.T) {
		client := setupClient(t)
		clock := quartz.NewMock(t)

		timerTrap := clock.Trap().NewTimer("watch", "timeout")
		defer timerTrap.Close()

		result := make(chan pollResult, 1)
		go func() {
			doc, _, err := PollForDocument(ctx, clock, client, "missing", 600*time.Millisecond)
			result <- pollResult{doc, err}
		}()
		timerTrap.MustWait(ctx).MustRelease(ctx)

		for i := 0; i < 3; i++ {
			clock.Advance(200 * time.Millisecond).MustWait(ctx)
		}

		select {
		case r := <-result:
			require.Error(t, r.err)
			require.Contains(t, r.err.Error(), "timeout waiting for board 'missing'")
		case <-ctx.Done():
			t.Fatal("poll did not time out")
		}
	})

	t.Run("returns error when context cancelled", func(t *testing.T) {
		client := setupClient(t)
		pollCtx, pollCancel := context.WithCancel(ctx)
		pollCancel()

		_, _, err := PollForDocument(pollCtx, quartz.NewMock(t), client, "missing", time.Second)
		require.Error(t, err)
	})
}

func TestStream(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := setupClient(t)
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)).MustWait(ctx)

	streamCtx, stop := context.WithCancel(ctx)
	ready := make(chan struct{})
	events := make(chan Event, 10)
	done := make(chan error, 1)
	go func() {
		done <- Stream(streamCtx, clock, client, "roadmap", func() { close(ready) }, func(ev Event) error {
			events <- ev
			return nil
		})
	}()
	<-ready

	env, err := board.NewEnvelope(board.MessageUserLeft, board.UserLeftPayload{ParticipantID: "p-1"})
	require.NoError(t, err)
	require.NoError(t, client.PublishRoom(ctx, "roadmap", env))

	ev := <-events
	require.Equal(t, KindRoom, ev.Kind)
	require.Equal(t, string(board.MessageUserLeft), ev.Type)
	require.Equal(t, "roadmap", ev.BoardID)
	require.True(t, clock.Now().Equal(ev.Timestamp))
	require.JSONEq(t, `{"participantId":"p-1"}`, string(ev.Payload))

	require.NoError(t, client.SaveDocument(ctx, "roadmap", sampleDocument(), clock.Now()))

	ev = <-events
	require.Equal(t, KindSave, ev.Kind)
	require.Equal(t, "saved", ev.Type)
	require.NotNil(t, ev.Save)
	require.Equal(t, 2, ev.Save.ElementCount)

	stop()
	require.NoError(t, <-done)
}

func TestStream_HandlerErrorStops(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := setupClient(t)
	boom := errors.New("boom")

	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- Stream(ctx, quartz.NewReal(), client, "roadmap", func() { close(ready) }, func(Event) error {
			return boom
		})
	}()
	<-ready

	require.NoError(t, client.SaveDocument(ctx, "roadmap", sampleDocument(), time.Now()))
	require.ErrorIs(t, <-done, boom)
}
