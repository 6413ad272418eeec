package status

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) record(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.snaps))
	for _, s := range r.snaps {
		out = append(out, s.State)
	}
	return out
}

func TestReporter_SaveCycle(t *testing.T) {
	ctx := context.Background()
	clock := quartz.NewMock(t)
	r := New(clock, 2*time.Second)
	rec := &recorder{}
	r.Subscribe(rec.record)

	assert.Equal(t, StateIdle, r.State())

	r.SaveStarted()
	assert.Equal(t, StateSaving, r.State())

	r.SaveSucceeded()
	assert.Equal(t, StateSaved, r.State())

	clock.Advance(time.Second).MustWait(ctx)
	assert.Equal(t, StateSaved, r.State())

	clock.Advance(time.Second).MustWait(ctx)
	assert.Equal(t, StateIdle, r.State())

	assert.Equal(t, []State{StateSaving, StateSaved, StateIdle}, rec.states())
}

func TestReporter_ErrorReverts(t *testing.T) {
	ctx := context.Background()
	clock := quartz.NewMock(t)
	r := New(clock, 3*time.Second)

	r.SaveFailed()
	assert.Equal(t, StateError, r.State())

	clock.Advance(3 * time.Second).MustWait(ctx)
	assert.Equal(t, StateIdle, r.State())
}

func TestReporter_NewTransitionCancelsRevert(t *testing.T) {
	ctx := context.Background()
	clock := quartz.NewMock(t)
	r := New(clock, 2*time.Second)

	r.SaveSucceeded()
	clock.Advance(time.Second).MustWait(ctx)

	// a new save starts while "saved" is still displayed
	r.SaveStarted()
	_, ok := clock.Peek()
	assert.False(t, ok, "revert timer should be cancelled")
	assert.Equal(t, StateSaving, r.State())
}

func TestReporter_Connection(t *testing.T) {
	ctx := context.Background()
	clock := quartz.NewMock(t)
	r := New(clock, 0)
	rec := &recorder{}
	r.Subscribe(rec.record)

	assert.Equal(t, ConnectionOffline, r.Connection())

	r.ConnectionChanged(ConnectionConnecting, false)
	r.ConnectionChanged(ConnectionOnline, false)
	assert.Equal(t, ConnectionOnline, r.Connection())
	assert.Equal(t, StateIdle, r.State())

	r.ConnectionChanged(ConnectionOffline, true)
	assert.Equal(t, ConnectionOffline, r.Connection())
	assert.Equal(t, StateError, r.State())

	clock.Advance(DefaultDisplayDuration).MustWait(ctx)
	assert.Equal(t, StateIdle, r.State())

	rec.mu.Lock()
	require.Len(t, rec.snaps, 4)
	assert.Equal(t, ConnectionConnecting, rec.snaps[0].Connection)
	rec.mu.Unlock()
}

func TestReporter_Stop(t *testing.T) {
	clock := quartz.NewMock(t)
	r := New(clock, time.Second)

	r.SaveSucceeded()
	r.Stop()

	_, ok := clock.Peek()
	assert.False(t, ok)

	r.SaveFailed()
	assert.Equal(t, StateSaved, r.State())
}
