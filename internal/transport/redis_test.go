package transport

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/boardsync/pkg/board"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRoom(t *testing.T) (*RedisRoom, *board.Client) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := board.NewClient(&redis.Options{Addr: mr.Addr()}, "test-ns")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return NewRedisRoom(client), client
}

func receive(t *testing.T, conn Conn) board.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	env, err := conn.Receive(ctx)
	require.NoError(t, err)
	return env
}

func expectSilence(t *testing.T, conn Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	env, err := conn.Receive(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded, "unexpected %s message", env.Type)
}

func joinEnvelope(t *testing.T, boardID, participantID, name string, set []board.Element) board.Envelope {
	env, err := board.NewEnvelope(board.MessageJoin, board.JoinPayload{
		BoardID:       boardID,
		ParticipantID: participantID,
		DisplayName:   name,
		Elements:      set,
	})
	require.NoError(t, err)
	return env
}

func TestRedisRoom_Dial(t *testing.T) {
	room, _ := setupRoom(t)

	_, err := room.Dial(context.Background(), "")
	assert.Error(t, err)
}

func TestRedisRoom_Session(t *testing.T) {
	ctx := context.Background()
	room, client := setupRoom(t)

	alice, bob := uuid.NewString(), uuid.NewString()

	a, err := room.Dial(ctx, "b1")
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	require.NoError(t, a.Send(ctx, joinEnvelope(t, "b1", alice, "Alice", []board.Element{board.NewElement("x", 1)})))

	t.Run("join answers with the collaborators snapshot", func(t *testing.T) {
		env := receive(t, a)
		require.Equal(t, board.MessageCollaborators, env.Type)

		var list []board.Collaborator
		require.NoError(t, env.Decode(&list))
		require.Len(t, list, 1)
		assert.Equal(t, alice, list[0].ParticipantID)

		// own user-joined is not echoed back
		expectSilence(t, a)
	})

	b, err := room.Dial(ctx, "b1")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	require.NoError(t, b.Send(ctx, joinEnvelope(t, "b1", bob, "Bob", nil)))

	t.Run("late joiner receives presence and cached elements", func(t *testing.T) {
		env := receive(t, b)
		require.Equal(t, board.MessageCollaborators, env.Type)
		var list []board.Collaborator
		require.NoError(t, env.Decode(&list))
		assert.Len(t, list, 2)

		env = receive(t, b)
		require.Equal(t, board.MessageElementsUpdate, env.Type)
		var update board.ElementsUpdatePayload
		require.NoError(t, env.Decode(&update))
		require.Len(t, update.Elements, 1)
		assert.Equal(t, "x", update.Elements[0].ID)
	})

	t.Run("existing members see user-joined", func(t *testing.T) {
		env := receive(t, a)
		require.Equal(t, board.MessageUserJoined, env.Type)
		var c board.Collaborator
		require.NoError(t, env.Decode(&c))
		assert.Equal(t, "Bob", c.DisplayName)
	})

	t.Run("elements-change is relayed as elements-update", func(t *testing.T) {
		change, err := board.NewEnvelope(board.MessageElementsChange, board.ElementsChangePayload{
			BoardID:       "b1",
			ParticipantID: bob,
			Elements:      []board.Element{board.NewElement("x", 2), board.NewElement("y", 1)},
		})
		require.NoError(t, err)
		require.NoError(t, b.Send(ctx, change))

		env := receive(t, a)
		require.Equal(t, board.MessageElementsUpdate, env.Type)
		var update board.ElementsUpdatePayload
		require.NoError(t, env.Decode(&update))
		assert.Equal(t, bob, update.ParticipantID)
		assert.Len(t, update.Elements, 2)

		expectSilence(t, b)

		cached, err := client.RoomElements(ctx, "b1")
		require.NoError(t, err)
		require.Len(t, cached, 2)
		assert.Equal(t, 2, cached[0].Version)
	})

	t.Run("close without leave deregisters", func(t *testing.T) {
		require.NoError(t, a.Close())
		require.NoError(t, a.Close())

		env := receive(t, b)
		require.Equal(t, board.MessageUserLeft, env.Type)
		var left board.UserLeftPayload
		require.NoError(t, env.Decode(&left))
		assert.Equal(t, alice, left.ParticipantID)

		list, err := client.ListParticipants(ctx, "b1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, bob, list[0].ParticipantID)

		_, err = a.Receive(ctx)
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, a.Send(ctx, joinEnvelope(t, "b1", alice, "Alice", nil)), ErrClosed)
	})

	t.Run("explicit leave then close publishes once", func(t *testing.T) {
		leave, err := board.NewEnvelope(board.MessageLeave, board.LeavePayload{BoardID: "b1"})
		require.NoError(t, err)
		require.NoError(t, b.Send(ctx, leave))
		require.NoError(t, b.Close())

		list, err := client.ListParticipants(ctx, "b1")
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestRedisRoom_RejectsInboundTypes(t *testing.T) {
	ctx := context.Background()
	room, _ := setupRoom(t)

	conn, err := room.Dial(ctx, "b1")
	require.NoError(t, err)
	defer conn.Close()

	env, err := board.NewEnvelope(board.MessageUserLeft, board.UserLeftPayload{ParticipantID: "x"})
	require.NoError(t, err)
	assert.Error(t, conn.Send(ctx, env))
}
