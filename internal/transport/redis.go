package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dyluth/boardsync/internal/elements"
	"github.com/dyluth/boardsync/pkg/board"
)

// leaveTimeout bounds the cleanup a connection performs when it is closed
// without having sent leave.
const leaveTimeout = 5 * time.Second

// RedisRoom is a serverless room relay built on Redis pub/sub.
//
// Each connection plays the relay's part for its own participant: a join
// registers presence and answers with the collaborators snapshot and the
// room's cached element set, an elements-change is republished to the room as
// elements-update, and leave deregisters. Messages published by the
// connection's own participant are not delivered back to it.
type RedisRoom struct {
	client *board.Client
}

// NewRedisRoom creates a room relay on top of a board client.
func NewRedisRoom(client *board.Client) *RedisRoom {
	return &RedisRoom{client: client}
}

// Dial subscribes to the board's room channel.
// The subscription is confirmed before Dial returns.
func (r *RedisRoom) Dial(ctx context.Context, boardID string) (Conn, error) {
	if boardID == "" {
		return nil, fmt.Errorf("board id cannot be empty")
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub, err := r.client.SubscribeRoom(subCtx, boardID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to room: %w", err)
	}

	c := &redisConn{
		client:  r.client,
		boardID: boardID,
		sub:     sub,
		cancel:  cancel,
		inbox:   make(chan board.Envelope, 64),
		closed:  make(chan struct{}),
	}
	go c.forward()

	return c, nil
}

type redisConn struct {
	client  *board.Client
	boardID string
	sub     *board.RoomSubscription
	cancel  context.CancelFunc

	inbox     chan board.Envelope
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	self   board.Collaborator
	joined bool
}

// participantRef extracts the sender of relayed messages.
type participantRef struct {
	ParticipantID string `json:"participantId"`
}

func (c *redisConn) forward() {
	errs := c.sub.Errors()
	for {
		select {
		case <-c.closed:
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("[Transport] [ERROR] board=%s room subscription: %v", c.boardID, err)
		case env, ok := <-c.sub.Events():
			if !ok {
				c.Close()
				return
			}
			if c.fromSelf(env) {
				continue
			}
			c.deliver(env)
		}
	}
}

func (c *redisConn) fromSelf(env board.Envelope) bool {
	switch env.Type {
	case board.MessageElementsUpdate, board.MessageUserJoined, board.MessageUserLeft:
	default:
		return false
	}

	var ref participantRef
	if err := env.Decode(&ref); err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return ref.ParticipantID != "" && ref.ParticipantID == c.self.ParticipantID
}

func (c *redisConn) deliver(env board.Envelope) {
	select {
	case c.inbox <- env:
	case <-c.closed:
	}
}

// Send plays the relay's side of each outbound message.
func (c *redisConn) Send(ctx context.Context, env board.Envelope) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	switch env.Type {
	case board.MessageJoin:
		var p board.JoinPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		return c.join(ctx, p)
	case board.MessageElementsChange:
		var p board.ElementsChangePayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		return c.change(ctx, p)
	case board.MessageLeave:
		return c.leave(ctx)
	default:
		return fmt.Errorf("unsupported outbound message type: %s", env.Type)
	}
}

func (c *redisConn) join(ctx context.Context, p board.JoinPayload) error {
	self := board.Collaborator{
		ParticipantID: p.ParticipantID,
		DisplayName:   p.DisplayName,
		ColorToken:    p.ColorToken,
	}
	if err := c.client.AddParticipant(ctx, c.boardID, self); err != nil {
		return fmt.Errorf("failed to register participant: %w", err)
	}

	c.mu.Lock()
	c.self = self
	c.joined = true
	c.mu.Unlock()

	collaborators, err := c.client.ListParticipants(ctx, c.boardID)
	if err != nil {
		return fmt.Errorf("failed to list participants: %w", err)
	}
	snapshot, err := board.NewEnvelope(board.MessageCollaborators, collaborators)
	if err != nil {
		return err
	}
	c.deliver(snapshot)

	cached, err := c.client.UpdateRoomElements(ctx, c.boardID, func(cached []board.Element) []board.Element {
		return elements.Merge(cached, p.Elements)
	})
	if err != nil {
		return err
	}
	if len(cached) > 0 {
		update, err := board.NewEnvelope(board.MessageElementsUpdate, board.ElementsUpdatePayload{Elements: cached})
		if err != nil {
			return err
		}
		c.deliver(update)
	}

	joined, err := board.NewEnvelope(board.MessageUserJoined, self)
	if err != nil {
		return err
	}
	return c.client.PublishRoom(ctx, c.boardID, joined)
}

func (c *redisConn) change(ctx context.Context, p board.ElementsChangePayload) error {
	update, err := board.NewEnvelope(board.MessageElementsUpdate, board.ElementsUpdatePayload{
		Elements:      p.Elements,
		ParticipantID: p.ParticipantID,
	})
	if err != nil {
		return err
	}
	if err := c.client.PublishRoom(ctx, c.boardID, update); err != nil {
		return err
	}

	_, err = c.client.UpdateRoomElements(ctx, c.boardID, func(cached []board.Element) []board.Element {
		return elements.Merge(cached, p.Elements)
	})
	return err
}

func (c *redisConn) leave(ctx context.Context) error {
	c.mu.Lock()
	self, joined := c.self, c.joined
	c.joined = false
	c.mu.Unlock()

	if !joined {
		return nil
	}

	if err := c.client.RemoveParticipant(ctx, c.boardID, self.ParticipantID); err != nil {
		return fmt.Errorf("failed to deregister participant: %w", err)
	}
	left, err := board.NewEnvelope(board.MessageUserLeft, board.UserLeftPayload{ParticipantID: self.ParticipantID})
	if err != nil {
		return err
	}
	return c.client.PublishRoom(ctx, c.boardID, left)
}

func (c *redisConn) Receive(ctx context.Context) (board.Envelope, error) {
	select {
	case env := <-c.inbox:
		return env, nil
	case <-ctx.Done():
		return board.Envelope{}, ctx.Err()
	case <-c.closed:
		// drain anything delivered before the close
		select {
		case env := <-c.inbox:
			return env, nil
		default:
		}
		return board.Envelope{}, ErrClosed
	}
}

// Close deregisters the participant if leave was never sent, then drops the
// subscription. Safe to call multiple times.
func (c *redisConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer cancel()
		err = c.leave(ctx)

		close(c.closed)
		c.sub.Close()
		c.cancel()
	})
	return err
}
