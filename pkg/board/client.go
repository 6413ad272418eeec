package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client provides namespace-scoped Redis operations for boards.
// All keys and channels are automatically namespaced with the namespace name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb       *redis.Client
	namespace string
}

// SaveNotice is published on the board's save channel after every successful
// document write.
type SaveNotice struct {
	BoardID      string `json:"boardId"`
	SavedAtMs    int64  `json:"savedAtMs"`
	ElementCount int    `json:"elementCount"`
	ActiveCount  int    `json:"activeCount"`
}

// NewClient creates a new board client for the specified namespace.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - namespace: deployment namespace (must not be empty)
//
// Returns an error if namespace is empty.
func NewClient(redisOpts *redis.Options, namespace string) (*Client, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}

	return &Client{
		rdb:       redis.NewClient(redisOpts),
		namespace: namespace,
	}, nil
}

// Namespace returns the namespace this client is scoped to.
func (c *Client) Namespace() string {
	return c.namespace
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SaveDocument replaces the board's persisted document and publishes a save
// notice. The delete and write run in one MULTI/EXEC transaction, so readers
// never observe a half-written document.
func (c *Client) SaveDocument(ctx context.Context, boardID string, doc *Document, savedAt time.Time) error {
	if boardID == "" {
		return fmt.Errorf("board id cannot be empty")
	}
	if doc == nil {
		return fmt.Errorf("document cannot be nil")
	}

	hash, err := DocumentToHash(doc, savedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to serialize document: %w", err)
	}

	key := DocumentKey(c.namespace, boardID)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, hash)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write document to Redis: %w", err)
	}

	notice := SaveNotice{
		BoardID:      boardID,
		SavedAtMs:    savedAt.UnixMilli(),
		ElementCount: len(doc.Elements),
		ActiveCount:  doc.ActiveCount(),
	}
	noticeJSON, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal save notice: %w", err)
	}

	if err := c.rdb.Publish(ctx, SavesChannel(c.namespace, boardID), noticeJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish save notice: %w", err)
	}

	return nil
}

// LoadDocument retrieves a board's persisted document and the time it was saved.
// Returns (nil, zero, redis.Nil) if the board has never been saved.
// Use IsNotFound() to check for not-found errors.
func (c *Client) LoadDocument(ctx context.Context, boardID string) (*Document, time.Time, error) {
	key := DocumentKey(c.namespace, boardID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read document from Redis: %w", err)
	}

	// HGetAll returns an empty map for non-existent keys
	if len(hashData) == 0 {
		return nil, time.Time{}, redis.Nil
	}

	doc, savedAtMs, err := HashToDocument(hashData)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to deserialize document: %w", err)
	}

	return doc, time.UnixMilli(savedAtMs), nil
}

// DocumentExists checks if a board has a persisted document without fetching it.
func (c *Client) DocumentExists(ctx context.Context, boardID string) (bool, error) {
	exists, err := c.rdb.Exists(ctx, DocumentKey(c.namespace, boardID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check document existence: %w", err)
	}
	return exists > 0, nil
}

// AddParticipant records a collaborator in the room membership hash.
func (c *Client) AddParticipant(ctx context.Context, boardID string, collaborator Collaborator) error {
	if err := collaborator.Validate(); err != nil {
		return fmt.Errorf("invalid collaborator: %w", err)
	}

	data, err := json.Marshal(collaborator)
	if err != nil {
		return fmt.Errorf("failed to marshal collaborator: %w", err)
	}

	key := ParticipantsKey(c.namespace, boardID)
	if err := c.rdb.HSet(ctx, key, collaborator.ParticipantID, string(data)).Err(); err != nil {
		return fmt.Errorf("failed to write participant to Redis: %w", err)
	}

	return nil
}

// RemoveParticipant deletes a collaborator from the room membership hash.
// Removing an unknown participant is not an error.
func (c *Client) RemoveParticipant(ctx context.Context, boardID, participantID string) error {
	key := ParticipantsKey(c.namespace, boardID)
	if err := c.rdb.HDel(ctx, key, participantID).Err(); err != nil {
		return fmt.Errorf("failed to remove participant from Redis: %w", err)
	}
	return nil
}

// ListParticipants returns every collaborator currently registered in the room.
// Returns an empty slice if the room is empty (not an error).
// Entries that fail to decode are skipped.
func (c *Client) ListParticipants(ctx context.Context, boardID string) ([]Collaborator, error) {
	key := ParticipantsKey(c.namespace, boardID)

	raw, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read participants from Redis: %w", err)
	}

	collaborators := make([]Collaborator, 0, len(raw))
	for _, data := range raw {
		var collaborator Collaborator
		if err := json.Unmarshal([]byte(data), &collaborator); err != nil {
			continue
		}
		collaborators = append(collaborators, collaborator)
	}

	return collaborators, nil
}

// CacheRoomElements stores the latest element set seen by the room.
func (c *Client) CacheRoomElements(ctx context.Context, boardID string, elements []Element) error {
	if elements == nil {
		elements = []Element{}
	}

	data, err := json.Marshal(elements)
	if err != nil {
		return fmt.Errorf("failed to marshal room elements: %w", err)
	}

	if err := c.rdb.Set(ctx, RoomElementsKey(c.namespace, boardID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to cache room elements: %w", err)
	}

	return nil
}

// RoomElements returns the room's cached element set.
// Returns (nil, redis.Nil) if nothing has been cached yet.
func (c *Client) RoomElements(ctx context.Context, boardID string) ([]Element, error) {
	data, err := c.rdb.Get(ctx, RoomElementsKey(c.namespace, boardID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to read room elements: %w", err)
	}

	var elements []Element
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room elements: %w", err)
	}

	return elements, nil
}

// maxRoomCacheRetries bounds how often UpdateRoomElements retries after losing
// a WATCH race to another participant.
const maxRoomCacheRetries = 10

// UpdateRoomElements replaces the room's cached element set with fn(cached)
// inside a WATCH/MULTI transaction. When another participant writes the cache
// between the read and the write, the transaction is retried with the newer
// set. It returns the cached set that fn was last called with.
func (c *Client) UpdateRoomElements(ctx context.Context, boardID string, fn func(cached []Element) []Element) ([]Element, error) {
	key := RoomElementsKey(c.namespace, boardID)

	var cached []Element
	txf := func(tx *redis.Tx) error {
		cached = nil
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to read room elements: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(data, &cached); err != nil {
				return fmt.Errorf("failed to unmarshal room elements: %w", err)
			}
		}

		next := fn(cached)
		if next == nil {
			next = []Element{}
		}
		out, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal room elements: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxRoomCacheRetries; i++ {
		err := c.rdb.Watch(ctx, txf, key)
		if err == nil {
			return cached, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, fmt.Errorf("failed to cache room elements: %w", err)
	}

	return nil, fmt.Errorf("failed to cache room elements: board '%s' changed concurrently %d times", boardID, maxRoomCacheRetries)
}

// PublishRoom publishes an envelope on the board's room channel.
func (c *Client) PublishRoom(ctx context.Context, boardID string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal room message: %w", err)
	}

	if err := c.rdb.Publish(ctx, RoomChannel(c.namespace, boardID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish room message: %w", err)
	}

	return nil
}

// RoomSubscription represents an active Pub/Sub subscription to a board room.
// Caller must call Close() when done to clean up resources.
type RoomSubscription struct {
	events <-chan Envelope
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of room messages.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *RoomSubscription) Events() <-chan Envelope {
	return s.events
}

// Errors returns the channel of subscription errors.
// The subscription continues after errors - messages are skipped.
func (s *RoomSubscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *RoomSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SaveSubscription represents an active Pub/Sub subscription to save notices.
type SaveSubscription struct {
	events <-chan *SaveNotice
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of save notices.
func (s *SaveSubscription) Events() <-chan *SaveNotice {
	return s.events
}

// Errors returns the channel of subscription errors.
func (s *SaveSubscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
func (s *SaveSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeRoom subscribes to a board's room channel.
// The subscription is confirmed by Redis before this method returns, so
// messages published afterwards are never missed.
//
// Events are delivered on a buffered channel (size 64).
// Redis Pub/Sub is at-most-once: a subscriber that falls too far behind loses messages.
func (c *Client) SubscribeRoom(ctx context.Context, boardID string) (*RoomSubscription, error) {
	eventsChan := make(chan Envelope, 64)
	errorsChan := make(chan error, 10)

	cancel, err := c.subscribe(ctx, RoomChannel(c.namespace, boardID), errorsChan, func(subCtx context.Context, payload string) error {
		var env Envelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			return fmt.Errorf("failed to unmarshal room message: %w", err)
		}
		select {
		case eventsChan <- env:
		case <-subCtx.Done():
		}
		return nil
	}, func() { close(eventsChan) })
	if err != nil {
		return nil, err
	}

	return &RoomSubscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancel,
	}, nil
}

// SubscribeSaves subscribes to a board's save notices.
func (c *Client) SubscribeSaves(ctx context.Context, boardID string) (*SaveSubscription, error) {
	eventsChan := make(chan *SaveNotice, 10)
	errorsChan := make(chan error, 10)

	cancel, err := c.subscribe(ctx, SavesChannel(c.namespace, boardID), errorsChan, func(subCtx context.Context, payload string) error {
		var notice SaveNotice
		if err := json.Unmarshal([]byte(payload), &notice); err != nil {
			return fmt.Errorf("failed to unmarshal save notice: %w", err)
		}
		select {
		case eventsChan <- &notice:
		case <-subCtx.Done():
		}
		return nil
	}, func() { close(eventsChan) })
	if err != nil {
		return nil, err
	}

	return &SaveSubscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancel,
	}, nil
}

// subscribe runs the receive loop shared by every subscription type.
// handle decodes and forwards one message; its errors go to errorsChan and the
// message is skipped. done closes the typed events channel on exit.
func (c *Client) subscribe(
	ctx context.Context,
	channel string,
	errorsChan chan error,
	handle func(context.Context, string) error,
	done func(),
) (func(), error) {
	pubsub := c.rdb.Subscribe(ctx, channel)

	// Wait for the subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(errorsChan)
		defer done()
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				if err := handle(subCtx, msg.Payload); err != nil {
					select {
					case errorsChan <- err:
					case <-subCtx.Done():
						return
					}
				}
			}
		}
	}()

	return cancelFunc, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
// Use this to check if LoadDocument or RoomElements returned "not found".
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
