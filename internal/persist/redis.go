package persist

import (
	"context"
	"fmt"

	"github.com/coder/quartz"
	"github.com/dyluth/boardsync/pkg/board"
)

// RedisStore keeps board documents in Redis through a board client.
// Each successful write also publishes a save notice on the board's save channel.
type RedisStore struct {
	client *board.Client
	clock  quartz.Clock
}

// NewRedisStore wraps a board client. A nil clock uses the real clock.
func NewRedisStore(client *board.Client, clock quartz.Clock) *RedisStore {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &RedisStore{client: client, clock: clock}
}

// Persist writes the document atomically.
func (s *RedisStore) Persist(ctx context.Context, boardID string, doc *board.Document) error {
	if err := s.client.SaveDocument(ctx, boardID, doc, s.clock.Now()); err != nil {
		return fmt.Errorf("failed to persist board %s: %w", boardID, err)
	}
	return nil
}

// Load returns the stored document, or ErrNotFound.
func (s *RedisStore) Load(ctx context.Context, boardID string) (*board.Document, error) {
	doc, _, err := s.client.LoadDocument(ctx, boardID)
	if err != nil {
		if board.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}
