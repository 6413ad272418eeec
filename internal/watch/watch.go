package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/coder/quartz"
	"github.com/dyluth/boardsync/pkg/board"
)

// EventKind tells room traffic apart from save notices.
type EventKind string

const (
	KindRoom EventKind = "room"
	KindSave EventKind = "save"
)

// Event is one observed piece of board activity.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	BoardID   string            `json:"board"`
	Kind      EventKind         `json:"kind"`
	Type      string            `json:"type"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Save      *board.SaveNotice `json:"save,omitempty"`
}

// PollForDocument polls until the board's document exists in Redis.
// Returns the document and its save time or an error if timeout occurs.
// Polls every 200ms for the specified timeout duration.
func PollForDocument(ctx context.Context, clock quartz.Clock, client *board.Client, boardID string, timeout time.Duration) (*board.Document, time.Time, error) {
	doc, savedAt, err := client.LoadDocument(ctx, boardID)
	if err == nil {
		return doc, savedAt, nil
	}
	if !board.IsNotFound(err) {
		return nil, time.Time{}, fmt.Errorf("failed to load document: %w", err)
	}

	ticker := clock.NewTicker(200*time.Millisecond, "watch", "poll")
	defer ticker.Stop()

	timeoutCh := clock.NewTimer(timeout, "watch", "timeout")
	defer timeoutCh.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, time.Time{}, ctx.Err()

		case <-timeoutCh.C:
			return nil, time.Time{}, fmt.Errorf("timeout waiting for board '%s' after %v", boardID, timeout)

		case <-ticker.C:
			doc, savedAt, err := client.LoadDocument(ctx, boardID)
			if err != nil {
				if board.IsNotFound(err) {
					// Not saved yet, continue polling
					continue
				}
				return nil, time.Time{}, fmt.Errorf("failed to load document: %w", err)
			}
			return doc, savedAt, nil
		}
	}
}

// Stream delivers every room message and save notice of a board to fn until
// ctx is cancelled or fn returns an error. Malformed messages are logged and
// skipped. Both subscriptions are confirmed before ready (if non-nil) is called.
func Stream(ctx context.Context, clock quartz.Clock, client *board.Client, boardID string, ready func(), fn func(Event) error) error {
	room, err := client.SubscribeRoom(ctx, boardID)
	if err != nil {
		return err
	}
	defer room.Close()

	saves, err := client.SubscribeSaves(ctx, boardID)
	if err != nil {
		return err
	}
	defer saves.Close()

	if ready != nil {
		ready()
	}

	roomEvents, roomErrs := room.Events(), room.Errors()
	saveEvents, saveErrs := saves.Events(), saves.Errors()

	for {
		var ev Event
		select {
		case <-ctx.Done():
			return nil

		case env, ok := <-roomEvents:
			if !ok {
				return nil
			}
			ev = Event{Kind: KindRoom, Type: string(env.Type), Payload: env.Payload}

		case notice, ok := <-saveEvents:
			if !ok {
				return nil
			}
			ev = Event{Kind: KindSave, Type: "saved", Save: notice}

		case err, ok := <-roomErrs:
			if !ok {
				roomErrs = nil
				continue
			}
			log.Printf("[Watch] [ERROR] Skipping room message: %v", err)
			continue

		case err, ok := <-saveErrs:
			if !ok {
				saveErrs = nil
				continue
			}
			log.Printf("[Watch] [ERROR] Skipping save notice: %v", err)
			continue
		}

		ev.Timestamp = clock.Now()
		ev.BoardID = boardID
		if err := fn(ev); err != nil {
			return err
		}
	}
}
