// Package persist adapts persistence endpoints to the save coordinator.
//
// Every store writes a whole board document or nothing: a failed call leaves
// the previously stored document in place.
package persist

import (
	"context"
	"errors"

	"github.com/dyluth/boardsync/pkg/board"
)

// ErrNotFound is returned by Load for a board that has never been saved.
var ErrNotFound = errors.New("board document not found")

// Loader reads a board's stored document.
type Loader interface {
	Load(ctx context.Context, boardID string) (*board.Document, error)
}

// Store persists and loads board documents. Both adapters in this package
// implement it; the Persist half satisfies save.Persister.
type Store interface {
	Loader
	Persist(ctx context.Context, boardID string, doc *board.Document) error
}

// IsNotFound reports whether err means the board has no stored document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
