// Package versionstore keeps a board session's last-known-good element set and
// the baseline of its last successful persist.
package versionstore

import (
	"sync"
	"time"

	"github.com/dyluth/boardsync/internal/elements"
	"github.com/dyluth/boardsync/pkg/board"
)

// Store is the Element Version Store of one board session.
//
// It tracks two sets:
//   - saved: exactly the element set sent in the last successful save (or the
//     seed document before any save). This is the baseline the save policy
//     compares against.
//   - known: the latest converged set, updated by local edits and by merges
//     of remote updates. A save never moves it backwards.
//
// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	saved   []board.Element
	savedAt time.Time
	known   []board.Element
}

// New creates a store seeded with the elements of the initial document.
// The seed counts as the saved baseline: it is what the backing store holds.
func New(seed []board.Element) *Store {
	return &Store{
		saved: elements.Clone(seed),
		known: elements.Clone(seed),
	}
}

// Saved returns a copy of the last saved element set.
func (s *Store) Saved() []board.Element {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return elements.Clone(s.saved)
}

// SavedAt returns the time of the last successful save.
// Zero if the session has not saved yet.
func (s *Store) SavedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.savedAt
}

// Known returns a copy of the latest converged element set.
func (s *Store) Known() []board.Element {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return elements.Clone(s.known)
}

// RecordSave stores the element set that a successful save sent. The known
// set absorbs it by merge, so anything converged while the save was in flight
// stays unsaved.
func (s *Store) RecordSave(set []board.Element, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = elements.Clone(set)
	s.known = elements.Merge(s.known, s.saved)
	s.savedAt = at
}

// SetKnown records a converged set that has not been saved by this session.
func (s *Store) SetKnown(set []board.Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known = elements.Clone(set)
}

// Unsaved reports whether the known set differs from the saved baseline.
func (s *Store) Unsaved() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return elements.IsChanged(s.saved, s.known)
}
