// Package presence tracks the collaborators currently connected to a board room.
package presence

import (
	"sort"
	"sync"

	"github.com/dyluth/boardsync/pkg/board"
)

// Tracker maintains participantId → Collaborator for one room.
// The local participant is never listed. Nothing here is persisted.
type Tracker struct {
	selfID string

	mu        sync.Mutex
	members   map[string]board.Collaborator
	listeners []func([]board.Collaborator)
}

// New creates an empty tracker that excludes selfID from its list.
func New(selfID string) *Tracker {
	return &Tracker{
		selfID:  selfID,
		members: make(map[string]board.Collaborator),
	}
}

// OnChange registers a listener called with the sorted list after every change.
func (t *Tracker) OnChange(fn func([]board.Collaborator)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Seed replaces the membership with a full room snapshot.
func (t *Tracker) Seed(collaborators []board.Collaborator) {
	t.mu.Lock()
	t.members = make(map[string]board.Collaborator, len(collaborators))
	for _, c := range collaborators {
		if c.ParticipantID == "" || c.ParticipantID == t.selfID {
			continue
		}
		t.members[c.ParticipantID] = c
	}
	t.mu.Unlock()

	t.notify()
}

// Join adds or updates one collaborator.
func (t *Tracker) Join(c board.Collaborator) {
	if c.ParticipantID == "" || c.ParticipantID == t.selfID {
		return
	}

	t.mu.Lock()
	t.members[c.ParticipantID] = c
	t.mu.Unlock()

	t.notify()
}

// Leave removes a collaborator. Unknown ids are ignored.
func (t *Tracker) Leave(participantID string) {
	t.mu.Lock()
	_, ok := t.members[participantID]
	delete(t.members, participantID)
	t.mu.Unlock()

	if ok {
		t.notify()
	}
}

// Reset empties the tracker, typically on session teardown.
func (t *Tracker) Reset() {
	t.mu.Lock()
	wasEmpty := len(t.members) == 0
	t.members = make(map[string]board.Collaborator)
	t.mu.Unlock()

	if !wasEmpty {
		t.notify()
	}
}

// Len returns the number of remote collaborators.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.members)
}

// List returns the collaborators sorted by display name, then participant id.
func (t *Tracker) List() []board.Collaborator {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sortedLocked()
}

func (t *Tracker) sortedLocked() []board.Collaborator {
	out := make([]board.Collaborator, 0, len(t.members))
	for _, c := range t.members {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return out
}

func (t *Tracker) notify() {
	t.mu.Lock()
	list := t.sortedLocked()
	listeners := make([]func([]board.Collaborator), len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(list)
	}
}
