package session

import (
	"sync"

	"github.com/dyluth/boardsync/internal/elements"
	"github.com/dyluth/boardsync/pkg/board"
)

// Surface is the drawing surface a session keeps in sync.
//
// ApplyElements replaces the surface's element list. Real drawing surfaces
// report the resulting change back through their own change callback, which
// the session recognises as an echo.
type Surface interface {
	ApplyElements(set []board.Element)
}

// MemorySurface is a headless Surface. Like an interactive surface it reports
// every replacement, programmatic or not, to its change listener.
type MemorySurface struct {
	mu       sync.Mutex
	elements []board.Element
	onChange func([]board.Element)
}

// NewMemorySurface returns an empty surface.
func NewMemorySurface() *MemorySurface {
	return &MemorySurface{elements: []board.Element{}}
}

// OnChange registers the change listener, typically Session.HandleLocalChange.
func (m *MemorySurface) OnChange(fn func([]board.Element)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// ApplyElements replaces the element list and notifies the listener.
func (m *MemorySurface) ApplyElements(set []board.Element) {
	m.replace(set)
}

// Edit simulates a user edit producing set.
func (m *MemorySurface) Edit(set []board.Element) {
	m.replace(set)
}

// Elements returns a copy of the current element list.
func (m *MemorySurface) Elements() []board.Element {
	m.mu.Lock()
	defer m.mu.Unlock()
	return elements.Clone(m.elements)
}

func (m *MemorySurface) replace(set []board.Element) {
	m.mu.Lock()
	m.elements = elements.Clone(set)
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(elements.Clone(set))
	}
}
