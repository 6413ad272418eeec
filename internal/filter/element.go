package filter

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/dyluth/boardsync/pkg/board"
)

// Criteria defines filtering criteria for board elements.
// All filters are ANDed together - an element must match ALL criteria to pass.
type Criteria struct {
	TypeGlob   string // Glob pattern for the element's "type" attribute, empty = no filter
	IDPrefix   string // Element ID prefix, empty = no filter
	ActiveOnly bool   // Drop tombstoned elements
}

// Matches returns true if the element matches all filter criteria.
// Empty/zero criteria values are treated as "match all" for that criterion.
func (c *Criteria) Matches(el board.Element) bool {
	if c.ActiveOnly && el.IsDeleted {
		return false
	}

	if c.IDPrefix != "" && !strings.HasPrefix(el.ID, c.IDPrefix) {
		return false
	}

	// Type filtering - glob pattern matching
	if c.TypeGlob != "" {
		var typeName string
		if raw, ok := el.Field("type"); ok {
			json.Unmarshal(raw, &typeName)
		}
		matched, err := filepath.Match(c.TypeGlob, typeName)
		if err != nil || !matched {
			return false
		}
	}

	return true
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return c.TypeGlob != "" || c.IDPrefix != "" || c.ActiveOnly
}

// Apply returns a copy of doc holding only the matching elements.
// View state and files are carried over unchanged.
func (c *Criteria) Apply(doc *board.Document) *board.Document {
	if doc == nil || !c.HasFilters() {
		return doc
	}

	out := *doc
	out.Elements = make([]board.Element, 0, len(doc.Elements))
	for _, el := range doc.Elements {
		if c.Matches(el) {
			out.Elements = append(out.Elements, el)
		}
	}
	return &out
}
