package board

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Element is a single drawing-surface primitive.
// ID is stable across edits, Version is bumped by the drawing surface on every
// mutation of the element, and IsDeleted marks a tombstone so that deletions
// propagate like any other edit.
type Element struct {
	ID        string
	Version   int
	IsDeleted bool

	// fields holds every attribute of the element as it was decoded, including
	// the ones the engine never interprets (geometry, style, text, ...).
	fields map[string]json.RawMessage
}

// NewElement creates an element with no opaque attributes.
// Mostly useful in tests and for tools that synthesise elements.
func NewElement(id string, version int) Element {
	return Element{ID: id, Version: version}
}

// WithField returns a copy of the element carrying an extra opaque attribute.
// The value is JSON-encoded; reserved keys (id, version, isDeleted) are ignored.
func (e Element) WithField(name string, value interface{}) (Element, error) {
	if isReservedField(name) {
		return e, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return e, fmt.Errorf("failed to marshal element field %q: %w", name, err)
	}
	out := e
	out.fields = make(map[string]json.RawMessage, len(e.fields)+1)
	for k, v := range e.fields {
		out.fields[k] = v
	}
	out.fields[name] = raw
	return out, nil
}

// Field returns the raw JSON of an opaque attribute.
func (e Element) Field(name string) (json.RawMessage, bool) {
	v, ok := e.fields[name]
	return v, ok
}

// Validate checks the fields the engine relies on.
func (e Element) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("element id cannot be empty")
	}
	if e.Version < 0 {
		return fmt.Errorf("invalid version for element %s: must be >= 0, got %d", e.ID, e.Version)
	}
	return nil
}

// MarshalJSON writes the opaque attributes back out with id, version and
// isDeleted taken from the typed fields.
func (e Element) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(e.fields)+3)
	for k, v := range e.fields {
		out[k] = v
	}

	id, err := json.Marshal(e.ID)
	if err != nil {
		return nil, err
	}
	out["id"] = id
	out["version"] = json.RawMessage(fmt.Sprintf("%d", e.Version))
	if e.IsDeleted {
		out["isDeleted"] = json.RawMessage("true")
	} else {
		out["isDeleted"] = json.RawMessage("false")
	}

	return json.Marshal(out)
}

// UnmarshalJSON decodes an element, keeping unknown attributes verbatim.
func (e *Element) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal element: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("element must be a JSON object")
	}

	var decoded Element
	if v, ok := raw["id"]; ok {
		if err := json.Unmarshal(v, &decoded.ID); err != nil {
			return fmt.Errorf("invalid element id: %w", err)
		}
	}
	if v, ok := raw["version"]; ok && !isJSONNull(v) {
		if err := json.Unmarshal(v, &decoded.Version); err != nil {
			return fmt.Errorf("invalid version for element %s: %w", decoded.ID, err)
		}
	}
	if v, ok := raw["isDeleted"]; ok && !isJSONNull(v) {
		if err := json.Unmarshal(v, &decoded.IsDeleted); err != nil {
			return fmt.Errorf("invalid isDeleted for element %s: %w", decoded.ID, err)
		}
	}

	for k := range raw {
		if isReservedField(k) {
			delete(raw, k)
		}
	}
	decoded.fields = raw

	*e = decoded
	return nil
}

func isReservedField(name string) bool {
	return name == "id" || name == "version" || name == "isDeleted"
}

func isJSONNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// Document is the serialized state of a board as stored by the persistence
// endpoint: the element list plus auxiliary view state and binary files.
type Document struct {
	Elements  []Element                  `json:"elements"`
	ViewState json.RawMessage            `json:"viewState,omitempty"`
	Files     map[string]json.RawMessage `json:"files,omitempty"`
}

// ParseDocument decodes a serialized document.
// An empty input is a valid, empty document.
func ParseDocument(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &Document{Elements: []Element{}}, nil
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	for i, el := range doc.Elements {
		if err := el.Validate(); err != nil {
			return nil, fmt.Errorf("invalid element at index %d: %w", i, err)
		}
	}

	if doc.Elements == nil {
		doc.Elements = []Element{}
	}

	return &doc, nil
}

// ActiveCount returns the number of elements that are not tombstoned.
func (d *Document) ActiveCount() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, el := range d.Elements {
		if !el.IsDeleted {
			n++
		}
	}
	return n
}

// Collaborator is a participant currently connected to a board room.
// Collaborators are transient and never persisted.
type Collaborator struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	ColorToken    string `json:"colorToken,omitempty"`
}

// Validate checks that the collaborator can be addressed in a room.
func (c Collaborator) Validate() error {
	if !isValidUUID(c.ParticipantID) {
		return fmt.Errorf("invalid participant ID: not a valid UUID")
	}
	if c.DisplayName == "" {
		return fmt.Errorf("display name cannot be empty")
	}
	return nil
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
