package board

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// The element list, view state and files are JSON-encoded into single hash
// fields. Counters and timestamps live in their own fields so tooling can read
// them without decoding the whole document.

// DocumentToHash converts a Document to a Redis hash format.
// savedAtMs is the Unix timestamp in milliseconds of the save.
func DocumentToHash(d *Document, savedAtMs int64) (map[string]interface{}, error) {
	elements := d.Elements
	if elements == nil {
		elements = []Element{}
	}

	elementsJSON, err := json.Marshal(elements)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal elements: %w", err)
	}

	filesJSON, err := json.Marshal(d.Files)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal files: %w", err)
	}

	viewState := ""
	if len(d.ViewState) > 0 {
		viewState = string(d.ViewState)
	}

	hash := map[string]interface{}{
		"elements":      string(elementsJSON),
		"view_state":    viewState,
		"files":         string(filesJSON),
		"element_count": len(elements),
		"active_count":  d.ActiveCount(),
		"saved_at_ms":   savedAtMs,
	}

	return hash, nil
}

// HashToDocument converts a Redis hash back to a Document.
// Returns the document and its saved_at_ms timestamp.
func HashToDocument(hash map[string]string) (*Document, int64, error) {
	doc := &Document{Elements: []Element{}}

	if elementsJSON := hash["elements"]; elementsJSON != "" {
		if err := json.Unmarshal([]byte(elementsJSON), &doc.Elements); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal elements: %w", err)
		}
	}

	if doc.Elements == nil {
		doc.Elements = []Element{}
	}

	if viewState := hash["view_state"]; viewState != "" {
		doc.ViewState = json.RawMessage(viewState)
	}

	if filesJSON := hash["files"]; filesJSON != "" && filesJSON != "null" {
		if err := json.Unmarshal([]byte(filesJSON), &doc.Files); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal files: %w", err)
		}
	}

	savedAtMs, _ := strconv.ParseInt(hash["saved_at_ms"], 10, 64)

	return doc, savedAtMs, nil
}
