package listing

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/boardsync/internal/watch"
	"github.com/dyluth/boardsync/pkg/board"
)

// FormatTable writes a board document's elements as a formatted table.
// The table includes columns: ID, VER, STATE, TYPE and TEXT (truncated).
// Returns the number of elements formatted.
func FormatTable(w io.Writer, boardID string, doc *board.Document, savedAt time.Time) int {
	if doc == nil || len(doc.Elements) == 0 {
		fmt.Fprintf(w, "No elements found for board '%s'\n", boardID)
		return 0
	}

	fmt.Fprintf(w, "Elements for board '%s' (saved %s):\n\n", boardID, formatAge(savedAt))

	fmt.Fprintf(w, "%-10s %-5s %-8s %-12s %s\n",
		"ID", "VER", "STATE", "TYPE", "TEXT")
	fmt.Fprintf(w, "%-10s %-5s %-8s %-12s %s\n",
		"----------", "-----", "--------", "------------", "----------------------------------------")

	for _, el := range doc.Elements {
		fmt.Fprintf(w, "%-10s %-5s %-8s %-12s %s\n",
			formatID(el.ID),
			formatVersion(el.Version),
			formatState(el.IsDeleted),
			formatType(stringField(el, "type")),
			formatText(stringField(el, "text")),
		)
	}

	countMsg := "element"
	if len(doc.Elements) != 1 {
		countMsg = "elements"
	}
	fmt.Fprintf(w, "\n%d %s (%d active)\n", len(doc.Elements), countMsg, doc.ActiveCount())

	return len(doc.Elements)
}

// FormatJSONL writes each element as a single JSON object on its own line.
// This format is ideal for streaming and processing with tools like jq.
func FormatJSONL(w io.Writer, doc *board.Document) error {
	if doc == nil {
		return nil
	}
	for _, el := range doc.Elements {
		data, err := json.Marshal(el)
		if err != nil {
			return fmt.Errorf("failed to marshal element to JSON: %w", err)
		}

		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatJSON writes the whole document as pretty-printed JSON, the same shape
// the persistence endpoint stores.
func FormatJSON(w io.Writer, doc *board.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document to JSON: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)

	return nil
}

// FormatEvent writes a watch event as one human-readable line.
func FormatEvent(w io.Writer, ev watch.Event) error {
	_, err := fmt.Fprintf(w, "%s %-6s %-16s %s\n",
		ev.Timestamp.Format("15:04:05"),
		"["+string(ev.Kind)+"]",
		ev.Type,
		summarize(ev),
	)
	if err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// FormatEventJSON writes a watch event as a single JSON line.
func FormatEventJSON(w io.Writer, ev watch.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event to JSON: %w", err)
	}
	if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// summarize renders the interesting part of an event's payload.
// Payloads that do not decode fall back to "-".
func summarize(ev watch.Event) string {
	if ev.Kind == watch.KindSave {
		if ev.Save == nil {
			return "-"
		}
		return fmt.Sprintf("elements=%d active=%d", ev.Save.ElementCount, ev.Save.ActiveCount)
	}

	env := board.Envelope{Type: board.MessageType(ev.Type), Payload: ev.Payload}

	switch env.Type {
	case board.MessageElementsUpdate, board.MessageElementsChange:
		var p board.ElementsUpdatePayload
		if err := env.Decode(&p); err != nil {
			return "-"
		}
		return fmt.Sprintf("participant=%s elements=%d", formatID(p.ParticipantID), len(p.Elements))

	case board.MessageUserJoined:
		var c board.Collaborator
		if err := env.Decode(&c); err != nil {
			return "-"
		}
		return fmt.Sprintf("participant=%s name=%q", formatID(c.ParticipantID), c.DisplayName)

	case board.MessageUserLeft:
		var p board.UserLeftPayload
		if err := env.Decode(&p); err != nil {
			return "-"
		}
		return fmt.Sprintf("participant=%s", formatID(p.ParticipantID))

	case board.MessageCollaborators:
		var list []board.Collaborator
		if err := env.Decode(&list); err != nil {
			return "-"
		}
		return fmt.Sprintf("count=%d", len(list))
	}

	return "-"
}

// stringField returns an opaque string attribute, or "" when absent or not a string.
func stringField(el board.Element, name string) string {
	raw, ok := el.Field(name)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// formatID truncates element and participant IDs to 8 characters for compact display.
func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatVersion(version int) string {
	return fmt.Sprintf("v%d", version)
}

func formatState(deleted bool) string {
	if deleted {
		return "deleted"
	}
	return "active"
}

func formatType(typeName string) string {
	if typeName == "" {
		return "-"
	}
	if len(typeName) > 12 {
		return typeName[:9] + "..."
	}
	return typeName
}

// formatText truncates text to its first non-empty line with max 40 characters.
// Empty text returns "-".
func formatText(text string) string {
	var firstLine string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			firstLine = trimmed
			break
		}
	}

	if firstLine == "" {
		return "-"
	}

	if len(firstLine) > 40 {
		return firstLine[:37] + "..."
	}
	return firstLine
}

// formatAge shows a save time as relative time like "2m ago".
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	diff := time.Since(t)

	if diff < time.Minute {
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	} else if diff < time.Hour {
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	} else if diff < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
}
