package listing

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dyluth/boardsync/internal/watch"
	"github.com/dyluth/boardsync/pkg/board"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func element(t *testing.T, id string, version int, deleted bool, fields map[string]interface{}) board.Element {
	t.Helper()
	el := board.NewElement(id, version)
	el.IsDeleted = deleted
	for k, v := range fields {
		var err error
		el, err = el.WithField(k, v)
		require.NoError(t, err)
	}
	return el
}

func sampleDocument(t *testing.T) *board.Document {
	return &board.Document{Elements: []board.Element{
		element(t, "rect-0001-long-id", 3, false, map[string]interface{}{"type": "rectangle", "x": 10}),
		element(t, "text-1", 1, false, map[string]interface{}{"type": "text", "text": "\n  Quarterly roadmap  \nsecond line"}),
		element(t, "gone", 7, true, nil),
	}}
}

func TestFormatText(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected string
	}{
		{name: "empty", text: "", expected: "-"},
		{name: "short single line", text: "hello", expected: "hello"},
		{name: "exactly 40 chars", text: strings.Repeat("a", 40), expected: strings.Repeat("a", 40)},
		{name: "41 chars truncates", text: strings.Repeat("a", 41), expected: strings.Repeat("a", 37) + "..."},
		{name: "first non-empty line", text: "  \n  hello world  \nnext", expected: "hello world"},
		{name: "whitespace only", text: " \n \n", expected: "-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatText(tt.text))
		})
	}
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "12345678", formatID("1234567890"))
	assert.Equal(t, "short", formatID("short"))
	assert.Equal(t, "v0", formatVersion(0))
	assert.Equal(t, "deleted", formatState(true))
	assert.Equal(t, "-", formatType(""))
	assert.Equal(t, "freedraw-...", formatType("freedraw-path"))
	assert.Equal(t, "never", formatAge(time.Time{}))
	assert.Equal(t, "5m ago", formatAge(time.Now().Add(-5*time.Minute-time.Second)))
	assert.Equal(t, "2d ago", formatAge(time.Now().Add(-49*time.Hour)))
}

func TestFormatTable(t *testing.T) {
	t.Run("empty document", func(t *testing.T) {
		var buf bytes.Buffer
		n := FormatTable(&buf, "roadmap", &board.Document{}, time.Time{})
		assert.Equal(t, 0, n)
		assert.Equal(t, "No elements found for board 'roadmap'\n", buf.String())
	})

	t.Run("elements", func(t *testing.T) {
		var buf bytes.Buffer
		n := FormatTable(&buf, "roadmap", sampleDocument(t), time.Now().Add(-2*time.Hour))
		assert.Equal(t, 3, n)

		out := buf.String()
		assert.Contains(t, out, "Elements for board 'roadmap' (saved 2h ago):")
		assert.Contains(t, out, "rect-000")
		assert.NotContains(t, out, "rect-0001-long-id")
		assert.Contains(t, out, "rectangle")
		assert.Contains(t, out, "Quarterly roadmap")
		assert.NotContains(t, out, "second line")
		assert.Contains(t, out, "deleted")
		assert.Contains(t, out, "3 elements (2 active)")
	})
}

func TestFormatJSONL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, FormatJSONL(&buf, sampleDocument(t)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "rect-0001-long-id", first["id"])
	assert.Equal(t, "rectangle", first["type"])
	assert.EqualValues(t, 10, first["x"])

	require.NoError(t, FormatJSONL(&buf, nil))
}

func TestFormatJSON(t *testing.T) {
	var buf bytes.Buffer
	doc := sampleDocument(t)
	doc.ViewState = json.RawMessage(`{"zoom":1.5}`)
	require.NoError(t, FormatJSON(&buf, doc))

	parsed, err := board.ParseDocument(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, parsed.Elements, 3)
	assert.JSONEq(t, `{"zoom":1.5}`, string(parsed.ViewState))
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func roomEvent(t *testing.T, mt board.MessageType, payload interface{}) watch.Event {
	t.Helper()
	env, err := board.NewEnvelope(mt, payload)
	require.NoError(t, err)
	return watch.Event{
		Timestamp: time.Date(2026, 1, 2, 9, 30, 15, 0, time.UTC),
		BoardID:   "roadmap",
		Kind:      watch.KindRoom,
		Type:      string(env.Type),
		Payload:   env.Payload,
	}
}

func TestFormatEvent(t *testing.T) {
	pid := "7c9e6679-7425-40de-944b-e07fc1f90ae7"

	tests := []struct {
		name     string
		event    watch.Event
		expected string
	}{
		{
			name: "elements update",
			event: roomEvent(t, board.MessageElementsUpdate, board.ElementsUpdatePayload{
				ParticipantID: pid,
				Elements:      []board.Element{board.NewElement("a", 1), board.NewElement("b", 1)},
			}),
			expected: "participant=7c9e6679 elements=2",
		},
		{
			name:     "user joined",
			event:    roomEvent(t, board.MessageUserJoined, board.Collaborator{ParticipantID: pid, DisplayName: "Alice"}),
			expected: `participant=7c9e6679 name="Alice"`,
		},
		{
			name:     "user left",
			event:    roomEvent(t, board.MessageUserLeft, board.UserLeftPayload{ParticipantID: pid}),
			expected: "participant=7c9e6679",
		},
		{
			name:     "collaborators",
			event:    roomEvent(t, board.MessageCollaborators, []board.Collaborator{{ParticipantID: pid, DisplayName: "A"}}),
			expected: "count=1",
		},
		{
			name: "save notice",
			event: watch.Event{
				Timestamp: time.Date(2026, 1, 2, 9, 30, 15, 0, time.UTC),
				Kind:      watch.KindSave,
				Type:      "saved",
				Save:      &board.SaveNotice{BoardID: "roadmap", ElementCount: 5, ActiveCount: 4},
			},
			expected: "elements=5 active=4",
		},
		{
			name: "undecodable payload",
			event: watch.Event{
				Kind:    watch.KindRoom,
				Type:    string(board.MessageUserLeft),
				Payload: json.RawMessage(`[1,2]`),
			},
			expected: "-",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, FormatEvent(&buf, tt.event))
			line := buf.String()
			assert.True(t, strings.HasSuffix(line, tt.expected+"\n"), "got %q", line)
			assert.Contains(t, line, "["+string(tt.event.Kind)+"]")
		})
	}
}

func TestFormatEventJSON(t *testing.T) {
	var buf bytes.Buffer
	ev := roomEvent(t, board.MessageUserLeft, board.UserLeftPayload{ParticipantID: "p"})
	require.NoError(t, FormatEventJSON(&buf, ev))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "room", decoded["kind"])
	assert.Equal(t, "user-left", decoded["type"])
	assert.Equal(t, "roadmap", decoded["board"])
	assert.Equal(t, map[string]interface{}{"participantId": "p"}, decoded["payload"])
	assert.NotContains(t, decoded, "save")
}
