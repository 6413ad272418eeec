package board

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElementJSON(t *testing.T) {
	t.Run("preserves opaque attributes", func(t *testing.T) {
		input := `{"id":"rect-1","version":7,"isDeleted":false,"type":"rectangle","x":10.5,"groupIds":["g1"]}`

		var el Element
		require.NoError(t, json.Unmarshal([]byte(input), &el))
		assert.Equal(t, "rect-1", el.ID)
		assert.Equal(t, 7, el.Version)
		assert.False(t, el.IsDeleted)

		out, err := json.Marshal(el)
		require.NoError(t, err)
		assert.JSONEq(t, input, string(out))
	})

	t.Run("typed fields win over stale raw values", func(t *testing.T) {
		var el Element
		require.NoError(t, json.Unmarshal([]byte(`{"id":"a","version":1,"text":"hi"}`), &el))

		el.Version = 2
		el.IsDeleted = true

		out, err := json.Marshal(el)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"a","version":2,"isDeleted":true,"text":"hi"}`, string(out))
	})

	t.Run("missing isDeleted defaults to false", func(t *testing.T) {
		var el Element
		require.NoError(t, json.Unmarshal([]byte(`{"id":"a","version":3}`), &el))
		assert.False(t, el.IsDeleted)
	})

	t.Run("rejects non-object", func(t *testing.T) {
		var el Element
		assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &el))
		assert.Error(t, json.Unmarshal([]byte(`null`), &el))
	})

	t.Run("rejects wrongly typed version", func(t *testing.T) {
		var el Element
		err := json.Unmarshal([]byte(`{"id":"a","version":"seven"}`), &el)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid version")
	})
}

func TestElementWithField(t *testing.T) {
	el, err := NewElement("a", 1).WithField("text", "hello")
	require.NoError(t, err)

	raw, ok := el.Field("text")
	require.True(t, ok)
	assert.JSONEq(t, `"hello"`, string(raw))

	// reserved names are ignored
	same, err := el.WithField("version", 99)
	require.NoError(t, err)
	assert.Equal(t, 1, same.Version)

	// the original is not mutated
	_, ok = NewElement("a", 1).Field("text")
	assert.False(t, ok)
}

func TestElementValidate(t *testing.T) {
	assert.NoError(t, NewElement("a", 0).Validate())
	assert.Error(t, NewElement("", 1).Validate())
	assert.Error(t, NewElement("a", -1).Validate())
}

func TestParseDocument(t *testing.T) {
	t.Run("parses a full document", func(t *testing.T) {
		doc, err := ParseDocument([]byte(`{
			"elements": [
				{"id":"a","version":1},
				{"id":"b","version":2,"isDeleted":true},
				{"id":"c","version":5}
			],
			"viewState": {"zoom": 1.5},
			"files": {"img-1": {"mimeType":"image/png"}}
		}`))
		require.NoError(t, err)
		assert.Len(t, doc.Elements, 3)
		assert.Equal(t, 2, doc.ActiveCount())
		assert.JSONEq(t, `{"zoom": 1.5}`, string(doc.ViewState))
		assert.Contains(t, doc.Files, "img-1")
	})

	t.Run("empty input is an empty document", func(t *testing.T) {
		doc, err := ParseDocument(nil)
		require.NoError(t, err)
		assert.NotNil(t, doc.Elements)
		assert.Equal(t, 0, doc.ActiveCount())
	})

	t.Run("missing elements become an empty slice", func(t *testing.T) {
		doc, err := ParseDocument([]byte(`{"viewState":{}}`))
		require.NoError(t, err)
		assert.NotNil(t, doc.Elements)
	})

	t.Run("malformed JSON fails", func(t *testing.T) {
		_, err := ParseDocument([]byte(`{"elements": [`))
		assert.Error(t, err)
	})

	t.Run("element without id fails", func(t *testing.T) {
		_, err := ParseDocument([]byte(`{"elements":[{"version":1}]}`))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "index 0")
	})
}

func TestCollaboratorValidate(t *testing.T) {
	valid := Collaborator{ParticipantID: uuid.New().String(), DisplayName: "Ada"}
	assert.NoError(t, valid.Validate())

	assert.Error(t, Collaborator{ParticipantID: "nope", DisplayName: "Ada"}.Validate())
	assert.Error(t, Collaborator{ParticipantID: uuid.New().String()}.Validate())
}

func TestEnvelope(t *testing.T) {
	t.Run("round trips a payload", func(t *testing.T) {
		env, err := NewEnvelope(MessageElementsUpdate, ElementsUpdatePayload{
			Elements:      []Element{NewElement("a", 2)},
			ParticipantID: "p1",
		})
		require.NoError(t, err)

		data, err := json.Marshal(env)
		require.NoError(t, err)

		var decoded Envelope
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, MessageElementsUpdate, decoded.Type)

		var payload ElementsUpdatePayload
		require.NoError(t, decoded.Decode(&payload))
		assert.Equal(t, "p1", payload.ParticipantID)
		require.Len(t, payload.Elements, 1)
		assert.Equal(t, 2, payload.Elements[0].Version)
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		_, err := NewEnvelope(MessageType("shout"), nil)
		assert.Error(t, err)
	})

	t.Run("decode of empty payload fails", func(t *testing.T) {
		err := Envelope{Type: MessageLeave}.Decode(&LeavePayload{})
		assert.Error(t, err)
	})
}
