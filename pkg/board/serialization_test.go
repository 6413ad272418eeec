package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentToHash(t *testing.T) {
	doc := &Document{
		Elements: []Element{NewElement("a", 1), {ID: "b", Version: 2, IsDeleted: true}},
	}

	hash, err := DocumentToHash(doc, 1234)
	require.NoError(t, err)

	assert.Equal(t, 2, hash["element_count"])
	assert.Equal(t, 1, hash["active_count"])
	assert.Equal(t, int64(1234), hash["saved_at_ms"])
	assert.Equal(t, "", hash["view_state"])
	assert.JSONEq(t, `[{"id":"a","version":1,"isDeleted":false},{"id":"b","version":2,"isDeleted":true}]`, hash["elements"].(string))
}

func TestDocumentToHash_NilElements(t *testing.T) {
	hash, err := DocumentToHash(&Document{}, 0)
	require.NoError(t, err)
	assert.Equal(t, "[]", hash["elements"])
}

func TestHashToDocument(t *testing.T) {
	t.Run("decodes all fields", func(t *testing.T) {
		doc, savedAt, err := HashToDocument(map[string]string{
			"elements":    `[{"id":"a","version":4}]`,
			"view_state":  `{"scroll":[1,2]}`,
			"files":       `{"f":{"id":"f"}}`,
			"saved_at_ms": "99",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(99), savedAt)
		require.Len(t, doc.Elements, 1)
		assert.Equal(t, 4, doc.Elements[0].Version)
		assert.JSONEq(t, `{"scroll":[1,2]}`, string(doc.ViewState))
		assert.Contains(t, doc.Files, "f")
	})

	t.Run("tolerates empty fields", func(t *testing.T) {
		doc, savedAt, err := HashToDocument(map[string]string{"files": "null"})
		require.NoError(t, err)
		assert.Equal(t, int64(0), savedAt)
		assert.NotNil(t, doc.Elements)
		assert.Nil(t, doc.Files)
	})

	t.Run("fails on corrupt elements", func(t *testing.T) {
		_, _, err := HashToDocument(map[string]string{"elements": `{`})
		assert.Error(t, err)
	})
}
