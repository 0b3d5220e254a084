package kg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kgerr"
)

func TestMergeVocabulary(t *testing.T) {
	assert.Equal(t, []string{"Org", "Person", "Place"},
		MergeVocabulary([]string{"Person", "Place", ""}, []string{"Org", "Person"}))
	assert.Equal(t, []string{}, MergeVocabulary(nil))
}

func TestBuildPromptUpdate(t *testing.T) {
	schema := apptype.SchemaSnapshot{Labels: []string{"Person"}, Predicates: []string{"knows"}}
	prompts := StaticPrompts{"ner_kg_extraction": "extract"}
	u := BuildPromptUpdate("ner_kg_extraction", prompts, schema, []string{"Org"}, []string{"works_at", "knows"})

	assert.Equal(t, "ner_kg_extraction", u.PromptID)
	assert.Equal(t, []string{"Org", "Person"}, u.EntityTypes)
	assert.Equal(t, []string{"knows", "works_at"}, u.Relations)
	text, ok := u.Prompts.Prompt("ner_kg_extraction")
	assert.True(t, ok)
	assert.Equal(t, "extract", text)
}

func TestPrepareNodes(t *testing.T) {
	out, err := PrepareNodes([]apptype.EntityNode{
		{Name: "Alice", Label: "Person", Properties: map[string]any{"age": 30, "score": float32(0.5)}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice", out[0].ID, "id falls back to name")
	assert.Equal(t, int64(30), out[0].Properties["age"])
	assert.Equal(t, float64(0.5), out[0].Properties["score"])

	_, err = PrepareNodes([]apptype.EntityNode{{Label: "Person"}})
	assert.True(t, kgerr.IsInvalidInput(err))

	_, err = PrepareNodes([]apptype.EntityNode{{ID: "x", Properties: map[string]any{"nested": map[string]any{}}}})
	assert.True(t, kgerr.IsInvalidInput(err))
}

func TestPrepareRelations(t *testing.T) {
	_, err := PrepareRelations([]apptype.Relation{{SubjectID: "a", ObjectID: "b"}})
	assert.True(t, kgerr.IsInvalidInput(err))

	out, err := PrepareRelations([]apptype.Relation{{SubjectID: "a", Predicate: "p", ObjectID: "b", Properties: map[string]any{"w": 2}}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), out[0].Properties["w"])
}

func TestChunks(t *testing.T) {
	assert.Equal(t, [][2]int{{0, 2}, {2, 4}, {4, 5}}, Chunks(5, 2))
	assert.Equal(t, [][2]int{{0, 1}, {1, 2}}, Chunks(2, 0))
	assert.Nil(t, Chunks(0, 3))
}
