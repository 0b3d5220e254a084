package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
)

func node(id, label string) apptype.LabelledNode {
	return apptype.LabelledNode{ID: id, Label: label, Name: id}
}

func rel(s, p, o string) apptype.Relation {
	return apptype.Relation{SubjectID: s, Predicate: p, ObjectID: o}
}

func trip(s, p, o string) apptype.Triplet { return apptype.Triplet{s, p, o} }

// chain builds a -> b -> c -> d plus x -> a.
func chain(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	for _, id := range []string{"a", "b", "c", "d", "x"} {
		s.UpsertNode(node(id, "Thing"))
	}
	s.UpsertRelation(rel("a", "next", "b"))
	s.UpsertRelation(rel("b", "next", "c"))
	s.UpsertRelation(rel("c", "next", "d"))
	s.UpsertRelation(rel("x", "points", "a"))
	return s
}

func TestGetInsertionOrderAndIdempotence(t *testing.T) {
	s := NewStore()
	s.UpsertNode(node("alice", "Person"))
	s.UpsertNode(node("bob", "Person"))
	s.UpsertNode(node("acme", "Org"))

	s.UpsertRelation(rel("alice", "knows", "bob"))
	s.UpsertRelation(rel("alice", "works_at", "acme"))
	s.UpsertRelation(apptype.Relation{SubjectID: "alice", Predicate: "knows", ObjectID: "bob", Properties: map[string]any{"since": int64(2020)}})

	assert.Equal(t, []apptype.Triplet{
		trip("alice", "knows", "bob"),
		trip("alice", "works_at", "acme"),
	}, s.Get("alice"))

	r, ok := s.Relation(trip("alice", "knows", "bob"))
	require.True(t, ok)
	assert.Equal(t, int64(2020), r.Properties["since"])

	assert.Empty(t, s.Get("nobody"))
	assert.NotNil(t, s.Get("nobody"))
}

func TestDanglingRelationsActivateLazily(t *testing.T) {
	s := NewStore()
	s.UpsertNode(node("a", "Thing"))
	s.UpsertRelation(rel("a", "likes", "ghost"))

	assert.Empty(t, s.Get("a"))
	assert.Equal(t, 1, s.Stats().Dangling)
	assert.Equal(t, 1, s.Degree("a"))

	s.UpsertNode(node("ghost", "Thing"))
	assert.Equal(t, []apptype.Triplet{trip("a", "likes", "ghost")}, s.Get("a"))
	assert.Equal(t, 0, s.Stats().Dangling)
}

func TestReplaceNodeKeepsEdges(t *testing.T) {
	s := chain(t)
	s.UpsertNode(apptype.LabelledNode{ID: "b", Label: "Other", Name: "B", Properties: map[string]any{"k": "v"}})

	n, ok := s.Node("b")
	require.True(t, ok)
	assert.Equal(t, "Other", n.Label)
	assert.Equal(t, "B", n.Name)
	assert.Equal(t, []apptype.Triplet{trip("b", "next", "c")}, s.Get("b"))

	s.UpsertNode(node("b", "Thing"))
	n, _ = s.Node("b")
	assert.Nil(t, n.Properties, "upsert replaces rather than merges")
}

func TestDeleteRelationIdempotent(t *testing.T) {
	s := chain(t)
	removed, _ := s.DeleteRelation(trip("a", "next", "b"))
	assert.True(t, removed)
	removed, changed := s.DeleteRelation(trip("a", "next", "b"))
	assert.False(t, removed)
	assert.False(t, changed)
	assert.Empty(t, s.Get("a"))
	assert.Equal(t, 1, s.Degree("a"), "only x -> a remains")
}

func TestDeleteNodeRemovesIncident(t *testing.T) {
	s := chain(t)
	removed, _ := s.DeleteNode("b")
	assert.ElementsMatch(t, []apptype.Triplet{trip("a", "next", "b"), trip("b", "next", "c")}, removed)
	assert.False(t, s.HasNode("b"))
	assert.Equal(t, 2, s.Stats().Relations)
}

func TestSelfLoopCountedOnce(t *testing.T) {
	s := NewStore()
	s.UpsertNode(node("n", "Thing"))
	s.UpsertRelation(rel("n", "self", "n"))
	assert.Equal(t, 1, s.Degree("n"))
	assert.Len(t, s.Edges("n"), 1)
	removed, _ := s.DeleteNode("n")
	assert.Len(t, removed, 1)
	assert.Equal(t, 0, s.Stats().Relations)
}

func TestVocabularyChangeReporting(t *testing.T) {
	s := NewStore()
	assert.True(t, s.UpsertNode(node("a", "Person")), "new label")
	assert.False(t, s.UpsertNode(apptype.LabelledNode{ID: "a", Label: "Person", Name: "renamed"}), "value-only change")
	assert.True(t, s.UpsertNode(apptype.LabelledNode{ID: "a", Label: "Person", Properties: map[string]any{"age": int64(3)}}), "new property key")
	assert.False(t, s.UpsertNode(apptype.LabelledNode{ID: "a", Label: "Person", Properties: map[string]any{"age": int64(4)}}))

	assert.True(t, s.UpsertRelation(rel("a", "knows", "b")), "dangling relation still adds its predicate")
	assert.Empty(t, s.Vocabulary().Patterns)
	assert.Equal(t, []string{"knows"}, s.Vocabulary().Predicates)

	assert.True(t, s.UpsertNode(node("b", "Person")), "activating a relation adds a pattern")
	assert.Equal(t, []string{"(:Person)-[:knows]->(:Person)"}, s.Vocabulary().Patterns)

	_, changed := s.DeleteRelation(trip("a", "knows", "b"))
	assert.True(t, changed)
	v := s.Vocabulary()
	assert.Empty(t, v.Predicates)
	assert.Empty(t, v.Patterns)
	assert.Equal(t, []string{"Person"}, v.Labels)
	assert.Equal(t, []string{"age"}, v.PropertyKeys)
}

func TestSubjectsInCreationOrder(t *testing.T) {
	s := chain(t)
	assert.Equal(t, []string{"a", "b", "c", "x"}, s.Subjects())
}

func TestStoreNeighborsHonoursContext(t *testing.T) {
	s := chain(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := StoreNeighbors(s)(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
}
