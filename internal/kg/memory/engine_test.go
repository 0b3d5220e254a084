package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/config"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/database"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kg"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kgerr"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_]`)

func testConfig(t *testing.T) config.ProviderConfig {
	cfg := config.Default()
	cfg.Store.URL = fmt.Sprintf("file:%s?mode=memory&cache=shared", unsafeName.ReplaceAllString(t.Name(), "_"))
	return cfg
}

func setupEngine(t *testing.T, mutate func(*config.ProviderConfig), opts ...Option) (*Engine, func()) {
	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := Open(context.Background(), cfg, opts...)
	require.NoError(t, err)
	return e, func() { assert.NoError(t, e.Close()) }
}

func trip(s, p, o string) apptype.Triplet { return apptype.Triplet{s, p, o} }

func TestEndToEndTriplet(t *testing.T) {
	e, cleanup := setupEngine(t, nil)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, e.UpsertNodes(ctx, []apptype.EntityNode{
		{ID: "A", Label: "Person"},
		{ID: "B", Label: "Company"},
	}))
	require.NoError(t, e.UpsertRelations(ctx, []apptype.Relation{{SubjectID: "A", Predicate: "works_at", ObjectID: "B"}}))

	got, err := e.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, []apptype.Triplet{trip("A", "works_at", "B")}, got)

	rm, err := e.GetRelMap(ctx, []string{"A"}, 1, 30)
	require.NoError(t, err)
	assert.Equal(t, map[string][]apptype.Triplet{"A": {trip("A", "works_at", "B")}}, rm)

	require.NoError(t, e.Delete(ctx, "A", "works_at", "B"))
	got, err = e.Get(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUpsertReplacesProperties(t *testing.T) {
	e, cleanup := setupEngine(t, nil)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, e.UpsertNodes(ctx, []apptype.EntityNode{
		{ID: "n", Label: "Doc", Properties: map[string]any{"a": 1, "b": "x"}, Embedding: []float32{1, 0}},
	}))
	require.NoError(t, e.UpsertNodes(ctx, []apptype.EntityNode{
		{ID: "n", Label: "Doc", Properties: map[string]any{"a": 2}, Embedding: []float32{0, 1}},
	}))

	res, err := e.VectorQuery(ctx, apptype.VectorQuery{Embedding: []float32{0, 1}, TopK: 1})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, map[string]any{"a": int64(2)}, res.Matches[0].Node.Properties)
	assert.InDelta(t, 1.0, res.Matches[0].Score, 1e-6)
}

func TestReplacingNodeKeepsRelations(t *testing.T) {
	e, cleanup := setupEngine(t, nil)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, e.UpsertNodes(ctx, []apptype.EntityNode{{ID: "a", Label: "X"}, {ID: "b", Label: "X"}}))
	require.NoError(t, e.UpsertRelations(ctx, []apptype.Relation{{SubjectID: "a", Predicate: "r", ObjectID: "b"}}))
	require.NoError(t, e.UpsertNodes(ctx, []apptype.EntityNode{{ID: "a", Label: "Y"}}))

	got, err := e.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []apptype.Triplet{trip("a", "r", "b")}, got)
}

func TestDeleteIsIdempotent(t *testing.T) {
	e, cleanup := setupEngine(t, func(c *config.ProviderConfig) { c.PruneOrphans = false })
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, e.UpsertNodes(ctx, []apptype.EntityNode{{ID: "a"}, {ID: "b"}}))
	require.NoError(t, e.UpsertRelations(ctx, []apptype.Relation{{SubjectID: "a", Predicate: "r", ObjectID: "b"}}))

	require.NoError(t, e.Delete(ctx, "a", "r", "b"))
	require.NoError(t, e.Delete(ctx, "a", "r", "b"))
	require.NoError(t, e.Delete(ctx, "nobody", "r", "nothing"))

	st, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Nodes, "pruning disabled keeps endpoints")
	assert.Equal(t, 0, st.Relations)
}

func TestDeletePrunesOrphansWithEmbeddings(t *testing.T) {
	e, cleanup := setupEngine(t, nil)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, e.UpsertNodes(ctx, []apptype.EntityNode{
		{ID: "a", Embedding: []float32{1, 0}},
		{ID: "b", Embedding: []float32{0, 1}},
		{ID: "c", Embedding: []float32{1, 1}},
	}))
	require.NoError(t, e.UpsertRelations(ctx, []apptype.Relation{
		{SubjectID: "a", Predicate: "r", ObjectID: "b"},
		{SubjectID: "b", Predicate: "r", ObjectID: "c"},
	}))

	require.NoError(t, e.Delete(ctx, "a", "r", "b"))

	st, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Nodes, "a is pruned, b still has an edge")
	assert.Equal(t, 2, st.Embeddings)

	res, err := e.VectorQuery(ctx, apptype.VectorQuery{Embedding: []float32{1, 0}, TopK: 10})
	require.NoError(t, err)
	for _, m := range res.Matches {
		assert.NotEqual(t, "a", m.Node.ID)
	}
}

func TestDanglingRelationActivates(t *testing.T) {
	e, cleanup := setupEngine(t, nil)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, e.UpsertRelations(ctx, []apptype.Relation{{SubjectID: "x", Predicate: "knows", ObjectID: "y"}}))
	got, err := e.Get(ctx, "x")
	require.NoError(t, err)
	assert.Empty(t, got)
	st, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Dangling)

	require.NoError(t, e.UpsertNodes(ctx, []apptype.EntityNode{{ID: "y"}, {ID: "x"}}))
	got, err = e.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []apptype.Triplet{trip("x", "knows", "y")}, got)

	rm, err := e.GetRelMap(ctx, []string{"y"}, 0, 30)
	require.NoError(t, err)
	assert.Equal(t, []apptype.Triplet{trip("x", "knows", "y")}, rm["y"])
}

func TestRelMapRespectsLimitAndDefaultsSeeds(t *testing.T) {
	e, cleanup := setupEngine(t, nil)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, e.UpsertNodes(ctx, []apptype.EntityNode{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}))
	require.NoError(t, e.UpsertRelations(ctx, []apptype.Relation{
		{SubjectID: "a", Predicate: "r", ObjectID: "b"},
		{SubjectID: "b", Predicate: "r", ObjectID: "c"},
		{SubjectID: "c", Predicate: "r", ObjectID: "d"},
	}))

	for _, limit := range []int{0, 1, 2, 5} {
		rm, err := e.GetRelMap(ctx, nil, 2, limit)
		require.NoError(t, err)
		total := 0
		for _, ts := range rm {
			total += len(ts)
		}
		assert.LessOrEqual(t, total, limit)
	}

	rm, err := e.GetRelMap(ctx, nil, 0, 30)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, keys(rm))
}

func keys(m map[string][]apptype.Triplet) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestChunkFailureKeepsEarlierChunks(t *testing.T) {
	e, cleanup := setupEngine(t, nil)
	defer cleanup()
	ctx := context.Background()

	err := e.UpsertNodes(ctx, []apptype.EntityNode{
		{ID: "ok", Embedding: []float32{1, 0}},
		{ID: "bad", Embedding: []float32{1, 0, 0}},
	})
	require.Error(t, err)
	assert.True(t, kgerr.IsDimensionError(err))

	st, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Nodes)
	assert.Equal(t, 2, st.Dims)
}

func TestBatchMustAgreeOnDimension(t *testing.T) {
	e, cleanup := setupEngine(t, func(c *config.ProviderConfig) { c.BatchSize = 10 })
	defer cleanup()
	ctx := context.Background()

	err := e.UpsertNodes(ctx, []apptype.EntityNode{
		{ID: "a", Embedding: []float32{1, 0}},
		{ID: "b", Embedding: []float32{1, 0, 0}},
	})
	assert.True(t, kgerr.IsDimensionError(err))

	st, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Nodes, "a rejected chunk writes nothing")
}

func TestVectorQueryOrderingAndFilter(t *testing.T) {
	e, cleanup := setupEngine(t, func(c *config.ProviderConfig) { c.EmbeddingDims = 2 })
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, e.UpsertNodes(ctx, []apptype.EntityNode{
		{ID: "c", Label: "Doc", Embedding: []float32{1, 0}},
		{ID: "a", Label: "Doc", Embedding: []float32{1, 0}},
		{ID: "b", Label: "Person", Embedding: []float32{0.6, 0.8}},
		{ID: "z", Label: "Doc", Embedding: []float32{-1, 0}},
	}))

	res, err := e.VectorQuery(ctx, apptype.VectorQuery{Embedding: []float32{1, 0}, TopK: 10})
	require.NoError(t, err)
	ids := make([]string, len(res.Matches))
	for i, m := range res.Matches {
		ids[i] = m.Node.ID
	}
	assert.Equal(t, []string{"a", "c", "b", "z"}, ids)
	for i := 1; i < len(res.Matches); i++ {
		assert.GreaterOrEqual(t, res.Matches[i-1].Score, res.Matches[i].Score)
	}

	res, err = e.VectorQuery(ctx, apptype.VectorQuery{
		Embedding: []float32{1, 0},
		TopK:      1,
		Filter:    &apptype.NodeFilter{Labels: []string{"Person"}},
	})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "b", res.Matches[0].Node.ID)

	_, err = e.VectorQuery(ctx, apptype.VectorQuery{Embedding: []float32{1, 0, 0}, TopK: 1})
	assert.True(t, kgerr.IsDimensionError(err))

	res, err = e.VectorQuery(ctx, apptype.VectorQuery{Embedding: []float32{1, 0}, TopK: 0})
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
}

func TestVectorQueryWithContext(t *testing.T) {
	e, cleanup := setupEngine(t, nil)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, e.UpsertNodes(ctx, []apptype.EntityNode{
		{ID: "a", Embedding: []float32{1, 0}},
		{ID: "b"},
	}))
	require.NoError(t, e.UpsertRelations(ctx, []apptype.Relation{{SubjectID: "a", Predicate: "r", ObjectID: "b"}}))

	res, err := e.VectorQuery(ctx, apptype.VectorQuery{Embedding: []float32{1, 0}, TopK: 1, IncludeContext: true})
	require.NoError(t, err)
	assert.Equal(t, map[string][]apptype.Triplet{"a": {trip("a", "r", "b")}}, res.Context)
}

func TestSchemaCacheAndInvalidation(t *testing.T) {
	e, cleanup := setupEngine(t, nil)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, e.UpsertNodes(ctx, []apptype.EntityNode{
		{ID: "a", Label: "Person", Properties: map[string]any{"age": 1}},
		{ID: "b", Label: "Company"},
	}))
	require.NoError(t, e.UpsertRelations(ctx, []apptype.Relation{{SubjectID: "a", Predicate: "works_at", ObjectID: "b"}}))

	first, err := e.GetSchema(ctx, false)
	require.NoError(t, err)
	second, err := e.GetSchema(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"Company", "Person"}, first.Labels)
	assert.Contains(t, first.Text, "(:Person)-[:works_at]->(:Company)")

	// A value-only change keeps the snapshot.
	require.NoError(t, e.UpsertNodes(ctx, []apptype.EntityNode{{ID: "a", Label: "Person", Properties: map[string]any{"age": 2}}}))
	third, err := e.GetSchema(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, first.ComputedAt, third.ComputedAt)

	require.NoError(t, e.UpsertRelations(ctx, []apptype.Relation{{SubjectID: "b", Predicate: "employs", ObjectID: "a"}}))
	fresh, err := e.GetSchema(ctx, true)
	require.NoError(t, err)
	assert.Contains(t, fresh.Predicates, "employs")
}

func TestStructuredQuery(t *testing.T) {
	e, cleanup := setupEngine(t, nil)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, e.UpsertNodes(ctx, []apptype.EntityNode{{ID: "a", Label: "Person", Name: "Alice"}}))

	res, err := e.StructuredQuery(ctx, "SELECT name FROM entities WHERE id = :id", apptype.ParamMap{"id": apptype.StringParam("a")})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []map[string]any{{"name": "Alice"}}, res.Records())

	_, err = e.StructuredQuery(ctx, "SELEC nonsense", nil)
	assert.True(t, kgerr.IsQueryError(err))
}

func TestStructuredQueryRejectsWrites(t *testing.T) {
	e, cleanup := setupEngine(t, nil)
	defer cleanup()
	ctx := context.Background()

	_, err := e.StructuredQuery(ctx, "INSERT INTO entities (id, label, name, seq) VALUES ('Z', 'L', 'Z', 99)", nil)
	require.Error(t, err)
	assert.True(t, kgerr.IsQueryError(err))
	assert.ErrorIs(t, err, database.ErrNotReadOnly)

	res, err := e.StructuredQuery(ctx, "SELECT count(*) AS n FROM entities", nil)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"n": int64(0)}}, res.Records())
}

func TestDeadlineReturnsTimeout(t *testing.T) {
	e, cleanup := setupEngine(t, nil)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := e.StructuredQuery(ctx, "SELECT 1", nil)
	assert.True(t, kgerr.IsTimeout(err))
	_, err = e.VectorQuery(ctx, apptype.VectorQuery{Embedding: []float32{1}, TopK: 1})
	assert.True(t, kgerr.IsTimeout(err))
}

func TestDeleteNodesRemovesEverything(t *testing.T) {
	e, cleanup := setupEngine(t, nil)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, e.UpsertNodes(ctx, []apptype.EntityNode{
		{ID: "a", Embedding: []float32{1, 0}},
		{ID: "b", Embedding: []float32{0, 1}},
	}))
	require.NoError(t, e.UpsertRelations(ctx, []apptype.Relation{{SubjectID: "a", Predicate: "r", ObjectID: "b"}}))

	require.NoError(t, e.DeleteNodes(ctx, []string{"a", "a", "ghost"}))

	st, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Nodes)
	assert.Equal(t, 0, st.Relations)
	assert.Equal(t, 1, st.Embeddings)
}

func TestReloadFromFile(t *testing.T) {
	cfg := config.Default()
	cfg.Store.URL = "file:" + filepath.Join(t.TempDir(), "kg.db")
	ctx := context.Background()

	e, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, e.UpsertNodes(ctx, []apptype.EntityNode{
		{ID: "a", Label: "Person", Embedding: []float32{1, 0}},
		{ID: "b", Label: "Company", Embedding: []float32{0, 1}},
	}))
	require.NoError(t, e.UpsertRelations(ctx, []apptype.Relation{{SubjectID: "a", Predicate: "works_at", ObjectID: "b"}}))
	require.NoError(t, e.Close())

	e, err = Open(ctx, cfg)
	require.NoError(t, err)
	defer e.Close()

	got, err := e.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []apptype.Triplet{trip("a", "works_at", "b")}, got)

	st, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Embeddings)
	assert.Equal(t, 2, st.Dims)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 0
	_, err := Open(context.Background(), cfg)
	assert.True(t, kgerr.IsConfigError(err))
}

func TestClosedEngineIsUnavailable(t *testing.T) {
	e, err := Open(context.Background(), testConfig(t))
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err = e.Get(context.Background(), "a")
	assert.True(t, kgerr.IsUnavailable(err))
	err = e.UpsertNodes(context.Background(), []apptype.EntityNode{{ID: "a"}})
	assert.True(t, kgerr.IsUnavailable(err))
}

func TestInvalidInputRejected(t *testing.T) {
	e, cleanup := setupEngine(t, nil)
	defer cleanup()
	ctx := context.Background()

	assert.True(t, kgerr.IsInvalidInput(e.UpsertNodes(ctx, []apptype.EntityNode{{Label: "NoID"}})))
	assert.True(t, kgerr.IsInvalidInput(e.UpsertRelations(ctx, []apptype.Relation{{SubjectID: "a"}})))
}

type recordingExtractor struct {
	mu      sync.Mutex
	updates []kg.PromptUpdate
}

func (r *recordingExtractor) UpdatePrompt(_ context.Context, u kg.PromptUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func TestUpdateExtractionPrompt(t *testing.T) {
	x := &recordingExtractor{}
	e, cleanup := setupEngine(t, nil, WithExtractor(x))
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, e.UpsertNodes(ctx, []apptype.EntityNode{{ID: "a", Label: "Person"}, {ID: "b", Label: "Company"}}))
	require.NoError(t, e.UpsertRelations(ctx, []apptype.Relation{{SubjectID: "a", Predicate: "works_at", ObjectID: "b"}}))

	prompts := kg.StaticPrompts{config.DefaultExtractionPrompt: "extract"}
	require.NoError(t, e.UpdateExtractionPrompt(ctx, prompts, []string{"Place"}, []string{"lives_in"}))

	require.Len(t, x.updates, 1)
	u := x.updates[0]
	assert.Equal(t, config.DefaultExtractionPrompt, u.PromptID)
	assert.Equal(t, []string{"Company", "Person", "Place"}, u.EntityTypes)
	assert.Equal(t, []string{"lives_in", "works_at"}, u.Relations)

	st, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Nodes, "prompt update leaves the graph alone")
}

func TestUpdateExtractionPromptWithoutExtractor(t *testing.T) {
	e, cleanup := setupEngine(t, nil)
	defer cleanup()
	assert.NoError(t, e.UpdateExtractionPrompt(context.Background(), nil, []string{"X"}, nil))
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	e, cleanup := setupEngine(t, func(c *config.ProviderConfig) { c.EmbeddingDims = 2 })
	defer cleanup()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				id := fmt.Sprintf("n%d_%d", w, i)
				if err := e.UpsertNodes(ctx, []apptype.EntityNode{{ID: id, Label: "N", Embedding: []float32{float32(w), float32(i)}}}); err != nil {
					errs <- err
					return
				}
				if err := e.UpsertRelations(ctx, []apptype.Relation{{SubjectID: id, Predicate: "in", ObjectID: "hub"}}); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if _, err := e.GetRelMap(ctx, nil, 1, 30); err != nil {
					errs <- err
					return
				}
				res, err := e.VectorQuery(ctx, apptype.VectorQuery{Embedding: []float32{1, 1}, TopK: 3})
				if err != nil {
					errs <- err
					return
				}
				for _, m := range res.Matches {
					if m.Node.ID == "" {
						errs <- fmt.Errorf("match without node")
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	st, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, st.Nodes)
	assert.Equal(t, 40, st.Embeddings)
	assert.Equal(t, 40, st.Dangling, "hub was never created")
}
