package server

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"sort"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/config"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kg/memory"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kgerr"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/logging"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_]`)

// pickFreePort tries to get a free TCP port on 127.0.0.1
func pickFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func setupServer(t *testing.T) (*MCPServer, func()) {
	cfg := config.Default()
	cfg.Store.URL = fmt.Sprintf("file:%s?mode=memory&cache=shared", unsafeName.ReplaceAllString(t.Name(), "_"))
	cfg.EmbeddingDims = 2
	engine, err := memory.Open(context.Background(), cfg, memory.WithLogger(logging.Discard()))
	require.NoError(t, err)
	return NewMCPServer(engine, logging.Discard()), func() { _ = engine.Close() }
}

func TestSSEServer_ListTools(t *testing.T) {
	srv, cleanup := setupServer(t)
	defer cleanup()

	port, err := pickFreePort()
	require.NoError(t, err)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	endpoint := "/sse"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = srv.RunSSE(ctx, addr, endpoint) }()

	// wait briefly for server to bind
	time.Sleep(150 * time.Millisecond)

	client := mcp.NewClient(&mcp.Implementation{Name: "e2e-client", Version: "test"}, nil)
	transport := mcp.NewSSEClientTransport("http://"+addr+endpoint, nil)

	// retry connect a few times to avoid flakes
	var session *mcp.ClientSession
	for i := 0; i < 5; i++ {
		session, err = client.Connect(ctx, transport)
		if err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	require.NoError(t, err)

	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"delete_triplet",
		"get_rel_map",
		"get_schema",
		"get_triplets",
		"health_check",
		"structured_query",
		"upsert_nodes",
		"upsert_relations",
		"vector_query",
	}, names)
}

func TestToolHandlers(t *testing.T) {
	srv, cleanup := setupServer(t)
	defer cleanup()
	ctx := context.Background()

	_, err := srv.handleUpsertNodes(ctx, nil, &mcp.CallToolParamsFor[apptype.UpsertNodesArgs]{
		Arguments: apptype.UpsertNodesArgs{Nodes: []apptype.EntityNode{
			{ID: "alice", Label: "Person", Name: "Alice", Embedding: []float32{1, 0}},
			{ID: "acme", Label: "Company", Embedding: []float32{0, 1}},
		}},
	})
	require.NoError(t, err)

	_, err = srv.handleUpsertRelations(ctx, nil, &mcp.CallToolParamsFor[apptype.UpsertRelationsArgs]{
		Arguments: apptype.UpsertRelationsArgs{Relations: []apptype.Relation{
			{SubjectID: "alice", Predicate: "works_at", ObjectID: "acme"},
		}},
	})
	require.NoError(t, err)

	triplets, err := srv.handleGetTriplets(ctx, nil, &mcp.CallToolParamsFor[apptype.GetTripletsArgs]{
		Arguments: apptype.GetTripletsArgs{Subject: "alice"},
	})
	require.NoError(t, err)
	assert.Equal(t, []apptype.Triplet{{"alice", "works_at", "acme"}}, triplets.StructuredContent.Triplets)

	empty, err := srv.handleGetTriplets(ctx, nil, &mcp.CallToolParamsFor[apptype.GetTripletsArgs]{
		Arguments: apptype.GetTripletsArgs{Subject: "nobody"},
	})
	require.NoError(t, err)
	assert.NotNil(t, empty.StructuredContent.Triplets)
	assert.Empty(t, empty.StructuredContent.Triplets)

	rm, err := srv.handleGetRelMap(ctx, nil, &mcp.CallToolParamsFor[apptype.GetRelMapArgs]{
		Arguments: apptype.GetRelMapArgs{Subjects: []string{"acme"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []apptype.Triplet{{"alice", "works_at", "acme"}}, rm.StructuredContent.RelMap["acme"])

	schema, err := srv.handleGetSchema(ctx, nil, &mcp.CallToolParamsFor[apptype.GetSchemaArgs]{})
	require.NoError(t, err)
	snap, ok := schema.StructuredContent.(apptype.SchemaSnapshot)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"Company", "Person"}, snap.Labels)
	assert.Equal(t, snap.Text, schema.Content[0].(*mcp.TextContent).Text)

	vq, err := srv.handleVectorQuery(ctx, nil, &mcp.CallToolParamsFor[apptype.VectorQueryArgs]{
		Arguments: apptype.VectorQueryArgs{Embedding: []float32{1, 0.1}},
	})
	require.NoError(t, err)
	require.Len(t, vq.StructuredContent.Matches, 2)
	assert.Equal(t, "alice", vq.StructuredContent.Matches[0].Node.ID)

	_, err = srv.handleDeleteTriplet(ctx, nil, &mcp.CallToolParamsFor[apptype.DeleteTripletArgs]{
		Arguments: apptype.DeleteTripletArgs{Subject: "alice", Predicate: "works_at", Object: "acme"},
	})
	require.NoError(t, err)

	after, err := srv.handleGetTriplets(ctx, nil, &mcp.CallToolParamsFor[apptype.GetTripletsArgs]{
		Arguments: apptype.GetTripletsArgs{Subject: "alice"},
	})
	require.NoError(t, err)
	assert.Empty(t, after.StructuredContent.Triplets)

	health, err := srv.handleHealth(ctx, nil, &mcp.CallToolParamsFor[apptype.HealthArgs]{})
	require.NoError(t, err)
	assert.Equal(t, "none", health.StructuredContent.Provider)
	assert.Equal(t, serverName, health.StructuredContent.Name)
}

func TestStructuredQueryTool(t *testing.T) {
	srv, cleanup := setupServer(t)
	defer cleanup()
	ctx := context.Background()

	res, err := srv.handleStructuredQuery(ctx, nil, &mcp.CallToolParamsFor[apptype.StructuredQueryArgs]{
		Arguments: apptype.StructuredQueryArgs{
			Query:  "SELECT :n AS n, :s AS s",
			Params: map[string]any{"n": float64(3), "s": "x"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"n", "s"}, res.StructuredContent.Columns)
	require.Len(t, res.StructuredContent.Rows, 1)
	assert.EqualValues(t, 3, res.StructuredContent.Rows[0]["n"])
	assert.Equal(t, "x", res.StructuredContent.Rows[0]["s"])
}

func TestHandlerErrorsKeepCodes(t *testing.T) {
	srv, cleanup := setupServer(t)
	defer cleanup()
	ctx := context.Background()

	_, err := srv.handleUpsertNodes(ctx, nil, &mcp.CallToolParamsFor[apptype.UpsertNodesArgs]{
		Arguments: apptype.UpsertNodesArgs{Nodes: []apptype.EntityNode{{ID: "x", Embedding: []float32{1, 2, 3}}}},
	})
	require.Error(t, err)
	assert.True(t, kgerr.IsDimensionError(err))

	_, err = srv.handleStructuredQuery(ctx, nil, &mcp.CallToolParamsFor[apptype.StructuredQueryArgs]{
		Arguments: apptype.StructuredQueryArgs{Query: "SELEC nonsense"},
	})
	require.Error(t, err)
	assert.True(t, kgerr.IsQueryError(err))
}
