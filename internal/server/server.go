package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/buildinfo"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kg"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/logging"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/metrics"
)

const serverName = "kg-provider"

// statsInterval is how often index sizes are pushed to metrics.
const statsInterval = 5 * time.Second

// MCPServer exposes a knowledge-graph provider as MCP tools
type MCPServer struct {
	server   *mcp.Server
	provider kg.Provider
	logger   *log.Logger
}

// NewMCPServer creates a new MCP server
func NewMCPServer(provider kg.Provider, logger *log.Logger) *MCPServer {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: buildinfo.Version,
	}, nil)

	mcpServer := &MCPServer{
		server:   server,
		provider: provider,
		logger:   logging.Component(logger, "server"),
	}
	mcpServer.setupToolHandlers()
	return mcpServer
}

func mustSchema[T any](name string) *jsonschema.Schema {
	s, err := jsonschema.For[T]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for %s: %v", name, err))
	}
	return s
}

// setupToolHandlers registers all MCP tools
func (s *MCPServer) setupToolHandlers() {
	readOnly := &mcp.ToolAnnotations{ReadOnlyHint: true}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "upsert_nodes",
		Title:       "Upsert Nodes",
		Description: "Create or replace entity nodes by id, with optional properties and embeddings.",
		InputSchema: mustSchema[apptype.UpsertNodesArgs]("UpsertNodesArgs"),
	}, s.handleUpsertNodes)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "upsert_relations",
		Title:       "Upsert Relations",
		Description: "Create or replace relations by (subject, predicate, object). Endpoints may arrive later.",
		InputSchema: mustSchema[apptype.UpsertRelationsArgs]("UpsertRelationsArgs"),
	}, s.handleUpsertRelations)

	mcp.AddTool(s.server, &mcp.Tool{
		Annotations:  readOnly,
		Name:         "get_triplets",
		Title:        "Get Triplets",
		Description:  "List the [subject, predicate, object] triplets whose subject is the given id.",
		InputSchema:  mustSchema[apptype.GetTripletsArgs]("GetTripletsArgs"),
		OutputSchema: mustSchema[apptype.TripletsResult]("TripletsResult"),
	}, s.handleGetTriplets)

	mcp.AddTool(s.server, &mcp.Tool{
		Annotations:  readOnly,
		Name:         "get_rel_map",
		Title:        "Get Relation Map",
		Description:  "Breadth-first expansion from seed ids in both directions, bounded by depth and a total triplet limit.",
		InputSchema:  mustSchema[apptype.GetRelMapArgs]("GetRelMapArgs"),
		OutputSchema: mustSchema[apptype.RelMapResult]("RelMapResult"),
	}, s.handleGetRelMap)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "delete_triplet",
		Title:       "Delete Triplet",
		Description: "Delete one relation. Deleting a missing triplet is a no-op.",
		InputSchema: mustSchema[apptype.DeleteTripletArgs]("DeleteTripletArgs"),
	}, s.handleDeleteTriplet)

	// SchemaSnapshot carries a timestamp, so the schema is returned without
	// an output schema.
	mcp.AddTool(s.server, &mcp.Tool{
		Annotations: readOnly,
		Name:        "get_schema",
		Title:       "Get Schema",
		Description: "Describe node labels, relation types, property keys and relation patterns.",
		InputSchema: mustSchema[apptype.GetSchemaArgs]("GetSchemaArgs"),
	}, s.handleGetSchema)

	mcp.AddTool(s.server, &mcp.Tool{
		Annotations:  readOnly,
		Name:         "structured_query",
		Title:        "Structured Query",
		Description:  "Run a read-only backend query (SQL or Cypher) with named parameters.",
		InputSchema:  mustSchema[apptype.StructuredQueryArgs]("StructuredQueryArgs"),
		OutputSchema: mustSchema[apptype.StructuredQueryResult]("StructuredQueryResult"),
	}, s.handleStructuredQuery)

	mcp.AddTool(s.server, &mcp.Tool{
		Annotations:  readOnly,
		Name:         "vector_query",
		Title:        "Vector Query",
		Description:  "Rank nodes by cosine similarity to an embedding, optionally filtered and with graph context.",
		InputSchema:  mustSchema[apptype.VectorQueryArgs]("VectorQueryArgs"),
		OutputSchema: mustSchema[apptype.VectorQueryResult]("VectorQueryResult"),
	}, s.handleVectorQuery)

	mcp.AddTool(s.server, &mcp.Tool{
		Annotations:  readOnly,
		Name:         "health_check",
		Title:        "Health Check",
		Description:  "Returns server, provider and store information.",
		InputSchema:  mustSchema[apptype.HealthArgs]("HealthArgs"),
		OutputSchema: mustSchema[apptype.HealthResult]("HealthResult"),
	}, s.handleHealth)
}

func textResult(format string, args ...any) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

// handleUpsertNodes handles the upsert_nodes tool call
func (s *MCPServer) handleUpsertNodes(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.UpsertNodesArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("upsert_nodes")
	var success bool
	defer func() { done(success) }()

	nodes := params.Arguments.Nodes
	if err := s.provider.UpsertNodes(ctx, nodes); err != nil {
		return nil, fmt.Errorf("failed to upsert nodes: %w", err)
	}
	success = true
	return textResult("Upserted %d nodes", len(nodes)), nil
}

// handleUpsertRelations handles the upsert_relations tool call
func (s *MCPServer) handleUpsertRelations(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.UpsertRelationsArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("upsert_relations")
	var success bool
	defer func() { done(success) }()

	rels := params.Arguments.Relations
	if err := s.provider.UpsertRelations(ctx, rels); err != nil {
		return nil, fmt.Errorf("failed to upsert relations: %w", err)
	}
	success = true
	return textResult("Upserted %d relations", len(rels)), nil
}

func (s *MCPServer) handleGetTriplets(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.GetTripletsArgs],
) (*mcp.CallToolResultFor[apptype.TripletsResult], error) {
	done := metrics.TimeTool("get_triplets")
	var success bool
	defer func() { done(success) }()

	triplets, err := s.provider.Get(ctx, params.Arguments.Subject)
	if err != nil {
		return nil, fmt.Errorf("get triplets failed: %w", err)
	}
	if triplets == nil {
		triplets = []apptype.Triplet{}
	}
	success = true
	return &mcp.CallToolResultFor[apptype.TripletsResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Found %d triplets", len(triplets))}},
		StructuredContent: apptype.TripletsResult{Triplets: triplets},
	}, nil
}

func (s *MCPServer) handleGetRelMap(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.GetRelMapArgs],
) (*mcp.CallToolResultFor[apptype.RelMapResult], error) {
	done := metrics.TimeTool("get_rel_map")
	var success bool
	defer func() { done(success) }()

	depth, limit := kg.DefaultRelMapDepth, kg.DefaultRelMapLimit
	if params.Arguments.Depth != nil {
		depth = *params.Arguments.Depth
	}
	if params.Arguments.Limit != nil {
		limit = *params.Arguments.Limit
	}
	rm, err := s.provider.GetRelMap(ctx, params.Arguments.Subjects, depth, limit)
	if err != nil {
		return nil, fmt.Errorf("get rel map failed: %w", err)
	}
	total := 0
	for _, ts := range rm {
		total += len(ts)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.RelMapResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Found %d triplets from %d subjects", total, len(rm))}},
		StructuredContent: apptype.RelMapResult{RelMap: rm},
	}, nil
}

func (s *MCPServer) handleDeleteTriplet(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.DeleteTripletArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("delete_triplet")
	var success bool
	defer func() { done(success) }()

	a := params.Arguments
	if err := s.provider.Delete(ctx, a.Subject, a.Predicate, a.Object); err != nil {
		return nil, fmt.Errorf("failed to delete triplet: %w", err)
	}
	success = true
	return textResult("Deleted %s", apptype.Triplet{a.Subject, a.Predicate, a.Object}), nil
}

func (s *MCPServer) handleGetSchema(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.GetSchemaArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("get_schema")
	var success bool
	defer func() { done(success) }()

	snap, err := s.provider.GetSchema(ctx, params.Arguments.Refresh)
	if err != nil {
		return nil, fmt.Errorf("get schema failed: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[any]{
		Content:           []mcp.Content{&mcp.TextContent{Text: snap.Text}},
		StructuredContent: snap,
	}, nil
}

func (s *MCPServer) handleStructuredQuery(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.StructuredQueryArgs],
) (*mcp.CallToolResultFor[apptype.StructuredQueryResult], error) {
	done := metrics.TimeTool("structured_query")
	var success bool
	defer func() { done(success) }()

	bound, err := apptype.ParamMapFromAny(params.Arguments.Params)
	if err != nil {
		return nil, fmt.Errorf("invalid query parameters: %w", err)
	}
	res, err := s.provider.StructuredQuery(ctx, params.Arguments.Query, bound)
	if err != nil {
		return nil, fmt.Errorf("structured query failed: %w", err)
	}
	out := apptype.StructuredQueryResult{Columns: res.Columns, Rows: res.Records()}
	if out.Columns == nil {
		out.Columns = []string{}
	}
	success = true
	return &mcp.CallToolResultFor[apptype.StructuredQueryResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Returned %d rows", len(out.Rows))}},
		StructuredContent: out,
	}, nil
}

func (s *MCPServer) handleVectorQuery(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.VectorQueryArgs],
) (*mcp.CallToolResultFor[apptype.VectorQueryResult], error) {
	done := metrics.TimeTool("vector_query")
	var success bool
	defer func() { done(success) }()

	a := params.Arguments
	topK := a.TopK
	if topK == 0 {
		topK = kg.DefaultTopK
	}
	res, err := s.provider.VectorQuery(ctx, apptype.VectorQuery{
		Embedding:      a.Embedding,
		TopK:           topK,
		Filter:         a.Filter,
		IncludeContext: a.IncludeContext,
		ContextDepth:   a.ContextDepth,
		ContextLimit:   a.ContextLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}
	if res.Matches == nil {
		res.Matches = []apptype.ScoredNode{}
	}
	success = true
	return &mcp.CallToolResultFor[apptype.VectorQueryResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Found %d matches", len(res.Matches))}},
		StructuredContent: *res,
	}, nil
}

func (s *MCPServer) handleHealth(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.HealthArgs],
) (*mcp.CallToolResultFor[apptype.HealthResult], error) {
	done := metrics.TimeTool("health_check")
	var success bool
	defer func() { done(success) }()

	stats, err := s.provider.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.HealthResult]{
		Content: []mcp.Content{&mcp.TextContent{Text: "OK"}},
		StructuredContent: apptype.HealthResult{
			Name:      serverName,
			Version:   buildinfo.Version,
			Revision:  buildinfo.Revision,
			BuildDate: buildinfo.BuildDate,
			Provider:  s.provider.Name(),
			Stats:     stats,
		},
	}, nil
}

// reportStats pushes store sizes to metrics until ctx is done.
func (s *MCPServer) reportStats(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st, err := s.provider.Stats(ctx)
				if err != nil {
					s.logger.Debug("stats unavailable", "err", err)
					continue
				}
				rec := metrics.Default()
				rec.SetIndexSize("nodes", st.Nodes)
				rec.SetIndexSize("relations", st.Relations)
				rec.SetIndexSize("embeddings", st.Embeddings)
			}
		}
	}()
}

// Run starts the MCP server with stdio transport
func (s *MCPServer) Run(ctx context.Context) error {
	s.reportStats(ctx)
	transport := mcp.NewStdioTransport()
	return s.server.Run(ctx, transport)
}

// RunSSE starts the MCP server over SSE at the given address and endpoint
func (s *MCPServer) RunSSE(ctx context.Context, addr string, endpoint string) error {
	s.reportStats(ctx)
	handler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server { return s.server })
	mux := http.NewServeMux()
	mux.Handle(endpoint, handler)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("SSE MCP server listening", "addr", addr, "endpoint", endpoint)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
