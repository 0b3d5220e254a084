package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
)

type StepResult struct {
	Name      string `json:"name"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

type Report struct {
	SSEURL     string       `json:"sse_url"`
	StartedAt  time.Time    `json:"started_at"`
	DurationMs int64        `json:"duration_ms"`
	Steps      []StepResult `json:"steps"`
	Passed     bool         `json:"passed"`
}

func main() {
	sseURL := flag.String("sse-url", "http://localhost:8080/sse", "SSE endpoint URL")
	prefix := flag.String("prefix", "it", "Prefix for the ids this run writes")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := mcp.NewClient(&mcp.Implementation{Name: "integration-tester", Version: "dev"}, nil)
	transport := mcp.NewSSEClientTransport(*sseURL, nil)

	start := time.Now()
	report := Report{SSEURL: *sseURL, StartedAt: start}

	tConn := time.Now()
	session, err := client.Connect(ctx, transport)
	connRes := StepResult{Name: "connect", ElapsedMs: elapsedMsSince(tConn)}
	if err != nil {
		connRes.Error = err.Error()
		report.Steps = []StepResult{connRes}
		report.DurationMs = elapsedMsSince(start)
		writeReport(report)
		os.Exit(1)
	}
	defer session.Close()
	connRes.Success = true

	id := func(s string) string { return *prefix + "-" + s }
	a, b, c, d := id("a"), id("b"), id("c"), id("d")

	steps := []StepResult{connRes, runListTools(ctx, session)}
	steps = append(steps,
		callStep(ctx, session, "upsert_nodes", apptype.UpsertNodesArgs{Nodes: []apptype.EntityNode{
			{ID: a, Label: "Person", Name: "A", Embedding: []float32{1, 0, 0}},
			{ID: b, Label: "Person", Name: "B", Embedding: []float32{0, 1, 0}},
			{ID: c, Label: "Company", Name: "C", Embedding: []float32{0, 0, 1}},
		}}),
		// d arrives after its relation and stays dangling until then.
		callStep(ctx, session, "upsert_relations", apptype.UpsertRelationsArgs{Relations: []apptype.Relation{
			{SubjectID: a, Predicate: "knows", ObjectID: b},
			{SubjectID: b, Predicate: "works_at", ObjectID: c},
			{SubjectID: a, Predicate: "likes", ObjectID: d},
		}}),
		callStep(ctx, session, "upsert_nodes", apptype.UpsertNodesArgs{Nodes: []apptype.EntityNode{
			{ID: d, Label: "Thing", Embedding: []float32{1, 1, 0}},
		}}),
		callStep(ctx, session, "get_triplets", apptype.GetTripletsArgs{Subject: a}),
		callStep(ctx, session, "get_rel_map", map[string]any{"subjects": []string{a}, "depth": 2, "limit": 10}),
		callStep(ctx, session, "get_schema", apptype.GetSchemaArgs{Refresh: true}),
		callStep(ctx, session, "vector_query", apptype.VectorQueryArgs{
			Embedding:      []float32{1, 0.1, 0},
			TopK:           2,
			IncludeContext: true,
		}),
		callStep(ctx, session, "delete_triplet", apptype.DeleteTripletArgs{Subject: b, Predicate: "works_at", Object: c}),
		callStep(ctx, session, "delete_triplet", apptype.DeleteTripletArgs{Subject: b, Predicate: "works_at", Object: c}),
		callStep(ctx, session, "health_check", apptype.HealthArgs{}),
	)

	report.Steps = steps
	report.DurationMs = elapsedMsSince(start)
	report.Passed = true
	for _, s := range steps {
		if !s.Success {
			report.Passed = false
			break
		}
	}
	writeReport(report)

	if !report.Passed {
		os.Exit(1)
	}
}

func writeReport(report Report) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
}

func runListTools(ctx context.Context, session *mcp.ClientSession) StepResult {
	t0 := time.Now()
	res := StepResult{Name: "list_tools"}
	if _, err := session.ListTools(ctx, &mcp.ListToolsParams{}); err != nil {
		res.Error = err.Error()
	} else {
		res.Success = true
	}
	res.ElapsedMs = elapsedMsSince(t0)
	return res
}

// callStep invokes one tool and records whether it succeeded.
func callStep(ctx context.Context, session *mcp.ClientSession, tool string, args any) StepResult {
	t0 := time.Now()
	res := StepResult{Name: tool}
	if err := callTool(ctx, session, tool, args); err != nil {
		res.Error = err.Error()
	} else {
		res.Success = true
	}
	res.ElapsedMs = elapsedMsSince(t0)
	return res
}

func callTool(ctx context.Context, session *mcp.ClientSession, tool string, args any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal %s args: %w", tool, err)
	}
	out, err := session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: json.RawMessage(raw)})
	if err != nil {
		return err
	}
	if out.IsError {
		for _, c := range out.Content {
			if text, ok := c.(*mcp.TextContent); ok {
				return errors.New(text.Text)
			}
		}
		return fmt.Errorf("%s returned an error result", tool)
	}
	return nil
}

// elapsedMsSince returns max(1ms, elapsed) to avoid zero durations on fast steps
func elapsedMsSince(t0 time.Time) int64 {
	d := time.Since(t0) / time.Millisecond
	if d <= 0 {
		return 1
	}
	return int64(d)
}
