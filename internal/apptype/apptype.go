package apptype

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityNode represents a node in the knowledge graph
type EntityNode struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
	Embedding  []float32      `json:"embedding,omitempty"`
}

// Labelled returns the read-only projection of the node.
func (n EntityNode) Labelled() LabelledNode {
	return LabelledNode{
		ID:         n.ID,
		Label:      n.Label,
		Name:       n.Name,
		Properties: cloneProps(n.Properties),
	}
}

// Relation represents a directed relationship between two entities
type Relation struct {
	SubjectID  string         `json:"subjectId"`
	Predicate  string         `json:"predicate"`
	ObjectID   string         `json:"objectId"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Triplet returns the identity of the relation.
func (r Relation) Triplet() Triplet {
	return Triplet{r.SubjectID, r.Predicate, r.ObjectID}
}

// Triplet is [subject, predicate, object]; it is the unit of deletion.
type Triplet [3]string

func (t Triplet) Subject() string   { return t[0] }
func (t Triplet) Predicate() string { return t[1] }
func (t Triplet) Object() string    { return t[2] }

func (t Triplet) String() string {
	return fmt.Sprintf("(%s)-[%s]->(%s)", t[0], t[1], t[2])
}

// LabelledNode is the projection of an EntityNode returned by queries.
type LabelledNode struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
}

// ScoredNode pairs a node with its similarity score
type ScoredNode struct {
	Node  LabelledNode `json:"node"`
	Score float64      `json:"score"`
}

// NodeFilter restricts the population a vector query ranks over.
// Empty fields do not constrain.
type NodeFilter struct {
	Labels     []string       `json:"labels,omitempty"`
	IDs        []string       `json:"ids,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Empty reports whether the filter accepts every node.
func (f *NodeFilter) Empty() bool {
	return f == nil || (len(f.Labels) == 0 && len(f.IDs) == 0 && len(f.Properties) == 0)
}

// Match reports whether n passes the filter.
func (f *NodeFilter) Match(n LabelledNode) bool {
	if f.Empty() {
		return true
	}
	if len(f.Labels) > 0 && !contains(f.Labels, n.Label) {
		return false
	}
	if len(f.IDs) > 0 && !contains(f.IDs, n.ID) {
		return false
	}
	for k, want := range f.Properties {
		got, ok := n.Properties[k]
		if !ok || !ScalarEqual(got, want) {
			return false
		}
	}
	return true
}

// VectorQuery is a nearest-neighbour request against node embeddings.
type VectorQuery struct {
	Embedding []float32   `json:"embedding"`
	TopK      int         `json:"topK"`
	Filter    *NodeFilter `json:"filter,omitempty"`
	// IncludeContext attaches the rel-map of the matched nodes.
	IncludeContext bool `json:"includeContext,omitempty"`
	ContextDepth   int  `json:"contextDepth,omitempty"`
	ContextLimit   int  `json:"contextLimit,omitempty"`
}

// VectorQueryResult holds ranked matches and optional graph context
type VectorQueryResult struct {
	Matches []ScoredNode         `json:"matches"`
	Context map[string][]Triplet `json:"context,omitempty"`
}

// SchemaSnapshot is a structural summary of the graph.
type SchemaSnapshot struct {
	Labels       []string  `json:"labels"`
	Predicates   []string  `json:"predicates"`
	PropertyKeys []string  `json:"propertyKeys"`
	Patterns     []string  `json:"patterns"`
	Text         string    `json:"text"`
	ComputedAt   time.Time `json:"computedAt"`
}

func (s SchemaSnapshot) String() string { return s.Text }

// Stats summarises store sizes.
type Stats struct {
	Nodes      int `json:"nodes"`
	Relations  int `json:"relations"`
	Dangling   int `json:"dangling"`
	Embeddings int `json:"embeddings"`
	Dims       int `json:"dims"`

	Capabilities map[string]bool `json:"capabilities,omitempty"`
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func cloneProps(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// NormalizeProperties checks every value is a scalar and returns a copy with
// integers widened to int64 and floats to float64.
func NormalizeProperties(in map[string]any) (map[string]any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if k == "" {
			return nil, fmt.Errorf("property key cannot be empty")
		}
		nv, err := normalizeScalar(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

func normalizeScalar(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool, int64, float64:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", x.String())
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported property value type %T", v)
	}
}

// ScalarEqual compares two property scalars, treating numeric kinds as equal
// when their values match.
func ScalarEqual(a, b any) bool {
	na, errA := normalizeScalar(a)
	nb, errB := normalizeScalar(b)
	if errA != nil || errB != nil {
		return false
	}
	switch x := na.(type) {
	case int64:
		switch y := nb.(type) {
		case int64:
			return x == y
		case float64:
			return float64(x) == y
		}
		return false
	case float64:
		switch y := nb.(type) {
		case int64:
			return x == float64(y)
		case float64:
			return x == y
		}
		return false
	}
	return na == nb
}
