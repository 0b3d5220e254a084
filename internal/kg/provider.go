// Package kg defines the knowledge-graph provider contract shared by every
// backend, and the collaborators a provider talks to.
package kg

import (
	"context"
	"sort"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
)

// Defaults applied by callers that do not choose their own traversal bounds.
const (
	DefaultRelMapDepth = 2
	DefaultRelMapLimit = 30
	DefaultTopK        = 5
)

// Provider stores a labelled property graph with node embeddings and
// answers structural and semantic queries over it.
type Provider interface {
	// Name returns the configured provider identifier.
	Name() string

	UpsertNodes(ctx context.Context, nodes []apptype.EntityNode) error
	UpsertRelations(ctx context.Context, relations []apptype.Relation) error

	// Get returns the active triplets whose subject is subj, oldest first.
	// Unknown subjects yield an empty slice.
	Get(ctx context.Context, subj string) ([]apptype.Triplet, error)
	// GetRelMap expands each subject breadth-first in both directions.
	// An empty subjs expands every known subject.
	GetRelMap(ctx context.Context, subjs []string, depth, limit int) (map[string][]apptype.Triplet, error)

	// Delete removes one triplet. Deleting a missing triplet is not an error.
	Delete(ctx context.Context, subj, rel, obj string) error
	// DeleteNodes removes nodes with their embeddings and incident relations.
	DeleteNodes(ctx context.Context, ids []string) error

	GetSchema(ctx context.Context, refresh bool) (apptype.SchemaSnapshot, error)
	StructuredQuery(ctx context.Context, query string, params apptype.ParamMap) (*apptype.QueryResult, error)
	VectorQuery(ctx context.Context, q apptype.VectorQuery) (*apptype.VectorQueryResult, error)

	UpdateExtractionPrompt(ctx context.Context, prompts PromptProvider, entityTypes, relations []string) error
	Stats(ctx context.Context) (apptype.Stats, error)

	// Client exposes the backend handle for callers that need native access.
	Client() any
	Close() error
}

// PromptProvider supplies prompt templates by identifier. Its content is
// opaque to providers.
type PromptProvider interface {
	Prompt(id string) (string, bool)
}

// PromptUpdate is forwarded to the extractor when the extraction schema
// changes.
type PromptUpdate struct {
	PromptID    string
	Prompts     PromptProvider
	EntityTypes []string
	Relations   []string
}

// Extractor is the extraction pipeline collaborator. UpdatePrompt must
// return promptly; providers neither wait on extraction work nor observe
// its outcome.
type Extractor interface {
	UpdatePrompt(ctx context.Context, update PromptUpdate)
}

// StaticPrompts is a map-backed PromptProvider.
type StaticPrompts map[string]string

func (p StaticPrompts) Prompt(id string) (string, bool) {
	s, ok := p[id]
	return s, ok
}

// MergeVocabulary returns the sorted union of the given lists without
// empty or duplicate entries.
func MergeVocabulary(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, list := range lists {
		for _, v := range list {
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// BuildPromptUpdate merges caller-supplied types and predicates with the
// known schema.
func BuildPromptUpdate(promptID string, prompts PromptProvider, schema apptype.SchemaSnapshot, entityTypes, relations []string) PromptUpdate {
	return PromptUpdate{
		PromptID:    promptID,
		Prompts:     prompts,
		EntityTypes: MergeVocabulary(entityTypes, schema.Labels),
		Relations:   MergeVocabulary(relations, schema.Predicates),
	}
}
