package apptype

// UpsertNodesArgs represents the arguments for the upsert_nodes tool
type UpsertNodesArgs struct {
	Nodes []EntityNode `json:"nodes" jsonschema:"Entity nodes to create or replace, keyed by id."`
}

// UpsertRelationsArgs represents the arguments for the upsert_relations tool
type UpsertRelationsArgs struct {
	Relations []Relation `json:"relations" jsonschema:"Relations to create or replace, keyed by (subjectId, predicate, objectId)."`
}

// GetTripletsArgs represents the arguments for the get_triplets tool
type GetTripletsArgs struct {
	Subject string `json:"subject" jsonschema:"Subject entity id."`
}

// TripletsResult is returned by get_triplets
type TripletsResult struct {
	Triplets []Triplet `json:"triplets"`
}

// GetRelMapArgs represents the arguments for the get_rel_map tool
type GetRelMapArgs struct {
	Subjects []string `json:"subjects,omitempty" jsonschema:"Seed entity ids. All known subjects when empty."`
	Depth    *int     `json:"depth,omitempty" jsonschema:"Additional hops to expand (default 2)."`
	Limit    *int     `json:"limit,omitempty" jsonschema:"Maximum total triplets returned (default 30)."`
}

// RelMapResult is returned by get_rel_map
type RelMapResult struct {
	RelMap map[string][]Triplet `json:"relMap"`
}

// DeleteTripletArgs represents the arguments for the delete_triplet tool
type DeleteTripletArgs struct {
	Subject   string `json:"subject" jsonschema:"Subject entity id."`
	Predicate string `json:"predicate" jsonschema:"Relation predicate."`
	Object    string `json:"object" jsonschema:"Object entity id."`
}

// GetSchemaArgs represents the arguments for the get_schema tool
type GetSchemaArgs struct {
	Refresh bool `json:"refresh,omitempty" jsonschema:"Recompute the schema instead of returning the cached snapshot."`
}

// StructuredQueryArgs represents the arguments for the structured_query tool
type StructuredQueryArgs struct {
	Query  string         `json:"query" jsonschema:"Backend-native query text (SQL for the reference engine, Cypher for neo4j)."`
	Params map[string]any `json:"params,omitempty" jsonschema:"Named parameters bound into the query."`
}

// StructuredQueryResult is returned by structured_query
type StructuredQueryResult struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// VectorQueryArgs represents the arguments for the vector_query tool
type VectorQueryArgs struct {
	Embedding      []float32   `json:"embedding" jsonschema:"Query embedding; must match the index dimensionality."`
	TopK           int         `json:"topK,omitempty" jsonschema:"Maximum number of matches (default 5)."`
	Filter         *NodeFilter `json:"filter,omitempty" jsonschema:"Restricts candidates before ranking."`
	IncludeContext bool        `json:"includeContext,omitempty" jsonschema:"Attach the relation map of matched nodes."`
	ContextDepth   int         `json:"contextDepth,omitempty" jsonschema:"Hop depth for the attached relation map."`
	ContextLimit   int         `json:"contextLimit,omitempty" jsonschema:"Triplet limit for the attached relation map (default 30)."`
}

// Health
type HealthArgs struct{}

type HealthResult struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	BuildDate string `json:"buildDate"`
	Provider  string `json:"provider"`
	Stats     Stats  `json:"stats"`
}
