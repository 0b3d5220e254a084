package kg

import (
	"fmt"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kgerr"
)

// PrepareNodes validates nodes and returns normalised copies: empty ids fall
// back to the name and properties are reduced to scalars. Embeddings are
// returned untouched.
func PrepareNodes(nodes []apptype.EntityNode) ([]apptype.EntityNode, error) {
	out := make([]apptype.EntityNode, len(nodes))
	for i, n := range nodes {
		if n.ID == "" {
			n.ID = n.Name
		}
		if n.ID == "" {
			return nil, kgerr.New(kgerr.CodeInvalidInput, "node needs an id or a name", kgerr.Field("index", i))
		}
		props, err := apptype.NormalizeProperties(n.Properties)
		if err != nil {
			return nil, kgerr.Wrap(err, kgerr.CodeInvalidInput, fmt.Sprintf("node %q", n.ID))
		}
		n.Properties = props
		out[i] = n
	}
	return out, nil
}

// PrepareRelations validates relations and normalises their properties.
func PrepareRelations(rels []apptype.Relation) ([]apptype.Relation, error) {
	out := make([]apptype.Relation, len(rels))
	for i, r := range rels {
		if r.SubjectID == "" || r.Predicate == "" || r.ObjectID == "" {
			return nil, kgerr.New(kgerr.CodeInvalidInput, "relation needs subject, predicate and object", kgerr.Field("index", i))
		}
		props, err := apptype.NormalizeProperties(r.Properties)
		if err != nil {
			return nil, kgerr.Wrap(err, kgerr.CodeInvalidInput, fmt.Sprintf("relation %s", r.Triplet()))
		}
		r.Properties = props
		out[i] = r
	}
	return out, nil
}

// Chunks splits n items into [start, end) ranges of at most size.
func Chunks(n, size int) [][2]int {
	if size < 1 {
		size = 1
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}
