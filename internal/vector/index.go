// Package vector holds node embeddings and ranks them by cosine similarity.
package vector

import (
	"context"
	"math"
	"sort"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kgerr"
)

// checkEvery is how many candidates are scored between context checks.
const checkEvery = 256

// Index maps entity ids to embeddings of one fixed dimension. It is not safe
// for concurrent use.
type Index struct {
	dims    int
	vectors map[string][]float32
}

// NewIndex returns an index. dims 0 adopts the dimension of the first vector.
func NewIndex(dims int) *Index {
	return &Index{dims: dims, vectors: make(map[string][]float32)}
}

// Dims returns the fixed dimension, or 0 while still undetermined.
func (x *Index) Dims() int { return x.dims }

// Len returns the number of stored vectors.
func (x *Index) Len() int { return len(x.vectors) }

// Check validates vec against the index dimension.
func (x *Index) Check(vec []float32) error {
	if len(vec) == 0 {
		return kgerr.New(kgerr.CodeDimensionMismatch, "embedding is empty")
	}
	if x.dims > 0 && len(vec) != x.dims {
		return kgerr.New(kgerr.CodeDimensionMismatch, "embedding dimension mismatch",
			kgerr.Field("expected", x.dims), kgerr.Field("got", len(vec)))
	}
	return nil
}

// CheckAll validates a batch, including agreement among the batch itself
// when the dimension is still undetermined.
func (x *Index) CheckAll(vecs [][]float32) error {
	dims := x.dims
	for _, v := range vecs {
		if v == nil {
			continue
		}
		if err := x.Check(v); err != nil {
			return err
		}
		if dims == 0 {
			dims = len(v)
		} else if len(v) != dims {
			return kgerr.New(kgerr.CodeDimensionMismatch, "embedding dimension mismatch within batch",
				kgerr.Field("expected", dims), kgerr.Field("got", len(v)))
		}
	}
	return nil
}

// Put stores a copy of vec under id.
func (x *Index) Put(id string, vec []float32) error {
	if err := x.Check(vec); err != nil {
		return err
	}
	if x.dims == 0 {
		x.dims = len(vec)
	}
	cp := make([]float32, len(vec))
	copy(cp, vec)
	x.vectors[id] = cp
	return nil
}

// Delete removes the vector for id, if any.
func (x *Index) Delete(id string) {
	delete(x.vectors, id)
}

// Get returns the stored vector for id.
func (x *Index) Get(id string) ([]float32, bool) {
	v, ok := x.vectors[id]
	return v, ok
}

// Lookup resolves an id to its node; false excludes the candidate.
type Lookup func(id string) (apptype.LabelledNode, bool)

// Query ranks stored vectors against q. Candidates are resolved through
// lookup and filtered before ranking.
func (x *Index) Query(ctx context.Context, q []float32, topK int, filter *apptype.NodeFilter, lookup Lookup) ([]apptype.ScoredNode, error) {
	if topK <= 0 {
		return []apptype.ScoredNode{}, nil
	}
	if err := x.Check(q); err != nil {
		return nil, err
	}
	cands := make([]Candidate, 0, len(x.vectors))
	n := 0
	for id, vec := range x.vectors {
		if n++; n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, kgerr.FromContext(err, kgerr.CodeQueryFailure, "vector query")
			}
		}
		node, ok := lookup(id)
		if !ok || !filter.Match(node) {
			continue
		}
		cands = append(cands, Candidate{Node: node, Vector: vec})
	}
	return Rank(ctx, q, cands, topK)
}

// Candidate is a node with its embedding.
type Candidate struct {
	Node   apptype.LabelledNode
	Vector []float32
}

// Rank scores candidates by cosine similarity and keeps the best topK,
// ordered by score descending then id ascending.
func Rank(ctx context.Context, q []float32, cands []Candidate, topK int) ([]apptype.ScoredNode, error) {
	if topK <= 0 {
		return []apptype.ScoredNode{}, nil
	}
	scored := make([]apptype.ScoredNode, 0, len(cands))
	for i, c := range cands {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, kgerr.FromContext(err, kgerr.CodeQueryFailure, "vector query")
			}
		}
		if len(c.Vector) != len(q) {
			continue
		}
		scored = append(scored, apptype.ScoredNode{Node: c.Node, Score: Cosine(q, c.Vector)})
	}
	if err := ctx.Err(); err != nil {
		return nil, kgerr.FromContext(err, kgerr.CodeQueryFailure, "vector query")
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Node.ID < scored[j].Node.ID
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// Cosine returns the cosine similarity of a and b, clamped to [-1, 1].
// A zero-length vector scores 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(-1, math.Min(1, s))
}

// Sanitize returns a copy of vec with NaN and infinite components set to 0,
// and how many were replaced.
func Sanitize(vec []float32) ([]float32, int) {
	if vec == nil {
		return nil, 0
	}
	out := make([]float32, len(vec))
	replaced := 0
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			replaced++
			continue
		}
		out[i] = v
	}
	return out, replaced
}
