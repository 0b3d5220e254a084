package graph

import (
	"context"
	"sort"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
)

// Edge is an active relation with its insertion sequence.
type Edge struct {
	Triplet apptype.Triplet
	Seq     int64
}

// NeighborFunc returns the active edges touching each frontier node. Edges
// for a node must be ordered by Seq.
type NeighborFunc func(ctx context.Context, frontier []string) (map[string][]Edge, error)

// StoreNeighbors adapts a Store to NeighborFunc.
func StoreNeighbors(s *Store) NeighborFunc {
	return func(ctx context.Context, frontier []string) (map[string][]Edge, error) {
		out := make(map[string][]Edge, len(frontier))
		for _, id := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if edges := s.Edges(id); len(edges) > 0 {
				out[id] = edges
			}
		}
		return out, nil
	}
}

type seedState struct {
	id       string
	visited  map[string]struct{}
	seen     map[apptype.Triplet]struct{}
	frontier []string
	out      []apptype.Triplet
}

// RelMap expands every seed breadth-first in both directions. Level 0 holds
// the triplets touching the seed; each further level up to depth follows
// the nodes discovered by the previous one. At most limit triplets are
// returned in total, filled level by level across seeds, then by seed order,
// then by insertion order. Seeds without triplets are omitted.
func RelMap(ctx context.Context, seeds []string, depth, limit int, neighbors NeighborFunc) (map[string][]apptype.Triplet, error) {
	result := make(map[string][]apptype.Triplet)
	if depth < 0 {
		depth = 0
	}
	if limit <= 0 || len(seeds) == 0 {
		return result, nil
	}

	states := make([]*seedState, 0, len(seeds))
	dedup := make(map[string]struct{}, len(seeds))
	for _, id := range seeds {
		if _, dup := dedup[id]; dup || id == "" {
			continue
		}
		dedup[id] = struct{}{}
		states = append(states, &seedState{
			id:       id,
			visited:  map[string]struct{}{id: {}},
			seen:     map[apptype.Triplet]struct{}{},
			frontier: []string{id},
		})
	}

	remaining := limit
	for level := 0; level <= depth && remaining > 0; level++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		union := frontierUnion(states)
		if len(union) == 0 {
			break
		}
		adj, err := neighbors(ctx, union)
		if err != nil {
			return nil, err
		}
		for _, st := range states {
			if remaining == 0 {
				break
			}
			found := st.expand(adj)
			if len(found) > remaining {
				found = found[:remaining]
			}
			st.out = append(st.out, found...)
			remaining -= len(found)
		}
	}

	for _, st := range states {
		if len(st.out) > 0 {
			result[st.id] = st.out
		}
	}
	return result, nil
}

// expand collects the unseen edges of the frontier and advances it.
func (st *seedState) expand(adj map[string][]Edge) []apptype.Triplet {
	var level []Edge
	for _, id := range st.frontier {
		for _, e := range adj[id] {
			if _, ok := st.seen[e.Triplet]; ok {
				continue
			}
			st.seen[e.Triplet] = struct{}{}
			level = append(level, e)
		}
	}
	sortEdges(level)

	next := make([]string, 0)
	found := make([]apptype.Triplet, len(level))
	for i, e := range level {
		found[i] = e.Triplet
		for _, id := range []string{e.Triplet.Subject(), e.Triplet.Object()} {
			if _, ok := st.visited[id]; ok {
				continue
			}
			st.visited[id] = struct{}{}
			next = append(next, id)
		}
	}
	st.frontier = next
	return found
}

func frontierUnion(states []*seedState) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, st := range states {
		for _, id := range st.frontier {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func sortEdges(edges []Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].Seq != edges[j].Seq {
			return edges[i].Seq < edges[j].Seq
		}
		return edges[i].Triplet.String() < edges[j].Triplet.String()
	})
}
