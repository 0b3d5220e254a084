// Package graph keeps the in-memory labelled property graph: nodes, the
// triplet index and adjacency in both directions. A Store is not safe for
// concurrent use; the owning provider serialises access.
package graph

import (
	"fmt"
	"sort"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
)

type nodeEntry struct {
	node apptype.LabelledNode
	seq  uint64
}

type relEntry struct {
	rel apptype.Relation
	seq uint64
}

// Store is the adjacency and triplet index.
type Store struct {
	nodes map[string]*nodeEntry
	rels  map[apptype.Triplet]*relEntry
	out   map[string][]apptype.Triplet
	in    map[string][]apptype.Triplet
	seq   uint64

	labels     counter
	predicates counter
	propKeys   counter
	patterns   counter
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		nodes:      make(map[string]*nodeEntry),
		rels:       make(map[apptype.Triplet]*relEntry),
		out:        make(map[string][]apptype.Triplet),
		in:         make(map[string][]apptype.Triplet),
		labels:     counter{},
		predicates: counter{},
		propKeys:   counter{},
		patterns:   counter{},
	}
}

// UpsertNode creates or replaces a node. Relations referencing the id are
// kept. It reports whether the schema vocabulary changed.
func (s *Store) UpsertNode(n apptype.LabelledNode) bool {
	if n.ID == "" {
		return false
	}
	incident := s.incident(n.ID)
	before := s.patternsFor(incident)

	var prevNode *apptype.LabelledNode
	if prev, ok := s.nodes[n.ID]; ok {
		old := prev.node
		prevNode = &old
		prev.node = n
	} else {
		s.seq++
		s.nodes[n.ID] = &nodeEntry{node: n, seq: s.seq}
	}

	// add before removing so keys present on both sides never cross zero
	changed := s.indexNode(n)
	if prevNode != nil {
		changed = s.unindexNode(*prevNode) || changed
	}
	for _, p := range s.patternsFor(incident) {
		changed = s.patterns.inc(p) || changed
	}
	for _, p := range before {
		changed = s.patterns.dec(p) || changed
	}
	return changed
}

// UpsertRelation creates or replaces a relation by triplet. An existing
// triplet keeps its insertion position.
func (s *Store) UpsertRelation(r apptype.Relation) bool {
	t := r.Triplet()
	if prev, ok := s.rels[t]; ok {
		old := prev.rel.Properties
		prev.rel = r
		changed := s.indexProps(r.Properties)
		return s.unindexProps(old) || changed
	}
	s.seq++
	s.rels[t] = &relEntry{rel: r, seq: s.seq}
	s.out[r.SubjectID] = append(s.out[r.SubjectID], t)
	s.in[r.ObjectID] = append(s.in[r.ObjectID], t)
	changed := s.predicates.inc(r.Predicate)
	changed = s.indexProps(r.Properties) || changed
	return s.addPattern(t) || changed
}

// DeleteRelation removes a triplet. Missing triplets are not an error.
func (s *Store) DeleteRelation(t apptype.Triplet) (removed, changed bool) {
	e, ok := s.rels[t]
	if !ok {
		return false, false
	}
	changed = s.dropPattern(t)
	delete(s.rels, t)
	s.out[t.Subject()] = without(s.out[t.Subject()], t)
	if len(s.out[t.Subject()]) == 0 {
		delete(s.out, t.Subject())
	}
	s.in[t.Object()] = without(s.in[t.Object()], t)
	if len(s.in[t.Object()]) == 0 {
		delete(s.in, t.Object())
	}
	changed = s.predicates.dec(t.Predicate()) || changed
	changed = s.unindexProps(e.rel.Properties) || changed
	return true, changed
}

// DeleteNode removes a node and every relation touching it.
func (s *Store) DeleteNode(id string) (removed []apptype.Triplet, changed bool) {
	for _, t := range s.incident(id) {
		if ok, c := s.DeleteRelation(t); ok {
			removed = append(removed, t)
			changed = c || changed
		}
	}
	e, ok := s.nodes[id]
	if !ok {
		return removed, changed
	}
	delete(s.nodes, id)
	changed = s.unindexNode(e.node) || changed
	return removed, changed
}

// Node returns a copy of the stored node.
func (s *Store) Node(id string) (apptype.LabelledNode, bool) {
	e, ok := s.nodes[id]
	if !ok {
		return apptype.LabelledNode{}, false
	}
	n := e.node
	n.Properties = copyProps(n.Properties)
	return n, true
}

// HasNode reports whether id is stored.
func (s *Store) HasNode(id string) bool {
	_, ok := s.nodes[id]
	return ok
}

// Relation returns the stored relation for t.
func (s *Store) Relation(t apptype.Triplet) (apptype.Relation, bool) {
	e, ok := s.rels[t]
	if !ok {
		return apptype.Relation{}, false
	}
	r := e.rel
	r.Properties = copyProps(r.Properties)
	return r, true
}

// Degree counts stored relations touching id, dangling ones included.
func (s *Store) Degree(id string) int {
	return len(s.incident(id))
}

// Active reports whether both endpoints of t exist.
func (s *Store) Active(t apptype.Triplet) bool {
	if _, ok := s.rels[t]; !ok {
		return false
	}
	return s.HasNode(t.Subject()) && s.HasNode(t.Object())
}

// Get returns the active triplets whose subject is subj, oldest first.
func (s *Store) Get(subj string) []apptype.Triplet {
	out := make([]apptype.Triplet, 0, len(s.out[subj]))
	for _, t := range s.out[subj] {
		if s.Active(t) {
			out = append(out, t)
		}
	}
	return out
}

// Edges returns the active relations touching id in either direction,
// ordered by insertion.
func (s *Store) Edges(id string) []Edge {
	var edges []Edge
	for _, t := range s.incident(id) {
		if s.Active(t) {
			edges = append(edges, Edge{Triplet: t, Seq: int64(s.rels[t].seq)})
		}
	}
	sortEdges(edges)
	return edges
}

// Subjects returns every node that is the subject of an active relation,
// in node creation order.
func (s *Store) Subjects() []string {
	type item struct {
		id  string
		seq uint64
	}
	var items []item
	for id := range s.out {
		e, ok := s.nodes[id]
		if !ok {
			continue
		}
		if len(s.Get(id)) > 0 {
			items = append(items, item{id: id, seq: e.seq})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.id
	}
	return ids
}

// Nodes returns every node in creation order.
func (s *Store) Nodes() []apptype.LabelledNode {
	entries := make([]*nodeEntry, 0, len(s.nodes))
	for _, e := range s.nodes {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]apptype.LabelledNode, len(entries))
	for i, e := range entries {
		out[i] = e.node
		out[i].Properties = copyProps(e.node.Properties)
	}
	return out
}

// Relations returns every stored relation in insertion order, dangling ones
// included.
func (s *Store) Relations() []apptype.Relation {
	entries := make([]*relEntry, 0, len(s.rels))
	for _, e := range s.rels {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]apptype.Relation, len(entries))
	for i, e := range entries {
		out[i] = e.rel
	}
	return out
}

// Stats returns store sizes.
func (s *Store) Stats() apptype.Stats {
	dangling := 0
	for t := range s.rels {
		if !s.Active(t) {
			dangling++
		}
	}
	return apptype.Stats{Nodes: len(s.nodes), Relations: len(s.rels), Dangling: dangling}
}

// Vocabulary is the sorted schema vocabulary of the store.
type Vocabulary struct {
	Labels       []string
	Predicates   []string
	PropertyKeys []string
	Patterns     []string
}

// Vocabulary returns the labels, predicates, property keys and active
// relation patterns currently in use.
func (s *Store) Vocabulary() Vocabulary {
	return Vocabulary{
		Labels:       s.labels.keys(),
		Predicates:   s.predicates.keys(),
		PropertyKeys: s.propKeys.keys(),
		Patterns:     s.patterns.keys(),
	}
}

// incident lists stored triplets touching id, each once.
func (s *Store) incident(id string) []apptype.Triplet {
	outs, ins := s.out[id], s.in[id]
	if len(outs) == 0 && len(ins) == 0 {
		return nil
	}
	res := make([]apptype.Triplet, 0, len(outs)+len(ins))
	res = append(res, outs...)
	for _, t := range ins {
		if t.Subject() == id {
			continue // self loop already listed
		}
		res = append(res, t)
	}
	return res
}

func (s *Store) patternOf(t apptype.Triplet) (string, bool) {
	subj, ok := s.nodes[t.Subject()]
	if !ok {
		return "", false
	}
	obj, ok := s.nodes[t.Object()]
	if !ok {
		return "", false
	}
	return Pattern(subj.node.Label, t.Predicate(), obj.node.Label), true
}

func (s *Store) patternsFor(triplets []apptype.Triplet) []string {
	var out []string
	for _, t := range triplets {
		if p, ok := s.patternOf(t); ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *Store) addPattern(t apptype.Triplet) bool {
	if p, ok := s.patternOf(t); ok {
		return s.patterns.inc(p)
	}
	return false
}

func (s *Store) dropPattern(t apptype.Triplet) bool {
	if p, ok := s.patternOf(t); ok {
		return s.patterns.dec(p)
	}
	return false
}

func (s *Store) indexNode(n apptype.LabelledNode) bool {
	changed := false
	if n.Label != "" {
		changed = s.labels.inc(n.Label)
	}
	return s.indexProps(n.Properties) || changed
}

func (s *Store) unindexNode(n apptype.LabelledNode) bool {
	changed := false
	if n.Label != "" {
		changed = s.labels.dec(n.Label)
	}
	return s.unindexProps(n.Properties) || changed
}

func (s *Store) indexProps(props map[string]any) bool {
	changed := false
	for k := range props {
		changed = s.propKeys.inc(k) || changed
	}
	return changed
}

func (s *Store) unindexProps(props map[string]any) bool {
	changed := false
	for k := range props {
		changed = s.propKeys.dec(k) || changed
	}
	return changed
}

// Pattern renders a relation pattern as (:Subject)-[:predicate]->(:Object).
func Pattern(subjLabel, predicate, objLabel string) string {
	return fmt.Sprintf("(:%s)-[:%s]->(:%s)", subjLabel, predicate, objLabel)
}

// counter tracks usage counts; inc and dec report a 0 crossing.
type counter map[string]int

func (c counter) inc(k string) bool {
	c[k]++
	return c[k] == 1
}

func (c counter) dec(k string) bool {
	n, ok := c[k]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(c, k)
		return true
	}
	c[k] = n - 1
	return false
}

func (c counter) keys() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func without(list []apptype.Triplet, t apptype.Triplet) []apptype.Triplet {
	for i, v := range list {
		if v == t {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

func copyProps(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
