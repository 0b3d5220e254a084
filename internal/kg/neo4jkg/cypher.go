package neo4jkg

import (
	"fmt"
	"strings"
)

// baseLabel is carried by every node the adapter owns so its statements
// never touch unrelated data in a shared database.
const baseLabel = "__Entity__"

// Node and relationship keys owned by the adapter. Everything else is a
// caller property.
const (
	keyID          = "id"
	keyName        = "name"
	keyLabel       = "__label"
	keyEmbedding   = "embedding"
	keySeq         = "__seq"
	keyPlaceholder = "__placeholder"
)

var reservedKeys = []string{keyID, keyName, keyEmbedding}

// isReserved reports whether k is an adapter-owned key.
func isReserved(k string) bool {
	if strings.HasPrefix(k, "__") {
		return true
	}
	for _, r := range reservedKeys {
		if k == r {
			return true
		}
	}
	return false
}

// quoteName escapes a label or relationship type for use in Cypher.
func quoteName(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// activePair filters out relations touching a placeholder endpoint.
func activePair(a, b string) string {
	return fmt.Sprintf("NOT coalesce(%s.%s, false) AND NOT coalesce(%s.%s, false)", a, keyPlaceholder, b, keyPlaceholder)
}

var base = quoteName(baseLabel)

func constraintCypher() string {
	return fmt.Sprintf("CREATE CONSTRAINT kg_entity_id IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE", base, keyID)
}

// upsertNodeCypher replaces a node's properties in place, keeping its
// creation sequence. It returns what the node looked like before.
func upsertNodeCypher() string {
	return fmt.Sprintf(`MERGE (n:%[1]s {id: $id})
ON CREATE SET n.%[2]s = $seq
WITH n, n.%[2]s AS seq, n.%[3]s AS oldLabel, coalesce(n.%[4]s, false) AS wasPlaceholder,
     [k IN keys(n) WHERE NOT k IN $reserved AND NOT k STARTS WITH '__'] AS oldKeys
SET n = $props
SET n.%[2]s = seq
RETURN seq = $seq AS created, oldLabel, wasPlaceholder, oldKeys`, base, keySeq, keyLabel, keyPlaceholder)
}

// relabelCypher swaps the dynamic type label of a node. Either side may be
// empty.
func relabelCypher(oldLabel, newLabel string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "MATCH (n:%s {id: $id})", base)
	if oldLabel != "" {
		fmt.Fprintf(&b, "\nREMOVE n:%s", quoteName(oldLabel))
	}
	if newLabel != "" {
		fmt.Fprintf(&b, "\nSET n:%s", quoteName(newLabel))
	}
	return b.String()
}

// upsertRelationCypher creates endpoints as placeholders when missing and
// replaces the relation's properties, keeping its creation sequence.
func upsertRelationCypher(predicate string) string {
	return fmt.Sprintf(`MERGE (s:%[1]s {id: $subject})
ON CREATE SET s.%[3]s = true, s.%[4]s = $seq
MERGE (o:%[1]s {id: $object})
ON CREATE SET o.%[3]s = true, o.%[4]s = $seq
MERGE (s)-[r:%[2]s]->(o)
ON CREATE SET r.%[4]s = $seq
WITH r, r.%[4]s AS seq, [k IN keys(r) WHERE NOT k STARTS WITH '__'] AS oldKeys
SET r = $props
SET r.%[4]s = seq
RETURN seq = $seq AS created, oldKeys`, base, quoteName(predicate), keyPlaceholder, keySeq)
}

func deleteRelationCypher(predicate string) string {
	return fmt.Sprintf(`MATCH (s:%[1]s {id: $subject})-[r:%[2]s]->(o:%[1]s {id: $object})
DELETE r
RETURN count(r) AS removed`, base, quoteName(predicate))
}

// pruneCypher removes relation-less nodes among $ids. Placeholders always
// go; real nodes only when $prune is set.
func pruneCypher() string {
	return fmt.Sprintf(`MATCH (n:%s)
WHERE n.id IN $ids AND NOT (n)--() AND ($prune OR coalesce(n.%s, false))
WITH n, n.id AS id
DELETE n
RETURN id`, base, keyPlaceholder)
}

func deleteNodesCypher() string {
	return fmt.Sprintf(`MATCH (n:%s) WHERE n.id IN $ids AND NOT coalesce(n.%s, false)
OPTIONAL MATCH (n)--(m:%[1]s)
WITH n, collect(DISTINCT m.id) AS neighbours
DETACH DELETE n
RETURN neighbours`, base, keyPlaceholder)
}

func getCypher() string {
	return fmt.Sprintf(`MATCH (s:%[1]s {id: $id})-[r]->(o:%[1]s)
WHERE %[2]s
RETURN s.id AS s, type(r) AS p, o.id AS o
ORDER BY r.%[3]s, p, o`, base, activePair("s", "o"), keySeq)
}

func subjectsCypher() string {
	return fmt.Sprintf(`MATCH (s:%[1]s)-[r]->(o:%[1]s)
WHERE %[2]s
WITH DISTINCT s
RETURN s.id AS id
ORDER BY s.%[3]s, id`, base, activePair("s", "o"), keySeq)
}

// neighboursCypher returns the active edges touching each id in $ids.
func neighboursCypher() string {
	return fmt.Sprintf(`UNWIND $ids AS via
MATCH (n:%[1]s {id: via})-[r]-(m:%[1]s)
WHERE %[2]s
RETURN DISTINCT via, startNode(r).id AS s, type(r) AS p, endNode(r).id AS o, r.%[3]s AS seq
ORDER BY via, seq`, base, activePair("n", "m"), keySeq)
}

// candidatesCypher selects embedded nodes, narrowing by label and id in the
// database. Property filters are applied by the caller.
func candidatesCypher(byLabel, byID bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "MATCH (n:%s)\nWHERE n.%s IS NOT NULL AND NOT coalesce(n.%s, false)", base, keyEmbedding, keyPlaceholder)
	if byLabel {
		fmt.Fprintf(&b, " AND n.%s IN $labels", keyLabel)
	}
	if byID {
		b.WriteString(" AND n.id IN $ids")
	}
	b.WriteString("\nRETURN n")
	return b.String()
}

func storedDimsCypher() string {
	return fmt.Sprintf("MATCH (n:%s) WHERE n.%s IS NOT NULL RETURN size(n.%[2]s) AS dims LIMIT 1", base, keyEmbedding)
}

func statsCypher() string {
	return fmt.Sprintf(`CALL {
  MATCH (n:%[1]s) WHERE NOT coalesce(n.%[2]s, false)
  RETURN count(n) AS nodes, count(n.%[3]s) AS embeddings
}
CALL {
  MATCH (:%[1]s)-[r]->(:%[1]s)
  RETURN count(r) AS relations
}
CALL {
  MATCH (s:%[1]s)-[r]->(o:%[1]s)
  WHERE coalesce(s.%[2]s, false) OR coalesce(o.%[2]s, false)
  RETURN count(r) AS dangling
}
RETURN nodes, embeddings, relations, dangling`, base, keyPlaceholder, keyEmbedding)
}

func schemaLabelsCypher() string {
	return fmt.Sprintf(`MATCH (n:%s)
WHERE NOT coalesce(n.%s, false) AND coalesce(n.%s, '') <> ''
RETURN DISTINCT n.%[3]s AS v`, base, keyPlaceholder, keyLabel)
}

func schemaPredicatesCypher() string {
	return fmt.Sprintf("MATCH (:%[1]s)-[r]->(:%[1]s) RETURN DISTINCT type(r) AS v", base)
}

func schemaKeysCypher() string {
	return fmt.Sprintf(`CALL {
  MATCH (n:%[1]s) WHERE NOT coalesce(n.%[2]s, false)
  UNWIND keys(n) AS k RETURN k
  UNION
  MATCH (:%[1]s)-[r]->(:%[1]s)
  UNWIND keys(r) AS k RETURN k
}
WITH DISTINCT k WHERE NOT k IN $reserved AND NOT k STARTS WITH '__'
RETURN k AS v`, base, keyPlaceholder)
}

func schemaPatternsCypher() string {
	return fmt.Sprintf(`MATCH (s:%[1]s)-[r]->(o:%[1]s)
WHERE %[2]s
RETURN DISTINCT coalesce(s.%[3]s, '') AS s, type(r) AS p, coalesce(o.%[3]s, '') AS o`, base, activePair("s", "o"), keyLabel)
}
