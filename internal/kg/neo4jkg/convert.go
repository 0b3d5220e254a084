package neo4jkg

import (
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
)

// nodeProps flattens a node into the property map stored on the neo4j node.
// Caller properties with reserved keys are dropped and nil values are
// omitted, as neo4j cannot store them.
func nodeProps(n apptype.EntityNode) map[string]any {
	props := userProps(n.Properties)
	props[keyID] = n.ID
	props[keyName] = n.Name
	props[keyLabel] = n.Label
	if n.Embedding != nil {
		props[keyEmbedding] = toFloat64s(n.Embedding)
	}
	return props
}

func userProps(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+4)
	for k, v := range in {
		if v == nil || isReserved(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// nodeFromDB converts a stored node back into its projection and embedding.
func nodeFromDB(n dbtype.Node) (apptype.LabelledNode, []float32) {
	out := apptype.LabelledNode{}
	out.ID, _ = asString(n.Props[keyID])
	out.Name, _ = asString(n.Props[keyName])
	out.Label, _ = asString(n.Props[keyLabel])
	var props map[string]any
	for k, v := range n.Props {
		if isReserved(k) {
			continue
		}
		if props == nil {
			props = make(map[string]any)
		}
		props[k] = v
	}
	if norm, err := apptype.NormalizeProperties(props); err == nil {
		out.Properties = norm
	} else {
		out.Properties = props
	}
	vec, _ := asFloat32s(n.Props[keyEmbedding])
	return out, vec
}

// driverParams converts bound parameters to values the driver can pack.
func driverParams(params apptype.ParamMap) map[string]any {
	out := make(map[string]any, len(params))
	for k, p := range params {
		switch v := p.(type) {
		case apptype.VectorParam:
			out[k] = toFloat64s(v)
		default:
			out[k] = p.Native()
		}
	}
	return out
}

// valueFromDriver maps a driver value onto the closed Value set. Graph
// entities become maps so callers see their properties.
func valueFromDriver(v any) apptype.Value {
	switch x := v.(type) {
	case dbtype.Node:
		return apptype.MapValue{
			"elementId":  apptype.StringValue(x.ElementId),
			"labels":     stringList(x.Labels),
			"properties": valueFromDriver(x.Props),
		}
	case dbtype.Relationship:
		return apptype.MapValue{
			"elementId":  apptype.StringValue(x.ElementId),
			"type":       apptype.StringValue(x.Type),
			"start":      apptype.StringValue(x.StartElementId),
			"end":        apptype.StringValue(x.EndElementId),
			"properties": valueFromDriver(x.Props),
		}
	case dbtype.Path:
		nodes := make(apptype.ListValue, len(x.Nodes))
		for i, n := range x.Nodes {
			nodes[i] = valueFromDriver(n)
		}
		rels := make(apptype.ListValue, len(x.Relationships))
		for i, r := range x.Relationships {
			rels[i] = valueFromDriver(r)
		}
		return apptype.MapValue{"nodes": nodes, "relationships": rels}
	case []any:
		out := make(apptype.ListValue, len(x))
		for i, e := range x {
			out[i] = valueFromDriver(e)
		}
		return out
	case map[string]any:
		out := make(apptype.MapValue, len(x))
		for k, e := range x {
			out[k] = valueFromDriver(e)
		}
		return out
	default:
		return apptype.ValueOf(v)
	}
}

// resultFromRecords builds a QueryResult in column order.
func resultFromRecords(keys []string, records []*neo4j.Record) *apptype.QueryResult {
	res := &apptype.QueryResult{Columns: keys, Rows: make([]apptype.Row, 0, len(records))}
	for _, rec := range records {
		row := make(apptype.Row, len(rec.Keys))
		for i, k := range rec.Keys {
			row[k] = valueFromDriver(rec.Values[i])
		}
		res.Rows = append(res.Rows, row)
	}
	return res
}

func stringList(in []string) apptype.ListValue {
	out := make(apptype.ListValue, len(in))
	for i, s := range in {
		out[i] = apptype.StringValue(s)
	}
	return out
}

func toFloat64s(vec []float32) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt64(v any) (int64, bool) {
	i, ok := v.(int64)
	return i, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

// asStrings accepts the []any lists the driver returns.
func asStrings(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// asFloat32s reads a stored embedding list.
func asFloat32s(v any) ([]float32, bool) {
	if v == nil {
		return nil, false
	}
	vec, ok, err := apptype.CoerceFloat32Slice(v)
	if err != nil || !ok {
		return nil, false
	}
	return vec, true
}

// record reads key from rec, tolerating absent keys.
func record(rec *neo4j.Record, key string) any {
	v, _ := rec.Get(key)
	return v
}
