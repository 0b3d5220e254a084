package apptype

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Value is a cell in an engine-native result row. Like ParamValue it is a
// closed set of kinds.
type Value interface {
	isValue()
	// Native returns the plain Go representation (used for JSON output).
	Native() any
}

type (
	NullValue   struct{}
	StringValue string
	IntValue    int64
	FloatValue  float64
	BoolValue   bool
	BytesValue  []byte
	VectorValue []float32
	ListValue   []Value
	MapValue    map[string]Value
)

func (NullValue) isValue()   {}
func (StringValue) isValue() {}
func (IntValue) isValue()    {}
func (FloatValue) isValue()  {}
func (BoolValue) isValue()   {}
func (BytesValue) isValue()  {}
func (VectorValue) isValue() {}
func (ListValue) isValue()   {}
func (MapValue) isValue()    {}

func (NullValue) Native() any     { return nil }
func (v StringValue) Native() any { return string(v) }
func (v IntValue) Native() any    { return int64(v) }
func (v FloatValue) Native() any  { return float64(v) }
func (v BoolValue) Native() any   { return bool(v) }
func (v BytesValue) Native() any  { return []byte(v) }
func (v VectorValue) Native() any { return []float32(v) }

func (v ListValue) Native() any {
	out := make([]any, len(v))
	for i, e := range v {
		out[i] = e.Native()
	}
	return out
}

func (v MapValue) Native() any {
	out := make(map[string]any, len(v))
	for k, e := range v {
		out[k] = e.Native()
	}
	return out
}

// ValueOf converts a driver value into a Value. Unknown types are rendered
// with fmt so nothing is silently dropped.
func ValueOf(v any) Value {
	switch x := v.(type) {
	case nil:
		return NullValue{}
	case Value:
		return x
	case string:
		return StringValue(x)
	case []byte:
		b := make([]byte, len(x))
		copy(b, x)
		return BytesValue(b)
	case bool:
		return BoolValue(x)
	case int:
		return IntValue(x)
	case int32:
		return IntValue(x)
	case int64:
		return IntValue(x)
	case float32:
		return FloatValue(x)
	case float64:
		return FloatValue(x)
	case []float32:
		out := make([]float32, len(x))
		copy(out, x)
		return VectorValue(out)
	case time.Time:
		return StringValue(x.UTC().Format(time.RFC3339Nano))
	case []any:
		out := make(ListValue, len(x))
		for i, e := range x {
			out[i] = ValueOf(e)
		}
		return out
	case map[string]any:
		out := make(MapValue, len(x))
		for k, e := range x {
			out[k] = ValueOf(e)
		}
		return out
	case fmt.Stringer:
		return StringValue(x.String())
	default:
		return StringValue(fmt.Sprintf("%v", x))
	}
}

// Row is one result record keyed by column name.
type Row map[string]Value

// QueryResult is the engine-native output of a structured query.
type QueryResult struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"-"`
}

// Records returns rows as plain maps.
func (r *QueryResult) Records() []map[string]any {
	out := make([]map[string]any, len(r.Rows))
	for i, row := range r.Rows {
		m := make(map[string]any, len(row))
		for k, v := range row {
			m[k] = v.Native()
		}
		out[i] = m
	}
	return out
}

// MarshalJSON renders rows in column order as plain values.
func (r *QueryResult) MarshalJSON() ([]byte, error) {
	cols := r.Columns
	if cols == nil {
		seen := map[string]struct{}{}
		for _, row := range r.Rows {
			for k := range row {
				if _, ok := seen[k]; !ok {
					seen[k] = struct{}{}
					cols = append(cols, k)
				}
			}
		}
		sort.Strings(cols)
	}
	return json.Marshal(struct {
		Columns []string         `json:"columns"`
		Rows    []map[string]any `json:"rows"`
	}{Columns: cols, Rows: r.Records()})
}
