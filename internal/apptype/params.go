package apptype

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
)

// ParamValue is a bound structured-query parameter. The set of kinds is
// closed; backends switch on the concrete type.
type ParamValue interface {
	isParam()
	// Native returns the Go value handed to a driver.
	Native() any
}

type (
	StringParam string
	IntParam    int64
	FloatParam  float64
	BoolParam   bool
	VectorParam []float32
	NullParam   struct{}
)

func (StringParam) isParam() {}
func (IntParam) isParam()    {}
func (FloatParam) isParam()  {}
func (BoolParam) isParam()   {}
func (VectorParam) isParam() {}
func (NullParam) isParam()   {}

func (p StringParam) Native() any { return string(p) }
func (p IntParam) Native() any    { return int64(p) }
func (p FloatParam) Native() any  { return float64(p) }
func (p BoolParam) Native() any   { return bool(p) }
func (p VectorParam) Native() any { return []float32(p) }
func (NullParam) Native() any     { return nil }

// ParamMap binds parameter names (without sigil) to values.
type ParamMap map[string]ParamValue

// Names returns the parameter names in sorted order.
func (m ParamMap) Names() []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ParamFromAny converts a decoded JSON value (or plain Go value) into a
// ParamValue.
func ParamFromAny(v any) (ParamValue, error) {
	switch x := v.(type) {
	case nil:
		return NullParam{}, nil
	case ParamValue:
		return x, nil
	case string:
		return StringParam(x), nil
	case bool:
		return BoolParam(x), nil
	case int:
		return IntParam(x), nil
	case int32:
		return IntParam(x), nil
	case int64:
		return IntParam(x), nil
	case float32:
		return FloatParam(x), nil
	case float64:
		if x == float64(int64(x)) {
			return IntParam(int64(x)), nil
		}
		return FloatParam(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return IntParam(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid json.Number %q: %w", x.String(), err)
		}
		return FloatParam(f), nil
	}
	vec, ok, err := CoerceFloat32Slice(v)
	if err != nil {
		return nil, err
	}
	if ok {
		return VectorParam(vec), nil
	}
	return nil, fmt.Errorf("unsupported parameter type %T", v)
}

// ParamMapFromAny converts every entry with ParamFromAny.
func ParamMapFromAny(in map[string]any) (ParamMap, error) {
	out := make(ParamMap, len(in))
	for k, v := range in {
		p, err := ParamFromAny(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", k, err)
		}
		out[k] = p
	}
	return out, nil
}

// CoerceFloat32Slice attempts to interpret arbitrary slice-like inputs as a []float32
func CoerceFloat32Slice(value interface{}) ([]float32, bool, error) {
	switch v := value.(type) {
	case []float32:
		out := make([]float32, len(v))
		copy(out, v)
		return out, true, nil
	case []float64:
		out := make([]float32, len(v))
		for i, n := range v {
			out[i] = float32(n)
		}
		return out, true, nil
	case []int:
		out := make([]float32, len(v))
		for i, n := range v {
			out[i] = float32(n)
		}
		return out, true, nil
	case []int64:
		out := make([]float32, len(v))
		for i, n := range v {
			out[i] = float32(n)
		}
		return out, true, nil
	case []byte, string:
		return nil, false, nil
	}

	rv := reflect.ValueOf(value)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false, nil
	}
	n := rv.Len()
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		f, err := elementToFloat32(rv.Index(i).Interface())
		if err != nil {
			return nil, false, fmt.Errorf("index %d: %w", i, err)
		}
		out[i] = f
	}
	return out, true, nil
}

func elementToFloat32(el any) (float32, error) {
	switch x := el.(type) {
	case float64:
		return float32(x), nil
	case float32:
		return x, nil
	case int:
		return float32(x), nil
	case int64:
		return float32(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("invalid json.Number: %v", err)
		}
		return float32(f), nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid numeric string: %v", err)
		}
		return float32(f), nil
	default:
		return 0, fmt.Errorf("unsupported vector element type %T", el)
	}
}
