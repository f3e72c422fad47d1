package engine

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"
)

// normalize converts a decoded value into the canonical shapes the diff
// engine compares: float64 for numbers, []interface{} for lists and
// map[string]interface{} for objects.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case bool, string, float64:
		return t
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case []string:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case DesiredState:
		return normalize(map[string]interface{}(t))
	case RemoteResource:
		return normalize(map[string]interface{}(t))
	case Patch:
		return normalize(map[string]interface{}(t))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			out := make(map[string]interface{}, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				out[iter.Key().String()] = normalize(iter.Value().Interface())
			}
			return out
		}
	}

	// Structs and anything else: go through JSON.
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return v
	}
	return normalize(decoded)
}

// valuesEqual compares two normalized values. Strings fold case when
// caseInsensitive is set; everything else uses strict structural equality.
func valuesEqual(a, b interface{}, caseInsensitive bool) bool {
	if caseInsensitive {
		as, aok := a.(string)
		bs, bok := b.(string)
		if aok && bok {
			return strings.EqualFold(as, bs)
		}
	}
	return reflect.DeepEqual(a, b)
}

// canonical renders a normalized value as a stable string key. Map keys are
// sorted by encoding/json.
func canonical(v interface{}, caseInsensitive bool) string {
	if s, ok := v.(string); ok && caseInsensitive {
		v = strings.ToLower(s)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// setEqual compares two lists as multisets.
func setEqual(a, b []interface{}, caseInsensitive bool) bool {
	if len(a) != len(b) {
		return false
	}
	ka := make([]string, len(a))
	kb := make([]string, len(b))
	for i := range a {
		ka[i] = canonical(a[i], caseInsensitive)
		kb[i] = canonical(b[i], caseInsensitive)
	}
	sort.Strings(ka)
	sort.Strings(kb)
	for i := range ka {
		if ka[i] != kb[i] {
			return false
		}
	}
	return true
}

// asList returns v as a list. Nil yields an empty list.
func asList(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case nil:
		return []interface{}{}, true
	case []interface{}:
		return t, true
	}
	n, ok := normalize(v).([]interface{})
	return n, ok
}

// asMap returns v as an object. Nil yields an empty object.
func asMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case nil:
		return map[string]interface{}{}, true
	case map[string]interface{}:
		return t, true
	}
	n, ok := normalize(v).(map[string]interface{})
	return n, ok
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
