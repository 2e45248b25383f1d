// Package wire converts arbitrary Go values into the plain JSON-like shape
// used at every external boundary: strings, numbers, booleans, null,
// ordered lists and ordered string-keyed maps.
package wire

import (
	"bytes"
	"encoding"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strings"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// maxDepth bounds the reflective walk so self-referencing values terminate.
const maxDepth = 64

// Map is the ordered object type produced by Normalize.
type Map = orderedmap.OrderedMap[string, any]

// NewMap returns an empty ordered map.
func NewMap() *Map {
	return orderedmap.New[string, any]()
}

// Normalize returns a value built only from nil, bool, string, int64,
// uint64, float64, []any and *Map. It never panics. Structs are walked field
// by field under their JSON names; types with their own JSON or text
// encoding are projected through it, and values that cannot be encoded
// degrade to their fmt rendering.
//
// Normalize is idempotent: normalizing its output yields an equal value.
func Normalize(v any) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = opaque(v)
		}
	}()
	return normalize(v, 0)
}

func normalize(v any, depth int) any {
	if depth > maxDepth {
		return fmt.Sprintf("<%T>", v)
	}

	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	case bool:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return uint64(x)
	case uint8:
		return uint64(x)
	case uint16:
		return uint64(x)
	case uint32:
		return uint64(x)
	case uint64:
		return x
	case float32:
		return finite(float64(x))
	case float64:
		return finite(x)
	case json.Number:
		return number(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return x.String()
	case *big.Float:
		if x == nil {
			return nil
		}
		f, _ := x.Float64()
		return finite(f)
	case *big.Rat:
		if x == nil {
			return nil
		}
		if x.IsInt() && x.Num().IsInt64() {
			return x.Num().Int64()
		}
		f, _ := x.Float64()
		return finite(f)
	case *big.Int:
		if x == nil {
			return nil
		}
		if x.IsInt64() {
			return x.Int64()
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return finite(f)
	case json.RawMessage:
		if len(x) == 0 {
			return nil
		}
		decoded, err := decodeOrdered(x)
		if err != nil {
			return string(x)
		}
		return normalize(decoded, depth+1)
	case []byte:
		if x == nil {
			return nil
		}
		return base64.StdEncoding.EncodeToString(x)
	case *Map:
		if x == nil {
			return nil
		}
		out := NewMap()
		for pair := x.Oldest(); pair != nil; pair = pair.Next() {
			out.Set(pair.Key, normalize(pair.Value, depth+1))
		}
		return out
	case []any:
		if x == nil {
			return nil
		}
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e, depth+1)
		}
		return out
	case map[string]any:
		if x == nil {
			return nil
		}
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := NewMap()
		for _, k := range keys {
			out.Set(k, normalize(x[k], depth+1))
		}
		return out
	case error:
		return x.Error()
	}

	switch v.(type) {
	case json.Marshaler, encoding.TextMarshaler:
		return project(v, depth)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface(), depth+1)
	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface(), depth+1)
		}
		return out
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		type entry struct {
			key string
			val reflect.Value
		}
		entries := make([]entry, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			entries = append(entries, entry{key: mapKey(iter.Key()), val: iter.Value()})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
		out := NewMap()
		for _, e := range entries {
			out.Set(e.key, normalize(e.val.Interface(), depth+1))
		}
		return out
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return finite(rv.Float())
	case reflect.Struct:
		out := NewMap()
		walkStruct(out, map[string]int{}, rv, 0, depth)
		return out
	}

	return opaque(v)
}

// walkStruct sets the fields of rv on out the way encoding/json names them:
// tag names, "-", omitempty and inlined embedded structs, in field order. A
// name already set from a shallower embedding level wins.
func walkStruct(out *Map, seen map[string]int, rv reflect.Value, level, depth int) {
	rt := rv.Type()
	for i := range rt.NumField() {
		f := rt.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")

		fv := rv.Field(i)
		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
				if fv.IsNil() {
					continue
				}
				fv = fv.Elem()
			}
			if ft.Kind() == reflect.Struct {
				walkStruct(out, seen, fv, level+1, depth)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if hasOption(opts, "omitempty") && emptyValue(fv) {
			continue
		}
		if prev, ok := seen[name]; ok && prev <= level {
			continue
		}
		seen[name] = level
		out.Set(name, normalize(fv.Interface(), depth+1))
	}
}

func hasOption(opts, want string) bool {
	for opts != "" {
		var o string
		o, opts, _ = strings.Cut(opts, ",")
		if o == want {
			return true
		}
	}
	return false
}

// emptyValue mirrors the omitempty rule of encoding/json.
func emptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}

// project converts v through its JSON encoding, keeping object field order.
func project(v any, depth int) any {
	data, err := json.Marshal(v)
	if err != nil {
		return opaque(v)
	}
	decoded, err := decodeOrdered(data)
	if err != nil {
		return opaque(v)
	}
	return normalize(decoded, depth+1)
}

// decodeOrdered decodes a JSON document into []any, *Map, json.Number and
// the JSON scalar types, preserving object key order.
func decodeOrdered(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		m := NewMap()
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := kt.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected object key %v", kt)
			}
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			m.Set(key, val)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return m, nil
	case '[':
		list := []any{}
		for dec.More() {
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			list = append(list, val)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return list, nil
	}
	return nil, fmt.Errorf("unexpected delimiter %v", delim)
}

func number(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return finite(f)
	}
	return n.String()
}

// finite maps NaN and the infinities to strings; JSON has no encoding for them.
func finite(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return f
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
		if b, err := tm.MarshalText(); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(k.Interface())
}

// opaque is the last-resort, precision-losing rendering.
func opaque(v any) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("<%T>", v)
		}
	}()
	return fmt.Sprintf("%v", v)
}
