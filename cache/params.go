package cache

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// KeySerializer turns request parameters into a stable string.
type KeySerializer interface {
	SerializeKey(method string, args ...any) string
}

// ParamSerializer is the reflection based KeySerializer used by Fingerprint.
// Map keys are sorted, slices and structs are walked recursively and anything
// else falls back to JSON, so equal parameter sets always produce equal output.
type ParamSerializer struct{}

// NewParamSerializer returns the default serializer.
func NewParamSerializer() KeySerializer {
	return ParamSerializer{}
}

// SerializeKey joins method and the encoded args with KeySeparator.
func (s ParamSerializer) SerializeKey(method string, args ...any) string {
	if len(args) == 0 {
		return method
	}

	parts := make([]string, 0, len(args)+1)
	parts = append(parts, method)
	for _, arg := range args {
		parts = append(parts, s.encode(reflect.ValueOf(arg)))
	}
	return strings.Join(parts, KeySeparator)
}

func (s ParamSerializer) encode(v reflect.Value) string {
	if !v.IsValid() {
		return "nil"
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return "nil"
		}
		return s.encode(v.Elem())
	case reflect.String:
		return v.String()
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case reflect.Slice:
		if v.IsNil() {
			return "nil"
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return fmt.Sprintf("bytes[%d]:%x", v.Len(), v.Bytes())
		}
		return s.encodeSeq("list", v)
	case reflect.Array:
		return s.encodeSeq("list", v)
	case reflect.Map:
		if v.IsNil() {
			return "nil"
		}
		return s.encodeMap(v)
	case reflect.Struct:
		return s.encodeStruct(v)
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		// not data; identity is the best we can do within a process
		return fmt.Sprintf("%s:%x", v.Kind(), v.Pointer())
	}

	return s.encodeJSON(v)
}

func (s ParamSerializer) encodeSeq(tag string, v reflect.Value) string {
	items := make([]string, v.Len())
	for i := range items {
		items[i] = s.encode(v.Index(i))
	}
	return fmt.Sprintf("%s[%d]:{%s}", tag, len(items), strings.Join(items, ","))
}

func (s ParamSerializer) encodeMap(v reflect.Value) string {
	type pair struct{ k, v string }

	pairs := make([]pair, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		pairs = append(pairs, pair{k: s.encode(iter.Key()), v: s.encode(iter.Value())})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].k < pairs[j].k })

	items := make([]string, len(pairs))
	for i, p := range pairs {
		items[i] = p.k + "=" + p.v
	}
	return fmt.Sprintf("map[%d]:{%s}", len(items), strings.Join(items, ","))
}

func (s ParamSerializer) encodeStruct(v reflect.Value) string {
	t := v.Type()
	fields := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		fields = append(fields, f.Name+":"+s.encode(v.Field(i)))
	}
	return fmt.Sprintf("struct:{%s}", strings.Join(fields, ","))
}

func (s ParamSerializer) encodeJSON(v reflect.Value) string {
	if !v.CanInterface() {
		return "opaque:" + v.Type().String()
	}
	data, err := json.Marshal(v.Interface())
	if err != nil {
		return "opaque:" + v.Type().String()
	}
	return "json:" + string(data)
}
