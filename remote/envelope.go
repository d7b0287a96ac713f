package remote

import (
	"bytes"
	"encoding/json"
)

// Shape tells which variant an Envelope holds.
type Shape int

const (
	ShapeEmpty Shape = iota
	ShapeObject
	ShapeList
)

func (s Shape) String() string {
	switch s {
	case ShapeObject:
		return "object"
	case ShapeList:
		return "list"
	default:
		return "empty"
	}
}

// Envelope is a decoded response body: nothing, a JSON object or a JSON array.
// Scalars, null and malformed input all decode to the empty envelope.
type Envelope struct {
	shape  Shape
	object map[string]any
	list   []any
}

// Empty returns the empty envelope.
func Empty() Envelope { return Envelope{} }

// Object wraps m. A nil map yields the empty envelope.
func Object(m map[string]any) Envelope {
	if m == nil {
		return Envelope{}
	}
	return Envelope{shape: ShapeObject, object: m}
}

// List wraps items. A nil slice yields the empty envelope.
func List(items []any) Envelope {
	if items == nil {
		return Envelope{}
	}
	return Envelope{shape: ShapeList, list: items}
}

// Decode parses body without ever failing.
func Decode(body []byte) Envelope {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Empty()
	}

	switch body[0] {
	case '{':
		var m map[string]any
		if err := json.Unmarshal(body, &m); err != nil {
			return Empty()
		}
		return Object(m)
	case '[':
		var l []any
		if err := json.Unmarshal(body, &l); err != nil {
			return Empty()
		}
		return List(l)
	}
	return Empty()
}

// Shape returns the variant.
func (e Envelope) Shape() Shape { return e.shape }

// IsEmpty reports whether the envelope carries nothing.
func (e Envelope) IsEmpty() bool { return e.shape == ShapeEmpty }

// AsObject returns the object variant.
func (e Envelope) AsObject() (map[string]any, bool) {
	return e.object, e.shape == ShapeObject
}

// AsList returns the list variant.
func (e Envelope) AsList() ([]any, bool) {
	return e.list, e.shape == ShapeList
}

// Field returns a top level field of an object envelope.
func (e Envelope) Field(name string) (any, bool) {
	if e.shape != ShapeObject {
		return nil, false
	}
	v, ok := e.object[name]
	return v, ok
}

// String returns a string field, or "".
func (e Envelope) String(name string) string {
	v, _ := e.Field(name)
	s, _ := v.(string)
	return s
}

// Bool returns a bool field, or false.
func (e Envelope) Bool(name string) bool {
	v, _ := e.Field(name)
	b, _ := v.(bool)
	return b
}

// Items returns the records of a collection response: the list itself for a
// list envelope, the "data" array (or "results" array) of an object envelope,
// nil otherwise.
func (e Envelope) Items() []any {
	switch e.shape {
	case ShapeList:
		return e.list
	case ShapeObject:
		for _, field := range []string{"data", "results"} {
			if items, ok := e.object[field].([]any); ok {
				return items
			}
		}
	}
	return nil
}

// MarshalJSON encodes the empty envelope as null.
func (e Envelope) MarshalJSON() ([]byte, error) {
	switch e.shape {
	case ShapeObject:
		return json.Marshal(e.object)
	case ShapeList:
		return json.Marshal(e.list)
	}
	return []byte("null"), nil
}

// UnmarshalJSON never returns an error; unknown shapes become empty.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	*e = Decode(data)
	return nil
}
