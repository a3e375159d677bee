package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
)

// ValueKind tags the shape of an answer value.
type ValueKind uint8

const (
	// KindEmpty marks a missing or unparseable answer.
	KindEmpty ValueKind = iota
	// KindText is a free-form or single-choice string.
	KindText
	// KindNumber is an integer answer.
	KindNumber
	// KindList is a multi-choice answer.
	KindList
	// KindRaw holds any other JSON value verbatim.
	KindRaw
)

// Value is a sanitized answer as stored in a session context.
// The zero value is KindEmpty.
type Value struct {
	kind ValueKind
	text string
	num  int64
	list []string
	raw  json.RawMessage
}

// Context maps answer keys to their sanitized values.
type Context map[string]Value

// Text returns a text value.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// Number returns an integer value.
func Number(n int64) Value { return Value{kind: KindNumber, num: n} }

// List returns a list value. A nil slice is stored as an empty list.
func List(items []string) Value {
	if items == nil {
		items = []string{}
	}
	return Value{kind: KindList, list: slices.Clone(items)}
}

// Raw wraps arbitrary JSON that is neither a string, number nor string list.
func Raw(data json.RawMessage) Value {
	return Value{kind: KindRaw, raw: bytes.Clone(data)}
}

// Empty returns the empty marker.
func Empty() Value { return Value{} }

// Kind reports the value's shape.
func (v Value) Kind() ValueKind { return v.kind }

// IsEmpty reports whether v carries no answer.
func (v Value) IsEmpty() bool { return v.kind == KindEmpty }

// Str returns the text payload.
func (v Value) Str() string { return v.text }

// Int returns the number payload.
func (v Value) Int() int64 { return v.num }

// Items returns a copy of the list payload.
func (v Value) Items() []string { return slices.Clone(v.list) }

// RawJSON returns the raw payload.
func (v Value) RawJSON() json.RawMessage { return bytes.Clone(v.raw) }

// String renders the value the way it appears in logs.
func (v Value) String() string {
	switch v.kind {
	case KindText:
		return v.text
	case KindNumber:
		return strconv.FormatInt(v.num, 10)
	case KindList:
		return fmt.Sprint(v.list)
	case KindRaw:
		return string(v.raw)
	default:
		return ""
	}
}

// Equal reports whether two values hold the same answer.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindText:
		return v.text == o.text
	case KindNumber:
		return v.num == o.num
	case KindList:
		return slices.Equal(v.list, o.list)
	case KindRaw:
		return bytes.Equal(v.raw, o.raw)
	default:
		return true
	}
}

// MarshalJSON encodes the value as null, a string, a number, an array or the raw object.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindText:
		return json.Marshal(v.text)
	case KindNumber:
		return json.Marshal(v.num)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindRaw:
		if len(v.raw) == 0 {
			return []byte("null"), nil
		}
		return v.raw, nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes any JSON value into the matching kind.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*v = Value{}
		return nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("decode text value: %w", err)
		}
		*v = Text(s)
		return nil
	case '[':
		var items []string
		if err := json.Unmarshal(trimmed, &items); err == nil {
			*v = List(items)
			return nil
		}
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err == nil {
			if i, err := n.Int64(); err == nil {
				*v = Number(i)
				return nil
			}
		}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return fmt.Errorf("decode raw value: %w", err)
	}
	*v = Raw(compact.Bytes())
	return nil
}

// Clone returns a deep copy of the context.
func (c Context) Clone() Context {
	if c == nil {
		return Context{}
	}
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v.clone()
	}
	return out
}

func (v Value) clone() Value {
	v.list = slices.Clone(v.list)
	v.raw = bytes.Clone(v.raw)
	return v
}
