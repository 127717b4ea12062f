package models

import (
	"encoding/json"
	"fmt"
	"math"
)

// ValueKind discriminates the variants a Value can hold.
type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueString
	ValueNumber
	ValueBool
	ValueMap
	ValueList
)

// Value is a restricted attribute value: string, number, bool, nested Map, or
// List. Producers hand the mesh arbitrary JSON-shaped payloads; Value keeps
// that contract while staying a closed type the rest of the core can reason
// about.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	m    Map
	list []Value
}

// Map is an open string-keyed bag of values, used for envelope attrs and body.
type Map map[string]Value

// String wraps a string value.
func String(s string) Value { return Value{kind: ValueString, str: s} }

// Number wraps a numeric value.
func Number(f float64) Value { return Value{kind: ValueNumber, num: f} }

// Bool wraps a boolean value.
func Bool(b bool) Value { return Value{kind: ValueBool, b: b} }

// Object wraps a nested map value.
func Object(m Map) Value { return Value{kind: ValueMap, m: m} }

// List wraps a sequence of values.
func List(items ...Value) Value { return Value{kind: ValueList, list: items} }

// Kind reports which variant the value holds.
func (v Value) Kind() ValueKind { return v.kind }

// Text returns the string variant, or "" and false for any other kind.
func (v Value) Text() (string, bool) {
	if v.kind != ValueString {
		return "", false
	}
	return v.str, true
}

// Float returns the numeric variant, or 0 and false for any other kind.
func (v Value) Float() (float64, bool) {
	if v.kind != ValueNumber {
		return 0, false
	}
	return v.num, true
}

// Truth returns the boolean variant, or false and false for any other kind.
func (v Value) Truth() (bool, bool) {
	if v.kind != ValueBool {
		return false, false
	}
	return v.b, true
}

// Nested returns the map variant, or nil and false for any other kind.
func (v Value) Nested() (Map, bool) {
	if v.kind != ValueMap {
		return nil, false
	}
	return v.m, true
}

// Items returns the list variant, or nil and false for any other kind.
func (v Value) Items() ([]Value, bool) {
	if v.kind != ValueList {
		return nil, false
	}
	return v.list, true
}

// Clone returns a deep copy sharing no nested references with v.
func (v Value) Clone() Value {
	switch v.kind {
	case ValueMap:
		return Value{kind: ValueMap, m: v.m.Clone()}
	case ValueList:
		items := make([]Value, len(v.list))
		for i, item := range v.list {
			items[i] = item.Clone()
		}
		return Value{kind: ValueList, list: items}
	default:
		return v
	}
}

// MarshalJSON renders the value as its natural JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case ValueNull:
		return []byte("null"), nil
	case ValueString:
		return json.Marshal(v.str)
	case ValueNumber:
		return json.Marshal(v.num)
	case ValueBool:
		return json.Marshal(v.b)
	case ValueMap:
		return json.Marshal(v.m)
	case ValueList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	default:
		return nil, fmt.Errorf("unknown value kind %d", v.kind)
	}
}

// UnmarshalJSON accepts any JSON value and maps it onto the union.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts a dynamically typed value (typically decoded JSON) into a
// Value. Unsupported Go types are rejected rather than coerced.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return t.Clone(), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return Value{}, fmt.Errorf("non-finite number")
		}
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case Map:
		return Object(t.Clone()), nil
	case map[string]any:
		m, err := MapFromAny(t)
		if err != nil {
			return Value{}, err
		}
		return Object(m), nil
	case []any:
		items := make([]Value, 0, len(t))
		for i, item := range t {
			val, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			items = append(items, val)
		}
		return Value{kind: ValueList, list: items}, nil
	case []Value:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = item.Clone()
		}
		return Value{kind: ValueList, list: items}, nil
	default:
		return Value{}, fmt.Errorf("unsupported attribute type %T", x)
	}
}

// MapFromAny converts a decoded JSON object into a Map.
func MapFromAny(src map[string]any) (Map, error) {
	if src == nil {
		return nil, nil
	}
	out := make(Map, len(src))
	for key, raw := range src {
		val, err := FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		out[key] = val
	}
	return out, nil
}

// Clone returns a deep copy of the map. A nil map clones to nil.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for key, val := range m {
		out[key] = val.Clone()
	}
	return out
}

// Merge deep-merges extra into a copy of m; extra wins on key collision. When
// both sides hold nested maps the merge recurses instead of replacing.
func (m Map) Merge(extra Map) Map {
	out := m.Clone()
	if len(extra) == 0 {
		return out
	}
	if out == nil {
		out = make(Map, len(extra))
	}
	for key, val := range extra {
		if existing, ok := out[key]; ok {
			if base, baseOK := existing.Nested(); baseOK {
				if overlay, overlayOK := val.Nested(); overlayOK {
					out[key] = Object(base.Merge(overlay))
					continue
				}
			}
		}
		out[key] = val.Clone()
	}
	return out
}

// Text returns the string value stored under key, when present.
func (m Map) Text(key string) (string, bool) {
	val, ok := m[key]
	if !ok {
		return "", false
	}
	return val.Text()
}

// Float returns the numeric value stored under key, when present.
func (m Map) Float(key string) (float64, bool) {
	val, ok := m[key]
	if !ok {
		return 0, false
	}
	return val.Float()
}
