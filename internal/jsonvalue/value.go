// Package jsonvalue implements a type-erased JSON value variant with
// deterministic, sorted-key encoding. No other package in this module
// imports it; the RpcLoop decodes tool-call arguments from json.RawMessage
// into per-tool structs.
package jsonvalue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Kind discriminates the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindObject
)

// Value is a type-erased JSON value: exactly one of its fields is
// meaningful, selected by Kind.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

func Null() Value                  { return Value{kind: KindNull} }
func Bool(b bool) Value            { return Value{kind: KindBool, b: b} }
func Int(i int64) Value            { return Value{kind: KindInt, i: i} }
func Float(f float64) Value        { return Value{kind: KindFloat, f: f} }
func String(s string) Value        { return Value{kind: KindString, s: s} }
func Array(vs ...Value) Value      { return Value{kind: KindArray, arr: vs} }
func Object(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindObject, obj: m}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)       { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool)   { return v.f, v.kind == KindFloat }
func (v Value) AsString() (string, bool)   { return v.s, v.kind == KindString }
func (v Value) AsArray() ([]Value, bool)   { return v.arr, v.kind == KindArray }
func (v Value) AsObject() (map[string]Value, bool) { return v.obj, v.kind == KindObject }

// Get returns the field named key from an Object value, or Null if the
// value is not an Object or the key is absent.
func (v Value) Get(key string) Value {
	if v.kind != KindObject {
		return Null()
	}
	if val, ok := v.obj[key]; ok {
		return val
	}
	return Null()
}

// MarshalJSON encodes the value, emitting Object keys in sorted order for
// reproducible output.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			eb, err := e.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(eb)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := v.obj[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("jsonvalue: unknown kind %d", v.kind)
	}
}

// UnmarshalJSON decodes into the value. Numbers without a fractional part
// or exponent are parsed as KindInt; everything else numeric is KindFloat.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := fromInterface(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func fromInterface(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("jsonvalue: invalid number %q: %w", t.String(), err)
		}
		return Float(f), nil
	case string:
		return String(t), nil
	case []interface{}:
		vs := make([]Value, len(t))
		for i, e := range t {
			ev, err := fromInterface(e)
			if err != nil {
				return Value{}, err
			}
			vs[i] = ev
		}
		return Array(vs...), nil
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			ev, err := fromInterface(e)
			if err != nil {
				return Value{}, err
			}
			m[k] = ev
		}
		return Object(m), nil
	default:
		return Value{}, fmt.Errorf("jsonvalue: unsupported type %T", raw)
	}
}

// Parse decodes a JSON-encoded byte slice into a Value, rejecting input
// that does not round-trip through an encode/decode cycle.
func Parse(data []byte) (Value, error) {
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return Value{}, err
	}
	reencoded, err := v.MarshalJSON()
	if err != nil {
		return Value{}, fmt.Errorf("jsonvalue: value does not round-trip: %w", err)
	}
	var check Value
	if err := json.Unmarshal(reencoded, &check); err != nil {
		return Value{}, fmt.Errorf("jsonvalue: re-parse failed: %w", err)
	}
	if !reflect.DeepEqual(v, check) {
		return Value{}, fmt.Errorf("jsonvalue: value does not round-trip: re-encoded as %s", reencoded)
	}
	return v, nil
}

// FromAny converts a plain Go value (as produced by encoding/json decoding
// into interface{}, or hand-built maps/slices/primitives) into a Value.
func FromAny(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case json.Number:
		return fromInterface(t)
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case float64:
		return Float(t), nil
	default:
		return fromInterface(raw)
	}
}
