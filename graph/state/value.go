// Package state provides the typed key/value container shared across a
// single workflow execution: tagged values, versioned serialization,
// checksums, merge semantics for parallel branches, and snapshot
// transactions.
package state

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Kind identifies the concrete type carried by a Value.
//
// Once a key is first written, its Kind is stable for the rest of the
// execution. Replacing the kind requires an explicit Replace call.
type Kind int

const (
	// KindInvalid is the zero Kind; it never appears in a stored entry.
	KindInvalid Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindTime
	KindBytes
	KindList
	KindMap
)

// String returns the wire name of the kind, used in the serialized form.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "invalid"
	}
}

func kindFromString(s string) (Kind, error) {
	switch s {
	case "string":
		return KindString, nil
	case "int":
		return KindInt, nil
	case "float":
		return KindFloat, nil
	case "bool":
		return KindBool, nil
	case "time":
		return KindTime, nil
	case "bytes":
		return KindBytes, nil
	case "list":
		return KindList, nil
	case "map":
		return KindMap, nil
	default:
		return KindInvalid, fmt.Errorf("unknown value kind %q", s)
	}
}

// Value is a tagged variant over the types a State entry may hold.
//
// Values are immutable by convention: constructors copy reference types on
// the way in, and accessors copy them on the way out.
type Value struct {
	kind  Kind
	str   string
	i64   int64
	f64   float64
	b     bool
	t     time.Time
	bin   []byte
	list  []Value
	entry map[string]Value
}

// String constructs a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int constructs an int64 Value.
func Int(i int64) Value { return Value{kind: KindInt, i64: i} }

// Float constructs a float64 Value.
func Float(f float64) Value { return Value{kind: KindFloat, f64: f} }

// Bool constructs a bool Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Time constructs a timestamp Value, normalized to UTC so that
// serialization round-trips exactly.
func Time(t time.Time) Value { return Value{kind: KindTime, t: t.UTC()} }

// Bytes constructs a binary Value. The slice is copied.
func Bytes(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindBytes, bin: cp}
}

// List constructs a list Value. The slice is copied.
func List(vs ...Value) Value {
	cp := make([]Value, len(vs))
	copy(cp, vs)
	return Value{kind: KindList, list: cp}
}

// Map constructs a nested map Value. The map is copied.
func Map(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindMap, entry: cp}
}

// Kind reports the tag of the value.
func (v Value) Kind() Kind { return v.kind }

// IsZero reports whether the value is the invalid zero Value.
func (v Value) IsZero() bool { return v.kind == KindInvalid }

// AsString returns the string payload. The second return is false when the
// value holds a different kind.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsInt returns the int64 payload.
func (v Value) AsInt() (int64, bool) { return v.i64, v.kind == KindInt }

// AsFloat returns the float64 payload.
func (v Value) AsFloat() (float64, bool) { return v.f64, v.kind == KindFloat }

// AsBool returns the bool payload.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsTime returns the timestamp payload.
func (v Value) AsTime() (time.Time, bool) { return v.t, v.kind == KindTime }

// AsBytes returns a copy of the binary payload.
func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	cp := make([]byte, len(v.bin))
	copy(cp, v.bin)
	return cp, true
}

// AsList returns a copy of the list payload.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	cp := make([]Value, len(v.list))
	copy(cp, v.list)
	return cp, true
}

// AsMap returns a copy of the nested map payload.
func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	cp := make(map[string]Value, len(v.entry))
	for k, e := range v.entry {
		cp[k] = e
	}
	return cp, true
}

// Any unwraps the value into a plain Go representation: string, int64,
// float64, bool, time.Time, []byte, []any, or map[string]any. Useful for
// expression evaluation and templating.
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return v.i64
	case KindFloat:
		return v.f64
	case KindBool:
		return v.b
	case KindTime:
		return v.t
	case KindBytes:
		cp, _ := v.AsBytes()
		return cp
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Any()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.entry))
		for k, e := range v.entry {
			out[k] = e.Any()
		}
		return out
	default:
		return nil
	}
}

// FromAny converts a plain Go value into a Value. Supported inputs mirror
// Any's outputs plus the common numeric widths and the map[string]any /
// []any shapes produced by JSON decoding.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case string:
		return String(t), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case bool:
		return Bool(t), nil
	case time.Time:
		return Time(t), nil
	case []byte:
		return Bytes(t), nil
	case Value:
		return t, nil
	case []any:
		list := make([]Value, len(t))
		for i, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			list[i] = v
		}
		return List(list...), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Map(m), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}
}

// Equal reports deep equality of two values, including kind.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindInt:
		return v.i64 == o.i64
	case KindFloat:
		return v.f64 == o.f64
	case KindBool:
		return v.b == o.b
	case KindTime:
		return v.t.Equal(o.t)
	case KindBytes:
		return bytes.Equal(v.bin, o.bin)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.entry) != len(o.entry) {
			return false
		}
		for k, e := range v.entry {
			oe, ok := o.entry[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// wireValue is the self-describing JSON form of a Value. Int64 payloads are
// encoded as strings to survive JSON number coercion.
type wireValue struct {
	T string          `json:"t"`
	V json.RawMessage `json:"v"`
}

// MarshalJSON encodes the value in its self-describing wire form.
func (v Value) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.kind {
	case KindString:
		payload = v.str
	case KindInt:
		payload = strconv.FormatInt(v.i64, 10)
	case KindFloat:
		payload = v.f64
	case KindBool:
		payload = v.b
	case KindTime:
		payload = v.t.Format(time.RFC3339Nano)
	case KindBytes:
		payload = base64.StdEncoding.EncodeToString(v.bin)
	case KindList:
		payload = v.list
	case KindMap:
		payload = v.entry
	default:
		return nil, fmt.Errorf("cannot marshal invalid value")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{T: v.kind.String(), V: raw})
}

// UnmarshalJSON decodes the self-describing wire form.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind, err := kindFromString(w.T)
	if err != nil {
		return err
	}
	switch kind {
	case KindString:
		var s string
		if err := json.Unmarshal(w.V, &s); err != nil {
			return err
		}
		*v = String(s)
	case KindInt:
		var s string
		if err := json.Unmarshal(w.V, &s); err != nil {
			return err
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("decode int value: %w", err)
		}
		*v = Int(i)
	case KindFloat:
		var f float64
		if err := json.Unmarshal(w.V, &f); err != nil {
			return err
		}
		*v = Float(f)
	case KindBool:
		var b bool
		if err := json.Unmarshal(w.V, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case KindTime:
		var s string
		if err := json.Unmarshal(w.V, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("decode time value: %w", err)
		}
		*v = Time(t)
	case KindBytes:
		var s string
		if err := json.Unmarshal(w.V, &s); err != nil {
			return err
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("decode bytes value: %w", err)
		}
		*v = Value{kind: KindBytes, bin: b}
	case KindList:
		var list []Value
		if err := json.Unmarshal(w.V, &list); err != nil {
			return err
		}
		*v = Value{kind: KindList, list: list}
	case KindMap:
		var m map[string]Value
		if err := json.Unmarshal(w.V, &m); err != nil {
			return err
		}
		*v = Value{kind: KindMap, entry: m}
	}
	return nil
}

// appendCanonical writes a byte-stable representation of the value used for
// checksums. Map keys are sorted; floats use the shortest round-trip form.
func (v Value) appendCanonical(buf *bytes.Buffer) {
	buf.WriteString(v.kind.String())
	buf.WriteByte(':')
	switch v.kind {
	case KindString:
		buf.WriteString(strconv.Quote(v.str))
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.i64, 10))
	case KindFloat:
		buf.WriteString(strconv.FormatFloat(v.f64, 'g', -1, 64))
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindTime:
		buf.WriteString(v.t.Format(time.RFC3339Nano))
	case KindBytes:
		buf.WriteString(base64.StdEncoding.EncodeToString(v.bin))
	case KindList:
		buf.WriteByte('[')
		for i, e := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			e.appendCanonical(buf)
		}
		buf.WriteByte(']')
	case KindMap:
		keys := make([]string, 0, len(v.entry))
		for k := range v.entry {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(strconv.Quote(k))
			buf.WriteByte('=')
			v.entry[k].appendCanonical(buf)
		}
		buf.WriteByte('}')
	}
}
