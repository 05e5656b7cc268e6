// Package value implements the typed Value tree (spec C1): the tagged union
// that carries every inter-component payload in the runtime (Broker packets,
// VM call inputs/outputs, tool arguments and results). It is grounded on the
// teacher's preference for explicit tagged Go structs over dynamic `any` maps
// (internal/llm.Message, ToolCall, CompletionResponse all hand-roll a typed
// shape rather than carrying a bag of interface{}); Value generalizes that
// idiom into a single recursive sum type instead of one struct per message
// shape, since here the shape is the whole point.
package value

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"

	"ailoy/internal/aerr"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat32
	KindFloat64
	KindString
	KindBytes
	KindArray
	KindMap
	KindNDArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case KindNDArray:
		return "ndarray"
	default:
		return "unknown"
	}
}

// KV is one entry of an ordered map; order of insertion is preserved and is
// the canonical JSON key order (spec §4.1: "deterministic key ordering =
// insertion order").
type KV struct {
	Key string
	Val Value
}

// DType describes the element type of an NDArray.
type DType struct {
	Code  string // "int" | "uint" | "float"
	Bits  int    // 8 | 16 | 32 | 64
	Lanes int    // >=1, vector width per element; 1 for scalar element types
}

// NDArray is a shaped, flat-buffered tensor payload.
type NDArray struct {
	Shape []int
	DType DType
	Data  []byte
}

// Value is the tagged union. Only the field matching Kind is meaningful.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	u     uint64
	f32   float32
	f64   float64
	s     string
	bytes []byte
	arr   []Value
	kv    []KV
	nd    NDArray
}

// Constructors -----------------------------------------------------------

func Null() Value                 { return Value{kind: KindNull} }
func Bool(b bool) Value           { return Value{kind: KindBool, b: b} }
func Int(i int64) Value           { return Value{kind: KindInt, i: i} }
func Uint(u uint64) Value         { return Value{kind: KindUint, u: u} }
func Float32(f float32) Value     { return Value{kind: KindFloat32, f32: f} }
func Float64(f float64) Value     { return Value{kind: KindFloat64, f64: f} }
func String(s string) Value       { return Value{kind: KindString, s: s} }
func Bytes(b []byte) Value        { return Value{kind: KindBytes, bytes: append([]byte(nil), b...)} }
func Array(vs ...Value) Value     { return Value{kind: KindArray, arr: append([]Value(nil), vs...)} }
func NewNDArray(n NDArray) Value  { return Value{kind: KindNDArray, nd: n} }

// Map builds an ordered-map Value from KV pairs, preserving the given order.
func Map(kvs ...KV) Value { return Value{kind: KindMap, kv: append([]KV(nil), kvs...)} }

// NewMap returns an empty ordered map Value ready for Set.
func NewMap() Value { return Value{kind: KindMap} }

// Set appends or replaces key k with v, preserving first-insertion order.
func (v *Value) Set(k string, val Value) {
	if v.kind != KindMap {
		*v = Value{kind: KindMap}
	}
	for i := range v.kv {
		if v.kv[i].Key == k {
			v.kv[i].Val = val
			return
		}
	}
	v.kv = append(v.kv, KV{Key: k, Val: val})
}

// Append adds an element to an array Value (auto-initializing if null).
func (v *Value) Append(val Value) {
	if v.kind != KindArray {
		*v = Value{kind: KindArray}
	}
	v.arr = append(v.arr, val)
}

// Kind-tests --------------------------------------------------------------

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Typed downcasts ----------------------------------------------------------
// Each returns aerr.Validation-kinded error ("type_mismatch" per spec §4.1)
// on a Kind mismatch.

func (v Value) Bool() (bool, error) {
	if v.kind != KindBool {
		return false, typeMismatch(KindBool, v.kind)
	}
	return v.b, nil
}

func (v Value) Int() (int64, error) {
	switch v.kind {
	case KindInt:
		return v.i, nil
	case KindUint:
		return int64(v.u), nil
	default:
		return 0, typeMismatch(KindInt, v.kind)
	}
}

func (v Value) Uint() (uint64, error) {
	if v.kind != KindUint {
		return 0, typeMismatch(KindUint, v.kind)
	}
	return v.u, nil
}

func (v Value) Float64() (float64, error) {
	switch v.kind {
	case KindFloat64:
		return v.f64, nil
	case KindFloat32:
		return float64(v.f32), nil
	case KindInt:
		return float64(v.i), nil
	case KindUint:
		return float64(v.u), nil
	default:
		return 0, typeMismatch(KindFloat64, v.kind)
	}
}

func (v Value) Float32() (float32, error) {
	if v.kind != KindFloat32 {
		return 0, typeMismatch(KindFloat32, v.kind)
	}
	return v.f32, nil
}

func (v Value) String() (string, error) {
	if v.kind != KindString {
		return "", typeMismatch(KindString, v.kind)
	}
	return v.s, nil
}

func (v Value) Bytes() ([]byte, error) {
	if v.kind != KindBytes {
		return nil, typeMismatch(KindBytes, v.kind)
	}
	return v.bytes, nil
}

func (v Value) Array() ([]Value, error) {
	if v.kind != KindArray {
		return nil, typeMismatch(KindArray, v.kind)
	}
	return v.arr, nil
}

// MapEntries returns the ordered key/value pairs of a map Value.
func (v Value) MapEntries() ([]KV, error) {
	if v.kind != KindMap {
		return nil, typeMismatch(KindMap, v.kind)
	}
	return v.kv, nil
}

// Get looks up a key in a map Value; ok is false if absent or not a map.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	for _, e := range v.kv {
		if e.Key == key {
			return e.Val, true
		}
	}
	return Value{}, false
}

func (v Value) NDArray() (NDArray, error) {
	if v.kind != KindNDArray {
		return NDArray{}, typeMismatch(KindNDArray, v.kind)
	}
	return v.nd, nil
}

func typeMismatch(want, got Kind) error {
	return aerr.New(aerr.Validation, "type_mismatch: want %s, got %s", want, got)
}

// JSON ----------------------------------------------------------------------

// MarshalJSON encodes the Value canonically: maps preserve insertion order,
// bytes are base64, n-d arrays serialize as {shape,dtype,data}.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindInt:
		fmt.Fprintf(buf, "%d", v.i)
	case KindUint:
		fmt.Fprintf(buf, "%d", v.u)
	case KindFloat32:
		encodeFloat(buf, float64(v.f32))
	case KindFloat64:
		encodeFloat(buf, v.f64)
	case KindString:
		b, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindBytes:
		b, err := json.Marshal(base64.StdEncoding.EncodeToString(v.bytes))
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindArray:
		buf.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := e.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		buf.WriteByte('{')
		for i, e := range v.kv {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(e.Key)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := e.Val.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case KindNDArray:
		buf.WriteString(`{"shape":[`)
		for i, s := range v.nd.Shape {
			if i > 0 {
				buf.WriteByte(',')
			}
			fmt.Fprintf(buf, "%d", s)
		}
		buf.WriteString(`],"dtype":{"code":`)
		cb, _ := json.Marshal(v.nd.DType.Code)
		buf.Write(cb)
		fmt.Fprintf(buf, `,"bits":%d,"lanes":%d},"data":`, v.nd.DType.Bits, v.nd.DType.Lanes)
		db, _ := json.Marshal(base64.StdEncoding.EncodeToString(v.nd.Data))
		buf.Write(db)
		buf.WriteByte('}')
	default:
		return aerr.New(aerr.Validation, "unknown value kind %d", v.kind)
	}
	return nil
}

func encodeFloat(buf *bytes.Buffer, f float64) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		buf.WriteString("null")
		return
	}
	fmt.Fprintf(buf, "%g", f)
}

// UnmarshalJSON decodes JSON into a generic Value: numbers with a fractional
// part or exponent become float64, integral numbers become int64, objects
// preserve source key order via a streaming decoder (encoding/json's
// json.Decoder emits object keys in document order).
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	val, err := decodeValue(dec)
	if err != nil {
		return aerr.Wrap(aerr.Validation, err, "parse_error")
	}
	*v = val
	return nil
}

// ParseJSON decodes data into a new Value (convenience wrapper).
func ParseJSON(data []byte) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, err
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
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
			return Value{}, err
		}
		return Float64(f), nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			arr := Value{kind: KindArray}
			for dec.More() {
				el, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				arr.arr = append(arr.arr, el)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return Value{}, err
			}
			return arr, nil
		case '{':
			m := Value{kind: KindMap}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, _ := keyTok.(string)
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				m.kv = append(m.kv, KV{Key: key, Val: val})
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return Value{}, err
			}
			return m, nil
		}
	}
	return Value{}, aerr.New(aerr.Validation, "parse_error: unexpected token %v", tok)
}
