package thermabridge

import (
	"fmt"
	"math/cmplx"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindComplex
	KindString
	KindBytes
	KindList
	KindMapping
	KindNDArray
	KindError
)

var kindNames = [...]string{
	KindNull:    "null",
	KindInt:     "int",
	KindFloat:   "float",
	KindComplex: "complex",
	KindString:  "string",
	KindBytes:   "bytes",
	KindList:    "list",
	KindMapping: "mapping",
	KindNDArray: "ndarray",
	KindError:   "error",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is the unit of data exchanged between peers. The set of
// implementations is closed: Null, Int, Float, Complex, String, Bytes, List,
// Mapping, *NDArray and *ErrorValue.
//
// A nil Value means "absent" (a failed decode or an unsupported Go value) and is
// distinct from Null.
type Value interface {
	Kind() Kind
	isValue()
}

// Null is the explicit empty value.
type Null struct{}

// Int is a 64-bit signed integer.
type Int int64

// Float is a 64-bit IEEE754 number.
type Float float64

// Complex is a pair of 64-bit IEEE754 numbers.
type Complex complex128

// String is text; it travels as UTF-16LE.
type String string

// Bytes is a raw octet sequence.
type Bytes []byte

// List is an ordered sequence of values.
type List []Value

// Pair is one entry of a Mapping.
type Pair struct {
	Key   Value
	Value Value
}

// Mapping is an ordered sequence of key/value pairs with unique keys.
type Mapping []Pair

// ErrorValue carries formatted failure text (typically a traceback) as a value.
// It also satisfies the error interface.
type ErrorValue struct {
	Text string
}

func (Null) Kind() Kind        { return KindNull }
func (Int) Kind() Kind         { return KindInt }
func (Float) Kind() Kind       { return KindFloat }
func (Complex) Kind() Kind     { return KindComplex }
func (String) Kind() Kind      { return KindString }
func (Bytes) Kind() Kind       { return KindBytes }
func (List) Kind() Kind        { return KindList }
func (Mapping) Kind() Kind     { return KindMapping }
func (*NDArray) Kind() Kind    { return KindNDArray }
func (*ErrorValue) Kind() Kind { return KindError }

func (Null) isValue()        {}
func (Int) isValue()         {}
func (Float) isValue()       {}
func (Complex) isValue()     {}
func (String) isValue()      {}
func (Bytes) isValue()       {}
func (List) isValue()        {}
func (Mapping) isValue()     {}
func (*NDArray) isValue()    {}
func (*ErrorValue) isValue() {}

// Error implements the error interface.
func (e *ErrorValue) Error() string { return e.Text }

// Get returns the value bound to key.
func (m Mapping) Get(key Value) (Value, bool) {
	for _, p := range m {
		if Equal(p.Key, key) {
			return p.Value, true
		}
	}
	return nil, false
}

// Lookup is Get with a String key.
func (m Mapping) Lookup(name string) (Value, bool) {
	return m.Get(String(name))
}

// Set binds key to v, replacing an existing binding in place or appending a new one.
func (m Mapping) Set(key, v Value) Mapping {
	for i, p := range m {
		if Equal(p.Key, key) {
			m[i].Value = v
			return m
		}
	}
	return append(m, Pair{Key: key, Value: v})
}

// Equal reports whether a and b hold the same value. Floats compare by value
// except that NaN equals NaN; NDArrays compare kind, shape and raw bytes.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Null:
		return true
	case Int:
		return av == b.(Int)
	case Float:
		bv := b.(Float)
		return av == bv || (av != av && bv != bv)
	case Complex:
		bv := b.(Complex)
		if av == bv {
			return true
		}
		return cmplx.IsNaN(complex128(av)) && cmplx.IsNaN(complex128(bv))
	case String:
		return av == b.(String)
	case Bytes:
		return string(av) == string(b.(Bytes))
	case List:
		bv := b.(List)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Mapping:
		bv := b.(Mapping)
		if len(av) != len(bv) {
			return false
		}
		for _, p := range av {
			other, ok := bv.Get(p.Key)
			if !ok || !Equal(p.Value, other) {
				return false
			}
		}
		return true
	case *NDArray:
		return av.equal(b.(*NDArray))
	case *ErrorValue:
		return av.Text == b.(*ErrorValue).Text
	}
	return false
}

// Format renders v in a compact, human readable form.
func Format(v Value) string {
	var sb strings.Builder
	formatTo(&sb, v)
	return sb.String()
}

func formatTo(sb *strings.Builder, v Value) {
	switch tv := v.(type) {
	case nil:
		sb.WriteString("<absent>")
	case Null:
		sb.WriteString("None")
	case Int:
		fmt.Fprintf(sb, "%d", int64(tv))
	case Float:
		fmt.Fprintf(sb, "%g", float64(tv))
	case Complex:
		fmt.Fprintf(sb, "%g", complex128(tv))
	case String:
		fmt.Fprintf(sb, "%q", string(tv))
	case Bytes:
		fmt.Fprintf(sb, "b%q", []byte(tv))
	case List:
		sb.WriteByte('[')
		for i, e := range tv {
			if i > 0 {
				sb.WriteString(", ")
			}
			formatTo(sb, e)
		}
		sb.WriteByte(']')
	case Mapping:
		sb.WriteByte('{')
		for i, p := range tv {
			if i > 0 {
				sb.WriteString(", ")
			}
			formatTo(sb, p.Key)
			sb.WriteString(": ")
			formatTo(sb, p.Value)
		}
		sb.WriteByte('}')
	case *NDArray:
		fmt.Fprintf(sb, "ndarray(dtype=%c, shape=%v)", tv.DType, tv.Shape)
	case *ErrorValue:
		fmt.Fprintf(sb, "error(%q)", tv.Text)
	}
}
