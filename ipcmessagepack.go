package thermabridge

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// Keys of the single-entry maps that carry kinds msgpack has no type for.
const (
	msgpackComplexKey = "__complex__"
	msgpackNDArrayKey = "__ndarray__"
	msgpackErrorKey   = "__error__"
)

// EncodeMsgpack writes v as MessagePack. Mapping order is kept. Complex numbers,
// arrays and errors become tagged maps:
//
//	{"__complex__": [re, im]}
//	{"__ndarray__": "<kind>", "shape": [...], "data": <bin>}
//	{"__error__": "<text>"}
func EncodeMsgpack(v Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := encodeMsgpackValue(enc, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeMsgpack reads one MessagePack value written by EncodeMsgpack or by any
// other encoder. Booleans become Int, unsigned integers are reinterpreted as
// Int.
func DecodeMsgpack(data []byte) (Value, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	return decodeMsgpackValue(dec, 0)
}

func encodeMsgpackValue(enc *msgpack.Encoder, v Value) error {
	switch tv := v.(type) {
	case Null:
		return enc.EncodeNil()
	case Int:
		return enc.EncodeInt(int64(tv))
	case Float:
		return enc.EncodeFloat64(float64(tv))
	case Complex:
		if err := enc.EncodeMapLen(1); err != nil {
			return err
		}
		if err := enc.EncodeString(msgpackComplexKey); err != nil {
			return err
		}
		if err := enc.EncodeArrayLen(2); err != nil {
			return err
		}
		if err := enc.EncodeFloat64(real(tv)); err != nil {
			return err
		}
		return enc.EncodeFloat64(imag(tv))
	case String:
		return enc.EncodeString(string(tv))
	case Bytes:
		return enc.EncodeBytes(tv)
	case List:
		if err := enc.EncodeArrayLen(len(tv)); err != nil {
			return err
		}
		for _, e := range tv {
			if err := encodeMsgpackValue(enc, e); err != nil {
				return err
			}
		}
		return nil
	case Mapping:
		if err := enc.EncodeMapLen(len(tv)); err != nil {
			return err
		}
		for _, p := range tv {
			if err := encodeMsgpackValue(enc, p.Key); err != nil {
				return err
			}
			if err := encodeMsgpackValue(enc, p.Value); err != nil {
				return err
			}
		}
		return nil
	case *NDArray:
		if !tv.Valid() {
			return fmt.Errorf("%w: invalid ndarray", ErrUnsupportedValue)
		}
		if err := enc.EncodeMapLen(3); err != nil {
			return err
		}
		if err := enc.EncodeString(msgpackNDArrayKey); err != nil {
			return err
		}
		if err := enc.EncodeString(string(tv.DType)); err != nil {
			return err
		}
		if err := enc.EncodeString("shape"); err != nil {
			return err
		}
		if err := enc.Encode(tv.Shape); err != nil {
			return err
		}
		if err := enc.EncodeString("data"); err != nil {
			return err
		}
		return enc.EncodeBytes(tv.Data)
	case *ErrorValue:
		if err := enc.EncodeMapLen(1); err != nil {
			return err
		}
		if err := enc.EncodeString(msgpackErrorKey); err != nil {
			return err
		}
		return enc.EncodeString(tv.Text)
	}
	return fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

func decodeMsgpackValue(dec *msgpack.Decoder, depth int) (Value, error) {
	if depth > maxDepth {
		return nil, errors.New("thermabridge: msgpack value nested too deeply")
	}
	c, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}
	switch {
	case msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32:
		n, err := dec.DecodeMapLen()
		if err != nil {
			return nil, err
		}
		m := make(Mapping, 0, n)
		for i := 0; i < n; i++ {
			k, err := decodeMsgpackValue(dec, depth+1)
			if err != nil {
				return nil, err
			}
			v, err := decodeMsgpackValue(dec, depth+1)
			if err != nil {
				return nil, err
			}
			m = m.Set(k, v)
		}
		return fromMsgpackMap(m), nil
	case msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return nil, err
		}
		l := make(List, 0, n)
		for i := 0; i < n; i++ {
			v, err := decodeMsgpackValue(dec, depth+1)
			if err != nil {
				return nil, err
			}
			l = append(l, v)
		}
		return l, nil
	}
	x, err := dec.DecodeInterface()
	if err != nil {
		return nil, err
	}
	v := FromGo(x)
	if v == nil {
		return nil, fmt.Errorf("%w: msgpack %T", ErrUnsupportedValue, x)
	}
	return v, nil
}

// fromMsgpackMap turns the tagged maps written by EncodeMsgpack back into their
// kinds. Other maps are returned unchanged.
func fromMsgpackMap(m Mapping) Value {
	if v, ok := m.Lookup(msgpackComplexKey); ok && len(m) == 1 {
		if parts, ok := v.(List); ok && len(parts) == 2 {
			re, ok1 := parts[0].(Float)
			im, ok2 := parts[1].(Float)
			if ok1 && ok2 {
				return Complex(complex(float64(re), float64(im)))
			}
		}
	}
	if v, ok := m.Lookup(msgpackErrorKey); ok && len(m) == 1 {
		if text, ok := v.(String); ok {
			return &ErrorValue{Text: string(text)}
		}
	}
	if v, ok := m.Lookup(msgpackNDArrayKey); ok && len(m) == 3 {
		dtype, ok1 := v.(String)
		shapeV, _ := m.Lookup("shape")
		dataV, _ := m.Lookup("data")
		shapeL, ok2 := shapeV.(List)
		data, ok3 := dataV.(Bytes)
		if ok1 && ok2 && ok3 && len(dtype) == 1 {
			shape := make([]int, len(shapeL))
			for i, d := range shapeL {
				n, ok := d.(Int)
				if !ok {
					return m
				}
				shape[i] = int(n)
			}
			if a := NewNDArray(dtype[0], shape, []byte(data)); a.Valid() {
				return a
			}
		}
	}
	return m
}

// MsgpackSerializer implements Serializer with MessagePack. Values (and Go
// values FromGo accepts) go through EncodeMsgpack; decoding into a *Value or
// *interface{} goes through DecodeMsgpack, anything else through msgpack's own
// reflection.
type MsgpackSerializer struct{}

func (ms MsgpackSerializer) Marshal(v interface{}) ([]byte, error) {
	if val := FromGo(v); val != nil {
		return EncodeMsgpack(val)
	}
	return msgpack.Marshal(v)
}

func (ms MsgpackSerializer) Unmarshal(data []byte, v interface{}) error {
	switch dst := v.(type) {
	case *Value:
		val, err := DecodeMsgpack(data)
		if err != nil {
			return err
		}
		*dst = val
		return nil
	case *interface{}:
		val, err := DecodeMsgpack(data)
		if err != nil {
			return err
		}
		*dst = ToGo(val)
		return nil
	}
	return msgpack.Unmarshal(data, v)
}
