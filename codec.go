package thermabridge

import (
	"encoding/binary"
	"errors"
	"math"
	"unicode/utf16"
)

// Wire type tags. Every encoded value starts with one of these as a 4-byte
// little-endian integer.
const (
	codeError                uint32 = 0
	codeInt                  uint32 = 1
	codeLong                 uint32 = 2
	codeDouble               uint32 = 3
	codeComplex              uint32 = 4
	codeString               uint32 = 5
	codeBytes                uint32 = 6
	codeList                 uint32 = 7
	codeDict                 uint32 = 8
	codePointVector          uint32 = 9
	codeComplexPointVector   uint32 = 10
	codeIntervalSampleVector uint32 = 11
	codeNDArray              uint32 = 12
	codeNone                 uint32 = 13
)

// ErrMalformedValue is returned by CodecSerializer when a buffer does not hold a
// decodable value.
var ErrMalformedValue = errors.New("thermabridge: malformed value")

// ErrUnsupportedValue is returned by CodecSerializer when a Go value has no wire
// representation.
var ErrUnsupportedValue = errors.New("thermabridge: unsupported value")

// maxDepth bounds recursion when decoding nested containers.
const maxDepth = 512

var le = binary.LittleEndian

// Encode serializes v. Unsupported values (nil, invalid arrays) encode to an
// empty slice, which containers use as the signal to drop the entry.
func Encode(v Value) []byte {
	return AppendEncode(nil, v)
}

// AppendEncode appends the encoding of v to dst. If v is unsupported dst is
// returned unchanged.
func AppendEncode(dst []byte, v Value) []byte {
	switch tv := v.(type) {
	case Null:
		return le.AppendUint32(dst, codeNone)
	case Int:
		dst = le.AppendUint32(dst, codeInt)
		return le.AppendUint64(dst, uint64(tv))
	case Float:
		dst = le.AppendUint32(dst, codeDouble)
		return le.AppendUint64(dst, math.Float64bits(float64(tv)))
	case Complex:
		dst = le.AppendUint32(dst, codeComplex)
		dst = le.AppendUint64(dst, math.Float64bits(real(tv)))
		return le.AppendUint64(dst, math.Float64bits(imag(tv)))
	case String:
		return appendString(dst, string(tv))
	case Bytes:
		dst = le.AppendUint32(dst, codeBytes)
		dst = le.AppendUint32(dst, uint32(len(tv)))
		return append(dst, tv...)
	case List:
		start := len(dst)
		dst = le.AppendUint32(dst, codeList)
		dst = le.AppendUint32(dst, 0)
		count := uint32(0)
		for _, e := range tv {
			n := len(dst)
			dst = AppendEncode(dst, e)
			if len(dst) > n {
				count++
			}
		}
		le.PutUint32(dst[start+4:], count)
		return dst
	case Mapping:
		start := len(dst)
		dst = le.AppendUint32(dst, codeDict)
		dst = le.AppendUint32(dst, 0)
		count := uint32(0)
		for _, p := range tv {
			mark := len(dst)
			dst = AppendEncode(dst, p.Key)
			if len(dst) == mark {
				continue
			}
			keyEnd := len(dst)
			dst = AppendEncode(dst, p.Value)
			if len(dst) == keyEnd {
				dst = dst[:mark]
				continue
			}
			count++
		}
		le.PutUint32(dst[start+4:], count)
		return dst
	case *NDArray:
		if !tv.Valid() {
			return dst
		}
		dst = le.AppendUint32(dst, codeNDArray)
		dst = append(dst, tv.DType)
		dst = le.AppendUint32(dst, uint32(len(tv.Shape)))
		for _, d := range tv.Shape {
			dst = le.AppendUint32(dst, uint32(d))
		}
		return append(dst, tv.Data...)
	case *ErrorValue:
		if tv == nil {
			return dst
		}
		dst = le.AppendUint32(dst, codeError)
		return appendString(dst, tv.Text)
	}
	return dst
}

func appendString(dst []byte, s string) []byte {
	units := utf16.Encode([]rune(s))
	dst = le.AppendUint32(dst, codeString)
	dst = le.AppendUint32(dst, uint32(2*len(units)))
	for _, u := range units {
		dst = le.AppendUint16(dst, u)
	}
	return dst
}

// Decode reads one value from the front of b and returns it with the number of
// bytes consumed. Trailing bytes are left alone so sibling values can be parsed
// by the caller. On truncated input or an unknown tag it returns (nil, 0).
func Decode(b []byte) (Value, int) {
	return decode(b, 0)
}

func decode(b []byte, depth int) (Value, int) {
	if len(b) < 4 || depth > maxDepth {
		return nil, 0
	}
	switch le.Uint32(b) {
	case codeInt, codeLong:
		if len(b) < 12 {
			return nil, 0
		}
		return Int(int64(le.Uint64(b[4:]))), 12
	case codeDouble:
		if len(b) < 12 {
			return nil, 0
		}
		return Float(math.Float64frombits(le.Uint64(b[4:]))), 12
	case codeComplex:
		if len(b) < 20 {
			return nil, 0
		}
		re := math.Float64frombits(le.Uint64(b[4:]))
		im := math.Float64frombits(le.Uint64(b[12:]))
		return Complex(complex(re, im)), 20
	case codeString:
		s, n, ok := decodeString(b)
		if !ok {
			return nil, 0
		}
		return String(s), n
	case codeBytes:
		l, ok := length(b, 4)
		if !ok || len(b)-8 < l {
			return nil, 0
		}
		return Bytes(append([]byte{}, b[8:8+l]...)), 8 + l
	case codeList:
		count, ok := length(b, 4)
		if !ok {
			return nil, 0
		}
		pos := 8
		out := make(List, 0, min(count, 1024))
		for i := 0; i < count; i++ {
			v, n := decode(b[pos:], depth+1)
			if v == nil {
				return nil, 0
			}
			out = append(out, v)
			pos += n
		}
		return out, pos
	case codeDict:
		count, ok := length(b, 4)
		if !ok {
			return nil, 0
		}
		pos := 8
		out := make(Mapping, 0, min(count, 1024))
		for i := 0; i < count; i++ {
			k, n := decode(b[pos:], depth+1)
			if k == nil {
				return nil, 0
			}
			pos += n
			v, n := decode(b[pos:], depth+1)
			if v == nil {
				return nil, 0
			}
			pos += n
			out = out.Set(k, v)
		}
		return out, pos
	case codePointVector, codeComplexPointVector, codeIntervalSampleVector:
		v, n := decode(b[4:], depth+1)
		if v == nil {
			return nil, 0
		}
		return v, n + 4
	case codeNDArray:
		return decodeNDArray(b)
	case codeNone:
		return Null{}, 4
	case codeError:
		if len(b) < 8 || le.Uint32(b[4:]) != codeString {
			return nil, 0
		}
		s, n, ok := decodeString(b[4:])
		if !ok {
			return nil, 0
		}
		return &ErrorValue{Text: s}, n + 4
	}
	return nil, 0
}

// length reads a non-negative int32 length field at off.
func length(b []byte, off int) (int, bool) {
	if len(b) < off+4 {
		return 0, false
	}
	l := int32(le.Uint32(b[off:]))
	if l < 0 {
		return 0, false
	}
	return int(l), true
}

func decodeString(b []byte) (string, int, bool) {
	l, ok := length(b, 4)
	if !ok || len(b)-8 < l || l%2 != 0 {
		return "", 0, false
	}
	units := make([]uint16, l/2)
	for i := range units {
		units[i] = le.Uint16(b[8+2*i:])
	}
	return string(utf16.Decode(units)), 8 + l, true
}

func decodeNDArray(b []byte) (Value, int) {
	if len(b) < 9 {
		return nil, 0
	}
	dtype := b[4]
	size, ok := DTypeSize(dtype)
	if !ok {
		return nil, 0
	}
	ndim, ok := length(b, 5)
	if !ok || (len(b)-9)/4 < ndim {
		return nil, 0
	}
	pos := 9
	shape := make([]int, ndim)
	count := 1
	for i := range shape {
		d, ok := length(b, pos)
		if !ok {
			return nil, 0
		}
		shape[i] = d
		pos += 4
		if d != 0 && count > (len(b)-pos)/d {
			// more elements than bytes left, cannot be complete
			count = -1
			break
		}
		count *= d
	}
	if count < 0 || (len(b)-pos)/size < count {
		return nil, 0
	}
	nbytes := count * size
	data := append([]byte{}, b[pos:pos+nbytes]...)
	return &NDArray{DType: dtype, Shape: shape, Data: data}, pos + nbytes
}

// CodecSerializer implements Serializer with the binary value codec.
type CodecSerializer struct{}

// Marshal converts v with FromGo and encodes it.
func (CodecSerializer) Marshal(v interface{}) ([]byte, error) {
	val := FromGo(v)
	if val == nil {
		return nil, ErrUnsupportedValue
	}
	b := Encode(val)
	if len(b) == 0 {
		return nil, ErrUnsupportedValue
	}
	return b, nil
}

// Unmarshal decodes data into v, which must be a *Value or a *interface{}.
func (CodecSerializer) Unmarshal(data []byte, v interface{}) error {
	val, n := Decode(data)
	if val == nil || n == 0 {
		return ErrMalformedValue
	}
	switch dst := v.(type) {
	case *Value:
		*dst = val
	case *interface{}:
		*dst = ToGo(val)
	default:
		return ErrUnsupportedValue
	}
	return nil
}
