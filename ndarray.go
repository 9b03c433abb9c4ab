package thermabridge

import (
	"encoding/binary"
	"math"
)

// Element kind codes for NDArray, using the single-character type codes of the
// numeric library on the interpreter side.
const (
	DTypeBool       byte = '?'
	DTypeInt8       byte = 'b'
	DTypeUint8      byte = 'B'
	DTypeInt16      byte = 'h'
	DTypeUint16     byte = 'H'
	DTypeInt32      byte = 'i'
	DTypeUint32     byte = 'I'
	DTypeLong       byte = 'l'
	DTypeUlong      byte = 'L'
	DTypeInt64      byte = 'q'
	DTypeUint64     byte = 'Q'
	DTypeFloat16    byte = 'e'
	DTypeFloat32    byte = 'f'
	DTypeFloat64    byte = 'd'
	DTypeComplex64  byte = 'F'
	DTypeComplex128 byte = 'D'
)

// 'l' and 'L' follow the LP64 convention of the unix peers.
var dtypeSizes = map[byte]int{
	DTypeBool:       1,
	DTypeInt8:       1,
	DTypeUint8:      1,
	DTypeInt16:      2,
	DTypeUint16:     2,
	DTypeInt32:      4,
	DTypeUint32:     4,
	DTypeLong:       8,
	DTypeUlong:      8,
	DTypeInt64:      8,
	DTypeUint64:     8,
	DTypeFloat16:    2,
	DTypeFloat32:    4,
	DTypeFloat64:    8,
	DTypeComplex64:  8,
	DTypeComplex128: 16,
}

// DTypeSize returns the element size for kind, or false if kind is not a
// supported numeric or boolean kind.
func DTypeSize(kind byte) (int, bool) {
	n, ok := dtypeSizes[kind]
	return n, ok
}

// NDArray is a typed multi-dimensional numeric buffer. Data holds the elements
// in row-major order, in the byte order of the host that produced them.
type NDArray struct {
	DType byte
	Shape []int
	Data  []byte
}

// NewNDArray builds an array from raw element bytes. It does not validate; an
// inconsistent array encodes to nothing.
func NewNDArray(dtype byte, shape []int, data []byte) *NDArray {
	return &NDArray{DType: dtype, Shape: append([]int(nil), shape...), Data: data}
}

// Zeros returns a zero-filled array of the given kind and shape.
func Zeros(dtype byte, shape ...int) *NDArray {
	a := &NDArray{DType: dtype, Shape: append([]int(nil), shape...)}
	if size, ok := DTypeSize(dtype); ok {
		a.Data = make([]byte, a.Len()*size)
	}
	return a
}

// NewFloat64Array returns a float64 array holding values with the given shape.
// A nil shape means one dimension of len(values).
func NewFloat64Array(shape []int, values []float64) *NDArray {
	if shape == nil {
		shape = []int{len(values)}
	}
	data := make([]byte, 8*len(values))
	for i, v := range values {
		binary.NativeEndian.PutUint64(data[i*8:], math.Float64bits(v))
	}
	return NewNDArray(DTypeFloat64, shape, data)
}

// NewInt64Array returns an int64 array holding values with the given shape.
func NewInt64Array(shape []int, values []int64) *NDArray {
	if shape == nil {
		shape = []int{len(values)}
	}
	data := make([]byte, 8*len(values))
	for i, v := range values {
		binary.NativeEndian.PutUint64(data[i*8:], uint64(v))
	}
	return NewNDArray(DTypeInt64, shape, data)
}

// Len returns the number of elements, the product of the dimension sizes.
func (a *NDArray) Len() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// ItemSize returns the size in bytes of one element, 0 for unsupported kinds.
func (a *NDArray) ItemSize() int {
	n, _ := DTypeSize(a.DType)
	return n
}

// Valid reports whether the array has a supported kind, non-negative dimensions
// and a buffer matching its shape.
func (a *NDArray) Valid() bool {
	if a == nil {
		return false
	}
	size, ok := DTypeSize(a.DType)
	if !ok {
		return false
	}
	for _, d := range a.Shape {
		if d < 0 {
			return false
		}
	}
	return len(a.Data) == a.Len()*size
}

// Float64s converts the elements to float64. Complex kinds yield their real part.
func (a *NDArray) Float64s() []float64 {
	if !a.Valid() {
		return nil
	}
	out := make([]float64, a.Len())
	size := a.ItemSize()
	ne := binary.NativeEndian
	for i := range out {
		b := a.Data[i*size:]
		switch a.DType {
		case DTypeBool, DTypeUint8:
			out[i] = float64(b[0])
		case DTypeInt8:
			out[i] = float64(int8(b[0]))
		case DTypeInt16:
			out[i] = float64(int16(ne.Uint16(b)))
		case DTypeUint16:
			out[i] = float64(ne.Uint16(b))
		case DTypeInt32:
			out[i] = float64(int32(ne.Uint32(b)))
		case DTypeUint32:
			out[i] = float64(ne.Uint32(b))
		case DTypeLong, DTypeInt64:
			out[i] = float64(int64(ne.Uint64(b)))
		case DTypeUlong, DTypeUint64:
			out[i] = float64(ne.Uint64(b))
		case DTypeFloat16:
			out[i] = float64(halfToFloat32(ne.Uint16(b)))
		case DTypeFloat32, DTypeComplex64:
			out[i] = float64(math.Float32frombits(ne.Uint32(b)))
		case DTypeFloat64, DTypeComplex128:
			out[i] = math.Float64frombits(ne.Uint64(b))
		}
	}
	return out
}

// Int64s converts the elements to int64, truncating floating point kinds.
func (a *NDArray) Int64s() []int64 {
	f := a.Float64s()
	if f == nil {
		return nil
	}
	out := make([]int64, len(f))
	switch a.DType {
	case DTypeLong, DTypeInt64, DTypeUlong, DTypeUint64:
		ne := binary.NativeEndian
		for i := range out {
			out[i] = int64(ne.Uint64(a.Data[i*8:]))
		}
	default:
		for i, v := range f {
			out[i] = int64(v)
		}
	}
	return out
}

func (a *NDArray) equal(b *NDArray) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.DType != b.DType || len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return string(a.Data) == string(b.Data)
}

func halfToFloat32(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := int32(h>>10) & 0x1f
	frac := uint32(h) & 0x3ff
	switch exp {
	case 0:
		if frac == 0 {
			return math.Float32frombits(sign)
		}
		// subnormal
		for frac&0x400 == 0 {
			frac <<= 1
			exp--
		}
		exp++
		frac &= 0x3ff
	case 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | frac<<13)
	}
	return math.Float32frombits(sign | uint32(exp+112)<<23 | frac<<13)
}
