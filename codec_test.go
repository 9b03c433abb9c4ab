package thermabridge

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeInteger(t *testing.T) {
	b := Encode(Int(42))
	assert.Equal(t, []byte{1, 0, 0, 0, 42, 0, 0, 0, 0, 0, 0, 0}, b)
}

func TestEncodeStringUsesUTF16ByteLength(t *testing.T) {
	b := Encode(String("hé"))
	require.Len(t, b, 8+4)
	assert.Equal(t, uint32(codeString), binary.LittleEndian.Uint32(b))
	assert.Equal(t, uint32(4), binary.LittleEndian.Uint32(b[4:]))
	assert.Equal(t, []byte{'h', 0, 0xe9, 0}, b[8:])

	// a character outside the BMP takes a surrogate pair
	b = Encode(String("𝄞"))
	assert.Equal(t, uint32(4), binary.LittleEndian.Uint32(b[4:]))
	v, n := Decode(b)
	assert.Equal(t, len(b), n)
	assert.Equal(t, String("𝄞"), v)
}

func TestRoundTrip(t *testing.T) {
	values := []Value{
		Null{},
		Int(-7),
		Int(math.MaxInt64),
		Float(3.25),
		Complex(complex(1, -2)),
		String(""),
		String("Thermavip"),
		Bytes{0, 1, 2, 255},
		List{},
		List{Int(1), String("a"), List{Float(0.5)}},
		Mapping{{Key: String("a"), Value: Int(1)}, {Key: Int(2), Value: Null{}}},
		Zeros(DTypeFloat64, 2, 3),
		NewInt64Array(nil, []int64{1, -2, 3}),
		&ErrorValue{Text: "Traceback (most recent call last):\nValueError: bad"},
	}
	for _, v := range values {
		t.Run(Format(v), func(t *testing.T) {
			b := Encode(v)
			require.NotEmpty(t, b)
			got, n := Decode(b)
			require.NotNil(t, got)
			assert.Equal(t, len(b), n)
			assert.True(t, Equal(v, got), "got %s", Format(got))
		})
	}
}

func TestNaNRoundTrip(t *testing.T) {
	got, _ := Decode(Encode(Float(math.NaN())))
	assert.True(t, Equal(Float(math.NaN()), got))
}

func TestDecodeLeavesTrailingBytes(t *testing.T) {
	b := append(Encode(Int(5)), Encode(String("next"))...)
	v, n := Decode(b)
	assert.Equal(t, Int(5), v)
	assert.Equal(t, 12, n)
	v, _ = Decode(b[n:])
	assert.Equal(t, String("next"), v)
}

func TestEncodeDropsUnsupportedEntries(t *testing.T) {
	t.Run("list", func(t *testing.T) {
		l := List{Int(1), nil, &NDArray{DType: 'x'}, Int(2)}
		got, _ := Decode(Encode(l))
		assert.True(t, Equal(List{Int(1), Int(2)}, got))
	})

	t.Run("mapping", func(t *testing.T) {
		m := Mapping{
			{Key: String("keep"), Value: Int(1)},
			{Key: String("drop"), Value: nil},
			{Key: nil, Value: Int(3)},
		}
		got, _ := Decode(Encode(m))
		assert.True(t, Equal(Mapping{{Key: String("keep"), Value: Int(1)}}, got))
	})

	t.Run("top level", func(t *testing.T) {
		assert.Empty(t, Encode(nil))
		assert.Empty(t, Encode(&NDArray{DType: DTypeFloat64, Shape: []int{3}, Data: make([]byte, 8)}))
	})
}

func TestDecodeAcceptsAlternateTags(t *testing.T) {
	t.Run("long integer", func(t *testing.T) {
		b := Encode(Int(-3))
		binary.LittleEndian.PutUint32(b, codeLong)
		v, n := Decode(b)
		assert.Equal(t, Int(-3), v)
		assert.Equal(t, 12, n)
	})

	for _, code := range []uint32{codePointVector, codeComplexPointVector, codeIntervalSampleVector} {
		inner := Encode(NewFloat64Array([]int{2, 2}, []float64{1, 2, 3, 4}))
		b := binary.LittleEndian.AppendUint32(nil, code)
		b = append(b, inner...)
		v, n := Decode(b)
		require.NotNil(t, v, "code %d", code)
		assert.Equal(t, len(b), n)
		assert.Equal(t, []float64{1, 2, 3, 4}, v.(*NDArray).Float64s())
	}
}

func TestDecodeDuplicateKeyKeepsLast(t *testing.T) {
	b := binary.LittleEndian.AppendUint32(nil, codeDict)
	b = binary.LittleEndian.AppendUint32(b, 2)
	b = AppendEncode(b, String("k"))
	b = AppendEncode(b, Int(1))
	b = AppendEncode(b, String("k"))
	b = AppendEncode(b, Int(2))

	v, n := Decode(b)
	require.NotNil(t, v)
	assert.Equal(t, len(b), n)
	m := v.(Mapping)
	require.Len(t, m, 1)
	got, _ := m.Lookup("k")
	assert.Equal(t, Int(2), got)
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	full := Encode(List{String("abc"), Zeros(DTypeInt32, 4)})
	for cut := 0; cut < len(full); cut++ {
		v, n := Decode(full[:cut])
		assert.Nil(t, v, "cut at %d", cut)
		assert.Zero(t, n)
	}

	t.Run("unknown tag", func(t *testing.T) {
		v, n := Decode([]byte{99, 0, 0, 0})
		assert.Nil(t, v)
		assert.Zero(t, n)
	})

	t.Run("negative length", func(t *testing.T) {
		b := binary.LittleEndian.AppendUint32(nil, codeBytes)
		b = binary.LittleEndian.AppendUint32(b, 0xffffffff)
		v, _ := Decode(b)
		assert.Nil(t, v)
	})

	t.Run("huge array shape", func(t *testing.T) {
		b := binary.LittleEndian.AppendUint32(nil, codeNDArray)
		b = append(b, DTypeFloat64)
		b = binary.LittleEndian.AppendUint32(b, 2)
		b = binary.LittleEndian.AppendUint32(b, 1<<30)
		b = binary.LittleEndian.AppendUint32(b, 1<<30)
		v, _ := Decode(b)
		assert.Nil(t, v)
	})
}

func TestCodecSerializer(t *testing.T) {
	var s Serializer = CodecSerializer{}

	data, err := s.Marshal(map[string]interface{}{"b": 2, "a": []interface{}{"x", 1.5}})
	require.NoError(t, err)

	var out interface{}
	require.NoError(t, s.Unmarshal(data, &out))
	assert.Equal(t, map[string]interface{}{"a": []interface{}{"x", 1.5}, "b": int64(2)}, out)

	_, err = s.Marshal(make(chan int))
	assert.ErrorIs(t, err, ErrUnsupportedValue)
	assert.ErrorIs(t, s.Unmarshal([]byte{1, 0}, &out), ErrMalformedValue)
}
