package thermabridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromGo(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want Value
	}{
		{"nil", nil, Null{}},
		{"bool", true, Int(1)},
		{"uint16", uint16(9), Int(9)},
		{"float32", float32(0.5), Float(0.5)},
		{"complex", complex(1, 2), Complex(complex(1, 2))},
		{"string", "abc", String("abc")},
		{"bytes", []byte{1, 2}, Bytes{1, 2}},
		{"strings", []string{"a", "b"}, List{String("a"), String("b")}},
		{"array", [2]int{3, 4}, List{Int(3), Int(4)}},
		{"interfaces skip unsupported", []interface{}{1, make(chan int), "x"}, List{Int(1), String("x")}},
		{"map sorted", map[string]interface{}{"b": 2, "a": 1}, Mapping{
			{Key: String("a"), Value: Int(1)},
			{Key: String("b"), Value: Int(2)},
		}},
		{"int keyed map", map[int]string{2: "two", 1: "one"}, Mapping{
			{Key: Int(1), Value: String("one")},
			{Key: Int(2), Value: String("two")},
		}},
		{"value passes through", Int(5), Int(5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromGo(tt.in)
			require.NotNil(t, got)
			assert.True(t, Equal(tt.want, got), "got %s", Format(got))
		})
	}

	t.Run("float64 slice becomes an array", func(t *testing.T) {
		a, ok := FromGo([]float64{1, 2, 3}).(*NDArray)
		require.True(t, ok)
		assert.Equal(t, DTypeFloat64, a.DType)
		assert.Equal(t, []int{3}, a.Shape)
		assert.Equal(t, []float64{1, 2, 3}, a.Float64s())
	})

	t.Run("int32 slice becomes an array", func(t *testing.T) {
		a, ok := FromGo([]int32{-1, 7}).(*NDArray)
		require.True(t, ok)
		assert.Equal(t, []int64{-1, 7}, a.Int64s())
	})

	t.Run("pointer", func(t *testing.T) {
		n := 4
		assert.Equal(t, Int(4), FromGo(&n))
		var p *int
		assert.Equal(t, Null{}, FromGo(p))
	})

	t.Run("unsupported", func(t *testing.T) {
		assert.Nil(t, FromGo(func() {}))
	})
}

func TestToGo(t *testing.T) {
	assert.Nil(t, ToGo(Null{}))
	assert.Equal(t, int64(3), ToGo(Int(3)))
	assert.Equal(t, []interface{}{"a", 1.5}, ToGo(List{String("a"), Float(1.5)}))
	assert.Equal(t, map[string]interface{}{"k": nil}, ToGo(Mapping{{Key: String("k"), Value: Null{}}}))

	mixed := ToGo(Mapping{
		{Key: Int(1), Value: String("one")},
		{Key: List{Int(1)}, Value: Int(2)},
	})
	assert.Equal(t, map[interface{}]interface{}{int64(1): "one", "[1]": int64(2)}, mixed)

	ev := &ErrorValue{Text: "boom"}
	err, ok := ToGo(ev).(error)
	require.True(t, ok)
	assert.EqualError(t, err, "boom")
}

func TestEqualAndFormat(t *testing.T) {
	a := Mapping{{Key: String("x"), Value: Int(1)}, {Key: String("y"), Value: Int(2)}}
	b := Mapping{{Key: String("y"), Value: Int(2)}, {Key: String("x"), Value: Int(1)}}
	assert.True(t, Equal(a, b))
	assert.False(t, Equal(Int(1), Float(1)))
	assert.False(t, Equal(nil, Null{}))
	assert.True(t, Equal(nil, nil))

	assert.Equal(t, `{"x": 1, "y": 2}`, Format(a))
	assert.Equal(t, `[None, 2.5, b"\x01"]`, Format(List{Null{}, Float(2.5), Bytes{1}}))
	assert.Equal(t, "ndarray(dtype=d, shape=[2 3])", Format(Zeros(DTypeFloat64, 2, 3)))
}

func TestMappingSetReplacesInPlace(t *testing.T) {
	m := Mapping{}.Set(String("a"), Int(1)).Set(String("b"), Int(2)).Set(String("a"), Int(3))
	require.Len(t, m, 2)
	assert.Equal(t, String("a"), m[0].Key)
	assert.Equal(t, Int(3), m[0].Value)
}

func TestHalfFloat(t *testing.T) {
	assert.Equal(t, float32(1), halfToFloat32(0x3c00))
	assert.Equal(t, float32(-2), halfToFloat32(0xc000))
	assert.Equal(t, float32(0.5), halfToFloat32(0x3800))
	assert.Equal(t, float32(5.960464477539063e-08), halfToFloat32(0x0001))
}
