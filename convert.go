package thermabridge

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sort"
)

// FromGo converts a plain Go value to a Value.
//
//	nil                      Null
//	bool                     Int (0 or 1)
//	signed/unsigned integers Int
//	float32, float64         Float
//	complex64, complex128    Complex
//	string                   String
//	[]byte                   Bytes
//	[]float64, []float32,
//	[]int64, []int32         one-dimensional NDArray
//	other slices and arrays  List
//	maps                     Mapping, string keys sorted
//	Value                    itself
//
// Anything else, including elements of the above, converts to nil and is dropped
// from the enclosing List or Mapping.
func FromGo(v interface{}) Value {
	switch tv := v.(type) {
	case nil:
		return Null{}
	case Value:
		return tv
	case bool:
		if tv {
			return Int(1)
		}
		return Int(0)
	case int:
		return Int(tv)
	case int8:
		return Int(tv)
	case int16:
		return Int(tv)
	case int32:
		return Int(tv)
	case int64:
		return Int(tv)
	case uint:
		return Int(tv)
	case uint8:
		return Int(tv)
	case uint16:
		return Int(tv)
	case uint32:
		return Int(tv)
	case uint64:
		return Int(tv)
	case float32:
		return Float(tv)
	case float64:
		return Float(tv)
	case complex64:
		return Complex(tv)
	case complex128:
		return Complex(tv)
	case string:
		return String(tv)
	case []byte:
		return Bytes(append([]byte(nil), tv...))
	case []float64:
		return NewFloat64Array(nil, tv)
	case []int64:
		return NewInt64Array(nil, tv)
	case []float32:
		data := make([]byte, 4*len(tv))
		for i, f := range tv {
			binary.NativeEndian.PutUint32(data[4*i:], math.Float32bits(f))
		}
		return NewNDArray(DTypeFloat32, []int{len(tv)}, data)
	case []int32:
		data := make([]byte, 4*len(tv))
		for i, n := range tv {
			binary.NativeEndian.PutUint32(data[4*i:], uint32(n))
		}
		return NewNDArray(DTypeInt32, []int{len(tv)}, data)
	case []interface{}:
		out := make(List, 0, len(tv))
		for _, e := range tv {
			if ev := FromGo(e); ev != nil {
				out = append(out, ev)
			}
		}
		return out
	case map[string]interface{}:
		keys := make([]string, 0, len(tv))
		for k := range tv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(Mapping, 0, len(tv))
		for _, k := range keys {
			if ev := FromGo(tv[k]); ev != nil {
				out = append(out, Pair{Key: String(k), Value: ev})
			}
		}
		return out
	}
	return fromReflect(reflect.ValueOf(v))
}

func fromReflect(rv reflect.Value) Value {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null{}
		}
		return FromGo(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		out := make(List, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if ev := FromGo(rv.Index(i).Interface()); ev != nil {
				out = append(out, ev)
			}
		}
		return out
	case reflect.Map:
		type entry struct {
			sortKey string
			key     Value
			value   Value
		}
		entries := make([]entry, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := FromGo(iter.Key().Interface())
			val := FromGo(iter.Value().Interface())
			if k == nil || val == nil {
				continue
			}
			entries = append(entries, entry{sortKey: fmt.Sprint(iter.Key().Interface()), key: k, value: val})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].sortKey < entries[j].sortKey })
		out := make(Mapping, 0, len(entries))
		for _, e := range entries {
			out = out.Set(e.key, e.value)
		}
		return out
	case reflect.String:
		return String(rv.String())
	case reflect.Bool:
		return FromGo(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Int(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float())
	}
	return nil
}

// ToGo converts a Value to plain Go values: nil, int64, float64, complex128,
// string, []byte, []interface{}, map[string]interface{} (when every key is a
// String) or map[interface{}]interface{}, *NDArray, and error for *ErrorValue.
// Mapping keys that are not comparable in Go (lists, mappings, bytes) are
// rendered with Format.
func ToGo(v Value) interface{} {
	switch tv := v.(type) {
	case nil, Null:
		return nil
	case Int:
		return int64(tv)
	case Float:
		return float64(tv)
	case Complex:
		return complex128(tv)
	case String:
		return string(tv)
	case Bytes:
		return []byte(tv)
	case List:
		out := make([]interface{}, len(tv))
		for i, e := range tv {
			out[i] = ToGo(e)
		}
		return out
	case Mapping:
		if stringKeys(tv) {
			out := make(map[string]interface{}, len(tv))
			for _, p := range tv {
				out[string(p.Key.(String))] = ToGo(p.Value)
			}
			return out
		}
		out := make(map[interface{}]interface{}, len(tv))
		for _, p := range tv {
			var k interface{}
			switch p.Key.(type) {
			case List, Mapping, Bytes, *NDArray:
				k = Format(p.Key)
			default:
				k = ToGo(p.Key)
			}
			out[k] = ToGo(p.Value)
		}
		return out
	case *NDArray:
		return tv
	case *ErrorValue:
		return tv
	}
	return nil
}

func stringKeys(m Mapping) bool {
	for _, p := range m {
		if _, ok := p.Key.(String); !ok {
			return false
		}
	}
	return true
}
