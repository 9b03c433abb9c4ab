package thermabridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialMissingHost(t *testing.T) {
	name := testSegmentName()
	_, err := Dial(name)
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Contains(t, err.Error(), "using key "+name)
}

func TestRPCCall(t *testing.T) {
	host := newHost(t)
	host.Functions().Register("set_time", func(args List, kwargs Mapping) (Value, error) {
		ref, _ := kwargs.Lookup("ref")
		return Mapping{}.Set(String("time"), args[0]).Set(String("ref"), ref), nil
	})
	rpc := dialHost(t, host)
	assert.Equal(t, host.Name(), rpc.Name())

	v, err := rpc.Call(context.Background(), "set_time", []interface{}{12.5}, map[string]interface{}{"ref": "absolute"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"time": 12.5, "ref": "absolute"}, ToGo(v))

	// values without a wire form are dropped from the arguments
	host.Functions().Register("count", func(args List, kwargs Mapping) (Value, error) {
		return Int(int64(len(args))), nil
	})
	v, err = rpc.Call(context.Background(), "count", []interface{}{1, make(chan int), "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, Int(2), v)
}

func TestRPCFluentCall(t *testing.T) {
	host := newHost(t)
	host.Functions().Register("gain", func(args List, kwargs Mapping) (Value, error) {
		scale, _ := kwargs.Lookup("scale")
		return Float(float64(args[0].(Float)) * float64(scale.(Float))), nil
	})
	host.Functions().Register("slow", func(args List, kwargs Mapping) (Value, error) {
		time.Sleep(300 * time.Millisecond)
		return Null{}, nil
	})
	rpc := dialHost(t, host)

	v, err := rpc.On("gain").Do(2.0).With("scale", 1.5).Call(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Float(3), v)

	_, err = rpc.On("slow").WithTimeout(50 * time.Millisecond).Call(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRPCFallbackFunction(t *testing.T) {
	host := newHost(t)
	host.Functions().SetDefault(func(name string, args List, kwargs Mapping) (Value, error) {
		return String("called " + name), nil
	})
	rpc := dialHost(t, host)

	v, err := rpc.On("anything").Call(context.Background())
	require.NoError(t, err)
	assert.Equal(t, String("called anything"), v)
}

func TestRPCRemoteFailure(t *testing.T) {
	host := newHost(t)
	host.Functions().Register("open", func(args List, kwargs Mapping) (Value, error) {
		return nil, &ScriptError{Name: "FileNotFoundError", Message: "no such file"}
	})
	rpc := dialHost(t, host)

	_, err := rpc.Call(context.Background(), "open", []interface{}{"/missing"}, nil)
	rerr, ok := IsRemoteError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, "FileNotFoundError", rerr.Exception)
	assert.Equal(t, "no such file", rerr.Message)
	assert.Equal(t, "thermabridge: remote FileNotFoundError: no such file", err.Error())
}
