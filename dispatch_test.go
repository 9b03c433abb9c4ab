package thermabridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dispatch(t *testing.T, d *Dispatcher, m Message) (Message, []byte, bool) {
	t.Helper()
	raw, err := EncodeMessage(m)
	require.NoError(t, err)
	reply, ok := d.Dispatch(context.Background(), raw, nil)
	if !ok || m.Tag == TagRunning {
		return Message{}, reply, ok
	}
	got, err := DecodeMessage(reply)
	require.NoError(t, err)
	return got, reply, ok
}

func newTestDispatcher() (*Dispatcher, *Namespace, *Functions) {
	ns := NewNamespace()
	funcs := NewFunctions()
	return NewDispatcher(ns, funcs, nil), ns, funcs
}

func TestDispatchPushAndPull(t *testing.T) {
	d, ns, _ := newTestDispatcher()

	reply, _, ok := dispatch(t, d, Message{Tag: TagObject, Name: "x", Value: Zeros(DTypeFloat64, 2, 3)})
	require.True(t, ok)
	assert.Equal(t, TagObject, reply.Tag)
	assert.Empty(t, reply.Name)
	assert.Equal(t, Null{}, reply.Value)

	v, err := ns.Pull("x")
	require.NoError(t, err)
	assert.True(t, Equal(Zeros(DTypeFloat64, 2, 3), v))

	reply, _, ok = dispatch(t, d, Message{Tag: TagSendObject, Name: "x"})
	require.True(t, ok)
	assert.Equal(t, TagObject, reply.Tag)
	assert.Equal(t, "x", reply.Name)
	assert.True(t, Equal(v, reply.Value))
}

func TestDispatchPullMissing(t *testing.T) {
	d, _, _ := newTestDispatcher()

	reply, _, ok := dispatch(t, d, Message{Tag: TagSendObject, Name: "nope"})
	require.True(t, ok)
	require.Equal(t, TagErrorTrace, reply.Tag)
	assert.Contains(t, reply.Text, "cannot find object nope")

	rerr := NewRemoteError(reply.Text)
	assert.Equal(t, "NameError", rerr.Exception)
}

func TestDispatchDropsStrayReplies(t *testing.T) {
	d, ns, _ := newTestDispatcher()

	_, _, ok := dispatch(t, d, Message{Tag: TagObject, Value: Int(1)})
	assert.False(t, ok)
	assert.Empty(t, ns.Names())

	_, _, ok = dispatch(t, d, Message{Tag: TagErrorTrace, Text: "late failure"})
	assert.False(t, ok)
}

func TestDispatchExec(t *testing.T) {
	d, ns, _ := newTestDispatcher()

	reply, _, ok := dispatch(t, d, Message{Tag: TagExecCode, Text: "a = 1\nb = [a, 2]\nc = a"})
	require.True(t, ok)
	assert.Equal(t, TagObject, reply.Tag)
	// names resolve only as a whole expression; inside a literal they are strings
	v, err := ns.Pull("b")
	require.NoError(t, err)
	assert.True(t, Equal(List{String("a"), Int(2)}, v))
	v, err = ns.Pull("c")
	require.NoError(t, err)
	assert.Equal(t, Int(1), v)

	reply, _, ok = dispatch(t, d, Message{Tag: TagExecLine, Text: "raise ValueError: gain out of range"})
	require.True(t, ok)
	require.Equal(t, TagErrorTrace, reply.Tag)
	rerr := NewRemoteError(reply.Text)
	assert.Equal(t, "ValueError", rerr.Exception)
	assert.Equal(t, "gain out of range", rerr.Message)
}

func TestDispatchNoReplyCommands(t *testing.T) {
	d, ns, _ := newTestDispatcher()

	_, _, ok := dispatch(t, d, Message{Tag: TagExecLineNoWait, Text: "late = 5"})
	assert.False(t, ok)
	require.Eventually(t, func() bool {
		_, err := ns.Pull("late")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	_, _, ok = dispatch(t, d, Message{Tag: TagExecLineNoWait, Text: "raise Boom: ignored"})
	assert.False(t, ok)

	_, _, ok = dispatch(t, d, Message{Tag: TagStyleSheet, Text: "QWidget {}"})
	assert.False(t, ok)
	assert.Equal(t, "QWidget {}", ns.StyleSheet())
}

func TestDispatchRunningAndRestart(t *testing.T) {
	d, ns, _ := newTestDispatcher()

	_, raw, ok := dispatch(t, d, Message{Tag: TagRunning})
	require.True(t, ok)
	assert.Equal(t, []byte{'0'}, raw)

	require.NoError(t, ns.Push(map[string]Value{"a": Int(1)}))
	reply, _, ok := dispatch(t, d, Message{Tag: TagRestart})
	require.True(t, ok)
	assert.Equal(t, TagObject, reply.Tag)
	assert.Empty(t, ns.Names())
}

func TestDispatchExecFun(t *testing.T) {
	d, _, funcs := newTestDispatcher()
	funcs.Register("scale", func(args List, kwargs Mapping) (Value, error) {
		f, _ := kwargs.Lookup("factor")
		return Int(int64(args[0].(Int)) * int64(f.(Int))), nil
	})
	funcs.Register("fail", func(args List, kwargs Mapping) (Value, error) {
		return nil, errors.New("device offline")
	})
	funcs.Register("explode", func(args List, kwargs Mapping) (Value, error) {
		panic("index out of range")
	})

	reply, _, ok := dispatch(t, d, Message{
		Tag:    TagExecFun,
		Name:   "scale",
		Args:   List{Int(4)},
		Kwargs: Mapping{{Key: String("factor"), Value: Int(3)}},
	})
	require.True(t, ok)
	assert.Equal(t, TagObject, reply.Tag)
	assert.Equal(t, "scale", reply.Name)
	assert.Equal(t, Int(12), reply.Value)

	reply, _, _ = dispatch(t, d, Message{Tag: TagExecFun, Name: "fail"})
	require.Equal(t, TagErrorTrace, reply.Tag)
	assert.Contains(t, reply.Text, "Error: device offline")

	reply, _, _ = dispatch(t, d, Message{Tag: TagExecFun, Name: "missing"})
	require.Equal(t, TagErrorTrace, reply.Tag)
	assert.Contains(t, reply.Text, "unknown function: missing")

	reply, _, _ = dispatch(t, d, Message{Tag: TagExecFun, Name: "explode"})
	require.Equal(t, TagErrorTrace, reply.Tag)
	assert.Equal(t, "Panic", NewRemoteError(reply.Text).Exception)
	assert.Contains(t, reply.Text, "index out of range")
}

func TestDispatchUnsupportedResult(t *testing.T) {
	d, _, funcs := newTestDispatcher()
	funcs.Register("bad", func(args List, kwargs Mapping) (Value, error) {
		return &NDArray{DType: 'x'}, nil
	})
	reply, _, ok := dispatch(t, d, Message{Tag: TagExecFun, Name: "bad"})
	require.True(t, ok)
	require.Equal(t, TagErrorTrace, reply.Tag)
	assert.Equal(t, "UnsupportedValue", NewRemoteError(reply.Text).Exception)
}

func TestDispatchMalformed(t *testing.T) {
	d, _, _ := newTestDispatcher()

	reply, ok := d.Dispatch(context.Background(), []byte("NOT_A_TAG_AT_ALL"), nil)
	assert.False(t, ok)
	assert.Empty(t, reply)

	// a request that expects a reply still gets one
	marker := TagSendObject.Marker()
	raw := append([]byte(nil), marker[:]...)
	raw = append(raw, 0xff)
	reply, ok = d.Dispatch(context.Background(), raw, nil)
	require.True(t, ok)
	m, err := DecodeMessage(reply)
	require.NoError(t, err)
	assert.Equal(t, TagErrorTrace, m.Tag)
	assert.Equal(t, "MalformedMessage", NewRemoteError(m.Text).Exception)
}

func TestDispatchThroughExecutor(t *testing.T) {
	ns := NewNamespace()
	exec := NewExecutor(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = exec.Run(ctx) }()

	d := NewDispatcher(ns, nil, exec)
	reply, _, ok := dispatch(t, d, Message{Tag: TagExecCode, Text: "x = 1"})
	require.True(t, ok)
	assert.Equal(t, TagObject, reply.Tag)

	_, _, ok = dispatch(t, d, Message{Tag: TagExecLineNoWait, Text: "y = 2"})
	assert.False(t, ok)
	require.Eventually(t, func() bool {
		_, err := ns.Pull("y")
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestDispatchNoWaitWithIdleExecutor(t *testing.T) {
	ns := NewNamespace()
	// nobody runs the executor
	d := NewDispatcher(ns, nil, NewExecutor(1))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			_, _, ok := dispatch(t, d, Message{Tag: TagExecLineNoWait, Text: "y = 2"})
			assert.False(t, ok)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on a full executor")
	}

	_, reply, ok := dispatch(t, d, Message{Tag: TagRunning})
	require.True(t, ok)
	assert.Equal(t, []byte{runningNo}, reply)
}
