package thermabridge

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultSegmentPrefix is the prefix of segment names created by the host.
const DefaultSegmentPrefix = "Thermavip"

// ErrNotConnected is returned by Dial when no host serves the segment.
var ErrNotConnected = errors.New("thermabridge: cannot connect to host")

// RPCClient calls functions registered on a running host.
//
// Example:
//
//	rpc, err := thermabridge.Dial("Thermavip-1")
//	if err != nil {
//		return err
//	}
//	defer rpc.Close()
//	v, err := rpc.Call(ctx, "open", []any{"/data/movie.mp4"}, map[string]any{"player": 0})
type RPCClient struct {
	ch     *Channel
	client *Client
}

// Dial attaches to the host's segment. It fails at once with ErrNotConnected
// when the segment does not exist; there is no retry.
func Dial(name string, opts ...ChannelOption) (*RPCClient, error) {
	ch, err := AttachChannel(name, opts...)
	if err != nil {
		if errors.Is(err, ErrSegmentNotFound) {
			return nil, fmt.Errorf("%w using key %s", ErrNotConnected, name)
		}
		return nil, fmt.Errorf("%w using key %s: %v", ErrNotConnected, name, err)
	}
	return &RPCClient{ch: ch, client: NewClient(ch)}, nil
}

// Name returns the segment name.
func (r *RPCClient) Name() string {
	return r.ch.Name()
}

// Channel returns the attached channel.
func (r *RPCClient) Channel() *Channel {
	return r.ch
}

// Client returns the underlying command client.
func (r *RPCClient) Client() *Client {
	return r.client
}

// Call converts args and kwargs with FromGo, runs fn on the host and returns its
// result. A failure on the host is returned as a *RemoteError. Arguments without
// a wire representation are dropped.
func (r *RPCClient) Call(ctx context.Context, fn string, args []interface{}, kwargs map[string]interface{}) (Value, error) {
	list := make(List, 0, len(args))
	for _, a := range args {
		if v := FromGo(a); v != nil {
			list = append(list, v)
		}
	}
	var mapping Mapping
	if kw, ok := FromGo(kwargs).(Mapping); ok {
		mapping = kw
	}
	return r.client.Call(ctx, fn, list, mapping)
}

// Close detaches from the host.
func (r *RPCClient) Close() error {
	return r.ch.Close()
}

// methodCall is a fluent builder for one remote call. Use RPCClient.On to start
// one, then Do and With to add arguments.
type methodCall struct {
	rpc     *RPCClient
	fn      string
	args    []interface{}
	kwargs  map[string]interface{}
	timeout time.Duration
}

// On begins a call to fn:
//
//	v, err := rpc.On("set_time").Do(12.5).With("ref", "absolute").Call(ctx)
func (r *RPCClient) On(fn string) *methodCall {
	return &methodCall{rpc: r, fn: fn, kwargs: make(map[string]interface{})}
}

// Do appends positional arguments.
func (mc *methodCall) Do(args ...interface{}) *methodCall {
	mc.args = append(mc.args, args...)
	return mc
}

// With sets a keyword argument.
func (mc *methodCall) With(key string, value interface{}) *methodCall {
	mc.kwargs[key] = value
	return mc
}

// WithTimeout bounds the call. Zero means no bound beyond the context.
func (mc *methodCall) WithTimeout(timeout time.Duration) *methodCall {
	mc.timeout = timeout
	return mc
}

// Call runs the call.
func (mc *methodCall) Call(ctx context.Context) (Value, error) {
	if mc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, mc.timeout)
		defer cancel()
	}
	return mc.rpc.Call(ctx, mc.fn, mc.args, mc.kwargs)
}
