package thermabridge

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(mode, segment string) Config {
	cfg := DefaultConfig()
	cfg.Mode = mode
	cfg.Segment = segment
	cfg.Size = 1 << 20
	cfg.Timeout = time.Second
	cfg.PollInterval = time.Millisecond
	return cfg
}

func newHost(t *testing.T, opts ...SessionOption) *Session {
	t.Helper()
	s, err := NewSession(context.Background(), testConfig(ModeCreate, testSegmentName()), nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func dialHost(t *testing.T, host *Session) *RPCClient {
	t.Helper()
	rpc, err := Dial(host.Name(), WithTimeout(time.Second), WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rpc.Close() })
	return rpc
}

func TestSessionPushPull(t *testing.T) {
	host := newHost(t)
	client := dialHost(t, host).Client()
	ctx := context.Background()

	require.NoError(t, client.Push(ctx, "x", Zeros(DTypeFloat64, 2, 3)))
	v, err := client.Pull(ctx, "x")
	require.NoError(t, err)
	a, ok := v.(*NDArray)
	require.True(t, ok)
	assert.Equal(t, []int{2, 3}, a.Shape)
	assert.Equal(t, make([]float64, 6), a.Float64s())

	_, err = client.Pull(ctx, "missing")
	rerr, ok := IsRemoteError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, "NameError", rerr.Exception)

	assert.ErrorIs(t, client.Push(ctx, "", Int(1)), ErrEmptyName)
	_, err = client.Pull(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestSessionExecError(t *testing.T) {
	host := newHost(t)
	client := dialHost(t, host).Client()
	ctx := context.Background()

	err := client.Exec(ctx, "a = 1\nraise ValueError: bad gain")
	rerr, ok := IsRemoteError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, "ValueError", rerr.Exception)
	assert.Contains(t, rerr.Message, "bad gain")
	assert.Contains(t, rerr.Traceback, "Traceback")

	// lines before the failure still ran
	v, err := host.Interpreter().Pull("a")
	require.NoError(t, err)
	assert.Equal(t, Int(1), v)

	require.NoError(t, client.ExecLine(ctx, "b = 2"))
	require.NoError(t, client.Restart(ctx))
	_, err = client.Pull(ctx, "b")
	assert.Error(t, err)
}

func TestSessionRunning(t *testing.T) {
	host := newHost(t)
	client := dialHost(t, host).Client()
	ctx := context.Background()

	running, err := client.Running(ctx)
	require.NoError(t, err)
	assert.False(t, running)

	require.NoError(t, client.ExecLineNoWait(ctx, "sleep 300ms"))
	require.Eventually(t, func() bool {
		running, err := client.Running(ctx)
		return err == nil && running
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		running, err := client.Running(ctx)
		return err == nil && !running
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionStyleSheet(t *testing.T) {
	host := newHost(t)
	client := dialHost(t, host).Client()

	require.NoError(t, client.SetStyleSheet(context.Background(), "QTextEdit { background: black; }"))
	ns := host.Interpreter().(*Namespace)
	require.Eventually(t, func() bool {
		return ns.StyleSheet() == "QTextEdit { background: black; }"
	}, time.Second, time.Millisecond)
}

func TestSessionCallFunction(t *testing.T) {
	host := newHost(t)
	host.Functions().Register("open", func(args List, kwargs Mapping) (Value, error) {
		player, _ := kwargs.Lookup("player")
		return List{args[0], player}, nil
	})
	client := dialHost(t, host).Client()

	v, err := client.Call(context.Background(), "open", List{String("/data/movie.mp4")},
		Mapping{{Key: String("player"), Value: Int(0)}})
	require.NoError(t, err)
	assert.True(t, Equal(List{String("/data/movie.mp4"), Int(0)}, v))

	_, err = client.Call(context.Background(), "close", nil, nil)
	rerr, ok := IsRemoteError(err)
	require.True(t, ok)
	assert.Contains(t, rerr.Message, "unknown function: close")
}

func TestSessionReplyWaitFollowsContext(t *testing.T) {
	name := testSegmentName()
	ch, err := CreateChannel(name, slotSize(256))
	require.NoError(t, err)
	defer ch.Close()

	// nothing serves the created side
	rpc, err := Dial(name, WithTimeout(time.Second))
	require.NoError(t, err)
	defer rpc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = rpc.Client().Pull(ctx, "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSessionPeers(t *testing.T) {
	host := newHost(t, WithFunctions(NewFunctions()))
	peer, err := NewSession(context.Background(), testConfig(ModeAttach, host.Name()), nil)
	require.NoError(t, err)
	defer peer.Close()

	host.Functions().Register("whoami", func(List, Mapping) (Value, error) { return String("host"), nil })
	peer.Functions().Register("whoami", func(List, Mapping) (Value, error) { return String("peer"), nil })

	ctx := context.Background()
	v, err := peer.Client().Call(ctx, "whoami", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, String("host"), v)

	v, err = host.Client().Call(ctx, "whoami", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, String("peer"), v)

	// requests from one side are serialized
	errc := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func(i int) {
			errc <- host.Client().Push(ctx, fmt.Sprintf("v%d", i), Int(int64(i)))
		}(i)
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, <-errc)
	}
	assert.Len(t, peer.Interpreter().(*Namespace).Names(), 10)
	assert.Empty(t, host.Interpreter().(*Namespace).Names())
}

func TestSessionClosesWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, err := NewSession(ctx, testConfig(ModeCreate, testSegmentName()), nil)
	require.NoError(t, err)
	name := s.Name()
	assert.NotEmpty(t, s.ID())
	assert.True(t, s.Channel().Created())

	cancel()
	require.Eventually(t, func() bool {
		return s.Worker().State() == StateStopped && !SegmentExists(name)
	}, time.Second, time.Millisecond)
	require.NoError(t, s.Close())
}

func TestSessionWithExecutor(t *testing.T) {
	exec := NewExecutor(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = exec.Run(ctx) }()

	host := newHost(t, WithExecutor(exec))
	client := dialHost(t, host).Client()

	require.NoError(t, client.Exec(context.Background(), "z = [1, 2, 3]"))
	v, err := client.Pull(context.Background(), "z")
	require.NoError(t, err)
	assert.True(t, Equal(List{Int(1), Int(2), Int(3)}, v))
}

func TestSessionExecutorBacklogFull(t *testing.T) {
	exec := NewExecutor(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = exec.Run(ctx) }()

	host := newHost(t, WithExecutor(exec))
	client := dialHost(t, host).Client()

	for i := 0; i < 3; i++ {
		require.NoError(t, client.ExecLineNoWait(context.Background(), "sleep 600ms"))
	}

	// the worker is not stuck behind the queued lines
	require.Eventually(t, func() bool {
		rctx, rcancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer rcancel()
		running, err := client.Running(rctx)
		return err == nil && running
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	closed := make(chan error, 1)
	go func() { closed <- host.Close() }()
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close")
	}
}

func TestSessionInvalidConfig(t *testing.T) {
	cfg := testConfig("sideways", testSegmentName())
	_, err := NewSession(context.Background(), cfg, nil)
	assert.Error(t, err)

	_, err = NewSession(context.Background(), testConfig(ModeAttach, testSegmentName()), nil)
	assert.ErrorIs(t, err, ErrSegmentNotFound)
}
