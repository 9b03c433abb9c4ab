package thermabridge

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// TestBufferPoolConcurrent checks that BufferPool is safe for concurrent access.
func TestBufferPoolConcurrent(t *testing.T) {
	pool := NewBufferPool(1024, 10)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				buf := pool.Get()
				if len(buf) != 0 || cap(buf) != 1024 {
					t.Errorf("expected empty buffer with capacity 1024, got len %d cap %d", len(buf), cap(buf))
					return
				}
				buf = append(buf, byte(j))
				pool.Put(buf)
			}
		}()
	}
	wg.Wait()
}

// TestBufferPoolDropsGrownBuffers checks that a buffer that outgrew the pool
// size is not recycled.
func TestBufferPoolDropsGrownBuffers(t *testing.T) {
	pool := NewBufferPool(16, 2)

	grown := append(pool.Get(), make([]byte, 100)...)
	pool.Put(grown)
	pool.Put(make([]byte, 512))

	buf := pool.Get()
	if cap(buf) != 16 {
		t.Errorf("expected capacity 16, got %d", cap(buf))
	}

	// a full pool drops extra buffers
	pool.Put(make([]byte, 0, 16))
	pool.Put(make([]byte, 0, 16))
	pool.Put(make([]byte, 0, 16))
	if n := len(pool.free); n != 2 {
		t.Errorf("expected 2 pooled buffers, got %d", n)
	}
}

// TestClientConcurrentRequests checks that requests issued from many goroutines
// through one client never see each other's replies.
func TestClientConcurrentRequests(t *testing.T) {
	host := newHost(t)
	host.Functions().Register("echo", func(args List, kwargs Mapping) (Value, error) {
		return args[0], nil
	})
	rpc := dialHost(t, host)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				want := fmt.Sprintf("%d-%d", i, j)
				v, err := rpc.Call(ctx, "echo", []interface{}{want}, nil)
				if err != nil {
					t.Errorf("call %s: %v", want, err)
					return
				}
				if v != String(want) {
					t.Errorf("call %s: got %s", want, Format(v))
				}
			}
		}(i)
	}
	wg.Wait()
}

// TestNamespaceConcurrentAccess checks that pushes, pulls and scripts can run
// from many goroutines at once.
func TestNamespaceConcurrentAccess(t *testing.T) {
	ns := NewNamespace()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("v%d", i)
			if err := ns.Execute(fmt.Sprintf("%s = %d", name, i)); err != nil {
				t.Errorf("execute: %v", err)
				return
			}
			v, err := ns.Pull(name)
			if err != nil {
				t.Errorf("pull %s: %v", name, err)
				return
			}
			if v != Int(int64(i)) {
				t.Errorf("pull %s: got %s", name, Format(v))
			}
			_ = ns.IsRunning()
			_ = ns.Names()
		}(i)
	}
	wg.Wait()

	if n := len(ns.Names()); n != 20 {
		t.Errorf("expected 20 names, got %d", n)
	}
}
