package thermabridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// WorkerState is the phase of a Worker's loop.
type WorkerState int32

const (
	StateStopped WorkerState = iota
	StateWaitConnected
	StatePollMessage
	StateDispatch
)

func (s WorkerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateWaitConnected:
		return "wait-connected"
	case StatePollMessage:
		return "poll-message"
	case StateDispatch:
		return "dispatch"
	}
	return "unknown"
}

const (
	// DefaultReadTimeout bounds each poll of the read slot by a Worker.
	DefaultReadTimeout = 5 * time.Millisecond

	// DefaultIdleInterval is the Worker's sleep after an empty poll.
	DefaultIdleInterval = time.Millisecond
)

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithReadTimeout sets how long each poll waits for a request.
func WithReadTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.readTimeout = d
		}
	}
}

// WithIdleInterval sets the pause between two empty polls.
func WithIdleInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.idle = d
		}
	}
}

// WithReplyTimeout bounds the write of each reply.
func WithReplyTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.replyTimeout = d
	}
}

// Worker serves the requests a peer sends over a Channel. Each cycle publishes
// the interpreter's busy flag, takes the channel, polls for a request, and
// either releases and idles or dispatches and writes exactly one reply before
// releasing.
type Worker struct {
	ch     *Channel
	disp   *Dispatcher
	interp Interpreter
	pool   *BufferPool

	readTimeout  time.Duration
	idle         time.Duration
	replyTimeout time.Duration

	state atomic.Int32

	// mutex protects running, cancel and done
	mutex   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWorker returns a stopped Worker serving requests on ch through disp. interp
// is polled for the busy flag.
func NewWorker(ch *Channel, disp *Dispatcher, interp Interpreter, opts ...WorkerOption) *Worker {
	w := &Worker{
		ch:           ch,
		disp:         disp,
		interp:       interp,
		pool:         NewBufferPool(64*1024, 4),
		readTimeout:  DefaultReadTimeout,
		idle:         DefaultIdleInterval,
		replyTimeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// State returns the current phase of the loop.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Start launches the loop. Calling Start on a running Worker does nothing.
func (w *Worker) Start() {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.running = true
	w.cancel = cancel
	w.done = make(chan struct{})
	w.state.Store(int32(StateWaitConnected))
	go w.loop(ctx, w.done)
}

// Stop asks the loop to exit and waits for it. A request already being
// dispatched is finished first.
func (w *Worker) Stop() {
	w.mutex.Lock()
	if !w.running {
		w.mutex.Unlock()
		return
	}
	w.running = false
	cancel, done := w.cancel, w.done
	w.mutex.Unlock()

	cancel()
	<-done
}

func (w *Worker) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		w.state.Store(int32(StateStopped))
		close(done)
	}()

	for w.State() == StateWaitConnected {
		_, err := w.ch.Connected()
		if err == nil {
			w.state.Store(int32(StatePollMessage))
			break
		}
		if errors.Is(err, ErrChannelClosed) {
			logInfof("worker on %s: channel closed", w.ch.Name())
			return
		}
		if !w.sleep(ctx, w.idle) {
			return
		}
	}

	for ctx.Err() == nil {
		w.publishBusy(w.interp.IsRunning())

		w.ch.Acquire()
		raw, err := w.ch.Read(w.readTimeout)
		if err != nil || len(raw) == 0 {
			w.ch.Release()
			switch {
			case errors.Is(err, ErrChannelClosed):
				logInfof("worker on %s: channel closed", w.ch.Name())
				return
			case err != nil && !errors.Is(err, ErrTimeout):
				logWarnf("worker on %s: read: %v", w.ch.Name(), err)
			}
			if !w.sleep(ctx, w.idle) {
				return
			}
			continue
		}

		w.state.Store(int32(StateDispatch))
		if tag, err := ParseTag(raw); err == nil && blocksInterpreter(tag) {
			w.publishBusy(true)
		}
		buf := w.pool.Get()
		reply, ok := w.disp.Dispatch(ctx, raw, buf)
		if ok {
			if err := w.ch.Write(reply, w.replyTimeout); err != nil {
				logErrorf("worker on %s: write reply: %v", w.ch.Name(), err)
			}
		}
		w.pool.Put(reply)
		w.ch.Release()
		w.state.Store(int32(StatePollMessage))
	}
}

// blocksInterpreter reports whether dispatching t keeps the interpreter busy
// until the reply is written.
func blocksInterpreter(t Tag) bool {
	switch t {
	case TagExecCode, TagExecLine, TagRestart, TagExecFun:
		return true
	}
	return false
}

func (w *Worker) publishBusy(busy bool) {
	var b byte
	if busy {
		b = 1
	}
	if err := w.ch.WriteFlags([]byte{b}); err != nil && !errors.Is(err, ErrChannelClosed) {
		logDebugf("worker on %s: publish busy flag: %v", w.ch.Name(), err)
	}
}

// sleep waits for d and reports false if ctx ended first.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
