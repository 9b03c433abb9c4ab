package thermabridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	exec  *Executor
	funcs *Functions
}

// WithExecutor routes interpreter calls through exec. The caller runs
// exec.Run on the goroutine that owns the interpreter.
func WithExecutor(exec *Executor) SessionOption {
	return func(o *sessionOptions) { o.exec = exec }
}

// WithFunctions serves SH_EXEC_FUN requests from funcs instead of a fresh
// registry.
func WithFunctions(funcs *Functions) SessionOption {
	return func(o *sessionOptions) { o.funcs = funcs }
}

// Session is one peer of a shared segment: it owns the channel, the worker
// serving the other peer's requests and a client for issuing its own.
type Session struct {
	id     string
	ch     *Channel
	worker *Worker
	client *Client
	funcs  *Functions
	interp Interpreter

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// NewSession opens the segment described by cfg and starts serving interp. A
// nil interp serves a fresh Namespace. The session closes when ctx ends or when
// Close is called.
func NewSession(ctx context.Context, cfg Config, interp Interpreter, opts ...SessionOption) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("thermabridge: invalid config: %w", err)
	}
	if cfg.Debug {
		SetDebug(true)
	}
	var o sessionOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.funcs == nil {
		o.funcs = NewFunctions()
	}
	if interp == nil {
		interp = NewNamespace()
	}

	ch, err := openForConfig(cfg)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:     uuid.NewString(),
		ch:     ch,
		client: NewClient(ch),
		funcs:  o.funcs,
		interp: interp,
		closed: make(chan struct{}),
	}
	s.worker = NewWorker(ch, NewDispatcher(interp, o.funcs, o.exec), interp,
		WithReadTimeout(cfg.ReadTimeout),
		WithIdleInterval(cfg.IdleInterval),
		WithReplyTimeout(cfg.Timeout),
	)
	s.worker.Start()
	logInfof("session %s on segment %s (created=%v)", s.id, ch.Name(), ch.Created())

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.closed:
		}
	}()
	return s, nil
}

func openForConfig(cfg Config) (*Channel, error) {
	opts := cfg.channelOptions()
	switch cfg.Mode {
	case ModeAttach:
		return AttachChannel(cfg.Segment, opts...)
	case ModeCreate:
		name := cfg.Segment
		if name == "" {
			name = NextSegmentName(cfg.Prefix)
		}
		return CreateChannel(name, cfg.Size, opts...)
	}
	name := cfg.Segment
	if name == "" {
		name = NextSegmentName(cfg.Prefix)
	}
	return OpenChannel(name, cfg.Size, opts...)
}

// ID returns the identifier used in log lines.
func (s *Session) ID() string {
	return s.id
}

// Name returns the segment name.
func (s *Session) Name() string {
	return s.ch.Name()
}

// Channel returns the session's channel.
func (s *Session) Channel() *Channel {
	return s.ch
}

// Client returns the client for requests to the other peer.
func (s *Session) Client() *Client {
	return s.client
}

// Functions returns the registry served to the other peer.
func (s *Session) Functions() *Functions {
	return s.funcs
}

// Interpreter returns the interpreter served to the other peer.
func (s *Session) Interpreter() Interpreter {
	return s.interp
}

// Worker returns the session's worker.
func (s *Session) Worker() *Worker {
	return s.worker
}

// Close stops the worker, waits for it, then detaches from the segment.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.worker.Stop()
		s.closeErr = s.ch.Close()
		logInfof("session %s closed", s.id)
	})
	return s.closeErr
}
