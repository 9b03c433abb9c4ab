package thermabridge

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Interpreter is the execution engine a worker serves requests into.
//
// IsRunning is called from the worker goroutine while other methods may be
// running on the interpreter's own goroutine, so it must be safe for concurrent
// use. The other methods are only called one at a time.
type Interpreter interface {
	// Execute runs a script to completion.
	Execute(code string) error

	// ExecuteLine runs one line of interactive input, as typed at a console.
	ExecuteLine(code string) error

	// Pull returns the value bound to name.
	Pull(name string) (Value, error)

	// Push binds each name to its value.
	Push(values map[string]Value) error

	// Restart resets the interpreter to a fresh state.
	Restart() error

	// IsRunning reports whether code is currently executing.
	IsRunning() bool
}

// StyleSheetSetter is implemented by interpreters with a styled console.
type StyleSheetSetter interface {
	SetStyleSheet(css string) error
}

// panicError is a recovered panic with the stack at the point of failure.
type panicError struct {
	value interface{}
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

func (e *panicError) ExceptionName() string {
	return "Panic"
}

func (e *panicError) trace() string {
	return formatTrace(e.ExceptionName(), fmt.Sprint(e.value), string(e.stack))
}

// callSafely runs fn, turning a panic into a *panicError.
func callSafely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return fn()
}

// Dispatcher turns one incoming message into interpreter or function calls and
// builds the reply. Every message is its own failure boundary: errors and panics
// become SH_ERROR_TRACE replies and never escape Dispatch.
type Dispatcher struct {
	interp Interpreter
	funcs  *Functions
	exec   *Executor
}

// NewDispatcher returns a Dispatcher serving interp and funcs. With a nil exec,
// blocking calls run on the caller's goroutine and no-wait calls on a new one.
func NewDispatcher(interp Interpreter, funcs *Functions, exec *Executor) *Dispatcher {
	if funcs == nil {
		funcs = NewFunctions()
	}
	return &Dispatcher{interp: interp, funcs: funcs, exec: exec}
}

// Dispatch handles raw and appends the reply to dst. ok is false when the message
// takes no reply (SH_EXEC_LINE_NW, SH_STYLE_SHEET) or was dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte, dst []byte) (reply []byte, ok bool) {
	m, err := DecodeMessage(raw)
	if err != nil {
		if m.Tag == TagInvalid || !expectsReply(m.Tag) {
			logWarnf("dropping message: %v", err)
			return dst, false
		}
		logWarnf("malformed %v request: %v", m.Tag, err)
		return appendTrace(dst, formatTrace("MalformedMessage", err.Error(), "")), true
	}

	defer func() {
		if r := recover(); r != nil {
			pe := &panicError{value: r, stack: debug.Stack()}
			logErrorf("dispatch %v: %v", m.Tag, pe)
			if expectsReply(m.Tag) {
				reply, ok = appendTrace(dst, pe.trace()), true
			} else {
				reply, ok = dst, false
			}
		}
	}()

	logDebugf("dispatch %v", m.Tag)
	switch m.Tag {
	case TagObject:
		if m.Name == "" {
			// a reply that arrived after its requester gave up
			logDebugf("dropping unnamed object")
			return dst, false
		}
		err := d.run(ctx, func() error {
			return d.interp.Push(map[string]Value{m.Name: m.Value})
		})
		return d.done(dst, err), true

	case TagErrorTrace:
		logDebugf("dropping stray error trace")
		return dst, false

	case TagSendObject:
		var v Value
		err := d.run(ctx, func() error {
			var err error
			v, err = d.interp.Pull(m.Name)
			return err
		})
		if err != nil {
			return appendTrace(dst, traceOf(fmt.Errorf("cannot find object %s: %w", m.Name, err))), true
		}
		return d.object(dst, m.Name, v), true

	case TagExecCode:
		return d.done(dst, d.run(ctx, func() error { return d.interp.Execute(m.Text) })), true

	case TagExecLine:
		return d.done(dst, d.run(ctx, func() error { return d.interp.ExecuteLine(m.Text) })), true

	case TagExecLineNoWait:
		d.post(func() error { return d.interp.ExecuteLine(m.Text) }, m.Tag)
		return dst, false

	case TagRestart:
		return d.done(dst, d.run(ctx, d.interp.Restart)), true

	case TagStyleSheet:
		if s, ok := d.interp.(StyleSheetSetter); ok {
			if err := d.run(ctx, func() error { return s.SetStyleSheet(m.Text) }); err != nil {
				logWarnf("set style sheet: %v", err)
			}
		}
		return dst, false

	case TagRunning:
		if d.interp.IsRunning() {
			return append(dst, runningYes), true
		}
		return append(dst, runningNo), true

	case TagExecFun:
		var v Value
		err := d.run(ctx, func() error {
			var err error
			v, err = d.funcs.Call(m.Name, m.Args, m.Kwargs)
			return err
		})
		if err != nil {
			return appendTrace(dst, traceOf(err)), true
		}
		return d.object(dst, m.Name, v), true
	}
	return dst, false
}

func expectsReply(t Tag) bool {
	switch t {
	case TagSendObject, TagObject, TagExecCode, TagExecLine, TagRestart, TagRunning, TagExecFun:
		return true
	}
	return false
}

// run executes a blocking interpreter call, on the executor when there is one.
func (d *Dispatcher) run(ctx context.Context, fn func() error) error {
	if d.exec != nil {
		return d.exec.Invoke(ctx, fn)
	}
	return callSafely(fn)
}

// post starts a call without waiting for it. Failures, and calls the executor
// has no room for, are only logged.
func (d *Dispatcher) post(fn func() error, tag Tag) {
	report := func(err error) {
		logWarnf("%v failed: %v", tag, err)
	}
	if d.exec != nil {
		if err := d.exec.Post(fn, report); err != nil {
			logWarnf("%v dropped: %v", tag, err)
		}
		return
	}
	go func() {
		if err := callSafely(fn); err != nil {
			report(err)
		}
	}()
}

// done builds the reply of a request that returns nothing: an unnamed Null
// object on success.
func (d *Dispatcher) done(dst []byte, err error) []byte {
	if err != nil {
		return appendTrace(dst, traceOf(err))
	}
	return d.object(dst, "", Null{})
}

func (d *Dispatcher) object(dst []byte, name string, v Value) []byte {
	out, err := AppendMessage(dst, Message{Tag: TagObject, Name: name, Value: v})
	if err != nil {
		return appendTrace(dst, formatTrace("UnsupportedValue", err.Error(), ""))
	}
	return out
}

func appendTrace(dst []byte, trace string) []byte {
	out, _ := AppendMessage(dst, Message{Tag: TagErrorTrace, Text: trace})
	return out
}
