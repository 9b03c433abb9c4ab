package thermabridge

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEmptyName is returned when pushing or pulling without a name.
	ErrEmptyName = errors.New("thermabridge: empty object name")

	// ErrUnexpectedReply is returned when the peer answers with a message that
	// does not fit the request.
	ErrUnexpectedReply = errors.New("thermabridge: unexpected reply")
)

// Client issues requests to the peer on the other end of a Transport. Every
// synchronous request takes the transport with Acquire, writes, waits for the
// reply and releases, so a Worker on the same Channel never consumes the reply.
//
// Reply waits are bounded by the context only: an execution can legitimately
// take long. Over a Channel, writes are also bounded by the channel timeout.
//
// Client is safe for concurrent use; requests are serialized.
type Client struct {
	tr   Transport
	pool *BufferPool
}

// NewClient returns a Client over tr, usually a *Channel.
func NewClient(tr Transport) *Client {
	return &Client{tr: tr, pool: NewBufferPool(64*1024, 2)}
}

func (c *Client) send(ctx context.Context, m Message) error {
	buf, err := AppendMessage(c.pool.Get(), m)
	if err != nil {
		return err
	}
	defer c.pool.Put(buf)
	if err := c.tr.Send(ctx, buf); err != nil {
		return fmt.Errorf("thermabridge: send %v: %w", m.Tag, err)
	}
	return nil
}

// roundTrip sends m and returns the raw reply.
func (c *Client) roundTrip(ctx context.Context, m Message) ([]byte, error) {
	c.tr.Acquire()
	defer c.tr.Release()
	if err := c.send(ctx, m); err != nil {
		return nil, err
	}
	reply, err := c.tr.Receive(ctx)
	if err != nil {
		return nil, fmt.Errorf("thermabridge: wait for %v reply: %w", m.Tag, err)
	}
	return reply, nil
}

// post sends m without waiting for a reply.
func (c *Client) post(ctx context.Context, m Message) error {
	c.tr.Acquire()
	defer c.tr.Release()
	return c.send(ctx, m)
}

// object decodes a reply that must be an object. An SH_ERROR_TRACE becomes a
// *RemoteError, except an empty one, which some peers send for success and is
// returned as an unnamed Null.
func object(reply []byte) (Message, error) {
	m, err := DecodeMessage(reply)
	if err != nil {
		return m, fmt.Errorf("%w: %v", ErrUnexpectedReply, err)
	}
	switch m.Tag {
	case TagObject:
		return m, nil
	case TagErrorTrace:
		if m.Text == "" {
			return Message{Tag: TagObject, Value: Null{}}, nil
		}
		return m, NewRemoteError(m.Text)
	}
	return m, fmt.Errorf("%w: %v", ErrUnexpectedReply, m.Tag)
}

func (c *Client) expectDone(ctx context.Context, m Message) error {
	reply, err := c.roundTrip(ctx, m)
	if err != nil {
		return err
	}
	_, err = object(reply)
	return err
}

// Push binds name to v in the peer's namespace.
func (c *Client) Push(ctx context.Context, name string, v Value) error {
	if name == "" {
		return ErrEmptyName
	}
	return c.expectDone(ctx, Message{Tag: TagObject, Name: name, Value: v})
}

// Pull fetches the value bound to name in the peer's namespace.
func (c *Client) Pull(ctx context.Context, name string) (Value, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	reply, err := c.roundTrip(ctx, Message{Tag: TagSendObject, Name: name})
	if err != nil {
		return nil, err
	}
	m, err := object(reply)
	if err != nil {
		return nil, err
	}
	return m.Value, nil
}

// Exec runs a script on the peer and waits for it to finish.
func (c *Client) Exec(ctx context.Context, code string) error {
	return c.expectDone(ctx, Message{Tag: TagExecCode, Text: code})
}

// ExecLine runs one line of interactive input on the peer and waits for it.
func (c *Client) ExecLine(ctx context.Context, code string) error {
	return c.expectDone(ctx, Message{Tag: TagExecLine, Text: code})
}

// ExecLineNoWait queues one line of input on the peer. Failures of the line are
// not reported back.
func (c *Client) ExecLineNoWait(ctx context.Context, code string) error {
	return c.post(ctx, Message{Tag: TagExecLineNoWait, Text: code})
}

// Restart resets the peer's interpreter.
func (c *Client) Restart(ctx context.Context) error {
	return c.expectDone(ctx, Message{Tag: TagRestart})
}

// SetStyleSheet sets the style sheet of the peer's console. There is no reply.
func (c *Client) SetStyleSheet(ctx context.Context, css string) error {
	return c.post(ctx, Message{Tag: TagStyleSheet, Text: css})
}

// Running asks the peer whether its interpreter is executing code.
func (c *Client) Running(ctx context.Context) (bool, error) {
	reply, err := c.roundTrip(ctx, Message{Tag: TagRunning})
	if err != nil {
		return false, err
	}
	if len(reply) != 1 || (reply[0] != runningYes && reply[0] != runningNo) {
		return false, fmt.Errorf("%w: %d bytes to %v", ErrUnexpectedReply, len(reply), TagRunning)
	}
	return reply[0] == runningYes, nil
}

// Busy reads the peer's busy flag from the flags region, without a request.
func (c *Client) Busy() (bool, error) {
	flags, err := c.tr.Flags()
	if err != nil {
		return false, err
	}
	return flags[FlagBusy] != 0, nil
}

// Call runs the function registered as fn on the peer and returns its result.
func (c *Client) Call(ctx context.Context, fn string, args List, kwargs Mapping) (Value, error) {
	reply, err := c.roundTrip(ctx, Message{Tag: TagExecFun, Name: fn, Args: args, Kwargs: kwargs})
	if err != nil {
		return nil, err
	}
	m, err := object(reply)
	if err != nil {
		return nil, err
	}
	return m.Value, nil
}
