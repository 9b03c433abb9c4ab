package thermabridge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Infinite disables the deadline of a Read or Write.
const Infinite time.Duration = -1

const (
	// DefaultPollInterval is the sleep between two checks of a slot.
	DefaultPollInterval = 2 * time.Millisecond

	// DefaultTimeout bounds Send, each wait for the segment lock, and the wait
	// for each chunk after the first one of a multi-chunk message.
	DefaultTimeout = 3000 * time.Millisecond
)

var (
	// ErrTimeout is returned when a Read or Write deadline passes.
	ErrTimeout = errors.New("thermabridge: timeout")

	// ErrChannelClosed is returned by operations on a closed Channel.
	ErrChannelClosed = errors.New("thermabridge: channel closed")

	// ErrCorruptSlot is returned when a slot holds an impossible chunk size. The
	// slot is cleared so the peer can continue.
	ErrCorruptSlot = errors.New("thermabridge: corrupt message slot")
)

// ChannelOption configures a Channel.
type ChannelOption func(*channelOptions)

type channelOptions struct {
	poll    time.Duration
	timeout time.Duration
}

// WithPollInterval sets how long Read and Write sleep between two slot checks.
func WithPollInterval(d time.Duration) ChannelOption {
	return func(o *channelOptions) {
		if d > 0 {
			o.poll = d
		}
	}
}

// WithTimeout sets the channel timeout. Infinite lets slot accesses wait for
// the segment lock forever.
func WithTimeout(d time.Duration) ChannelOption {
	return func(o *channelOptions) {
		o.timeout = d
	}
}

// Channel is one peer's end of a half-duplex byte pipe over a shared segment.
// Each peer writes into its own slot and reads from the other's; messages longer
// than the slot are split into chunks and reassembled by the reader.
//
// The segment lock is taken around every individual slot or header access.
// Whole request/reply exchanges are serialized in-process with Acquire and
// Release, which the command layer calls explicitly.
//
// Channel implements Transport.
type Channel struct {
	seg     *Segment
	lock    Semaphore
	hdr     Header
	created bool
	opts    channelOptions

	// exclusive backs Acquire/Release
	exclusive sync.Mutex

	// skipTail is set when a Read gave up in the middle of a message
	skipTail atomic.Bool

	// life guards closed against in-flight slot accesses
	life   sync.RWMutex
	closed bool
}

func newChannel(seg *Segment, hdr Header, created bool, opts []ChannelOption) *Channel {
	o := channelOptions{poll: DefaultPollInterval, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &Channel{seg: seg, lock: seg.Lock(), hdr: hdr, created: created, opts: o}
}

// CreateChannel creates the segment name with size bytes and lays out the
// control region. The creator reads from the first slot and writes to the second.
func CreateChannel(name string, size int, opts ...ChannelOption) (*Channel, error) {
	if size < MinSegmentSize || size > math.MaxInt32 {
		return nil, fmt.Errorf("thermabridge: segment size %d out of range", size)
	}
	seg, err := CreateSegment(name, size)
	if err != nil {
		return nil, err
	}
	hdr := NewHeader(size)
	err = withSegmentLock(seg, func() error {
		if err := seg.Zero(0, size); err != nil {
			return err
		}
		writeHeader(seg, hdr)
		return nil
	})
	if err != nil {
		_ = seg.Close()
		_ = seg.Remove()
		return nil, err
	}
	logDebugf("created segment %s (size=%d, max message=%d)", name, size, hdr.MaxMessageSize)
	return newChannel(seg, hdr, true, opts), nil
}

// attachSettle bounds how long AttachChannel waits for a creator that has sized
// the segment but not written its header yet.
const attachSettle = 100 * time.Millisecond

// AttachChannel maps the existing segment name, registers as a peer and clears
// the payload area. It returns ErrSegmentNotFound when the segment is absent or
// its creator never finished laying it out.
func AttachChannel(name string, opts ...ChannelOption) (*Channel, error) {
	settle := time.Now().Add(attachSettle)
	for {
		c, err := attachChannel(name, opts)
		if !errors.Is(err, errHeaderPending) {
			return c, err
		}
		if time.Now().After(settle) {
			return nil, fmt.Errorf("%w: %s has no header", ErrSegmentNotFound, name)
		}
		time.Sleep(DefaultPollInterval)
	}
}

var errHeaderPending = errors.New("thermabridge: segment header not written")

func attachChannel(name string, opts []ChannelOption) (*Channel, error) {
	seg, err := OpenSegment(name)
	if err != nil {
		return nil, err
	}
	var hdr Header
	err = withSegmentLock(seg, func() error {
		hdr = readHeader(seg)
		if hdr == (Header{}) {
			return errHeaderPending
		}
		if err := hdr.Validate(seg.Size()); err != nil {
			return err
		}
		hdr.Connected++
		seg.storeInt32(offConnected, hdr.Connected)
		return seg.Zero(HeaderSize, seg.Size()-HeaderSize)
	})
	if err != nil {
		_ = seg.Close()
		return nil, err
	}
	if hdr.Connected > 2 {
		logWarnf("segment %s now has %d peers", name, hdr.Connected)
	}
	logDebugf("attached to segment %s (peers=%d)", name, hdr.Connected)
	return newChannel(seg, hdr.Swapped(), false, opts), nil
}

// OpenChannel attaches to name, creating it with size bytes if it does not exist.
func OpenChannel(name string, size int, opts ...ChannelOption) (*Channel, error) {
	c, err := AttachChannel(name, opts...)
	if errors.Is(err, ErrSegmentNotFound) {
		c, err = CreateChannel(name, size, opts...)
		if errors.Is(err, ErrSegmentExists) {
			// lost a creation race, the other side created it first
			return AttachChannel(name, opts...)
		}
	}
	return c, err
}

func withSegmentLock(seg *Segment, fn func() error) error {
	if err := seg.lock.Acquire(); err != nil {
		return err
	}
	err := fn()
	if rerr := seg.lock.Release(); err == nil {
		err = rerr
	}
	return err
}

// Name returns the segment name.
func (c *Channel) Name() string {
	return c.seg.Name
}

// Header returns this peer's view of the control record: the offsets are the
// local read and write slots.
func (c *Channel) Header() Header {
	return c.hdr
}

// Created reports whether this peer created the segment.
func (c *Channel) Created() bool {
	return c.created
}

// MaxMessageSize is the largest chunk a slot holds.
func (c *Channel) MaxMessageSize() int {
	return int(c.hdr.MaxMessageSize)
}

// Acquire takes the in-process exclusion that makes one request/reply exchange
// atomic with respect to the other goroutines using this Channel.
func (c *Channel) Acquire() {
	c.exclusive.Lock()
}

// Release gives back the exclusion taken by Acquire.
func (c *Channel) Release() {
	c.exclusive.Unlock()
}

// step runs fn while holding the segment lock, waiting at most the channel
// timeout for it. It fails with ErrChannelClosed once Close has started.
func (c *Channel) step(fn func(s *Segment) error) error {
	c.life.RLock()
	defer c.life.RUnlock()
	if c.closed {
		return ErrChannelClosed
	}
	if c.opts.timeout < 0 {
		return withSegmentLock(c.seg, func() error { return fn(c.seg) })
	}
	ok, err := c.lock.AcquireTimeout(int(c.opts.timeout / time.Millisecond))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: segment lock of %s held for %v", ErrTimeout, c.seg.Name, c.opts.timeout)
	}
	err = fn(c.seg)
	if rerr := c.lock.Release(); err == nil {
		err = rerr
	}
	return err
}

// Connected returns the live peer count from the segment header.
func (c *Channel) Connected() (int, error) {
	var n int32
	err := c.step(func(s *Segment) error {
		n = s.loadInt32(offConnected)
		return nil
	})
	return int(n), err
}

// Flags returns a copy of the 44-byte flags region.
func (c *Channel) Flags() ([]byte, error) {
	var out []byte
	err := c.step(func(s *Segment) error {
		out = readFlags(s)
		return nil
	})
	return out, err
}

// WriteFlags overwrites the first len(b) flag bytes and keeps the rest.
func (c *Channel) WriteFlags(b []byte) error {
	return c.step(func(s *Segment) error {
		overlayFlags(s, b)
		return nil
	})
}

// Write sends data to the peer, chunked to the slot size. Each chunk waits for the
// slot to be empty. A timeout of Infinite waits forever. On timeout ErrTimeout is
// returned; if some chunks were already published the message is marked aborted
// and the peer drops it.
func (c *Channel) Write(data []byte, timeout time.Duration) error {
	return c.write(context.Background(), data, deadlineFor(timeout))
}

// WriteContext is Write bounded by ctx instead of a timeout.
func (c *Channel) WriteContext(ctx context.Context, data []byte) error {
	return c.write(ctx, data, time.Time{})
}

// Read waits for the next message and returns it reassembled. A timeout of
// Infinite waits forever; ErrTimeout is returned if no chunk arrives in time. The
// tail of a message abandoned by a timed out Read is skipped by the next one.
func (c *Channel) Read(timeout time.Duration) ([]byte, error) {
	return c.read(context.Background(), deadlineFor(timeout))
}

// ReadContext is Read bounded by ctx instead of a timeout.
func (c *Channel) ReadContext(ctx context.Context) ([]byte, error) {
	return c.read(ctx, time.Time{})
}

// Send writes data bounded by ctx and the channel timeout.
func (c *Channel) Send(ctx context.Context, data []byte) error {
	return c.write(ctx, data, deadlineFor(c.opts.timeout))
}

// Receive reads one message bounded by ctx only.
func (c *Channel) Receive(ctx context.Context) ([]byte, error) {
	return c.read(ctx, time.Time{})
}

func deadlineFor(timeout time.Duration) time.Time {
	if timeout < 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

func (c *Channel) write(ctx context.Context, data []byte, deadline time.Time) error {
	maxChunk := int(c.hdr.MaxMessageSize)
	off := int(c.hdr.WriteOffset)
	published := false
	for len(data) > 0 {
		n := min(len(data), maxChunk)
		var flag int32
		if len(data) > maxChunk {
			flag = 1
		}
		for {
			sent := false
			err := c.step(func(s *Segment) error {
				if s.loadInt32(off) != 0 {
					return nil
				}
				if _, err := s.WriteAt(data[:n], int64(off+SlotHeaderSize)); err != nil {
					return err
				}
				s.storeInt32(off+4, flag)
				// the size field publishes the chunk
				s.storeInt32(off, int32(n))
				sent = true
				return nil
			})
			if err != nil {
				return err
			}
			if sent {
				break
			}
			if err := c.pause(ctx, deadline); err != nil {
				if published {
					c.abort(off)
				}
				return err
			}
		}
		published = true
		data = data[n:]
	}
	return nil
}

// abort replaces whatever sits in the write slot with the abort marker, so an
// unconsumed chunk is retracted and a partly read message is dropped.
func (c *Channel) abort(off int) {
	err := c.step(func(s *Segment) error {
		s.storeInt32(off+4, 0)
		s.storeInt32(off, slotAborted)
		return nil
	})
	if err != nil {
		logDebugf("abort message on %s: %v", c.seg.Name, err)
	}
}

func (c *Channel) read(ctx context.Context, deadline time.Time) ([]byte, error) {
	maxChunk := int32(c.hdr.MaxMessageSize)
	off := int(c.hdr.ReadOffset)
	var out []byte
	for {
		got, more, aborted := false, false, false
		err := c.step(func(s *Segment) error {
			size := s.loadInt32(off)
			if size == 0 {
				return nil
			}
			defer func() {
				s.storeInt32(off+4, 0)
				s.storeInt32(off, 0)
			}()
			if size == slotAborted {
				aborted = true
				return nil
			}
			if size < 0 || size > maxChunk {
				return fmt.Errorf("%w: chunk size %d", ErrCorruptSlot, size)
			}
			more = s.loadInt32(off+4) != 0
			n := len(out)
			out = slices.Grow(out, int(size))[:n+int(size)]
			if _, err := s.ReadAt(out[n:], int64(off+SlotHeaderSize)); err != nil {
				return err
			}
			got = true
			return nil
		})
		if err != nil {
			return nil, err
		}
		if aborted {
			out = out[:0]
			c.skipTail.Store(false)
			continue
		}
		if got {
			if c.skipTail.Load() {
				// tail of a message a previous Read gave up on
				out = out[:0]
				if !more {
					c.skipTail.Store(false)
				}
				continue
			}
			if !more {
				return out, nil
			}
			// the rest of a started message gets a fresh budget per chunk
			if !deadline.IsZero() && c.opts.timeout >= 0 {
				if ext := time.Now().Add(c.opts.timeout); ext.After(deadline) {
					deadline = ext
				}
			}
			continue
		}
		if err := c.pause(ctx, deadline); err != nil {
			if len(out) > 0 {
				c.skipTail.Store(true)
			}
			return nil, err
		}
	}
}

// pause sleeps one poll interval, clamped to the deadline.
func (c *Channel) pause(ctx context.Context, deadline time.Time) error {
	d := c.opts.poll
	if !deadline.IsZero() {
		left := time.Until(deadline)
		if left <= 0 {
			return ErrTimeout
		}
		d = min(d, left)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Close unregisters this peer and unmaps the segment. The last peer to leave
// removes the backing files.
func (c *Channel) Close() error {
	c.life.Lock()
	defer c.life.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	remaining := int32(-1)
	err := withSegmentLock(c.seg, func() error {
		remaining = max(c.seg.loadInt32(offConnected)-1, 0)
		c.seg.storeInt32(offConnected, remaining)
		return nil
	})
	if cerr := c.seg.Close(); err == nil {
		err = cerr
	}
	if remaining == 0 {
		if rerr := c.seg.Remove(); err == nil {
			err = rerr
		}
	}
	logDebugf("detached from segment %s (peers left=%d)", c.seg.Name, remaining)
	return err
}
