package thermabridge

import "context"

// Serializer converts Go values to and from bytes. CodecSerializer speaks the
// segment's binary value format; MsgpackSerializer is used for files exchanged
// outside the segment.
type Serializer interface {
	// Marshal encodes a Go value.
	Marshal(v interface{}) ([]byte, error)

	// Unmarshal decodes data into v.
	Unmarshal(data []byte, v interface{}) error
}

// Transport moves whole messages between two peers. Channel is the shared
// memory implementation; Client only depends on this interface.
type Transport interface {
	// Acquire makes the following Send/Receive pair exclusive among the users
	// of this end.
	Acquire()

	// Release ends the exclusion taken by Acquire.
	Release()

	// Send transmits one message.
	Send(ctx context.Context, data []byte) error

	// Receive returns the next complete message.
	Receive(ctx context.Context) ([]byte, error)

	// Flags returns a copy of the flags shared by both peers.
	Flags() ([]byte, error)

	// Close detaches from the peer.
	Close() error
}
