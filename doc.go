// Package thermabridge implements the shared-memory IPC layer between a
// Thermavip host and its scripting interpreter, and between the host and
// external RPC clients.
//
// Two peers exchange framed messages over one named shared segment. Each
// message carries a 16-byte command tag followed by a payload built with a
// self-describing binary value codec. The side that receives a request runs a
// Worker that dispatches it to an Interpreter or to a registry of Functions and
// writes exactly one reply when the command expects one.
//
// # Segment Layout
//
// A segment starts with a 64-byte header:
//
//	offset  0  int32  connected peers
//	offset  4  int32  segment size
//	offset  8  int32  maximum message size
//	offset 12  int32  read slot offset
//	offset 16  int32  write slot offset
//	offset 20  44 bytes of flags
//
// and holds two slots, one per direction. A slot is an int32 payload size, an
// int32 continuation flag and the payload. The creator reads from the first slot
// and writes to the second; an attaching peer sees the offsets swapped.
//
// # Channels
//
// A Channel frames arbitrary byte messages through its write slot and reads the
// peer's messages from its read slot. Messages longer than the slot are sent as
// a sequence of chunks:
//
//	ch, err := thermabridge.CreateChannel("Thermavip-1", thermabridge.DefaultSegmentSize)
//	if err != nil {
//		return err
//	}
//	defer ch.Close()
//	if err := ch.Write(payload, 3*time.Second); err != nil {
//		return err
//	}
//	reply, err := ch.Read(thermabridge.Infinite)
//
// # Values
//
// Value is the closed set of kinds the codec carries: Null, Int, Float,
// Complex, String, Bytes, List, Pair, Mapping, *NDArray and *ErrorValue. FromGo
// and ToGo convert between Values and ordinary Go data. EncodeMsgpack and
// DecodeMsgpack export Values as MessagePack for tools outside the IPC.
//
// # Sessions
//
// A Session is one peer: it opens the segment, serves requests with a Worker
// and issues its own requests with a Client.
//
//	sess, err := thermabridge.NewSession(ctx, thermabridge.DefaultConfig(), nil)
//	if err != nil {
//		return err
//	}
//	defer sess.Close()
//	sess.Functions().Register("open", openHandler)
//
// An external program calls the host's functions with an RPCClient:
//
//	rpc, err := thermabridge.Dial("Thermavip-1")
//	if err != nil {
//		return err
//	}
//	defer rpc.Close()
//	player, err := rpc.On("open").Do("/data/movie.mp4").Call(ctx)
//
// # Logging
//
// Diagnostics go to a standard library logger that SetLogger replaces.
// SetDebug enables per-message traces.
package thermabridge
