package thermabridge

import (
	"errors"
	"fmt"
)

// Segment layout. The control region occupies the first HeaderSize bytes: five
// little-endian int32 fields followed by the flags region, which reuses the
// remaining bytes of the control region.
const (
	HeaderSize     = 64
	FlagsOffset    = 20
	FlagsSize      = 44
	SlotHeaderSize = 8

	// MinSegmentSize leaves room for a 1-byte chunk in each direction.
	MinSegmentSize = HeaderSize + 2*SlotHeaderSize + 2
)

const (
	offConnected   = 0
	offSize        = 4
	offMaxMsgSize  = 8
	offReadOffset  = 12
	offWriteOffset = 16
)

// slotAborted in a slot's size field tells the reader to drop the message it is
// reassembling. A writer leaves it when it gives up after publishing a chunk.
const slotAborted int32 = -1

// FlagBusy is the index in the flags region of the "interpreter busy" byte.
const FlagBusy = 0

// ErrInvalidHeader is returned when an attached segment does not carry a
// consistent control region.
var ErrInvalidHeader = errors.New("thermabridge: invalid segment header")

// Header is the control record at the start of a segment.
type Header struct {
	Connected      int32
	Size           int32
	MaxMessageSize int32
	ReadOffset     int32
	WriteOffset    int32
}

// NewHeader returns the layout a creator writes for a segment of size bytes: the
// payload is split in two equal slots, the first read by the creator and the
// second written by it.
func NewHeader(size int) Header {
	maxMsg := int32((size - HeaderSize - 2*SlotHeaderSize) / 2)
	return Header{
		Connected:      1,
		Size:           int32(size),
		MaxMessageSize: maxMsg,
		ReadOffset:     HeaderSize,
		WriteOffset:    HeaderSize + SlotHeaderSize + maxMsg,
	}
}

// Swapped returns h with the read and write offsets exchanged, which is the
// attacher's view of the creator's layout.
func (h Header) Swapped() Header {
	h.ReadOffset, h.WriteOffset = h.WriteOffset, h.ReadOffset
	return h
}

// Validate checks h against the size of the mapped region.
func (h Header) Validate(mapped int) error {
	switch {
	case int(h.Size) != mapped:
		return fmt.Errorf("%w: size %d, mapped %d", ErrInvalidHeader, h.Size, mapped)
	case h.MaxMessageSize <= 0:
		return fmt.Errorf("%w: max message size %d", ErrInvalidHeader, h.MaxMessageSize)
	}
	for _, off := range []int32{h.ReadOffset, h.WriteOffset} {
		if off < HeaderSize || int64(off)+SlotHeaderSize+int64(h.MaxMessageSize) > int64(h.Size) {
			return fmt.Errorf("%w: slot offset %d", ErrInvalidHeader, off)
		}
	}
	return nil
}

// readHeader loads the control record. The caller holds the segment lock.
func readHeader(s *Segment) Header {
	return Header{
		Connected:      s.loadInt32(offConnected),
		Size:           s.loadInt32(offSize),
		MaxMessageSize: s.loadInt32(offMaxMsgSize),
		ReadOffset:     s.loadInt32(offReadOffset),
		WriteOffset:    s.loadInt32(offWriteOffset),
	}
}

// writeHeader stores the control record, leaving the flags region intact. The
// caller holds the segment lock.
func writeHeader(s *Segment, h Header) {
	s.storeInt32(offConnected, h.Connected)
	s.storeInt32(offSize, h.Size)
	s.storeInt32(offMaxMsgSize, h.MaxMessageSize)
	s.storeInt32(offReadOffset, h.ReadOffset)
	s.storeInt32(offWriteOffset, h.WriteOffset)
}

// readFlags copies the flags region. The caller holds the segment lock.
func readFlags(s *Segment) []byte {
	out := make([]byte, FlagsSize)
	for i := 0; i < FlagsSize; i += 4 {
		s.loadWord(FlagsOffset+i, out[i:i+4])
	}
	return out
}

// overlayFlags replaces the first len(b) flag bytes, keeping the others. Bytes
// past FlagsSize are ignored. The caller holds the segment lock.
func overlayFlags(s *Segment, b []byte) {
	cur := readFlags(s)
	n := copy(cur, b)
	for i := 0; i < n; i += 4 {
		s.storeWord(FlagsOffset+i, cur[i:i+4])
	}
}
