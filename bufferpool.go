package thermabridge

// BufferPool recycles the scratch buffers used to assemble outgoing messages.
// It is a buffered channel of slices, so Get and Put never block.
//
// BufferPool is safe for concurrent use.
type BufferPool struct {
	free    chan []byte
	bufSize int
}

// NewBufferPool returns a pool holding up to count buffers with bufSize bytes of
// capacity. Buffers are allocated lazily.
func NewBufferPool(bufSize, count int) *BufferPool {
	return &BufferPool{free: make(chan []byte, count), bufSize: bufSize}
}

// Get returns an empty buffer with at least bufSize bytes of capacity.
func (p *BufferPool) Get() []byte {
	select {
	case buf := <-p.free:
		return buf[:0]
	default:
		return make([]byte, 0, p.bufSize)
	}
}

// Put hands buf back. Buffers that grew past bufSize while in use are dropped so
// one large message does not pin its memory, as are buffers that arrive when the
// pool is already full.
func (p *BufferPool) Put(buf []byte) {
	if cap(buf) != p.bufSize {
		return
	}
	select {
	case p.free <- buf[:0]:
	default:
	}
}
