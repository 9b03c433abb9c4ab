package thermabridge

// Semaphore is the cross-process lock that guards the segment header, the flags
// region and the message slots. Both peers take it around every individual
// header or slot access, never across a whole request/reply exchange.
//
// On unix the implementation is a binary lock over flock(2) on a file next to the
// segment ("<segment>.lock"), so any process that maps the segment can take part.
//
// Example:
//
//	seg, _ := thermabridge.OpenSegment("Thermavip-1")
//	lock := seg.Lock()
//	lock.Acquire()
//	// read or write the header
//	lock.Release()
type Semaphore interface {
	// Acquire blocks until the lock is held.
	Acquire() error

	// Release gives the lock back.
	Release() error

	// TryAcquire takes the lock without blocking and reports whether it did.
	TryAcquire() (bool, error)

	// AcquireTimeout waits at most timeoutMs milliseconds for the lock.
	AcquireTimeout(timeoutMs int) (bool, error)

	// Close releases the handle. It does not release a held lock.
	Close() error
}
