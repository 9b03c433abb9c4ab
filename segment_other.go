//go:build !(linux || darwin || freebsd)

package thermabridge

func createMapping(path string, size int) ([]byte, error) {
	return nil, ErrSharedMemoryNotAvailable
}

func openMapping(path string) ([]byte, error) {
	return nil, ErrSharedMemoryNotAvailable
}

func unmapMapping(data []byte) error {
	return nil
}

func newSegmentLock(path string) (Semaphore, error) {
	return nil, ErrSharedMemoryNotAvailable
}
