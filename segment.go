package thermabridge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"
)

var (
	// ErrSegmentNotFound is returned when no segment with the requested name exists.
	ErrSegmentNotFound = errors.New("thermabridge: shared segment not found")

	// ErrSegmentExists is returned by CreateSegment when the name is already taken.
	ErrSegmentExists = errors.New("thermabridge: shared segment already exists")

	// ErrSegmentClosed is returned when accessing a segment after Close.
	ErrSegmentClosed = errors.New("thermabridge: shared segment closed")

	// ErrSharedMemoryNotAvailable is returned on platforms without mmap support.
	ErrSharedMemoryNotAvailable = errors.New("thermabridge: shared memory is not available on this platform")
)

// Segment is a named, fixed-size region of memory shared between processes. The
// region is backed by a file under /dev/shm (or the temp directory when /dev/shm
// does not exist) and mapped into each process.
//
// A Segment carries a cross-process lock, obtained with Lock, that peers use to
// guard individual header and slot accesses.
//
// Segment implements io.ReaderAt and io.WriterAt.
type Segment struct {
	// Name is the identifier both peers use to find the segment.
	Name string

	path string
	data []byte
	lock Semaphore

	mu     sync.RWMutex
	closed bool
}

// CreateSegment creates and maps a new zero-filled segment of size bytes. It fails
// with ErrSegmentExists if a segment with the same name is present.
func CreateSegment(name string, size int) (*Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("thermabridge: invalid segment size %d", size)
	}
	path, err := segmentPath(name)
	if err != nil {
		return nil, err
	}
	data, err := createMapping(path, size)
	if err != nil {
		return nil, err
	}
	lock, err := newSegmentLock(path + ".lock")
	if err != nil {
		_ = unmapMapping(data)
		_ = os.Remove(path)
		return nil, err
	}
	return &Segment{Name: name, path: path, data: data, lock: lock}, nil
}

// OpenSegment maps an existing segment. It fails with ErrSegmentNotFound when the
// segment does not exist.
func OpenSegment(name string) (*Segment, error) {
	path, err := segmentPath(name)
	if err != nil {
		return nil, err
	}
	data, err := openMapping(path)
	if err != nil {
		return nil, err
	}
	lock, err := newSegmentLock(path + ".lock")
	if err != nil {
		_ = unmapMapping(data)
		return nil, err
	}
	return &Segment{Name: name, path: path, data: data, lock: lock}, nil
}

// SegmentExists reports whether a segment called name is present.
func SegmentExists(name string) bool {
	path, err := segmentPath(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// NextSegmentName returns the first name of the form "<prefix>-N", N counting
// from 1, for which no segment exists.
func NextSegmentName(prefix string) string {
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s-%d", prefix, i)
		if !SegmentExists(name) {
			return name
		}
	}
}

// ListSegments returns the names of the segments present, sorted.
func ListSegments() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(SegmentDir(), segmentFilePrefix+"*"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		if strings.HasSuffix(base, ".lock") {
			continue
		}
		names = append(names, strings.TrimPrefix(base, segmentFilePrefix))
	}
	sort.Strings(names)
	return names, nil
}

const segmentFilePrefix = "thermabridge."

// SegmentDir returns the directory that holds segment files.
func SegmentDir() string {
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

func segmentPath(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("thermabridge: invalid segment name %q", name)
	}
	return filepath.Join(SegmentDir(), segmentFilePrefix+name), nil
}

// Size returns the size of the mapped region in bytes.
func (s *Segment) Size() int {
	return len(s.data)
}

// Lock returns the cross-process lock associated with the segment.
func (s *Segment) Lock() Semaphore {
	return s.lock
}

// ReadAt copies len(p) bytes starting at off.
func (s *Segment) ReadAt(p []byte, off int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrSegmentClosed
	}
	if off < 0 || off > int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt copies p into the segment starting at off.
func (s *Segment) WriteAt(p []byte, off int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrSegmentClosed
	}
	if off < 0 || off > int64(len(s.data)) {
		return 0, io.ErrShortWrite
	}
	n := copy(s.data[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Zero clears n bytes starting at off.
func (s *Segment) Zero(off, n int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSegmentClosed
	}
	if off < 0 || n < 0 || off+n > len(s.data) {
		return io.ErrShortWrite
	}
	clear(s.data[off : off+n])
	return nil
}

// Close unmaps the region and releases the lock handle. The backing file stays
// in place; use Remove to delete it.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := unmapMapping(s.data)
	s.data = nil
	if lerr := s.lock.Close(); err == nil {
		err = lerr
	}
	return err
}

// Remove deletes the backing files so the name can be reused.
func (s *Segment) Remove() error {
	err := os.Remove(s.path)
	if lerr := os.Remove(s.path + ".lock"); lerr != nil && !errors.Is(lerr, os.ErrNotExist) && err == nil {
		err = lerr
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

var nativeLittle = binary.NativeEndian.Uint16([]byte{1, 0}) == 1

// aligned reports whether off can be accessed as an atomic 32-bit word.
func (s *Segment) aligned(off int) bool {
	return (uintptr(unsafe.Pointer(&s.data[off])) & 3) == 0
}

// loadInt32 reads a little-endian int32 at off, atomically when off is aligned.
// Unaligned fields are only touched while holding the segment lock.
func (s *Segment) loadInt32(off int) int32 {
	if !s.aligned(off) {
		return int32(binary.LittleEndian.Uint32(s.data[off:]))
	}
	v := atomic.LoadUint32((*uint32)(unsafe.Pointer(&s.data[off])))
	if !nativeLittle {
		v = swap32(v)
	}
	return int32(v)
}

// storeInt32 writes a little-endian int32 at off, atomically when off is aligned.
func (s *Segment) storeInt32(off int, v int32) {
	if !s.aligned(off) {
		binary.LittleEndian.PutUint32(s.data[off:], uint32(v))
		return
	}
	u := uint32(v)
	if !nativeLittle {
		u = swap32(u)
	}
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&s.data[off])), u)
}

// loadWord and storeWord move a 4-byte group at an aligned off without
// reinterpreting its byte order.
func (s *Segment) loadWord(off int, dst []byte) {
	v := atomic.LoadUint32((*uint32)(unsafe.Pointer(&s.data[off])))
	binary.NativeEndian.PutUint32(dst, v)
}

func (s *Segment) storeWord(off int, src []byte) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&s.data[off])), binary.NativeEndian.Uint32(src))
}

func swap32(v uint32) uint32 {
	return v>>24 | (v>>8)&0xff00 | (v<<8)&0xff0000 | v<<24
}
