//go:build linux || darwin || freebsd

package thermabridge

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// fileLock is a binary Semaphore built on flock(2). The flock excludes other
// processes (and other handles on the same file); mu excludes goroutines
// sharing this handle.
type fileLock struct {
	mu sync.Mutex
	f  *os.File
}

func newSegmentLock(path string) (Semaphore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("thermabridge: open lock file: %w", err)
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) flock(how int) error {
	for {
		err := unix.Flock(int(l.f.Fd()), how)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

func (l *fileLock) Acquire() error {
	l.mu.Lock()
	if err := l.flock(unix.LOCK_EX); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("thermabridge: lock segment: %w", err)
	}
	return nil
}

func (l *fileLock) Release() error {
	err := l.flock(unix.LOCK_UN)
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("thermabridge: unlock segment: %w", err)
	}
	return nil
}

func (l *fileLock) TryAcquire() (bool, error) {
	if !l.mu.TryLock() {
		return false, nil
	}
	err := l.flock(unix.LOCK_EX | unix.LOCK_NB)
	if err == nil {
		return true, nil
	}
	l.mu.Unlock()
	if errors.Is(err, unix.EWOULDBLOCK) {
		return false, nil
	}
	return false, fmt.Errorf("thermabridge: lock segment: %w", err)
}

func (l *fileLock) AcquireTimeout(timeoutMs int) (bool, error) {
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	for {
		ok, err := l.TryAcquire()
		if ok || err != nil {
			return ok, err
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (l *fileLock) Close() error {
	return l.f.Close()
}
