//go:build linux || darwin || freebsd

package thermabridge

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

func createMapping(path string, size int) ([]byte, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, ErrSegmentExists
		}
		return nil, fmt.Errorf("thermabridge: create segment file: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("thermabridge: size segment file: %w", err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("thermabridge: mmap segment: %w", err)
	}
	return data, nil
}

func openMapping(path string) ([]byte, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrSegmentNotFound
		}
		return nil, fmt.Errorf("thermabridge: open segment file: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("thermabridge: stat segment file: %w", err)
	}
	if fi.Size() == 0 {
		// creator has not sized the file yet
		return nil, ErrSegmentNotFound
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("thermabridge: mmap segment: %w", err)
	}
	return data, nil
}

func unmapMapping(data []byte) error {
	if data == nil {
		return nil
	}
	return unix.Munmap(data)
}
