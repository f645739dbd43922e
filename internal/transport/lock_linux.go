//go:build linux

package transport

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// DeviceLock is the exclusive capability to use one device path. It is held
// through an advisory flock on the open descriptor, so a second acquisition
// from this or any other process fails instead of blocking.
type DeviceLock struct {
	file *os.File
}

func AcquireDevice(path string) (*DeviceLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, path)
		}
		return nil, fmt.Errorf("transport: open %s: %w", path, err)
	}
	if err := control(f, func(fd int) error {
		return unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
	}); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrResourceBusy, path)
		}
		return nil, fmt.Errorf("transport: lock %s: %w", path, err)
	}
	return &DeviceLock{file: f}, nil
}

func (l *DeviceLock) File() *os.File {
	return l.file
}

// Release drops the lock and closes the descriptor.
func (l *DeviceLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = control(l.file, func(fd int) error {
		return unix.Flock(fd, unix.LOCK_UN)
	})
	err := l.file.Close()
	l.file = nil
	return err
}

// control runs fn against the raw descriptor without switching f to
// blocking mode, which f.Fd() would do.
func control(f *os.File, fn func(fd int) error) error {
	raw, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	if err := raw.Control(func(fd uintptr) {
		opErr = fn(int(fd))
	}); err != nil {
		return err
	}
	return opErr
}
