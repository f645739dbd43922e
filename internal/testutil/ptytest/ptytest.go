//go:build linux

// Package ptytest allocates pseudo-terminals so serial code can be tested
// against a real tty without hardware.
package ptytest

import (
	"fmt"
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

// Pair is an allocated pty. Master plays the device; Path is the tty node
// the code under test opens.
type Pair struct {
	Master *os.File
	Path   string
}

// Open allocates a pty, skipping the test when the host has no ptmx. The
// master is closed on cleanup unless the test closed it first.
func Open(t *testing.T) Pair {
	t.Helper()
	master, err := os.OpenFile("/dev/ptmx", os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	fd := int(master.Fd())
	if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0); err != nil {
		_ = master.Close()
		t.Skipf("unlock pty: %v", err)
	}
	n, err := unix.IoctlGetInt(fd, unix.TIOCGPTN)
	if err != nil {
		_ = master.Close()
		t.Skipf("pty number: %v", err)
	}
	t.Cleanup(func() { _ = master.Close() })
	return Pair{Master: master, Path: fmt.Sprintf("/dev/pts/%d", n)}
}
