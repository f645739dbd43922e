//go:build linux

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/danmuck/xcbridge/internal/observability"
	"github.com/danmuck/xcbridge/internal/protocol/frame"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

var baudRates = map[int]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
	2000000: unix.B2000000,
	3000000: unix.B3000000,
}

var _ FrameTransport = (*Serial)(nil)

// Serial is a FrameTransport over a UART character device.
type Serial struct {
	cfg     SerialConfig
	lock    *DeviceLock
	file    *os.File
	mailbox *Mailbox
	decoder *frame.Decoder
	isTTY   bool
	log     zerolog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	started bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}
	readErr error
}

// OpenSerial acquires path exclusively and configures it as a raw tty when it
// is one. The receiver is not running until Start.
func OpenSerial(path string, cfg SerialConfig) (FrameTransport, error) {
	cfg = cfg.WithDefaults()
	speed, ok := baudRates[cfg.BaudRate]
	if !ok {
		return nil, fmt.Errorf("transport: unsupported baud rate %d", cfg.BaudRate)
	}
	lock, err := AcquireDevice(path)
	if err != nil {
		return nil, err
	}
	logger := cfg.logger().With().Str("device", path).Logger()
	isTTY, err := makeRaw(lock.File(), speed)
	if err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("transport: configure %s: %w", path, err)
	}
	logger.Debug().Bool("tty", isTTY).Int("baud", cfg.BaudRate).Msg("serial link acquired")
	return &Serial{
		cfg:     cfg,
		lock:    lock,
		file:    lock.File(),
		mailbox: NewMailbox(cfg.QueueDepth, cfg.Accept...),
		decoder: frame.NewDecoder(cfg.MaxPayload),
		isTTY:   isTTY,
		log:     logger,
	}, nil
}

func (s *Serial) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.decoder.Reset()
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.receive(s.stop, s.done)
	return nil
}

func (s *Serial) Send(t frame.Type, payload []byte) error {
	b, err := frame.Encode(frame.Frame{Type: t, Payload: payload})
	if err != nil {
		return err
	}
	s.mu.Lock()
	closed, readErr := s.closed, s.readErr
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if readErr != nil {
		return fmt.Errorf("%w: %w", ErrClosed, readErr)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.log.Trace().Stringer("type", t).Hex("bytes", b).Msg("send frame")
	if _, err := s.file.Write(b); err != nil {
		if linkGone(err) {
			s.fail(err)
			return fmt.Errorf("%w: write: %w", ErrClosed, err)
		}
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// linkGone reports errors meaning the device node no longer reaches a device.
func linkGone(err error) bool {
	return errors.Is(err, unix.EIO) || errors.Is(err, unix.ENXIO) || errors.Is(err, unix.ENODEV)
}

// fail records the first fatal link error and wakes every waiter.
func (s *Serial) fail(err error) {
	s.mu.Lock()
	if s.readErr == nil {
		s.readErr = err
	}
	s.mu.Unlock()
	s.mailbox.Close()
}

func (s *Serial) Wait(ctx context.Context, t frame.Type, timeout time.Duration) (frame.Frame, error) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return frame.Frame{}, ErrNotStarted
	}
	f, err := s.mailbox.Wait(ctx, t, timeout)
	if errors.Is(err, ErrClosed) {
		s.mu.Lock()
		readErr := s.readErr
		s.mu.Unlock()
		if readErr != nil {
			return frame.Frame{}, fmt.Errorf("%w: %w", ErrClosed, readErr)
		}
	}
	return f, err
}

func (s *Serial) Drain(t frame.Type) int {
	return s.mailbox.Drain(t)
}

func (s *Serial) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	// Wake a blocked read; not supported on non-pollable files, which
	// return EOF instead of blocking.
	_ = s.file.SetReadDeadline(time.Now())

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrStopTimeout, timeout)
	}
}

func (s *Serial) Close() error {
	stopErr := s.Stop(s.cfg.StopTimeout)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.mailbox.Close()
	if err := s.lock.Release(); err != nil {
		return err
	}
	if stopErr != nil {
		s.log.Warn().Err(stopErr).Msg("receiver stop exceeded deadline")
	}
	return nil
}

func (s *Serial) receive(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, 4096)
	deadlines := true
	for {
		select {
		case <-stop:
			return
		default:
		}
		if deadlines {
			if err := s.file.SetReadDeadline(time.Now().Add(s.cfg.PollInterval)); err != nil {
				deadlines = false
			}
		}
		n, err := s.file.Read(buf)
		if n > 0 {
			before := s.decoder.Discarded()
			for _, f := range s.decoder.Feed(buf[:n]) {
				if !s.mailbox.Deliver(f) {
					s.log.Debug().Stringer("type", f.Type).Int("len", len(f.Payload)).Msg("dropped frame")
				}
			}
			if skipped := s.decoder.Discarded() - before; skipped > 0 {
				s.log.Debug().Uint64("bytes", skipped).Msg("resynchronized stream")
				observability.RecordDiscardedBytes(int(skipped))
			}
		}
		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
		case errors.Is(err, io.EOF) && s.isTTY:
			// A tty reads EOF only after hangup.
			s.log.Error().Msg("serial line hung up; receiver exiting")
			s.fail(fmt.Errorf("transport: hangup: %w", err))
			return
		case errors.Is(err, io.EOF):
			if !sleepOrStop(stop, s.cfg.PollInterval) {
				return
			}
		case errors.Is(err, os.ErrClosed):
			return
		default:
			s.log.Error().Err(err).Msg("serial read failed; receiver exiting")
			s.fail(err)
			return
		}
	}
}

func sleepOrStop(stop <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}

// makeRaw switches a tty to raw 8N1 at speed. Non-tty paths are left alone.
func makeRaw(f *os.File, speed uint32) (bool, error) {
	isTTY := true
	err := control(f, func(fd int) error {
		t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
		if err != nil {
			if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.EINVAL) {
				isTTY = false
				return nil
			}
			return err
		}
		t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
		t.Oflag &^= unix.OPOST
		t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
		t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CBAUD
		t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
		t.Ispeed = speed
		t.Ospeed = speed
		t.Cc[unix.VMIN] = 1
		t.Cc[unix.VTIME] = 0
		return unix.IoctlSetTermios(fd, unix.TCSETS, t)
	})
	return isTTY, err
}
