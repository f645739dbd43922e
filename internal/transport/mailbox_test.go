package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/xcbridge/internal/protocol/frame"
	"github.com/danmuck/xcbridge/internal/testutil/testlog"
)

func TestMailboxDeliverAndWait(t *testing.T) {
	testlog.Start(t)
	m := NewMailbox(4, frame.TypeCommand)
	if !m.Deliver(frame.Frame{Type: frame.TypeCommand, Payload: []byte{1}}) {
		t.Fatalf("expected delivery")
	}
	f, err := m.Wait(context.Background(), frame.TypeCommand, 50*time.Millisecond)
	if err != nil || f.Payload[0] != 1 {
		t.Fatalf("wait: f=%+v err=%v", f, err)
	}
}

func TestMailboxWaitTimeout(t *testing.T) {
	testlog.Start(t)
	m := NewMailbox(4, frame.TypeCommand)
	start := time.Now()
	_, err := m.Wait(context.Background(), frame.TypeCommand, 30*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("wait returned before its deadline")
	}
}

func TestMailboxWaitHonorsContext(t *testing.T) {
	testlog.Start(t)
	m := NewMailbox(4, frame.TypeCommand)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Wait(ctx, frame.TypeCommand, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMailboxDropsUnacceptedType(t *testing.T) {
	testlog.Start(t)
	m := NewMailbox(4, frame.TypeCommand)
	if m.Deliver(frame.Frame{Type: 0x01}) {
		t.Fatalf("expected unaccepted type to be dropped")
	}
	if _, err := m.Wait(context.Background(), 0x01, time.Millisecond); !errors.Is(err, ErrTypeNotAccepted) {
		t.Fatalf("expected ErrTypeNotAccepted, got %v", err)
	}
}

func TestMailboxOverflowEvictsOldest(t *testing.T) {
	testlog.Start(t)
	m := NewMailbox(2, frame.TypeCommand)
	for i := byte(1); i <= 3; i++ {
		m.Deliver(frame.Frame{Type: frame.TypeCommand, Payload: []byte{i}})
	}
	if m.Dropped() != 1 {
		t.Fatalf("expected one eviction, got %d", m.Dropped())
	}
	f, _ := m.Wait(context.Background(), frame.TypeCommand, time.Millisecond)
	if f.Payload[0] != 2 {
		t.Fatalf("expected oldest evicted, head=%d", f.Payload[0])
	}
}

func TestMailboxDrain(t *testing.T) {
	testlog.Start(t)
	m := NewMailbox(4, frame.TypeCommand)
	m.Deliver(frame.Frame{Type: frame.TypeCommand})
	m.Deliver(frame.Frame{Type: frame.TypeCommand})
	if n := m.Drain(frame.TypeCommand); n != 2 {
		t.Fatalf("expected 2 drained, got %d", n)
	}
	if n := m.Drain(0x01); n != 0 {
		t.Fatalf("expected 0 drained for unaccepted type, got %d", n)
	}
}

func TestMailboxCloseWakesWaiter(t *testing.T) {
	testlog.Start(t)
	m := NewMailbox(4, frame.TypeCommand)
	errCh := make(chan error, 1)
	go func() {
		_, err := m.Wait(context.Background(), frame.TypeCommand, 5*time.Second)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	m.Close()
	m.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter not woken by close")
	}
	if m.Deliver(frame.Frame{Type: frame.TypeCommand}) {
		t.Fatalf("expected delivery after close to fail")
	}
}
