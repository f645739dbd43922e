package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/xcbridge/internal/observability"
	"github.com/danmuck/xcbridge/internal/protocol/frame"
)

const DefaultQueueDepth = 16

// Mailbox is a set of bounded per-type frame queues fed by a receiver and
// consumed by waiting callers. Unaccepted types are dropped on delivery.
type Mailbox struct {
	queues map[frame.Type]chan frame.Frame

	mu      sync.Mutex
	closed  bool
	done    chan struct{}
	dropped uint64
}

func NewMailbox(depth int, accepted ...frame.Type) *Mailbox {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	m := &Mailbox{
		queues: make(map[frame.Type]chan frame.Frame, len(accepted)),
		done:   make(chan struct{}),
	}
	for _, t := range accepted {
		m.queues[t] = make(chan frame.Frame, depth)
	}
	return m
}

// Deliver queues f for its type. When the queue is full the oldest frame is
// evicted. It never blocks and reports whether f was queued.
func (m *Mailbox) Deliver(f frame.Frame) bool {
	q, ok := m.queues[f.Type]
	if !ok {
		observability.RecordFramesDropped(observability.DropUnaccepted, 1)
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	for {
		select {
		case q <- f:
			return true
		default:
		}
		select {
		case <-q:
			m.dropped++
			observability.RecordFramesDropped(observability.DropOverflow, 1)
		default:
		}
	}
}

// Wait returns the next frame of type t.
func (m *Mailbox) Wait(ctx context.Context, t frame.Type, timeout time.Duration) (frame.Frame, error) {
	q, ok := m.queues[t]
	if !ok {
		return frame.Frame{}, fmt.Errorf("%w: %s", ErrTypeNotAccepted, t)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	// Queued frames win over a concurrent close.
	select {
	case f := <-q:
		return f, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-q:
		return f, nil
	case <-timer.C:
		return frame.Frame{}, fmt.Errorf("%w: type %s after %s", ErrTimeout, t, timeout)
	case <-ctx.Done():
		return frame.Frame{}, ctx.Err()
	case <-m.done:
		return frame.Frame{}, ErrClosed
	}
}

func (m *Mailbox) Drain(t frame.Type) int {
	q, ok := m.queues[t]
	if !ok {
		return 0
	}
	n := 0
	for {
		select {
		case <-q:
			n++
		default:
			return n
		}
	}
}

// Close wakes every waiter with ErrClosed. It is idempotent.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
}

// Dropped reports frames evicted because their queue was full.
func (m *Mailbox) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

