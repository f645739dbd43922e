// Package simdevice is an in-memory device speaking the command channel.
// It implements transport.FrameTransport so bridge sessions can run without
// hardware.
package simdevice

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/xcbridge/internal/protocol/command"
	"github.com/danmuck/xcbridge/internal/protocol/frame"
	"github.com/danmuck/xcbridge/internal/transport"
)

// Reply scripts one response to a request.
type Reply struct {
	Status uint8
	Result []byte
	Delay  time.Duration
	// Drop suppresses the response entirely.
	Drop bool
	// CommandID overrides the echoed id when non-zero.
	CommandID command.ID
	// Raw replaces the whole encoded payload when non-nil.
	Raw []byte
}

// Sent records one request as observed by the device.
type Sent struct {
	Request command.Request
	At      time.Time
}

// Device answers built-in commands from its fields unless a reply is scripted.
type Device struct {
	Version   string
	Name      string
	LastError string

	mu        sync.Mutex
	script    map[command.ID][]Reply
	sent      []Sent
	rebooted  bool
	sendDelay time.Duration
}

func New() *Device {
	return &Device{
		Version:   "2.1.0",
		Name:      "xc120",
		LastError: "no error",
		script:    make(map[command.ID][]Reply),
	}
}

// Script queues replies for id, consumed one per request.
func (d *Device) Script(id command.ID, replies ...Reply) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script[id] = append(d.script[id], replies...)
}

// SetSendDelay makes every Send block for delay before it is recorded.
func (d *Device) SetSendDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sendDelay = delay
}

func (d *Device) Sent() []Sent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Sent, len(d.sent))
	copy(out, d.sent)
	return out
}

func (d *Device) Rebooted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rebooted
}

func (d *Device) handle(req command.Request) (Reply, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, Sent{Request: req, At: time.Now()})
	if q := d.script[req.CommandID]; len(q) > 0 {
		d.script[req.CommandID] = q[1:]
		return q[0], true
	}
	switch req.CommandID {
	case command.GetAppVersion:
		return Reply{Result: []byte(d.Version)}, true
	case command.GetAppName:
		return Reply{Result: []byte(d.Name)}, true
	case command.GetLastError:
		return Reply{Result: []byte(d.LastError)}, true
	case command.RebootIntoUpdateMode:
		d.rebooted = true
		return Reply{}, false
	default:
		return Reply{Status: 0xFE}, true
	}
}

// Bus maps device paths to simulated devices and enforces exclusive opens.
type Bus struct {
	mu      sync.Mutex
	devices map[string]*Device
	held    map[string]bool
	links   map[string]*Link
}

func NewBus() *Bus {
	return &Bus{
		devices: make(map[string]*Device),
		held:    make(map[string]bool),
		links:   make(map[string]*Link),
	}
}

// Link returns the most recent handle opened on path.
func (b *Bus) Link(path string) *Link {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.links[path]
}

func (b *Bus) Attach(path string, d *Device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices[path] = d
}

func (b *Bus) Held(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.held[path]
}

func (b *Bus) Open(path string) (transport.FrameTransport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.devices[path]
	if !ok {
		return nil, transport.ErrDeviceNotFound
	}
	if b.held[path] {
		return nil, transport.ErrResourceBusy
	}
	b.held[path] = true
	l := NewLink(d)
	l.release = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.held, path)
	}
	b.links[path] = l
	return l, nil
}

// Link is one open handle to a Device.
type Link struct {
	dev     *Device
	mailbox *transport.Mailbox
	release func()

	mu      sync.Mutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

var _ transport.FrameTransport = (*Link)(nil)

// NewLink returns an unowned link to d, for tests that skip the Bus.
func NewLink(d *Device) *Link {
	return &Link{
		dev:     d,
		mailbox: transport.NewMailbox(transport.DefaultQueueDepth, frame.TypeCommand),
		release: func() {},
	}
}

func (l *Link) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return transport.ErrClosed
	}
	if l.started {
		return transport.ErrAlreadyStarted
	}
	l.started = true
	return nil
}

func (l *Link) Send(t frame.Type, payload []byte) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	l.dev.mu.Lock()
	delay := l.dev.sendDelay
	l.dev.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if t != frame.TypeCommand {
		return nil
	}
	req, err := command.DecodeRequest(payload)
	if err != nil {
		return err
	}
	reply, ok := l.dev.handle(req)
	if !ok || reply.Drop {
		return nil
	}
	raw := reply.Raw
	if raw == nil {
		id := req.CommandID
		if reply.CommandID != 0 {
			id = reply.CommandID
		}
		raw, err = command.EncodeResponse(command.Response{CommandID: id, Status: reply.Status, Result: reply.Result})
		if err != nil {
			return err
		}
	}
	l.deliverAfter(raw, reply.Delay)
	return nil
}

// Inject delivers an unsolicited command-channel payload.
func (l *Link) Inject(payload []byte) {
	l.mailbox.Deliver(frame.Frame{Type: frame.TypeCommand, Payload: payload})
}

func (l *Link) deliverAfter(raw []byte, delay time.Duration) {
	f := frame.Frame{Type: frame.TypeCommand, Payload: raw}
	if delay <= 0 {
		l.mailbox.Deliver(f)
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		time.Sleep(delay)
		l.mailbox.Deliver(f)
	}()
}

func (l *Link) Wait(ctx context.Context, t frame.Type, timeout time.Duration) (frame.Frame, error) {
	l.mu.Lock()
	started := l.started
	l.mu.Unlock()
	if !started {
		return frame.Frame{}, transport.ErrNotStarted
	}
	return l.mailbox.Wait(ctx, t, timeout)
}

func (l *Link) Drain(t frame.Type) int {
	return l.mailbox.Drain(t)
}

func (l *Link) Stop(timeout time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = false
	return nil
}

func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.started = false
	l.mu.Unlock()
	l.mailbox.Close()
	l.release()
	return nil
}

// Settle waits for delayed replies to be delivered.
func (l *Link) Settle() {
	l.wg.Wait()
}
