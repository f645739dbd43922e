package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/xcbridge/internal/observability"
	"github.com/danmuck/xcbridge/internal/protocol/command"
	"github.com/danmuck/xcbridge/internal/protocol/frame"
	"github.com/danmuck/xcbridge/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State int32

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Info is a point-in-time view of a session.
type Info struct {
	ID           string    `json:"id"`
	Device       string    `json:"device,omitempty"`
	State        string    `json:"state"`
	OpenedAt     time.Time `json:"opened_at,omitzero"`
	Calls        uint64    `json:"calls"`
	Failures     uint64    `json:"failures"`
	Timeouts     uint64    `json:"timeouts"`
	StaleDropped uint64    `json:"stale_dropped"`
	LinkLost     bool      `json:"link_lost"`
}

type Option func(*Session)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.log = logger
	}
}

func WithRegistry(r *command.Registry) Option {
	return func(s *Session) {
		if r != nil {
			s.registry = r
		}
	}
}

// Session is one exclusive connection to a device.
type Session struct {
	id       string
	opener   transport.Opener
	registry *command.Registry
	cfg      Config
	log      zerolog.Logger

	// callMu serializes calls; at most one request is outstanding.
	callMu sync.Mutex

	mu       sync.Mutex
	state    State
	device   string
	tr       transport.FrameTransport
	openedAt time.Time
	lost     bool
	// gen advances on every Open and Close; an Open commits only if it is
	// still the latest transition.
	gen   uint64
	stats Info
}

func NewSession(opener transport.Opener, cfg Config, opts ...Option) *Session {
	s := &Session{
		id:       uuid.NewString(),
		opener:   opener,
		registry: command.DefaultRegistry(),
		cfg:      cfg.WithDefaults(),
		log:      log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("session", s.id).Logger()
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Registry() *command.Registry {
	return s.registry
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := s.stats
	info.ID = s.id
	info.Device = s.device
	info.State = s.state.String()
	info.OpenedAt = s.openedAt
	info.LinkLost = s.lost
	return info
}

// Open acquires path and starts its receiver. It fails fast when the device
// is held elsewhere.
func (s *Session) Open(path string) error {
	s.mu.Lock()
	if s.state != StateClosed {
		device := s.device
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyOpen, device)
	}
	s.state = StateOpening
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	tr, err := s.opener.Open(path)
	if err != nil {
		s.abortOpen(gen)
		s.log.Warn().Str("device", path).Err(err).Msg("open failed")
		return err
	}
	if err := tr.Start(); err != nil {
		_ = tr.Close()
		s.abortOpen(gen)
		return fmt.Errorf("bridge: start receiver: %w", err)
	}

	s.mu.Lock()
	if s.gen != gen || s.state != StateOpening {
		s.mu.Unlock()
		_ = tr.Stop(s.cfg.StopTimeout)
		_ = tr.Close()
		s.log.Warn().Str("device", path).Msg("session closed while opening")
		return fmt.Errorf("%w: closed while opening %s", ErrNotConnected, path)
	}
	s.tr = tr
	s.device = path
	s.openedAt = time.Now()
	s.lost = false
	s.state = StateOpen
	s.mu.Unlock()
	s.log.Info().Str("device", path).Dur("timeout", s.cfg.Timeout).Msg("session open")
	return nil
}

// Close waits for an in-flight call, stops the receiver and releases the
// device. Closing a closed session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateClosing {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosing
	s.gen++
	s.mu.Unlock()

	s.callMu.Lock()
	defer s.callMu.Unlock()

	s.mu.Lock()
	tr, device := s.tr, s.device
	s.mu.Unlock()

	var errs []error
	if tr != nil {
		if err := tr.Stop(s.cfg.StopTimeout); err != nil {
			if errors.Is(err, transport.ErrStopTimeout) {
				s.log.Warn().Str("device", device).Dur("stop_timeout", s.cfg.StopTimeout).Msg("receiver still running at close")
			}
			errs = append(errs, err)
		}
		if err := tr.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	s.tr = nil
	s.device = ""
	s.openedAt = time.Time{}
	s.lost = false
	s.state = StateClosed
	s.mu.Unlock()
	s.log.Info().Str("device", device).Msg("session closed")
	return errors.Join(errs...)
}

// Call sends req and returns the device response. A nonzero status is
// returned as *CommandFailedError alongside the raw response.
func (s *Session) Call(ctx context.Context, req command.Request) (command.Response, error) {
	s.callMu.Lock()
	defer s.callMu.Unlock()
	return s.call(ctx, req)
}

func (s *Session) call(ctx context.Context, req command.Request) (command.Response, error) {
	start := time.Now()
	name := s.registry.Name(req.CommandID)
	resp, err := s.exchange(ctx, req)
	if err == nil && !resp.OK() {
		err = &CommandFailedError{
			CommandID: req.CommandID,
			Name:      name,
			Status:    resp.Status,
			Message:   s.resolveLastError(ctx),
		}
	}
	s.record(name, err, time.Since(start))
	return resp, err
}

// exchange performs one request/response round trip without interpreting
// the status byte.
func (s *Session) exchange(ctx context.Context, req command.Request) (command.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	d, err := s.registry.Lookup(req.CommandID)
	if err != nil {
		return command.Response{}, err
	}
	tr, err := s.transport()
	if err != nil {
		return command.Response{}, err
	}

	if n := tr.Drain(frame.TypeCommand); n > 0 {
		s.log.Warn().Int("frames", n).Str("command", d.Name).Msg("dropped stale responses before send")
		observability.RecordFramesDropped(observability.DropStale, n)
		s.mu.Lock()
		s.stats.StaleDropped += uint64(n)
		s.mu.Unlock()
	}

	payload, err := command.EncodeRequest(req)
	if err != nil {
		return command.Response{}, err
	}
	s.log.Debug().Str("command", d.Name).Stringer("id", req.CommandID).Int("params", len(req.Params)).Msg("send request")
	if err := tr.Send(frame.TypeCommand, payload); err != nil {
		s.checkLost(err)
		return command.Response{}, fmt.Errorf("bridge: send %s: %w", d.Name, err)
	}
	if d.NoResponse {
		return command.Response{CommandID: req.CommandID}, nil
	}

	f, err := tr.Wait(ctx, frame.TypeCommand, s.cfg.Timeout)
	if err != nil {
		if errors.Is(err, transport.ErrTimeout) {
			s.log.Error().Str("command", d.Name).Dur("timeout", s.cfg.Timeout).Msg("read timeout")
			return command.Response{}, fmt.Errorf("bridge: %s: %w", d.Name, err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return command.Response{}, fmt.Errorf("%w: %s: %w", ErrTimeout, d.Name, err)
		}
		s.checkLost(err)
		return command.Response{}, fmt.Errorf("bridge: wait %s: %w", d.Name, err)
	}

	resp, err := s.registry.DecodeResponse(f.Payload)
	if err != nil {
		return command.Response{}, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	if resp.CommandID != req.CommandID {
		return command.Response{}, fmt.Errorf("%w: response for %s while awaiting %s",
			ErrProtocolViolation, s.registry.Name(resp.CommandID), d.Name)
	}
	s.log.Debug().Str("command", d.Name).Uint8("status", resp.Status).Int("result", len(resp.Result)).Msg("received response")
	return resp, nil
}

func (s *Session) transport() (transport.FrameTransport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen || s.tr == nil {
		return nil, fmt.Errorf("%w (state %s)", ErrNotConnected, s.state)
	}
	return s.tr, nil
}

// Lost reports whether the open transport has shut down underneath the
// session. The session stays Open until closed.
func (s *Session) Lost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}

func (s *Session) checkLost(err error) {
	if !errors.Is(err, transport.ErrClosed) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lost {
		s.lost = true
		s.log.Error().Str("device", s.device).Err(err).Msg("link lost")
	}
}

// abortOpen returns a failed Open to Closed unless a later transition has
// taken over the session.
func (s *Session) abortOpen(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen && s.state == StateOpening {
		s.state = StateClosed
	}
}

func (s *Session) record(name string, err error, elapsed time.Duration) {
	outcome := Outcome(err)
	observability.RecordCommandCall(name, outcome, elapsed)

	s.mu.Lock()
	s.stats.Calls++
	switch outcome {
	case observability.OutcomeOK:
	case observability.OutcomeTimeout:
		s.stats.Timeouts++
		s.stats.Failures++
	default:
		s.stats.Failures++
	}
	s.mu.Unlock()

	if err != nil && !errors.Is(err, ErrNotConnected) {
		s.log.Warn().Str("command", name).Str("outcome", outcome).Err(err).Msg("command call failed")
	}
}
