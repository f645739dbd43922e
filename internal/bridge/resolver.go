package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/xcbridge/internal/protocol/command"
)

// LastError asks the device to describe its most recent failure.
//
// When get-last-error itself reports a nonzero status there is nothing left
// to ask, so a fallback message carrying that status is returned instead of
// escalating again.
func (s *Session) LastError(ctx context.Context) (string, error) {
	s.callMu.Lock()
	defer s.callMu.Unlock()

	start := time.Now()
	name := s.registry.Name(command.GetLastError)
	resp, err := s.exchange(ctx, command.NewRequest(command.GetLastError, nil))
	if err != nil {
		s.record(name, err, time.Since(start))
		return "", err
	}
	if !resp.OK() {
		s.record(name, &CommandFailedError{CommandID: resp.CommandID, Name: name, Status: resp.Status}, time.Since(start))
		return lastErrorFallback(resp.Status), nil
	}
	text, err := command.Text(s.registry, resp)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	s.record(name, err, time.Since(start))
	return text, err
}

// resolveLastError is the escalation path for a failed command. It runs
// under the caller's call lock and never fails: problems fetching the text
// are folded into the returned message.
func (s *Session) resolveLastError(ctx context.Context) string {
	resp, err := s.exchange(ctx, command.NewRequest(command.GetLastError, nil))
	if err != nil {
		return fmt.Sprintf("last error unavailable: %v", err)
	}
	if !resp.OK() {
		return lastErrorFallback(resp.Status)
	}
	text, err := command.Text(s.registry, resp)
	if err != nil {
		return fmt.Sprintf("last error unavailable: %v", err)
	}
	return text
}

func lastErrorFallback(status uint8) string {
	return fmt.Sprintf("last error unavailable (get_last_error status %d)", status)
}
