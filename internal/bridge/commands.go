package bridge

import (
	"context"
	"fmt"

	"github.com/danmuck/xcbridge/internal/protocol/command"
)

func (s *Session) AppVersion(ctx context.Context) (string, error) {
	return s.text(ctx, command.GetAppVersion)
}

func (s *Session) AppName(ctx context.Context) (string, error) {
	return s.text(ctx, command.GetAppName)
}

// RebootIntoUpdateMode restarts the device into its firmware update loader.
// The device does not answer, so success only means the request was written.
func (s *Session) RebootIntoUpdateMode(ctx context.Context) error {
	_, err := s.Call(ctx, command.NewRequest(command.RebootIntoUpdateMode, nil))
	return err
}

func (s *Session) text(ctx context.Context, id command.ID) (string, error) {
	resp, err := s.Call(ctx, command.NewRequest(id, nil))
	if err != nil {
		return "", err
	}
	text, err := command.Text(s.registry, resp)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	return text, nil
}
