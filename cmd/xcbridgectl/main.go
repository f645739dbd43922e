package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/xcbridge/internal/config"
	"github.com/danmuck/xcbridge/internal/observability"
	"github.com/danmuck/xcbridge/internal/transport"
)

var (
	version = "dev"
	commit  = ""
)

func main() {
	logger := observability.InitLogger("xcbridgectl")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{version: buildVersion(), logger: logger}
	a.opener = func(cfg config.Config) transport.Opener {
		serial := cfg.Serial()
		serial.Logger = &a.logger
		return transport.SerialOpener(serial)
	}
	err := newRootCmd(a).ExecuteContext(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("command failed")
	}
	a.close()
	if err != nil {
		stop()
		os.Exit(1)
	}
}

func buildVersion() string {
	if commit != "" {
		return version + " (" + commit + ")"
	}
	return version
}
