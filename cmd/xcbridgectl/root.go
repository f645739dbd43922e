package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/xcbridge/internal/bridge"
	"github.com/danmuck/xcbridge/internal/config"
	"github.com/danmuck/xcbridge/internal/logging"
	"github.com/danmuck/xcbridge/internal/protocol/command"
	"github.com/danmuck/xcbridge/internal/server"
	"github.com/danmuck/xcbridge/internal/transport"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type app struct {
	version string
	opener  func(config.Config) transport.Opener
	logger  zerolog.Logger

	configPath string
	device     string
	timeout    time.Duration
	logFile    io.Closer
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "xcbridgectl",
		Short:         "Talk to an XC bridge over its serial command channel",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a TOML config file")
	flags.StringVar(&a.device, "device", "", "serial device path (overrides config)")
	flags.DurationVar(&a.timeout, "timeout", 0, "per-call response timeout (overrides config)")

	root.AddCommand(
		newVersionCmd(a),
		newTextCmd(a, "app-version", "Print the device application version", (*bridge.Session).AppVersion),
		newTextCmd(a, "app-name", "Print the device application name", (*bridge.Session).AppName),
		newTextCmd(a, "last-error", "Print the device's last error text", (*bridge.Session).LastError),
		newRebootCmd(a),
		newCommandsCmd(),
		newServeCmd(a),
		newTokenCmd(a),
		newInitConfigCmd(),
	)
	return root
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the xcbridgectl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", a.version)
		},
	}
}

func newTextCmd(a *app, use, short string, call func(*bridge.Session, context.Context) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *bridge.Session) error {
				out, err := call(s, ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
}

func newRebootCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reboot-update",
		Short: "Reboot the device into firmware update mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *bridge.Session) error {
				if err := s.RebootIntoUpdateMode(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "reboot into update mode requested")
				return nil
			})
		},
	}
}

func newCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List the commands this build knows",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, d := range command.DefaultRegistry().List() {
				note := ""
				if d.NoResponse {
					note = "  (no response)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s%s\n", d.ID, d.Name, note)
			}
		},
	}
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep the device open and expose it over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.ListenAddr = addr
			}
			s := bridge.NewSession(a.opener(cfg), cfg.Bridge(), bridge.WithLogger(a.logger))
			keeper := bridge.NewKeeper(s, cfg.Device, bridge.DefaultKeeperConfig())
			srv := server.New(s, server.Options{
				Addr:        cfg.ListenAddr,
				CorsOrigins: cfg.CorsOrigins,
				AuthSecret:  cfg.AuthSecret,
				Logger:      &a.logger,
			})

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			kept := make(chan error, 1)
			go func() { kept <- keeper.Run(ctx) }()

			err = srv.Serve(ctx)
			cancel()
			if kerr := <-kept; err == nil {
				err = kerr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "listen", "", "listen address (overrides config)")
	return cmd
}

func newTokenCmd(a *app) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the serve control routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			token, err := server.IssueToken(cfg.AuthSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "xcbridgectl", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func newInitConfigCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init-config <path>",
		Short: "Write a starter TOML config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func (a *app) loadConfig() (config.Config, error) {
	cfg := config.DefaultConfig()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if a.device != "" {
		cfg.Device = a.device
	}
	if a.timeout > 0 {
		cfg.Timeout = a.timeout
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	if cfg.LogFile != "" && a.logFile == nil {
		a.logger, a.logFile = logging.AttachFile(logging.DefaultFileConfig(cfg.LogFile))
		a.logger.Info().Str("path", cfg.LogFile).Msg("logging to file")
	}
	return cfg, nil
}

func (a *app) close() {
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

// withSession opens the configured device for the duration of fn.
func (a *app) withSession(ctx context.Context, fn func(context.Context, *bridge.Session) error) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	s := bridge.NewSession(a.opener(cfg), cfg.Bridge(), bridge.WithLogger(a.logger))
	if err := s.Open(cfg.Device); err != nil {
		return fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close session")
		}
	}()
	return fn(ctx, s)
}
