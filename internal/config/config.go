package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/xcbridge/internal/bridge"
	"github.com/danmuck/xcbridge/internal/transport"
)

var ErrInvalid = errors.New("config: invalid")

// Config is the on-disk configuration for xcbridgectl.
type Config struct {
	Device      string
	Timeout     time.Duration
	StopTimeout time.Duration
	BaudRate    int
	QueueDepth  int
	ListenAddr  string
	CorsOrigins []string
	AuthSecret  string
	LogFile     string
}

type fileConfig struct {
	Device      string   `toml:"device"`
	Timeout     string   `toml:"timeout"`
	StopTimeout string   `toml:"stop_timeout"`
	BaudRate    int      `toml:"baud_rate"`
	QueueDepth  int      `toml:"queue_depth"`
	ListenAddr  string   `toml:"listen_addr"`
	CorsOrigins []string `toml:"cors_origins"`
	AuthSecret  string   `toml:"auth_secret"`
	LogFile     string   `toml:"log_file"`
}

func DefaultConfig() Config {
	b := bridge.DefaultConfig()
	s := transport.DefaultSerialConfig()
	return Config{
		Device:      "/dev/ttyACM0",
		Timeout:     b.Timeout,
		StopTimeout: b.StopTimeout,
		BaudRate:    s.BaudRate,
		QueueDepth:  s.QueueDepth,
		ListenAddr:  "127.0.0.1:9300",
	}
}

// Load overlays the keys present in path onto DefaultConfig and validates
// the result.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q", ErrInvalid, undecoded[0].String())
	}

	if meta.IsDefined("device") {
		cfg.Device = strings.TrimSpace(raw.Device)
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if meta.IsDefined("stop_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.StopTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse stop_timeout: %w", err)
		}
		cfg.StopTimeout = d
	}
	if meta.IsDefined("baud_rate") {
		cfg.BaudRate = raw.BaudRate
	}
	if meta.IsDefined("queue_depth") {
		cfg.QueueDepth = raw.QueueDepth
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}
	if meta.IsDefined("auth_secret") {
		cfg.AuthSecret = raw.AuthSecret
	}
	if meta.IsDefined("log_file") {
		cfg.LogFile = strings.TrimSpace(raw.LogFile)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Device) == "" {
		return fmt.Errorf("%w: device is required", ErrInvalid)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalid)
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("%w: stop_timeout must be positive", ErrInvalid)
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("%w: baud_rate must be positive", ErrInvalid)
	}
	if c.QueueDepth <= 0 {
		return fmt.Errorf("%w: queue_depth must be positive", ErrInvalid)
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("%w: listen_addr is required", ErrInvalid)
	}
	return nil
}

func (c Config) Bridge() bridge.Config {
	return bridge.Config{Timeout: c.Timeout, StopTimeout: c.StopTimeout}
}

func (c Config) Serial() transport.SerialConfig {
	s := transport.DefaultSerialConfig()
	s.BaudRate = c.BaudRate
	s.QueueDepth = c.QueueDepth
	s.StopTimeout = c.StopTimeout
	return s
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
