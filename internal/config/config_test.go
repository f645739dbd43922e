package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/xcbridge/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xcbridge.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadOverlaysDefinedKeys(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
device = "/dev/ttyUSB3"
timeout = "750ms"
cors_origins = [" http://a ", ""]
auth_secret = "k"
log_file = " /var/log/xcbridge.log "
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := DefaultConfig()
	if cfg.Device != "/dev/ttyUSB3" {
		t.Fatalf("unexpected device: %q", cfg.Device)
	}
	if cfg.Timeout != 750*time.Millisecond {
		t.Fatalf("unexpected timeout: %v", cfg.Timeout)
	}
	if cfg.StopTimeout != def.StopTimeout || cfg.BaudRate != def.BaudRate || cfg.ListenAddr != def.ListenAddr {
		t.Fatalf("undefined keys should keep defaults: %+v", cfg)
	}
	if len(cfg.CorsOrigins) != 1 || cfg.CorsOrigins[0] != "http://a" {
		t.Fatalf("unexpected origins: %+v", cfg.CorsOrigins)
	}
	if cfg.AuthSecret != "k" || cfg.LogFile != "/var/log/xcbridge.log" {
		t.Fatalf("unexpected auth/log settings: %q %q", cfg.AuthSecret, cfg.LogFile)
	}
	if cfg.Bridge().Timeout != cfg.Timeout || cfg.Serial().BaudRate != cfg.BaudRate {
		t.Fatalf("derived configs disagree: %+v %+v", cfg.Bridge(), cfg.Serial())
	}
}

func TestLoadTemplate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "xcbridge.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	def := DefaultConfig()
	if cfg.Device != def.Device || cfg.Timeout != def.Timeout || cfg.QueueDepth != def.QueueDepth {
		t.Fatalf("template drifted from defaults: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		body string
	}{
		{name: "zero timeout", body: `timeout = "0s"`},
		{name: "empty device", body: `device = "  "`},
		{name: "queue depth", body: `queue_depth = 0`},
		{name: "unknown key", body: `baud = 9600`},
	}
	for _, tc := range cases {
		_, err := Load(writeConfig(t, tc.body))
		if !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", tc.name, err)
		}
	}
	if _, err := Load(writeConfig(t, `timeout = "soon"`)); err == nil {
		t.Fatalf("expected duration parse error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}
