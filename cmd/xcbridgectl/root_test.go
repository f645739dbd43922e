package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/xcbridge/internal/bridge"
	"github.com/danmuck/xcbridge/internal/config"
	"github.com/danmuck/xcbridge/internal/protocol/command"
	"github.com/danmuck/xcbridge/internal/server"
	"github.com/danmuck/xcbridge/internal/testutil/simdevice"
	"github.com/danmuck/xcbridge/internal/testutil/testlog"
	"github.com/danmuck/xcbridge/internal/transport"
	"github.com/rs/zerolog/log"
)

func testApp(bus *simdevice.Bus) *app {
	return &app{
		version: "test",
		opener:  func(config.Config) transport.Opener { return bus },
		logger:  log.Logger,
	}
}

func run(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(a)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTextCommandsAgainstSimulatedDevice(t *testing.T) {
	testlog.Start(t)
	bus := simdevice.NewBus()
	dev := simdevice.New()
	dev.LastError = "none"
	bus.Attach("/dev/ttyXC1", dev)

	cases := map[string]string{
		"app-version": "2.1.0\n",
		"app-name":    "xc120\n",
		"last-error":  "none\n",
	}
	for cmd, want := range cases {
		out, err := run(t, testApp(bus), cmd, "--device", "/dev/ttyXC1", "--timeout", "100ms")
		if err != nil {
			t.Fatalf("%s: %v", cmd, err)
		}
		if out != want {
			t.Fatalf("%s: expected %q, got %q", cmd, want, out)
		}
		if bus.Held("/dev/ttyXC1") {
			t.Fatalf("%s: device left held", cmd)
		}
	}
}

func TestCommandFailureSurfacesDeviceText(t *testing.T) {
	testlog.Start(t)
	bus := simdevice.NewBus()
	dev := simdevice.New()
	dev.Script(command.GetAppVersion, simdevice.Reply{Status: 2})
	dev.LastError = "flash busy"
	bus.Attach("/dev/ttyXC1", dev)

	_, err := run(t, testApp(bus), "app-version", "--device", "/dev/ttyXC1", "--timeout", "100ms")
	var failed *bridge.CommandFailedError
	if !errors.As(err, &failed) || failed.Message != "flash busy" {
		t.Fatalf("expected CommandFailedError with device text, got %v", err)
	}
}

func TestRebootUpdate(t *testing.T) {
	testlog.Start(t)
	bus := simdevice.NewBus()
	dev := simdevice.New()
	bus.Attach("/dev/ttyXC1", dev)

	out, err := run(t, testApp(bus), "reboot-update", "--device", "/dev/ttyXC1")
	if err != nil {
		t.Fatalf("reboot-update: %v", err)
	}
	if !dev.Rebooted() || !strings.Contains(out, "requested") {
		t.Fatalf("reboot not sent: out=%q", out)
	}
}

func TestMissingDevice(t *testing.T) {
	testlog.Start(t)
	_, err := run(t, testApp(simdevice.NewBus()), "app-name", "--device", "/dev/nothing")
	if !errors.Is(err, bridge.ErrTransportUnavailable) {
		t.Fatalf("expected ErrTransportUnavailable, got %v", err)
	}
}

func TestCommandsAndVersion(t *testing.T) {
	testlog.Start(t)
	out, err := run(t, testApp(simdevice.NewBus()), "commands")
	if err != nil {
		t.Fatalf("commands: %v", err)
	}
	for _, want := range []string{"0x0002  get_last_error", "0x010a  get_app_version", "0xffff  reboot_into_update_mode  (no response)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	out, err = run(t, testApp(simdevice.NewBus()), "version")
	if err != nil || out != "test\n" {
		t.Fatalf("version: out=%q err=%v", out, err)
	}
}

func TestConfigFileAndInit(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "xcbridge.toml")
	if _, err := run(t, testApp(simdevice.NewBus()), "init-config", path); err != nil {
		t.Fatalf("init-config: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("template not written: %v", err)
	}
	if _, err := run(t, testApp(simdevice.NewBus()), "init-config", path); err == nil {
		t.Fatalf("expected init-config to refuse overwrite")
	}

	body := "device = \"/dev/ttyXC2\"\ntimeout = \"100ms\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	bus := simdevice.NewBus()
	bus.Attach("/dev/ttyXC2", simdevice.New())
	out, err := run(t, testApp(bus), "app-name", "--config", path)
	if err != nil || out != "xc120\n" {
		t.Fatalf("app-name via config: out=%q err=%v", out, err)
	}
}

func TestTokenRequiresSecret(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "xcbridge.toml")
	if err := os.WriteFile(path, []byte("auth_secret = \"k\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	out, err := run(t, testApp(simdevice.NewBus()), "token", "--config", path, "--subject", "ops")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if strings.Count(strings.TrimSpace(out), ".") != 2 {
		t.Fatalf("expected a compact JWT, got %q", out)
	}
	if _, err := run(t, testApp(simdevice.NewBus()), "token"); !errors.Is(err, server.ErrEmptySecret) {
		t.Fatalf("expected ErrEmptySecret without a secret, got %v", err)
	}
}
