package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/xcbridge/internal/bridge"
	"github.com/danmuck/xcbridge/internal/observability"
	"github.com/danmuck/xcbridge/internal/protocol/command"
	"github.com/danmuck/xcbridge/internal/testutil/simdevice"
	"github.com/danmuck/xcbridge/internal/testutil/testlog"
)

const testDevice = "/dev/ttyXC0"

func newTestServer(t *testing.T, open bool) (*Server, *simdevice.Device) {
	t.Helper()
	return newTestServerWith(t, open, Options{Addr: "127.0.0.1:0"})
}

func newTestServerWith(t *testing.T, open bool, opts Options) (*Server, *simdevice.Device) {
	t.Helper()
	testlog.Start(t)
	bus := simdevice.NewBus()
	dev := simdevice.New()
	bus.Attach(testDevice, dev)
	session := bridge.NewSession(bus, bridge.Config{Timeout: 40 * time.Millisecond})
	if open {
		if err := session.Open(testDevice); err != nil {
			t.Fatalf("open session: %v", err)
		}
		t.Cleanup(func() { _ = session.Close() })
	}
	return New(session, opts), dev
}

func do(t *testing.T, s *Server, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	return doAuth(t, s, method, path, "")
}

func doAuth(t *testing.T, s *Server, method, path, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)
	var body map[string]any
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return rr, body
}

func TestHealthAndRequestID(t *testing.T) {
	s, _ := newTestServer(t, true)
	rr, body := do(t, s, http.MethodGet, "/health")
	if rr.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected health: %d %#v", rr.Code, body)
	}
	if rr.Header().Get(observability.RequestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestDeviceTextRoutes(t *testing.T) {
	s, dev := newTestServer(t, true)
	dev.LastError = "ok so far"
	cases := []struct {
		path string
		key  string
		want string
	}{
		{path: "/device/version", key: "version", want: "2.1.0"},
		{path: "/device/name", key: "name", want: "xc120"},
		{path: "/device/last-error", key: "last_error", want: "ok so far"},
	}
	for _, tc := range cases {
		rr, body := do(t, s, http.MethodGet, tc.path)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status %d body=%s", tc.path, rr.Code, rr.Body.String())
		}
		if body[tc.key] != tc.want {
			t.Fatalf("%s: expected %q, got %#v", tc.path, tc.want, body[tc.key])
		}
	}
}

func TestCommandFailureMapsToBadGateway(t *testing.T) {
	s, dev := newTestServer(t, true)
	dev.Script(command.GetAppName, simdevice.Reply{Status: 3})
	dev.LastError = "busy"

	rr, body := do(t, s, http.MethodGet, "/device/name")
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d body=%s", rr.Code, rr.Body.String())
	}
	if body["code"] != float64(3) || body["message"] != "busy" || body["outcome"] != observability.OutcomeFailed {
		t.Fatalf("unexpected failure body: %#v", body)
	}
}

func TestTimeoutMapsToGatewayTimeout(t *testing.T) {
	s, dev := newTestServer(t, true)
	dev.Script(command.GetAppVersion, simdevice.Reply{Drop: true})

	rr, body := do(t, s, http.MethodGet, "/device/version")
	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d body=%s", rr.Code, rr.Body.String())
	}
	if body["outcome"] != observability.OutcomeTimeout {
		t.Fatalf("unexpected outcome: %#v", body["outcome"])
	}
}

func TestClosedSessionIsUnavailable(t *testing.T) {
	s, _ := newTestServer(t, false)
	if rr, _ := do(t, s, http.MethodGet, "/device/version"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from closed session, got %d", rr.Code)
	}
	rr, body := do(t, s, http.MethodGet, "/ready")
	if rr.Code != http.StatusServiceUnavailable || body["ready"] != false {
		t.Fatalf("unexpected ready: %d %#v", rr.Code, body)
	}
}

func TestDeviceInfoAndReboot(t *testing.T) {
	s, dev := newTestServer(t, true)
	rr, body := do(t, s, http.MethodGet, "/device")
	if rr.Code != http.StatusOK || body["state"] != "open" || body["device"] != testDevice {
		t.Fatalf("unexpected info: %d %#v", rr.Code, body)
	}

	rr, _ = do(t, s, http.MethodPost, "/device/reboot-update")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%s", rr.Code, rr.Body.String())
	}
	if !dev.Rebooted() {
		t.Fatalf("reboot request not sent")
	}
}

func TestMetricsExposeCommandCalls(t *testing.T) {
	s, _ := newTestServer(t, true)
	do(t, s, http.MethodGet, "/device/version")
	rr, _ := do(t, s, http.MethodGet, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "xcbridge_command_calls_total") {
		t.Fatalf("command metrics missing from exposition")
	}
}

func TestRebootRequiresBearerWhenSecretSet(t *testing.T) {
	const secret = "s3cret"
	s, dev := newTestServerWith(t, true, Options{Addr: "127.0.0.1:0", AuthSecret: secret})

	if rr, _ := do(t, s, http.MethodPost, "/device/reboot-update"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	expired, err := IssueToken(secret, "ops", -time.Minute)
	if err != nil {
		t.Fatalf("issue expired token: %v", err)
	}
	if rr, _ := doAuth(t, s, http.MethodPost, "/device/reboot-update", expired); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", rr.Code)
	}
	forged, _ := IssueToken("other", "ops", time.Minute)
	if rr, _ := doAuth(t, s, http.MethodPost, "/device/reboot-update", forged); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong secret, got %d", rr.Code)
	}
	if dev.Rebooted() {
		t.Fatalf("unauthorized request reached the device")
	}

	token, err := IssueToken(secret, "ops", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if rr, _ := doAuth(t, s, http.MethodPost, "/device/reboot-update", token); rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 with token, got %d body=%s", rr.Code, rr.Body.String())
	}
	if !dev.Rebooted() {
		t.Fatalf("reboot request not sent")
	}
	if rr, _ := do(t, s, http.MethodGet, "/device/version"); rr.Code != http.StatusOK {
		t.Fatalf("read routes should stay open, got %d", rr.Code)
	}
}

func TestIssueTokenRejectsEmptySecret(t *testing.T) {
	testlog.Start(t)
	if _, err := IssueToken("", "ops", time.Minute); !errors.Is(err, ErrEmptySecret) {
		t.Fatalf("expected ErrEmptySecret, got %v", err)
	}
}
