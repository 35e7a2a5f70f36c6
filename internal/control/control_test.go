package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/liveguide/internal/session"
	"github.com/MrWong99/liveguide/pkg/audio/device/virtual"
	"github.com/MrWong99/liveguide/pkg/provider/live/mock"
)

type fixture struct {
	srv      *httptest.Server
	ctrl     *session.Controller
	backend  *virtual.Backend
	provider *mock.Provider
}

func newFixture(t *testing.T, mutate func(*fixture)) *fixture {
	t.Helper()
	f := &fixture{backend: &virtual.Backend{}, provider: &mock.Provider{AutoOpen: true}}
	if mutate != nil {
		mutate(f)
	}
	ctrl, err := session.New(session.Config{Backend: f.backend, Provider: f.provider})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	f.ctrl = ctrl
	mux := http.NewServeMux()
	New(ctrl, nil).Register(mux)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		f.srv.Close()
		_ = ctrl.Stop()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string) (int, response) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, body
}

func TestStatus_Idle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	code, body := f.do(t, "GET", "/session")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Session.State != session.Idle || body.Error != "" {
		t.Errorf("body = %+v", body)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	code, body := f.do(t, "POST", "/session/start")
	if code != http.StatusAccepted {
		t.Fatalf("start status = %d, body %+v", code, body)
	}
	if body.Session.SessionID == "" {
		t.Error("start response has no session id")
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.ctrl.State() != session.Live {
		if time.Now().After(deadline) {
			t.Fatal("session never went live")
		}
		time.Sleep(5 * time.Millisecond)
	}
	_, body = f.do(t, "GET", "/session")
	if body.Session.State != session.Live || body.Session.OpenHandles != 2 {
		t.Errorf("live snapshot = %+v", body.Session)
	}

	code, body = f.do(t, "POST", "/session/start")
	if code != http.StatusConflict || body.Error == "" {
		t.Errorf("second start: %d %+v, want 409 with error", code, body)
	}

	code, body = f.do(t, "POST", "/session/stop")
	if code != http.StatusOK || body.Session.State != session.Idle {
		t.Errorf("stop: %d %+v", code, body)
	}
	if n := f.backend.OpenHandles(); n != 0 {
		t.Errorf("%d device handles left open", n)
	}

	code, _ = f.do(t, "POST", "/session/stop")
	if code != http.StatusOK {
		t.Errorf("repeated stop status = %d", code)
	}
}

func TestStart_DeviceDenied(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(f *fixture) { f.backend.DenyInput = true })

	code, body := f.do(t, "POST", "/session/start")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if body.Session.State != session.Idle || body.Session.Message != session.MessageDeviceUnavailable {
		t.Errorf("session = %+v", body.Session)
	}
}

func TestStart_ChannelFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(f *fixture) { f.provider.ConnectErr = http.ErrServerClosed })

	code, body := f.do(t, "POST", "/session/start")
	if code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", code)
	}
	if body.Session.Message != session.MessageChannelFailed {
		t.Errorf("message = %q", body.Session.Message)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	resp, err := http.Get(f.srv.URL + "/session/start")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /session/start = %d, want 405", resp.StatusCode)
	}
}
