package server

import (
	"bytes"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/aurora-watch/aurora-agent/internal/config"
)

func TestRouterRoutesRequestWhenHostMatches(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://aurora.local/index.html", nil)
	req.Host = "aurora.local"

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 204 status, got %d (body=%s, host=%s)", resp.StatusCode, string(body), resp.Header.Get("X-Aurora-Host"))
	}

	if app.recorder.lastRoute == nil || app.recorder.lastRoute.Kind != OriginApp {
		t.Fatalf("expected app route, got %+v", app.recorder.lastRoute)
	}
	if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if app.recorder.requestID != resp.Header.Get("X-Request-ID") {
		t.Fatalf("handler should see the same request id")
	}
}

func TestRouterRoutesAPIHostWithPort(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://services.swpc.noaa.gov:5000/products/kp.json", nil)
	req.Host = "services.swpc.noaa.gov:5000"

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204 status, got %d", resp.StatusCode)
	}
	if app.recorder.lastRoute.Kind != OriginAPI || app.recorder.lastRoute.Host != "services.swpc.noaa.gov" {
		t.Fatalf("expected api route, got %+v", app.recorder.lastRoute)
	}
}

func TestRouterReturns404WhenHostUnknown(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://unknown.local/", nil)
	req.Host = "unknown.local"

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Aurora-Host") != "unknown.local" {
		t.Fatalf("expected X-Aurora-Host header, got %q", resp.Header.Get("X-Aurora-Host"))
	}

	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"host_unmapped"`)) {
		t.Fatalf("expected host_unmapped error, got %s", string(body))
	}
	if app.recorder.lastRoute != nil {
		t.Fatalf("proxy should not be invoked for unmapped hosts")
	}
}

func TestRouterSkipsHostLookupForDiagnostics(t *testing.T) {
	app := newTestApp(t, 5000)
	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString("pong")
	})

	req := httptest.NewRequest("GET", "http://127.0.0.1:5000/-/ping", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || string(body) != "pong" {
		t.Fatalf("expected diagnostics route, got %d %s", resp.StatusCode, body)
	}
	if app.recorder.lastRoute != nil {
		t.Fatalf("diagnostics requests must not reach the proxy")
	}
}

func TestNewAppRequiresDependencies(t *testing.T) {
	logger := logrus.New()
	if _, err := NewApp(AppOptions{Registry: &OriginRegistry{}, Proxy: &proxyRecorder{}, ListenPort: 1}); err == nil {
		t.Fatalf("expected logger error")
	}
	if _, err := NewApp(AppOptions{Logger: logger, Proxy: &proxyRecorder{}, ListenPort: 1}); err == nil {
		t.Fatalf("expected registry error")
	}
	if _, err := NewApp(AppOptions{Logger: logger, Registry: &OriginRegistry{}, ListenPort: 1}); err == nil {
		t.Fatalf("expected proxy error")
	}
	if _, err := NewApp(AppOptions{Logger: logger, Registry: &OriginRegistry{}, Proxy: &proxyRecorder{}}); err == nil {
		t.Fatalf("expected port error")
	}
}

type testApp struct {
	*fiber.App
	recorder *proxyRecorder
}

func newTestApp(t *testing.T, port int) *testApp {
	t.Helper()

	registry, err := NewOriginRegistry(testConfig(port))
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	recorder := &proxyRecorder{}
	app, err := NewApp(AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      recorder,
		ListenPort: port,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	return &testApp{App: app, recorder: recorder}
}

func testConfig(port int) *config.Config {
	return &config.Config{
		Global: config.GlobalConfig{ListenPort: port},
		App: config.AppConfig{
			Origin:   "https://aurora.local",
			Upstream: "http://127.0.0.1:3000",
			APIHosts: []string{"services.swpc.noaa.gov", "api.open-meteo.com"},
		},
		Origins: []config.OriginConfig{
			{Host: "api.open-meteo.com", Upstream: "http://127.0.0.1:9100/meteo/"},
		},
	}
}

type proxyRecorder struct {
	lastRoute *OriginRoute
	requestID string
}

func (p *proxyRecorder) Handle(c fiber.Ctx, route *OriginRoute) error {
	p.lastRoute = route
	p.requestID = RequestID(c)
	return c.SendStatus(fiber.StatusNoContent)
}
