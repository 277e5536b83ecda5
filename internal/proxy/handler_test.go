package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/aurora-watch/aurora-agent/internal/config"
	"github.com/aurora-watch/aurora-agent/internal/fetch"
	"github.com/aurora-watch/aurora-agent/internal/server"
	"github.com/aurora-watch/aurora-agent/internal/strategy"
	"github.com/aurora-watch/aurora-agent/internal/worker"
)

// fakeDispatcher 通过函数模拟 worker 的 fetch 处理。
type fakeDispatcher struct {
	last    *worker.FetchEvent
	respond func(ev *worker.FetchEvent) error
	closed  atomic.Bool
}

func (d *fakeDispatcher) Dispatch(_ context.Context, ev worker.Event) error {
	fe := ev.(*worker.FetchEvent)
	d.last = fe
	return d.respond(fe)
}

type trackingBody struct {
	io.Reader
	closed *atomic.Bool
}

func (b trackingBody) Close() error {
	b.closed.Store(true)
	return nil
}

func newProxyApp(t *testing.T, dispatcher *fakeDispatcher) *fiber.App {
	t.Helper()
	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		App: config.AppConfig{
			Origin:   "https://aurora.local",
			Upstream: "http://127.0.0.1:3000",
			APIHosts: []string{"services.swpc.noaa.gov"},
		},
	}
	registry, err := server.NewOriginRegistry(cfg)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	handler, err := NewHandler(dispatcher, logger)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      handler,
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	return app
}

func respondWith(status int, source fetch.Source, class string, body string, closed *atomic.Bool) func(*worker.FetchEvent) error {
	return func(ev *worker.FetchEvent) error {
		resp := &fetch.Response{
			Status: status,
			Header: http.Header{"Content-Type": []string{"application/json"}, "Set-Cookie": []string{"a=1", "b=2"}},
			Body:   trackingBody{Reader: strings.NewReader(body), closed: closed},
			Source: source,
		}
		if source == fetch.SourceCache {
			resp.StoredAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		}
		ev.Strategy = class
		ev.SetResponse(resp)
		return nil
	}
}

func TestHandleWritesResolvedResponse(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	dispatcher.respond = respondWith(http.StatusOK, fetch.SourceCache, string(strategy.CacheFirst), `{"kp":6}`, &dispatcher.closed)
	app := newProxyApp(t, dispatcher)

	req := httptest.NewRequest("GET", "http://aurora.local/data/ovation.json?day=1", nil)
	req.Host = "aurora.local"
	req.Header.Set("Sec-Fetch-Mode", "cors")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK || string(body) != `{"kp":6}` {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Aurora-Strategy") != string(strategy.CacheFirst) {
		t.Fatalf("unexpected strategy header %q", resp.Header.Get("X-Aurora-Strategy"))
	}
	if resp.Header.Get("X-Aurora-Source") != "cache" {
		t.Fatalf("unexpected source header %q", resp.Header.Get("X-Aurora-Source"))
	}
	if resp.Header.Get("X-Aurora-Cached-At") == "" {
		t.Fatalf("cached responses should carry X-Aurora-Cached-At")
	}
	if len(resp.Header.Values("Set-Cookie")) != 2 {
		t.Fatalf("multi-value headers should be preserved, got %v", resp.Header.Values("Set-Cookie"))
	}
	if !dispatcher.closed.Load() {
		t.Fatalf("response body should be closed")
	}

	got := dispatcher.last.Request
	if got.URL.String() != "https://aurora.local/data/ovation.json?day=1" {
		t.Fatalf("unexpected logical url %s", got.URL)
	}
	if got.Mode != fetch.ModeCORS {
		t.Fatalf("unexpected mode %s", got.Mode)
	}
}

func TestHandleForwardsBody(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	dispatcher.respond = respondWith(http.StatusCreated, fetch.SourceNetwork, strategy.Passthrough, `{}`, &dispatcher.closed)
	app := newProxyApp(t, dispatcher)

	req := httptest.NewRequest("POST", "http://aurora.local/api/subscribe", strings.NewReader(`{"endpoint":"x"}`))
	req.Host = "aurora.local"
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	got := dispatcher.last.Request
	if got.Method != http.MethodPost || string(got.Body) != `{"endpoint":"x"}` {
		t.Fatalf("unexpected request %s %q", got.Method, got.Body)
	}
	if got.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("request headers should be forwarded")
	}
	if resp.Header.Get("X-Aurora-Strategy") != strategy.Passthrough {
		t.Fatalf("unexpected strategy header %q", resp.Header.Get("X-Aurora-Strategy"))
	}
}

func TestHandleNetworkFailure(t *testing.T) {
	dispatcher := &fakeDispatcher{respond: func(ev *worker.FetchEvent) error {
		ev.Strategy = string(strategy.NetworkFirst)
		return &fetch.NetworkError{URL: ev.Request.URL.String(), Err: errors.New("connection refused")}
	}}
	app := newProxyApp(t, dispatcher)

	req := httptest.NewRequest("GET", "http://services.swpc.noaa.gov/products/kp.json", nil)
	req.Host = "services.swpc.noaa.gov"
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusBadGateway || !strings.Contains(string(body), "network_failed") {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, body)
	}
}

func TestHandleShuttingDown(t *testing.T) {
	dispatcher := &fakeDispatcher{respond: func(*worker.FetchEvent) error {
		return worker.ErrShuttingDown
	}}
	app := newProxyApp(t, dispatcher)

	req := httptest.NewRequest("GET", "http://aurora.local/", nil)
	req.Host = "aurora.local"
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestHandleRecoversPanic(t *testing.T) {
	dispatcher := &fakeDispatcher{respond: func(*worker.FetchEvent) error {
		panic("boom")
	}}
	app := newProxyApp(t, dispatcher)

	req := httptest.NewRequest("GET", "http://aurora.local/", nil)
	req.Host = "aurora.local"
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusInternalServerError || !strings.Contains(string(body), "proxy_panic") {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, body)
	}
}

func TestRequestMode(t *testing.T) {
	cases := []struct {
		name   string
		method string
		header http.Header
		want   fetch.Mode
	}{
		{"document destination", "GET", http.Header{"Sec-Fetch-Dest": {"document"}, "Sec-Fetch-Mode": {"no-cors"}}, fetch.ModeNavigate},
		{"fetch metadata", "GET", http.Header{"Sec-Fetch-Mode": {"same-origin"}}, fetch.ModeSameOrigin},
		{"html accept", "GET", http.Header{"Accept": {"text/html,application/xhtml+xml"}}, fetch.ModeNavigate},
		{"html accept post", "POST", http.Header{"Accept": {"text/html"}}, fetch.ModeNoCORS},
		{"no metadata", "GET", http.Header{}, fetch.ModeNoCORS},
	}
	for _, tc := range cases {
		if got := requestMode(tc.method, tc.header); got != tc.want {
			t.Fatalf("%s: want %s got %s", tc.name, tc.want, got)
		}
	}
}

func TestNewHandlerRequiresDispatcher(t *testing.T) {
	if _, err := NewHandler(nil, nil); err == nil {
		t.Fatalf("expected dispatcher error")
	}
}
