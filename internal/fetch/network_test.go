package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

type staticResolver struct {
	upstream *url.URL
}

func (r staticResolver) Resolve(logical *url.URL) (*url.URL, error) {
	if r.upstream == nil {
		return nil, errors.New("unmapped host")
	}
	rel := &url.URL{Path: logical.Path, RawQuery: logical.RawQuery}
	return r.upstream.ResolveReference(rel), nil
}

func TestNetworkFetchResolvesUpstream(t *testing.T) {
	var gotPath, gotForwardedHost, gotConnection string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		gotForwardedHost = r.Header.Get("X-Forwarded-Host")
		gotConnection = r.Header.Get("Proxy-Connection")
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Keep-Alive", "timeout=5")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer upstream.Close()

	base, _ := url.Parse(upstream.URL)
	network := NewNetwork(upstream.Client(), staticResolver{upstream: base}, "aurora.local")

	logical, _ := url.Parse("https://services.swpc.noaa.gov/products/kp.json?range=1d")
	req := NewRequest(http.MethodGet, logical, ModeCORS)
	req.Header.Set("Proxy-Connection", "keep-alive")

	resp, err := network.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	defer resp.Close()

	if gotPath != "/products/kp.json?range=1d" {
		t.Fatalf("unexpected upstream path %s", gotPath)
	}
	if gotForwardedHost != "services.swpc.noaa.gov" {
		t.Fatalf("unexpected forwarded host %s", gotForwardedHost)
	}
	if gotConnection != "" {
		t.Fatalf("hop-by-hop header should be stripped")
	}
	if resp.Header.Get("Keep-Alive") != "" {
		t.Fatalf("hop-by-hop response header should be stripped")
	}
	if resp.Type != TypeCORS {
		t.Fatalf("expected cors type, got %s", resp.Type)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "[]" {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestNetworkFetchResponseTypes(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()
	base, _ := url.Parse(upstream.URL)
	network := NewNetwork(upstream.Client(), staticResolver{upstream: base}, "aurora.local")

	cases := []struct {
		rawURL string
		mode   Mode
		want   Type
	}{
		{"https://aurora.local/app.js", ModeNoCORS, TypeBasic},
		{"https://aurora.local:8443/app.js", ModeNoCORS, TypeBasic},
		{"https://fonts.example.com/font.woff2", ModeNoCORS, TypeOpaque},
		{"https://fonts.example.com/font.woff2", ModeCORS, TypeCORS},
	}
	for _, tc := range cases {
		u, _ := url.Parse(tc.rawURL)
		resp, err := network.Fetch(context.Background(), NewRequest(http.MethodGet, u, tc.mode))
		if err != nil {
			t.Fatalf("fetch error: %v", err)
		}
		resp.Close()
		if resp.Type != tc.want {
			t.Fatalf("%s (%s): want %s got %s", tc.rawURL, tc.mode, tc.want, resp.Type)
		}
	}
}

func TestNetworkFetchTransportFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base, _ := url.Parse(upstream.URL)
	upstream.Close()

	network := NewNetwork(http.DefaultClient, staticResolver{upstream: base}, "aurora.local")
	logical, _ := url.Parse("https://aurora.local/index.html")
	_, err := network.Fetch(context.Background(), NewRequest(http.MethodGet, logical, ModeNavigate))

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if netErr.URL != "https://aurora.local/index.html" {
		t.Fatalf("unexpected url in error: %s", netErr.URL)
	}
}

func TestNetworkFetchUnresolvedHost(t *testing.T) {
	network := NewNetwork(http.DefaultClient, staticResolver{}, "aurora.local")
	logical, _ := url.Parse("https://unknown.example/")
	if _, err := network.Fetch(context.Background(), NewRequest(http.MethodGet, logical, ModeCORS)); err == nil {
		t.Fatalf("expected resolver failure")
	}
}
