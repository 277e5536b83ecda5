package fetch

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/aurora-watch/aurora-agent/internal/cache"
)

func TestCloneYieldsIndependentBodies(t *testing.T) {
	resp := &Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   io.NopCloser(strings.NewReader(`{"kp":5}`)),
		Source: SourceNetwork,
	}

	clone, err := resp.Clone()
	if err != nil {
		t.Fatalf("clone error: %v", err)
	}

	cloneBody, _ := io.ReadAll(clone.Body)
	origBody, _ := io.ReadAll(resp.Body)
	if string(cloneBody) != `{"kp":5}` || string(origBody) != `{"kp":5}` {
		t.Fatalf("bodies should match: clone=%s orig=%s", cloneBody, origBody)
	}

	clone.Header.Set("Content-Type", "text/plain")
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("clone header mutation leaked into original")
	}
}

func TestCloneWithoutBody(t *testing.T) {
	resp := &Response{Status: http.StatusNoContent, Header: http.Header{}}
	clone, err := resp.Clone()
	if err != nil {
		t.Fatalf("clone error: %v", err)
	}
	data, _ := io.ReadAll(clone.Body)
	if len(data) != 0 {
		t.Fatalf("expected empty body, got %q", data)
	}
}

func TestUnavailableResponse(t *testing.T) {
	resp := Unavailable()
	if resp.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Status)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		t.Fatalf("expected text/plain, got %s", resp.Header.Get("Content-Type"))
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != UnavailableBody {
		t.Fatalf("unexpected body %q", body)
	}
	if resp.Source != SourceSynthesized {
		t.Fatalf("expected synthesized source, got %s", resp.Source)
	}
}

func TestFromSnapshot(t *testing.T) {
	snap := &cache.Snapshot{Status: 200, Body: []byte("shell")}
	resp := FromSnapshot(snap)
	if resp.Source != SourceCache || resp.Header == nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "shell" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestCacheableRules(t *testing.T) {
	cases := []struct {
		status int
		typ    Type
		want   bool
	}{
		{200, TypeBasic, true},
		{200, TypeCORS, true},
		{200, TypeOpaque, false},
		{404, TypeBasic, false},
		{204, TypeBasic, false},
	}
	for _, tc := range cases {
		resp := &Response{Status: tc.status, Type: tc.typ}
		if got := resp.Cacheable(); got != tc.want {
			t.Fatalf("status=%d type=%s: want %v got %v", tc.status, tc.typ, tc.want, got)
		}
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode("Navigate") != ModeNavigate {
		t.Fatalf("expected navigate")
	}
	if ParseMode("") != ModeNoCORS {
		t.Fatalf("empty mode should default to no-cors")
	}
	if ParseMode("cors") != ModeCORS {
		t.Fatalf("expected cors")
	}
}
