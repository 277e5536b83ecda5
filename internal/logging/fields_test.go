package logging

import "testing"

func TestFetchFieldsMarksCacheHit(t *testing.T) {
	fields := FetchFields("req-1", "GET", "https://aurora.local/", "cache-first-network-fallback", "cache", 200)
	if fields["cache_hit"] != true {
		t.Fatalf("cache source should set cache_hit")
	}
	if fields["strategy"] != "cache-first-network-fallback" || fields["status"] != 200 {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if FetchFields("req-2", "GET", "/", "network-only", "network", 200)["cache_hit"] != false {
		t.Fatalf("network source must not be a cache hit")
	}
}

func TestEventFields(t *testing.T) {
	fields := EventFields("activate", "activated", "aurora-cache-v3")
	if fields["action"] != "activate" || fields["namespace"] != "aurora-cache-v3" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}
