package cache

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestNamespacePutAndMatch(t *testing.T) {
	store := newTestStore(t)
	ns := openNamespace(t, store, "aurora-cache-v1")
	key := NewKey("get", "https://aurora.local/index.html")

	storedAt := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	header := http.Header{"Content-Type": []string{"text/html"}}
	if err := ns.Put(context.Background(), key, Snapshot{Status: 200, Header: header, Body: []byte("<html>"), StoredAt: storedAt}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	snap, err := ns.Match(context.Background(), key)
	if err != nil {
		t.Fatalf("match error: %v", err)
	}
	if string(snap.Body) != "<html>" {
		t.Fatalf("cached payload mismatch: %s", string(snap.Body))
	}
	if snap.Status != 200 {
		t.Fatalf("status mismatch: %d", snap.Status)
	}
	if snap.Header.Get("Content-Type") != "text/html" {
		t.Fatalf("header mismatch: %v", snap.Header)
	}
	if !snap.StoredAt.Equal(storedAt) {
		t.Fatalf("stored_at mismatch: expected %v got %v", storedAt, snap.StoredAt)
	}
}

func TestNamespacePutReplacesEntry(t *testing.T) {
	store := newTestStore(t)
	ns := openNamespace(t, store, "aurora-cache-v1")
	key := NewKey(http.MethodGet, "https://aurora.local/app.js")

	for _, body := range []string{"v1", "v2"} {
		if err := ns.Put(context.Background(), key, Snapshot{Status: 200, Body: []byte(body)}); err != nil {
			t.Fatalf("put error: %v", err)
		}
	}

	snap, err := ns.Match(context.Background(), key)
	if err != nil {
		t.Fatalf("match error: %v", err)
	}
	if string(snap.Body) != "v2" {
		t.Fatalf("expected replaced body v2, got %s", string(snap.Body))
	}
	keys, err := ns.Keys(context.Background())
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	if len(keys) != 1 || keys[0] != key {
		t.Fatalf("expected single key, got %v", keys)
	}
}

func TestNamespaceMatchMissing(t *testing.T) {
	store := newTestStore(t)
	ns := openNamespace(t, store, "aurora-cache-v1")
	_, err := ns.Match(context.Background(), NewKey("GET", "https://aurora.local/missing"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNamespaceRejectsNonGET(t *testing.T) {
	store := newTestStore(t)
	ns := openNamespace(t, store, "aurora-cache-v1")
	err := ns.Put(context.Background(), NewKey(http.MethodPost, "https://aurora.local/api"), Snapshot{Status: 200})
	if !errors.Is(err, ErrMethodNotCacheable) {
		t.Fatalf("expected ErrMethodNotCacheable, got %v", err)
	}
}

func TestNamespaceDeleteEntry(t *testing.T) {
	store := newTestStore(t)
	ns := openNamespace(t, store, "aurora-cache-v1")
	key := NewKey("GET", "https://aurora.local/remove")
	if err := ns.Put(context.Background(), key, Snapshot{Status: 200, Body: []byte("data")}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := ns.Delete(context.Background(), key); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if err := ns.Delete(context.Background(), key); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	if _, err := ns.Match(context.Background(), key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestStorageKeysAndDelete(t *testing.T) {
	store := newTestStore(t)
	openNamespace(t, store, "aurora-cache-v2")
	openNamespace(t, store, "aurora-cache-v1")

	names, err := store.Keys(context.Background())
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	if len(names) != 2 || names[0] != "aurora-cache-v1" || names[1] != "aurora-cache-v2" {
		t.Fatalf("unexpected namespaces: %v", names)
	}

	deleted, err := store.Delete(context.Background(), "aurora-cache-v1")
	if err != nil || !deleted {
		t.Fatalf("expected delete to succeed, deleted=%v err=%v", deleted, err)
	}
	deleted, err = store.Delete(context.Background(), "aurora-cache-v1")
	if err != nil || deleted {
		t.Fatalf("second delete should report nothing deleted, deleted=%v err=%v", deleted, err)
	}
	if ok, _ := store.Has(context.Background(), "aurora-cache-v1"); ok {
		t.Fatalf("namespace should be gone")
	}
}

func TestStorageRejectsTraversal(t *testing.T) {
	store := newTestStore(t)
	for _, name := range []string{"", "..", "../escape", "a/b", ".hidden"} {
		if _, err := store.Open(context.Background(), name); !errors.Is(err, ErrInvalidNamespace) {
			t.Fatalf("expected ErrInvalidNamespace for %q, got %v", name, err)
		}
	}
}

func TestStorageKeysIgnoresFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}
	names, err := store.Keys(context.Background())
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no namespaces, got %v", names)
	}
}

func TestNamespaceConcurrentPuts(t *testing.T) {
	store := newTestStore(t)
	ns := openNamespace(t, store, "aurora-cache-v1")
	key := NewKey("GET", "https://aurora.local/race")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ns.Put(context.Background(), key, Snapshot{Status: 200, Body: []byte("same")}); err != nil {
				t.Errorf("put error: %v", err)
			}
		}()
	}
	wg.Wait()

	snap, err := ns.Match(context.Background(), key)
	if err != nil {
		t.Fatalf("match error: %v", err)
	}
	if string(snap.Body) != "same" {
		t.Fatalf("unexpected body: %s", string(snap.Body))
	}
}

func TestVersionName(t *testing.T) {
	v := Version{Product: "aurora", Number: 7}
	if v.Name() != "aurora-cache-v7" {
		t.Fatalf("unexpected name: %s", v.Name())
	}
	if v.String() != v.Name() {
		t.Fatalf("String should match Name")
	}
}

// newTestStore returns a Storage backed by a temporary directory.
func newTestStore(t *testing.T) Storage {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func openNamespace(t *testing.T, store Storage, name string) Namespace {
	t.Helper()
	ns, err := store.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("open namespace %s: %v", name, err)
	}
	return ns
}
