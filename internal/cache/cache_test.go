package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentworkforce/contentmirror/internal/config"
)

func TestHTTPInvalidatorSendsPurgeRequest(t *testing.T) {
	var capturedAuth, capturedCorrelation string
	var capturedBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		capturedAuth = r.Header.Get("Authorization")
		capturedCorrelation = r.Header.Get("X-Correlation-Id")
		_ = json.NewDecoder(r.Body).Decode(&capturedBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	inv := NewHTTPInvalidator(HTTPOptions{
		URL:           server.URL + "/purge",
		TokenProvider: StaticToken("purge-token"),
		HTTPClient:    server.Client(),
	})
	if err := inv.Invalidate(context.Background()); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if capturedAuth != "Bearer purge-token" {
		t.Fatalf("expected bearer auth, got %q", capturedAuth)
	}
	if capturedCorrelation == "" {
		t.Fatalf("expected X-Correlation-Id header")
	}
	if capturedBody["source"] != "contentmirror" {
		t.Fatalf("unexpected purge body %+v", capturedBody)
	}
}

func TestHTTPInvalidatorRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	inv := NewHTTPInvalidator(HTTPOptions{URL: server.URL, HTTPClient: server.Client(), BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	if err := inv.Invalidate(context.Background()); err != nil {
		t.Fatalf("expected retries to recover, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestHTTPInvalidatorDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer server.Close()

	inv := NewHTTPInvalidator(HTTPOptions{URL: server.URL, HTTPClient: server.Client(), BaseDelay: time.Millisecond})
	if err := inv.Invalidate(context.Background()); err == nil {
		t.Fatalf("expected error for 401")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single call, got %d", got)
	}
}

func TestHTTPInvalidatorCapsRetryAfterAndStopsAtBudget(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	inv := NewHTTPInvalidator(HTTPOptions{URL: server.URL, HTTPClient: server.Client(), MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	started := time.Now()
	err := inv.Invalidate(context.Background())
	if err == nil || !strings.Contains(err.Error(), "status=429") {
		t.Fatalf("expected 429 failure after retries, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Fatalf("expected Retry-After to be capped, took %s", elapsed)
	}
}

func TestDirInvalidatorClearsEntriesButKeepsDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "doctrine", "ab"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"doctrine/ab/entry", "page.html", ".gitkeep"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := NewDirInvalidator(dir).Invalidate(context.Background()); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != ".gitkeep" {
		t.Fatalf("expected only .gitkeep to remain, got %v", entries)
	}
	if err := NewDirInvalidator(filepath.Join(dir, "missing")).Invalidate(context.Background()); err != nil {
		t.Fatalf("missing cache dir should be a no-op, got %v", err)
	}
}

type failingInvalidator struct{ err error }

func (f failingInvalidator) Invalidate(context.Context) error { return f.err }

func TestMultiJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	err := Multi{Noop{}, failingInvalidator{err: boom}, nil}.Invalidate(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error to contain boom, got %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	if _, ok := FromConfig(config.CacheConfig{}, HTTPOptions{}).(Noop); !ok {
		t.Fatalf("expected Noop without cache config")
	}
	if _, ok := FromConfig(config.CacheConfig{Dir: t.TempDir()}, HTTPOptions{}).(*DirInvalidator); !ok {
		t.Fatalf("expected DirInvalidator")
	}
	if _, ok := FromConfig(config.CacheConfig{Dir: t.TempDir(), URL: "http://cache"}, HTTPOptions{}).(Multi); !ok {
		t.Fatalf("expected Multi for dir and url")
	}
}
