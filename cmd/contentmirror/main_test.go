package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentworkforce/contentmirror/internal/collector"
	"github.com/agentworkforce/contentmirror/internal/config"
	"github.com/agentworkforce/contentmirror/internal/frontmatter"
	"github.com/agentworkforce/contentmirror/internal/runlock"
)

func TestIntEnvParsesValue(t *testing.T) {
	t.Setenv("CONTENTMIRROR_TEST_INT", "42")
	if got := intEnv("CONTENTMIRROR_TEST_INT", 7); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestIntEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("CONTENTMIRROR_TEST_INT_BAD", "not-a-number")
	if got := intEnv("CONTENTMIRROR_TEST_INT_BAD", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestDurationEnvParsesValue(t *testing.T) {
	t.Setenv("CONTENTMIRROR_TEST_DURATION", "150ms")
	if got := durationEnv("CONTENTMIRROR_TEST_DURATION", time.Second); got != 150*time.Millisecond {
		t.Fatalf("expected 150ms, got %s", got)
	}
}

func TestDurationEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("CONTENTMIRROR_TEST_DURATION_BAD", "soon")
	if got := durationEnv("CONTENTMIRROR_TEST_DURATION_BAD", 2*time.Second); got != 2*time.Second {
		t.Fatalf("expected fallback 2s, got %s", got)
	}
}

func TestEnvHelpersUseFallbackWhenUnset(t *testing.T) {
	_ = os.Unsetenv("CONTENTMIRROR_TEST_UNSET")
	if got := intEnv("CONTENTMIRROR_TEST_UNSET", 9); got != 9 {
		t.Fatalf("expected fallback 9, got %d", got)
	}
	if got := int64Env("CONTENTMIRROR_TEST_UNSET", 1<<20); got != 1<<20 {
		t.Fatalf("expected fallback 1MiB, got %d", got)
	}
	if got := floatEnv("CONTENTMIRROR_TEST_UNSET", 0.25); got != 0.25 {
		t.Fatalf("expected fallback 0.25, got %f", got)
	}
	if got := envOrDefault("CONTENTMIRROR_TEST_UNSET", "contentmirror.yaml"); got != "contentmirror.yaml" {
		t.Fatalf("expected fallback path, got %q", got)
	}
}

func TestClampJitterRatio(t *testing.T) {
	if got := clampJitterRatio(-0.1); got != 0 {
		t.Fatalf("expected clamp to 0, got %f", got)
	}
	if got := clampJitterRatio(1.5); got != 1 {
		t.Fatalf("expected clamp to 1, got %f", got)
	}
	if got := clampJitterRatio(0.4); got != 0.4 {
		t.Fatalf("expected passthrough 0.4, got %f", got)
	}
}

func TestJitteredIntervalWithSample(t *testing.T) {
	base := 10 * time.Second
	if got := jitteredIntervalWithSample(base, 0, 0.2); got != base {
		t.Fatalf("expected no jitter interval %s, got %s", base, got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 0); got != 8*time.Second {
		t.Fatalf("expected min jitter interval 8s, got %s", got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 1); got != 12*time.Second {
		t.Fatalf("expected max jitter interval 12s, got %s", got)
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{fmt.Errorf("run: %w", collector.ErrLocked), exitLocked},
		{fmt.Errorf("load: %w", &config.ConfigError{Field: "hookPrefix", Reason: "is required"}), exitConfig},
		{fmt.Errorf("%w: 2 problem(s)", errInvalidTree), exitInvalid},
		{&collector.TransportError{Op: "fetch", Err: errors.New("boom")}, exitFailure},
	}
	for _, tc := range cases {
		if got := exitCode(tc.err); got != tc.want {
			t.Fatalf("exitCode(%v): expected %d, got %d", tc.err, tc.want, got)
		}
	}
}

func TestRedactDSN(t *testing.T) {
	cases := map[string]string{
		"postgres://app:secret@db:5432/cms": "postgres://app:***@db:5432/cms",
		"mysql://app@db/cms":                "mysql://app@db/cms",
		"file://user/pages/.lock":           "file://user/pages/.lock",
	}
	for in, want := range cases {
		if got := redactDSN(in); got != want {
			t.Fatalf("redactDSN(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestClearLock(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	lock := runlock.NewMemoryLock(runlock.Options{TTL: time.Minute, Now: func() time.Time { return now }})
	ctx := context.Background()
	var out bytes.Buffer

	if err := clearLock(ctx, lock, false, &out); err != nil {
		t.Fatalf("clearing a free lock failed: %v", err)
	}
	if !strings.Contains(out.String(), "not held") {
		t.Fatalf("expected not-held message, got %q", out.String())
	}

	if _, err := lock.TryAcquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := clearLock(ctx, lock, false, &out); !errors.Is(err, errLockHeld) {
		t.Fatalf("expected fresh lock to need --force, got %v", err)
	}
	if err := clearLock(ctx, lock, true, &out); err != nil {
		t.Fatalf("forced clear failed: %v", err)
	}
	if st, _ := lock.Status(ctx); st.Held {
		t.Fatalf("expected lock to be cleared")
	}

	if _, err := lock.TryAcquire(ctx); err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := clearLock(ctx, lock, false, &out); err != nil {
		t.Fatalf("expected stale lock to clear without --force, got %v", err)
	}
}

func TestPrintStatusYAMLAndJSON(t *testing.T) {
	st := runlock.Status{Backend: "file", Held: true, TTL: 2 * time.Minute}
	var yamlOut bytes.Buffer
	if err := printStatus(&yamlOut, st, false); err != nil {
		t.Fatalf("yaml status: %v", err)
	}
	if !strings.Contains(yamlOut.String(), "backend: file") || !strings.Contains(yamlOut.String(), "held: true") {
		t.Fatalf("unexpected yaml status %q", yamlOut.String())
	}
	var jsonOut bytes.Buffer
	if err := printStatus(&jsonOut, st, true); err != nil {
		t.Fatalf("json status: %v", err)
	}
	if !strings.Contains(jsonOut.String(), `"backend": "file"`) {
		t.Fatalf("unexpected json status %q", jsonOut.String())
	}
}

func TestVerifyTree(t *testing.T) {
	root := t.TempDir()
	m := config.MappingConfig{
		Collection: "pages",
		Path:       filepath.Join(root, "pages"),
		Depth:      1,
		Filename:   "default",
		Frontmatter: config.FrontmatterFields{
			Title: "title",
			Slug:  "slug",
		},
	}
	cfg := &config.RunConfig{Mappings: []config.MappingConfig{m}}
	writer := collector.NewWriter()
	full := []byte("---\ntitle: 'Home'\nslug: home\ndirectus:\n    collection: pages\n    depth: 1\n    id: 1\n---")
	if _, err := writer.Write(full, "1", m, ""); err != nil {
		t.Fatalf("write full: %v", err)
	}
	if _, err := writer.Write(frontmatter.Redirect("/gone"), "2", m, ""); err != nil {
		t.Fatalf("write redirect: %v", err)
	}

	report, err := verifyTree(cfg)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if len(report.Problems) != 0 || report.Documents["pages"] != 2 {
		t.Fatalf("expected a clean tree with 2 documents, got %+v", report)
	}

	// A document copied into the wrong record directory.
	if _, err := writer.Write(full, "3", m, ""); err != nil {
		t.Fatalf("write misplaced: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(m.Path, "4"), 0o755); err != nil {
		t.Fatalf("mkdir empty record: %v", err)
	}
	report, err = verifyTree(cfg)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if len(report.Problems) != 2 {
		t.Fatalf("expected 2 problems, got %v", report.Problems)
	}
	if !strings.Contains(report.Problems[0], "want pages/3") || !strings.Contains(report.Problems[1], "no default document") {
		t.Fatalf("unexpected problems %v", report.Problems)
	}
}

func TestPrintConfigMasksSecrets(t *testing.T) {
	cfg := &config.RunConfig{
		HookPrefix:    "directus",
		LockDSN:       "memory://",
		WebhookSecret: "hook-secret",
		Directus: config.DirectusConfig{
			APIURL:   "https://cms.example.com",
			Email:    "editor@example.com",
			Password: "hunter2",
			Timeout:  30 * time.Second,
		},
		Mappings: []config.MappingConfig{{Collection: "pages", Path: "user/pages", Filename: "default"}},
	}
	var out bytes.Buffer
	if err := printConfig(&out, cfg); err != nil {
		t.Fatalf("print config: %v", err)
	}
	text := out.String()
	for _, secret := range []string{"hunter2", "hook-secret"} {
		if strings.Contains(text, secret) {
			t.Fatalf("expected %q to be masked, got %q", secret, text)
		}
	}
	for _, want := range []string{"hookPrefix: directus", "cms.example.com", "timeout: 30s", "collection: pages"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output, got %q", want, text)
		}
	}
	if cfg.Directus.Password != "hunter2" {
		t.Fatalf("printing must not mutate the config")
	}
}

func TestReloadRebuildsClientAndInvalidator(t *testing.T) {
	var oldHits, newHits int32
	oldCMS := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&oldHits, 1)
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer oldCMS.Close()
	newCMS := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&newHits, 1)
		if got := r.Header.Get("Authorization"); got != "Bearer rotated" {
			t.Errorf("expected rotated token, got %q", got)
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer newCMS.Close()

	root := t.TempDir()
	cacheDir := filepath.Join(root, "cache")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		t.Fatalf("mkdir cache: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cacheDir, "page.html"), []byte("stale"), 0o644); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	cfg := &config.RunConfig{
		HookPrefix: "directus",
		LockDSN:    "memory://",
		Directus:   config.DirectusConfig{APIURL: oldCMS.URL, Token: "original"},
		Mappings: []config.MappingConfig{{
			Collection:  "pages",
			Path:        filepath.Join(root, "pages"),
			Filename:    "default",
			Frontmatter: config.FrontmatterFields{Title: "title"},
		}},
	}
	a, err := newApp(cfg, nil)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	next := *cfg
	next.Directus = config.DirectusConfig{APIURL: newCMS.URL, Token: "rotated"}
	next.Cache = config.CacheConfig{Dir: cacheDir}
	a.reload(&next)

	if _, err := a.syncer.Run(context.Background()); err != nil {
		t.Fatalf("run after reload: %v", err)
	}
	if atomic.LoadInt32(&oldHits) != 0 || atomic.LoadInt32(&newHits) != 1 {
		t.Fatalf("expected the run to use the reloaded endpoint, old=%d new=%d", oldHits, newHits)
	}
	if _, err := os.Stat(filepath.Join(cacheDir, "page.html")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected the reloaded cache dir to be cleared, got %v", err)
	}
	if a.syncer.Config() != &next {
		t.Fatalf("expected the reloaded config to be active")
	}
}
