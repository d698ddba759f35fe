package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/agentworkforce/contentmirror/internal/cache"
	"github.com/agentworkforce/contentmirror/internal/collector"
	"github.com/agentworkforce/contentmirror/internal/config"
	"github.com/agentworkforce/contentmirror/internal/directus"
	"github.com/agentworkforce/contentmirror/internal/runlock"
	"github.com/agentworkforce/contentmirror/internal/telemetry"
)

type app struct {
	lock   runlock.Lock
	syncer *collector.Syncer
}

func loadConfig() (*config.RunConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	return cfg, nil
}

func openLock(cfg *config.RunConfig) (runlock.Lock, error) {
	lock, err := runlock.Open(cfg.LockDSN, runlock.Options{TTL: cfg.LockTTL()})
	if err != nil {
		return nil, fmt.Errorf("open run lock %s: %w", redactDSN(cfg.LockDSN), err)
	}
	return lock, nil
}

func newDirectusClient(cfg *config.RunConfig) *directus.Client {
	return directus.NewClient(directus.ClientOptions{
		BaseURL:    cfg.Directus.APIURL,
		Token:      cfg.Directus.Token,
		Email:      cfg.Directus.Email,
		Password:   cfg.Directus.Password,
		HTTPClient: &http.Client{Timeout: cfg.DirectusTimeout()},
		MaxRetries: intEnv("CONTENTMIRROR_DIRECTUS_MAX_RETRIES", 0),
		UserAgent:  "contentmirror/" + Version,
	})
}

func newInvalidator(cfg *config.RunConfig) cache.Invalidator {
	return cache.FromConfig(cfg.Cache, cache.HTTPOptions{
		TokenProvider: cache.StaticToken(strings.TrimSpace(os.Getenv("CONTENTMIRROR_CACHE_TOKEN"))),
		UserAgent:     "contentmirror/" + Version,
		MaxRetries:    intEnv("CONTENTMIRROR_CACHE_MAX_RETRIES", 0),
	})
}

// newApp wires the client, lock, invalidator and syncer for cfg. events may
// be nil.
func newApp(cfg *config.RunConfig, events collector.EventSink) (*app, error) {
	lock, err := openLock(cfg)
	if err != nil {
		return nil, err
	}
	syncer, err := collector.NewSyncer(newDirectusClient(cfg), collector.SyncerOptions{
		Config:      cfg,
		Lock:        lock,
		Invalidator: newInvalidator(cfg),
		Events:      events,
		Logger:      log.Default(),
		Tracer:      telemetry.Tracer(""),
		Metrics:     telemetry.NewRunMetrics(telemetry.Meter("")),
	})
	if err != nil {
		_ = runlock.Close(lock)
		return nil, err
	}
	return &app{lock: lock, syncer: syncer}, nil
}

// reload applies a changed config file to the next run. The Directus client
// and cache invalidator are rebuilt; the run lock stays as opened at startup.
func (a *app) reload(next *config.RunConfig) {
	current := a.syncer.Config()
	if next.LockDSN != current.LockDSN || next.LockfileLifetime != current.LockfileLifetime {
		log.Printf("config reload: lock settings changed, restart to apply them")
	}
	a.syncer.Reconfigure(next, newDirectusClient(next), newInvalidator(next))
	log.Printf("config reloaded: %s", strings.Join(next.Collections(), ", "))
}

func (a *app) Close() {
	if err := runlock.Close(a.lock); err != nil {
		log.Printf("close run lock: %v", err)
	}
}

func logRunResult(result collector.RunResult) {
	for _, m := range result.Mappings {
		log.Printf("%s: fetched=%d written=%d unchanged=%d translations=%d redirects=%d skipped=%d slugs=%d removed=%d",
			m.Collection, m.Fetched, m.Written, m.Unchanged, m.Translations, m.Redirects, m.Skipped, m.Slugs, len(m.Removed))
	}
}

// redactDSN hides the password of a URL style DSN.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return dsn[:scheme+3] + creds[:colon] + ":***" + dsn[at:]
	}
	return dsn
}
