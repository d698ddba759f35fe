// Package collector runs the mirror: it fetches each configured collection,
// renders and writes one directory per record, and sweeps directories whose
// records are gone.
package collector

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentworkforce/contentmirror/internal/cache"
	"github.com/agentworkforce/contentmirror/internal/config"
	"github.com/agentworkforce/contentmirror/internal/directus"
	"github.com/agentworkforce/contentmirror/internal/frontmatter"
	"github.com/agentworkforce/contentmirror/internal/runlock"
	"github.com/agentworkforce/contentmirror/internal/telemetry"
)

type Client interface {
	Fetch(ctx context.Context, collection string, depth int, filter map[string]any) ([]directus.Record, error)
	UpdateItem(ctx context.Context, collection, id string, data map[string]any) error
}

type Logger interface {
	Printf(format string, args ...any)
}

type SyncerOptions struct {
	Config      *config.RunConfig
	Lock        runlock.Lock
	Invalidator cache.Invalidator
	Events      EventSink
	Logger      Logger
	Tracer      trace.Tracer
	Metrics     *telemetry.RunMetrics
	// Location renders frontmatter dates; nil means time.Local.
	Location *time.Location
	Now      func() time.Time
}

type MappingResult struct {
	Collection   string   `json:"collection"`
	Path         string   `json:"path"`
	Fetched      int      `json:"fetched"`
	Written      int      `json:"written"`
	Unchanged    int      `json:"unchanged"`
	Translations int      `json:"translations"`
	Redirects    int      `json:"redirects"`
	Skipped      int      `json:"skipped"`
	Slugs        int      `json:"slugs"`
	Removed      []string `json:"removed,omitempty"`
}

type RunResult struct {
	RunID      string          `json:"runId"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
	Locked     bool            `json:"locked,omitempty"`
	Mappings   []MappingResult `json:"mappings"`
	Error      string          `json:"error,omitempty"`
}

type Syncer struct {
	lock        runlock.Lock
	events      EventSink
	logger      Logger
	tracer      trace.Tracer
	metrics     *telemetry.RunMetrics
	location    *time.Location
	now         func() time.Time
	writer      *Writer
	reconciler  Reconciler

	mu          sync.Mutex
	cfg         *config.RunConfig
	client      Client
	invalidator cache.Invalidator
	lastRun     *RunResult
}

func NewSyncer(client Client, opts SyncerOptions) (*Syncer, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Lock == nil {
		return nil, fmt.Errorf("lock is required")
	}
	s := &Syncer{
		client:      client,
		lock:        opts.Lock,
		invalidator: opts.Invalidator,
		events:      opts.Events,
		logger:      opts.Logger,
		tracer:      opts.Tracer,
		metrics:     opts.Metrics,
		location:    opts.Location,
		now:         opts.Now,
		writer:      NewWriter(),
		cfg:         opts.Config,
	}
	if s.invalidator == nil {
		s.invalidator = cache.Noop{}
	}
	if s.events == nil {
		s.events = discardEvents{}
	}
	if s.tracer == nil {
		s.tracer = telemetry.Tracer("")
	}
	if s.metrics == nil {
		s.metrics = telemetry.NewRunMetrics(nil)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Reconfigure swaps the config together with the client and invalidator
// built from it, so the next run talks to the endpoints the new config
// names. A nil client or invalidator keeps the current one.
func (s *Syncer) Reconfigure(cfg *config.RunConfig, client Client, invalidator cache.Invalidator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg != nil {
		s.cfg = cfg
	}
	if client != nil {
		s.client = client
	}
	if invalidator != nil {
		s.invalidator = invalidator
	}
}

// snapshot returns what one run works with.
func (s *Syncer) snapshot() (*config.RunConfig, Client, cache.Invalidator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.client, s.invalidator
}

func (s *Syncer) Config() *config.RunConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// LastRun returns the result of the most recent run that got past the lock.
func (s *Syncer) LastRun() (RunResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		return RunResult{}, false
	}
	return *s.lastRun, true
}

func (s *Syncer) LockStatus(ctx context.Context) (runlock.Status, error) {
	return s.lock.Status(ctx)
}

// Run performs one sync. It returns ErrLocked without touching the tree when
// another run holds the lock. The lock is released on every other path, and
// the invalidator is signalled only after a successful run.
func (s *Syncer) Run(ctx context.Context) (RunResult, error) {
	cfg, client, invalidator := s.snapshot()
	started := s.now()
	result := RunResult{RunID: fmt.Sprintf("run_%d", started.UnixNano()), StartedAt: started}

	ctx, span := s.tracer.Start(ctx, "contentmirror.run", trace.WithAttributes(
		attribute.String("run.id", result.RunID),
		attribute.Int("run.mappings", len(cfg.Mappings)),
	))
	defer span.End()

	lease, err := s.lock.TryAcquire(ctx)
	if err != nil {
		result.FinishedAt = s.now()
		if errors.Is(err, runlock.ErrLocked) {
			result.Locked = true
			s.logf("sync %s skipped: run lock is held", result.RunID)
			s.metrics.Runs.Add(ctx, 1, telemetry.OutcomeAttr("locked"))
			s.events.Publish(Event{Type: EventRunLocked, RunID: result.RunID, Time: result.FinishedAt})
			span.SetAttributes(attribute.Bool("run.locked", true))
			return result, ErrLocked
		}
		err = fmt.Errorf("acquire run lock: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	s.events.Publish(Event{Type: EventRunStarted, RunID: result.RunID, Time: started})

	err = func() error {
		defer s.release(ctx, lease, result.RunID)
		return s.syncMappings(ctx, client, cfg, &result)
	}()
	result.FinishedAt = s.now()
	s.metrics.Duration.Record(ctx, float64(result.FinishedAt.Sub(started).Milliseconds()))

	if err != nil {
		result.Error = err.Error()
		s.recordRun(result)
		s.logf("sync %s failed: %v", result.RunID, err)
		s.metrics.Runs.Add(ctx, 1, telemetry.OutcomeAttr("failed"))
		s.events.Publish(Event{Type: EventRunFailed, RunID: result.RunID, Time: result.FinishedAt, Result: &result, Error: err.Error()})
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	if invErr := invalidator.Invalidate(ctx); invErr != nil {
		s.logf("sync %s: cache invalidation failed: %v", result.RunID, invErr)
	}
	s.recordRun(result)
	s.logf("sync %s completed in %s (%d mappings)", result.RunID, result.FinishedAt.Sub(started).Round(time.Millisecond), len(result.Mappings))
	s.metrics.Runs.Add(ctx, 1, telemetry.OutcomeAttr("success"))
	s.events.Publish(Event{Type: EventRunCompleted, RunID: result.RunID, Time: result.FinishedAt, Result: &result})
	return result, nil
}

func (s *Syncer) syncMappings(ctx context.Context, client Client, cfg *config.RunConfig, result *RunResult) error {
	gen := frontmatter.NewGenerator(frontmatter.Env{
		Preview:       cfg.Preview(),
		RedirectRoute: cfg.RedirectRoute,
		Location:      s.location,
	})
	for _, m := range cfg.Mappings {
		if err := ctx.Err(); err != nil {
			return err
		}
		mr, err := s.syncMapping(ctx, client, gen, m)
		result.Mappings = append(result.Mappings, mr)
		if err != nil {
			return err
		}
		s.events.Publish(Event{Type: EventMappingCompleted, RunID: result.RunID, Time: s.now(), Collection: m.Collection, Mapping: &mr})
	}
	return nil
}

func (s *Syncer) syncMapping(ctx context.Context, client Client, gen *frontmatter.Generator, m config.MappingConfig) (MappingResult, error) {
	res := MappingResult{Collection: m.Collection, Path: m.Path}
	ctx, span := s.tracer.Start(ctx, "contentmirror.mapping", trace.WithAttributes(
		attribute.String("collection", m.Collection),
		attribute.Int("depth", m.Depth),
	))
	defer span.End()
	fail := func(err error) (MappingResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}

	records, err := client.Fetch(ctx, m.Collection, m.Depth, m.Filter)
	if err != nil {
		return fail(&TransportError{Op: "fetch", Collection: m.Collection, Err: err})
	}
	res.Fetched = len(records)
	span.SetAttributes(attribute.Int("records", len(records)))

	seen := make(map[string]struct{}, len(records))
	for i := range records {
		rec := &records[i]
		backfilled, err := s.resolveSlug(ctx, client, rec, m)
		if err != nil {
			return fail(err)
		}
		if backfilled {
			res.Slugs++
			s.metrics.Slugs.Add(ctx, 1, telemetry.CollectionAttr(m.Collection))
		}

		doc := gen.ForRecord(*rec, m)
		switch doc.Kind {
		case frontmatter.KindNone:
			res.Skipped++
			continue
		case frontmatter.KindRedirect:
			res.Redirects++
		}
		if err := s.write(ctx, &res, doc.Content, rec.ID, m, ""); err != nil {
			return fail(err)
		}
		seen[filepath.Join(m.Path, rec.ID)] = struct{}{}

		for _, tr := range rec.Translations {
			if tr.LanguageCode == "" {
				s.logf("collection %s record %s: translation without language code skipped", m.Collection, rec.ID)
				continue
			}
			content := doc.Content
			if doc.Kind == frontmatter.KindFull {
				content = gen.ForTranslation(*rec, tr, m).Content
			}
			if err := s.write(ctx, &res, content, rec.ID, m, tr.LanguageCode); err != nil {
				return fail(err)
			}
			res.Translations++
		}
	}

	removed, err := s.reconciler.Sweep(m, seen)
	res.Removed = removed
	if len(removed) > 0 {
		s.metrics.Removed.Add(ctx, int64(len(removed)), telemetry.CollectionAttr(m.Collection))
		s.logf("collection %s: removed %d orphaned entries", m.Collection, len(removed))
	}
	if err != nil {
		return fail(err)
	}
	return res, nil
}

func (s *Syncer) write(ctx context.Context, res *MappingResult, content []byte, recordID string, m config.MappingConfig, lang string) error {
	changed, err := s.writer.Write(content, recordID, m, lang)
	if err != nil {
		return err
	}
	if !changed {
		res.Unchanged++
		return nil
	}
	res.Written++
	s.metrics.Written.Add(ctx, 1, telemetry.CollectionAttr(m.Collection))
	return nil
}

// release runs detached from ctx so a cancelled request still frees the lock.
// A run that outlived its TTL finds the lock reclaimed and leaves it alone.
func (s *Syncer) release(ctx context.Context, lease runlock.Lease, runID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err := s.lock.Release(ctx, lease)
	switch {
	case errors.Is(err, runlock.ErrLeaseLost):
		s.logf("sync %s: run lock was reclaimed by another run before release", runID)
	case err != nil:
		s.logf("sync %s: release run lock: %v", runID, err)
	}
}

func (s *Syncer) recordRun(result RunResult) {
	s.mu.Lock()
	s.lastRun = &result
	s.mu.Unlock()
}

func (s *Syncer) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
