// Package pipeline runs ingestion cycles: fetch every active source,
// extract and normalize its items, drop duplicates, persist, enrich,
// persist again and publish.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/TobiSchelling/NewsDesk/internal/config"
	"github.com/TobiSchelling/NewsDesk/internal/database"
	"github.com/TobiSchelling/NewsDesk/internal/dedupe"
	"github.com/TobiSchelling/NewsDesk/internal/enrich"
	"github.com/TobiSchelling/NewsDesk/internal/extract"
	"github.com/TobiSchelling/NewsDesk/internal/news"
	"github.com/TobiSchelling/NewsDesk/internal/normalize"
	"github.com/TobiSchelling/NewsDesk/internal/sink"
)

// ErrNoActiveSources is returned by a manually triggered cycle when the
// registry has no active source.
var ErrNoActiveSources = errors.New("no active sources configured")

// State is the orchestrator's position in a cycle.
type State int32

const (
	Idle State = iota
	FetchingFeeds
	Deduplicating
	PersistingRaw
	Enriching
	PersistingEnriched
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FetchingFeeds:
		return "fetching_feeds"
	case Deduplicating:
		return "deduplicating"
	case PersistingRaw:
		return "persisting_raw"
	case Enriching:
		return "enriching"
	case PersistingEnriched:
		return "persisting_enriched"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Trigger tells what started a cycle.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// Cycle outcomes stored on reports.
const (
	OutcomeOK        = "ok"
	OutcomeEmpty     = "empty"
	OutcomeNoSources = "no_sources"
	OutcomeFailed    = "failed"
)

// Store is the persistence the orchestrator reads from and writes to.
type Store interface {
	ActiveSources() ([]news.Source, error)
	RecentWindow(days int) ([]news.ExistingItem, error)
	AllIDs() (map[string]struct{}, error)
	UpsertNews(items []news.Candidate) error
	InsertCycleReport(r *database.CycleReport) error
}

// FeedSource reads one source's feed.
type FeedSource interface {
	FetchEntries(ctx context.Context, src news.Source) ([]news.FeedEntry, error)
}

// ContentExtractor produces the text of one entry.
type ContentExtractor interface {
	Extract(ctx context.Context, entry news.FeedEntry, src news.Source) extract.Result
}

// StepResult holds the result of a single cycle state.
type StepResult struct {
	Name     string
	Summary  string
	Duration time.Duration
	Err      error
}

// SourceFailure records a source that contributed nothing.
type SourceFailure struct {
	SourceID   string
	SourceName string
	Err        string
}

// Report describes one finished cycle.
type Report struct {
	database.CycleReport
	Steps    []StepResult
	Failures []SourceFailure
	// Items are the unique candidates as finally written.
	Items []news.Candidate
	// Shared is set for callers that joined a cycle already in flight.
	Shared bool
}

// Deps are the orchestrator's collaborators. Enricher and Sink are optional.
type Deps struct {
	Store     Store
	Fetcher   FeedSource
	Extractor ContentExtractor
	Enricher  enrich.Enricher
	Sink      sink.Sink
	Metrics   *Metrics
	Log       *slog.Logger
}

// Orchestrator drives ingestion cycles. At most one cycle runs at a time.
type Orchestrator struct {
	cfg        config.Ingest
	store      Store
	fetcher    FeedSource
	extractor  ContentExtractor
	normalizer *normalize.Normalizer
	dedupe     *dedupe.Deduplicator
	enricher   enrich.Enricher
	sink       sink.Sink
	metrics    *Metrics
	log        *slog.Logger

	flight   singleflight.Group
	inflight sync.WaitGroup
	state    atomic.Int32
	now    func() time.Time
}

// New creates an orchestrator.
func New(cfg config.Ingest, deps Deps) *Orchestrator {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		cfg:        cfg,
		store:      deps.Store,
		fetcher:    deps.Fetcher,
		extractor:  deps.Extractor,
		normalizer: normalize.New(cfg.SummaryLength),
		dedupe:     dedupe.New(cfg.SimilarityThreshold),
		enricher:   deps.Enricher,
		sink:       deps.Sink,
		metrics:    deps.Metrics,
		log:        log,
		now:        time.Now,
	}
}

// State returns the current cycle state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	o.metrics.setState(s)
}

// Run executes one cycle. A call made while a cycle is in flight waits for
// that cycle and returns its report with Shared set. The cycle itself is
// detached from ctx: a caller that gives up gets ctx's error while the
// cycle runs on for everyone else waiting on it.
func (o *Orchestrator) Run(ctx context.Context, trigger Trigger) (*Report, error) {
	leader := false
	o.inflight.Add(1)
	ch := o.flight.DoChan("cycle", func() (any, error) {
		leader = true
		return o.runCycle(context.WithoutCancel(ctx), trigger)
	})

	select {
	case res := <-ch:
		o.inflight.Done()
		r, _ := res.Val.(*Report)
		if r != nil && !leader {
			joined := *r
			joined.Shared = true
			r = &joined
		}
		return r, res.Err
	case <-ctx.Done():
		go func() {
			<-ch
			o.inflight.Done()
		}()
		return nil, ctx.Err()
	}
}

// Wait blocks until every cycle started through Run has finished,
// including cycles whose callers stopped waiting.
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

func (o *Orchestrator) runCycle(ctx context.Context, trigger Trigger) (*Report, error) {
	r := &Report{CycleReport: database.CycleReport{
		ID:        uuid.NewString(),
		Trigger:   string(trigger),
		StartedAt: o.now(),
	}}
	log := o.log.With("cycle", r.ID, "trigger", string(trigger))
	defer o.setState(Idle)

	// Snapshots for the whole cycle.
	sources, err := o.store.ActiveSources()
	if err != nil {
		return o.finish(log, r, OutcomeFailed, fmt.Errorf("loading active sources: %w", err))
	}
	r.ActiveSources = len(sources)
	if len(sources) == 0 {
		if trigger == TriggerManual {
			return o.finish(log, r, OutcomeNoSources, ErrNoActiveSources)
		}
		log.Info("no active sources, nothing to fetch")
		return o.finish(log, r, OutcomeNoSources, nil)
	}
	recent, err := o.store.RecentWindow(o.cfg.RecentWindowDays)
	if err != nil {
		return o.finish(log, r, OutcomeFailed, fmt.Errorf("loading recent window: %w", err))
	}
	known, err := o.store.AllIDs()
	if err != nil {
		return o.finish(log, r, OutcomeFailed, fmt.Errorf("loading known ids: %w", err))
	}

	var perSource [][]news.Candidate
	o.step(log, r, FetchingFeeds, func() (string, error) {
		perSource, r.Failures = o.fetchAll(ctx, sources)
		r.SourceCounts = make(map[string]int, len(sources))
		for i, src := range sources {
			r.SourceCounts[src.ID] = len(perSource[i])
			r.Fetched += len(perSource[i])
		}
		return fmt.Sprintf("%d candidates from %d sources, %d failed",
			r.Fetched, len(sources), len(r.Failures)), nil
	})

	var unique []news.Candidate
	o.step(log, r, Deduplicating, func() (string, error) {
		var merged []news.Candidate
		for _, items := range perSource {
			merged = append(merged, items...)
		}
		var stats dedupe.Stats
		unique, stats = o.dedupe.Dedupe(merged, recent, known)
		r.ExactDuplicates = stats.ExactDrops
		r.FuzzyDuplicates = stats.CorpusDrops + stats.BatchDrops
		r.Unique = len(unique)
		return fmt.Sprintf("%d unique (%d exact, %d against recent, %d within batch)",
			len(unique), stats.ExactDrops, stats.CorpusDrops, stats.BatchDrops), nil
	})

	if len(unique) == 0 {
		return o.finish(log, r, OutcomeEmpty, nil)
	}

	err = o.step(log, r, PersistingRaw, func() (string, error) {
		if err := o.store.UpsertNews(unique); err != nil {
			return "", fmt.Errorf("persisting raw candidates: %w", err)
		}
		return fmt.Sprintf("wrote %d items", len(unique)), nil
	})
	if err != nil {
		return o.finish(log, r, OutcomeFailed, err)
	}

	o.step(log, r, Enriching, func() (string, error) {
		if o.enricher == nil {
			return "skipped, no enricher configured", nil
		}
		sum := enrich.Run(ctx, o.enricher, unique, o.cfg.EnrichmentBatchSize, log)
		r.Enriched = sum.Enriched
		return fmt.Sprintf("%d enriched (%d urgent) in %d batches, %d failed",
			sum.Enriched, sum.Urgent, sum.Batches, sum.Failed), nil
	})

	err = o.step(log, r, PersistingEnriched, func() (string, error) {
		if err := o.store.UpsertNews(unique); err != nil {
			return "", fmt.Errorf("persisting enriched candidates: %w", err)
		}
		summary := fmt.Sprintf("wrote %d items", len(unique))
		if o.sink != nil {
			if err := o.sink.Publish(ctx, unique); err != nil {
				summary += ", publish failed: " + err.Error()
			} else {
				summary += ", published to " + o.sink.Name()
			}
		}
		return summary, nil
	})
	r.Items = unique
	if err != nil {
		return o.finish(log, r, OutcomeFailed, err)
	}
	return o.finish(log, r, OutcomeOK, nil)
}

// step runs fn as state s and appends its trace to the report.
func (o *Orchestrator) step(log *slog.Logger, r *Report, s State, fn func() (string, error)) error {
	o.setState(s)
	start := o.now()
	summary, err := fn()
	res := StepResult{Name: s.String(), Summary: summary, Duration: o.now().Sub(start), Err: err}
	r.Steps = append(r.Steps, res)
	if err != nil {
		log.Error("cycle step failed", "state", res.Name, "err", err)
	} else {
		log.Debug("cycle step done", "state", res.Name, "summary", summary, "duration", res.Duration)
	}
	return err
}

func (o *Orchestrator) finish(log *slog.Logger, r *Report, outcome string, err error) (*Report, error) {
	r.Outcome = outcome
	r.FinishedAt = o.now()
	if err != nil {
		r.Error = err.Error()
	}
	r.BodyMarkdown = renderMarkdown(r)

	if serr := o.store.InsertCycleReport(&r.CycleReport); serr != nil {
		log.Warn("storing cycle report failed", "err", serr)
	}
	o.metrics.observe(r)

	log.Info("cycle finished",
		"outcome", outcome,
		"sources", r.ActiveSources,
		"fetched", r.Fetched,
		"exact_dupes", r.ExactDuplicates,
		"fuzzy_dupes", r.FuzzyDuplicates,
		"unique", r.Unique,
		"enriched", r.Enriched,
		"duration", r.Duration().Round(time.Millisecond),
	)
	return r, err
}

type sourceResult struct {
	candidates []news.Candidate
	failure    *SourceFailure
}

// fetchAll collects every source concurrently. Results keep source order.
func (o *Orchestrator) fetchAll(ctx context.Context, sources []news.Source) ([][]news.Candidate, []SourceFailure) {
	results := make([]sourceResult, len(sources))

	var g errgroup.Group
	g.SetLimit(max(o.cfg.SourceConcurrency, 1))
	for i, src := range sources {
		g.Go(func() error {
			results[i] = o.collectSource(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	perSource := make([][]news.Candidate, len(sources))
	var failures []SourceFailure
	for i, res := range results {
		perSource[i] = res.candidates
		if res.failure != nil {
			failures = append(failures, *res.failure)
			o.metrics.sourceFailed(res.failure.SourceID)
		}
	}
	return perSource, failures
}

// collectSource fetches, extracts and normalizes one source. Any failure,
// including a panic, yields an empty contribution.
func (o *Orchestrator) collectSource(ctx context.Context, src news.Source) (res sourceResult) {
	fail := func(err error) sourceResult {
		o.log.Warn("source skipped this cycle", "source", src.ID, "name", src.Name, "err", err)
		return sourceResult{failure: &SourceFailure{SourceID: src.ID, SourceName: src.Name, Err: err.Error()}}
	}
	defer func() {
		if p := recover(); p != nil {
			res = fail(fmt.Errorf("panic: %v", p))
		}
	}()

	entries, err := o.fetcher.FetchEntries(ctx, src)
	if err != nil {
		return fail(err)
	}

	candidates := make([]news.Candidate, len(entries))
	var g errgroup.Group
	g.SetLimit(max(o.cfg.ItemConcurrency, 1))
	for i, entry := range entries {
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("panic extracting %s: %v", entry.Link, p)
				}
			}()
			content := o.extractor.Extract(ctx, entry, src)
			o.log.Debug("content extracted", "source", src.ID, "url", entry.Link, "strategy", string(content.Strategy))
			candidates[i] = o.normalizer.Normalize(entry, content.Content, src)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fail(err)
	}
	return sourceResult{candidates: candidates}
}
