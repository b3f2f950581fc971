package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/NewsDesk/internal/config"
	"github.com/TobiSchelling/NewsDesk/internal/database"
	"github.com/TobiSchelling/NewsDesk/internal/enrich"
	"github.com/TobiSchelling/NewsDesk/internal/extract"
	"github.com/TobiSchelling/NewsDesk/internal/news"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testIngest() config.Ingest {
	return config.Ingest{
		MaxItemsPerFeed:     10,
		SimilarityThreshold: 0.6,
		RecentWindowDays:    3,
		SummaryLength:       200,
		EnrichmentBatchSize: 15,
		SourceConcurrency:   8,
		ItemConcurrency:     4,
	}
}

func source(id string) news.Source {
	return news.Source{ID: id, Name: "Source " + id, URL: "https://" + id + ".example/rss", Kind: news.KindRSS, Active: true}
}

func entry(sourceID, slug, title string) news.FeedEntry {
	return news.FeedEntry{
		Title:       title,
		Link:        "https://" + sourceID + ".example/" + slug,
		PublishedAt: time.Now().Add(-time.Hour),
	}
}

// fakeFetcher serves fixed entries per source id.
type fakeFetcher struct {
	mu      sync.Mutex
	feeds   map[string][]news.FeedEntry
	errs    map[string]error
	calls   int
	release chan struct{}
}

func (f *fakeFetcher) FetchEntries(ctx context.Context, src news.Source) ([]news.FeedEntry, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	if err := f.errs[src.ID]; err != nil {
		return nil, err
	}
	return f.feeds[src.ID], nil
}

// descriptionExtractor uses the feed description as content.
type descriptionExtractor struct{}

func (descriptionExtractor) Extract(_ context.Context, e news.FeedEntry, _ news.Source) extract.Result {
	return extract.Result{Content: e.Description, Strategy: extract.StrategyDescription}
}

type batchRecorder struct {
	mu    sync.Mutex
	sizes []int
}

func (b *batchRecorder) Enrich(_ context.Context, items []enrich.Item) ([]enrich.Result, error) {
	b.mu.Lock()
	b.sizes = append(b.sizes, len(items))
	b.mu.Unlock()
	out := make([]enrich.Result, len(items))
	for i, it := range items {
		out[i] = enrich.Result{ID: it.ID, Tags: []string{"محليات"}, IsUrgent: i == 0}
	}
	return out, nil
}

type recordingSink struct {
	published []news.Candidate
}

func (s *recordingSink) Name() string { return "recording" }
func (s *recordingSink) Publish(_ context.Context, items []news.Candidate) error {
	s.published = append(s.published, items...)
	return nil
}
func (s *recordingSink) Close() error { return nil }

func newOrchestrator(t *testing.T, db *database.DB, f *fakeFetcher, sources ...news.Source) *Orchestrator {
	t.Helper()
	_, err := db.SeedSources(sources)
	require.NoError(t, err)
	return New(testIngest(), Deps{
		Store:     db,
		Fetcher:   f,
		Extractor: descriptionExtractor{},
		Log:       quiet,
	})
}

func ids(items []news.Candidate) []string {
	out := make([]string, len(items))
	for i, c := range items {
		out[i] = c.OriginalURL
	}
	return out
}

func TestRunSourceIsolation(t *testing.T) {
	db := openTestDB(t)
	f := &fakeFetcher{
		feeds: map[string][]news.FeedEntry{
			"a": {entry("a", "1", "افتتاح مستشفى جديد في عدن")},
			"c": {entry("c", "1", "ارتفاع أسعار الوقود في تعز")},
		},
		errs: map[string]error{"b": errors.New("connection timed out")},
	}
	o := newOrchestrator(t, db, f, source("a"), source("b"), source("c"))

	r, err := o.Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, r.Outcome)
	require.Equal(t, []string{"https://a.example/1", "https://c.example/1"}, ids(r.Items))
	require.Len(t, r.Failures, 1)
	require.Equal(t, "b", r.Failures[0].SourceID)
	require.Equal(t, map[string]int{"a": 1, "b": 0, "c": 1}, r.SourceCounts)
	require.Equal(t, Idle, o.State())

	stored, err := db.AllIDs()
	require.NoError(t, err)
	require.Len(t, stored, 2)
}

func TestRunIntraBatchFirstSourceWins(t *testing.T) {
	db := openTestDB(t)
	f := &fakeFetcher{feeds: map[string][]news.FeedEntry{
		"a": {entry("a", "x", "انفجار في صنعاء")},
		"b": {entry("b", "y", "وقوع انفجار في صنعاء")},
	}}
	o := newOrchestrator(t, db, f, source("a"), source("b"))

	r, err := o.Run(context.Background(), TriggerScheduled)
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example/x"}, ids(r.Items))
	require.Equal(t, 1, r.FuzzyDuplicates)
}

func TestRunRecentCorpusScenario(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.UpsertNews([]news.Candidate{{
		ID:          "news_existing",
		SourceID:    "a",
		SourceName:  "Source a",
		OriginalURL: "https://a.example/old",
		Title:       "ارتفاع الأسعار",
		Tags:        []string{news.PlaceholderTag},
		ImageType:   news.ImageLogo,
		PublishedAt: time.Now().Add(-48 * time.Hour),
	}}))

	f := &fakeFetcher{feeds: map[string][]news.FeedEntry{
		"a": {
			entry("a", "rewrite", "ارتفاع كبير في الأسعار"),
			entry("a", "new", "افتتاح مستشفى جديد"),
		},
	}}
	o := newOrchestrator(t, db, f, source("a"))

	r, err := o.Run(context.Background(), TriggerScheduled)
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example/new"}, ids(r.Items))
	require.Equal(t, 1, r.FuzzyDuplicates)
}

func TestRunSecondCycleDropsKnownIDs(t *testing.T) {
	db := openTestDB(t)
	f := &fakeFetcher{feeds: map[string][]news.FeedEntry{
		"a": {entry("a", "1", "alpha one story"), entry("a", "2", "bravo two report")},
	}}
	o := newOrchestrator(t, db, f, source("a"))

	first, err := o.Run(context.Background(), TriggerScheduled)
	require.NoError(t, err)
	require.Equal(t, 2, first.Unique)

	second, err := o.Run(context.Background(), TriggerScheduled)
	require.NoError(t, err)
	require.Equal(t, OutcomeEmpty, second.Outcome)
	require.Equal(t, 2, second.ExactDuplicates)
	require.NotEqual(t, first.ID, second.ID)

	reports, err := db.ListCycleReports(0)
	require.NoError(t, err)
	require.Len(t, reports, 2)
}

func TestRunEnrichesInCappedBatches(t *testing.T) {
	db := openTestDB(t)
	feeds := map[string][]news.FeedEntry{}
	for _, src := range []string{"a", "b"} {
		for i := range 10 {
			title := fmt.Sprintf("%s%02dword %s%02dterm", src, i, src, i)
			feeds[src] = append(feeds[src], entry(src, fmt.Sprint(i), title))
		}
	}
	rec := &batchRecorder{}
	sk := &recordingSink{}

	_, err := db.SeedSources([]news.Source{source("a"), source("b")})
	require.NoError(t, err)
	o := New(testIngest(), Deps{
		Store:     db,
		Fetcher:   &fakeFetcher{feeds: feeds},
		Extractor: descriptionExtractor{},
		Enricher:  rec,
		Sink:      sk,
		Log:       quiet,
	})

	r, err := o.Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.Equal(t, 20, r.Unique)
	require.Equal(t, 20, r.Enriched)
	require.Equal(t, []int{15, 5}, rec.sizes)
	require.Len(t, sk.published, 20)

	stored, err := db.GetNews(r.Items[0].ID)
	require.NoError(t, err)
	require.Equal(t, []string{"محليات", news.UrgentTag}, stored.Tags)
	require.True(t, stored.Urgent)

	other, err := db.GetNews(r.Items[1].ID)
	require.NoError(t, err)
	require.Equal(t, []string{"محليات"}, other.Tags)
}

func TestRunNoActiveSources(t *testing.T) {
	db := openTestDB(t)
	o := newOrchestrator(t, db, &fakeFetcher{})

	r, err := o.Run(context.Background(), TriggerManual)
	require.ErrorIs(t, err, ErrNoActiveSources)
	require.Equal(t, OutcomeNoSources, r.Outcome)

	r, err = o.Run(context.Background(), TriggerScheduled)
	require.NoError(t, err)
	require.Equal(t, OutcomeNoSources, r.Outcome)
	require.Empty(t, r.Error)
}

func TestRunJoinsInFlightCycle(t *testing.T) {
	db := openTestDB(t)
	f := &fakeFetcher{
		feeds:   map[string][]news.FeedEntry{"a": {entry("a", "1", "alpha one story")}},
		release: make(chan struct{}),
	}
	o := newOrchestrator(t, db, f, source("a"))

	type result struct {
		r   *Report
		err error
	}
	results := make(chan result, 2)
	go func() {
		r, err := o.Run(context.Background(), TriggerScheduled)
		results <- result{r, err}
	}()
	require.Eventually(t, func() bool { return o.State() == FetchingFeeds }, time.Second, 5*time.Millisecond)

	go func() {
		r, err := o.Run(context.Background(), TriggerManual)
		results <- result{r, err}
	}()
	time.Sleep(100 * time.Millisecond)
	close(f.release)

	a, b := <-results, <-results
	require.NoError(t, a.err)
	require.NoError(t, b.err)
	require.Equal(t, a.r.ID, b.r.ID)
	require.True(t, a.r.Shared != b.r.Shared, "exactly one caller joined")
	require.Equal(t, 1, f.calls)
}

func TestRunCancelledLeaderDoesNotAbortJoiners(t *testing.T) {
	db := openTestDB(t)
	f := &fakeFetcher{
		feeds:   map[string][]news.FeedEntry{"a": {entry("a", "1", "alpha one story"), entry("a", "2", "beta two story")}},
		release: make(chan struct{}),
	}
	o := newOrchestrator(t, db, f, source("a"))

	ctx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := o.Run(ctx, TriggerManual)
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return o.State() == FetchingFeeds }, time.Second, 5*time.Millisecond)

	type result struct {
		r   *Report
		err error
	}
	joined := make(chan result, 1)
	go func() {
		r, err := o.Run(context.Background(), TriggerScheduled)
		joined <- result{r, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-leaderErr, context.Canceled)
	close(f.release)

	got := <-joined
	require.NoError(t, got.err)
	require.True(t, got.r.Shared)
	require.Equal(t, OutcomeOK, got.r.Outcome)
	require.Equal(t, 2, got.r.Unique)
	require.Empty(t, got.r.Failures)

	o.Wait()
	require.Equal(t, Idle, o.State())
	stored, err := db.AllIDs()
	require.NoError(t, err)
	require.Len(t, stored, 2)
}

func TestRunRecordsMetrics(t *testing.T) {
	db := openTestDB(t)
	_, err := db.SeedSources([]news.Source{source("a"), source("b")})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	o := New(testIngest(), Deps{
		Store: db,
		Fetcher: &fakeFetcher{
			feeds: map[string][]news.FeedEntry{"a": {entry("a", "1", "alpha one story")}},
			errs:  map[string]error{"b": errors.New("503")},
		},
		Extractor: descriptionExtractor{},
		Metrics:   m,
		Log:       quiet,
	})

	_, err = o.Run(context.Background(), TriggerManual)
	require.NoError(t, err)

	require.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues("manual", OutcomeOK)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.candidates.WithLabelValues("unique")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.sourceFailures.WithLabelValues("b")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.state))
}

func TestReportMarkdown(t *testing.T) {
	db := openTestDB(t)
	f := &fakeFetcher{
		feeds: map[string][]news.FeedEntry{"a": {entry("a", "1", "alpha one story")}},
		errs:  map[string]error{"b": errors.New("parse feed: unexpected EOF")},
	}
	o := newOrchestrator(t, db, f, source("a"), source("b"))

	r, err := o.Run(context.Background(), TriggerManual)
	require.NoError(t, err)

	stored, err := db.GetCycleReport(r.ID)
	require.NoError(t, err)
	body := stored.BodyMarkdown
	require.Contains(t, body, "**Outcome:** ok")
	require.Contains(t, body, "`fetching_feeds`")
	require.Contains(t, body, "`persisting_enriched`")
	require.Contains(t, body, "## Failed sources")
	require.True(t, strings.Contains(body, "unexpected EOF"))
	require.Len(t, r.Steps, 5)
}

// panickingExtractor panics for every entry of one source.
type panickingExtractor struct{ sourceID string }

func (p panickingExtractor) Extract(ctx context.Context, e news.FeedEntry, src news.Source) extract.Result {
	if src.ID == p.sourceID {
		panic("selector engine blew up")
	}
	return descriptionExtractor{}.Extract(ctx, e, src)
}

func TestRunExtractorPanicIsolatesSource(t *testing.T) {
	db := openTestDB(t)
	f := &fakeFetcher{feeds: map[string][]news.FeedEntry{
		"a": {entry("a", "1", "افتتاح مستشفى جديد في عدن")},
		"b": {entry("b", "1", "ارتفاع أسعار الوقود في صنعاء")},
	}}
	_, err := db.SeedSources([]news.Source{source("a"), source("b")})
	require.NoError(t, err)
	o := New(testIngest(), Deps{Store: db, Fetcher: f, Extractor: panickingExtractor{sourceID: "b"}, Log: quiet})

	r, err := o.Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, r.Outcome)
	require.Equal(t, []string{"https://a.example/1"}, ids(r.Items))
	require.Len(t, r.Failures, 1)
	require.Equal(t, "b", r.Failures[0].SourceID)
	require.Contains(t, r.Failures[0].Err, "panic")
}
