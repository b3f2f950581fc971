package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TobiSchelling/NewsDesk/internal/collect"
	"github.com/TobiSchelling/NewsDesk/internal/database"
	"github.com/TobiSchelling/NewsDesk/internal/news"
	"github.com/TobiSchelling/NewsDesk/internal/pipeline"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newServer(t *testing.T, db *database.DB, opts Options) *Server {
	t.Helper()
	opts.Log = quiet
	srv, err := New(db, opts)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func do(srv *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func seedItem(t *testing.T, db *database.DB, id, title string, urgent bool) {
	t.Helper()
	tags := []string{"سياسة"}
	if urgent {
		tags = append(tags, news.UrgentTag)
	}
	err := db.UpsertNews([]news.Candidate{{
		ID:          id,
		SourceID:    "1",
		SourceName:  "مأرب برس",
		OriginalURL: "https://marebpress.net/" + id,
		Title:       title,
		Summary:     "ملخص " + title,
		Content:     "المحتوى الكامل " + title,
		Tags:        tags,
		ImageType:   news.ImageLogo,
		PublishedAt: time.Now().Add(-time.Hour),
		Urgent:      urgent,
	}})
	if err != nil {
		t.Fatalf("seeding item: %v", err)
	}
}

type stubRefresher struct {
	report *pipeline.Report
	err    error
	calls  int
}

func (s *stubRefresher) TriggerNow(context.Context) (*pipeline.Report, error) {
	s.calls++
	return s.report, s.err
}

type stubHealth struct{}

func (stubHealth) CheckHealth(_ context.Context, sources []news.Source) []collect.SourceHealth {
	out := make([]collect.SourceHealth, len(sources))
	for i, src := range sources {
		out[i] = collect.SourceHealth{SourceID: src.ID, SourceName: src.Name, Status: collect.HealthEmpty}
	}
	return out
}

func TestIndexRoute(t *testing.T) {
	db := openTestDB(t)
	seedItem(t, db, "news_1", "انفجار في صنعاء", true)
	seedItem(t, db, "news_2", "افتتاح مستشفى جديد", false)
	srv := newServer(t, db, Options{})

	rec := do(srv, "GET", "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Latest News") {
		t.Error("expected 'Latest News' in response body")
	}
	if !strings.Contains(body, "انفجار في صنعاء") || !strings.Contains(body, "card urgent") {
		t.Error("expected the urgent item to be rendered as urgent")
	}

	rec = do(srv, "GET", "/?q="+url.QueryEscape("مستشفى"))
	if strings.Contains(rec.Body.String(), "انفجار في صنعاء") {
		t.Error("search filter should exclude non-matching items")
	}
}

func TestIndexEmpty(t *testing.T) {
	srv := newServer(t, openTestDB(t), Options{})
	rec := do(srv, "GET", "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No news yet") {
		t.Error("expected empty state")
	}
}

func TestArticleRouteCountsViews(t *testing.T) {
	db := openTestDB(t)
	seedItem(t, db, "news_1", "انفجار في صنعاء", false)
	srv := newServer(t, db, Options{})

	rec := do(srv, "GET", "/news/news_1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "المحتوى الكامل") {
		t.Error("expected article content")
	}

	if rec := do(srv, "GET", "/news/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing item, got %d", rec.Code)
	}

	item, _ := db.GetNews("news_1")
	if item.Views != 1 {
		t.Errorf("expected 1 view, got %d", item.Views)
	}
}

func TestViewRoute(t *testing.T) {
	db := openTestDB(t)
	seedItem(t, db, "news_1", "a", false)
	srv := newServer(t, db, Options{})

	do(srv, "POST", "/news/news_1/view")
	rec := do(srv, "POST", "/news/news_1/view")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got struct {
		ID    string `json:"id"`
		Views int    `json:"views"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got.Views != 2 {
		t.Errorf("expected 2 views, got %d", got.Views)
	}

	if rec := do(srv, "POST", "/news/missing/view"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := do(srv, "GET", "/news/news_1/view"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET, got %d", rec.Code)
	}
}

func TestRefreshRoute(t *testing.T) {
	db := openTestDB(t)

	srv := newServer(t, db, Options{})
	if rec := do(srv, "POST", "/refresh"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without refresher, got %d", rec.Code)
	}

	ref := &stubRefresher{report: &pipeline.Report{CycleReport: database.CycleReport{ID: "abc"}}}
	srv = newServer(t, db, Options{Refresher: ref})
	rec := do(srv, "POST", "/refresh")
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/reports/abc" {
		t.Errorf("expected redirect to report, got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	ref = &stubRefresher{report: &pipeline.Report{}, err: pipeline.ErrNoActiveSources}
	srv = newServer(t, db, Options{Refresher: ref})
	rec = do(srv, "POST", "/refresh")
	if loc := rec.Header().Get("Location"); loc != "/?notice=no_sources" {
		t.Errorf("expected no-sources notice redirect, got %q", loc)
	}

	ref = &stubRefresher{err: errors.New("database is locked")}
	srv = newServer(t, db, Options{Refresher: ref})
	if rec := do(srv, "POST", "/refresh"); rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestNoSourcesNotice(t *testing.T) {
	srv := newServer(t, openTestDB(t), Options{})
	rec := do(srv, "GET", "/?notice=no_sources")
	if !strings.Contains(rec.Body.String(), "لا توجد مصادر مفعّلة") {
		t.Error("expected no-sources notice")
	}
}

func TestReportRoutes(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()
	err := db.InsertCycleReport(&database.CycleReport{
		ID: "r1", Trigger: "manual", Outcome: "ok",
		StartedAt: now.Add(-time.Minute), FinishedAt: now,
		Fetched: 12, Unique: 3,
		BodyMarkdown: "# Cycle\n\n| Stage | Items |\n|---|---:|\n| Unique | 3 |\n",
	})
	if err != nil {
		t.Fatalf("InsertCycleReport: %v", err)
	}
	srv := newServer(t, db, Options{})

	rec := do(srv, "GET", "/reports")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/reports/r1") {
		t.Errorf("expected report list linking r1, got %d", rec.Code)
	}

	rec = do(srv, "GET", "/reports/r1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<h1>Cycle</h1>") || !strings.Contains(body, "<table>") {
		t.Error("expected markdown to be rendered to HTML")
	}

	if rec := do(srv, "GET", "/reports/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestSourcesRoute(t *testing.T) {
	db := openTestDB(t)
	_, _ = db.SeedSources([]news.Source{
		{ID: "1", Name: "مأرب برس", URL: "https://marebpress.net/rss.php", Kind: news.KindRSS, Active: true},
		{ID: "2", Name: "عدن الغد", URL: "https://adengad.net/rss", Kind: news.KindRSS, Selector: news.CSS(".entry"), Active: false},
	})
	srv := newServer(t, db, Options{Health: stubHealth{}})

	rec := do(srv, "GET", "/sources")
	body := rec.Body.String()
	if rec.Code != http.StatusOK || !strings.Contains(body, "marebpress.net") || !strings.Contains(body, ".entry") {
		t.Errorf("expected source table, got %d", rec.Code)
	}
	if strings.Contains(body, "status-empty") {
		t.Error("health must only run on request")
	}

	rec = do(srv, "GET", "/sources?check=1")
	if !strings.Contains(rec.Body.String(), "status-empty") {
		t.Error("expected health results")
	}
}

func TestMetricsAndHealthz(t *testing.T) {
	db := openTestDB(t)
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "newsdesk_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv := newServer(t, db, Options{Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})})

	rec := do(srv, "GET", "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "newsdesk_test_total 1") {
		t.Errorf("expected metrics exposition, got %d", rec.Code)
	}

	rec = do(srv, "GET", "/healthz")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected healthz response %d %s", rec.Code, rec.Body.String())
	}
}

func TestStaticRoute(t *testing.T) {
	srv := newServer(t, openTestDB(t), Options{})

	rec := do(srv, "GET", "/static/style.css")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "font-sans") {
		t.Error("expected CSS content")
	}
}
