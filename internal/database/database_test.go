package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/TobiSchelling/NewsDesk/internal/news"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func candidate(id, title string, published time.Time) news.Candidate {
	return news.Candidate{
		ID:          id,
		SourceID:    "1",
		SourceName:  "مأرب برس",
		OriginalURL: "https://marebpress.net/" + id,
		Title:       title,
		Summary:     "summary of " + title,
		Content:     "content of " + title,
		Tags:        []string{news.PlaceholderTag},
		ImageType:   news.ImageLogo,
		PublishedAt: published,
	}
}

func TestUpsertNewsInsertsAndUpdates(t *testing.T) {
	db := openTestDB(t)

	c := candidate("news_a", "First title", testNow)
	if err := db.UpsertNews([]news.Candidate{c}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	c.Title = "Updated title"
	c.Tags = []string{"سياسة", news.UrgentTag}
	c.Urgent = true
	if err := db.UpsertNews([]news.Candidate{c}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := db.GetNews("news_a")
	if err != nil || got == nil {
		t.Fatalf("GetNews: %v, %v", got, err)
	}
	if got.Title != "Updated title" {
		t.Errorf("expected updated title, got %q", got.Title)
	}
	if len(got.Tags) != 2 || got.Tags[1] != news.UrgentTag {
		t.Errorf("unexpected tags %v", got.Tags)
	}
	if !got.Urgent {
		t.Error("expected urgent flag")
	}
	if !got.PublishedAt.Equal(testNow) {
		t.Errorf("published_at round trip: got %v", got.PublishedAt)
	}

	ids, err := db.AllIDs()
	if err != nil {
		t.Fatalf("AllIDs: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("expected 1 id, got %d", len(ids))
	}
}

func TestUpsertPreservesViews(t *testing.T) {
	db := openTestDB(t)
	c := candidate("news_v", "Viewed", testNow)
	_ = db.UpsertNews([]news.Candidate{c})

	for range 3 {
		if ok, err := db.IncrementViews("news_v"); err != nil || !ok {
			t.Fatalf("IncrementViews: %v %v", ok, err)
		}
	}

	// A re-emitted candidate carries views=0 and must not reset the counter.
	if err := db.UpsertNews([]news.Candidate{c}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ := db.GetNews("news_v")
	if got.Views != 3 {
		t.Errorf("expected 3 views, got %d", got.Views)
	}

	if ok, _ := db.IncrementViews("missing"); ok {
		t.Error("expected IncrementViews to report missing item")
	}
}

func TestRecentWindow(t *testing.T) {
	db := openTestDB(t)
	db.now = func() time.Time { return testNow }

	_ = db.UpsertNews([]news.Candidate{
		candidate("news_new", "two days old", testNow.Add(-48*time.Hour)),
		candidate("news_old", "five days old", testNow.Add(-5*24*time.Hour)),
	})

	items, err := db.RecentWindow(3)
	if err != nil {
		t.Fatalf("RecentWindow: %v", err)
	}
	if len(items) != 1 || items[0].ID != "news_new" {
		t.Fatalf("expected only the recent item, got %+v", items)
	}
	if items[0].Summary != "summary of two days old" {
		t.Errorf("unexpected summary %q", items[0].Summary)
	}
}

func TestListNews(t *testing.T) {
	db := openTestDB(t)

	a := candidate("news_1", "انفجار في صنعاء", testNow.Add(-time.Hour))
	b := candidate("news_2", "ارتفاع الأسعار", testNow)
	b.SourceID = "2"
	_ = db.UpsertNews([]news.Candidate{a, b})

	all, err := db.ListNews(ListOptions{})
	if err != nil {
		t.Fatalf("ListNews: %v", err)
	}
	if len(all) != 2 || all[0].ID != "news_2" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	bySource, _ := db.ListNews(ListOptions{SourceID: "2"})
	if len(bySource) != 1 || bySource[0].ID != "news_2" {
		t.Errorf("source filter: %+v", bySource)
	}

	bySearch, _ := db.ListNews(ListOptions{Search: "صنعاء"})
	if len(bySearch) != 1 || bySearch[0].ID != "news_1" {
		t.Errorf("search filter: %+v", bySearch)
	}

	limited, _ := db.ListNews(ListOptions{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("limit: got %d", len(limited))
	}
}

func TestClearNews(t *testing.T) {
	db := openTestDB(t)
	_ = db.UpsertNews([]news.Candidate{
		candidate("news_1", "a", testNow),
		candidate("news_2", "b", testNow),
	})

	n, err := db.ClearNews()
	if err != nil {
		t.Fatalf("ClearNews: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	ids, _ := db.AllIDs()
	if len(ids) != 0 {
		t.Errorf("expected empty store, got %d ids", len(ids))
	}
}

func TestSourcesRegistry(t *testing.T) {
	db := openTestDB(t)

	seeds := []news.Source{
		{ID: "1", Name: "One", URL: "https://one.example/rss", Kind: news.KindRSS, Active: true},
		{ID: "2", Name: "Two", URL: "https://two.example/rss", Kind: news.KindXML, Selector: news.XPath("//div[@id='body']"), Active: true},
		{ID: "3", Name: "Three", URL: "https://three.example/rss", Kind: news.KindRSS, Selector: news.CSS(".entry"), Active: false},
	}
	n, err := db.SeedSources(seeds)
	if err != nil || n != 3 {
		t.Fatalf("SeedSources: %d %v", n, err)
	}

	// Seeding is a no-op once the registry has entries.
	if n, _ := db.SeedSources(seeds[:1]); n != 0 {
		t.Errorf("expected no reseed, got %d", n)
	}

	all, _ := db.Sources()
	if len(all) != 3 || all[0].ID != "1" || all[2].ID != "3" {
		t.Fatalf("expected registry order, got %+v", all)
	}
	if all[1].Selector.Kind != news.SelectorXPath || all[1].Kind != news.KindXML {
		t.Errorf("source 2 round trip: %+v", all[1])
	}

	active, _ := db.ActiveSources()
	if len(active) != 2 {
		t.Errorf("expected 2 active, got %d", len(active))
	}

	if err := db.SetSourceActive("3", true); err != nil {
		t.Fatalf("SetSourceActive: %v", err)
	}
	if err := db.SetSourceActive("missing", true); err == nil {
		t.Error("expected error toggling a missing source")
	}
	if err := db.DeleteSource("1"); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	active, _ = db.ActiveSources()
	if len(active) != 2 || active[0].ID != "2" {
		t.Errorf("after toggle and delete: %+v", active)
	}
}

func TestInvalidStoredSelectorIsIgnored(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.conn.Exec(
		`INSERT INTO sources (id, name, url, type, content_selector, active) VALUES ('x', 'X', 'https://x', 'rss', 'div[', 1)`,
	); err != nil {
		t.Fatalf("insert: %v", err)
	}

	src, err := db.GetSource("x")
	if err != nil || src == nil {
		t.Fatalf("GetSource: %v %v", src, err)
	}
	if !src.Selector.IsZero() {
		t.Errorf("expected invalid selector to be dropped, got %+v", src.Selector)
	}
}

func TestCycleReports(t *testing.T) {
	db := openTestDB(t)

	first := &CycleReport{
		ID: "r1", Trigger: "scheduled", Outcome: "ok",
		StartedAt: testNow.Add(-time.Hour), FinishedAt: testNow.Add(-time.Hour + 5*time.Second),
		ActiveSources: 8, Fetched: 60, ExactDuplicates: 40, FuzzyDuplicates: 5, Unique: 15, Enriched: 15,
		SourceCounts: map[string]int{"1": 10, "2": 0},
		BodyMarkdown: "# Cycle",
	}
	second := &CycleReport{ID: "r2", Trigger: "manual", Outcome: "no_sources", StartedAt: testNow, FinishedAt: testNow, Error: "no active sources"}

	for _, r := range []*CycleReport{first, second} {
		if err := db.InsertCycleReport(r); err != nil {
			t.Fatalf("InsertCycleReport: %v", err)
		}
	}

	latest, err := db.LatestCycleReport()
	if err != nil || latest == nil || latest.ID != "r2" {
		t.Fatalf("LatestCycleReport: %+v %v", latest, err)
	}
	if latest.Error != "no active sources" {
		t.Errorf("error round trip: %q", latest.Error)
	}

	got, _ := db.GetCycleReport("r1")
	if got == nil || got.SourceCounts["1"] != 10 || got.Duration() != 5*time.Second {
		t.Errorf("report round trip: %+v", got)
	}

	all, _ := db.ListCycleReports(0)
	if len(all) != 2 {
		t.Errorf("expected 2 reports, got %d", len(all))
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	_, _ = db.SeedSources([]news.Source{{ID: "1", Name: "One", URL: "https://one", Kind: news.KindRSS, Active: true}})
	c := candidate("news_1", "a", testNow)
	c.Urgent = true
	_ = db.UpsertNews([]news.Candidate{c, candidate("news_2", "b", testNow)})
	_, _ = db.IncrementViews("news_1")

	s, err := db.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if s.TotalNews != 2 || s.UrgentNews != 1 || s.TotalViews != 1 || s.ActiveSources != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
	if s.LatestItem == "" {
		t.Error("expected latest item timestamp")
	}
}
