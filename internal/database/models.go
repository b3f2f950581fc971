package database

import "time"

// CycleReport records the outcome of one ingestion cycle.
type CycleReport struct {
	ID              string
	Trigger         string // "scheduled" or "manual"
	Outcome         string // "ok", "empty", "no_sources" or "failed"
	StartedAt       time.Time
	FinishedAt      time.Time
	ActiveSources   int
	Fetched         int
	ExactDuplicates int
	FuzzyDuplicates int
	Unique          int
	Enriched        int
	SourceCounts    map[string]int
	Error           string
	BodyMarkdown    string
}

// Duration is the wall time the cycle took.
func (r CycleReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ListOptions filters ListNews.
type ListOptions struct {
	Limit    int
	SourceID string
	Search   string // substring of title or summary
	Since    time.Time
}

// Stats contains aggregate database statistics.
type Stats struct {
	TotalNews     int
	UrgentNews    int
	TotalViews    int
	TotalSources  int
	ActiveSources int
	CycleReports  int
	LatestItem    string
}
