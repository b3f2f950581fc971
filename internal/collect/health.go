package collect

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/NewsDesk/internal/news"
)

// HealthStatus classifies the outcome of a diagnostic feed fetch.
type HealthStatus string

const (
	HealthSuccess HealthStatus = "success"
	HealthEmpty   HealthStatus = "empty"
	HealthError   HealthStatus = "error"
)

// SourceHealth is the diagnostic result for one source.
type SourceHealth struct {
	SourceID   string
	SourceName string
	Count      int
	Status     HealthStatus
	Err        string
}

// CheckHealth fetches every given source's feed, without extraction or
// deduplication, and classifies each by entry count. Results keep the
// order of sources.
func (f *FeedFetcher) CheckHealth(ctx context.Context, sources []news.Source) []SourceHealth {
	out := make([]SourceHealth, len(sources))

	var g errgroup.Group
	g.SetLimit(8)
	for i, src := range sources {
		g.Go(func() error {
			h := SourceHealth{SourceID: src.ID, SourceName: SourceLabel(src)}
			entries, err := f.FetchEntries(ctx, src)
			switch {
			case err != nil:
				h.Status = HealthError
				h.Err = err.Error()
			case len(entries) == 0:
				h.Status = HealthEmpty
			default:
				h.Status = HealthSuccess
				h.Count = len(entries)
			}
			out[i] = h
			return nil
		})
	}
	_ = g.Wait()
	return out
}
