// Package enrich attaches topic tags and an urgency flag to candidates.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/TobiSchelling/NewsDesk/internal/news"
	"github.com/TobiSchelling/NewsDesk/internal/textutil"
)

const (
	// MaxBatch is the largest number of items sent in one enrichment call.
	MaxBatch = 15
	// SnippetLength bounds the summary snippet sent per item, in runes.
	SnippetLength = 100

	maxTags = 5
)

// Item is the enrichment input for one candidate.
type Item struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"summarySnippet"`
}

// Result is the enrichment output for one candidate.
type Result struct {
	ID       string   `json:"id"`
	Tags     []string `json:"tags"`
	IsUrgent bool     `json:"isUrgent"`
}

// Enricher classifies at most MaxBatch items per call.
type Enricher interface {
	Enrich(ctx context.Context, items []Item) ([]Result, error)
}

// EnrichmentError reports a failed enrichment call. Candidates in the
// failed batch keep their placeholder tags.
type EnrichmentError struct {
	Batch int
	Size  int
	Err   error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrichment batch %d (%d items): %v", e.Batch, e.Size, e.Err)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }

// ItemFor builds the enrichment input for a candidate.
func ItemFor(c news.Candidate) Item {
	return Item{
		ID:      c.ID,
		Title:   c.Title,
		Snippet: textutil.Truncate(c.Summary, SnippetLength, ""),
	}
}

// Summary counts the outcome of Run.
type Summary struct {
	Batches  int
	Failed   int
	Enriched int
	Urgent   int
}

// Run enriches candidates in place, batchSize items per call. A failed batch
// is logged and skipped; it never fails the whole run.
func Run(ctx context.Context, enricher Enricher, candidates []news.Candidate, batchSize int, log *slog.Logger) Summary {
	var sum Summary
	if enricher == nil || len(candidates) == 0 {
		return sum
	}
	if batchSize <= 0 || batchSize > MaxBatch {
		batchSize = MaxBatch
	}

	for start := 0; start < len(candidates); start += batchSize {
		end := min(start+batchSize, len(candidates))
		batch := candidates[start:end]
		sum.Batches++

		items := make([]Item, len(batch))
		for i, c := range batch {
			items[i] = ItemFor(c)
		}

		results, err := enricher.Enrich(ctx, items)
		if err != nil {
			sum.Failed++
			log.Warn("enrichment failed, keeping placeholder tags",
				"err", &EnrichmentError{Batch: sum.Batches, Size: len(items), Err: err})
			continue
		}
		enriched, urgent := Apply(batch, results)
		sum.Enriched += enriched
		sum.Urgent += urgent
	}
	return sum
}

// Apply merges results onto the candidates with matching ids. Returned tags
// replace the current ones; an urgent result appends the urgent tag. It
// returns how many candidates were updated and how many became urgent.
func Apply(candidates []news.Candidate, results []Result) (enriched, urgent int) {
	byID := make(map[string]Result, len(results))
	for _, r := range results {
		if r.ID != "" {
			byID[r.ID] = r
		}
	}

	for i := range candidates {
		r, ok := byID[candidates[i].ID]
		if !ok {
			continue
		}
		c := &candidates[i]
		if tags := cleanTags(r.Tags); len(tags) > 0 {
			c.Tags = tags
		}
		if r.IsUrgent {
			c.Urgent = true
			if !contains(c.Tags, news.UrgentTag) {
				c.Tags = append(c.Tags, news.UrgentTag)
			}
			urgent++
		}
		enriched++
	}
	return enriched, urgent
}

func cleanTags(raw []string) []string {
	var tags []string
	for _, t := range raw {
		t = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(t), "#"))
		if t == "" || t == news.UrgentTag || contains(tags, t) {
			continue
		}
		tags = append(tags, t)
		if len(tags) == maxTags {
			break
		}
	}
	return tags
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
