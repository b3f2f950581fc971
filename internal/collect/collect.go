// Package collect reads source feeds into raw entries. Failures stay with
// the source that caused them.
package collect

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/TobiSchelling/NewsDesk/internal/news"
)

// FeedNetworkError reports that a feed could not be retrieved.
type FeedNetworkError struct {
	SourceID string
	URL      string
	Status   int // 0 when no response was received
	Err      error
}

func (e *FeedNetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("feed %s: HTTP %d", e.SourceID, e.Status)
	}
	return fmt.Sprintf("feed %s: %v", e.SourceID, e.Err)
}

func (e *FeedNetworkError) Unwrap() error { return e.Err }

// FeedParseError reports a feed document that could not be decoded or parsed.
type FeedParseError struct {
	SourceID string
	Err      error
}

func (e *FeedParseError) Error() string {
	return fmt.Sprintf("feed %s: parse: %v", e.SourceID, e.Err)
}

func (e *FeedParseError) Unwrap() error { return e.Err }

// SourceLabel returns the source's display name, or a name derived from its
// feed host when none is configured.
func SourceLabel(src news.Source) string {
	if src.Name != "" {
		return src.Name
	}
	return extractSourceName(src.URL)
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return parts[len(parts)-2]
	}
	return host
}
