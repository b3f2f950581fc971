package collect

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/NewsDesk/internal/config"
	"github.com/TobiSchelling/NewsDesk/internal/news"
	"github.com/TobiSchelling/NewsDesk/internal/textutil"
)

// UntitledMarker replaces a missing entry title.
const UntitledMarker = "بدون عنوان"

const maxFeedBytes = 10 << 20

// FeedFetcher retrieves and parses source feeds.
type FeedFetcher struct {
	client    *http.Client
	maxItems  int
	userAgent string
	resolve   func(string) string
	now       func() time.Time
	log       *slog.Logger
}

// NewFeedFetcher creates a FeedFetcher from the ingest settings.
func NewFeedFetcher(cfg config.Ingest, log *slog.Logger) *FeedFetcher {
	if log == nil {
		log = slog.Default()
	}
	return &FeedFetcher{
		client:    &http.Client{Timeout: cfg.FeedTimeout},
		maxItems:  cfg.MaxItemsPerFeed,
		userAgent: cfg.UserAgent,
		resolve:   ResolveEncoding,
		now:       time.Now,
		log:       log,
	}
}

// Fetch returns up to the configured number of entries for src. Any failure
// is logged and yields an empty list.
func (f *FeedFetcher) Fetch(ctx context.Context, src news.Source) []news.FeedEntry {
	entries, err := f.FetchEntries(ctx, src)
	if err != nil {
		f.log.Warn("feed fetch failed", "source", SourceLabel(src), "url", src.URL, "err", err)
		return nil
	}
	f.log.Debug("feed fetched", "source", SourceLabel(src), "entries", len(entries))
	return entries
}

// FetchEntries is Fetch with the error surfaced, for diagnostics.
func (f *FeedFetcher) FetchEntries(ctx context.Context, src news.Source) ([]news.FeedEntry, error) {
	raw, err := f.download(ctx, src)
	if err != nil {
		return nil, err
	}

	text, err := decodeFeed(raw, f.resolve(src.URL))
	if err != nil {
		return nil, &FeedParseError{SourceID: src.ID, Err: err}
	}

	feed, err := gofeed.NewParser().ParseString(text)
	if err != nil {
		return nil, &FeedParseError{SourceID: src.ID, Err: err}
	}

	// The cap applies to entry nodes in document order; skipped nodes still count.
	items := feed.Items[:min(len(feed.Items), f.maxItems)]
	entries := make([]news.FeedEntry, 0, len(items))
	for _, item := range items {
		entry, ok := f.parseItem(item)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (f *FeedFetcher) download(ctx context.Context, src news.Source) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cacheBust(src.URL, f.now()), nil)
	if err != nil {
		return nil, &FeedNetworkError{SourceID: src.ID, URL: src.URL, Err: err}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FeedNetworkError{SourceID: src.ID, URL: src.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FeedNetworkError{SourceID: src.ID, URL: src.URL, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, &FeedNetworkError{SourceID: src.ID, URL: src.URL, Err: fmt.Errorf("reading body: %w", err)}
	}
	return body, nil
}

// cacheBust appends a millisecond timestamp so intermediaries cannot serve
// a stale copy of the feed.
func cacheBust(feedURL string, now time.Time) string {
	sep := "?"
	if strings.Contains(feedURL, "?") {
		sep = "&"
	}
	return feedURL + sep + "t=" + strconv.FormatInt(now.UnixMilli(), 10)
}

func (f *FeedFetcher) parseItem(item *gofeed.Item) (news.FeedEntry, bool) {
	link := strings.TrimSpace(item.Link)
	if link == "" && strings.HasPrefix(item.GUID, "http") {
		link = strings.TrimSpace(item.GUID)
	}
	if link == "" {
		return news.FeedEntry{}, false
	}

	title := textutil.StripHTML(item.Title)
	if title == "" {
		title = UntitledMarker
	}

	return news.FeedEntry{
		Title:       title,
		Link:        link,
		FullContent: item.Content,
		Description: item.Description,
		ImageURL:    enclosureImage(item),
		PublishedAt: f.publishedAt(item),
	}, true
}

func enclosureImage(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		if enc.Type == "" || strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	if item.Image != nil {
		return item.Image.URL
	}
	return ""
}

func (f *FeedFetcher) publishedAt(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}
	for _, raw := range []string{item.Published, item.Updated} {
		if raw == "" {
			continue
		}
		if t, err := dateparse.ParseAny(strings.TrimSpace(raw)); err == nil {
			return t.UTC()
		}
	}
	return f.now().UTC()
}
