// Package normalize turns raw feed entries into candidate records.
package normalize

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/TobiSchelling/NewsDesk/internal/news"
	"github.com/TobiSchelling/NewsDesk/internal/textutil"
)

const (
	ellipsis         = "..."
	defaultSummaryLn = 200
)

var imageSrc = regexp.MustCompile(`(?i)src\s*=\s*["']([^"']+)["']`)

var trailingBoilerplate = []*regexp.Regexp{
	regexp.MustCompile(`(?is)\s*the post\s.+\sappeared first on\s.+$`),
	regexp.MustCompile(`\s*\[(?:…|\.\.\.|&hellip;)\]\s*$`),
	regexp.MustCompile(`(?i)[\s:.\-–»]*(?:read more|continue reading|read the full story|اقرأ المزيد|إقرأ المزيد|قراءة المزيد|اقرأ التفاصيل)[\s.…»>]*$`),
}

// Normalizer builds candidates with a bounded summary length.
type Normalizer struct {
	summaryLength int
}

// New returns a Normalizer; non-positive lengths select 200.
func New(summaryLength int) *Normalizer {
	if summaryLength <= 0 {
		summaryLength = defaultSummaryLn
	}
	return &Normalizer{summaryLength: summaryLength}
}

// Normalize combines a feed entry and its extracted content into a Candidate.
func (n *Normalizer) Normalize(entry news.FeedEntry, content string, src news.Source) news.Candidate {
	description := textutil.StripHTML(entry.Description)
	summary := n.Summary(entry.Description)

	image, imageType := ResolveImage(entry, src)

	return news.Candidate{
		ID:          news.IDFor(entry.Link),
		SourceID:    src.ID,
		SourceName:  src.Name,
		OriginalURL: entry.Link,
		Title:       entry.Title,
		Summary:     summary,
		Content:     firstNonEmpty(strings.TrimSpace(content), summary, description, entry.Title),
		Tags:        []string{news.PlaceholderTag},
		ImageURL:    image,
		ImageType:   imageType,
		PublishedAt: entry.PublishedAt,
		Views:       0,
	}
}

// Summary strips markup and trailing boilerplate from a feed description and
// truncates it.
func (n *Normalizer) Summary(description string) string {
	return textutil.Truncate(TrimBoilerplate(textutil.StripHTML(description)), n.summaryLength, ellipsis)
}

// TrimBoilerplate removes trailing "read more" style phrases and feed footers.
func TrimBoilerplate(s string) string {
	for {
		before := s
		for _, re := range trailingBoilerplate {
			s = re.ReplaceAllString(s, "")
		}
		s = strings.TrimSpace(s)
		if s == before {
			return s
		}
	}
}

// ResolveImage picks the article image, falling back to the source logo and
// then to a favicon of the source's domain.
func ResolveImage(entry news.FeedEntry, src news.Source) (string, news.ImageType) {
	if entry.ImageURL != "" {
		return entry.ImageURL, news.ImagePhoto
	}
	for _, markup := range []string{entry.FullContent, entry.Description} {
		if m := imageSrc.FindStringSubmatch(markup); m != nil {
			return m[1], news.ImagePhoto
		}
	}
	if src.LogoURL != "" {
		return src.LogoURL, news.ImageLogo
	}
	return FaviconURL(src.URL), news.ImageLogo
}

// FaviconURL returns the favicon-service URL for the host of siteURL.
func FaviconURL(siteURL string) string {
	host := siteURL
	if u, err := url.Parse(siteURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	return "https://www.google.com/s2/favicons?domain=" + url.QueryEscape(host) + "&sz=128"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
