package news

import "time"

// ImageType tells whether an image belongs to the article or to its source.
type ImageType string

const (
	ImagePhoto ImageType = "photo"
	ImageLogo  ImageType = "logo"
)

// PlaceholderTag is attached to every candidate until enrichment replaces it.
const PlaceholderTag = "أخبار"

// UrgentTag is appended when enrichment flags a candidate as urgent.
const UrgentTag = "عاجل"

// FeedEntry is one raw item as read from a source's feed document.
type FeedEntry struct {
	Title       string
	Link        string
	FullContent string // content:encoded or equivalent, markup included
	Description string // markup included
	ImageURL    string // enclosure image, if any
	PublishedAt time.Time
}

// Candidate is a normalized item produced by one ingestion cycle.
type Candidate struct {
	ID          string
	SourceID    string
	SourceName  string
	OriginalURL string
	Title       string
	Summary     string
	Content     string
	Tags        []string
	ImageURL    string
	ImageType   ImageType
	PublishedAt time.Time
	Views       int
	Urgent      bool
}

// Text is the string compared by the similarity deduplicator.
func (c Candidate) Text() string {
	return c.Title + " " + c.Summary
}

// ExistingItem is a persisted item used as the duplicate-detection baseline.
type ExistingItem struct {
	ID          string
	Title       string
	Summary     string
	PublishedAt time.Time
}

// Text is the string compared by the similarity deduplicator.
func (e ExistingItem) Text() string {
	return e.Title + " " + e.Summary
}
