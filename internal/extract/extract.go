// Package extract decides how much text a feed entry needs and runs the
// content extraction cascade:
//
//  1. the source's configured CSS or XPath selector
//  2. a dedicated rule for the article's site
//  3. the feed's own full-content field
//  4. a container-scoring heuristic over the article page, then readability
//  5. the feed description
//
// Every strategy that fails or yields too little falls through to the next.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/NewsDesk/internal/config"
	"github.com/TobiSchelling/NewsDesk/internal/news"
	"github.com/TobiSchelling/NewsDesk/internal/textutil"
)

// Strategy names the cascade step that produced a result.
type Strategy string

const (
	StrategyCache       Strategy = "cache"
	StrategySelector    Strategy = "selector"
	StrategySiteRule    Strategy = "site_rule"
	StrategyFeedContent Strategy = "feed_content"
	StrategyHeuristic   Strategy = "heuristic"
	StrategyReadability Strategy = "readability"
	StrategyDescription Strategy = "description"
)

// Result is the extracted text and where it came from.
type Result struct {
	Content  string
	Strategy Strategy
}

// containerSelectors are scored by the generic heuristic. Ties keep the
// earlier match.
var containerSelectors = []string{
	"article",
	"[itemprop=articleBody]",
	".article-content",
	".article-body",
	".entry-content",
	"#article-body",
	".post-content",
	".post-body",
	".details",
	".news-details",
	".detail-content",
	".body-text",
	".story-body",
	"main",
}

const paragraphWeight = 50

// Extractor runs the cascade. It is safe for concurrent use.
type Extractor struct {
	client         *http.Client
	pageTimeout    time.Duration
	userAgent      string
	minContent     int
	sufficientDesc int
	rules          []SiteRule
	cache          Cache
	log            *slog.Logger
}

// New creates an Extractor from the ingest settings. A nil cache disables
// caching.
func New(cfg config.Ingest, cache Cache, log *slog.Logger) *Extractor {
	if cache == nil {
		cache = NopCache{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		pageTimeout:    cfg.PageTimeout,
		userAgent:      cfg.UserAgent,
		minContent:     cfg.MinContentLength,
		sufficientDesc: cfg.SufficientDescriptionLength,
		rules:          defaultSiteRules,
		cache:          cache,
		log:            log,
	}
}

// Extract returns the best available text for entry. It only returns an
// empty string when the feed description is empty too.
func (e *Extractor) Extract(ctx context.Context, entry news.FeedEntry, src news.Source) Result {
	key := news.IDFor(entry.Link)
	if cached, ok := e.cache.Get(ctx, key); ok && cached != "" {
		return Result{Content: cached, Strategy: StrategyCache}
	}

	res := e.cascade(ctx, entry, src)
	if res.Strategy != StrategyDescription {
		e.cache.Set(ctx, key, res.Content)
	}
	return res
}

func (e *Extractor) cascade(ctx context.Context, entry news.FeedEntry, src news.Source) Result {
	loader := &pageLoader{e: e, link: entry.Link}
	log := e.log.With("source", src.ID, "url", entry.Link)

	if !src.Selector.IsZero() {
		text, err := e.bySelector(ctx, loader, src.Selector)
		switch {
		case err != nil:
			log.Debug("custom selector failed", "selector", src.Selector.Expr, "err", err)
		case e.sufficient(text):
			return Result{Content: text, Strategy: StrategySelector}
		default:
			log.Warn("custom selector yielded no usable content", "selector", src.Selector.Expr)
		}
	}

	if rule, ok := matchRule(e.rules, entry.Link); ok {
		text, err := e.bySiteRule(ctx, loader, rule)
		if err != nil {
			log.Debug("site rule failed", "host", rule.Host, "err", err)
		} else if e.sufficient(text) {
			return Result{Content: text, Strategy: StrategySiteRule}
		}
	}

	description := textutil.StripHTMLParagraphs(entry.Description)

	if full := textutil.StripHTMLParagraphs(entry.FullContent); full != "" &&
		textutil.RuneLen(full) > textutil.RuneLen(description) {
		return Result{Content: full, Strategy: StrategyFeedContent}
	}

	if textutil.RuneLen(description) < e.sufficientDesc {
		res, err := e.byHeuristic(ctx, loader)
		if err != nil {
			log.Debug("page heuristic failed", "err", err)
		} else if res.Content != "" {
			return res
		}
	}

	return Result{Content: description, Strategy: StrategyDescription}
}

func (e *Extractor) sufficient(text string) bool {
	return textutil.RuneLen(text) > e.minContent
}

// bySelector evaluates the source's configured selector and returns the
// cleaned text of its first match.
func (e *Extractor) bySelector(ctx context.Context, loader *pageLoader, sel news.Selector) (string, error) {
	p, err := loader.load(ctx)
	if err != nil {
		return "", err
	}
	root, err := p.root()
	if err != nil {
		return "", fmt.Errorf("parsing page: %w", err)
	}

	var match *goquery.Selection
	switch sel.Kind {
	case news.SelectorXPath:
		node, err := htmlquery.Query(root, sel.Expr)
		if err != nil {
			return "", &SelectorError{Expr: sel.Expr, Err: err}
		}
		if node == nil {
			return "", nil
		}
		match = goquery.NewDocumentFromNode(node).Selection
	default:
		m, err := cascadia.Compile(sel.Expr)
		if err != nil {
			return "", &SelectorError{Expr: sel.Expr, Err: err}
		}
		match = goquery.NewDocumentFromNode(root).FindMatcher(m).First()
		if match.Length() == 0 {
			return "", nil
		}
	}
	return nodeText(match, ""), nil
}

func (e *Extractor) bySiteRule(ctx context.Context, loader *pageLoader, rule SiteRule) (string, error) {
	p, err := loader.load(ctx)
	if err != nil {
		return "", err
	}
	doc, err := p.document()
	if err != nil {
		return "", fmt.Errorf("parsing page: %w", err)
	}
	match := doc.Find(rule.Container).First()
	if match.Length() == 0 {
		return "", nil
	}
	return nodeText(match, rule.Junk), nil
}

// byHeuristic strips page-level boilerplate, scores likely article
// containers by paragraph count and text length, and extracts the winner.
// Readability gets a second pass when the winner is too thin.
func (e *Extractor) byHeuristic(ctx context.Context, loader *pageLoader) (Result, error) {
	p, err := loader.load(ctx)
	if err != nil {
		return Result{}, err
	}
	doc, err := p.document()
	if err != nil {
		return Result{}, fmt.Errorf("parsing page: %w", err)
	}
	doc.Find(pageBoilerplate).Remove()

	var best *goquery.Selection
	bestScore := -1
	for _, css := range containerSelectors {
		doc.Find(css).Each(func(_ int, s *goquery.Selection) {
			score := s.Find("p").Length()*paragraphWeight + textutil.RuneLen(strings.TrimSpace(s.Text()))
			if score > bestScore {
				best, bestScore = s, score
			}
		})
	}
	if best == nil {
		best = doc.Find("body").First()
	}

	if text := nodeText(best, ""); e.sufficient(text) {
		return Result{Content: text, Strategy: StrategyHeuristic}, nil
	}

	article, err := readability.FromReader(strings.NewReader(string(p.body)), p.url)
	if err != nil {
		return Result{}, fmt.Errorf("readability: %w", err)
	}
	if text := readableText(article.Content); e.sufficient(text) {
		return Result{Content: text, Strategy: StrategyReadability}, nil
	}
	return Result{}, nil
}
