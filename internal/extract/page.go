package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

const maxPageBytes = 5 << 20

// ErrExtractionTimeout marks a page fetch abandoned after the page timeout.
var ErrExtractionTimeout = errors.New("page fetch timed out")

// SelectorError reports a content selector that could not be evaluated.
type SelectorError struct {
	Expr string
	Err  error
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("selector %q: %v", e.Expr, e.Err)
}

func (e *SelectorError) Unwrap() error { return e.Err }

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.code, http.StatusText(e.code))
}

// page is a fetched article page decoded to UTF-8. Each strategy parses its
// own tree because cleaning mutates it.
type page struct {
	url  *url.URL
	body []byte
}

func (p *page) root() (*html.Node, error) {
	return html.Parse(bytes.NewReader(p.body))
}

func (p *page) document() (*goquery.Document, error) {
	root, err := p.root()
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromNode(root), nil
}

// pageLoader fetches an article page at most once per extraction.
type pageLoader struct {
	e    *Extractor
	link string
	done bool
	page *page
	err  error
}

func (l *pageLoader) load(ctx context.Context) (*page, error) {
	if !l.done {
		l.page, l.err = l.e.fetchPage(ctx, l.link)
		l.done = true
	}
	return l.page, l.err
}

func (e *Extractor) fetchPage(ctx context.Context, link string) (*page, error) {
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("not an http link: %q", link)
	}

	ctx, cancel := context.WithTimeout(ctx, e.pageTimeout)
	defer cancel()

	body, err := e.download(ctx, u)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %s", ErrExtractionTimeout, e.pageTimeout, link)
		}
		return nil, err
	}
	return &page{url: u, body: body}, nil
}

func (e *Extractor) download(ctx context.Context, u *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &httpError{code: resp.StatusCode}
	}

	r, err := charset.NewReader(io.LimitReader(resp.Body, maxPageBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("detecting charset: %w", err)
	}
	return io.ReadAll(r)
}
