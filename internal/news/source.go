package news

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/xpath"
)

// Kind is the feed flavour a source publishes.
type Kind string

const (
	KindRSS Kind = "rss"
	KindURL Kind = "url"
	KindXML Kind = "xml"
)

// ParseKind maps a stored kind string to a Kind, defaulting to rss.
func ParseKind(s string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindURL:
		return KindURL
	case KindXML:
		return KindXML
	default:
		return KindRSS
	}
}

// Source is one entry of the source registry.
type Source struct {
	ID       string
	Name     string
	URL      string
	Kind     Kind
	LogoURL  string
	Selector Selector
	Active   bool
}

// SelectorKind distinguishes how a content selector is evaluated.
type SelectorKind int

const (
	SelectorNone SelectorKind = iota
	SelectorCSS
	SelectorXPath
)

func (k SelectorKind) String() string {
	switch k {
	case SelectorCSS:
		return "css"
	case SelectorXPath:
		return "xpath"
	default:
		return "none"
	}
}

// Selector is an operator-configured content selector, either CSS or XPath.
type Selector struct {
	Kind SelectorKind
	Expr string
}

// CSS builds a CSS selector.
func CSS(expr string) Selector { return Selector{Kind: SelectorCSS, Expr: expr} }

// XPath builds an XPath selector.
func XPath(expr string) Selector { return Selector{Kind: SelectorXPath, Expr: expr} }

// IsZero reports whether no selector is configured.
func (s Selector) IsZero() bool { return s.Kind == SelectorNone || s.Expr == "" }

// String returns the raw expression as stored in the registry.
func (s Selector) String() string { return s.Expr }

// ParseSelector classifies a raw selector string and checks that it compiles.
// Expressions starting with "/" or "(" are XPath, anything else is CSS.
func ParseSelector(raw string) (Selector, error) {
	expr := strings.TrimSpace(raw)
	if expr == "" {
		return Selector{}, nil
	}

	if strings.HasPrefix(expr, "/") || strings.HasPrefix(expr, "(") {
		if _, err := xpath.Compile(expr); err != nil {
			return Selector{}, fmt.Errorf("invalid xpath %q: %w", expr, err)
		}
		return XPath(expr), nil
	}

	if _, err := cascadia.Compile(expr); err != nil {
		return Selector{}, fmt.Errorf("invalid css selector %q: %w", expr, err)
	}
	return CSS(expr), nil
}
