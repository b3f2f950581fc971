// Package textutil holds the markup stripping and rune-safe truncation
// helpers shared by the feed, extraction and normalization stages.
package textutil

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var blockTags = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Ul: true,
	atom.Ol: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.H5: true, atom.H6: true, atom.Blockquote: true, atom.Section: true,
	atom.Article: true, atom.Tr: true, atom.Td: true, atom.Table: true,
	atom.Figure: true, atom.Figcaption: true, atom.Pre: true, atom.Hr: true,
}

var skipTags = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Iframe: true,
	atom.Template: true, atom.Svg: true,
}

// StripHTML removes markup and entities and collapses all whitespace into
// single spaces.
func StripHTML(s string) string {
	return strings.Join(strings.Fields(plainText(s)), " ")
}

// StripHTMLParagraphs removes markup but keeps block boundaries as blank
// lines between paragraphs.
func StripHTMLParagraphs(s string) string {
	return JoinParagraphs(strings.Split(plainText(s), "\n"))
}

// JoinParagraphs collapses whitespace inside each fragment, drops empty
// fragments and joins the rest with blank lines.
func JoinParagraphs(fragments []string) string {
	out := make([]string, 0, len(fragments))
	for _, f := range fragments {
		f = strings.Join(strings.Fields(f), " ")
		if f != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, "\n\n")
}

func plainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skipDepth := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or a malformed tail; either way keep what was read.
			return b.String()
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skipTags[a] {
				if tt == html.StartTagToken {
					skipDepth++
				}
				continue
			}
			if blockTags[a] {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skipTags[a] {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if blockTags[a] {
				b.WriteByte('\n')
			}
		}
	}
}

// RuneLen returns the number of characters in s.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// Truncate cuts s to at most limit characters, appending marker only when
// something was cut.
func Truncate(s string, limit int, marker string) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	rs := []rune(s)
	return strings.TrimRight(string(rs[:limit]), " ") + marker
}
