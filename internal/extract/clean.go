package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/TobiSchelling/NewsDesk/internal/textutil"
)

const (
	minFragmentRunes    = 30
	maxBoilerplateRunes = 200
)

// pageBoilerplate is removed from the whole document before the generic
// heuristic looks for an article container. Forms stay: WebForms pages wrap
// the entire body in one.
const pageBoilerplate = "script, style, noscript, iframe, template, nav, header, footer, aside, " +
	".sidebar, #sidebar, .widget, .menu, .navbar, .breadcrumb, .comments, #comments, " +
	".ads, .ad, .advertisement, .banner, .share, .social, .related, .related-posts"

// nodeBoilerplate is removed from inside a chosen content node.
const nodeBoilerplate = "script, style, noscript, iframe, template, form, button, input, " +
	".share, .sharing, .social, .social-share, .sharedaddy, .addthis_toolbox, .a2a_kit, " +
	".ads, .ad, .advertisement, .banner, .byline, .author, .post-meta, .entry-meta, " +
	".tags, .post-tags, .related, .related-posts, .jp-relatedposts, .comments, #comments"

const fragmentEdge = " \t\n.,:;!|-–»«()[]،؛"

var boilerplatePhrases = []string{
	"all rights reserved",
	"copyright",
	"©",
	"follow us",
	"related articles",
	"related posts",
	"read more",
	"share this",
	"subscribe to",
	"جميع الحقوق محفوظة",
	"حقوق النشر",
	"تابعونا",
	"تابعنا على",
	"اقرأ أيضا",
	"اقرأ أيضاً",
	"اقرأ المزيد",
	"إقرأ أيضا",
	"مواضيع ذات صلة",
	"أخبار ذات صلة",
	"شارك الخبر",
	"شارك هذا",
	"للاشتراك في",
}

// isBoilerplate reports short fragments that open or close with a known
// boilerplate phrase. A phrase in the middle of a sentence is news text.
func isBoilerplate(fragment string) bool {
	if textutil.RuneLen(fragment) > maxBoilerplateRunes {
		return false
	}
	lower := strings.Trim(strings.ToLower(fragment), fragmentEdge)
	for _, p := range boilerplatePhrases {
		if strings.HasPrefix(lower, p) || strings.HasSuffix(lower, p) {
			return true
		}
	}
	return false
}

// nodeText strips boilerplate elements from sel and returns the text of its
// blocks, one paragraph per block, without short or boilerplate fragments.
func nodeText(sel *goquery.Selection, extraJunk string) string {
	sel.Find(nodeBoilerplate).Remove()
	if extraJunk != "" {
		sel.Find(extraJunk).Remove()
	}

	markup, err := goquery.OuterHtml(sel)
	if err != nil {
		return ""
	}

	seen := make(map[string]bool)
	var kept []string
	for _, frag := range strings.Split(textutil.StripHTMLParagraphs(markup), "\n\n") {
		if textutil.RuneLen(frag) < minFragmentRunes || isBoilerplate(frag) || seen[frag] {
			continue
		}
		seen[frag] = true
		kept = append(kept, frag)
	}
	return strings.Join(kept, "\n\n")
}

// readableText extracts paragraphs from readability's cleaned article
// markup, so block boundaries survive as blank lines.
func readableText(articleHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(articleHTML))
	if err != nil {
		return ""
	}
	return nodeText(doc.Selection, "")
}
