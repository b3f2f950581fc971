package extract

import (
	"net/url"
	"strings"
)

// SiteRule is a dedicated container selector for an origin whose markup the
// generic heuristic handles poorly.
type SiteRule struct {
	Host      string // matched against the article host and its parents
	Container string // CSS selector of the article body
	Junk      string // extra CSS selectors removed inside the container
}

var defaultSiteRules = []SiteRule{
	{Host: "marebpress.net", Container: "#news_text, .news_text, .newsText", Junk: "table.share, .news_tools, .printer"},
	{Host: "almasdaronline.com", Container: ".article-content, .article__content", Junk: ".article-tags, .article-share, .read-also"},
	{Host: "24-post.com", Container: ".news-details, .details", Junk: ".news-tags, .share-news"},
	{Host: "albiladn.net", Container: ".entry-content", Junk: ".post-tags, .wp-block-buttons"},
	{Host: "awamonline.net", Container: ".news-body, .post-content", Junk: ".share-links"},
	{Host: "yemenfuture.net", Container: ".news-details, .detail-content", Junk: ".news-tags, .share"},
	{Host: "crater-sky.com", Container: ".entry-content", Junk: ".heateor_sss_sharing_container, .jp-relatedposts"},
	{Host: "sedda.news", Container: ".article-body, .post-body", Junk: ".article-share"},
}

// matchRule returns the rule for link's host, if any.
func matchRule(rules []SiteRule, link string) (SiteRule, bool) {
	u, err := url.Parse(link)
	if err != nil {
		return SiteRule{}, false
	}
	host := strings.ToLower(u.Hostname())
	for _, r := range rules {
		if host == r.Host || strings.HasSuffix(host, "."+r.Host) {
			return r, true
		}
	}
	return SiteRule{}, false
}
