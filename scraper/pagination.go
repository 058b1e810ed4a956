package scraper

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/phuslu/log"
)

const nextPageSelector = ".pagination .next a, .pager-next a"

// nextPageLink returns the absolute URL of the page's "next" control, or "".
func nextPageLink(page Page) string {
	html, err := page.HTML()
	if err != nil {
		log.Debug().Err(err).Msg("Could not read page HTML for pagination")
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	href, ok := doc.Find(nextPageSelector).First().Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return ""
	}

	base, err := url.Parse(page.URL())
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	next := base.ResolveReference(ref).String()
	if next == page.URL() {
		return ""
	}
	return next
}
