package pipeline

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ahenriksson/bowatch/internal/extract"
)

const (
	uppsalaAreaID = "386699"
	topFloorParam = "floor=topFloor"
	searchPrefix  = "/sok/till-salu"
)

// SourceLabel derives the search-source label for a search URL. The area id
// distinguishes Uppsala from Stockholm; the floor filter marks the top-floor
// variants with a qualifier suffix.
func SourceLabel(rawURL string) string {
	area := "Stockholm"
	if strings.Contains(rawURL, uppsalaAreaID) {
		area = "Uppsala"
	}
	if strings.Contains(rawURL, topFloorParam) {
		area += " (top floor)"
	}
	return area
}

// DiscoverPages finds further search-result pages linked from a result page:
// anchors whose href carries a page parameter and stays under the search
// path. Returned URLs are absolute and deduplicated in document order.
func DiscoverPages(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var pages []string
	doc.Find("a[href*='page=']").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		if !strings.HasPrefix(href, searchPrefix) {
			return
		}
		abs := extract.BaseSiteURL + href
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		pages = append(pages, abs)
	})
	return pages
}
