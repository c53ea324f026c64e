// Package extract converts resolved graph nodes into normalized listings
// using a tiered strategy per field: structured value, then display-attribute
// text, then a full-page text regex. A field with no match at any tier stays
// nil; only a missing identifier drops the record.
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/ahenriksson/bowatch/internal/listing"
)

// BaseSiteURL prefixes relative listing paths into canonical URLs.
const BaseSiteURL = "https://www.booli.se"

// imageURLTemplate renders a CDN image URL from an image id.
const imageURLTemplate = "https://bcdn.se/images/cache/%s_1170x0.jpg"

// publishedLayout is the timestamp format used by the site
// (e.g. "2026-01-17 03:29:14").
const publishedLayout = "2006-01-02 15:04:05"

// ErrNoIdentifier marks a node that carries neither an explicit identifier
// nor a URL with a trailing numeric segment. Such records are dropped;
// extraction continues with the remaining nodes.
var ErrNoIdentifier = errors.New("node has no usable identifier")

var (
	reDaysActive = regexp.MustCompile(`(\d+)\s+dagar`)
	reRooms      = regexp.MustCompile(`([\d.,]+)\s+rum`)
	reLivingArea = regexp.MustCompile(`([\d.,]+)\s+m²`)
	rePageViews  = regexp.MustCompile(`(\d[\d \x{00a0}]*)\s+sidvisningar`)
	reRent       = regexp.MustCompile(`(\d[\d \x{00a0}]*)\s+kr/mån`)
	reTrailingID = regexp.MustCompile(`(\d+)/?$`)
	reBoldNumber = regexp.MustCompile(`\*\*([\d \x{00a0}]+)\*\*`)
	rePlainDays  = regexp.MustCompile(`i\s+(\d+)\s+dagar`)
)

// Page carries the per-page context shared by every node extracted from one
// origin page: its URL and its rendered text for the regex fallback tier.
type Page struct {
	URL  string
	Text string
}

// NewPage renders the page HTML to plain text once, for use by the
// last-resort regex tier of every node on the page.
func NewPage(url, html string) *Page {
	text := ""
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		text = doc.Text()
	}
	return &Page{URL: url, Text: text}
}

// Extractor builds normalized listings from resolved graph nodes.
type Extractor struct {
	clock  listing.Clock
	logger *zap.Logger
}

// New constructs an Extractor.
func New(clock listing.Clock, logger *zap.Logger) *Extractor {
	return &Extractor{clock: clock, logger: logger}
}

// Extract normalizes one resolved listing node. Optional fields that cannot
// be determined stay nil rather than failing the record.
func (e *Extractor) Extract(node map[string]any, page *Page) (listing.Listing, error) {
	url := canonicalURL(asString(node["url"]))
	id := identifier(node, url)
	if id == "" {
		return listing.Listing{}, ErrNoIdentifier
	}

	texts := displayTexts(node)
	fields := fieldReader{node: node, texts: texts, page: page}

	l := listing.Listing{
		BooliID:     id,
		URL:         url,
		Address:     address(node),
		NextShowing: asString(node["nextShowing"]),
		Published:   asString(node["published"]),
		BiddingOpen: asBool(node["biddingOpen"]),
		Latitude:    asNumber(node["latitude"]),
		Longitude:   asNumber(node["longitude"]),
		SourcePage:  page.URL,
	}

	l.Area, l.City = SplitLocality(locality(node))

	l.ListPrice = fields.first(fields.structured("listPrice"))
	l.EstimatedValue = fields.first(fields.structured("estimatedValue"), estimateValue(node))
	l.Rooms = fields.first(
		fields.structured("rooms"),
		fields.display("rum"),
		fields.pageRegex(reRooms),
	)
	l.LivingArea = fields.first(
		fields.structured("livingArea"),
		fields.displayExcluding("m²", "kr"),
		fields.pageRegex(reLivingArea),
	)
	l.Rent = fields.first(
		fields.structured("rent"),
		fields.display("kr/mån"),
		fields.pageRegex(reRent),
	)
	l.Floor = fields.first(
		fields.structured("floor"),
		fields.display("vån"),
	)
	l.PageViews = fields.first(
		fields.structured("pageViews"),
		fields.display("sidvisningar"),
		fields.pageRegex(rePageViews),
	)

	l.SoldPrice = fields.first(
		fields.structured("soldPrice"),
		fields.display("slutpris"),
	)
	l.IsSold = l.SoldPrice != nil || asBool(node["isSold"]) || containsFold(texts, "slutpris")

	l.DaysActive = e.daysActive(node, fields, l.Published)

	if l.EstimatedValue != nil && l.ListPrice != nil {
		diff := *l.EstimatedValue - *l.ListPrice
		l.PriceDiff = &diff
	}
	l.ImageURL = imageURL(node)

	return l, nil
}

// daysActive applies the one explicit precedence rule for the counter: an
// explicit value wins whenever it is present and non-negative (zero means
// literally zero); otherwise the count is derived from the publish
// timestamp, clamped at zero.
func (e *Extractor) daysActive(node map[string]any, fields fieldReader, published *string) *float64 {
	explicit := fields.first(
		fields.structured("daysActive"),
		infoSectionDays(node),
		fields.display("dagar"),
		fields.pageRegex(reDaysActive),
	)
	if explicit != nil && *explicit >= 0 {
		return explicit
	}
	if published == nil {
		return nil
	}
	pub, err := time.Parse(publishedLayout, *published)
	if err != nil {
		return nil
	}
	days := e.clock.Now().Sub(pub).Hours() / 24
	derived := float64(int(days))
	if derived < 0 {
		derived = 0
	}
	return &derived
}

// fieldReader holds the three tiers for one node and applies them in order.
type fieldReader struct {
	node  map[string]any
	texts []string
	page  *Page
}

type strategy func() *float64

// first returns the first non-nil value in tier order; later tiers are not
// consulted once an earlier one produced a value.
func (f fieldReader) first(strategies ...strategy) *float64 {
	for _, s := range strategies {
		if v := s(); v != nil {
			return v
		}
	}
	return nil
}

func (f fieldReader) structured(key string) strategy {
	return func() *float64 {
		return asNumber(f.node[key])
	}
}

// display scans the node's display-attribute texts for the first entry
// containing the keyword and parses its numeric token. The number is
// taken from the start of the text, or failing that from right after
// the keyword ("Slutpris 2 500 000 kr").
func (f fieldReader) display(keyword string) strategy {
	return f.displayExcluding(keyword, "")
}

func (f fieldReader) displayExcluding(keyword, exclude string) strategy {
	return func() *float64 {
		for _, text := range f.texts {
			lower := strings.ToLower(text)
			idx := strings.Index(lower, keyword)
			if idx < 0 {
				continue
			}
			if exclude != "" && strings.Contains(lower, exclude) {
				continue
			}
			if v := ParseNumber(text); v != nil {
				return v
			}
			if v := ParseNumber(strings.TrimSpace(lower[idx+len(keyword):])); v != nil {
				return v
			}
		}
		return nil
	}
}

func (f fieldReader) pageRegex(re *regexp.Regexp) strategy {
	return func() *float64 {
		m := re.FindStringSubmatch(f.page.Text)
		if m == nil {
			return nil
		}
		return ParseNumber(m[1])
	}
}

// SplitLocality splits a raw locality string on its last comma: the final
// segment is the city, the remainder the area. Without a comma the whole
// string is the area and the city stays unknown.
func SplitLocality(raw string) (string, *string) {
	if !strings.Contains(raw, ",") {
		return raw, nil
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	city := parts[len(parts)-1]
	area := strings.Join(parts[:len(parts)-1], ", ")
	return area, &city
}

func identifier(node map[string]any, url string) string {
	switch id := node["booliId"].(type) {
	case float64:
		return strconv.FormatInt(int64(id), 10)
	case string:
		if strings.TrimSpace(id) != "" {
			return id
		}
	}
	if m := reTrailingID.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return ""
}

func canonicalURL(path *string) string {
	if path == nil {
		return ""
	}
	p := strings.TrimSpace(*path)
	if p == "" || strings.HasPrefix(p, "http") {
		return p
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return BaseSiteURL + p
}

func address(node map[string]any) *string {
	if s := asString(node["streetAddress"]); s != nil {
		return s
	}
	if loc, ok := node["location"].(map[string]any); ok {
		if addr, ok := loc["address"].(map[string]any); ok {
			return asString(addr["streetAddress"])
		}
	}
	return nil
}

func locality(node map[string]any) string {
	if s := asString(node["descriptiveAreaName"]); s != nil {
		return *s
	}
	if loc, ok := node["location"].(map[string]any); ok {
		for _, key := range []string{"descriptiveAreaName", "areaName"} {
			if s := asString(loc[key]); s != nil {
				return *s
			}
		}
	}
	return ""
}

func estimateValue(node map[string]any) strategy {
	return func() *float64 {
		est, ok := node["estimate"].(map[string]any)
		if !ok {
			return nil
		}
		return asNumber(est["price"])
	}
}

// displayTexts flattens the resolved displayAttributes.dataPoints entries
// into their plain-text forms.
func displayTexts(node map[string]any) []string {
	da, ok := node["displayAttributes"].(map[string]any)
	if !ok {
		return nil
	}
	points, ok := da["dataPoints"].([]any)
	if !ok {
		return nil
	}
	texts := make([]string, 0, len(points))
	for _, p := range points {
		point, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if s := asString(point["value"]); s != nil {
			texts = append(texts, *s)
			continue
		}
		if s := asString(point); s != nil {
			texts = append(texts, *s)
		}
	}
	return texts
}

// infoSectionDays reads the daysActive info point the site embeds for some
// listings: a markdown display text with the count in bold, a plain
// "i N dagar" phrase, or a raw wrapped value.
func infoSectionDays(node map[string]any) strategy {
	return func() *float64 {
		sections, ok := node["infoSections"].([]any)
		if !ok {
			return nil
		}
		for _, s := range sections {
			section, ok := s.(map[string]any)
			if !ok {
				continue
			}
			content, ok := section["content"].(map[string]any)
			if !ok {
				continue
			}
			points, ok := content["infoPoints"].([]any)
			if !ok {
				continue
			}
			for _, p := range points {
				point, ok := p.(map[string]any)
				if !ok || point["key"] != "daysActive" {
					continue
				}
				if md := asString(point["displayText"]); md != nil {
					if m := reBoldNumber.FindStringSubmatch(*md); m != nil {
						if v := ParseNumber(m[1]); v != nil {
							return v
						}
					}
					if m := rePlainDays.FindStringSubmatch(*md); m != nil {
						if v := ParseNumber(m[1]); v != nil {
							return v
						}
					}
				}
				if v := asNumber(point["value"]); v != nil {
					return v
				}
			}
		}
		return nil
	}
}

func imageURL(node map[string]any) *string {
	var img map[string]any
	if primary, ok := node["primaryImage"].(map[string]any); ok {
		img = primary
	} else if images, ok := node["images"].([]any); ok && len(images) > 0 {
		img, _ = images[0].(map[string]any)
	}
	if img == nil {
		return nil
	}
	var id string
	switch v := img["id"].(type) {
	case float64:
		id = strconv.FormatInt(int64(v), 10)
	case string:
		id = v
	}
	if id == "" {
		return nil
	}
	u := fmt.Sprintf(imageURLTemplate, id)
	return &u
}

func containsFold(texts []string, keyword string) bool {
	for _, t := range texts {
		if strings.Contains(strings.ToLower(t), keyword) {
			return true
		}
	}
	return false
}
