// Package merge deduplicates listings by canonical URL and resolves
// field-level conflicts with one explicit ordered policy table.
package merge

import (
	"sort"
	"strings"

	"github.com/ahenriksson/bowatch/internal/listing"
)

// RecordSet is the merged output: exactly one listing per canonical URL.
type RecordSet struct {
	byURL map[string]listing.Listing
	order []string
}

// Len returns the number of distinct listings.
func (s *RecordSet) Len() int {
	return len(s.byURL)
}

// Get returns the listing for url.
func (s *RecordSet) Get(url string) (listing.Listing, bool) {
	l, ok := s.byURL[url]
	return l, ok
}

// ByURL returns the merged listings keyed by canonical URL.
func (s *RecordSet) ByURL() map[string]listing.Listing {
	out := make(map[string]listing.Listing, len(s.byURL))
	for k, v := range s.byURL {
		out[k] = v
	}
	return out
}

// Listings returns the merged listings in first-seen order.
func (s *RecordSet) Listings() []listing.Listing {
	out := make([]listing.Listing, 0, len(s.order))
	for _, url := range s.order {
		out = append(out, s.byURL[url])
	}
	return out
}

// Merge folds records into a set keyed by canonical URL. Records without a
// URL are skipped. When two records collide the conflict policy applies
// per field, in order:
//
//   - monotonic counters (pageViews, daysActive): keep the maximum;
//   - sticky booleans (isSold, biddingOpen): true dominates;
//   - search source: a specific regional label is never replaced by a
//     generic fallback label;
//   - every other optional field: an incoming non-nil value wins, a nil
//     incoming value keeps the existing one.
//
// Merging an already-merged set with itself yields the identical set.
func Merge(records []listing.Listing) *RecordSet {
	set := &RecordSet{byURL: make(map[string]listing.Listing)}
	for _, rec := range records {
		if rec.URL == "" {
			continue
		}
		existing, ok := set.byURL[rec.URL]
		if !ok {
			set.byURL[rec.URL] = rec
			set.order = append(set.order, rec.URL)
			continue
		}
		set.byURL[rec.URL] = combine(existing, rec)
	}
	return set
}

func combine(existing, incoming listing.Listing) listing.Listing {
	out := incoming

	out.PageViews = maxOf(existing.PageViews, incoming.PageViews)
	out.DaysActive = maxOf(existing.DaysActive, incoming.DaysActive)

	out.IsSold = existing.IsSold || incoming.IsSold
	out.BiddingOpen = existing.BiddingOpen || incoming.BiddingOpen

	out.SearchSource = stickySource(existing.SearchSource, incoming.SearchSource)

	out.Address = preferPresent(existing.Address, incoming.Address)
	out.City = preferPresent(existing.City, incoming.City)
	out.ListPrice = preferPresent(existing.ListPrice, incoming.ListPrice)
	out.EstimatedValue = preferPresent(existing.EstimatedValue, incoming.EstimatedValue)
	out.SoldPrice = preferPresent(existing.SoldPrice, incoming.SoldPrice)
	out.Rooms = preferPresent(existing.Rooms, incoming.Rooms)
	out.LivingArea = preferPresent(existing.LivingArea, incoming.LivingArea)
	out.Rent = preferPresent(existing.Rent, incoming.Rent)
	out.Floor = preferPresent(existing.Floor, incoming.Floor)
	out.NextShowing = preferPresent(existing.NextShowing, incoming.NextShowing)
	out.Published = preferPresent(existing.Published, incoming.Published)
	out.Latitude = preferPresent(existing.Latitude, incoming.Latitude)
	out.Longitude = preferPresent(existing.Longitude, incoming.Longitude)
	out.ImageURL = preferPresent(existing.ImageURL, incoming.ImageURL)

	if out.Area == "" {
		out.Area = existing.Area
	}
	if out.BooliID == "" {
		out.BooliID = existing.BooliID
	}
	if out.SourcePage == "" {
		out.SourcePage = existing.SourcePage
	}

	if out.EstimatedValue != nil && out.ListPrice != nil {
		diff := *out.EstimatedValue - *out.ListPrice
		out.PriceDiff = &diff
	} else {
		out.PriceDiff = preferPresent(existing.PriceDiff, incoming.PriceDiff)
	}

	return out
}

// preferPresent keeps the existing value only when the incoming one is
// absent; a present incoming value always wins (last seen wins).
func preferPresent[T any](existing, incoming *T) *T {
	if incoming != nil {
		return incoming
	}
	return existing
}

// maxOf treats counters as monotonic: the larger value is authoritative.
func maxOf(a, b *float64) *float64 {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *a > *b:
		return a
	default:
		return b
	}
}

// stickySource keeps a specific regional label against a generic fallback.
// Labels carrying a qualifier (e.g. "Uppsala (top floor)") are specific;
// bare region names are generic.
func stickySource(existing, incoming string) string {
	switch {
	case incoming == "":
		return existing
	case existing == "":
		return incoming
	case isSpecificSource(existing) && !isSpecificSource(incoming):
		return existing
	default:
		return incoming
	}
}

func isSpecificSource(label string) bool {
	return strings.Contains(label, "(")
}

// SortByPriceDiff orders listings by descending price delta, listings
// without a delta last. Ties keep input order.
func SortByPriceDiff(records []listing.Listing) {
	sort.SliceStable(records, func(i, j int) bool {
		return priceDiffOrMin(records[i]) > priceDiffOrMin(records[j])
	})
}

func priceDiffOrMin(l listing.Listing) float64 {
	if l.PriceDiff == nil {
		return -1e9
	}
	return *l.PriceDiff
}
