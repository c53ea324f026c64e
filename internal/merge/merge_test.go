package merge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ahenriksson/bowatch/internal/listing"
)

func f64(v float64) *float64 { return &v }
func str(s string) *string   { return &s }

func TestMerge_OneRecordPerURL(t *testing.T) {
	t.Parallel()

	records := []listing.Listing{
		{URL: "https://www.booli.se/bostad/1", BooliID: "1"},
		{URL: "https://www.booli.se/bostad/2", BooliID: "2"},
		{URL: "https://www.booli.se/bostad/1", BooliID: "1"},
		{URL: "https://www.booli.se/bostad/2", BooliID: "2"},
		{URL: "https://www.booli.se/bostad/1", BooliID: "1"},
	}

	set := Merge(records)
	require.Equal(t, 2, set.Len())
	require.Len(t, set.Listings(), 2)
}

func TestMerge_SkipsRecordsWithoutURL(t *testing.T) {
	t.Parallel()

	set := Merge([]listing.Listing{{BooliID: "1"}, {URL: "https://www.booli.se/bostad/2"}})
	require.Equal(t, 1, set.Len())
}

func TestMerge_Idempotent(t *testing.T) {
	t.Parallel()

	records := []listing.Listing{
		{URL: "https://www.booli.se/bostad/1", PageViews: f64(10), ListPrice: f64(2e6), SearchSource: "Stockholm"},
		{URL: "https://www.booli.se/bostad/2", Rooms: f64(3), SearchSource: "Uppsala (top floor)"},
	}

	once := Merge(records)
	twice := Merge(append(once.Listings(), once.Listings()...))
	require.Equal(t, once.ByURL(), twice.ByURL())
}

func TestMerge_CountersTakeMaximum(t *testing.T) {
	t.Parallel()

	url := "https://www.booli.se/bostad/5965916"
	set := Merge([]listing.Listing{
		{URL: url, PageViews: f64(12), DaysActive: f64(4)},
		{URL: url, PageViews: f64(5), DaysActive: f64(9)},
	})

	got, ok := set.Get(url)
	require.True(t, ok)
	require.Equal(t, 12.0, *got.PageViews, "a regressed counter keeps the larger value")
	require.Equal(t, 9.0, *got.DaysActive)
}

func TestMerge_SecondBatchMissingFieldsKeepsFirst(t *testing.T) {
	t.Parallel()

	// Two source batches share key K: pageViews 5 then 12, everything else
	// missing in the second. The merged record carries pageViews 12 and all
	// non-nil fields from the first.
	url := "https://www.booli.se/bostad/K"
	first := listing.Listing{
		URL:          url,
		BooliID:      "K",
		Address:      str("Storgatan 1"),
		ListPrice:    f64(2500000),
		Rooms:        f64(3),
		LivingArea:   f64(70),
		PageViews:    f64(5),
		SearchSource: "Stockholm",
	}
	second := listing.Listing{URL: url, PageViews: f64(12)}

	set := Merge([]listing.Listing{first, second})
	got, ok := set.Get(url)
	require.True(t, ok)
	require.Equal(t, 12.0, *got.PageViews)
	require.Equal(t, "Storgatan 1", *got.Address)
	require.Equal(t, 2500000.0, *got.ListPrice)
	require.Equal(t, 3.0, *got.Rooms)
	require.Equal(t, 70.0, *got.LivingArea)
	require.Equal(t, "K", got.BooliID)
}

func TestMerge_PresentIncomingValueWins(t *testing.T) {
	t.Parallel()

	url := "https://www.booli.se/bostad/9"
	set := Merge([]listing.Listing{
		{URL: url, ListPrice: f64(2000000)},
		{URL: url, ListPrice: f64(1950000)},
	})

	got, _ := set.Get(url)
	require.Equal(t, 1950000.0, *got.ListPrice, "last seen present value wins")
}

func TestMerge_SoldFlagIsSticky(t *testing.T) {
	t.Parallel()

	url := "https://www.booli.se/bostad/3"
	set := Merge([]listing.Listing{
		{URL: url, IsSold: true, SoldPrice: f64(3100000)},
		{URL: url, IsSold: false},
	})

	got, _ := set.Get(url)
	require.True(t, got.IsSold)
	require.Equal(t, 3100000.0, *got.SoldPrice)
}

func TestMerge_SpecificSourceLabelIsSticky(t *testing.T) {
	t.Parallel()

	url := "https://www.booli.se/bostad/4"

	set := Merge([]listing.Listing{
		{URL: url, SearchSource: "Uppsala (top floor)"},
		{URL: url, SearchSource: "Uppsala"},
	})
	got, _ := set.Get(url)
	require.Equal(t, "Uppsala (top floor)", got.SearchSource)

	// A specific label may still replace another label.
	set = Merge([]listing.Listing{
		{URL: url, SearchSource: "Uppsala"},
		{URL: url, SearchSource: "Uppsala (top floor)"},
	})
	got, _ = set.Get(url)
	require.Equal(t, "Uppsala (top floor)", got.SearchSource)
}

func TestMerge_PriceDiffRecomputedFromMergedFields(t *testing.T) {
	t.Parallel()

	url := "https://www.booli.se/bostad/8"
	set := Merge([]listing.Listing{
		{URL: url, ListPrice: f64(2000000)},
		{URL: url, EstimatedValue: f64(2300000)},
	})

	got, _ := set.Get(url)
	require.Equal(t, 300000.0, *got.PriceDiff)
}

func TestSortByPriceDiff(t *testing.T) {
	t.Parallel()

	records := []listing.Listing{
		{URL: "a", PriceDiff: f64(100000)},
		{URL: "b"},
		{URL: "c", PriceDiff: f64(450000)},
	}
	SortByPriceDiff(records)
	require.Equal(t, "c", records[0].URL)
	require.Equal(t, "a", records[1].URL)
	require.Equal(t, "b", records[2].URL, "listings without a delta sort last")
}
