package diff

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ahenriksson/bowatch/internal/listing"
)

func f64(v float64) *float64 { return &v }

func byURL(ls ...listing.Listing) map[string]listing.Listing {
	m := make(map[string]listing.Listing, len(ls))
	for _, l := range ls {
		m[l.URL] = l
	}
	return m
}

func TestChanges_IdenticalSetsEmitNothing(t *testing.T) {
	t.Parallel()

	s := byURL(
		listing.Listing{URL: "https://www.booli.se/bostad/1", ListPrice: f64(2e6), EstimatedValue: f64(2.2e6)},
		listing.Listing{URL: "https://www.booli.se/bostad/2"},
	)
	require.Empty(t, Changes(s, s))
}

func TestChanges_NewKey(t *testing.T) {
	t.Parallel()

	prev := byURL(listing.Listing{URL: "https://www.booli.se/bostad/1"})
	curr := byURL(
		listing.Listing{URL: "https://www.booli.se/bostad/1"},
		listing.Listing{URL: "https://www.booli.se/bostad/2"},
	)

	events := Changes(curr, prev)
	require.Len(t, events, 1)
	require.Equal(t, listing.ChangeNew, events[0].Type)
	require.Equal(t, "https://www.booli.se/bostad/2", events[0].URL)
}

func TestChanges_RemovedKey(t *testing.T) {
	t.Parallel()

	prev := byURL(
		listing.Listing{URL: "https://www.booli.se/bostad/1"},
		listing.Listing{URL: "https://www.booli.se/bostad/2"},
	)
	curr := byURL(listing.Listing{URL: "https://www.booli.se/bostad/1"})

	events := Changes(curr, prev)
	require.Len(t, events, 1)
	require.Equal(t, listing.ChangeRemoved, events[0].Type)
	require.Equal(t, "https://www.booli.se/bostad/2", events[0].URL)
}

func TestChanges_PriceChange(t *testing.T) {
	t.Parallel()

	url := "https://www.booli.se/bostad/1"
	prev := byURL(listing.Listing{URL: url, ListPrice: f64(2000000)})
	curr := byURL(listing.Listing{URL: url, ListPrice: f64(1950000)})

	events := Changes(curr, prev)
	require.Len(t, events, 1)
	require.Equal(t, listing.ChangePriceChanged, events[0].Type)
	require.Equal(t, "Price 2000000 -> 1950000", events[0].Details)
}

func TestChanges_ValuationChange(t *testing.T) {
	t.Parallel()

	url := "https://www.booli.se/bostad/1"
	prev := byURL(listing.Listing{URL: url, ListPrice: f64(2e6), EstimatedValue: f64(2.2e6)})
	curr := byURL(listing.Listing{URL: url, ListPrice: f64(2e6), EstimatedValue: f64(2.3e6)})

	events := Changes(curr, prev)
	require.Len(t, events, 1)
	require.Equal(t, listing.ChangeValuationChanged, events[0].Type)
}

func TestChanges_PriceChangeShadowsValuationChange(t *testing.T) {
	t.Parallel()

	url := "https://www.booli.se/bostad/1"
	prev := byURL(listing.Listing{URL: url, ListPrice: f64(2e6), EstimatedValue: f64(2.2e6)})
	curr := byURL(listing.Listing{URL: url, ListPrice: f64(1.9e6), EstimatedValue: f64(2.5e6)})

	events := Changes(curr, prev)
	require.Len(t, events, 1)
	require.Equal(t, listing.ChangePriceChanged, events[0].Type)
}

func TestChanges_NilBecomingPresentIsAChange(t *testing.T) {
	t.Parallel()

	url := "https://www.booli.se/bostad/1"
	prev := byURL(listing.Listing{URL: url})
	curr := byURL(listing.Listing{URL: url, ListPrice: f64(2e6)})

	events := Changes(curr, prev)
	require.Len(t, events, 1)
	require.Equal(t, listing.ChangePriceChanged, events[0].Type)
	require.Equal(t, "Price None -> 2000000", events[0].Details)
}

func TestChanges_URLMoveIsRemovedPlusNew(t *testing.T) {
	t.Parallel()

	prev := byURL(listing.Listing{URL: "https://www.booli.se/bostad/old", ListPrice: f64(2e6)})
	curr := byURL(listing.Listing{URL: "https://www.booli.se/bostad/new", ListPrice: f64(2e6)})

	events := Changes(curr, prev)
	require.Len(t, events, 2)
	require.Equal(t, listing.ChangeNew, events[0].Type)
	require.Equal(t, listing.ChangeRemoved, events[1].Type)
}

func TestChanges_DeterministicOrder(t *testing.T) {
	t.Parallel()

	curr := byURL(
		listing.Listing{URL: "https://www.booli.se/bostad/c"},
		listing.Listing{URL: "https://www.booli.se/bostad/a"},
		listing.Listing{URL: "https://www.booli.se/bostad/b"},
	)
	events := Changes(curr, map[string]listing.Listing{})
	require.Equal(t, "https://www.booli.se/bostad/a", events[0].URL)
	require.Equal(t, "https://www.booli.se/bostad/b", events[1].URL)
	require.Equal(t, "https://www.booli.se/bostad/c", events[2].URL)
}
