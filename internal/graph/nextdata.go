package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoDataGraph is returned when a page carries no embedded data graph.
// The caller skips the page; the crawl continues.
var ErrNoDataGraph = errors.New("no embedded data graph in page")

// ListingKeyPrefix identifies listing nodes in the graph table.
const ListingKeyPrefix = "Listing:"

// nextDataMarker is the script element carrying the serialized page state.
const nextDataMarker = "__NEXT_DATA__"

// ParseNextData extracts the reference-graph table from a page's
// __NEXT_DATA__ script. The graph lives at props.pageProps.__APOLLO_STATE__,
// with the older locations props.pageProps.apolloState and
// props.__APOLLO_STATE__ as fallbacks.
func ParseNextData(html string) (Graph, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	raw := doc.Find("script#" + nextDataMarker).First().Text()
	if strings.TrimSpace(raw) == "" {
		return nil, ErrNoDataGraph
	}

	var payload struct {
		Props struct {
			PageProps struct {
				ApolloState    map[string]any `json:"__APOLLO_STATE__"`
				ApolloStateAlt map[string]any `json:"apolloState"`
			} `json:"pageProps"`
			ApolloState map[string]any `json:"__APOLLO_STATE__"`
		} `json:"props"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", nextDataMarker, err)
	}

	for _, state := range []map[string]any{
		payload.Props.PageProps.ApolloState,
		payload.Props.PageProps.ApolloStateAlt,
		payload.Props.ApolloState,
	} {
		if len(state) > 0 {
			return Graph(state), nil
		}
	}
	return nil, ErrNoDataGraph
}

// HasDataGraph is a cheap substring probe used to decide whether a page
// needs headless rendering before the full parse is attempted.
func HasDataGraph(html string) bool {
	return strings.Contains(html, nextDataMarker)
}

// ListingKeys returns the keys of all listing nodes. Map iteration order
// applies; callers sort if they need determinism.
func ListingKeys(g Graph) []string {
	keys := make([]string, 0)
	for k := range g {
		if strings.HasPrefix(k, ListingKeyPrefix) {
			keys = append(keys, k)
		}
	}
	return keys
}
