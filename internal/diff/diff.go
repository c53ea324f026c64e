// Package diff compares the current record set against the previous
// snapshot and emits typed change events.
package diff

import (
	"fmt"
	"sort"

	"github.com/ahenriksson/bowatch/internal/listing"
	"github.com/ahenriksson/bowatch/internal/metrics"
)

// Changes diffs two keyed record sets. Matching is strictly by canonical
// URL; a listing that moved URL shows up as one removed plus one new event.
// For a key present in both sets at most one event is emitted: a list-price
// change takes priority over a valuation change.
func Changes(current, previous map[string]listing.Listing) []listing.ChangeEvent {
	events := make([]listing.ChangeEvent, 0)

	for _, url := range sortedKeys(current) {
		curr := current[url]
		old, existed := previous[url]
		switch {
		case !existed:
			events = append(events, event(url, listing.ChangeNew, "New listing"))
		case !equalValue(curr.ListPrice, old.ListPrice):
			events = append(events, event(url, listing.ChangePriceChanged,
				fmt.Sprintf("Price %s -> %s", formatValue(old.ListPrice), formatValue(curr.ListPrice))))
		case !equalValue(curr.EstimatedValue, old.EstimatedValue):
			events = append(events, event(url, listing.ChangeValuationChanged,
				fmt.Sprintf("Valuation %s -> %s", formatValue(old.EstimatedValue), formatValue(curr.EstimatedValue))))
		}
	}

	for _, url := range sortedKeys(previous) {
		if _, present := current[url]; !present {
			events = append(events, event(url, listing.ChangeRemoved, "Listing removed"))
		}
	}

	return events
}

func event(url string, kind listing.ChangeType, details string) listing.ChangeEvent {
	metrics.ObserveChange(string(kind))
	return listing.ChangeEvent{URL: url, Type: kind, Details: details}
}

func equalValue(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func formatValue(v *float64) string {
	if v == nil {
		return "None"
	}
	return fmt.Sprintf("%.0f", *v)
}

func sortedKeys(m map[string]listing.Listing) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
