// Package listing defines core types shared across the ingestion pipeline.
package listing

import (
	"encoding/json"
	"time"
)

// Listing is the normalized unit of work: one property extracted from a
// resolved graph node. Optional fields are pointers; a nil value means the
// source simply did not carry the field, which is not an error.
type Listing struct {
	BooliID        string   `json:"booliId"`
	URL            string   `json:"url"`
	Address        *string  `json:"address"`
	Area           string   `json:"area"`
	City           *string  `json:"city"`
	ListPrice      *float64 `json:"listPrice"`
	EstimatedValue *float64 `json:"estimatedValue"`
	PriceDiff      *float64 `json:"priceDiff"`
	SoldPrice      *float64 `json:"soldPrice"`
	Rooms          *float64 `json:"rooms"`
	LivingArea     *float64 `json:"livingArea"`
	Rent           *float64 `json:"rent"`
	Floor          *float64 `json:"floor"`
	PageViews      *float64 `json:"pageViews"`
	DaysActive     *float64 `json:"daysActive"`
	BiddingOpen    bool     `json:"biddingOpen"`
	IsSold         bool     `json:"isSold"`
	NextShowing    *string  `json:"nextShowing"`
	Published      *string  `json:"published"`
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
	ImageURL       *string  `json:"imageUrl"`
	SearchSource   string   `json:"searchSource"`
	SourcePage     string   `json:"sourcePage"`
}

// ChangeType classifies one change event between two snapshots.
type ChangeType string

// Change event types persisted in the snapshot.
const (
	ChangeNew              ChangeType = "new"
	ChangeRemoved          ChangeType = "removed"
	ChangePriceChanged     ChangeType = "priceChanged"
	ChangeValuationChanged ChangeType = "valuationChanged"
)

// ChangeEvent records one difference against the previous snapshot,
// keyed by canonical URL.
type ChangeEvent struct {
	URL     string     `json:"url"`
	Type    ChangeType `json:"type"`
	Details string     `json:"details"`
}

// Meta describes one completed run.
type Meta struct {
	RunID           string   `json:"runId"`
	GeneratedAt     string   `json:"generatedAt"`
	CrawledAt       string   `json:"crawledAt"`
	InputFiles      []string `json:"inputFiles"`
	PagesCrawled    int      `json:"pagesCrawled"`
	ObjectsAnalyzed int      `json:"objectsAnalyzed"`
	CacheHitRatio   float64  `json:"cacheHitRatio"`
}

// Snapshot is the full persisted state of one run and the baseline for the
// next run's change detection. Rankings and Groups are produced by the
// downstream scoring stage and pass through the core untouched.
type Snapshot struct {
	Meta     Meta            `json:"meta"`
	Objects  []Listing       `json:"objects"`
	Rankings json.RawMessage `json:"rankings,omitempty"`
	Groups   json.RawMessage `json:"groups,omitempty"`
	Changes  []ChangeEvent   `json:"changes"`
	Errors   []string        `json:"errors"`
}

// ByURL indexes the snapshot's objects by canonical URL.
func (s *Snapshot) ByURL() map[string]Listing {
	m := make(map[string]Listing, len(s.Objects))
	for _, obj := range s.Objects {
		if obj.URL != "" {
			m[obj.URL] = obj
		}
	}
	return m
}

// RawPage is one fetched page as stored in the cache. Immutable once
// written; superseded only when its TTL expires and a refetch succeeds.
type RawPage struct {
	URL       string    `json:"url"`
	Status    int       `json:"status"`
	FetchedAt time.Time `json:"fetchedAt"`
	HTML      string    `json:"html"`
}
