package domain

import (
	"strings"
	"time"
	"unicode"
)

// Match policy thresholds, expressed as confidence percentages
const (
	// AutoAcceptThreshold is the minimum confidence linked without review
	AutoAcceptThreshold = 85.0

	// ReviewThreshold is the similarity floor for a candidate to be considered at all
	ReviewThreshold = 70.0

	// MaxMatchCandidates bounds the fuzzy candidate list
	MaxMatchCandidates = 5

	// UPCMatchConfidence is the confidence of an exact UPC hit
	UPCMatchConfidence = 100.0
)

// MatchStatus is the state of a queued product
type MatchStatus string

const (
	MatchStatusPending      MatchStatus = "pending"
	MatchStatusMatched      MatchStatus = "matched"
	MatchStatusManualReview MatchStatus = "manual_review"
	MatchStatusCompleted    MatchStatus = "completed"
	MatchStatusFailed       MatchStatus = "failed"
)

// MatchType records how a decision was reached
type MatchType string

const (
	MatchTypeUPCExact  MatchType = "upc_exact"
	MatchTypeNameFuzzy MatchType = "name_fuzzy"
	MatchTypeManual    MatchType = "manual"
	MatchTypeNone      MatchType = "none"
)

// CanonicalProduct is a deduplicated catalog entry several listings can point to
type CanonicalProduct struct {
	ID             string    `json:"id"`
	UPC            string    `json:"upc,omitempty"`
	Name           string    `json:"name"`
	NormalizedName string    `json:"normalized_name"`
	Category       string    `json:"category,omitempty"`
	Manufacturer   string    `json:"manufacturer,omitempty"`
	ModelYear      *int      `json:"model_year,omitempty"`
	ImageCount     int       `json:"image_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ProductInput is an ingested product to be matched
type ProductInput struct {
	ProductID    string `json:"product_id" validate:"required"`
	UPC          string `json:"upc,omitempty"`
	Name         string `json:"name" validate:"required"`
	Category     string `json:"category,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	ModelYear    *int   `json:"model_year,omitempty"`
	ImageCount   int    `json:"image_count,omitempty"`
}

// MatchCandidate is a catalog entry with its name similarity (0-100)
type MatchCandidate struct {
	Product    *CanonicalProduct `json:"product"`
	Similarity float64           `json:"similarity"`
}

// MatchResult is the outcome of matching one product
type MatchResult struct {
	// CanonicalProductID is empty unless the match can be linked without review
	CanonicalProductID string            `json:"canonical_product_id,omitempty"`
	Confidence         float64           `json:"confidence"`
	MatchType          MatchType         `json:"match_type"`
	RequiresReview     bool              `json:"requires_review"`
	Candidates         []*MatchCandidate `json:"candidates,omitempty"`
}

// TopSuggestion returns the best candidate id, if any.
func (r *MatchResult) TopSuggestion() string {
	if len(r.Candidates) == 0 || r.Candidates[0].Product == nil {
		return ""
	}
	return r.Candidates[0].Product.ID
}

// MatchQueueItem tracks one product through the matching pipeline
type MatchQueueItem struct {
	ID                   string      `json:"id"`
	ProductID            string      `json:"product_id"`
	UPC                  string      `json:"upc,omitempty"`
	ProductName          string      `json:"product_name"`
	Category             string      `json:"category,omitempty"`
	Manufacturer         string      `json:"manufacturer,omitempty"`
	Status               MatchStatus `json:"status"`
	MatchConfidence      float64     `json:"match_confidence"`
	MatchType            MatchType   `json:"match_type"`
	SuggestedCanonicalID string      `json:"suggested_canonical_id,omitempty"`
	LinkedCanonicalID    string      `json:"linked_canonical_id,omitempty"`
	Attempts             int         `json:"attempts"`
	LastError            string      `json:"last_error,omitempty"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// ToProductInput rebuilds the matcher input from the queued copy.
func (q *MatchQueueItem) ToProductInput() ProductInput {
	return ProductInput{
		ProductID:    q.ProductID,
		UPC:          q.UPC,
		Name:         q.ProductName,
		Category:     q.Category,
		Manufacturer: q.Manufacturer,
	}
}

// SameInput reports whether o carries the same listing data as q.
func (q *MatchQueueItem) SameInput(o *MatchQueueItem) bool {
	return q.UPC == o.UPC && q.ProductName == o.ProductName &&
		q.Category == o.Category && q.Manufacturer == o.Manufacturer
}

// Requeue resets q from a fresh enqueue of the same product. The id and
// creation time are kept. Items whose listing data did not change keep
// their progress, except failed ones, which go back to pending.
func (q *MatchQueueItem) Requeue(fresh *MatchQueueItem) bool {
	if q.SameInput(fresh) && q.Status != MatchStatusFailed {
		return false
	}
	q.UPC = fresh.UPC
	q.ProductName = fresh.ProductName
	q.Category = fresh.Category
	q.Manufacturer = fresh.Manufacturer
	q.Status = fresh.Status
	q.MatchConfidence = fresh.MatchConfidence
	q.MatchType = fresh.MatchType
	q.SuggestedCanonicalID = fresh.SuggestedCanonicalID
	q.LinkedCanonicalID = fresh.LinkedCanonicalID
	q.Attempts = fresh.Attempts
	q.LastError = fresh.LastError
	q.UpdatedAt = fresh.UpdatedAt
	return true
}

// CatalogQuery restricts a fuzzy catalog search
type CatalogQuery struct {
	NormalizedName string
	Category       string
	Manufacturer   string
	MinSimilarity  float64
	Limit          int
}

// BatchResult summarises one ProcessPendingQueue run
type BatchResult struct {
	Processed    int `json:"processed"`
	Matched      int `json:"matched"`
	ManualReview int `json:"manual_review"`
	Failed       int `json:"failed"`
}

// NormalizeUPC trims, strips all whitespace and uppercases a UPC.
func NormalizeUPC(upc string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, strings.TrimSpace(upc))
}

// NormalizeName lowercases, drops punctuation and collapses whitespace.
func NormalizeName(name string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}
