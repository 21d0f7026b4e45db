package domain

import "time"

// DefaultSalesWindowDays is how far back a sync fetches completed sales
const DefaultSalesWindowDays = 30

// SyncResource names a resource family fetched by a sync
type SyncResource string

const (
	SyncResourceAccount    SyncResource = "account"
	SyncResourceItems      SyncResource = "items"
	SyncResourceCategories SyncResource = "categories"
	SyncResourceCustomers  SyncResource = "customers"
	SyncResourceShops      SyncResource = "shops"
	SyncResourceSales      SyncResource = "sales"
)

// SyncOptions tunes a sync run
type SyncOptions struct {
	// SalesWindowDays bounds the sales fetch; zero means DefaultSalesWindowDays
	SalesWindowDays int `json:"sales_window_days,omitempty" validate:"gte=0,lte=365"`

	// EnqueueItems feeds every fetched item into the match queue
	EnqueueItems bool `json:"enqueue_items,omitempty"`
}

// WindowDays returns the effective sales window.
func (o SyncOptions) WindowDays() int {
	if o.SalesWindowDays <= 0 {
		return DefaultSalesWindowDays
	}
	return o.SalesWindowDays
}

// ResourceResult is the outcome of one resource family
type ResourceResult struct {
	Resource SyncResource `json:"resource"`
	Count    int          `json:"count"`
	Error    string       `json:"error,omitempty"`
}

// SyncReport collects per-resource outcomes of a sync run
type SyncReport struct {
	UserID     string            `json:"user_id"`
	AccountID  string            `json:"account_id,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Resources  []*ResourceResult `json:"resources"`
	Enqueued   int               `json:"enqueued,omitempty"`
}

// Record appends a resource outcome.
func (r *SyncReport) Record(resource SyncResource, count int, err error) {
	res := &ResourceResult{Resource: resource, Count: count}
	if err != nil {
		res.Error = err.Error()
	}
	r.Resources = append(r.Resources, res)
}

// Succeeded returns the number of resource families without error.
func (r *SyncReport) Succeeded() int {
	n := 0
	for _, res := range r.Resources {
		if res.Error == "" {
			n++
		}
	}
	return n
}

// Failed returns the resource families that errored.
func (r *SyncReport) Failed() []*ResourceResult {
	var failed []*ResourceResult
	for _, res := range r.Resources {
		if res.Error != "" {
			failed = append(failed, res)
		}
	}
	return failed
}
