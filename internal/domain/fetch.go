package domain

import "time"

// FetchRun is the append-only history row written once per completed cycle.
type FetchRun struct {
	ID                int64     `db:"id" json:"id"`
	CycleID           string    `db:"cycle_id" json:"cycle_id"`
	FetchedAt         time.Time `db:"fetch_timestamp" json:"fetch_timestamp"`
	QueryTerm         string    `db:"query_term" json:"query_term"`
	TotalResults      int       `db:"total_results" json:"total_results"`
	NewSalesAdded     int       `db:"new_sales_added" json:"new_sales_added"`
	DuplicatesSkipped int       `db:"duplicates_skipped" json:"duplicates_skipped"`
	Errors            *string   `db:"errors" json:"errors,omitempty"`
}

// CycleStats holds statistics about a single ingestion cycle.
type CycleStats struct {
	CycleID      string
	StartedAt    time.Time
	TotalFetched int // listings extracted across all terms
	BoxSales     int
	Filtered     int // listings classified as non-box
	Stale        int // box sales older than the minimum admissible date
	New          int
	Duplicates   int
	ByVariant    map[Variant]int
	Errors       []string
	Duration     time.Duration
}

// NewCycleStats returns zeroed stats with a counter for every variant.
func NewCycleStats(cycleID string, startedAt time.Time) *CycleStats {
	byVariant := make(map[Variant]int, len(Variants))
	for _, v := range Variants {
		byVariant[v] = 0
	}
	return &CycleStats{
		CycleID:   cycleID,
		StartedAt: startedAt,
		ByVariant: byVariant,
	}
}

// SchedulerStatus is a point-in-time view of the scheduler.
type SchedulerStatus struct {
	Running          bool       `json:"running"`
	IntervalSeconds  int64      `json:"interval_seconds"`
	LastRun          *time.Time `json:"last_run"`
	NextRun          *time.Time `json:"next_run"`
	ProxyPoolSize    int        `json:"proxies_loaded"`
	ClassifierLoaded bool       `json:"classifier_loaded"`
}
