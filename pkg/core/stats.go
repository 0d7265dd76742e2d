package core

import "time"

// Count is one (key, occurrences) entry of a frequency mapping.
type Count struct {
	Key   string
	Count int64
}

// Counts is a frequency mapping that keeps first-encountered key order.
type Counts []Count

// Get returns the count stored for key.
func (c Counts) Get(key string) (int64, bool) {
	for _, e := range c {
		if e.Key == key {
			return e.Count, true
		}
	}
	return 0, false
}

// Sum returns the total of all counts.
func (c Counts) Sum() int64 {
	var total int64
	for _, e := range c {
		total += e.Count
	}
	return total
}

// TopIPLimit is the length of every ranked IP list, per job and across jobs.
const TopIPLimit = 5

// IPCount is one entry of a ranked IP list.
type IPCount struct {
	Address string `json:"address"`
	Count   int64  `json:"count"`
}

// RawStats is the per-job statistics record produced by the worker.
// It is immutable once written.
type RawStats struct {
	JobID             string
	LevelDistribution Counts
	KeywordFrequency  Counts
	UniqueIPs         int64
	TopIPs            []IPCount
	IPOccurrences     Counts
	CreatedAt         time.Time
}

// LevelDetail is one entry of the errors or levels facet.
type LevelDetail struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// KeywordDetail is one entry of the keywords facet.
type KeywordDetail struct {
	Word  string `json:"word"`
	Count int64  `json:"count"`
}

// ErrorFacet summarizes ERROR and CRITICAL occurrences.
type ErrorFacet struct {
	Total   int64         `json:"total"`
	Details []LevelDetail `json:"details"`
}

// IPFacet summarizes source addresses.
type IPFacet struct {
	Unique int64     `json:"unique"`
	Top    []IPCount `json:"top"`
}

// KeywordFacet summarizes keyword matches.
type KeywordFacet struct {
	Total   int64           `json:"total"`
	Matches []KeywordDetail `json:"matches"`
}

// LevelFacet summarizes the log-level distribution.
type LevelFacet struct {
	Total   int64         `json:"total"`
	Details []LevelDetail `json:"details"`
}

// View is the aggregated statistics view served to dashboards.
type View struct {
	Errors   ErrorFacet   `json:"errors"`
	IPs      IPFacet      `json:"ips"`
	Keywords KeywordFacet `json:"keywords"`
	Levels   LevelFacet   `json:"levels"`
}

// EmptyView returns an all-zero view whose lists are empty, not nil.
func EmptyView() View {
	return View{
		Errors:   ErrorFacet{Details: []LevelDetail{}},
		IPs:      IPFacet{Top: []IPCount{}},
		Keywords: KeywordFacet{Matches: []KeywordDetail{}},
		Levels:   LevelFacet{Details: []LevelDetail{}},
	}
}
