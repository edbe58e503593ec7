// Package pagination accumulates cross-page metadata for one logical query
// and derives the execution statistics reported with its final result.
package pagination

import (
	"time"

	"github.com/grafana/grafana-plugin-sdk-go/data"

	"pagequery/internal/domain"
)

// Tracker is the per-logical-query record of sub-requests. It is owned by a
// single continuation loop and is not safe for concurrent use.
type Tracker struct {
	now func() time.Time

	meta     domain.PageMeta
	started  bool
	finished bool
	stats    []data.QueryStat

	// Clock of the sub-request currently in flight.
	requestStart int64
	requestEnd   int64
}

// NewTracker returns an empty tracker. now defaults to time.Now.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

func (t *Tracker) millis() int64 {
	return t.now().UnixMilli()
}

// BeginRequest marks a sub-request as issued.
func (t *Tracker) BeginRequest() {
	t.requestStart = t.millis()
	t.requestEnd = 0
}

// EndRequest marks the response of the current sub-request as received.
func (t *Tracker) EndRequest() {
	t.requestEnd = t.millis()
}

// InFlight reports whether a sub-request has been issued and not yet answered.
func (t *Tracker) InFlight() bool {
	return t.requestStart != 0 && t.requestEnd == 0
}

// Started reports whether the first page has been recorded.
func (t *Tracker) Started() bool { return t.started }

// Finished reports whether the terminal page has been processed.
func (t *Tracker) Finished() bool { return t.finished }

// QueryID returns the backend query id captured from the first page.
func (t *Tracker) QueryID() string { return t.meta.QueryID }

// HasSeries reports whether the first page was time-series shaped.
func (t *Tracker) HasSeries() bool { return t.meta.HasSeries }

// nextToken returns the live continuation token.
func (t *Tracker) nextToken() string { return t.meta.NextToken }

// SubRequests returns the number of recorded sub-requests.
func (t *Tracker) SubRequests() int { return len(t.meta.Subs) }

// Snapshot returns a deep copy of the accumulated metadata.
func (t *Tracker) Snapshot() *domain.PageMeta {
	return t.meta.Clone()
}

// stamp copies the loop clock of the current sub-request onto page.
func (t *Tracker) stamp(page *domain.PageMeta) {
	page.FetchStartTime = t.requestStart
	page.FetchEndTime = t.requestEnd
	page.FetchTime = t.requestEnd - t.requestStart
}

// RecordFirstPage captures the query id, execution start, continuation token
// and shape of the first page. page is not modified.
func (t *Tracker) RecordFirstPage(page *domain.PageMeta) {
	m := *page.Clone()
	t.stamp(&m)
	m.Subs = []domain.PageMeta{}
	t.meta = m
	t.started = true
}

// RecordContinuationPage records a page after the first. When pagination is
// first detected the first page is recorded retroactively as sub-request 1.
// page is not modified.
func (t *Tracker) RecordContinuationPage(page *domain.PageMeta) {
	if !t.started {
		t.RecordFirstPage(page)
		return
	}

	if len(t.meta.Subs) == 0 {
		first := t.meta
		first.Subs = nil
		first.NextToken = ""
		first.QueryID = ""
		first.RequestNumber = 1
		t.meta.Subs = append(t.meta.Subs, first)
	}
	for i := range t.meta.Subs {
		t.meta.Subs[i].NextToken = ""
	}

	sub := *page.Clone()
	t.stamp(&sub)
	sub.Subs = nil
	sub.QueryID = ""
	sub.RequestNumber = len(t.meta.Subs) + 1
	t.meta.Subs = append(t.meta.Subs, sub)

	t.meta.NextToken = page.NextToken
	t.meta.RequestID = page.RequestID
	t.meta.FetchEndTime = t.requestEnd
	t.meta.FetchTime = t.requestEnd - t.meta.FetchStartTime
	if page.ExecutionFinishTime != 0 {
		t.meta.ExecutionFinishTime = page.ExecutionFinishTime
	}
	t.meta.Status = page.Status
}

// RecordFinalStats marks the tracker terminal and returns the derived
// statistics. Stats are only produced when both execution timestamps are
// known and execution took a positive amount of time. Calling it again
// returns the first result.
func (t *Tracker) RecordFinalStats() []data.QueryStat {
	if t.finished {
		return t.stats
	}
	t.finished = true
	t.meta.NextToken = ""

	if t.meta.ExecutionStartTime == 0 || t.meta.ExecutionFinishTime == 0 {
		return nil
	}
	execMs := t.meta.ExecutionFinishTime - t.meta.ExecutionStartTime
	if execMs <= 0 {
		return nil
	}

	var stats []data.QueryStat
	if n := len(t.meta.Subs); n > 0 {
		stats = append(stats, newStat("HTTP request count", float64(n), "none", nil))
	}
	stats = append(stats, newStat("Execution time", float64(execMs), "ms", decimals(2)))

	if t.meta.FetchStartTime != 0 {
		t.meta.FetchEndTime = t.millis()
		wallMs := t.meta.FetchEndTime - t.meta.FetchStartTime
		t.meta.FetchTime = wallMs - execMs
		if wallMs > execMs {
			stats = append(stats,
				newStat("Fetch time", float64(t.meta.FetchTime), "ms", decimals(2)),
				newStat("Fetch overhead", float64(t.meta.FetchTime)/float64(wallMs)*100, "percent", nil),
			)
		}
	}

	if v := t.meta.Status.CumulativeBytesMetered; v > 0 {
		value, unit := FormatDecBytes(v)
		stats = append(stats, newStat("Cumulative bytes metered", value, unit, decimals(2)))
	}
	if v := t.meta.Status.CumulativeBytesScanned; v > 0 {
		value, unit := FormatDecBytes(v)
		stats = append(stats, newStat("Cumulative bytes scanned", value, unit, decimals(2)))
	}

	t.stats = stats
	return stats
}

func newStat(name string, value float64, unit string, dec *uint16) data.QueryStat {
	return data.QueryStat{
		FieldConfig: data.FieldConfig{DisplayName: name, Unit: unit, Decimals: dec},
		Value:       value,
	}
}

func decimals(n uint16) *uint16 { return &n }
