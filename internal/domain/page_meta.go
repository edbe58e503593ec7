package domain

import (
	"encoding/json"

	"github.com/grafana/grafana-plugin-sdk-go/data"
)

// QueryStatus holds the backend's byte counters. Both counters are cumulative
// for the logical query, so the latest page carries the running total.
type QueryStatus struct {
	CumulativeBytesMetered int64 `json:"CumulativeBytesMetered,omitempty"`
	CumulativeBytesScanned int64 `json:"CumulativeBytesScanned,omitempty"`
}

// PageMeta is the metadata a backend attaches to the first frame of every
// page. The continuation loop reuses the same shape for the accumulated
// tracker snapshot, in which case Subs lists one entry per sub-request.
type PageMeta struct {
	QueryID   string `json:"queryId,omitempty"`
	NextToken string `json:"nextToken,omitempty"`
	HasSeries bool   `json:"hasSeries,omitempty"`
	RequestID string `json:"requestId,omitempty"`

	// Backend clock, unix milliseconds.
	ExecutionStartTime  int64 `json:"executionStartTime,omitempty"`
	ExecutionFinishTime int64 `json:"executionFinishTime,omitempty"`

	// Loop clock, unix milliseconds.
	FetchStartTime int64 `json:"fetchStartTime,omitempty"`
	FetchEndTime   int64 `json:"fetchEndTime,omitempty"`
	FetchTime      int64 `json:"fetchTime,omitempty"`

	RequestNumber int         `json:"requestNumber,omitempty"`
	Status        QueryStatus `json:"status"`
	Subs          []PageMeta  `json:"subs,omitempty"`
}

// Clone returns a deep copy of m.
func (m *PageMeta) Clone() *PageMeta {
	if m == nil {
		return nil
	}
	out := *m
	if m.Subs != nil {
		out.Subs = make([]PageMeta, len(m.Subs))
		for i := range m.Subs {
			out.Subs[i] = *m.Subs[i].Clone()
		}
	}
	return &out
}

// PageMetaOf returns the page metadata stored on f, or nil when the frame
// carries none. Frames decoded from JSON hold the metadata as a generic map,
// which is converted.
func PageMetaOf(f *data.Frame) *PageMeta {
	if f == nil || f.Meta == nil || f.Meta.Custom == nil {
		return nil
	}
	switch c := f.Meta.Custom.(type) {
	case *PageMeta:
		return c
	case PageMeta:
		return &c
	default:
		raw, err := json.Marshal(c)
		if err != nil {
			return nil
		}
		var m PageMeta
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil
		}
		return &m
	}
}

// FirstPageMeta returns the metadata of the first frame in frames.
func FirstPageMeta(frames data.Frames) *PageMeta {
	if len(frames) == 0 {
		return nil
	}
	return PageMetaOf(frames[0])
}

// SetPageMeta stores m on f, creating the frame metadata when needed.
func SetPageMeta(f *data.Frame, m *PageMeta) {
	if f.Meta == nil {
		f.Meta = &data.FrameMeta{}
	}
	f.Meta.Custom = m
}
