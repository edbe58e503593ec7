package domain

import "time"

// FormatOption defines how the caller wants results shaped.
type FormatOption uint32

const (
	// FormatTable returns the backend rows as a single table.
	FormatTable FormatOption = iota
	// FormatTimeSeries converts long tables into wide time series.
	FormatTimeSeries
)

// DefaultMaxDataPoints is used when the host sends no point budget.
const DefaultMaxDataPoints int64 = 1024

// TimeRange is the absolute time window of a request.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Duration returns the length of the range.
func (r TimeRange) Duration() time.Duration {
	return r.To.Sub(r.From)
}

// Query is one logical query as submitted by the host. A continuation is a
// new Query derived from the previous page, never a mutation of this one.
type Query struct {
	RefID     string `json:"refId"`
	RawQuery  string `json:"rawQuery,omitempty"`
	NextToken string `json:"nextToken,omitempty"`

	// Optional overrides for the $__database, $__table and $__measure macros.
	Database string `json:"database,omitempty"`
	Table    string `json:"table,omitempty"`
	Measure  string `json:"measure,omitempty"`

	// Deliver only the final merged result instead of every page.
	WaitForResult bool         `json:"waitForResult,omitempty"`
	Format        FormatOption `json:"format"`
	Hide          bool         `json:"hide,omitempty"`

	// Not from JSON
	RequestID     string        `json:"-"`
	TimeRange     TimeRange     `json:"-"`
	Interval      time.Duration `json:"-"`
	MaxDataPoints int64         `json:"-"`
}

// VariableValue is the current value of a template variable. Multi-value
// variables carry more than one entry in Values.
type VariableValue struct {
	Text   string   `json:"text"`
	Values []string `json:"values,omitempty"`
}

// IsMulti reports whether the variable holds several values.
func (v VariableValue) IsMulti() bool {
	return len(v.Values) > 1
}

// ScopedVars maps variable names (without the leading $) to their values.
type ScopedVars map[string]VariableValue

// Request is a batch of queries sharing a time range, as issued by the host.
type Request struct {
	RequestID     string
	Targets       []Query
	Range         TimeRange
	Interval      time.Duration
	MaxDataPoints int64
	ScopedVars    ScopedVars
}
