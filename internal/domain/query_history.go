package domain

import "time"

// QueryHistoryEntry records the outcome of one logical query.
type QueryHistoryEntry struct {
	ID           int64
	RequestID    string
	RefID        string
	QueryID      string
	RawQuery     string
	State        LoadingState
	RequestCount int
	ExecutionMs  *int64
	BytesScanned int64
	BytesMetered int64
	ErrorMessage *string
	CreatedAt    time.Time
}

// QueryHistoryFilter holds filter parameters for listing query history.
type QueryHistoryFilter struct {
	RefID *string
	State *string
	Page  PageRequest
}
