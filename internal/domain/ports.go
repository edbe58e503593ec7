package domain

import "context"

// QueryBackend executes one page of a query. A backend that returns an error
// failed outright; a backend that reports a problem while still returning
// data does so through a Response with StateError.
type QueryBackend interface {
	Execute(ctx context.Context, q Query) (*Response, error)
	CancelExecution(ctx context.Context, queryID string) (string, error)
}

// SchemaBackend lists the objects that can be queried.
type SchemaBackend interface {
	ListDatabases(ctx context.Context) ([]string, error)
	ListTables(ctx context.Context, database string) ([]string, error)
	ListMeasures(ctx context.Context, database, table string) ([]MeasureInfo, error)
}

// Backend is a data source that both pages queries and answers schema lookups.
type Backend interface {
	QueryBackend
	SchemaBackend
}

// HistoryRepository persists the outcome of finished logical queries.
type HistoryRepository interface {
	Insert(ctx context.Context, e *QueryHistoryEntry) error
	List(ctx context.Context, filter QueryHistoryFilter) ([]QueryHistoryEntry, int64, error)
}
