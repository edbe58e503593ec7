package datasource

import (
	"context"
	"sync"

	"github.com/grafana/grafana-plugin-sdk-go/data"

	"pagequery/internal/domain"
)

type fakeBackend struct {
	mu      sync.Mutex
	queries []domain.Query

	ExecuteFn       func(q domain.Query) (*domain.Response, error)
	CancelFn        func(queryID string) (string, error)
	ListDatabasesFn func() ([]string, error)
	ListTablesFn    func(db string) ([]string, error)
	ListMeasuresFn  func(db, table string) ([]domain.MeasureInfo, error)
}

func (f *fakeBackend) Execute(_ context.Context, q domain.Query) (*domain.Response, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	return f.ExecuteFn(q)
}

func (f *fakeBackend) CancelExecution(_ context.Context, queryID string) (string, error) {
	return f.CancelFn(queryID)
}

func (f *fakeBackend) ListDatabases(_ context.Context) ([]string, error) {
	return f.ListDatabasesFn()
}

func (f *fakeBackend) ListTables(_ context.Context, db string) ([]string, error) {
	return f.ListTablesFn(db)
}

func (f *fakeBackend) ListMeasures(_ context.Context, db, table string) ([]domain.MeasureInfo, error) {
	return f.ListMeasuresFn(db, table)
}

func (f *fakeBackend) calls() []domain.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Query(nil), f.queries...)
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []domain.QueryHistoryEntry
}

func (f *fakeHistory) Insert(_ context.Context, e *domain.QueryHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeHistory) List(_ context.Context, _ domain.QueryHistoryFilter) ([]domain.QueryHistoryEntry, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.QueryHistoryEntry(nil), f.entries...), int64(len(f.entries)), nil
}

func (f *fakeHistory) all() []domain.QueryHistoryEntry {
	entries, _, _ := f.List(context.Background(), domain.QueryHistoryFilter{})
	return entries
}

// page builds a single-frame backend page with one value column.
func page(queryID, token string, scanned int64, values ...float64) *domain.Response {
	f := data.NewFrame("", data.NewField("value", nil, values))
	f.Meta = &data.FrameMeta{ExecutedQueryString: "SELECT executed"}
	domain.SetPageMeta(f, &domain.PageMeta{
		QueryID:             queryID,
		NextToken:           token,
		ExecutionStartTime:  1000,
		ExecutionFinishTime: 1250,
		Status:              domain.QueryStatus{CumulativeBytesScanned: scanned},
	})
	return &domain.Response{Frames: data.Frames{f}}
}

// pagesByToken answers the first call with first and every continuation
// with the page registered under its token.
func pagesByToken(first *domain.Response, next map[string]*domain.Response) func(domain.Query) (*domain.Response, error) {
	return func(q domain.Query) (*domain.Response, error) {
		if q.NextToken == "" {
			return first, nil
		}
		return next[q.NextToken], nil
	}
}
