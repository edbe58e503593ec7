package datasource

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"pagequery/internal/domain"
)

// DefaultSchemaCacheTTL is how long schema listings are reused.
const DefaultSchemaCacheTTL = 5 * time.Minute

const (
	databaseNotConfigured = "database not configured"
	tableNotConfigured    = "table not configured"
)

const (
	databasesKey   = "databases"
	tablesPrefix   = "tables/"
	measuresPrefix = "measures/"
)

// SchemaInfo caches database, table and measure listings for the current
// selection of a query editor.
type SchemaInfo struct {
	backend domain.SchemaBackend
	cache   *cache.Cache

	mu    sync.Mutex
	state domain.Query
}

// NewSchemaInfo returns a SchemaInfo for the selection in state. A ttl of
// zero uses DefaultSchemaCacheTTL.
func NewSchemaInfo(backend domain.SchemaBackend, state domain.Query, ttl time.Duration) *SchemaInfo {
	if ttl <= 0 {
		ttl = DefaultSchemaCacheTTL
	}
	return &SchemaInfo{
		backend: backend,
		cache:   cache.New(ttl, 2*ttl),
		state:   state,
	}
}

// State returns the current selection.
func (s *SchemaInfo) State() domain.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UpdateState switches to a new selection. Changing the database drops every
// cached listing; changing the table drops the cached measures.
func (s *SchemaInfo) UpdateState(state domain.Query) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case state.Database != s.state.Database:
		s.cache.Flush()
	case state.Table != s.state.Table:
		for key := range s.cache.Items() {
			if strings.HasPrefix(key, measuresPrefix) {
				s.cache.Delete(key)
			}
		}
	}
	s.state = state
}

// Databases lists the databases as selectable values.
func (s *SchemaInfo) Databases(ctx context.Context) ([]domain.SelectableValue, error) {
	if v, ok := s.cache.Get(databasesKey); ok {
		return v.([]domain.SelectableValue), nil
	}
	names, err := s.backend.ListDatabases(ctx)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	out := toSelectable(names)
	s.cache.SetDefault(databasesKey, out)
	return out, nil
}

// Tables lists the tables of db, or of the selected database when db is
// empty.
func (s *SchemaInfo) Tables(ctx context.Context, db string) ([]domain.SelectableValue, error) {
	if db == "" {
		db = s.State().Database
	}
	if db == "" {
		return []domain.SelectableValue{{Label: databaseNotConfigured, Value: ""}}, nil
	}

	key := tablesPrefix + db
	if v, ok := s.cache.Get(key); ok {
		return v.([]domain.SelectableValue), nil
	}
	names, err := s.backend.ListTables(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	out := toSelectable(names)
	s.cache.SetDefault(key, out)
	return out, nil
}

// Measures lists the measures of db.table, falling back to the selection
// for empty arguments. Labels read "name (type)".
func (s *SchemaInfo) Measures(ctx context.Context, db, table string) ([]domain.SelectableValue, error) {
	state := s.State()
	if db == "" {
		db = state.Database
	}
	if table == "" {
		table = state.Table
	}
	if db == "" {
		return []domain.SelectableValue{{Label: databaseNotConfigured, Value: ""}}, nil
	}
	if table == "" {
		return []domain.SelectableValue{{Label: tableNotConfigured, Value: ""}}, nil
	}

	key := measuresPrefix + db + "/" + table
	if v, ok := s.cache.Get(key); ok {
		return v.([]domain.SelectableValue), nil
	}
	measures, err := s.backend.ListMeasures(ctx, db, table)
	if err != nil {
		return nil, fmt.Errorf("list measures: %w", err)
	}
	out := make([]domain.SelectableValue, len(measures))
	for i, m := range measures {
		out[i] = domain.SelectableValue{Label: fmt.Sprintf("%s (%s)", m.Name, m.Type), Value: m.Name}
	}
	s.cache.SetDefault(key, out)
	return out, nil
}

// FilterMeasures returns the measures of db.table whose name contains substr.
// Empty arguments fall back to the selection as in Measures.
func (s *SchemaInfo) FilterMeasures(ctx context.Context, db, table, substr string) ([]domain.SelectableValue, error) {
	all, err := s.Measures(ctx, db, table)
	if err != nil {
		return nil, err
	}
	if substr == "" {
		return all, nil
	}
	out := []domain.SelectableValue{}
	for _, v := range all {
		if v.Value != "" && strings.Contains(v.Value, substr) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Refresh loads every listing of the current selection concurrently.
func (s *SchemaInfo) Refresh(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.Databases(ctx)
		return err
	})
	g.Go(func() error {
		_, err := s.Tables(ctx, "")
		return err
	})
	g.Go(func() error {
		_, err := s.Measures(ctx, "", "")
		return err
	})
	return g.Wait()
}

func toSelectable(names []string) []domain.SelectableValue {
	out := make([]domain.SelectableValue, len(names))
	for i, n := range names {
		out[i] = domain.SelectableValue{Label: n, Value: n}
	}
	return out
}
