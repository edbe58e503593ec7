package agent

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"pagequery/internal/compute"
)

// storedResult is a materialized query result served page by page.
type storedResult struct {
	id      string
	columns []compute.ColumnInfo
	rows    [][]any
	// cumBytes[i] is the encoded size of the first i rows.
	cumBytes []int64

	startMs  int64
	finishMs int64

	// released is set when the result leaves the store by delivery or
	// cancellation rather than by expiry.
	released atomic.Bool
}

func (r *storedResult) totalBytes() int64 {
	return r.cumBytes[len(r.cumBytes)-1]
}

// resultStore keeps results between page requests. Cancelled ids are
// remembered until their TTL runs out so late page requests get a clear
// error. Expired entries are only dropped by sweep.
type resultStore struct {
	logger    *slog.Logger
	results   *cache.Cache
	cancelled *cache.Cache
	expired   atomic.Int64
}

func newResultStore(ttl time.Duration, logger *slog.Logger) *resultStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &resultStore{
		logger:    logger,
		results:   cache.New(ttl, 0),
		cancelled: cache.New(ttl, 0),
	}
	s.results.OnEvicted(s.evicted)
	return s
}

func (s *resultStore) evicted(id string, v any) {
	r, ok := v.(*storedResult)
	if !ok || r.released.Load() {
		return
	}
	s.expired.Add(1)
	s.logger.Debug("stored result expired", "query_id", id, "rows", len(r.rows))
}

func (s *resultStore) put(r *storedResult) {
	s.results.Set(r.id, r, cache.DefaultExpiration)
}

// get returns the result for id and extends its lifetime.
func (s *resultStore) get(id string) (*storedResult, bool) {
	v, ok := s.results.Get(id)
	if !ok {
		return nil, false
	}
	s.results.Set(id, v, cache.DefaultExpiration)
	return v.(*storedResult), true
}

// remove drops a fully delivered result.
func (s *resultStore) remove(r *storedResult) {
	r.released.Store(true)
	s.results.Delete(r.id)
}

// cancel drops the result for id. It reports whether a live result existed.
func (s *resultStore) cancel(id string) bool {
	r, ok := s.get(id)
	if !ok {
		return false
	}
	s.remove(r)
	s.cancelled.SetDefault(id, struct{}{})
	return true
}

func (s *resultStore) isCancelled(id string) bool {
	_, ok := s.cancelled.Get(id)
	return ok
}

// sweep removes expired results and tombstones and returns how many results
// expired.
func (s *resultStore) sweep() int {
	before := s.expired.Load()
	s.results.DeleteExpired()
	s.cancelled.DeleteExpired()
	return int(s.expired.Load() - before)
}

func (s *resultStore) stats() (stored, expired int64) {
	return int64(s.results.ItemCount()), s.expired.Load()
}
