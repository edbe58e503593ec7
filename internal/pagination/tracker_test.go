package pagination

import (
	"testing"
	"time"

	"github.com/grafana/grafana-plugin-sdk-go/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagequery/internal/domain"
)

// stepClock advances by step on every reading.
type stepClock struct {
	t    time.Time
	step time.Duration
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func statByName(stats []data.QueryStat, name string) (data.QueryStat, bool) {
	for _, s := range stats {
		if s.DisplayName == name {
			return s, true
		}
	}
	return data.QueryStat{}, false
}

func page(token string, finish, scanned int64) *domain.PageMeta {
	return &domain.PageMeta{
		QueryID:             "q-1",
		NextToken:           token,
		ExecutionStartTime:  1000,
		ExecutionFinishTime: finish,
		Status:              domain.QueryStatus{CumulativeBytesScanned: scanned},
	}
}

func TestTracker_SinglePage(t *testing.T) {
	clock := &stepClock{t: time.UnixMilli(5_000), step: 100 * time.Millisecond}
	tr := NewTracker(clock.now)

	tr.BeginRequest()
	assert.True(t, tr.InFlight())
	tr.EndRequest()
	assert.False(t, tr.InFlight())

	tr.RecordFirstPage(page("", 1500, 0))
	assert.Equal(t, "q-1", tr.QueryID())
	assert.Equal(t, 0, tr.SubRequests())

	stats := tr.RecordFinalStats()
	assert.True(t, tr.Finished())
	_, ok := statByName(stats, "HTTP request count")
	assert.False(t, ok, "single page queries omit the request count")

	exec, ok := statByName(stats, "Execution time")
	require.True(t, ok)
	assert.InDelta(t, 500, exec.Value, 0.001)
	assert.Equal(t, "ms", exec.Unit)
	require.NotNil(t, exec.Decimals)
	assert.Equal(t, uint16(2), *exec.Decimals)

	_, ok = statByName(stats, "Cumulative bytes scanned")
	assert.False(t, ok)
	assert.Empty(t, tr.Snapshot().Subs)
}

func TestTracker_ThreePages(t *testing.T) {
	clock := &stepClock{t: time.UnixMilli(5_000), step: 200 * time.Millisecond}
	tr := NewTracker(clock.now)

	tr.BeginRequest()
	tr.EndRequest()
	tr.RecordFirstPage(page("t1", 1200, 1000))
	assert.Equal(t, "t1", tr.nextToken())

	tr.BeginRequest()
	tr.EndRequest()
	tr.RecordContinuationPage(page("t2", 1300, 1500))
	assert.Equal(t, 2, tr.SubRequests())
	assert.Equal(t, "t2", tr.nextToken())

	snap := tr.Snapshot()
	assert.Equal(t, 1, snap.Subs[0].RequestNumber)
	assert.Empty(t, snap.Subs[0].NextToken)
	assert.Empty(t, snap.Subs[0].QueryID)
	assert.Empty(t, snap.Subs[1].NextToken, "superseded pages drop their token")
	assert.Equal(t, 2, snap.Subs[1].RequestNumber)
	assert.Equal(t, "q-1", snap.QueryID)

	tr.BeginRequest()
	tr.EndRequest()
	tr.RecordContinuationPage(page("", 1500, 2000))
	assert.Equal(t, 3, tr.SubRequests())

	stats := tr.RecordFinalStats()

	count, ok := statByName(stats, "HTTP request count")
	require.True(t, ok)
	assert.InDelta(t, 3, count.Value, 0.001)
	assert.Equal(t, "none", count.Unit)

	exec, ok := statByName(stats, "Execution time")
	require.True(t, ok)
	assert.InDelta(t, 500, exec.Value, 0.001)

	scanned, ok := statByName(stats, "Cumulative bytes scanned")
	require.True(t, ok)
	assert.InDelta(t, 2, scanned.Value, 0.001)
	assert.Equal(t, "kB", scanned.Unit)

	fetch, ok := statByName(stats, "Fetch time")
	require.True(t, ok)
	overhead, ok := statByName(stats, "Fetch overhead")
	require.True(t, ok)
	assert.Positive(t, fetch.Value)
	assert.Equal(t, "percent", overhead.Unit)
	assert.Less(t, overhead.Value, 100.0)

	for _, sub := range tr.Snapshot().Subs {
		assert.Empty(t, sub.NextToken)
	}
	assert.Empty(t, tr.Snapshot().NextToken)
}

func TestTracker_FinalStatsOnce(t *testing.T) {
	tr := NewTracker(nil)
	tr.BeginRequest()
	tr.EndRequest()
	tr.RecordFirstPage(page("", 1500, 0))

	first := tr.RecordFinalStats()
	second := tr.RecordFinalStats()
	assert.Equal(t, first, second)
}

func TestTracker_NoStatsWithoutExecutionTimes(t *testing.T) {
	tr := NewTracker(nil)
	tr.BeginRequest()
	tr.EndRequest()
	tr.RecordFirstPage(&domain.PageMeta{QueryID: "q"})
	assert.Nil(t, tr.RecordFinalStats())
	assert.True(t, tr.Finished())
}

func TestTracker_FetchTimeClampedToPositive(t *testing.T) {
	// The loop clock barely moves while the backend reports a long execution.
	clock := &stepClock{t: time.UnixMilli(5_000), step: time.Millisecond}
	tr := NewTracker(clock.now)
	tr.BeginRequest()
	tr.EndRequest()
	tr.RecordFirstPage(page("", 60_000, 0))

	stats := tr.RecordFinalStats()
	_, ok := statByName(stats, "Fetch time")
	assert.False(t, ok)
	_, ok = statByName(stats, "Fetch overhead")
	assert.False(t, ok)
}

func TestTracker_DoesNotModifyPages(t *testing.T) {
	tr := NewTracker(nil)
	p1 := page("t1", 1100, 10)
	tr.BeginRequest()
	tr.EndRequest()
	tr.RecordFirstPage(p1)

	p2 := page("", 1200, 20)
	tr.BeginRequest()
	tr.EndRequest()
	tr.RecordContinuationPage(p2)

	assert.Equal(t, "q-1", p2.QueryID)
	assert.Zero(t, p2.RequestNumber)
	assert.Equal(t, "t1", p1.NextToken)
}

func TestFormatDecBytes(t *testing.T) {
	tests := []struct {
		in    int64
		value float64
		unit  string
	}{
		{0, 0, "B"},
		{999, 999, "B"},
		{1000, 1, "kB"},
		{1500, 1.5, "kB"},
		{2000, 2, "kB"},
		{10_485_760, 10.49, "MB"},
		{3_000_000_000, 3, "GB"},
	}
	for _, tt := range tests {
		value, unit := FormatDecBytes(tt.in)
		assert.InDelta(t, tt.value, value, 0.0001, "value for %d", tt.in)
		assert.Equal(t, tt.unit, unit, "unit for %d", tt.in)
	}
}
