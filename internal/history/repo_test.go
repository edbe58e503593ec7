package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagequery/internal/domain"
)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRepo(db)
}

func ptr[T any](v T) *T { return &v }

func TestRepo_InsertAndList(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	entries := []*domain.QueryHistoryEntry{
		{RequestID: "aws_ts_100", RefID: "A", QueryID: "q1", RawQuery: "SELECT 1", State: domain.StateDone,
			RequestCount: 3, ExecutionMs: ptr(int64(120)), BytesScanned: 2048, BytesMetered: 1024, CreatedAt: base},
		{RequestID: "aws_ts_101", RefID: "B", State: domain.StateError, ErrorMessage: ptr("boom"), CreatedAt: base.Add(time.Second)},
		{RequestID: "aws_ts_102", RefID: "A", QueryID: "q3", State: domain.StateCancelled, RequestCount: 1, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		require.NoError(t, repo.Insert(ctx, e))
		assert.NotZero(t, e.ID)
	}

	all, total, err := repo.List(ctx, domain.QueryHistoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, all, 3)
	assert.Equal(t, "aws_ts_102", all[0].RequestID)
	assert.Equal(t, "aws_ts_100", all[2].RequestID)

	first := all[2]
	assert.Equal(t, domain.StateDone, first.State)
	assert.Equal(t, 3, first.RequestCount)
	require.NotNil(t, first.ExecutionMs)
	assert.Equal(t, int64(120), *first.ExecutionMs)
	assert.Equal(t, int64(2048), first.BytesScanned)
	assert.Nil(t, first.ErrorMessage)
	assert.True(t, base.Equal(first.CreatedAt))

	require.NotNil(t, all[1].ErrorMessage)
	assert.Equal(t, "boom", *all[1].ErrorMessage)
}

func TestRepo_ListFilterAndPage(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := range 5 {
		require.NoError(t, repo.Insert(ctx, &domain.QueryHistoryEntry{
			RequestID: "r", RefID: "A", State: domain.StateDone, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repo.Insert(ctx, &domain.QueryHistoryEntry{RequestID: "r", RefID: "B", State: domain.StateError}))

	got, total, err := repo.List(ctx, domain.QueryHistoryFilter{RefID: ptr("A"), Page: domain.PageRequest{MaxResults: 2}})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, got, 2)

	next := domain.NextPageToken(0, 2, total)
	got, _, err = repo.List(ctx, domain.QueryHistoryFilter{RefID: ptr("A"), Page: domain.PageRequest{MaxResults: 2, PageToken: next}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, base.Add(2*time.Minute).Equal(got[0].CreatedAt))

	got, total, err = repo.List(ctx, domain.QueryHistoryFilter{State: ptr(string(domain.StateError))})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "B", got[0].RefID)
}
