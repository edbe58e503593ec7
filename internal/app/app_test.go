package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/grafana/grafana-plugin-sdk-go/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagequery/internal/config"
	"pagequery/internal/domain"
)

type stubBackend struct{}

func (stubBackend) Execute(_ context.Context, q domain.Query) (*domain.Response, error) {
	f := data.NewFrame("", data.NewField("value", nil, []float64{1}))
	f.Meta = &data.FrameMeta{ExecutedQueryString: q.RawQuery}
	domain.SetPageMeta(f, &domain.PageMeta{QueryID: "q-1", ExecutionStartTime: 10, ExecutionFinishTime: 30})
	return &domain.Response{Frames: data.Frames{f}}, nil
}

func (stubBackend) CancelExecution(context.Context, string) (string, error) { return "ok", nil }

func (stubBackend) ListDatabases(context.Context) ([]string, error) { return []string{"db"}, nil }

func (stubBackend) ListTables(context.Context, string) ([]string, error) { return nil, nil }

func (stubBackend) ListMeasures(context.Context, string, string) ([]domain.MeasureInfo, error) {
	return nil, nil
}

func TestNew_ServesQueriesAndRecordsHistory(t *testing.T) {
	cfg := &config.Config{
		Backend:       config.BackendAgent,
		HistoryDBPath: filepath.Join(t.TempDir(), "history.sqlite"),
	}
	a, err := New(context.Background(), Deps{Cfg: cfg, Backend: stubBackend{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.NotNil(t, a.History)

	req := httptest.NewRequest(http.MethodPost, "/v1/query",
		strings.NewReader(`{"queries":[{"refId":"A","rawQuery":"SELECT 1"}]}`))
	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"Done"`)

	require.Eventually(t, func() bool {
		_, total, err := a.History.List(context.Background(), domain.QueryHistoryFilter{})
		return err == nil && total == 1
	}, 2*time.Second, 10*time.Millisecond)

	entries, _, err := a.History.List(context.Background(), domain.QueryHistoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, "A", entries[0].RefID)
	require.NotNil(t, entries[0].ExecutionMs)
	assert.Equal(t, int64(20), *entries[0].ExecutionMs)
}

func TestNew_AuthEnabledBySecret(t *testing.T) {
	cfg := &config.Config{Backend: config.BackendAgent, JWTSecret: "s"}
	a, err := New(context.Background(), Deps{Cfg: cfg, Backend: stubBackend{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/databases", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hello", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNew_AgentBackendWithoutServerStillBuilds(t *testing.T) {
	// Dialing is lazy, so a missing agent only shows up on the first call.
	cfg := &config.Config{Backend: config.BackendAgent, AgentAddr: "127.0.0.1:1"}
	a, err := New(context.Background(), Deps{Cfg: cfg})
	require.NoError(t, err)
	require.NoError(t, a.Close())
}
