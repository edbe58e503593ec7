package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/grafana/grafana-plugin-sdk-go/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagequery/internal/api"
	"pagequery/internal/domain"
)

func valueFrame(values ...float64) *data.Frame {
	times := make([]time.Time, len(values))
	for i := range values {
		times[i] = time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC)
	}
	return data.NewFrame("cpu",
		data.NewField("time", nil, times),
		data.NewField("value", nil, values),
	)
}

func ndjsonHandler(rec *requestRecorder, lines ...api.ResponseLine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		for _, l := range lines {
			_ = enc.Encode(l)
		}
	}
}

// === query ===

func TestQuery_JSONPassesStreamThrough(t *testing.T) {
	rec := &requestRecorder{}
	srv := httptest.NewServer(ndjsonHandler(rec,
		api.ResponseLine{RefID: "A", State: domain.StateLoading, Frames: []*data.Frame{valueFrame(1)}},
		api.ResponseLine{RefID: "A", State: domain.StateDone, Frames: []*data.Frame{valueFrame(1, 2)}},
	))
	t.Cleanup(srv.Close)

	run := runCLI(t, "--host", srv.URL, "-o", "json", "--token", "tok", "query", "SELECT", "1")
	require.NoError(t, run.err)

	lines := splitLines(run.stdout)
	require.Len(t, lines, 2)
	var last api.ResponseLine
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &last))
	assert.Equal(t, domain.StateDone, last.State)

	got := rec.last()
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/v1/query", got.Path)
	assert.Equal(t, "Bearer tok", got.Headers.Get("Authorization"))

	var body api.QueryRequest
	require.NoError(t, json.Unmarshal([]byte(got.Body), &body))
	require.Len(t, body.Queries, 1)
	assert.Equal(t, "A", body.Queries[0].RefID)
	assert.Equal(t, "SELECT 1", body.Queries[0].RawQuery)
	assert.Equal(t, time.Hour, body.Range.Duration().Round(time.Minute))
}

func TestQuery_TablePrintsFinalFrames(t *testing.T) {
	rec := &requestRecorder{}
	srv := httptest.NewServer(ndjsonHandler(rec,
		api.ResponseLine{RefID: "A", State: domain.StateLoading, Frames: []*data.Frame{valueFrame(1)}},
		api.ResponseLine{RefID: "A", State: domain.StateDone, Frames: []*data.Frame{valueFrame(1, 2.5)}},
	))
	t.Cleanup(srv.Close)

	run := runCLI(t, "--host", srv.URL, "-o", "table", "query", "--wait", "--format", "time_series", "SELECT 1")
	require.NoError(t, run.err)

	assert.Contains(t, run.stderr, "A: Loading (1 rows)")
	assert.Contains(t, run.stderr, "A: Done (2 rows)")
	assert.Contains(t, run.stdout, "# cpu")
	assert.Contains(t, run.stdout, "VALUE")
	assert.Contains(t, run.stdout, "2.5")
	assert.Contains(t, run.stdout, "2024-01-01T00:01:00Z")

	var body api.QueryRequest
	require.NoError(t, json.Unmarshal([]byte(rec.last().Body), &body))
	assert.True(t, body.Queries[0].WaitForResult)
	assert.Equal(t, domain.FormatTimeSeries, body.Queries[0].Format)
}

func TestQuery_ErrorLineFailsCommand(t *testing.T) {
	rec := &requestRecorder{}
	srv := httptest.NewServer(ndjsonHandler(rec,
		api.ResponseLine{RefID: "A", State: domain.StateError, Error: "boom"},
	))
	t.Cleanup(srv.Close)

	run := runCLI(t, "--host", srv.URL, "-o", "table", "query", "SELECT 1")
	require.Error(t, run.err)
	assert.Contains(t, run.err.Error(), "query A: boom")
}

func TestQuery_APIError(t *testing.T) {
	rec := &requestRecorder{}
	srv := httptest.NewServer(jsonHandler(rec, http.StatusBadRequest, `{"code":400,"message":"at least one query is required"}`))
	t.Cleanup(srv.Close)

	run := runCLI(t, "--host", srv.URL, "-o", "json", "query", "SELECT 1")
	require.Error(t, run.err)
	assert.Equal(t, "API error (HTTP 400): at least one query is required", run.err.Error())
}

func TestQuery_RequiresSQL(t *testing.T) {
	run := runCLI(t, "--host", "http://127.0.0.1:1", "query")
	require.Error(t, run.err)
	assert.Contains(t, run.err.Error(), "SQL query is required")
}

func TestQuery_ConnectionRefused(t *testing.T) {
	run := runCLI(t, "--host", "http://127.0.0.1:1", "-o", "json", "query", "SELECT 1")
	require.Error(t, run.err)
	assert.Contains(t, run.err.Error(), "execute request")
}

func TestQueryOptions_Request(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	opts := queryOptions{
		refID:    "B",
		from:     "now-6h",
		to:       "now",
		format:   "table",
		database: "db",
		vars:     []string{"host=a,b", "$region=eu"},
		interval: 30 * time.Second,
	}

	req, err := opts.request("SELECT 1", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-6*time.Hour), req.Range.From)
	assert.Equal(t, now, req.Range.To)
	assert.Equal(t, int64(30000), req.IntervalMs)
	assert.Equal(t, "db", req.Queries[0].Database)
	assert.Equal(t, []string{"a", "b"}, req.ScopedVars["host"].Values)
	assert.Equal(t, "eu", req.ScopedVars["region"].Text)

	opts.from, opts.to = "now", "now-1h"
	_, err = opts.request("SELECT 1", now)
	require.Error(t, err)
}

func TestParseTimeArg(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "now", want: now},
		{in: "now-15m", want: now.Add(-15 * time.Minute)},
		{in: "2024-01-02T03:04:05Z", want: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{in: "1700000000000", want: time.UnixMilli(1700000000000)},
		{in: "now-soon", wantErr: true},
		{in: "yesterday", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTimeArg(tt.in, now)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestParseVars_Invalid(t *testing.T) {
	_, err := parseVars([]string{"novalue"})
	require.Error(t, err)
	_, err = parseVars([]string{"=x"})
	require.Error(t, err)
}

// === schema, cancel, history ===

func TestDatabases_Table(t *testing.T) {
	rec := &requestRecorder{}
	srv := httptest.NewServer(jsonHandler(rec, http.StatusOK, `{"options":[{"label":"metrics","value":"metrics"}]}`))
	t.Cleanup(srv.Close)

	run := runCLI(t, "--host", srv.URL, "-o", "table", "databases")
	require.NoError(t, run.err)
	assert.Contains(t, run.stdout, "NAME")
	assert.Contains(t, run.stdout, "metrics")
	assert.Equal(t, "/v1/databases", rec.last().Path)
}

func TestMeasures_SendsFilter(t *testing.T) {
	rec := &requestRecorder{}
	srv := httptest.NewServer(jsonHandler(rec, http.StatusOK, `{"options":[{"label":"cpu (double)","value":"cpu"}]}`))
	t.Cleanup(srv.Close)

	run := runCLI(t, "--host", srv.URL, "-o", "json", "measures", "--database", "db", "--table", "t", "--filter", "cp")
	require.NoError(t, run.err)

	var opts []domain.SelectableValue
	require.NoError(t, json.Unmarshal([]byte(run.stdout), &opts))
	assert.Equal(t, []domain.SelectableValue{{Label: "cpu (double)", Value: "cpu"}}, opts)

	var body api.SchemaRequest
	require.NoError(t, json.Unmarshal([]byte(rec.last().Body), &body))
	assert.Equal(t, api.SchemaRequest{Database: "db", Table: "t", Filter: "cp"}, body)
}

func TestCancel(t *testing.T) {
	rec := &requestRecorder{}
	srv := httptest.NewServer(jsonHandler(rec, http.StatusOK, `{"message":"Success"}`))
	t.Cleanup(srv.Close)

	run := runCLI(t, "--host", srv.URL, "-o", "table", "cancel", "q-1")
	require.NoError(t, run.err)
	assert.Equal(t, "Success\n", run.stdout)
	assert.JSONEq(t, `{"queryId":"q-1"}`, rec.last().Body)
}

func TestHistory_FollowsPageTokens(t *testing.T) {
	rec := &requestRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		page := api.HistoryPage{Total: 2}
		if r.URL.Query().Get("page_token") == "" {
			page.Entries = []api.HistoryEntry{{ID: 2, RefID: "A", State: domain.StateDone, RequestCount: 3}}
			page.NextPageToken = "tok"
		} else {
			page.Entries = []api.HistoryEntry{{ID: 1, RefID: "A", State: domain.StateError}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(page)
	}))
	t.Cleanup(srv.Close)

	run := runCLI(t, "--host", srv.URL, "-o", "json", "history", "--ref-id", "A", "--all")
	require.NoError(t, run.err)

	var page api.HistoryPage
	require.NoError(t, json.Unmarshal([]byte(run.stdout), &page))
	require.Len(t, page.Entries, 2)
	assert.Empty(t, page.NextPageToken)

	reqs := rec.all()
	require.Len(t, reqs, 2)
	q, err := url.ParseQuery(reqs[1].Query)
	require.NoError(t, err)
	assert.Equal(t, "tok", q.Get("page_token"))
	assert.Equal(t, "A", q.Get("ref_id"))
}

func TestHealth_Unhealthy(t *testing.T) {
	rec := &requestRecorder{}
	srv := httptest.NewServer(jsonHandler(rec, http.StatusServiceUnavailable, `{"status":"ERROR","message":"no route"}`))
	t.Cleanup(srv.Close)

	run := runCLI(t, "--host", srv.URL, "-o", "table", "health")
	require.Error(t, run.err)
	assert.Contains(t, run.stdout, "ERROR: no route")
	assert.Equal(t, "/health", rec.last().Path)
}

// === precedence ===

func TestHostPrecedence(t *testing.T) {
	rec := &requestRecorder{}
	srv := httptest.NewServer(jsonHandler(rec, http.StatusOK, `{"options":[]}`))
	t.Cleanup(srv.Close)

	t.Run("env beats default", func(t *testing.T) {
		isolateConfig(t)
		t.Setenv("TSQ_HOST", srv.URL)
		run := runCLIShared(t, "-o", "json", "databases")
		require.NoError(t, run.err)
	})

	t.Run("profile used without flag or env", func(t *testing.T) {
		isolateConfig(t)
		require.NoError(t, SaveUserConfig(&UserConfig{
			CurrentProfile: "dev",
			Profiles:       map[string]Profile{"dev": {Host: srv.URL, Token: "profile-token"}},
		}))
		run := runCLIShared(t, "-o", "json", "databases")
		require.NoError(t, run.err)
		assert.Equal(t, "Bearer profile-token", rec.last().Headers.Get("Authorization"))
	})

	t.Run("flag beats env", func(t *testing.T) {
		isolateConfig(t)
		t.Setenv("TSQ_HOST", "http://127.0.0.1:1")
		run := runCLIShared(t, "--host", srv.URL, "-o", "json", "databases")
		require.NoError(t, run.err)
	})

	t.Run("unknown profile", func(t *testing.T) {
		isolateConfig(t)
		run := runCLIShared(t, "--profile", "nope", "databases")
		require.Error(t, run.err)
		assert.Contains(t, run.err.Error(), `profile "nope" not found`)
	})

	t.Run("invalid host", func(t *testing.T) {
		run := runCLI(t, "--host", "localhost:8080", "databases")
		require.Error(t, run.err)
		assert.Contains(t, run.err.Error(), "scheme must be http or https")
	})

	t.Run("invalid output", func(t *testing.T) {
		run := runCLI(t, "-o", "yaml", "version")
		require.Error(t, run.err)
	})
}

func TestVersion_JSON(t *testing.T) {
	run := runCLI(t, "-o", "json", "version")
	require.NoError(t, run.err)
	assert.JSONEq(t, `{"version":"dev","commit":"none"}`, run.stdout)
}

func splitLines(s string) []string {
	return strings.Split(strings.TrimSpace(s), "\n")
}
