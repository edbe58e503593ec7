// Package datasource is the host-facing entry point: it turns a batch of
// queries into merged result streams and answers variable, schema, health and
// cancel requests.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/grafana/grafana-plugin-sdk-go/data"

	"pagequery/internal/domain"
	"pagequery/internal/looper"
	"pagequery/internal/macros"
	"pagequery/internal/templates"
)

const (
	firstRequestNumber = 100
	variableRefID      = "GetStrings"
	// VariableErrorMessage is reported when a variable query fails without
	// a message from the backend.
	VariableErrorMessage = "Error getting variable"
)

// HealthStatus is the outcome of CheckHealth.
type HealthStatus string

const (
	HealthOK    HealthStatus = "OK"
	HealthError HealthStatus = "ERROR"
)

// HealthResult reports whether the backend answered the probe query.
type HealthResult struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message"`
}

// DataSource runs logical queries against a backend.
type DataSource struct {
	backend   domain.Backend
	templates *templates.Service
	history   domain.HistoryRepository
	schema    *SchemaInfo
	logger    *slog.Logger

	emptyPageBackoff time.Duration
	requestCounter   atomic.Int64
}

// New creates a DataSource over backend. Template variables come from tmpl;
// pass nil for none.
func New(backend domain.Backend, tmpl *templates.Service, logger *slog.Logger) *DataSource {
	if tmpl == nil {
		tmpl = templates.NewService(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	ds := &DataSource{
		backend:   backend,
		templates: tmpl,
		schema:    NewSchemaInfo(backend, domain.Query{}, 0),
		logger:    logger,
	}
	ds.requestCounter.Store(firstRequestNumber)
	return ds
}

// SetHistory records every finished logical query into repo.
func (ds *DataSource) SetHistory(repo domain.HistoryRepository) {
	ds.history = repo
}

// SetEmptyPageBackoff configures the delay after near-empty pages.
func (ds *DataSource) SetEmptyPageBackoff(d time.Duration) {
	ds.emptyPageBackoff = d
}

// SetSchema replaces the schema cache.
func (ds *DataSource) SetSchema(s *SchemaInfo) {
	ds.schema = s
}

// Schema returns the schema cache.
func (ds *DataSource) Schema() *SchemaInfo {
	return ds.schema
}

func (ds *DataSource) nextRequestID() string {
	return fmt.Sprintf("aws_ts_%d", ds.requestCounter.Add(1)-1)
}

// Query starts one continuation loop per visible target and merges their
// streams. Targets that are hidden or have no query text are skipped.
func (ds *DataSource) Query(ctx context.Context, req domain.Request) *looper.Stream {
	var streams []*looper.Stream
	for _, target := range req.Targets {
		if target.Hide || target.RawQuery == "" {
			continue
		}
		q := ds.prepare(target, req)
		ds.logger.Debug("starting query", "ref_id", q.RefID, "request_id", q.RequestID, "batch_id", req.RequestID)
		streams = append(streams, looper.Run(ctx, q, looper.Options{
			Backend:          ds.backend,
			Logger:           ds.logger,
			EmptyPageBackoff: ds.emptyPageBackoff,
			OnFinish:         ds.record,
		}))
	}

	if len(streams) == 0 {
		return looper.Just(&domain.Response{
			Key:    req.RequestID,
			Frames: data.Frames{},
			State:  domain.StateDone,
		})
	}
	return looper.Merge(streams...)
}

func (ds *DataSource) prepare(target domain.Query, req domain.Request) domain.Query {
	q := ds.ApplyTemplateVariables(target, req.ScopedVars)
	q.TimeRange = req.Range
	q.Interval = req.Interval
	q.MaxDataPoints = req.MaxDataPoints
	q.NextToken = ""
	q.RequestID = ds.nextRequestID()
	macros.ApplyQueryDefaults(&q)
	return q
}

// ApplyTemplateVariables substitutes template variables into q. The
// __interval variables are left in the query text for the backend macros,
// and multi-value variables become lists of quoted literals.
func (ds *DataSource) ApplyTemplateVariables(q domain.Query, scoped domain.ScopedVars) domain.Query {
	if q.RawQuery == "" {
		return q
	}
	out := q
	out.Database = ds.templates.Replace(q.Database, scoped, nil)
	out.Table = ds.templates.Replace(q.Table, scoped, nil)
	out.Measure = ds.templates.Replace(q.Measure, scoped, nil)
	out.RawQuery = ds.templates.Replace(q.RawQuery,
		templates.Without(scoped, "__interval", "__interval_ms"), templates.QuoteMulti)
	return out
}

// MetricFindQuery runs query and returns the values of the first field of
// the result, one per row.
func (ds *DataSource) MetricFindQuery(ctx context.Context, query string, tr domain.TimeRange) ([]domain.MetricFindValue, error) {
	if query == "" {
		return []domain.MetricFindValue{}, nil
	}

	stream := ds.Query(ctx, domain.Request{
		Targets: []domain.Query{{
			RefID:         variableRefID,
			RawQuery:      ds.templates.Replace(query, nil, nil),
			WaitForResult: true,
		}},
		Range: tr,
	})
	rsp, err := stream.Last(ctx)
	if err != nil {
		return nil, err
	}
	if rsp == nil {
		return []domain.MetricFindValue{}, nil
	}
	if rsp.Error != nil {
		return nil, variableError(rsp.Error)
	}

	out := []domain.MetricFindValue{}
	if len(rsp.Frames) == 0 || len(rsp.Frames[0].Fields) == 0 {
		return out, nil
	}
	field := rsp.Frames[0].Fields[0]
	for i := range field.Len() {
		v, ok := field.ConcreteAt(i)
		if !ok {
			continue
		}
		out = append(out, domain.MetricFindValue{Text: textOf(v)})
	}
	return out, nil
}

func textOf(v any) string {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}

func variableError(err error) error {
	var berr *domain.BackendError
	if errors.As(err, &berr) && berr.Message != "" {
		return err
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return err
	}
	return domain.ErrBackend(VariableErrorMessage, err)
}

// CheckHealth runs SELECT 1 and expects the value 1 back.
func (ds *DataSource) CheckHealth(ctx context.Context) HealthResult {
	rsp, err := ds.backend.Execute(ctx, domain.Query{RefID: "health", RawQuery: "SELECT 1"})
	if err != nil {
		return HealthResult{Status: HealthError, Message: err.Error()}
	}
	if rsp.Error != nil {
		return HealthResult{Status: HealthError, Message: rsp.Error.Error()}
	}
	if len(rsp.Frames) == 0 || len(rsp.Frames[0].Fields) == 0 || rsp.Frames[0].Rows() == 0 {
		return HealthResult{Status: HealthError, Message: "missing response"}
	}
	v, ok := rsp.Frames[0].Fields[0].ConcreteAt(0)
	if !ok {
		return HealthResult{Status: HealthError, Message: "missing response"}
	}
	if textOf(v) != "1" {
		return HealthResult{Status: HealthError, Message: "should be one"}
	}

	// A single-row probe still opens a paged query on some backends.
	if meta := domain.FirstPageMeta(rsp.Frames); meta != nil && meta.NextToken != "" && meta.QueryID != "" {
		if _, err := ds.backend.CancelExecution(ctx, meta.QueryID); err != nil {
			ds.logger.Debug("cancel health query failed", "query_id", meta.QueryID, "error", err)
		}
	}
	return HealthResult{Status: HealthOK, Message: "Connection success"}
}

// CancelQuery asks the backend to stop queryID. The returned text is the
// backend's cancellation message, or the error text when cancelling failed.
func (ds *DataSource) CancelQuery(ctx context.Context, queryID string) (string, error) {
	if queryID == "" {
		return "", domain.ErrValidation("queryId is required")
	}
	msg, err := ds.backend.CancelExecution(ctx, queryID)
	if err != nil {
		ds.logger.Warn("cancel query failed", "query_id", queryID, "error", err)
		return err.Error(), nil
	}
	return msg, nil
}

// record stores the outcome of a finished logical query.
func (ds *DataSource) record(o looper.Outcome) {
	if ds.history == nil {
		return
	}

	e := &domain.QueryHistoryEntry{
		RequestID: o.Query.RequestID,
		RefID:     o.Query.RefID,
		RawQuery:  o.Query.RawQuery,
		State:     domain.StateCancelled,
	}
	if o.Response != nil {
		e.State = o.Response.State
		if o.Response.Error != nil {
			msg := o.Response.Error.Error()
			e.ErrorMessage = &msg
		}
	}
	if m := o.Meta; m != nil {
		e.QueryID = m.QueryID
		e.RequestCount = max(o.Requests, 1)
		if m.ExecutionStartTime > 0 && m.ExecutionFinishTime >= m.ExecutionStartTime {
			ms := m.ExecutionFinishTime - m.ExecutionStartTime
			e.ExecutionMs = &ms
		}
		e.BytesScanned = m.Status.CumulativeBytesScanned
		e.BytesMetered = m.Status.CumulativeBytesMetered
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ds.history.Insert(ctx, e); err != nil {
		ds.logger.Warn("record query history failed", "request_id", e.RequestID, "error", err)
	}
}
