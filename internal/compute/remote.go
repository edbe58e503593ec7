package compute

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/grafana/grafana-plugin-sdk-go/data"
	"google.golang.org/grpc/status"

	"pagequery/internal/domain"
	"pagequery/internal/macros"
)

var _ domain.Backend = (*RemoteBackend)(nil)

// RemoteBackend pages queries through a query agent. Schema lookups are
// answered from the agent's information_schema.
type RemoteBackend struct {
	client   *Client
	settings macros.Settings
	maxRows  int
	logger   *slog.Logger
}

// NewRemoteBackend creates a RemoteBackend. maxRows caps the rows per page;
// zero leaves the page size to the agent.
func NewRemoteBackend(client *Client, settings macros.Settings, maxRows int, logger *slog.Logger) *RemoteBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteBackend{client: client, settings: settings, maxRows: maxRows, logger: logger}
}

// Execute fetches one page of q from the agent.
func (b *RemoteBackend) Execute(ctx context.Context, q domain.Query) (*domain.Response, error) {
	raw, err := macros.Interpolate(q, b.settings)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("running agent query", "ref_id", q.RefID, "request_id", q.RequestID, "continuation", q.NextToken != "")
	rsp, err := b.client.ExecuteQuery(ctx, &ExecuteQueryRequest{
		SQL:       raw,
		NextToken: q.NextToken,
		MaxRows:   b.maxRows,
		RequestID: q.RequestID,
	})
	if err != nil {
		return nil, backendError(err)
	}
	if rsp.RequestID == "" {
		rsp.RequestID = q.RequestID
	}

	frames, err := ToFrames(rsp, q.Format)
	if err != nil {
		return nil, err
	}
	frames[0].Meta.ExecutedQueryString = raw

	return &domain.Response{
		RefID:  q.RefID,
		Key:    q.RequestID,
		Frames: frames,
		State:  domain.StateDone,
	}, nil
}

// CancelExecution stops queryID on the agent.
func (b *RemoteBackend) CancelExecution(ctx context.Context, queryID string) (string, error) {
	rsp, err := b.client.CancelQuery(ctx, &CancelQueryRequest{QueryID: queryID})
	if err != nil {
		return "", backendError(err)
	}
	if rsp.CancellationMessage == "" {
		return "cancel: " + queryID, nil
	}
	return rsp.CancellationMessage, nil
}

// ListDatabases returns the schemas known to the agent.
func (b *RemoteBackend) ListDatabases(ctx context.Context) ([]string, error) {
	rows, err := b.queryAll(ctx, "SELECT DISTINCT table_schema FROM information_schema.tables ORDER BY table_schema")
	if err != nil {
		return nil, err
	}
	return stringColumn(rows, 0), nil
}

// ListTables returns the tables of one schema.
func (b *RemoteBackend) ListTables(ctx context.Context, database string) ([]string, error) {
	if database == "" {
		return nil, domain.ErrValidation("database is required")
	}
	rows, err := b.queryAll(ctx, fmt.Sprintf(
		"SELECT table_name FROM information_schema.tables WHERE table_schema = %s ORDER BY table_name",
		domain.QuoteLiteral(unquote(database))))
	if err != nil {
		return nil, err
	}
	return stringColumn(rows, 0), nil
}

// ListMeasures returns the numeric and boolean columns of a table as
// measures, each listing the text columns of the table as dimensions.
func (b *RemoteBackend) ListMeasures(ctx context.Context, database, table string) ([]domain.MeasureInfo, error) {
	if database == "" || table == "" {
		return nil, domain.ErrValidation("database and table are required")
	}
	rows, err := b.queryAll(ctx, fmt.Sprintf(
		"SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = %s AND table_name = %s ORDER BY ordinal_position",
		domain.QuoteLiteral(unquote(database)), domain.QuoteLiteral(unquote(table))))
	if err != nil {
		return nil, err
	}

	names := stringColumn(rows, 0)
	kinds := stringColumn(rows, 1)
	var dimensions []string
	for i, name := range names {
		if fieldTypeOf(kinds[i]) == data.FieldTypeNullableString {
			dimensions = append(dimensions, name)
		}
	}

	measures := []domain.MeasureInfo{}
	for i, name := range names {
		switch fieldTypeOf(kinds[i]) {
		case data.FieldTypeNullableInt64, data.FieldTypeNullableFloat64, data.FieldTypeNullableBool:
			measures = append(measures, domain.MeasureInfo{
				Name:       name,
				Type:       strings.ToLower(kinds[i]),
				Dimensions: append([]string{}, dimensions...),
			})
		}
	}
	return measures, nil
}

// queryAll runs a lookup statement and follows its continuation tokens.
func (b *RemoteBackend) queryAll(ctx context.Context, sql string) ([][]any, error) {
	var (
		rows  [][]any
		token string
	)
	for {
		rsp, err := b.client.ExecuteQuery(ctx, &ExecuteQueryRequest{SQL: sql, NextToken: token})
		if err != nil {
			return nil, backendError(err)
		}
		rows = append(rows, rsp.Rows...)
		if rsp.NextToken == "" {
			return rows, nil
		}
		token = rsp.NextToken
	}
}

func stringColumn(rows [][]any, idx int) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if idx < len(row) {
			s, _ := row[idx].(string)
			out = append(out, s)
		}
	}
	return out
}

func unquote(name string) string {
	return strings.TrimSuffix(strings.TrimPrefix(name, `"`), `"`)
}

// backendError keeps the status message reported by the agent.
func backendError(err error) error {
	if st, ok := status.FromError(err); ok {
		return domain.ErrBackend(st.Message(), err)
	}
	return domain.ErrBackend("", err)
}
