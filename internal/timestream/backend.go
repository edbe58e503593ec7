package timestream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/timestreamquery"
	"github.com/aws/aws-sdk-go-v2/service/timestreamquery/types"
	"github.com/aws/smithy-go"

	"pagequery/internal/domain"
	"pagequery/internal/macros"
)

// Compile-time check that Backend implements domain.Backend.
var _ domain.Backend = (*Backend)(nil)

// Backend runs queries against Amazon Timestream one page at a time.
type Backend struct {
	client   Client
	settings macros.Settings
	maxRows  int32
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Backend.
type Option func(*Backend)

// WithMaxRows caps the rows returned per page.
func WithMaxRows(n int32) Option {
	return func(b *Backend) { b.maxRows = n }
}

// WithLogger sets the backend logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// NewBackend creates a Backend using client. settings supply the defaults
// for the schema macros.
func NewBackend(client Client, settings macros.Settings, opts ...Option) *Backend {
	b := &Backend{
		client:   client,
		settings: settings,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Execute fetches one page of q. The macros of q are expanded first, and the
// expanded text is reported as the executed query string.
func (b *Backend) Execute(ctx context.Context, q domain.Query) (*domain.Response, error) {
	raw, err := macros.Interpolate(q, b.settings)
	if err != nil {
		return nil, err
	}

	input := &timestreamquery.QueryInput{QueryString: aws.String(raw)}
	if q.NextToken != "" {
		input.NextToken = aws.String(q.NextToken)
	}
	if b.maxRows > 0 {
		input.MaxRows = aws.Int32(b.maxRows)
	}

	b.logger.Debug("running query", "ref_id", q.RefID, "request_id", q.RequestID, "continuation", q.NextToken != "")
	start := b.now()
	out, err := b.client.Query(ctx, input)
	if err != nil {
		return nil, backendError(err)
	}
	finish := b.now()

	frames, err := ToFrames(out, q.Format)
	if err != nil {
		return nil, fmt.Errorf("convert result: %w", err)
	}

	meta := domain.FirstPageMeta(frames)
	meta.RequestID = q.RequestID
	meta.ExecutionStartTime = start.UnixMilli()
	meta.ExecutionFinishTime = finish.UnixMilli()
	frames[0].Meta.ExecutedQueryString = raw

	return &domain.Response{
		RefID:  q.RefID,
		Key:    q.RequestID,
		Frames: frames,
		State:  domain.StateDone,
	}, nil
}

// CancelExecution asks Timestream to stop queryID and returns the
// cancellation message.
func (b *Backend) CancelExecution(ctx context.Context, queryID string) (string, error) {
	out, err := b.client.CancelQuery(ctx, &timestreamquery.CancelQueryInput{
		QueryId: aws.String(queryID),
	})
	if err != nil {
		return "", backendError(err)
	}
	if out != nil && out.CancellationMessage != nil {
		return *out.CancellationMessage, nil
	}
	return "cancel: " + queryID, nil
}

// ListDatabases returns the database names.
func (b *Backend) ListDatabases(ctx context.Context) ([]string, error) {
	rows, err := b.queryAll(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, err
	}
	return firstColumn(rows), nil
}

// ListTables returns the table names of database.
func (b *Backend) ListTables(ctx context.Context, database string) ([]string, error) {
	if database == "" {
		return nil, domain.ErrValidation("database is required")
	}
	rows, err := b.queryAll(ctx, "SHOW TABLES FROM "+domain.QuoteIdentifier(database))
	if err != nil {
		return nil, err
	}
	return firstColumn(rows), nil
}

// ListMeasures returns the measures of a table with their dimension names.
func (b *Backend) ListMeasures(ctx context.Context, database, table string) ([]domain.MeasureInfo, error) {
	if database == "" || table == "" {
		return nil, domain.ErrValidation("database and table are required")
	}
	sql := fmt.Sprintf("SHOW MEASURES FROM %s.%s", domain.QuoteIdentifier(database), domain.QuoteIdentifier(table))
	rows, err := b.queryAll(ctx, sql)
	if err != nil {
		return nil, err
	}

	measures := make([]domain.MeasureInfo, 0, len(rows))
	for _, row := range rows {
		if len(row.Data) == 0 || row.Data[0].ScalarValue == nil {
			continue
		}
		m := domain.MeasureInfo{Name: *row.Data[0].ScalarValue, Dimensions: []string{}}
		if len(row.Data) > 1 {
			m.Type = aws.ToString(row.Data[1].ScalarValue)
		}
		if len(row.Data) > 2 {
			for _, dim := range row.Data[2].ArrayValue {
				if dim.RowValue != nil && len(dim.RowValue.Data) > 0 && dim.RowValue.Data[0].ScalarValue != nil {
					m.Dimensions = append(m.Dimensions, *dim.RowValue.Data[0].ScalarValue)
				}
			}
		}
		measures = append(measures, m)
	}
	return measures, nil
}

// queryAll runs a schema statement and follows its continuation tokens.
func (b *Backend) queryAll(ctx context.Context, sql string) ([]types.Row, error) {
	var (
		rows  []types.Row
		token *string
	)
	for {
		out, err := b.client.Query(ctx, &timestreamquery.QueryInput{
			QueryString: aws.String(sql),
			NextToken:   token,
		})
		if err != nil {
			return nil, backendError(err)
		}
		rows = append(rows, out.Rows...)
		if out.NextToken == nil || *out.NextToken == "" {
			return rows, nil
		}
		token = out.NextToken
	}
}

func firstColumn(rows []types.Row) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row.Data) > 0 && row.Data[0].ScalarValue != nil {
			out = append(out, *row.Data[0].ScalarValue)
		}
	}
	return out
}

// backendError keeps the message reported by the AWS API, if any.
func backendError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return domain.ErrBackend(apiErr.ErrorMessage(), err)
	}
	return domain.ErrBackend("", err)
}
