// Package agent implements the query agent: a DuckDB-backed service that
// serves query results one page at a time over gRPC.
package agent

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"pagequery/internal/compute"
	"pagequery/internal/domain"
)

const (
	defaultPageSize  = 1000
	maxPageSize      = 10000
	defaultResultTTL = 10 * time.Minute
	defaultSweep     = "@every 1m"
)

// Config holds the parameters of a query agent.
type Config struct {
	DB         *sql.DB
	AgentToken string
	PageSize   int
	ResultTTL  time.Duration
	// SweepSchedule is the cron expression of the expired-result janitor.
	SweepSchedule string
	StartTime     time.Time
	Logger        *slog.Logger
}

// Server answers ExecuteQuery, CancelQuery and Health calls.
type Server struct {
	cfg    Config
	logger *slog.Logger
	store  *resultStore
	cron   *cron.Cron
	now    func() time.Time

	activeQueries atomic.Int64
}

// NewServer creates a Server. Call Start to run the result janitor.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = defaultResultTTL
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = defaultSweep
	}
	if cfg.StartTime.IsZero() {
		cfg.StartTime = time.Now()
	}
	compute.EnsureJSONCodec()

	return &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		store:  newResultStore(cfg.ResultTTL, cfg.Logger),
		cron:   cron.New(),
		now:    time.Now,
	}
}

// Start schedules the janitor that drops expired results.
func (s *Server) Start() error {
	_, err := s.cron.AddFunc(s.cfg.SweepSchedule, func() {
		if n := s.store.sweep(); n > 0 {
			s.logger.Info("expired stored results", "count", n)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule result janitor: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the janitor.
func (s *Server) Stop() {
	<-s.cron.Stop().Done()
}

// ExecuteQuery returns one page. Without a token the query is run and its
// result stored; with a token the next slice of the stored result is
// returned. The stored result is dropped after its last page.
func (s *Server) ExecuteQuery(ctx context.Context, req *compute.ExecuteQueryRequest) (*compute.ExecuteQueryResponse, error) {
	if err := s.authorize(ctx); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = metadataValue(ctx, compute.MetadataRequestID)
	}

	limit := req.MaxRows
	if limit <= 0 {
		limit = s.cfg.PageSize
	}
	limit = min(limit, maxPageSize)

	if req.NextToken != "" {
		queryID, offset, err := domain.DecodeResumeToken(req.NextToken)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		if s.store.isCancelled(queryID) {
			return nil, status.Errorf(codes.FailedPrecondition, "query %s was cancelled", queryID)
		}
		result, ok := s.store.get(queryID)
		if !ok {
			return nil, status.Errorf(codes.NotFound, "query %s not found or expired", queryID)
		}
		return s.page(result, offset, limit, requestID), nil
	}

	if req.SQL == "" {
		return nil, status.Error(codes.InvalidArgument, "sql is required")
	}

	start := s.now()
	columns, rows, err := materialize(ctx, s.cfg.DB, req.SQL, &s.activeQueries)
	if err != nil {
		s.logger.Warn("query failed", "request_id", requestID, "error", err)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	finish := s.now()

	result := &storedResult{
		id:       uuid.NewString(),
		columns:  columns,
		rows:     rows,
		cumBytes: rowSizes(rows),
		startMs:  start.UnixMilli(),
		finishMs: finish.UnixMilli(),
	}
	s.logger.Info("query executed", "request_id", requestID, "query_id", result.id, "rows", len(rows))

	if len(rows) > limit {
		s.store.put(result)
	}
	return s.page(result, 0, limit, requestID), nil
}

func (s *Server) page(r *storedResult, offset, limit int, requestID string) *compute.ExecuteQueryResponse {
	offset = min(max(offset, 0), len(r.rows))
	end := min(offset+limit, len(r.rows))

	out := &compute.ExecuteQueryResponse{
		QueryID:                r.id,
		Columns:                r.columns,
		Rows:                   r.rows[offset:end],
		RequestID:              requestID,
		ExecutionStartMs:       r.startMs,
		ExecutionFinishMs:      r.finishMs,
		CumulativeBytesScanned: r.totalBytes(),
		CumulativeBytesMetered: r.cumBytes[end],
	}
	if out.Rows == nil {
		out.Rows = [][]any{}
	}
	if end < len(r.rows) {
		out.NextToken = domain.EncodeResumeToken(r.id, end)
	} else {
		s.store.remove(r)
	}
	return out
}

// CancelQuery drops the stored result of a query.
func (s *Server) CancelQuery(ctx context.Context, req *compute.CancelQueryRequest) (*compute.CancelQueryResponse, error) {
	if err := s.authorize(ctx); err != nil {
		return nil, err
	}
	if req == nil || req.QueryID == "" {
		return nil, status.Error(codes.InvalidArgument, "query_id is required")
	}

	if !s.store.cancel(req.QueryID) {
		if s.store.isCancelled(req.QueryID) {
			return &compute.CancelQueryResponse{
				QueryID:             req.QueryID,
				CancellationMessage: fmt.Sprintf("Query %s was already cancelled", req.QueryID),
			}, nil
		}
		return nil, status.Errorf(codes.NotFound, "query %s not found or already finished", req.QueryID)
	}
	s.logger.Info("query cancelled", "query_id", req.QueryID)
	return &compute.CancelQueryResponse{
		QueryID:             req.QueryID,
		CancellationMessage: fmt.Sprintf("Query %s cancelled", req.QueryID),
	}, nil
}

// Health reports agent status.
func (s *Server) Health(ctx context.Context, _ *compute.HealthRequest) (*compute.HealthResponse, error) {
	if err := s.authorize(ctx); err != nil {
		return nil, err
	}
	return s.health(ctx), nil
}

func (s *Server) health(ctx context.Context) *compute.HealthResponse {
	var version string
	_ = s.cfg.DB.QueryRowContext(ctx, "SELECT version()").Scan(&version)

	stored, expired := s.store.stats()
	return &compute.HealthResponse{
		Status:        "ok",
		UptimeSeconds: int(time.Since(s.cfg.StartTime).Seconds()),
		DuckDBVersion: version,
		ActiveQueries: s.activeQueries.Load(),
		StoredResults: stored,
		ExpiredTotal:  expired,
		ResultTTLSecs: int(s.cfg.ResultTTL.Seconds()),
	}
}

func (s *Server) authorize(ctx context.Context) error {
	if s.cfg.AgentToken == "" {
		return nil
	}
	if metadataValue(ctx, compute.MetadataAgentToken) == s.cfg.AgentToken {
		return nil
	}
	return status.Error(codes.Unauthenticated, "unauthorized")
}

func metadataValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

type queryAgentServer interface {
	ExecuteQuery(context.Context, *compute.ExecuteQueryRequest) (*compute.ExecuteQueryResponse, error)
	CancelQuery(context.Context, *compute.CancelQueryRequest) (*compute.CancelQueryResponse, error)
	Health(context.Context, *compute.HealthRequest) (*compute.HealthResponse, error)
}

// Register adds the query agent service to registrar.
func Register(registrar grpc.ServiceRegistrar, srv *Server) {
	registrar.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: compute.ServiceName,
	HandlerType: (*queryAgentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ExecuteQuery", Handler: executeQueryHandler},
		{MethodName: "CancelQuery", Handler: cancelQueryHandler},
		{MethodName: "Health", Handler: healthHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "query_agent",
}

func executeQueryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(compute.ExecuteQueryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(queryAgentServer).ExecuteQuery(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: compute.MethodExecuteQuery}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(queryAgentServer).ExecuteQuery(ctx, req.(*compute.ExecuteQueryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func cancelQueryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(compute.CancelQueryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(queryAgentServer).CancelQuery(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: compute.MethodCancelQuery}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(queryAgentServer).CancelQuery(ctx, req.(*compute.CancelQueryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func healthHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(compute.HealthRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(queryAgentServer).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: compute.MethodHealth}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(queryAgentServer).Health(ctx, req.(*compute.HealthRequest))
	}
	return interceptor(ctx, in, info, handler)
}
