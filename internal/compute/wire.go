package compute

// Full method names of the query agent service. The service is described by
// hand and carried over the JSON codec, so no generated stubs are involved.
const (
	ServiceName = "pagequery.agent.v1.QueryAgent"

	MethodExecuteQuery = "/" + ServiceName + "/ExecuteQuery"
	MethodCancelQuery  = "/" + ServiceName + "/CancelQuery"
	MethodHealth       = "/" + ServiceName + "/Health"
)

// Metadata keys sent with every call.
const (
	MetadataAgentToken = "x-agent-token"
	MetadataRequestID  = "x-request-id"
)

// ExecuteQueryRequest asks the agent for one page of a query. The first call
// carries SQL; later calls carry the NextToken of the previous page and the
// same SQL.
type ExecuteQueryRequest struct {
	SQL       string `json:"sql"`
	NextToken string `json:"next_token,omitempty"`
	MaxRows   int    `json:"max_rows,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ColumnInfo describes one result column. Type is the DuckDB type name.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ExecuteQueryResponse is one page of results. NextToken is empty on the last
// page.
type ExecuteQueryResponse struct {
	QueryID   string       `json:"query_id"`
	Columns   []ColumnInfo `json:"columns"`
	Rows      [][]any      `json:"rows"`
	NextToken string       `json:"next_token,omitempty"`
	RequestID string       `json:"request_id,omitempty"`

	ExecutionStartMs  int64 `json:"execution_start_ms"`
	ExecutionFinishMs int64 `json:"execution_finish_ms"`

	// Running totals for the whole query.
	CumulativeBytesScanned int64 `json:"cumulative_bytes_scanned"`
	CumulativeBytesMetered int64 `json:"cumulative_bytes_metered"`
}

// CancelQueryRequest stops a paged query and drops its stored result.
type CancelQueryRequest struct {
	QueryID string `json:"query_id"`
}

// CancelQueryResponse carries the agent's cancellation message.
type CancelQueryResponse struct {
	QueryID             string `json:"query_id"`
	CancellationMessage string `json:"cancellation_message"`
}

// HealthRequest is the empty health probe.
type HealthRequest struct{}

// HealthResponse reports agent status.
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int    `json:"uptime_seconds"`
	DuckDBVersion string `json:"duckdb_version,omitempty"`
	ActiveQueries int64  `json:"active_queries"`
	StoredResults int64  `json:"stored_results"`
	ExpiredTotal  int64  `json:"expired_total"`
	ResultTTLSecs int    `json:"result_ttl_seconds"`
}
