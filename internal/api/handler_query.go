package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/grafana/grafana-plugin-sdk-go/data"

	"pagequery/internal/domain"
	"pagequery/internal/middleware"
)

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	Queries       []domain.Query    `json:"queries"`
	Range         domain.TimeRange  `json:"range"`
	IntervalMs    int64             `json:"intervalMs,omitempty"`
	MaxDataPoints int64             `json:"maxDataPoints,omitempty"`
	ScopedVars    domain.ScopedVars `json:"scopedVars,omitempty"`
}

// ResponseLine is one NDJSON line of a query stream.
type ResponseLine struct {
	RefID  string              `json:"refId,omitempty"`
	Key    string              `json:"key,omitempty"`
	State  domain.LoadingState `json:"state"`
	Error  string              `json:"error,omitempty"`
	Frames []*data.Frame       `json:"frames"`
}

// Query runs the request's queries and streams every emitted response as a
// line of NDJSON. The stream is unsubscribed when the client goes away.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Queries) == 0 {
		writeError(w, domain.ErrValidation("at least one query is required"))
		return
	}

	ctx := r.Context()
	stream := h.ds.Query(ctx, domain.Request{
		RequestID:     middleware.RequestIDFromContext(ctx),
		Targets:       req.Queries,
		Range:         req.Range,
		Interval:      time.Duration(req.IntervalMs) * time.Millisecond,
		MaxDataPoints: req.MaxDataPoints,
		ScopedVars:    req.ScopedVars,
	})
	defer stream.Unsubscribe()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	for {
		select {
		case rsp, ok := <-stream.Responses():
			if !ok {
				return
			}
			if err := enc.Encode(lineOf(rsp)); err != nil {
				h.logger.Warn("write query response failed", "request_id", middleware.RequestIDFromContext(ctx), "error", err)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case <-ctx.Done():
			h.logger.Debug("client left query stream", "request_id", middleware.RequestIDFromContext(ctx))
			return
		}
	}
}

func lineOf(rsp *domain.Response) ResponseLine {
	line := ResponseLine{
		RefID:  rsp.RefID,
		Key:    rsp.Key,
		State:  rsp.State,
		Frames: rsp.Frames,
	}
	if line.Frames == nil {
		line.Frames = []*data.Frame{}
	}
	if rsp.Error != nil {
		line.Error = rsp.Error.Error()
	}
	return line
}

// CancelRequest is the body of POST /v1/cancel.
type CancelRequest struct {
	QueryID string `json:"queryId"`
}

// CancelResponse carries the backend's answer to a cancellation.
type CancelResponse struct {
	Message string `json:"message"`
}

// Cancel asks the backend to stop a running query.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	msg, err := h.ds.CancelQuery(r.Context(), strings.TrimSpace(req.QueryID))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{Message: msg})
}

// VariablesRequest is the body of POST /v1/variables.
type VariablesRequest struct {
	Query string           `json:"query"`
	Range domain.TimeRange `json:"range"`
}

// Variables runs a template variable query.
func (h *Handler) Variables(w http.ResponseWriter, r *http.Request) {
	var req VariablesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	values, err := h.ds.MetricFindQuery(r.Context(), req.Query, req.Range)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"values": values})
}
