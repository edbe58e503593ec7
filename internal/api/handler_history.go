package api

import (
	"net/http"
	"strconv"
	"time"

	"pagequery/internal/domain"
)

// HistoryEntry is one finished query in the history listing.
type HistoryEntry struct {
	ID           int64               `json:"id"`
	RequestID    string              `json:"request_id"`
	RefID        string              `json:"ref_id"`
	QueryID      string              `json:"query_id,omitempty"`
	RawQuery     string              `json:"raw_query"`
	State        domain.LoadingState `json:"state"`
	RequestCount int                 `json:"request_count"`
	ExecutionMs  *int64              `json:"execution_ms,omitempty"`
	BytesScanned int64               `json:"bytes_scanned"`
	BytesMetered int64               `json:"bytes_metered"`
	ErrorMessage *string             `json:"error_message,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

// HistoryPage is the body of GET /v1/history.
type HistoryPage struct {
	Entries       []HistoryEntry `json:"entries"`
	NextPageToken string         `json:"next_page_token,omitempty"`
	Total         int64          `json:"total"`
}

// History lists finished queries, newest first. Supports the ref_id, state,
// max_results and page_token query parameters.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusOK, HistoryPage{Entries: []HistoryEntry{}})
		return
	}

	q := r.URL.Query()
	filter := domain.QueryHistoryFilter{
		Page: domain.PageRequest{PageToken: q.Get("page_token")},
	}
	if v := q.Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, domain.ErrValidation("max_results must be an integer"))
			return
		}
		filter.Page.MaxResults = n
	}
	if v := q.Get("ref_id"); v != "" {
		filter.RefID = &v
	}
	if v := q.Get("state"); v != "" {
		filter.State = &v
	}

	entries, total, err := h.history.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	out := HistoryPage{
		Entries:       make([]HistoryEntry, len(entries)),
		NextPageToken: domain.NextPageToken(filter.Page.Offset(), filter.Page.Limit(), total),
		Total:         total,
	}
	for i, e := range entries {
		out.Entries[i] = HistoryEntry{
			ID:           e.ID,
			RequestID:    e.RequestID,
			RefID:        e.RefID,
			QueryID:      e.QueryID,
			RawQuery:     e.RawQuery,
			State:        e.State,
			RequestCount: e.RequestCount,
			ExecutionMs:  e.ExecutionMs,
			BytesScanned: e.BytesScanned,
			BytesMetered: e.BytesMetered,
			ErrorMessage: e.ErrorMessage,
			CreatedAt:    e.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}
