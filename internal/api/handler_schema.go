package api

import (
	"net/http"

	"pagequery/internal/domain"
)

// SchemaRequest is the body of the table and measure lookups. Empty fields
// fall back to the configured defaults.
type SchemaRequest struct {
	Database string `json:"database,omitempty"`
	Table    string `json:"table,omitempty"`
	Filter   string `json:"filter,omitempty"`
}

type optionsResponse struct {
	Options []domain.SelectableValue `json:"options"`
}

// Databases lists the databases of the backend.
func (h *Handler) Databases(w http.ResponseWriter, r *http.Request) {
	opts, err := h.ds.Schema().Databases(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, optionsResponse{Options: opts})
}

// Tables lists the tables of a database.
func (h *Handler) Tables(w http.ResponseWriter, r *http.Request) {
	var req SchemaRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	opts, err := h.ds.Schema().Tables(r.Context(), req.Database)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, optionsResponse{Options: opts})
}

// Measures lists the measures of a table, optionally filtered by substring.
func (h *Handler) Measures(w http.ResponseWriter, r *http.Request) {
	var req SchemaRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	schema := h.ds.Schema()
	var (
		opts []domain.SelectableValue
		err  error
	)
	if req.Filter != "" {
		opts, err = schema.FilterMeasures(r.Context(), req.Database, req.Table, req.Filter)
	} else {
		opts, err = schema.Measures(r.Context(), req.Database, req.Table)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, optionsResponse{Options: opts})
}
