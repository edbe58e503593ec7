package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"pagequery/internal/domain"
)

const timeLayout = "2006-01-02T15:04:05.000Z"

var _ domain.HistoryRepository = (*Repo)(nil)

// Repo implements domain.HistoryRepository.
type Repo struct {
	db *sql.DB
}

// NewRepo creates a Repo on an opened history database.
func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// Insert stores e and fills its ID. A zero CreatedAt is set to now.
func (r *Repo) Insert(ctx context.Context, e *domain.QueryHistoryEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO query_history
		(request_id, ref_id, query_id, raw_query, state, request_count, execution_ms,
		 bytes_scanned, bytes_metered, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.RefID, e.QueryID, e.RawQuery, string(e.State), e.RequestCount, e.ExecutionMs,
		e.BytesScanned, e.BytesMetered, e.ErrorMessage, e.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert query history: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert query history: %w", err)
	}
	e.ID = id
	return nil
}

// List returns entries newest first, with the total number of matches.
func (r *Repo) List(ctx context.Context, filter domain.QueryHistoryFilter) ([]domain.QueryHistoryEntry, int64, error) {
	var (
		where []string
		args  []any
	)
	if filter.RefID != nil {
		where = append(where, "ref_id = ?")
		args = append(args, *filter.RefID)
	}
	if filter.State != nil {
		where = append(where, "state = ?")
		args = append(args, *filter.State)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM query_history"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count query history: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT id, request_id, ref_id, query_id, raw_query, state,
		request_count, execution_ms, bytes_scanned, bytes_metered, error_message, created_at
		FROM query_history`+clause+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, filter.Page.Limit(), filter.Page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list query history: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.QueryHistoryEntry
	for rows.Next() {
		var (
			e         domain.QueryHistoryEntry
			state     string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.RefID, &e.QueryID, &e.RawQuery, &state,
			&e.RequestCount, &e.ExecutionMs, &e.BytesScanned, &e.BytesMetered, &e.ErrorMessage, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("scan query history: %w", err)
		}
		e.State = domain.LoadingState(state)
		if t, err := time.Parse(timeLayout, createdAt); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
