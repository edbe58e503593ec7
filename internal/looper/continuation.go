package looper

import (
	"pagequery/internal/domain"
)

// NextQuery derives the query for the page after rsp, or returns nil when rsp
// is the last page. Only the ref id, the token and the executed query text
// are taken from the page; template variables and macros have already been
// applied to that text and must not be applied again. Database, table and
// measure overrides are dropped for the same reason.
func NextQuery(prev domain.Query, rsp *domain.Response) *domain.Query {
	if rsp == nil || len(rsp.Frames) == 0 || rsp.Frames[0] == nil {
		return nil
	}
	first := rsp.Frames[0]
	meta := domain.PageMetaOf(first)
	if meta == nil || meta.NextToken == "" {
		return nil
	}

	refID := first.RefID
	if refID == "" {
		refID = prev.RefID
	}
	raw := prev.RawQuery
	if first.Meta != nil && first.Meta.ExecutedQueryString != "" {
		raw = first.Meta.ExecutedQueryString
	}

	return &domain.Query{
		RefID:         refID,
		RawQuery:      raw,
		NextToken:     meta.NextToken,
		WaitForResult: prev.WaitForResult,
		Format:        prev.Format,
		RequestID:     prev.RequestID,
		TimeRange:     prev.TimeRange,
		Interval:      prev.Interval,
		MaxDataPoints: prev.MaxDataPoints,
	}
}
