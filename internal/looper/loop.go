package looper

import (
	"context"
	"log/slog"
	"time"

	"github.com/grafana/grafana-plugin-sdk-go/data"

	"pagequery/internal/domain"
	"pagequery/internal/frames"
	"pagequery/internal/pagination"
)

const defaultCancelTimeout = 10 * time.Second

// Options configures a continuation loop.
type Options struct {
	Backend domain.QueryBackend
	Logger  *slog.Logger

	// EmptyPageBackoff, when positive, delays the request after a page with
	// fewer than two rows by the number of consecutive such pages times this
	// value.
	EmptyPageBackoff time.Duration

	// CancelTimeout bounds the backend cancellation call made on detach.
	CancelTimeout time.Duration

	// Now is the loop clock. Defaults to time.Now.
	Now func() time.Time

	// OnFinish, when set, is called once from the loop goroutine after the
	// logical query has ended.
	OnFinish func(Outcome)
}

// Outcome summarizes a finished logical query.
type Outcome struct {
	Query     domain.Query
	Response  *domain.Response // terminal response; nil when cancelled
	Meta      *domain.PageMeta // accumulated page metadata
	Stats     []data.QueryStat
	Requests  int // recorded sub-requests; zero for a single page
	Cancelled bool
}

type fetchResult struct {
	rsp *domain.Response
	err error
}

type loop struct {
	opts    Options
	logger  *slog.Logger
	stream  *Stream
	query   domain.Query
	tracker *pagination.Tracker

	acc        data.Frames
	stats      []data.QueryStat
	emptyPages int
	cancelled  bool
}

// Run starts the continuation loop for q and returns its result stream. The
// loop stops when the last page has been delivered, a page fails, the
// subscriber calls Unsubscribe, or ctx ends. Exactly one backend call is in
// flight at any time.
func Run(ctx context.Context, q domain.Query, opts Options) *Stream {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CancelTimeout <= 0 {
		opts.CancelTimeout = defaultCancelTimeout
	}
	if q.RequestID == "" {
		q.RequestID = domain.NewID()
	}

	l := &loop{
		opts:    opts,
		logger:  opts.Logger.With("ref_id", q.RefID, "request_id", q.RequestID),
		stream:  newStream(),
		query:   q,
		tracker: pagination.NewTracker(opts.Now),
	}
	go l.run(ctx)
	return l.stream
}

func (l *loop) run(ctx context.Context) {
	defer l.stream.finish()

	current := l.query
	for n := 1; ; n++ {
		current.RequestID = domain.SubRequestID(l.query.RequestID, n)

		l.tracker.BeginRequest()
		res, ok := l.fetch(ctx, current)
		if !ok {
			l.abandon()
			return
		}
		l.tracker.EndRequest()

		if res.err != nil {
			l.logger.Warn("page fetch failed", "page", n, "error", res.err)
			l.complete(ctx, &domain.Response{
				RefID: l.query.RefID,
				Key:   l.query.RequestID,
				State: domain.StateError,
				Error: res.err,
			})
			return
		}

		rsp := res.rsp
		if rsp == nil {
			rsp = &domain.Response{}
		}
		state := rsp.State
		var next *domain.Query
		if state != domain.StateError {
			next = NextQuery(current, rsp)
			if next != nil && l.tracker.Started() && !l.sameQuery(rsp, n) {
				next = nil
			}
			state = domain.StateDone
			if next != nil {
				state = domain.StateLoading
			}
		}

		l.logger.Debug("page received", "page", n, "rows", rsp.RowCount(), "has_next", next != nil)

		out := &domain.Response{
			RefID:  l.query.RefID,
			Key:    l.query.RequestID,
			Frames: l.process(rsp.Frames, next == nil),
			State:  state,
			Error:  rsp.Error,
		}

		if next == nil {
			l.complete(ctx, out)
			return
		}
		if !l.query.WaitForResult && !l.emit(ctx, snapshot(out)) {
			l.abandon()
			return
		}
		if !l.backoff(ctx, rsp.Frames) {
			l.abandon()
			return
		}
		current = *next
	}
}

// sameQuery reports whether a continuation page belongs to the query
// captured from the first page. A page without a query id, or with another
// one, ends the loop.
func (l *loop) sameQuery(rsp *domain.Response, page int) bool {
	meta := domain.FirstPageMeta(rsp.Frames)
	if meta == nil {
		return false
	}
	want := l.tracker.QueryID()
	switch {
	case meta.QueryID == "":
		l.logger.Warn("continuation page has no query id, treating it as final", "page", page, "query_id", want)
		return false
	case meta.QueryID != want:
		l.logger.Warn("continuation page belongs to another query, treating it as final",
			"page", page, "query_id", want, "page_query_id", meta.QueryID)
		return false
	}
	return true
}

// fetch issues one backend call. The call itself is never aborted: when the
// subscriber detaches first, the loop returns and the eventual response is
// dropped.
func (l *loop) fetch(ctx context.Context, q domain.Query) (fetchResult, bool) {
	done := make(chan fetchResult, 1)
	go func() {
		rsp, err := l.opts.Backend.Execute(context.WithoutCancel(ctx), q)
		done <- fetchResult{rsp: rsp, err: err}
	}()

	select {
	case res := <-done:
		if l.detached(ctx) {
			return fetchResult{}, false
		}
		return res, true
	case <-l.stream.detach:
		return fetchResult{}, false
	case <-ctx.Done():
		return fetchResult{}, false
	}
}

// process folds a page into the accumulated result and updates the tracker.
func (l *loop) process(page data.Frames, isLast bool) data.Frames {
	meta := domain.FirstPageMeta(page)
	if meta == nil {
		if isLast {
			l.stats = l.tracker.RecordFinalStats()
		}
		if len(l.acc) > 0 {
			return l.acc
		}
		return page
	}

	if !l.tracker.Started() {
		l.tracker.RecordFirstPage(meta)
	} else {
		l.tracker.RecordContinuationPage(meta)
	}

	if l.tracker.HasSeries() || len(l.acc) == 0 {
		for _, f := range page {
			if f != nil && len(f.Fields) > 0 {
				l.acc = append(l.acc, frames.Clone(f))
			}
		}
	} else if page[0].Rows() > 0 {
		if len(page) > 1 {
			l.logger.Warn("table page carries more than one frame, only matching fields are merged", "frames", len(page))
		}
		l.acc = frames.AppendMatching(l.acc, page)
	}

	if isLast {
		l.stats = l.tracker.RecordFinalStats()
	}

	if len(l.acc) == 0 || l.acc[0].Meta == nil {
		return page
	}
	domain.SetPageMeta(l.acc[0], l.tracker.Snapshot())
	if l.stats != nil {
		l.acc[0].Meta.Stats = l.stats
	}
	return l.acc
}

func (l *loop) emit(ctx context.Context, rsp *domain.Response) bool {
	if l.detached(ctx) {
		return false
	}
	select {
	case l.stream.out <- rsp:
		return true
	case <-l.stream.detach:
		return false
	case <-ctx.Done():
		return false
	}
}

// complete delivers the terminal response.
func (l *loop) complete(ctx context.Context, rsp *domain.Response) {
	if !l.emit(ctx, rsp) {
		l.logger.Debug("subscriber left before the final response")
	}
	l.finish(rsp)
}

func (l *loop) backoff(ctx context.Context, page data.Frames) bool {
	if l.opts.EmptyPageBackoff <= 0 {
		return true
	}
	if len(page) > 0 && page[0] != nil && page[0].Rows() >= 2 {
		l.emptyPages = 0
		return true
	}
	l.emptyPages++
	timer := time.NewTimer(time.Duration(l.emptyPages) * l.opts.EmptyPageBackoff)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-l.stream.detach:
		return false
	case <-ctx.Done():
		return false
	}
}

func (l *loop) detached(ctx context.Context) bool {
	return l.stream.isDetached() || ctx.Err() != nil
}

// abandon runs when the subscriber detached before the terminal page. The
// backend is asked to stop the query once, and only when it has started and
// not yet finished. Failures are logged since nobody is left to receive them.
func (l *loop) abandon() {
	queryID := l.tracker.QueryID()
	if queryID != "" && !l.tracker.Finished() && !l.cancelled {
		l.cancelled = true
		ctx, cancel := context.WithTimeout(context.Background(), l.opts.CancelTimeout)
		defer cancel()

		inFlight := l.tracker.InFlight()
		msg, err := l.opts.Backend.CancelExecution(ctx, queryID)
		if err != nil {
			l.logger.Warn("cancel query failed", "query_id", queryID, "in_flight", inFlight, "error", err)
		} else {
			l.logger.Info("query cancelled", "query_id", queryID, "in_flight", inFlight, "message", msg)
		}
	}
	l.finish(nil)
}

func (l *loop) finish(rsp *domain.Response) {
	if l.opts.OnFinish == nil {
		return
	}
	l.opts.OnFinish(Outcome{
		Query:     l.query,
		Response:  rsp,
		Meta:      l.tracker.Snapshot(),
		Stats:     l.stats,
		Requests:  l.tracker.SubRequests(),
		Cancelled: rsp == nil,
	})
}

// snapshot copies rsp so the subscriber never observes later merges.
func snapshot(rsp *domain.Response) *domain.Response {
	out := *rsp
	out.Frames = frames.CloneAll(rsp.Frames)
	return &out
}
