// Package looper drives paged backend queries to completion and streams the
// merged result to a single subscriber.
package looper

import (
	"context"
	"sync"

	"pagequery/internal/domain"
)

// Stream is the result stream of one or more logical queries. Responses are
// delivered in order on Responses; the channel is closed once the stream has
// ended, either after its terminal response or after Unsubscribe.
type Stream struct {
	out        chan *domain.Response
	detach     chan struct{}
	detachOnce sync.Once
	done       chan struct{}
}

func newStream() *Stream {
	return &Stream{
		out:    make(chan *domain.Response),
		detach: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Responses returns the channel responses are delivered on.
func (s *Stream) Responses() <-chan *domain.Response { return s.out }

// Unsubscribe detaches the subscriber. No further pages are requested and any
// page already in flight is discarded. Safe to call more than once.
func (s *Stream) Unsubscribe() {
	s.detachOnce.Do(func() { close(s.detach) })
}

// Done is closed once the stream has stopped, including any cancellation
// request it issued on the way out.
func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) isDetached() bool {
	select {
	case <-s.detach:
		return true
	default:
		return false
	}
}

func (s *Stream) finish() {
	close(s.out)
	close(s.done)
}

// Collect reads every response of s. If ctx ends first the stream is
// unsubscribed and the responses read so far are returned with ctx's error.
func (s *Stream) Collect(ctx context.Context) ([]*domain.Response, error) {
	var all []*domain.Response
	for {
		select {
		case rsp, ok := <-s.out:
			if !ok {
				return all, nil
			}
			all = append(all, rsp)
		case <-ctx.Done():
			s.Unsubscribe()
			return all, ctx.Err()
		}
	}
}

// Last reads s to the end and returns its final response, or nil when the
// stream produced nothing.
func (s *Stream) Last(ctx context.Context) (*domain.Response, error) {
	all, err := s.Collect(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all[len(all)-1], nil
}

// Just returns a stream that emits rsp and ends.
func Just(rsp *domain.Response) *Stream {
	s := newStream()
	go func() {
		defer s.finish()
		select {
		case s.out <- rsp:
		case <-s.detach:
		}
	}()
	return s
}
