package domain

import "github.com/grafana/grafana-plugin-sdk-go/data"

// LoadingState describes where a response sits in its result stream.
type LoadingState string

const (
	StateLoading LoadingState = "Loading"
	StateDone    LoadingState = "Done"
	StateError   LoadingState = "Error"
	// StateCancelled is recorded for logical queries whose subscriber
	// detached before the terminal page. It is never emitted on a stream.
	StateCancelled LoadingState = "Cancelled"
)

// Response is one emission of a result stream, or one backend page.
type Response struct {
	RefID  string
	Key    string
	Frames data.Frames
	State  LoadingState
	Error  error
}

// IsTerminal reports whether no further responses follow r for its query.
func (r *Response) IsTerminal() bool {
	return r.State == StateDone || r.State == StateError
}

// RowCount returns the number of rows of the first frame.
func (r *Response) RowCount() int {
	if r == nil || len(r.Frames) == 0 || r.Frames[0] == nil {
		return 0
	}
	return r.Frames[0].Rows()
}
