// Package macros expands the $__ macros of the query language before a query
// is sent to the backend.
package macros

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"pagequery/internal/domain"
)

// Settings holds the data source defaults used by the schema macros.
type Settings struct {
	DefaultDatabase string
	DefaultTable    string
	DefaultMeasure  string
}

var macroPattern = regexp.MustCompile(`\$__(timeFilter|timeFrom|timeTo|interval_raw_ms|interval_ms|interval|now_ms|database|table|measure)\b`)

// now is swapped in tests.
var now = time.Now

// Interpolate returns the query text of q with every macro expanded.
func Interpolate(q domain.Query, s Settings) (string, error) {
	var err error
	out := macroPattern.ReplaceAllStringFunc(q.RawQuery, func(match string) string {
		name := strings.TrimPrefix(match, "$__")
		switch name {
		case "timeFilter", "timeFrom", "timeTo":
			if q.TimeRange.From.IsZero() || q.TimeRange.To.IsZero() {
				err = domain.ErrValidation("$__%s requires a time range", name)
				return match
			}
		}

		from := q.TimeRange.From.UnixMilli()
		to := q.TimeRange.To.UnixMilli()
		switch name {
		case "timeFilter":
			return fmt.Sprintf("time BETWEEN from_milliseconds(%d) AND from_milliseconds(%d)", from, to)
		case "timeFrom":
			return fmt.Sprintf("from_milliseconds(%d)", from)
		case "timeTo":
			return fmt.Sprintf("from_milliseconds(%d)", to)
		case "interval_ms", "interval":
			return strconv.FormatInt(q.Interval.Milliseconds(), 10) + "ms"
		case "interval_raw_ms":
			return strconv.FormatInt(q.Interval.Milliseconds(), 10)
		case "now_ms":
			return strconv.FormatInt(now().UnixMilli(), 10)
		case "database":
			return orDefault(q.Database, s.DefaultDatabase)
		case "table":
			return orDefault(q.Table, s.DefaultTable)
		case "measure":
			return orDefault(q.Measure, s.DefaultMeasure)
		}
		return match
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// orDefault returns value unless it is empty or an unresolved template
// variable.
func orDefault(value, def string) string {
	if value == "" || strings.HasPrefix(value, "$") {
		return def
	}
	return value
}

// ApplyQueryDefaults fills the point budget and interval of q when the host
// left them empty.
func ApplyQueryDefaults(q *domain.Query) {
	if q.MaxDataPoints <= 0 {
		q.MaxDataPoints = domain.DefaultMaxDataPoints
	}
	if q.Interval.Milliseconds() == 0 && q.MaxDataPoints > 0 {
		millis := q.TimeRange.Duration().Milliseconds() / q.MaxDataPoints
		q.Interval = time.Duration(RoundInterval(millis)) * time.Millisecond
	}
}
