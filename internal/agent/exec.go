package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/duckdb/duckdb-go/v2"

	"pagequery/internal/compute"
)

// materialize runs query and reads the whole result. Values are converted to
// JSON-friendly forms so they survive the wire codec.
func materialize(ctx context.Context, db *sql.DB, query string, active *atomic.Int64) ([]compute.ColumnInfo, [][]any, error) {
	active.Add(1)
	defer active.Add(-1)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close() //nolint:errcheck

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, err
	}
	columns := make([]compute.ColumnInfo, len(colTypes))
	for i, ct := range colTypes {
		columns[i] = compute.ColumnInfo{Name: ct.Name(), Type: ct.DatabaseTypeName()}
	}

	var out [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		for i := range values {
			values[i] = normalizeValue(values[i])
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, out, nil
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil, bool, string, float32, float64,
		int, int8, int16, int32, int64, uint8, uint16, uint32, uint64:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(x)
	case *big.Int:
		return x.String()
	case duckdb.Decimal:
		return x.Float64()
	case duckdb.Interval:
		return fmt.Sprintf("%d months %d days %d us", x.Months, x.Days, x.Micros)
	case duckdb.Map:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[fmt.Sprint(k)] = normalizeValue(val)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[k] = normalizeValue(val)
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i, val := range x {
			s[i] = normalizeValue(val)
		}
		return s
	case fmt.Stringer:
		return x.String()
	default:
		if _, err := json.Marshal(x); err != nil {
			return fmt.Sprint(x)
		}
		return x
	}
}

// rowSizes returns the running encoded size of rows, starting at zero.
func rowSizes(rows [][]any) []int64 {
	cum := make([]int64, len(rows)+1)
	for i, row := range rows {
		raw, err := json.Marshal(row)
		size := int64(len(raw))
		if err != nil {
			size = 0
		}
		cum[i+1] = cum[i] + size
	}
	return cum
}
