package compute

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/grafana/grafana-plugin-sdk-go/data"

	"pagequery/internal/domain"
)

// fieldTypeOf maps a DuckDB type name onto a frame field type.
func fieldTypeOf(duckType string) data.FieldType {
	t := strings.ToUpper(duckType)
	switch {
	case t == "BOOLEAN":
		return data.FieldTypeNullableBool
	case strings.HasSuffix(t, "INT") || t == "INTEGER" || t == "UINTEGER":
		return data.FieldTypeNullableInt64
	case t == "FLOAT" || t == "DOUBLE" || t == "REAL" || strings.HasPrefix(t, "DECIMAL"):
		return data.FieldTypeNullableFloat64
	case strings.HasPrefix(t, "TIMESTAMP") || t == "DATE":
		return data.FieldTypeTime
	default:
		return data.FieldTypeNullableString
	}
}

// ToFrames converts one agent page into a single table frame carrying the
// page metadata.
func ToFrames(rsp *ExecuteQueryResponse, format domain.FormatOption) (data.Frames, error) {
	fields := make([]*data.Field, len(rsp.Columns))
	for i, col := range rsp.Columns {
		fields[i] = data.NewFieldFromFieldType(fieldTypeOf(col.Type), len(rsp.Rows))
		fields[i].Name = col.Name
	}

	var notices []data.Notice
	for r, row := range rsp.Rows {
		for c, field := range fields {
			if c >= len(row) || row[c] == nil {
				continue
			}
			v, err := cellValue(field.Type(), row[c])
			if err != nil {
				notices = append(notices, data.Notice{
					Severity: data.NoticeSeverityError,
					Text:     fmt.Sprintf("Error parsing: row:%d, column:%d", r, c),
				})
				continue
			}
			field.Set(r, v)
		}
	}

	frame := data.NewFrame("", fields...)
	if frame.Rows() > 0 && format == domain.FormatTimeSeries &&
		frame.TimeSeriesSchema().Type == data.TimeSeriesTypeLong {
		wide, err := data.LongToWide(frame, &data.FillMissing{Mode: data.FillModeNull})
		if err != nil {
			return nil, fmt.Errorf("format as time series: %w", err)
		}
		frame = wide
	}
	if len(notices) > 0 {
		frame.AppendNotices(notices...)
	}

	domain.SetPageMeta(frame, &domain.PageMeta{
		QueryID:             rsp.QueryID,
		NextToken:           rsp.NextToken,
		RequestID:           rsp.RequestID,
		ExecutionStartTime:  rsp.ExecutionStartMs,
		ExecutionFinishTime: rsp.ExecutionFinishMs,
		Status: domain.QueryStatus{
			CumulativeBytesMetered: rsp.CumulativeBytesMetered,
			CumulativeBytesScanned: rsp.CumulativeBytesScanned,
		},
	})
	return data.Frames{frame}, nil
}

// cellValue converts a decoded JSON cell into the Go type of a field.
func cellValue(ft data.FieldType, v any) (any, error) {
	switch ft {
	case data.FieldTypeNullableBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("not a boolean: %v", v)
		}
		return &b, nil
	case data.FieldTypeNullableInt64:
		switch n := v.(type) {
		case float64:
			i := int64(n)
			return &i, nil
		case string:
			i, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, err
			}
			return &i, nil
		}
	case data.FieldTypeNullableFloat64:
		switch n := v.(type) {
		case float64:
			return &n, nil
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, err
			}
			return &f, nil
		}
	case data.FieldTypeTime:
		if s, ok := v.(string); ok {
			return time.Parse(time.RFC3339Nano, s)
		}
	case data.FieldTypeNullableString:
		if s, ok := v.(string); ok {
			return &s, nil
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		s := string(raw)
		return &s, nil
	}
	return nil, fmt.Errorf("unexpected %T for %s", v, ft)
}
