package timestream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/timestreamquery"
	"github.com/aws/aws-sdk-go-v2/service/timestreamquery/types"
	"github.com/grafana/grafana-plugin-sdk-go/data"

	"pagequery/internal/domain"
)

// ToFrames converts one Timestream result page into frames. The page
// metadata (query id, continuation token, byte counters) is attached to the
// first frame. Time series columns produce one frame per row.
func ToFrames(out *timestreamquery.QueryOutput, format domain.FormatOption) (data.Frames, error) {
	var (
		notices    []data.Notice
		builders   []*fieldBuilder
		seriesCols []*fieldBuilder
	)

	for i, col := range out.ColumnInfo {
		b, err := newFieldBuilder(col.Type)
		if err != nil {
			notices = append(notices, data.Notice{
				Severity: data.NoticeSeverityWarning,
				Text:     fmt.Sprintf("column %q: %v", aws.ToString(col.Name), err),
			})
			continue
		}
		b.columnIdx = i
		b.name = aws.ToString(col.Name)
		if b.timeseries {
			seriesCols = append(seriesCols, b)
		} else {
			builders = append(builders, b)
		}
	}

	var frames data.Frames
	if len(seriesCols) > 0 {
		var err error
		frames, err = seriesFrames(out.Rows, seriesCols, builders)
		if err != nil {
			return nil, err
		}
	} else {
		frame, tableNotices := tableFrame(out.Rows, builders)
		notices = append(notices, tableNotices...)

		if frame.Rows() > 0 && format == domain.FormatTimeSeries &&
			frame.TimeSeriesSchema().Type == data.TimeSeriesTypeLong {
			wide, err := data.LongToWide(frame, &data.FillMissing{Mode: data.FillModeNull})
			if err != nil {
				return nil, fmt.Errorf("format as time series: %w", err)
			}
			frame = wide
		}
		frames = append(frames, frame)
	}

	if len(frames) == 0 {
		frames = data.Frames{data.NewFrame("")}
	}
	if len(notices) > 0 {
		frames[0].AppendNotices(notices...)
	}

	domain.SetPageMeta(frames[0], &domain.PageMeta{
		QueryID:   aws.ToString(out.QueryId),
		NextToken: aws.ToString(out.NextToken),
		HasSeries: len(seriesCols) > 0,
		Status:    statusOf(out.QueryStatus),
	})
	return frames, nil
}

func tableFrame(rows []types.Row, builders []*fieldBuilder) (*data.Frame, []data.Notice) {
	var notices []data.Notice
	fields := make([]*data.Field, 0, len(builders))

	for _, b := range builders {
		field := data.NewFieldFromFieldType(b.fieldType, len(rows))
		field.Name = b.name
		if b.config != nil {
			field.Config = b.config
		}

		reported := false
		for i, row := range rows {
			if b.columnIdx >= len(row.Data) {
				continue
			}
			v, err := b.parser(row.Data[b.columnIdx])
			if err != nil {
				if !reported {
					notices = append(notices, data.Notice{
						Severity: data.NoticeSeverityError,
						Text:     fmt.Sprintf("Error parsing: row:%d, column:%d", i, b.columnIdx),
					})
					reported = true
				}
				continue
			}
			if v == nil {
				continue
			}
			if b.asJSON {
				v = marshalCell(v)
			}
			field.Set(i, v)
		}
		fields = append(fields, field)
	}
	return data.NewFrame("", fields...), notices
}

func seriesFrames(rows []types.Row, seriesCols, labelCols []*fieldBuilder) (data.Frames, error) {
	var frames data.Frames
	for _, col := range seriesCols {
		for _, row := range rows {
			if col.columnIdx >= len(row.Data) {
				return nil, fmt.Errorf("expecting time series column at: %d", col.columnIdx)
			}
			cell := row.Data[col.columnIdx]
			if cell.TimeSeriesValue == nil && !isNull(cell) {
				return nil, fmt.Errorf("expecting time series column at: %d", col.columnIdx)
			}

			points := cell.TimeSeriesValue
			tf := data.NewFieldFromFieldType(data.FieldTypeTime, len(points))
			tf.Name = "time"
			vf := data.NewFieldFromFieldType(col.fieldType, len(points))
			vf.Name = col.name
			vf.Labels = data.Labels{}
			for _, lc := range labelCols {
				if lc.columnIdx < len(row.Data) && row.Data[lc.columnIdx].ScalarValue != nil {
					vf.Labels[lc.name] = *row.Data[lc.columnIdx].ScalarValue
				}
			}

			for i, p := range points {
				if t, err := time.Parse(timestampLayout, aws.ToString(p.Time)); err == nil {
					tf.Set(i, t)
				}
				if p.Value == nil {
					continue
				}
				if v, err := col.parser(*p.Value); err == nil && v != nil {
					if col.asJSON {
						v = marshalCell(v)
					}
					vf.Set(i, v)
				}
			}
			frames = append(frames, data.NewFrame("", tf, vf))
		}
	}
	return frames, nil
}

func marshalCell(v any) *string {
	raw, err := json.Marshal(v)
	s := string(raw)
	if err != nil {
		s = "ERROR: " + err.Error()
	}
	return &s
}

// statusOf reads the byte counters of a query status. The counters are
// copied through JSON since their nullability differs between SDK releases.
func statusOf(s *types.QueryStatus) domain.QueryStatus {
	var out domain.QueryStatus
	if s == nil {
		return out
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}
