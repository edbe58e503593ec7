package timestream

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/timestreamquery"
	"github.com/aws/aws-sdk-go-v2/service/timestreamquery/types"
	"github.com/grafana/grafana-plugin-sdk-go/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagequery/internal/domain"
)

func TestToFrames_Table(t *testing.T) {
	out := &timestreamquery.QueryOutput{
		QueryId:   aws.String("q-1"),
		NextToken: aws.String("tok"),
		ColumnInfo: []types.ColumnInfo{
			scalarCol("time", types.ScalarTypeTimestamp),
			scalarCol("host", types.ScalarTypeVarchar),
			scalarCol("cpu", types.ScalarTypeDouble),
			scalarCol("count", types.ScalarTypeBigint),
			scalarCol("up", types.ScalarTypeBoolean),
			{Name: aws.String("tags"), Type: &types.Type{ArrayColumnInfo: &types.ColumnInfo{
				Type: &types.Type{ScalarType: types.ScalarTypeVarchar},
			}}},
		},
		Rows: []types.Row{
			row(scalar("2020-03-18 17:26:30.000000000"), scalar("a"), scalar("1.5"), scalar("7"), scalar("true"),
				types.Datum{ArrayValue: []types.Datum{scalar("x"), scalar("y")}}),
			row(scalar("2020-03-18 17:26:31.000000000"), types.Datum{NullValue: aws.Bool(true)}, scalar("2.5"), scalar("8"), scalar("false"),
				types.Datum{NullValue: aws.Bool(true)}),
		},
	}

	frames, err := ToFrames(out, domain.FormatTable)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	f := frames[0]
	require.Len(t, f.Fields, 6)
	assert.Equal(t, 2, f.Rows())

	assert.Equal(t, time.Date(2020, 3, 18, 17, 26, 30, 0, time.UTC), f.Fields[0].At(0))
	assert.Equal(t, "a", *f.Fields[1].At(0).(*string))
	assert.Nil(t, f.Fields[1].At(1))
	assert.InDelta(t, 2.5, *f.Fields[2].At(1).(*float64), 0.0001)
	assert.Equal(t, int64(7), *f.Fields[3].At(0).(*int64))
	assert.False(t, *f.Fields[4].At(1).(*bool))
	assert.Equal(t, `["x","y"]`, *f.Fields[5].At(0).(*string))
	assert.Nil(t, f.Fields[5].At(1))
	assert.Equal(t, "json-view", f.Fields[5].Config.Custom["displayMode"])

	meta := domain.PageMetaOf(f)
	require.NotNil(t, meta)
	assert.Equal(t, "q-1", meta.QueryID)
	assert.Equal(t, "tok", meta.NextToken)
	assert.False(t, meta.HasSeries)
}

func TestToFrames_ParseErrorAddsNotice(t *testing.T) {
	out := &timestreamquery.QueryOutput{
		ColumnInfo: []types.ColumnInfo{scalarCol("n", types.ScalarTypeInteger)},
		Rows:       []types.Row{row(scalar("x")), row(scalar("2"))},
	}

	frames, err := ToFrames(out, domain.FormatTable)
	require.NoError(t, err)
	require.Len(t, frames[0].Meta.Notices, 1)
	assert.Equal(t, data.NoticeSeverityError, frames[0].Meta.Notices[0].Severity)
	assert.Nil(t, frames[0].Fields[0].At(0))
	assert.Equal(t, int32(2), *frames[0].Fields[0].At(1).(*int32))
}

func TestToFrames_TimeSeries(t *testing.T) {
	series := types.ColumnInfo{Name: aws.String("cpu"), Type: &types.Type{
		TimeSeriesMeasureValueColumnInfo: &types.ColumnInfo{Type: &types.Type{ScalarType: types.ScalarTypeDouble}},
	}}
	point := func(ts, v string) types.TimeSeriesDataPoint {
		d := scalar(v)
		return types.TimeSeriesDataPoint{Time: aws.String(ts), Value: &d}
	}
	out := &timestreamquery.QueryOutput{
		QueryId:    aws.String("q-2"),
		ColumnInfo: []types.ColumnInfo{scalarCol("host", types.ScalarTypeVarchar), series},
		Rows: []types.Row{
			row(scalar("a"), types.Datum{TimeSeriesValue: []types.TimeSeriesDataPoint{
				point("2020-03-18 17:26:30.000000000", "1"),
				point("2020-03-18 17:26:31.000000000", "2"),
			}}),
			row(scalar("b"), types.Datum{TimeSeriesValue: []types.TimeSeriesDataPoint{
				point("2020-03-18 17:26:30.000000000", "3"),
			}}),
		},
	}

	frames, err := ToFrames(out, domain.FormatTable)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "time", frames[0].Fields[0].Name)
	assert.Equal(t, "cpu", frames[0].Fields[1].Name)
	assert.Equal(t, data.Labels{"host": "a"}, frames[0].Fields[1].Labels)
	assert.Equal(t, 2, frames[0].Rows())
	assert.Equal(t, data.Labels{"host": "b"}, frames[1].Fields[1].Labels)

	meta := domain.PageMetaOf(frames[0])
	require.NotNil(t, meta)
	assert.True(t, meta.HasSeries)
	assert.Nil(t, domain.PageMetaOf(frames[1]))
}

func TestToFrames_LongToWide(t *testing.T) {
	out := &timestreamquery.QueryOutput{
		ColumnInfo: []types.ColumnInfo{
			scalarCol("time", types.ScalarTypeTimestamp),
			scalarCol("host", types.ScalarTypeVarchar),
			scalarCol("cpu", types.ScalarTypeDouble),
		},
		Rows: []types.Row{
			row(scalar("2020-03-18 17:26:30.000000000"), scalar("a"), scalar("1")),
			row(scalar("2020-03-18 17:26:30.000000000"), scalar("b"), scalar("2")),
			row(scalar("2020-03-18 17:26:31.000000000"), scalar("a"), scalar("3")),
			row(scalar("2020-03-18 17:26:31.000000000"), scalar("b"), scalar("4")),
		},
	}

	frames, err := ToFrames(out, domain.FormatTimeSeries)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, 2, frames[0].Rows())
	assert.Len(t, frames[0].Fields, 3)
	assert.NotNil(t, domain.PageMetaOf(frames[0]))
}

func TestToFrames_EmptyResult(t *testing.T) {
	frames, err := ToFrames(&timestreamquery.QueryOutput{QueryId: aws.String("q")}, domain.FormatTable)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "q", domain.PageMetaOf(frames[0]).QueryID)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, domain.QueryStatus{}, statusOf(nil))
}
