package timestream

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/timestreamquery/types"
	"github.com/grafana/grafana-plugin-sdk-go/data"
)

// timestampLayout is how Timestream renders TIMESTAMP values.
const timestampLayout = "2006-01-02 15:04:05.999999999"

type datumParser func(d types.Datum) (any, error)

// fieldBuilder turns one result column into a frame field.
type fieldBuilder struct {
	name       string
	columnIdx  int
	fieldType  data.FieldType
	config     *data.FieldConfig
	parser     datumParser
	asJSON     bool // value is marshalled to a JSON string
	timeseries bool
}

func newFieldBuilder(t *types.Type) (*fieldBuilder, error) {
	if t == nil {
		return nil, fmt.Errorf("column has no type")
	}

	switch {
	case t.TimeSeriesMeasureValueColumnInfo != nil:
		b, err := newFieldBuilder(t.TimeSeriesMeasureValueColumnInfo.Type)
		if err != nil {
			return nil, err
		}
		b.timeseries = true
		return b, nil
	case t.RowColumnInfo != nil:
		return newRowBuilder(t.RowColumnInfo)
	case t.ArrayColumnInfo != nil:
		return newArrayBuilder(t.ArrayColumnInfo)
	}

	switch t.ScalarType {
	case types.ScalarTypeTimestamp:
		return &fieldBuilder{fieldType: data.FieldTypeTime, parser: parseTime}, nil
	case types.ScalarTypeBoolean:
		return &fieldBuilder{fieldType: data.FieldTypeNullableBool, parser: parseBool}, nil
	case types.ScalarTypeDouble:
		return &fieldBuilder{fieldType: data.FieldTypeNullableFloat64, parser: parseFloat64}, nil
	case types.ScalarTypeBigint:
		return &fieldBuilder{fieldType: data.FieldTypeNullableInt64, parser: parseInt64}, nil
	case types.ScalarTypeInteger:
		return &fieldBuilder{fieldType: data.FieldTypeNullableInt32, parser: parseInt32}, nil
	case types.ScalarTypeVarchar,
		types.ScalarTypeDate,
		types.ScalarTypeTime,
		types.ScalarTypeIntervalDayToSecond,
		types.ScalarTypeIntervalYearToMonth,
		types.ScalarTypeUnknown:
		return &fieldBuilder{fieldType: data.FieldTypeNullableString, parser: parseString}, nil
	default:
		return nil, fmt.Errorf("unsupported scalar type: %s", t.ScalarType)
	}
}

func newArrayBuilder(column *types.ColumnInfo) (*fieldBuilder, error) {
	elem, err := newFieldBuilder(column.Type)
	if err != nil {
		return nil, err
	}

	return &fieldBuilder{
		fieldType: data.FieldTypeNullableString,
		asJSON:    true,
		config:    jsonViewConfig(),
		parser: func(d types.Datum) (any, error) {
			if isNull(d) {
				return nil, nil
			}
			vals := make([]any, len(d.ArrayValue))
			for i, item := range d.ArrayValue {
				v, err := elem.parser(item)
				if err != nil {
					return nil, err
				}
				vals[i] = v
			}
			return vals, nil
		},
	}, nil
}

func newRowBuilder(columns []types.ColumnInfo) (*fieldBuilder, error) {
	cols := make([]*fieldBuilder, len(columns))
	for i := range columns {
		b, err := newFieldBuilder(columns[i].Type)
		if err != nil {
			return nil, err
		}
		b.name = aws.ToString(columns[i].Name)
		cols[i] = b
	}

	return &fieldBuilder{
		fieldType: data.FieldTypeNullableString,
		asJSON:    true,
		config:    jsonViewConfig(),
		parser: func(d types.Datum) (any, error) {
			if d.RowValue == nil {
				return nil, nil
			}
			vals := make(map[string]any, len(cols))
			for i, item := range d.RowValue.Data {
				if i >= len(cols) {
					break
				}
				v, err := cols[i].parser(item)
				if err != nil {
					return nil, err
				}
				vals[cols[i].name] = v
			}
			return vals, nil
		},
	}, nil
}

func jsonViewConfig() *data.FieldConfig {
	return &data.FieldConfig{Custom: map[string]any{"displayMode": "json-view"}}
}

func isNull(d types.Datum) bool {
	return d.NullValue != nil && *d.NullValue
}

func parseBool(d types.Datum) (any, error) {
	if d.ScalarValue == nil {
		return nil, nil
	}
	v, err := strconv.ParseBool(*d.ScalarValue)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseInt32(d types.Datum) (any, error) {
	if d.ScalarValue == nil {
		return nil, nil
	}
	v, err := strconv.ParseInt(*d.ScalarValue, 10, 32)
	if err != nil {
		return nil, err
	}
	i := int32(v)
	return &i, nil
}

func parseInt64(d types.Datum) (any, error) {
	if d.ScalarValue == nil {
		return nil, nil
	}
	v, err := strconv.ParseInt(*d.ScalarValue, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseFloat64(d types.Datum) (any, error) {
	if d.ScalarValue == nil {
		return nil, nil
	}
	v, err := strconv.ParseFloat(*d.ScalarValue, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// parseTime leaves missing timestamps as the zero time of the field.
func parseTime(d types.Datum) (any, error) {
	if d.ScalarValue == nil {
		return nil, nil
	}
	return time.Parse(timestampLayout, *d.ScalarValue)
}

func parseString(d types.Datum) (any, error) {
	if d.ScalarValue == nil {
		return nil, nil
	}
	s := *d.ScalarValue
	return &s, nil
}
