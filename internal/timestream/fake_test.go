package timestream

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/timestreamquery"
	"github.com/aws/aws-sdk-go-v2/service/timestreamquery/types"
)

type fakeClient struct {
	queryFn  func(in *timestreamquery.QueryInput) (*timestreamquery.QueryOutput, error)
	cancelFn func(in *timestreamquery.CancelQueryInput) (*timestreamquery.CancelQueryOutput, error)
	inputs   []*timestreamquery.QueryInput
}

func (f *fakeClient) Query(_ context.Context, in *timestreamquery.QueryInput, _ ...func(*timestreamquery.Options)) (*timestreamquery.QueryOutput, error) {
	f.inputs = append(f.inputs, in)
	return f.queryFn(in)
}

func (f *fakeClient) CancelQuery(_ context.Context, in *timestreamquery.CancelQueryInput, _ ...func(*timestreamquery.Options)) (*timestreamquery.CancelQueryOutput, error) {
	return f.cancelFn(in)
}

func scalarCol(name string, t types.ScalarType) types.ColumnInfo {
	return types.ColumnInfo{Name: aws.String(name), Type: &types.Type{ScalarType: t}}
}

func scalar(v string) types.Datum {
	return types.Datum{ScalarValue: aws.String(v)}
}

func row(values ...types.Datum) types.Row {
	return types.Row{Data: values}
}
