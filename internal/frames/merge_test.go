package frames

import (
	"testing"

	"github.com/grafana/grafana-plugin-sdk-go/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fooFrame(values ...float64) *data.Frame {
	return data.NewFrame("", data.NewField("foo", nil, values))
}

func ptr[T any](v T) *T { return &v }

func TestAppendMatching(t *testing.T) {
	t.Run("empty inputs", func(t *testing.T) {
		out := AppendMatching(data.Frames{}, data.Frames{})
		assert.Empty(t, out)
		assert.NotNil(t, out)
	})

	t.Run("nothing incoming keeps existing", func(t *testing.T) {
		a := fooFrame(1)
		out := AppendMatching(data.Frames{a}, nil)
		require.Len(t, out, 1)
		assert.Same(t, a, out[0])
	})

	t.Run("nothing existing copies incoming", func(t *testing.T) {
		b := fooFrame(2)
		out := AppendMatching(nil, data.Frames{b})
		require.Len(t, out, 1)
		assert.NotSame(t, b, out[0])
		assert.Equal(t, 2.0, out[0].Fields[0].At(0))

		out[0].Fields[0].Set(0, 9.0)
		assert.Equal(t, 2.0, b.Fields[0].At(0))
	})

	t.Run("matching names append rows in order", func(t *testing.T) {
		out := AppendMatching(data.Frames{fooFrame(1)}, data.Frames{fooFrame(2)})
		require.Len(t, out, 1)
		require.Equal(t, 2, out[0].Rows())
		assert.Equal(t, 1.0, out[0].Fields[0].At(0))
		assert.Equal(t, 2.0, out[0].Fields[0].At(1))
	})

	t.Run("row count is the sum of page row counts", func(t *testing.T) {
		acc := AppendMatching(nil, data.Frames{fooFrame(1, 2, 3)})
		acc = AppendMatching(acc, data.Frames{fooFrame(4, 5)})
		acc = AppendMatching(acc, data.Frames{fooFrame()})
		acc = AppendMatching(acc, data.Frames{fooFrame(6)})
		require.Len(t, acc, 1)
		assert.Equal(t, 6, acc[0].Rows())
	})

	t.Run("names are matched exactly", func(t *testing.T) {
		upper := data.NewFrame("", data.NewField("Foo", nil, []float64{2}))
		out := AppendMatching(data.Frames{fooFrame(1)}, data.Frames{upper})
		require.Len(t, out, 2)
		assert.Equal(t, 1, out[0].Rows())
		assert.Equal(t, "Foo", out[1].Fields[0].Name)
	})

	t.Run("field order matters", func(t *testing.T) {
		ab := data.NewFrame("",
			data.NewField("a", nil, []int64{1}),
			data.NewField("b", nil, []string{"x"}),
		)
		ba := data.NewFrame("",
			data.NewField("b", nil, []string{"y"}),
			data.NewField("a", nil, []int64{2}),
		)
		out := AppendMatching(data.Frames{ab}, data.Frames{ba})
		assert.Len(t, out, 2)
	})

	t.Run("unmatched frames go last", func(t *testing.T) {
		bar := data.NewFrame("", data.NewField("bar", nil, []string{"x"}))
		out := AppendMatching(data.Frames{fooFrame(1)}, data.Frames{bar, fooFrame(2)})
		require.Len(t, out, 2)
		assert.Equal(t, "foo", out[0].Fields[0].Name)
		assert.Equal(t, 2, out[0].Rows())
		assert.Equal(t, "bar", out[1].Fields[0].Name)
	})

	t.Run("numeric type mismatch converts to float", func(t *testing.T) {
		ints := data.NewFrame("", data.NewField("foo", nil, []*int64{ptr(int64(7)), nil, ptr(int64(8))}))
		out := AppendMatching(data.Frames{fooFrame(1)}, data.Frames{ints})
		require.Len(t, out, 1)
		field := out[0].Fields[0]
		require.Equal(t, 4, field.Len())
		assert.Equal(t, data.FieldTypeNullableFloat64, field.Type())
		for i, want := range []*float64{ptr(1.0), ptr(7.0), nil, ptr(8.0)} {
			got, err := field.NullableFloatAt(i)
			require.NoError(t, err)
			assert.Equal(t, want, got, "row %d", i)
		}
	})

	t.Run("non-nullable numeric mismatch keeps float type", func(t *testing.T) {
		ints := data.NewFrame("", data.NewField("foo", nil, []int64{7, 8}))
		out := AppendMatching(data.Frames{fooFrame(1)}, data.Frames{ints})
		field := out[0].Fields[0]
		assert.Equal(t, data.FieldTypeFloat64, field.Type())
		assert.Equal(t, []float64{1, 7, 8}, []float64{field.At(0).(float64), field.At(1).(float64), field.At(2).(float64)})
	})

	t.Run("mismatch into string field is stringified", func(t *testing.T) {
		existing := data.NewFrame("", data.NewField("foo", nil, []string{"a"}))
		ints := data.NewFrame("", data.NewField("foo", nil, []int64{42}))
		out := AppendMatching(data.Frames{existing}, data.Frames{ints})
		field := out[0].Fields[0]
		require.Equal(t, 2, field.Len())
		assert.Equal(t, "42", field.At(1))
	})

	t.Run("unconvertible mismatch appends nulls", func(t *testing.T) {
		existing := data.NewFrame("", data.NewField("foo", nil, []bool{true}))
		strs := data.NewFrame("", data.NewField("foo", nil, []string{"x", "y"}))
		out := AppendMatching(data.Frames{existing}, data.Frames{strs})
		field := out[0].Fields[0]
		require.Equal(t, 3, field.Len())
		assert.Equal(t, data.FieldTypeNullableBool, field.Type())
		v, ok := field.ConcreteAt(0)
		assert.True(t, ok)
		assert.Equal(t, true, v)
		_, ok = field.ConcreteAt(1)
		assert.False(t, ok)
		_, ok = field.ConcreteAt(2)
		assert.False(t, ok)
	})

	t.Run("incoming frames are not modified", func(t *testing.T) {
		b := fooFrame(2)
		AppendMatching(data.Frames{fooFrame(1)}, data.Frames{b})
		assert.Equal(t, 1, b.Rows())
	})
}

func TestClone(t *testing.T) {
	f := data.NewFrame("series",
		data.NewField("time", nil, []*float64{nil}),
		data.NewField("value", data.Labels{"host": "a"}, []string{"x"}),
	)
	f.RefID = "A"
	f.Meta = &data.FrameMeta{ExecutedQueryString: "SELECT 1"}

	c := Clone(f)
	assert.Equal(t, "A", c.RefID)
	assert.Equal(t, "SELECT 1", c.Meta.ExecutedQueryString)
	assert.Equal(t, "a", c.Fields[1].Labels["host"])

	c.Fields[1].Labels["host"] = "b"
	c.Meta.ExecutedQueryString = "changed"
	assert.Equal(t, "a", f.Fields[1].Labels["host"])
	assert.Equal(t, "SELECT 1", f.Meta.ExecutedQueryString)
}
