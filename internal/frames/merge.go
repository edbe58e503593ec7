// Package frames folds pages of columnar results into one accumulated result.
package frames

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/grafana/grafana-plugin-sdk-go/data"
)

// AppendMatching folds incoming into existing and returns the combined
// sequence.
//
// existing is treated as an accumulator owned by the caller: frames in it
// whose field names match an incoming frame grow in place. Incoming frames
// are never modified; unmatched ones are copied and appended after the
// existing frames.
func AppendMatching(existing, incoming data.Frames) data.Frames {
	if len(existing) == 0 {
		return Normalize(incoming)
	}
	if len(incoming) == 0 {
		return existing
	}

	out := make(data.Frames, len(existing), len(existing)+len(incoming))
	copy(out, existing)

	for _, frame := range incoming {
		if frame == nil {
			continue
		}
		if dst := findMatching(out, frame); dst != nil {
			appendRows(dst, frame)
			continue
		}
		out = append(out, Clone(frame))
	}
	return out
}

// Normalize returns mutable copies of frames. It always returns a non-nil
// slice.
func Normalize(frames data.Frames) data.Frames {
	out := make(data.Frames, 0, len(frames))
	for _, f := range frames {
		if f == nil {
			continue
		}
		out = append(out, Clone(f))
	}
	return out
}

// Clone deep-copies the fields and values of f. Frame metadata is copied one
// level deep; Custom is shared.
func Clone(f *data.Frame) *data.Frame {
	out := data.NewFrame(f.Name)
	out.RefID = f.RefID
	if f.Meta != nil {
		meta := *f.Meta
		meta.Stats = append([]data.QueryStat(nil), f.Meta.Stats...)
		meta.Notices = append([]data.Notice(nil), f.Meta.Notices...)
		out.Meta = &meta
	}
	for _, field := range f.Fields {
		out.Fields = append(out.Fields, cloneField(field))
	}
	return out
}

// CloneAll deep-copies every frame in frames.
func CloneAll(frames data.Frames) data.Frames {
	return Normalize(frames)
}

func cloneField(field *data.Field) *data.Field {
	n := field.Len()
	out := data.NewFieldFromFieldType(field.Type(), n)
	out.Name = field.Name
	if field.Labels != nil {
		out.Labels = field.Labels.Copy()
	}
	if field.Config != nil {
		cfg := *field.Config
		out.Config = &cfg
	}
	for i := 0; i < n; i++ {
		out.Set(i, field.CopyAt(i))
	}
	return out
}

// findMatching returns the first frame in frames whose field names equal
// those of f, in order. Matching is exact and case-sensitive.
func findMatching(frames data.Frames, f *data.Frame) *data.Frame {
	for _, candidate := range frames {
		if sameFieldNames(candidate, f) {
			return candidate
		}
	}
	return nil
}

func sameFieldNames(a, b *data.Frame) bool {
	if len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		if a.Fields[i].Name != b.Fields[i].Name {
			return false
		}
	}
	return true
}

// appendRows appends every row of src to dst. When a field's type differs
// from dst's, values are converted into float and string fields; anything
// else becomes a null, turning the dst field nullable first.
func appendRows(dst, src *data.Frame) {
	for i := range dst.Fields {
		if i >= len(src.Fields) {
			break
		}
		from := src.Fields[i]
		if from.Type() == dst.Fields[i].Type() {
			for row := 0; row < from.Len(); row++ {
				dst.Fields[i].Append(from.CopyAt(row))
			}
			continue
		}
		for row := 0; row < from.Len(); row++ {
			v, ok := convertAt(from, row, dst.Fields[i].Type())
			appendConverted(dst, i, v, ok)
		}
	}
}

// convertAt returns the value of from at row as the concrete type of a field
// of type to. ok is false when the value is null or cannot be converted.
func convertAt(from *data.Field, row int, to data.FieldType) (any, bool) {
	switch to {
	case data.FieldTypeFloat64, data.FieldTypeNullableFloat64:
		if !from.Type().Numeric() {
			return nil, false
		}
		v, err := from.NullableFloatAt(row)
		if err != nil || v == nil {
			return nil, false
		}
		return *v, true
	case data.FieldTypeString, data.FieldTypeNullableString:
		v, ok := from.ConcreteAt(row)
		if !ok {
			return nil, false
		}
		switch c := v.(type) {
		case time.Time:
			return c.UTC().Format(time.RFC3339Nano), true
		case json.RawMessage:
			return string(c), true
		default:
			return fmt.Sprint(c), true
		}
	}
	return nil, false
}

func appendConverted(dst *data.Frame, i int, v any, ok bool) {
	to := dst.Fields[i]
	if !ok {
		if !to.Nullable() {
			to = toNullable(to)
			dst.Fields[i] = to
		}
		to.Extend(1)
		return
	}
	to.Extend(1)
	to.SetConcrete(to.Len()-1, v)
}

// toNullable copies field into the nullable variant of its type.
func toNullable(field *data.Field) *data.Field {
	n := field.Len()
	out := data.NewFieldFromFieldType(field.Type().NullableType(), n)
	out.Name = field.Name
	out.Labels = field.Labels
	out.Config = field.Config
	for i := 0; i < n; i++ {
		if v, ok := field.ConcreteAt(i); ok {
			out.SetConcrete(i, v)
		}
	}
	return out
}
