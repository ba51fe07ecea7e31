package event

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// TimestampColumn holds the parse time of every row. Payloads may not set it.
const TimestampColumn = "p_timestamp"

// ToRecord builds a columnar record from decoded rows against the stream's
// stored schema. Stored columns keep their type, except that an int64 column
// receiving a fractional number is widened to float64; fields the schema lacks
// are inferred and appended in name order, followed by TimestampColumn. The
// returned flag is true when the record's schema differs from the stored one,
// meaning the schema still has to be committed for the stream.
func ToRecord(mem memory.Allocator, rows []map[string]any, stored *arrow.Schema, parsedAt time.Time) (arrow.Record, bool, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	if stored == nil {
		stored = EmptySchema()
	}

	schema, err := deriveSchema(rows, stored)
	if err != nil {
		return nil, false, err
	}
	isFirst := !schema.Equal(stored)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	ts := arrow.Timestamp(parsedAt.UnixMilli())
	for i, field := range schema.Fields() {
		fb := b.Field(i)
		for _, row := range rows {
			if field.Name == TimestampColumn {
				fb.(*array.TimestampBuilder).Append(ts)
				continue
			}
			if err := appendValue(fb, row[field.Name]); err != nil {
				return nil, false, fmt.Errorf("column %q: %w", field.Name, err)
			}
		}
	}

	return b.NewRecord(), isFirst, nil
}

func deriveSchema(rows []map[string]any, stored *arrow.Schema) (*arrow.Schema, error) {
	inferred := make(map[string]arrow.DataType)
	for _, row := range rows {
		for name, v := range row {
			if name == TimestampColumn {
				return nil, fmt.Errorf("field %q is reserved", TimestampColumn)
			}
			if stored.HasField(name) {
				continue
			}
			dt, ok := inferType(v)
			if !ok {
				continue
			}
			prev, seen := inferred[name]
			if !seen {
				inferred[name] = dt
				continue
			}
			merged, err := widen(prev, dt)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", name, err)
			}
			inferred[name] = merged
		}
	}

	names := make([]string, 0, len(inferred))
	for name := range inferred {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := append([]arrow.Field(nil), stored.Fields()...)
	for i, f := range fields {
		if f.Type.ID() == arrow.INT64 && hasFraction(rows, f.Name) {
			fields[i].Type = arrow.PrimitiveTypes.Float64
		}
	}
	for _, name := range names {
		fields = append(fields, arrow.Field{Name: name, Type: inferred[name], Nullable: true})
	}
	if !stored.HasField(TimestampColumn) {
		fields = append(fields, arrow.Field{Name: TimestampColumn, Type: arrow.FixedWidthTypes.Timestamp_ms, Nullable: true})
	}
	return arrow.NewSchema(fields, nil), nil
}

// hasFraction reports whether any row holds a non-integer number for name.
// Such a value widens a stored int64 column to float64.
func hasFraction(rows []map[string]any, name string) bool {
	for _, row := range rows {
		if n, ok := row[name].(json.Number); ok && !isInteger(n) {
			return true
		}
	}
	return false
}

func inferType(v any) (arrow.DataType, bool) {
	switch t := v.(type) {
	case string:
		return arrow.BinaryTypes.String, true
	case bool:
		return arrow.FixedWidthTypes.Boolean, true
	case json.Number:
		if isInteger(t) {
			return arrow.PrimitiveTypes.Int64, true
		}
		return arrow.PrimitiveTypes.Float64, true
	default:
		return nil, false
	}
}

func isInteger(n json.Number) bool {
	if strings.ContainsAny(n.String(), ".eE") {
		return false
	}
	_, err := n.Int64()
	return err == nil
}

// widen reconciles two types seen for the same field
func widen(a, b arrow.DataType) (arrow.DataType, error) {
	if arrow.TypeEqual(a, b) {
		return a, nil
	}
	numeric := func(dt arrow.DataType) bool {
		return dt.ID() == arrow.INT64 || dt.ID() == arrow.FLOAT64
	}
	if numeric(a) && numeric(b) {
		return arrow.PrimitiveTypes.Float64, nil
	}
	return nil, fmt.Errorf("mixed types %s and %s", a, b)
}

func appendValue(b array.Builder, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}

	switch fb := b.(type) {
	case *array.StringBuilder:
		s, ok := v.(string)
		if !ok {
			return mismatch("utf8", v)
		}
		fb.Append(s)
	case *array.Int64Builder:
		n, ok := v.(json.Number)
		if !ok || !isInteger(n) {
			return mismatch("int64", v)
		}
		i, _ := n.Int64()
		fb.Append(i)
	case *array.Float64Builder:
		n, ok := v.(json.Number)
		if !ok {
			return mismatch("float64", v)
		}
		f, err := n.Float64()
		if err != nil {
			return mismatch("float64", v)
		}
		fb.Append(f)
	case *array.BooleanBuilder:
		bv, ok := v.(bool)
		if !ok {
			return mismatch("bool", v)
		}
		fb.Append(bv)
	case *array.TimestampBuilder:
		ts, err := toTimestamp(v)
		if err != nil {
			return err
		}
		fb.Append(ts)
	default:
		return fmt.Errorf("unsupported column builder %T", b)
	}
	return nil
}

func toTimestamp(v any) (arrow.Timestamp, error) {
	switch t := v.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return 0, mismatch("timestamp", v)
		}
		return arrow.Timestamp(parsed.UnixMilli()), nil
	case json.Number:
		ms, err := t.Int64()
		if err != nil {
			return 0, mismatch("timestamp", v)
		}
		return arrow.Timestamp(ms), nil
	default:
		return 0, mismatch("timestamp", v)
	}
}

func mismatch(want string, v any) error {
	return fmt.Errorf("expected %s value, got %T", want, v)
}
