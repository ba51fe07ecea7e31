package event

import (
	"encoding/json"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// EmptySchema is the schema of a stream that has not received any event yet
func EmptySchema() *arrow.Schema {
	return arrow.NewSchema(nil, nil)
}

// MergeSchemas returns the fields of a followed by the fields of b that a
// lacks. A field that is int64 on one side and float64 on the other becomes
// float64; any other type difference is an error.
func MergeSchemas(a, b *arrow.Schema) (*arrow.Schema, error) {
	if a == nil {
		a = EmptySchema()
	}
	if b == nil {
		return a, nil
	}

	fields := append([]arrow.Field(nil), a.Fields()...)
	for _, f := range b.Fields() {
		idx := a.FieldIndices(f.Name)
		if len(idx) == 0 {
			fields = append(fields, f)
			continue
		}
		existing := a.Field(idx[0])
		if arrow.TypeEqual(existing.Type, f.Type) {
			continue
		}
		dt, err := widen(existing.Type, f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: type %s conflicts with %s", f.Name, f.Type, existing.Type)
		}
		fields[idx[0]].Type = dt
	}
	return arrow.NewSchema(fields, nil), nil
}

type fieldJSON struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// EncodeSchema serializes a schema for the stream catalog
func EncodeSchema(s *arrow.Schema) ([]byte, error) {
	if s == nil {
		s = EmptySchema()
	}
	fields := make([]fieldJSON, 0, s.NumFields())
	for _, f := range s.Fields() {
		name, err := typeName(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		fields = append(fields, fieldJSON{Name: f.Name, Type: name, Nullable: f.Nullable})
	}
	return json.Marshal(fields)
}

// DecodeSchema is the inverse of EncodeSchema
func DecodeSchema(data []byte) (*arrow.Schema, error) {
	if len(data) == 0 {
		return EmptySchema(), nil
	}
	var fields []fieldJSON
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	out := make([]arrow.Field, 0, len(fields))
	for _, f := range fields {
		dt, err := typeFromName(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		out = append(out, arrow.Field{Name: f.Name, Type: dt, Nullable: f.Nullable})
	}
	return arrow.NewSchema(out, nil), nil
}

func typeName(dt arrow.DataType) (string, error) {
	switch dt.ID() {
	case arrow.STRING:
		return "utf8", nil
	case arrow.INT64:
		return "int64", nil
	case arrow.FLOAT64:
		return "float64", nil
	case arrow.BOOL:
		return "bool", nil
	case arrow.TIMESTAMP:
		return "timestamp_ms", nil
	default:
		return "", fmt.Errorf("unsupported column type %s", dt)
	}
}

func typeFromName(name string) (arrow.DataType, error) {
	switch name {
	case "utf8":
		return arrow.BinaryTypes.String, nil
	case "int64":
		return arrow.PrimitiveTypes.Int64, nil
	case "float64":
		return arrow.PrimitiveTypes.Float64, nil
	case "bool":
		return arrow.FixedWidthTypes.Boolean, nil
	case "timestamp_ms":
		return arrow.FixedWidthTypes.Timestamp_ms, nil
	default:
		return nil, fmt.Errorf("unknown column type %q", name)
	}
}
