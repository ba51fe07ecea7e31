package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Separator joins nested object keys into flat column names
const Separator = "_"

// Format decodes a raw payload into schema-less rows
type Format interface {
	// Name is the origin encoding tag recorded on every event
	Name() string
	Decode(payload []byte) ([]map[string]any, error)
}

// JSON decodes a JSON object, or an array of objects, into flattened rows.
// Numbers keep their textual form (json.Number) so integers stay exact.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Decode(payload []byte) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}

	switch t := v.(type) {
	case map[string]any:
		row, err := flatten(t)
		if err != nil {
			return nil, err
		}
		return []map[string]any{row}, nil
	case []any:
		rows := make([]map[string]any, 0, len(t))
		for i, item := range t {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("array element %d is not an object", i)
			}
			row, err := flatten(obj)
			if err != nil {
				return nil, fmt.Errorf("array element %d: %w", i, err)
			}
			rows = append(rows, row)
		}
		return rows, nil
	default:
		return nil, errors.New("payload must be a JSON object or an array of objects")
	}
}

func flatten(obj map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(obj))
	if err := flattenInto(out, "", obj); err != nil {
		return nil, err
	}
	return out, nil
}

// flattenInto fails when a flattened name is produced twice, as with
// {"a_b":1,"a":{"b":2}}
func flattenInto(out map[string]any, prefix string, obj map[string]any) error {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + Separator + k
		}
		if nested, ok := v.(map[string]any); ok {
			if err := flattenInto(out, key, nested); err != nil {
				return err
			}
			continue
		}
		if _, dup := out[key]; dup {
			return fmt.Errorf("field %q is produced by more than one key", key)
		}
		switch t := v.(type) {
		case []any:
			// Arrays are kept whole as JSON text
			raw, err := json.Marshal(t)
			if err != nil {
				out[key] = nil
				continue
			}
			out[key] = string(raw)
		default:
			out[key] = v
		}
	}
	return nil
}
