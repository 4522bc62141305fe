package database

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// cursorJSON keeps int64 ranks and infinite sentinels intact, which plain
// JSON numbers cannot.
type cursorJSON struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// MarshalJSON encodes the cursor with a typed value.
func (c Cursor) MarshalJSON() ([]byte, error) {
	out := cursorJSON{ID: c.ID}
	switch v := c.Value.(type) {
	case nil:
		out.Kind = "null"
	case int64:
		out.Kind, out.Value = "int", strconv.FormatInt(v, 10)
	case int:
		out.Kind, out.Value = "int", strconv.Itoa(v)
	case float64:
		out.Kind, out.Value = "float", strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		out.Kind, out.Value = "text", v
	case []byte:
		out.Kind, out.Value = "text", string(v)
	default:
		return nil, fmt.Errorf("unsupported cursor value %T", c.Value)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a cursor written by MarshalJSON.
func (c *Cursor) UnmarshalJSON(data []byte) error {
	var in cursorJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	c.ID = in.ID
	switch in.Kind {
	case "null", "":
		c.Value = nil
	case "int":
		v, err := strconv.ParseInt(in.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("cursor value: %w", err)
		}
		c.Value = v
	case "float":
		v, err := strconv.ParseFloat(in.Value, 64)
		if err != nil && !math.IsInf(v, 0) {
			return fmt.Errorf("cursor value: %w", err)
		}
		c.Value = v
	case "text":
		c.Value = in.Value
	default:
		return fmt.Errorf("unknown cursor value kind %q", in.Kind)
	}
	return nil
}
