package condition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// wire is the persisted JSON form shared by every kind.
type wire struct {
	Key       string          `json:"key"`
	ValueType ValueType       `json:"valueType"`
	Operator  Operator        `json:"operator"`
	Value     json.RawMessage `json:"value"`
}

// Marshal encodes c as {"key","valueType","operator","value"}. For extra
// properties the value is [propertyId, value], or [propertyId] for the
// existence operators.
func Marshal(c Condition) ([]byte, error) {
	var value any
	switch c := c.(type) {
	case NumberCondition:
		value = c.Value
	case DateCondition:
		value = c.Value.Format(time.RFC3339)
	case StringCondition:
		value = c.Value
	case TagsCondition:
		ids := c.TagIDs
		if ids == nil {
			ids = []string{}
		}
		value = ids
	case ExtraPropertyCondition:
		if c.Value == nil {
			value = []any{c.PropertyID}
		} else {
			value = []any{c.PropertyID, c.Value}
		}
	default:
		return nil, fmt.Errorf("%w: unknown condition type %T", ErrInvalidCondition, c)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire{
		Key:       c.Key(),
		ValueType: c.ValueType(),
		Operator:  c.Operator(),
		Value:     raw,
	})
}

// Unmarshal decodes the form written by Marshal. Unknown value types and
// invalid operator/value pairings fail with ErrInvalidCondition.
func Unmarshal(data []byte) (Condition, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCondition, err)
	}

	switch w.ValueType {
	case Number:
		var v float64
		if err := json.Unmarshal(w.Value, &v); err != nil {
			return nil, fmt.Errorf("%w: number value: %v", ErrInvalidCondition, err)
		}
		return wrap(NewNumber(w.Key, w.Operator, v))

	case Date:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return nil, fmt.Errorf("%w: date value: %v", ErrInvalidCondition, err)
		}
		t, err := ParseDate(s)
		if err != nil {
			return nil, err
		}
		return wrap(NewDate(w.Key, w.Operator, t))

	case String:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return nil, fmt.Errorf("%w: string value: %v", ErrInvalidCondition, err)
		}
		return wrap(NewString(w.Key, w.Operator, s))

	case Array:
		if w.Key != KeyTags {
			return nil, fmt.Errorf("%w: %q is not an array attribute", ErrInvalidCondition, w.Key)
		}
		var ids []string
		if len(w.Value) > 0 && !bytes.Equal(w.Value, []byte("null")) {
			if err := json.Unmarshal(w.Value, &ids); err != nil {
				return nil, fmt.Errorf("%w: tag ids: %v", ErrInvalidCondition, err)
			}
		}
		return wrap(NewTags(w.Operator, ids...))

	case IndexSignature:
		if w.Key != KeyExtraProperties {
			return nil, fmt.Errorf("%w: %q is not an extra property attribute", ErrInvalidCondition, w.Key)
		}
		var pair []json.RawMessage
		if err := json.Unmarshal(w.Value, &pair); err != nil || len(pair) == 0 || len(pair) > 2 {
			return nil, fmt.Errorf("%w: extra property value must be [id, value]", ErrInvalidCondition)
		}
		var id string
		if err := json.Unmarshal(pair[0], &id); err != nil {
			return nil, fmt.Errorf("%w: extra property id: %v", ErrInvalidCondition, err)
		}
		if IsExistenceOperator(w.Operator) {
			return wrap(NewExtraProperty(id, w.Operator, nil))
		}
		if len(pair) != 2 {
			return nil, fmt.Errorf("%w: extra property %q has no value", ErrInvalidCondition, id)
		}
		var v any
		if err := json.Unmarshal(pair[1], &v); err != nil {
			return nil, fmt.Errorf("%w: extra property value: %v", ErrInvalidCondition, err)
		}
		return wrap(NewExtraProperty(id, w.Operator, v))
	}

	return nil, fmt.Errorf("%w: unknown value type %q", ErrInvalidCondition, w.ValueType)
}

func wrap[C Condition](c C, err error) (Condition, error) {
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ParseDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse date %q", ErrInvalidCondition, s)
}
