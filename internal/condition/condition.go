package condition

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrInvalidCondition is returned when a condition's key, operator or value
// do not fit together.
var ErrInvalidCondition = errors.New("invalid condition")

// ValueType identifies the kind of a condition.
type ValueType string

// Condition kinds
const (
	Number         ValueType = "number"
	Date           ValueType = "date"
	String         ValueType = "string"
	Array          ValueType = "array"
	IndexSignature ValueType = "indexSignature"
)

// Operator is a comparison operator.
type Operator string

// Operators. Some names are shared between kinds.
const (
	Equals      Operator = "equals"
	NotEqual    Operator = "notEqual"
	Contains    Operator = "contains"
	NotContains Operator = "notContains"

	ContainsRecursively    Operator = "containsRecursively"
	ContainsNotRecursively Operator = "containsNotRecursively"

	SmallerThan         Operator = "smallerThan"
	SmallerThanOrEquals Operator = "smallerThanOrEquals"
	GreaterThan         Operator = "greaterThan"
	GreaterThanOrEquals Operator = "greaterThanOrEquals"

	EqualsIgnoreCase     Operator = "equalsIgnoreCase"
	StartsWith           Operator = "startsWith"
	StartsWithIgnoreCase Operator = "startsWithIgnoreCase"
	NotStartsWith        Operator = "notStartsWith"

	ExistsInFile    Operator = "existsInFile"
	NotExistsInFile Operator = "notExistsInFile"
)

var (
	arrayOperators = []Operator{Contains, NotContains, ContainsRecursively, ContainsNotRecursively}

	numberOperators = []Operator{
		Equals, NotEqual, SmallerThan, SmallerThanOrEquals, GreaterThan, GreaterThanOrEquals,
	}

	stringOperators = []Operator{
		Equals, EqualsIgnoreCase, NotEqual, StartsWith, StartsWithIgnoreCase, NotStartsWith,
		Contains, NotContains,
	}

	existenceOperators = []Operator{ExistsInFile, NotExistsInFile}
)

// File attribute keys by kind.
const (
	KeyName            = "name"
	KeyExtension       = "extension"
	KeyAbsolutePath    = "absolutePath"
	KeyRelativePath    = "relativePath"
	KeyLocationID      = "locationId"
	KeySize            = "size"
	KeyWidth           = "width"
	KeyHeight          = "height"
	KeyDateAdded       = "dateAdded"
	KeyDateModified    = "dateModified"
	KeyDateCreated     = "dateCreated"
	KeyDateLastIndexed = "dateLastIndexed"
	KeyTags            = "tags"
	KeyExtraProperties = "extraProperties"
)

var (
	stringKeys = []string{KeyName, KeyExtension, KeyAbsolutePath, KeyRelativePath, KeyLocationID}
	numberKeys = []string{KeySize, KeyWidth, KeyHeight}
	dateKeys   = []string{KeyDateAdded, KeyDateModified, KeyDateCreated, KeyDateLastIndexed}
)

// IsNumberOperator reports whether op is valid on a number or date.
func IsNumberOperator(op Operator) bool { return slices.Contains(numberOperators, op) }

// IsStringOperator reports whether op is valid on a string.
func IsStringOperator(op Operator) bool { return slices.Contains(stringOperators, op) }

// IsArrayOperator reports whether op is valid on the tag set.
func IsArrayOperator(op Operator) bool { return slices.Contains(arrayOperators, op) }

// IsExistenceOperator reports whether op tests extra property presence.
func IsExistenceOperator(op Operator) bool { return slices.Contains(existenceOperators, op) }

// KeyType returns the kind of a file attribute key.
func KeyType(key string) (ValueType, bool) {
	switch {
	case slices.Contains(stringKeys, key):
		return String, true
	case slices.Contains(numberKeys, key):
		return Number, true
	case slices.Contains(dateKeys, key):
		return Date, true
	case key == KeyTags:
		return Array, true
	case key == KeyExtraProperties:
		return IndexSignature, true
	}
	return "", false
}

// Condition is a single typed search condition.
type Condition interface {
	Key() string
	ValueType() ValueType
	Operator() Operator
	String() string

	sealed()
}

// Visitor handles each condition kind. Adding a kind to this package adds a
// method here, which breaks every implementation until it handles it.
type Visitor[T any] interface {
	VisitNumber(NumberCondition) T
	VisitDate(DateCondition) T
	VisitString(StringCondition) T
	VisitTags(TagsCondition) T
	VisitExtraProperty(ExtraPropertyCondition) T
}

// Dispatch calls the Visitor method matching c's kind.
func Dispatch[T any](c Condition, v Visitor[T]) T {
	switch c := c.(type) {
	case NumberCondition:
		return v.VisitNumber(c)
	case DateCondition:
		return v.VisitDate(c)
	case StringCondition:
		return v.VisitString(c)
	case TagsCondition:
		return v.VisitTags(c)
	case ExtraPropertyCondition:
		return v.VisitExtraProperty(c)
	}
	// Condition is sealed; every implementation is listed above.
	panic(fmt.Sprintf("condition: unhandled kind %T", c))
}

// NumberCondition compares a numeric file attribute.
type NumberCondition struct {
	Attr  string
	Op    Operator
	Value float64
}

// NewNumber validates and builds a NumberCondition.
func NewNumber(key string, op Operator, value float64) (NumberCondition, error) {
	if !slices.Contains(numberKeys, key) {
		return NumberCondition{}, fmt.Errorf("%w: %q is not a number attribute", ErrInvalidCondition, key)
	}
	if !IsNumberOperator(op) {
		return NumberCondition{}, fmt.Errorf("%w: operator %q not valid for numbers", ErrInvalidCondition, op)
	}
	return NumberCondition{Attr: key, Op: op, Value: value}, nil
}

func (c NumberCondition) Key() string          { return c.Attr }
func (c NumberCondition) ValueType() ValueType { return Number }
func (c NumberCondition) Operator() Operator   { return c.Op }
func (c NumberCondition) String() string       { return fmt.Sprintf("%s %s %v", c.Attr, c.Op, c.Value) }
func (NumberCondition) sealed()                {}

// DateCondition compares a date attribute at day granularity.
type DateCondition struct {
	Attr  string
	Op    Operator
	Value time.Time
}

// NewDate validates and builds a DateCondition.
func NewDate(key string, op Operator, value time.Time) (DateCondition, error) {
	if !slices.Contains(dateKeys, key) {
		return DateCondition{}, fmt.Errorf("%w: %q is not a date attribute", ErrInvalidCondition, key)
	}
	if !IsNumberOperator(op) {
		return DateCondition{}, fmt.Errorf("%w: operator %q not valid for dates", ErrInvalidCondition, op)
	}
	return DateCondition{Attr: key, Op: op, Value: value}, nil
}

func (c DateCondition) Key() string          { return c.Attr }
func (c DateCondition) ValueType() ValueType { return Date }
func (c DateCondition) Operator() Operator   { return c.Op }
func (c DateCondition) String() string {
	return fmt.Sprintf("%s %s %s", c.Attr, c.Op, c.Value.Format(time.DateOnly))
}
func (DateCondition) sealed() {}

// StringCondition compares a text attribute.
type StringCondition struct {
	Attr  string
	Op    Operator
	Value string
}

// NewString validates and builds a StringCondition.
func NewString(key string, op Operator, value string) (StringCondition, error) {
	if !slices.Contains(stringKeys, key) {
		return StringCondition{}, fmt.Errorf("%w: %q is not a string attribute", ErrInvalidCondition, key)
	}
	if !IsStringOperator(op) {
		return StringCondition{}, fmt.Errorf("%w: operator %q not valid for strings", ErrInvalidCondition, op)
	}
	return StringCondition{Attr: key, Op: op, Value: value}, nil
}

func (c StringCondition) Key() string          { return c.Attr }
func (c StringCondition) ValueType() ValueType { return String }
func (c StringCondition) Operator() Operator   { return c.Op }
func (c StringCondition) String() string       { return fmt.Sprintf("%s %s %q", c.Attr, c.Op, c.Value) }
func (StringCondition) sealed()                {}

// TagsCondition tests the file's tag set against a set of tag ids.
type TagsCondition struct {
	Op     Operator
	TagIDs []string
}

// NewTags validates and builds a TagsCondition. Duplicate ids are dropped.
func NewTags(op Operator, tagIDs ...string) (TagsCondition, error) {
	if !IsArrayOperator(op) {
		return TagsCondition{}, fmt.Errorf("%w: operator %q not valid for tags", ErrInvalidCondition, op)
	}
	seen := make(map[string]struct{}, len(tagIDs))
	ids := make([]string, 0, len(tagIDs))
	for _, id := range tagIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return TagsCondition{Op: op, TagIDs: ids}, nil
}

func (c TagsCondition) Key() string          { return KeyTags }
func (c TagsCondition) ValueType() ValueType { return Array }
func (c TagsCondition) Operator() Operator   { return c.Op }
func (c TagsCondition) String() string       { return fmt.Sprintf("tags %s %v", c.Op, c.TagIDs) }
func (TagsCondition) sealed()                {}

// ExtraPropertyCondition tests a user-defined property of a file. Value is
// a float64 or a string, and nil for the existence operators.
type ExtraPropertyCondition struct {
	Op         Operator
	PropertyID string
	Value      any
}

// NewExtraProperty validates and builds an ExtraPropertyCondition.
func NewExtraProperty(propertyID string, op Operator, value any) (ExtraPropertyCondition, error) {
	if propertyID == "" {
		return ExtraPropertyCondition{}, fmt.Errorf("%w: missing extra property id", ErrInvalidCondition)
	}
	if IsExistenceOperator(op) {
		return ExtraPropertyCondition{Op: op, PropertyID: propertyID}, nil
	}
	switch v := value.(type) {
	case float64:
		if !IsNumberOperator(op) {
			return ExtraPropertyCondition{}, fmt.Errorf("%w: operator %q not valid for a number property", ErrInvalidCondition, op)
		}
	case int:
		if !IsNumberOperator(op) {
			return ExtraPropertyCondition{}, fmt.Errorf("%w: operator %q not valid for a number property", ErrInvalidCondition, op)
		}
		value = float64(v)
	case string:
		if !IsStringOperator(op) {
			return ExtraPropertyCondition{}, fmt.Errorf("%w: operator %q not valid for a text property", ErrInvalidCondition, op)
		}
	default:
		return ExtraPropertyCondition{}, fmt.Errorf("%w: extra property value must be a number or string, got %T", ErrInvalidCondition, value)
	}
	return ExtraPropertyCondition{Op: op, PropertyID: propertyID, Value: value}, nil
}

func (c ExtraPropertyCondition) Key() string          { return KeyExtraProperties }
func (c ExtraPropertyCondition) ValueType() ValueType { return IndexSignature }
func (c ExtraPropertyCondition) Operator() Operator   { return c.Op }
func (c ExtraPropertyCondition) String() string {
	if c.Value == nil {
		return fmt.Sprintf("extraProperties[%s] %s", c.PropertyID, c.Op)
	}
	return fmt.Sprintf("extraProperties[%s] %s %v", c.PropertyID, c.Op, c.Value)
}
func (ExtraPropertyCondition) sealed() {}
