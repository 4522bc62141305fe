package database

import (
	"fmt"
	"math"
	"strings"
)

// IndexExpr is a filter the store can answer from its indexes. The
// compiler builds these from conditions; the store renders them to SQL.
type IndexExpr interface {
	indexExpr()
}

// CompareOp is a comparison operator.
type CompareOp string

// Comparison operators
const (
	OpEq CompareOp = "="
	OpNe CompareOp = "!="
	OpLt CompareOp = "<"
	OpLe CompareOp = "<="
	OpGt CompareOp = ">"
	OpGe CompareOp = ">="
)

// Compare compares a file attribute with a value. Fold compares text
// case-insensitively through the FOLD collation.
type Compare struct {
	Key   string
	Op    CompareOp
	Value any
	Fold  bool
}

// Between matches Low <= attribute <= High.
type Between struct {
	Key  string
	Low  any
	High any
}

// Prefix matches text attributes starting with Prefix.
type Prefix struct {
	Key    string
	Prefix string
	Fold   bool
}

// TagsAnyOf matches files carrying at least one of TagIDs. An empty set
// matches nothing.
type TagsAnyOf struct {
	TagIDs []string
}

// TagsEmpty matches files without tags.
type TagsEmpty struct{}

// PropertyExists matches files that have (or, negated, lack) a value for
// an extra property.
type PropertyExists struct {
	PropertyID string
	Negate     bool
}

// Or matches files matching any of Exprs. An empty Or matches nothing.
type Or struct {
	Exprs []IndexExpr
}

func (Compare) indexExpr()        {}
func (Between) indexExpr()        {}
func (Prefix) indexExpr()         {}
func (TagsAnyOf) indexExpr()      {}
func (TagsEmpty) indexExpr()      {}
func (PropertyExists) indexExpr() {}
func (Or) indexExpr()             {}

// columns maps file attribute keys to columns of the files table.
var columns = map[string]string{
	"id":              "id",
	"locationId":      "location_id",
	"absolutePath":    "absolute_path",
	"relativePath":    "relative_path",
	"name":            "name",
	"extension":       "extension",
	"size":            "size",
	"width":           "width",
	"height":          "height",
	"dateCreated":     "date_created",
	"dateModified":    "date_modified",
	"dateAdded":       "date_added",
	"dateLastIndexed": "date_last_indexed",
	"broken":          "broken",
}

func column(key string) (string, error) {
	col, ok := columns[key]
	if !ok {
		return "", fmt.Errorf("unknown file attribute %q", key)
	}
	return col, nil
}

// renderIndex writes e as a WHERE fragment over the alias f. A nil
// expression matches every row.
func renderIndex(e IndexExpr, args *[]any) (string, error) {
	switch e := e.(type) {
	case nil:
		return "1", nil

	case Compare:
		col, err := column(e.Key)
		if err != nil {
			return "", err
		}
		switch e.Op {
		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		default:
			return "", fmt.Errorf("unknown comparison %q", e.Op)
		}
		*args = append(*args, e.Value)
		if e.Fold {
			return fmt.Sprintf("f.%s COLLATE %s %s ?", col, FoldCollation, e.Op), nil
		}
		return fmt.Sprintf("f.%s %s ?", col, e.Op), nil

	case Between:
		col, err := column(e.Key)
		if err != nil {
			return "", err
		}
		*args = append(*args, e.Low, e.High)
		return fmt.Sprintf("f.%s BETWEEN ? AND ?", col), nil

	case Prefix:
		col, err := column(e.Key)
		if err != nil {
			return "", err
		}
		expr := "f." + col
		prefix := e.Prefix
		if e.Fold {
			expr += " COLLATE " + FoldCollation
			prefix = Fold(prefix)
		}
		if prefix == "" {
			return "1", nil
		}
		upper, ok := prefixSuccessor(prefix)
		if !ok {
			*args = append(*args, prefix)
			return fmt.Sprintf("%s >= ?", expr), nil
		}
		*args = append(*args, prefix, upper)
		return fmt.Sprintf("(%s >= ? AND %s < ?)", expr, expr), nil

	case TagsAnyOf:
		if len(e.TagIDs) == 0 {
			return "0", nil
		}
		for _, id := range e.TagIDs {
			*args = append(*args, id)
		}
		return fmt.Sprintf("f.id IN (SELECT file_id FROM file_tags WHERE tag_id IN (%s))", placeholders(len(e.TagIDs))), nil

	case TagsEmpty:
		return "NOT EXISTS (SELECT 1 FROM file_tags ft WHERE ft.file_id = f.id)", nil

	case PropertyExists:
		*args = append(*args, e.PropertyID)
		clause := "EXISTS (SELECT 1 FROM file_extra_properties fp WHERE fp.file_id = f.id AND fp.property_id = ?)"
		if e.Negate {
			return "NOT " + clause, nil
		}
		return clause, nil

	case Or:
		if len(e.Exprs) == 0 {
			return "0", nil
		}
		parts := make([]string, 0, len(e.Exprs))
		for _, sub := range e.Exprs {
			s, err := renderIndex(sub, args)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return "(" + strings.Join(parts, " OR ") + ")", nil
	}
	return "", fmt.Errorf("unsupported index expression %T", e)
}

// prefixSuccessor returns the smallest string greater than every string
// with the given prefix, comparing bytes. It reports false when no such
// bound exists (the prefix is all 0xFF bytes).
func prefixSuccessor(prefix string) (string, bool) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xFF {
			b[i]++
			return string(b[:i+1]), true
		}
	}
	return "", false
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// Order values for an ordered scan.
const (
	OrderRandom        = "random"
	OrderExtraProperty = "extraProperty"
)

// Order describes how a scan is sorted. Key is a file attribute,
// OrderRandom or OrderExtraProperty. Ties are broken by file id in the
// same direction.
type Order struct {
	Key          string
	Desc         bool
	Seed         int64
	PropertyID   string
	PropertyType PropertyType
}

// Stored text values sort behind textValuePrefix, so even "" sorts above
// the empty key given to files without the value in descending order.
// The sentinels put those files last in either direction.
const (
	textValuePrefix  = "\x01"
	textSentinelHigh = "\U0010FFFF"
	textSentinelLow  = ""
)

// orderExpr returns the SQL expression a scan sorts by and its arguments.
func orderExpr(o Order) (string, []any, error) {
	switch o.Key {
	case "", "dateAdded":
		return "f.date_added", nil, nil
	case OrderRandom:
		return "seeded_rank(f.id, ?)", []any{o.Seed}, nil
	case OrderExtraProperty:
		if o.PropertyID == "" {
			return "", nil, fmt.Errorf("extra property order needs a property id")
		}
		if o.PropertyType == PropertyText {
			sentinel := textSentinelHigh
			if o.Desc {
				sentinel = textSentinelLow
			}
			expr := "COALESCE(? || (SELECT fp.value_text FROM file_extra_properties fp WHERE fp.file_id = f.id AND fp.property_id = ?), ?) COLLATE " + FoldCollation
			return expr, []any{textValuePrefix, o.PropertyID, sentinel}, nil
		}
		sentinel := math.Inf(1)
		if o.Desc {
			sentinel = math.Inf(-1)
		}
		expr := "COALESCE((SELECT fp.value_num FROM file_extra_properties fp WHERE fp.file_id = f.id AND fp.property_id = ?), ?)"
		return expr, []any{o.PropertyID, sentinel}, nil
	}
	col, err := column(o.Key)
	if err != nil {
		return "", nil, err
	}
	return "f." + col, nil, nil
}
