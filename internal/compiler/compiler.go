package compiler

import (
	"slices"
	"strings"
	"time"

	"github.com/RafaUC/Allusion-sub000/internal/condition"
	"github.com/RafaUC/Allusion-sub000/internal/database"
	"github.com/RafaUC/Allusion-sub000/internal/metrics"
)

// Predicate is a compiled condition.
type Predicate struct {
	// Index selects the matching files in the store, or is nil when the
	// condition can only be evaluated by scanning.
	Index database.IndexExpr
	// Filter is what remains to check on rows selected by Index; nil when
	// Index alone is exact.
	Filter func(*database.File) bool
	// Match evaluates the whole condition on a file. It is always set and
	// agrees with Index wherever Index is set.
	Match func(*database.File) bool
}

// IsIndexOnly reports whether the store can answer p without a residual
// filter.
func (p Predicate) IsIndexOnly() bool {
	return p.Index != nil && p.Filter == nil
}

// Expander expands tag ids to every tag a recursive tag condition covers.
type Expander interface {
	Expand(ids ...string) map[string]struct{}
}

// IndexCatalog reports which attributes the store indexes.
type IndexCatalog interface {
	HasIndex(key string, fold bool) bool
}

// PropertyTypes looks up the declared type of an extra property.
type PropertyTypes interface {
	PropertyType(id string) (database.PropertyType, bool)
}

// PropertyMap is a PropertyTypes backed by a map.
type PropertyMap map[string]database.PropertyType

// PropertyType implements PropertyTypes.
func (m PropertyMap) PropertyType(id string) (database.PropertyType, bool) {
	t, ok := m[id]
	return t, ok
}

// Compiler compiles conditions. It is safe for concurrent use as long as
// its collaborators are.
type Compiler struct {
	tags    Expander
	indexes IndexCatalog
	props   PropertyTypes
	loc     *time.Location
}

// New returns a compiler. Date conditions are interpreted as calendar days
// in loc (time.Local when nil).
func New(tags Expander, indexes IndexCatalog, props PropertyTypes, loc *time.Location) *Compiler {
	if loc == nil {
		loc = time.Local
	}
	if props == nil {
		props = PropertyMap{}
	}
	return &Compiler{tags: tags, indexes: indexes, props: props, loc: loc}
}

// Compile compiles one condition.
func (c *Compiler) Compile(cond condition.Condition) Predicate {
	p := condition.Dispatch[Predicate](cond, c)
	path := "scan"
	if p.Index != nil {
		path = "index"
	}
	metrics.CompiledConditions.WithLabelValues(string(cond.ValueType()), path).Inc()
	return p
}

func indexed(expr database.IndexExpr, match func(*database.File) bool) Predicate {
	return Predicate{Index: expr, Match: match}
}

func scanned(match func(*database.File) bool) Predicate {
	return Predicate{Filter: match, Match: match}
}

func never(*database.File) bool { return false }

// VisitNumber implements condition.Visitor.
func (c *Compiler) VisitNumber(cond condition.NumberCondition) Predicate {
	key, op, want := cond.Attr, cond.Op, cond.Value
	cmp, ok := compareOp(op)
	if !ok {
		return indexed(database.Or{}, never)
	}
	return indexed(
		database.Compare{Key: key, Op: cmp, Value: want},
		func(f *database.File) bool { return compareNumbers(numberAttr(f, key), op, want) },
	)
}

// VisitDate implements condition.Visitor. The value's calendar day is
// taken as-is and placed in the compiler's location.
func (c *Compiler) VisitDate(cond condition.DateCondition) Predicate {
	key := cond.Attr
	y, m, d := cond.Value.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, c.loc).UnixMilli()
	end := time.Date(y, m, d+1, 0, 0, 0, 0, c.loc).UnixMilli() - 1

	var expr database.IndexExpr
	var match func(ms int64) bool
	switch cond.Op {
	case condition.Equals:
		expr = database.Between{Key: key, Low: start, High: end}
		match = func(ms int64) bool { return ms >= start && ms <= end }
	case condition.NotEqual:
		expr = database.Or{Exprs: []database.IndexExpr{
			database.Compare{Key: key, Op: database.OpLt, Value: start},
			database.Compare{Key: key, Op: database.OpGt, Value: end},
		}}
		match = func(ms int64) bool { return ms < start || ms > end }
	case condition.SmallerThan:
		expr = database.Compare{Key: key, Op: database.OpLt, Value: start}
		match = func(ms int64) bool { return ms < start }
	case condition.SmallerThanOrEquals:
		expr = database.Compare{Key: key, Op: database.OpLe, Value: end}
		match = func(ms int64) bool { return ms <= end }
	case condition.GreaterThan:
		expr = database.Compare{Key: key, Op: database.OpGt, Value: end}
		match = func(ms int64) bool { return ms > end }
	case condition.GreaterThanOrEquals:
		expr = database.Compare{Key: key, Op: database.OpGe, Value: start}
		match = func(ms int64) bool { return ms >= start }
	default:
		return indexed(database.Or{}, never)
	}
	return indexed(expr, func(f *database.File) bool { return match(dateAttr(f, key)) })
}

// VisitString implements condition.Visitor.
func (c *Compiler) VisitString(cond condition.StringCondition) Predicate {
	key := cond.Attr
	match := stringMatcher(cond.Op, cond.Value)
	get := func(f *database.File) bool { return match(stringAttr(f, key)) }

	var expr database.IndexExpr
	fold := false
	switch cond.Op {
	case condition.Equals:
		expr = database.Compare{Key: key, Op: database.OpEq, Value: cond.Value}
	case condition.NotEqual:
		expr = database.Compare{Key: key, Op: database.OpNe, Value: cond.Value}
	case condition.EqualsIgnoreCase:
		expr = database.Compare{Key: key, Op: database.OpEq, Value: cond.Value, Fold: true}
		fold = true
	case condition.StartsWith:
		expr = database.Prefix{Key: key, Prefix: cond.Value}
	case condition.StartsWithIgnoreCase:
		expr = database.Prefix{Key: key, Prefix: cond.Value, Fold: true}
		fold = true
	}
	if expr != nil && c.indexes != nil && c.indexes.HasIndex(key, fold) {
		return indexed(expr, get)
	}
	return scanned(get)
}

// VisitTags implements condition.Visitor.
func (c *Compiler) VisitTags(cond condition.TagsCondition) Predicate {
	ids := cond.TagIDs
	switch cond.Op {
	case condition.Contains, condition.ContainsRecursively:
		if len(ids) == 0 {
			return indexed(database.TagsEmpty{}, func(f *database.File) bool { return len(f.Tags) == 0 })
		}
		set := toSet(ids)
		if cond.Op == condition.ContainsRecursively {
			set = c.expand(ids)
		}
		return indexed(database.TagsAnyOf{TagIDs: sortedKeys(set)}, func(f *database.File) bool {
			return intersects(f.Tags, set)
		})

	case condition.NotContains, condition.ContainsNotRecursively:
		if len(ids) == 0 {
			return scanned(func(f *database.File) bool { return len(f.Tags) > 0 })
		}
		set := toSet(ids)
		if cond.Op == condition.ContainsNotRecursively {
			set = c.expand(ids)
		}
		return scanned(func(f *database.File) bool { return !intersects(f.Tags, set) })
	}
	return indexed(database.Or{}, never)
}

func (c *Compiler) expand(ids []string) map[string]struct{} {
	if c.tags == nil {
		return toSet(ids)
	}
	return c.tags.Expand(ids...)
}

// VisitExtraProperty implements condition.Visitor.
func (c *Compiler) VisitExtraProperty(cond condition.ExtraPropertyCondition) Predicate {
	id := cond.PropertyID
	switch cond.Op {
	case condition.ExistsInFile, condition.NotExistsInFile:
		negate := cond.Op == condition.NotExistsInFile
		return indexed(database.PropertyExists{PropertyID: id, Negate: negate}, func(f *database.File) bool {
			_, ok := f.ExtraProperties[id]
			return ok != negate
		})
	}

	typ, ok := c.props.PropertyType(id)
	if !ok {
		return indexed(database.Or{}, never)
	}

	switch typ {
	case database.PropertyNumber:
		want, ok := cond.Value.(float64)
		if !ok || !condition.IsNumberOperator(cond.Op) {
			return indexed(database.Or{}, never)
		}
		return scanned(func(f *database.File) bool {
			got, ok := f.ExtraProperties[id].(float64)
			return ok && compareNumbers(got, cond.Op, want)
		})
	case database.PropertyText:
		want, ok := cond.Value.(string)
		if !ok || !condition.IsStringOperator(cond.Op) {
			return indexed(database.Or{}, never)
		}
		match := stringMatcher(cond.Op, want)
		return scanned(func(f *database.File) bool {
			got, ok := f.ExtraProperties[id].(string)
			return ok && match(got)
		})
	}
	return indexed(database.Or{}, never)
}

func compareOp(op condition.Operator) (database.CompareOp, bool) {
	switch op {
	case condition.Equals:
		return database.OpEq, true
	case condition.NotEqual:
		return database.OpNe, true
	case condition.SmallerThan:
		return database.OpLt, true
	case condition.SmallerThanOrEquals:
		return database.OpLe, true
	case condition.GreaterThan:
		return database.OpGt, true
	case condition.GreaterThanOrEquals:
		return database.OpGe, true
	}
	return "", false
}

func compareNumbers(got float64, op condition.Operator, want float64) bool {
	switch op {
	case condition.Equals:
		return got == want
	case condition.NotEqual:
		return got != want
	case condition.SmallerThan:
		return got < want
	case condition.SmallerThanOrEquals:
		return got <= want
	case condition.GreaterThan:
		return got > want
	case condition.GreaterThanOrEquals:
		return got >= want
	}
	return false
}

// stringMatcher returns the scan form of a string operator. contains and
// notContains ignore case.
func stringMatcher(op condition.Operator, want string) func(string) bool {
	folded := database.Fold(want)
	switch op {
	case condition.Equals:
		return func(s string) bool { return s == want }
	case condition.NotEqual:
		return func(s string) bool { return s != want }
	case condition.EqualsIgnoreCase:
		return func(s string) bool { return database.Fold(s) == folded }
	case condition.StartsWith:
		return func(s string) bool { return strings.HasPrefix(s, want) }
	case condition.StartsWithIgnoreCase:
		return func(s string) bool { return strings.HasPrefix(database.Fold(s), folded) }
	case condition.NotStartsWith:
		return func(s string) bool { return !strings.HasPrefix(s, want) }
	case condition.Contains:
		return func(s string) bool { return strings.Contains(database.Fold(s), folded) }
	case condition.NotContains:
		return func(s string) bool { return !strings.Contains(database.Fold(s), folded) }
	}
	return func(string) bool { return false }
}

func stringAttr(f *database.File, key string) string {
	switch key {
	case condition.KeyName:
		return f.Name
	case condition.KeyExtension:
		return f.Extension
	case condition.KeyAbsolutePath:
		return f.AbsolutePath
	case condition.KeyRelativePath:
		return f.RelativePath
	case condition.KeyLocationID:
		return f.LocationID
	}
	return ""
}

func numberAttr(f *database.File, key string) float64 {
	switch key {
	case condition.KeySize:
		return float64(f.Size)
	case condition.KeyWidth:
		return float64(f.Width)
	case condition.KeyHeight:
		return float64(f.Height)
	}
	return 0
}

// dateAttr returns a date attribute in unix milliseconds, with the zero
// time as 0 the way the store keeps it.
func dateAttr(f *database.File, key string) int64 {
	var t time.Time
	switch key {
	case condition.KeyDateAdded:
		t = f.DateAdded
	case condition.KeyDateModified:
		t = f.DateModified
	case condition.KeyDateCreated:
		t = f.DateCreated
	case condition.KeyDateLastIndexed:
		t = f.DateLastIndexed
	}
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func intersects(tags []string, set map[string]struct{}) bool {
	for _, t := range tags {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}
