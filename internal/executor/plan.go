package executor

import (
	"fmt"

	"github.com/RafaUC/Allusion-sub000/internal/compiler"
	"github.com/RafaUC/Allusion-sub000/internal/database"
	"github.com/RafaUC/Allusion-sub000/internal/query"
)

func always(*database.File) bool { return true }

// Compile folds a query tree into one predicate. Empty sub-groups are
// pruned first; an empty root matches every file, with Index and Filter
// both nil.
func Compile(c *compiler.Compiler, root *query.Group) (compiler.Predicate, error) {
	if err := query.Validate(root); err != nil {
		return compiler.Predicate{}, err
	}
	return compileGroup(c, query.Prune(root))
}

func compileGroup(c *compiler.Compiler, g *query.Group) (compiler.Predicate, error) {
	if g.IsEmpty() {
		return compiler.Predicate{Match: always}, nil
	}

	children := make([]compiler.Predicate, 0, len(g.Children))
	for _, n := range g.Children {
		switch n := n.(type) {
		case query.Leaf:
			children = append(children, c.Compile(n.Condition))
		case *query.Group:
			p, err := compileGroup(c, n)
			if err != nil {
				return compiler.Predicate{}, err
			}
			children = append(children, p)
		default:
			return compiler.Predicate{}, fmt.Errorf("unsupported query node %T", n)
		}
	}
	if len(children) == 1 {
		return children[0], nil
	}

	switch g.Conjunction {
	case query.Or:
		return compileOr(children), nil
	default:
		return compileAnd(children), nil
	}
}

func compileAnd(children []compiler.Predicate) compiler.Predicate {
	matches := make([]func(*database.File) bool, len(children))
	for i, p := range children {
		matches[i] = p.Match
	}

	first := children[0]
	var residual []func(*database.File) bool
	switch {
	case first.Index != nil:
		if first.Filter != nil {
			residual = append(residual, first.Filter)
		}
	case first.Filter != nil:
		residual = append(residual, first.Filter)
	}
	residual = append(residual, matches[1:]...)

	return compiler.Predicate{
		Index:  first.Index,
		Filter: allOf(residual),
		Match:  allOf(matches),
	}
}

func compileOr(children []compiler.Predicate) compiler.Predicate {
	matches := make([]func(*database.File) bool, len(children))
	exprs := make([]database.IndexExpr, 0, len(children))
	for i, p := range children {
		matches[i] = p.Match
		if p.IsIndexOnly() {
			exprs = append(exprs, p.Index)
		}
	}
	match := anyOf(matches)
	if len(exprs) == len(children) {
		return compiler.Predicate{Index: database.Or{Exprs: exprs}, Match: match}
	}
	return compiler.Predicate{Filter: match, Match: match}
}

func allOf(fns []func(*database.File) bool) func(*database.File) bool {
	switch len(fns) {
	case 0:
		return nil
	case 1:
		return fns[0]
	}
	return func(f *database.File) bool {
		for _, fn := range fns {
			if !fn(f) {
				return false
			}
		}
		return true
	}
}

func anyOf(fns []func(*database.File) bool) func(*database.File) bool {
	return func(f *database.File) bool {
		for _, fn := range fns {
			if fn(f) {
				return true
			}
		}
		return false
	}
}
