// Package query holds the search expression tree: groups joined by AND or
// OR whose leaves are conditions.
package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"

	"github.com/RafaUC/Allusion-sub000/internal/condition"
)

// ErrCycle is returned when a group contains itself.
var ErrCycle = errors.New("query group contains itself")

// Conjunction joins the children of a group.
type Conjunction string

// Conjunctions
const (
	And Conjunction = "and"
	Or  Conjunction = "or"
)

// Node is a Leaf or a *Group.
type Node interface {
	node()
}

// Leaf wraps a single condition.
type Leaf struct {
	Condition condition.Condition
}

func (Leaf) node() {}

// Group is an ordered list of children joined by a conjunction.
type Group struct {
	ID          string
	Name        string
	Conjunction Conjunction
	Children    []Node
}

func (*Group) node() {}

// NewGroup returns a group with a fresh id.
func NewGroup(name string, conj Conjunction, children ...Node) *Group {
	return &Group{
		ID:          uuid.NewString(),
		Name:        name,
		Conjunction: conj,
		Children:    children,
	}
}

// All is an AND group of leaves.
func All(conds ...condition.Condition) *Group {
	return NewGroup("", And, leaves(conds)...)
}

// Any is an OR group of leaves.
func Any(conds ...condition.Condition) *Group {
	return NewGroup("", Or, leaves(conds)...)
}

func leaves(conds []condition.Condition) []Node {
	nodes := make([]Node, len(conds))
	for i, c := range conds {
		nodes[i] = Leaf{Condition: c}
	}
	return nodes
}

// IsEmpty reports whether the group has no children.
func (g *Group) IsEmpty() bool {
	return g == nil || len(g.Children) == 0
}

// Validate checks the tree for groups that contain themselves and for
// unknown conjunctions.
func Validate(root *Group) error {
	return validate(root, make(map[*Group]bool))
}

func validate(g *Group, onPath map[*Group]bool) error {
	if g == nil {
		return nil
	}
	if onPath[g] {
		return fmt.Errorf("%w: group %q", ErrCycle, g.Name)
	}
	if g.Conjunction != And && g.Conjunction != Or {
		return fmt.Errorf("%w: unknown conjunction %q", condition.ErrInvalidCondition, g.Conjunction)
	}
	onPath[g] = true
	defer delete(onPath, g)

	for _, child := range g.Children {
		switch c := child.(type) {
		case *Group:
			if err := validate(c, onPath); err != nil {
				return err
			}
		case Leaf:
			if c.Condition == nil {
				return fmt.Errorf("%w: empty leaf in group %q", condition.ErrInvalidCondition, g.Name)
			}
		}
	}
	return nil
}

// Prune returns a copy of the tree without empty non-root groups. A group
// whose children are all pruned is itself pruned.
func Prune(root *Group) *Group {
	if root == nil {
		return nil
	}
	out := &Group{ID: root.ID, Name: root.Name, Conjunction: root.Conjunction}
	for _, child := range root.Children {
		switch c := child.(type) {
		case *Group:
			if p := Prune(c); !p.IsEmpty() {
				out.Children = append(out.Children, p)
			}
		case Leaf:
			out.Children = append(out.Children, c)
		}
	}
	return out
}

// Leaves yields every condition depth-first. Groups already being walked
// are skipped.
func Leaves(root *Group) iter.Seq[condition.Condition] {
	return func(yield func(condition.Condition) bool) {
		walk(root, make(map[*Group]bool), yield)
	}
}

func walk(g *Group, seen map[*Group]bool, yield func(condition.Condition) bool) bool {
	if g == nil || seen[g] {
		return true
	}
	seen[g] = true
	for _, child := range g.Children {
		switch c := child.(type) {
		case *Group:
			if !walk(c, seen, yield) {
				return false
			}
		case Leaf:
			if !yield(c.Condition) {
				return false
			}
		}
	}
	return true
}

type groupJSON struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Conjunction Conjunction       `json:"conjunction"`
	Children    []json.RawMessage `json:"children"`
}

// probe tells groups and leaves apart when decoding.
type probe struct {
	Conjunction *Conjunction `json:"conjunction"`
}

// Marshal encodes a tree. Leaves use the condition encoding.
func Marshal(root *Group) ([]byte, error) {
	if err := Validate(root); err != nil {
		return nil, err
	}
	return marshalGroup(root)
}

func marshalGroup(g *Group) ([]byte, error) {
	out := groupJSON{ID: g.ID, Name: g.Name, Conjunction: g.Conjunction, Children: []json.RawMessage{}}
	for _, child := range g.Children {
		var (
			data []byte
			err  error
		)
		switch c := child.(type) {
		case *Group:
			data, err = marshalGroup(c)
		case Leaf:
			data, err = condition.Marshal(c.Condition)
		}
		if err != nil {
			return nil, err
		}
		out.Children = append(out.Children, data)
	}
	return json.Marshal(out)
}

// Unmarshal decodes a tree written by Marshal.
func Unmarshal(data []byte) (*Group, error) {
	var gj groupJSON
	if err := json.Unmarshal(data, &gj); err != nil {
		return nil, fmt.Errorf("%w: %v", condition.ErrInvalidCondition, err)
	}
	g := &Group{ID: gj.ID, Name: gj.Name, Conjunction: gj.Conjunction}
	if g.Conjunction == "" {
		g.Conjunction = And
	}
	if g.Conjunction != And && g.Conjunction != Or {
		return nil, fmt.Errorf("%w: unknown conjunction %q", condition.ErrInvalidCondition, g.Conjunction)
	}

	for _, raw := range gj.Children {
		var p probe
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", condition.ErrInvalidCondition, err)
		}
		if p.Conjunction != nil {
			child, err := Unmarshal(raw)
			if err != nil {
				return nil, err
			}
			g.Children = append(g.Children, child)
			continue
		}
		c, err := condition.Unmarshal(raw)
		if err != nil {
			return nil, err
		}
		g.Children = append(g.Children, Leaf{Condition: c})
	}
	return g, nil
}
