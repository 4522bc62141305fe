package taggraph

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/RafaUC/Allusion-sub000/internal/logging"
)

// RootID is the id of the hidden root tag.
const RootID = "root"

// InheritColor means the tag uses its parent's color.
const InheritColor = "inherit"

var (
	// ErrNotFound is returned for unknown tag ids.
	ErrNotFound = errors.New("tag not found")
	// ErrExists is returned when inserting a tag whose id is taken.
	ErrExists = errors.New("tag already exists")
	// ErrCycle is returned when an edge would make a tag reachable from itself.
	ErrCycle = errors.New("tag cycle")
	// ErrUnsupported is returned for operations the graph cannot perform,
	// such as merging a tag that has children.
	ErrUnsupported = errors.New("unsupported tag operation")
)

// Tag holds the attributes of a tag. Structure (parent, children,
// implications, aliases) lives in the graph.
type Tag struct {
	ID                 string
	Name               string
	Color              string
	Description        string
	IsHidden           bool
	IsVisibleInherited bool
	IsHeader           bool
	DateAdded          time.Time
	FileCount          int
	IsFileCountDirty   bool
}

// Record is a tag as persisted: its attributes plus its place in the tree.
type Record struct {
	Tag
	ParentID string
	Position int
	Aliases  []string
}

// Implication is an edge "Tag implies Implied".
type Implication struct {
	Tag     string
	Implied string
}

type node struct {
	tag       Tag
	parent    string
	children  []string
	implies   []string
	impliedBy []string
	aliases   []string
}

// Graph is the in-memory tag hierarchy.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*node
	order map[string]int
}

// New returns a graph holding only the root tag.
func New() *Graph {
	g := &Graph{}
	g.reset()
	g.reindex()
	return g
}

func (g *Graph) reset() {
	g.nodes = map[string]*node{
		RootID: {tag: Tag{ID: RootID, Name: "Root"}, parent: RootID},
	}
}

// Load replaces the graph's contents. Records are attached to their parent
// in Position order. It returns the ids of tags that had to be reattached
// under the root.
func (g *Graph) Load(records []Record, implications []Implication) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.reset()
	for _, r := range records {
		if r.ID == RootID {
			g.nodes[RootID].tag = r.Tag
			continue
		}
		g.nodes[r.ID] = &node{tag: r.Tag, parent: r.ParentID, aliases: dedup(r.Aliases)}
	}

	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b Record) int { return a.Position - b.Position })

	var strays []string
	for _, r := range sorted {
		if r.ID == RootID {
			continue
		}
		n := g.nodes[r.ID]
		parent, ok := g.nodes[n.parent]
		if !ok || n.parent == r.ID {
			n.parent = RootID
			parent = g.nodes[RootID]
			strays = append(strays, r.ID)
		}
		parent.children = append(parent.children, r.ID)
	}

	// Parent loops leave whole groups unreachable from the root.
	reached := g.reachable()
	for _, r := range sorted {
		if r.ID == RootID || reached[r.ID] {
			continue
		}
		n := g.nodes[r.ID]
		old := g.nodes[n.parent]
		old.children = slices.DeleteFunc(old.children, func(c string) bool { return c == r.ID })
		n.parent = RootID
		g.nodes[RootID].children = append(g.nodes[RootID].children, r.ID)
		strays = append(strays, r.ID)
		for id := range g.subtreeIDs(r.ID) {
			reached[id] = true
		}
	}

	for _, imp := range implications {
		a, okA := g.nodes[imp.Tag]
		b, okB := g.nodes[imp.Implied]
		if !okA || !okB || imp.Tag == imp.Implied {
			logging.Warn("Ignoring implication %s -> %s: unknown or self-referencing tag", imp.Tag, imp.Implied)
			continue
		}
		a.implies = appendUnique(a.implies, imp.Implied)
		b.impliedBy = appendUnique(b.impliedBy, imp.Tag)
	}

	for _, id := range strays {
		logging.Warn("Tag %s (%s) was not reachable from the root and has been moved under it", id, g.nodes[id].tag.Name)
	}

	g.reindex()
	return strays
}

func (g *Graph) reachable() map[string]bool {
	reached := make(map[string]bool, len(g.nodes))
	for id := range g.subtreeIDs(RootID) {
		reached[id] = true
	}
	return reached
}

// subtreeIDs walks children depth-first. Callers hold the lock.
func (g *Graph) subtreeIDs(id string) iter.Seq[string] {
	return func(yield func(string) bool) {
		if _, ok := g.nodes[id]; !ok {
			return
		}
		visited := map[string]bool{}
		stack := []string{id}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[cur] {
				continue
			}
			visited[cur] = true
			if !yield(cur) {
				return
			}
			n := g.nodes[cur]
			for i := len(n.children) - 1; i >= 0; i-- {
				stack = append(stack, n.children[i])
			}
		}
	}
}

func (g *Graph) reindex() {
	g.order = make(map[string]int, len(g.nodes))
	i := 0
	for id := range g.subtreeIDs(RootID) {
		g.order[id] = i
		i++
	}
}

// Get returns a tag by id.
func (g *Graph) Get(id string) (Tag, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return Tag{}, false
	}
	return n.tag, true
}

// Has reports whether the tag exists.
func (g *Graph) Has(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Len returns the number of tags, not counting the root.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes) - 1
}

// Parent returns the parent id of a tag. The root is its own parent.
func (g *Graph) Parent(id string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return "", false
	}
	return n.parent, true
}

// Children returns the ordered child ids of a tag.
func (g *Graph) Children(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n, ok := g.nodes[id]; ok {
		return slices.Clone(n.children)
	}
	return nil
}

// Implies returns the tags id implies.
func (g *Graph) Implies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n, ok := g.nodes[id]; ok {
		return slices.Clone(n.implies)
	}
	return nil
}

// ImpliedBy returns the tags that imply id.
func (g *Graph) ImpliedBy(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n, ok := g.nodes[id]; ok {
		return slices.Clone(n.impliedBy)
	}
	return nil
}

// Aliases returns the aliases of a tag.
func (g *Graph) Aliases(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n, ok := g.nodes[id]; ok {
		return slices.Clone(n.aliases)
	}
	return nil
}

// Index returns the position of a tag in the flattened depth-first order,
// with the root at 0.
func (g *Graph) Index(id string) (int, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	i, ok := g.order[id]
	return i, ok
}

// All returns every tag except the root in flattened order.
func (g *Graph) All() []Tag {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Tag, 0, len(g.nodes)-1)
	for id := range g.subtreeIDs(RootID) {
		if id != RootID {
			out = append(out, g.nodes[id].tag)
		}
	}
	return out
}

// Records returns every tag except the root in a form suitable for
// persisting, in flattened order.
func (g *Graph) Records() []Record {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Record, 0, len(g.nodes)-1)
	for id := range g.subtreeIDs(RootID) {
		if id == RootID {
			continue
		}
		n := g.nodes[id]
		out = append(out, Record{
			Tag:      n.tag,
			ParentID: n.parent,
			Position: slices.Index(g.nodes[n.parent].children, id),
			Aliases:  slices.Clone(n.aliases),
		})
	}
	return out
}

// Implications returns every implication edge.
func (g *Graph) Implications() []Implication {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Implication
	for id := range g.subtreeIDs(RootID) {
		for _, implied := range g.nodes[id].implies {
			out = append(out, Implication{Tag: id, Implied: implied})
		}
	}
	return out
}

// ResolvedColor follows "inherit" colors up the tree.
func (g *Graph) ResolvedColor(id string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	seen := map[string]bool{}
	for {
		n, ok := g.nodes[id]
		if !ok || seen[id] {
			return ""
		}
		if n.tag.Color != InheritColor {
			return n.tag.Color
		}
		seen[id] = true
		if id == RootID {
			return ""
		}
		id = n.parent
	}
}

// Subtree yields a tag and all of its descendants depth-first. The
// sequence is taken from a snapshot, so it may be ranged over again and
// the graph may be mutated while ranging.
func (g *Graph) Subtree(id string) iter.Seq[Tag] {
	return func(yield func(Tag) bool) {
		g.mu.RLock()
		var tags []Tag
		for cur := range g.subtreeIDs(id) {
			tags = append(tags, g.nodes[cur].tag)
		}
		g.mu.RUnlock()

		for _, t := range tags {
			if !yield(t) {
				return
			}
		}
	}
}

// Expand returns the set of tags a recursive search for ids must match:
// the ids, their subtrees, and every tag implying any tag in the set,
// repeated until nothing changes. Unknown ids contribute nothing.
func (g *Graph) Expand(ids ...string) map[string]struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string]struct{})
	stack := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := g.nodes[id]; ok {
			stack = append(stack, id)
		}
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, done := out[cur]; done {
			continue
		}
		out[cur] = struct{}{}
		n := g.nodes[cur]
		stack = append(stack, n.children...)
		stack = append(stack, n.impliedBy...)
	}
	return out
}

// ImpliedAncestors returns every tag whose expansion contains id,
// including id itself: its parents up to (not including) the root, the tags
// it implies, and transitively theirs. Tags already in visited are
// skipped, and every returned tag is added to visited, so one map can be
// shared across several calls.
func (g *Graph) ImpliedAncestors(id string, visited map[string]struct{}) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if visited == nil {
		visited = make(map[string]struct{})
	}
	var out []string
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := g.nodes[cur]
		if !ok || cur == RootID {
			continue
		}
		if _, done := visited[cur]; done {
			continue
		}
		visited[cur] = struct{}{}
		out = append(out, cur)
		stack = append(stack, n.parent)
		stack = append(stack, n.implies...)
	}
	return out
}

// Insert adds a new tag under parentID at index. An index outside the
// child list appends.
func (g *Graph) Insert(tag Tag, parentID string, index int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[tag.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, tag.ID)
	}
	parent, ok := g.nodes[parentID]
	if !ok {
		return fmt.Errorf("%w: parent %s", ErrNotFound, parentID)
	}

	g.nodes[tag.ID] = &node{tag: tag, parent: parentID}
	parent.children = insertAt(parent.children, index, tag.ID)
	g.reindex()
	return nil
}

// Update replaces a tag's attributes, keeping its structure.
func (g *Graph) Update(tag Tag) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[tag.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, tag.ID)
	}
	n.tag = tag
	return nil
}

// SetCount stores a computed file count and its dirty flag.
func (g *Graph) SetCount(id string, count int, dirty bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.nodes[id]; ok {
		n.tag.FileCount = count
		n.tag.IsFileCountDirty = dirty
	}
}

// SetDirty flags the counts of the given tags as stale.
func (g *Graph) SetDirty(ids ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		if n, ok := g.nodes[id]; ok {
			n.tag.IsFileCountDirty = true
		}
	}
}

// SetAliases replaces the aliases of a tag.
func (g *Graph) SetAliases(id string, aliases []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	n.aliases = dedup(aliases)
	return nil
}

// Remove deletes a tag and its subtree and returns the removed ids. Edges
// to and from removed tags are dropped.
func (g *Graph) Remove(id string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id == RootID {
		return nil, fmt.Errorf("%w: cannot remove the root tag", ErrUnsupported)
	}
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	removed := slices.Collect(g.subtreeIDs(id))
	parent := g.nodes[n.parent]
	parent.children = slices.DeleteFunc(parent.children, func(c string) bool { return c == id })

	for _, rid := range removed {
		g.detachImplications(rid)
	}
	for _, rid := range removed {
		delete(g.nodes, rid)
	}
	g.reindex()
	return removed, nil
}

func (g *Graph) detachImplications(id string) {
	n := g.nodes[id]
	for _, other := range n.implies {
		if o, ok := g.nodes[other]; ok {
			o.impliedBy = slices.DeleteFunc(o.impliedBy, func(x string) bool { return x == id })
		}
	}
	for _, other := range n.impliedBy {
		if o, ok := g.nodes[other]; ok {
			o.implies = slices.DeleteFunc(o.implies, func(x string) bool { return x == id })
		}
	}
	n.implies = nil
	n.impliedBy = nil
}

// Move reparents a tag to newParentID at index. Moving a tag under itself
// or one of its descendants fails with ErrCycle.
func (g *Graph) Move(id, newParentID string, index int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id == RootID {
		return fmt.Errorf("%w: cannot move the root tag", ErrUnsupported)
	}
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	newParent, ok := g.nodes[newParentID]
	if !ok {
		return fmt.Errorf("%w: parent %s", ErrNotFound, newParentID)
	}
	for sub := range g.subtreeIDs(id) {
		if sub == newParentID {
			return fmt.Errorf("%w: cannot move %s under its own subtree", ErrCycle, id)
		}
	}

	old := g.nodes[n.parent]
	old.children = slices.DeleteFunc(old.children, func(c string) bool { return c == id })
	n.parent = newParentID
	newParent.children = insertAt(newParent.children, index, id)
	g.reindex()
	return nil
}

// AddImplication records that tag a implies tag b.
func (g *Graph) AddImplication(a, b string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkImplication(a, b); err != nil {
		return err
	}
	g.nodes[a].implies = appendUnique(g.nodes[a].implies, b)
	g.nodes[b].impliedBy = appendUnique(g.nodes[b].impliedBy, a)
	return nil
}

func (g *Graph) checkImplication(a, b string) error {
	if _, ok := g.nodes[a]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, a)
	}
	if _, ok := g.nodes[b]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, b)
	}
	if a == b {
		return fmt.Errorf("%w: %s cannot imply itself", ErrCycle, a)
	}
	if g.reachableWithout(b, a, "", nil) {
		return fmt.Errorf("%w: %s already implies %s", ErrCycle, b, a)
	}
	return nil
}

// RemoveImplication drops the edge a -> b if present.
func (g *Graph) RemoveImplication(a, b string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	na, ok := g.nodes[a]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, a)
	}
	nb, ok := g.nodes[b]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, b)
	}
	na.implies = slices.DeleteFunc(na.implies, func(x string) bool { return x == b })
	nb.impliedBy = slices.DeleteFunc(nb.impliedBy, func(x string) bool { return x == a })
	return nil
}

// Merge folds removeID into keepID: implication edges in both directions
// and aliases move to keepID, the removed tag's name becomes an alias, and
// removeID is deleted. A tag with children cannot be merged.
func (g *Graph) Merge(removeID, keepID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if removeID == keepID {
		return fmt.Errorf("%w: cannot merge %s into itself", ErrUnsupported, removeID)
	}
	if removeID == RootID || keepID == RootID {
		return fmt.Errorf("%w: cannot merge the root tag", ErrUnsupported)
	}
	rm, ok := g.nodes[removeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, removeID)
	}
	keep, ok := g.nodes[keepID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, keepID)
	}
	if len(rm.children) > 0 {
		return fmt.Errorf("%w: %s has child tags", ErrUnsupported, removeID)
	}

	// Edges keepID gains, as they would look with removeID gone.
	var newImplies, newImpliedBy []string
	for _, x := range rm.implies {
		if x != keepID && !slices.Contains(keep.implies, x) {
			newImplies = append(newImplies, x)
		}
	}
	for _, y := range rm.impliedBy {
		if y != keepID && !slices.Contains(keep.impliedBy, y) {
			newImpliedBy = append(newImpliedBy, y)
		}
	}

	// Edges still in place after removing removeID, plus the new ones.
	extra := map[string][]string{keepID: newImplies}
	for _, y := range newImpliedBy {
		extra[y] = append(extra[y], keepID)
	}
	for _, x := range newImplies {
		if g.reachableWithout(x, keepID, removeID, extra) {
			return fmt.Errorf("%w: merging %s into %s creates an implication cycle", ErrCycle, removeID, keepID)
		}
	}
	for _, y := range newImpliedBy {
		if g.reachableWithout(keepID, y, removeID, extra) {
			return fmt.Errorf("%w: merging %s into %s creates an implication cycle", ErrCycle, removeID, keepID)
		}
	}

	g.detachImplications(removeID)
	for _, x := range newImplies {
		keep.implies = appendUnique(keep.implies, x)
		g.nodes[x].impliedBy = appendUnique(g.nodes[x].impliedBy, keepID)
	}
	for _, y := range newImpliedBy {
		keep.impliedBy = appendUnique(keep.impliedBy, y)
		g.nodes[y].implies = appendUnique(g.nodes[y].implies, keepID)
	}

	aliases := slices.Clone(keep.aliases)
	aliases = append(aliases, rm.aliases...)
	aliases = append(aliases, rm.tag.Name)
	keep.aliases = dedup(aliases)

	parent := g.nodes[rm.parent]
	parent.children = slices.DeleteFunc(parent.children, func(c string) bool { return c == removeID })
	delete(g.nodes, removeID)
	g.reindex()
	return nil
}

// reachableWithout reports whether to is reachable from from over implies
// edges plus extra, never passing through skip.
func (g *Graph) reachableWithout(from, to, skip string, extra map[string][]string) bool {
	visited := map[string]bool{skip: true}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if n, ok := g.nodes[cur]; ok {
			stack = append(stack, n.implies...)
		}
		stack = append(stack, extra[cur]...)
	}
	return false
}

func insertAt(s []string, index int, id string) []string {
	if index < 0 || index > len(s) {
		return append(s, id)
	}
	return slices.Insert(s, index, id)
}

func appendUnique(s []string, v string) []string {
	if slices.Contains(s, v) {
		return s
	}
	return append(s, v)
}

func dedup(s []string) []string {
	out := make([]string, 0, len(s))
	for _, v := range s {
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
