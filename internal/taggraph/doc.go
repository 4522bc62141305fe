/*
Package taggraph keeps the tag hierarchy in memory.

Every tag has exactly one parent and an ordered list of children; the root
tag (RootID) is its own parent and is never shown to users. On top of the
tree, tags can imply other tags: if B implies A, a recursive search for A
also finds files tagged B. Tags can also carry aliases.

# Expansion

Expand computes the set of tags a recursive search for some tags has to
match. Starting from the requested ids it adds, until nothing changes:

  - every child of a tag in the set
  - every tag that implies a tag in the set

ImpliedAncestors walks the same edges the other way and answers the
reverse question: whose expansion contains this tag? The aggregate
maintainer uses it to decide which file counts a change invalidates.

# Consistency

All methods are safe for concurrent use. Mutations validate their input
before touching any state, so a rejected Merge, Move or AddImplication
leaves the graph unchanged. Implication cycles are rejected when an edge is
added; traversals still carry a visited set so a bad row loaded from the
store cannot make them loop.

Tags that cannot be reached from the root when the graph is loaded (their
parent is missing, or parents form a loop) are reattached under the root
and reported by Load.
*/
package taggraph
