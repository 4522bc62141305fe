// Package compiler turns search conditions into predicates over files.
//
// Each compiled Predicate carries a Match function that evaluates the
// condition against a loaded file, and, where the store can answer the
// condition from an index, a database.IndexExpr that selects exactly the
// same files. The executor pushes index expressions down to the store and
// runs the rest as residual filters while scanning.
//
// Recursive tag conditions are expanded through the tag graph at compile
// time; extra property conditions are dispatched on the property's
// declared type.
package compiler
