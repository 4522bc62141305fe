// Package condition defines the typed search conditions a user can put in a
// query: comparisons on file attributes, tag membership tests and extra
// property tests.
//
// A Condition is one of NumberCondition, DateCondition, StringCondition,
// TagsCondition or ExtraPropertyCondition. The set is closed; code that
// needs to handle every kind implements Visitor and calls Dispatch, so a
// missing kind is a compile error rather than a silent fallthrough.
//
// Constructors validate the key and operator for their kind and return an
// error wrapping ErrInvalidCondition on mismatch.
package condition
