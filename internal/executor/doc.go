// Package executor runs query trees against the store.
//
// Compile folds a query.Group into a single predicate: the first child of
// an AND group chooses the index the store scans, every later child is a
// residual filter; an OR group becomes an index union only when every
// child is fully indexable. Executor pages through the matches with
// keyset cursors in either direction, and Session adds the versioning an
// interactive view needs: each fetch gets a task id and results of
// superseded fetches are discarded with ErrStale.
package executor
