// Package aggregate keeps tag file counts and the global file counters in
// step with the catalog.
//
// A tag's count is the number of distinct files that a recursive search for
// the tag would match: files carrying the tag, any tag below it, or any tag
// implying one of those. When a tag changes, it and every tag whose count
// includes it are marked dirty; a debounce timer then recomputes the dirty
// set in batches, one store query per batch.
package aggregate
