// Package database is the SQLite store behind the catalog.
//
// It holds files, tags (with implication edges and aliases), locations,
// extra property definitions and values, saved searches and metadata.
// Reads are filtered by IndexExpr values, which the package renders to SQL
// against its own indexes; IndexCatalog reports which file attributes carry
// case-sensitive or case-folded text indexes so callers can decide what
// to push down.
//
// The package registers its own driver, DriverName, which adds the FOLD
// collation (Unicode case folding) and the seeded_rank function used for
// repeatable random ordering.
package database
