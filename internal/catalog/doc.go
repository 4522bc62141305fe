// Package catalog is the mutation and ingestion surface of the media
// catalog.
//
// A Service owns the in-memory tag graph and keeps it, the store and the
// aggregate counts consistent: every mutation commits to the store first,
// then updates the graph, marks affected counts dirty and notifies the
// listeners registered with OnChange.
//
// Searches go through the query executor; ingestion (CreateFilesFromPath,
// SaveFiles, RemoveFiles, CompareFiles) is driven by an external disk
// scanner that supplies FileStats records.
package catalog
