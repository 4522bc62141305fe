// Package memory sets the Go soft memory limit (GOMEMLIMIT) from the
// memory.limit and memory.ratio settings, so the server stays inside a
// container limit while loading a large tag graph or import snapshot.
package memory
