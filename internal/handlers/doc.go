// Package handlers provides the HTTP JSON API over the catalog.
//
// It includes handlers for:
//   - Searching files with a query tree, ordering and cursor paging
//   - Tag tree editing: create, update, delete, merge, move, implications
//     and aliases
//   - Tagging files directly or by query, extra property values
//   - Saved searches, locations and extra property definitions
//   - Statistics, export/import and full recounts
//   - A Server-Sent Events feed of committed changes
//   - Health, readiness and version probes
//
// Errors are returned as {"error": "..."}: malformed input and invalid
// conditions are 400, missing entities 404, unsupported tag operations and
// cycles 409, and anything else 500.
package handlers
