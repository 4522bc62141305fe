// Package middleware provides HTTP middleware for the catalog API server.
//
// It includes:
//   - Request logging in W3C Extended Log Format through the zap backend
//   - Prometheus request metrics labelled by route template
//   - gzip compression of JSON responses such as search pages
package middleware
