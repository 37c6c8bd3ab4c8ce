// Package rfc9111 holds the parts of HTTP Caching (RFC 9111) and HTTP
// Semantics (RFC 9110) the cache storage relies on.
//
// Each file corresponds to a section of the RFC; quoted RFC text is marked with §.
package rfc9111
