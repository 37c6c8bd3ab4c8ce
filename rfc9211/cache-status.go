// Package rfc9211 implements the Cache-Status HTTP response header field.
package rfc9211

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldName is the name of the Cache-Status field.
const FieldName = "Cache-Status"

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

type FwdReason string

// §  2.2.  The fwd Parameter
const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache contained a response that matched the request
	// URI, but it could not select a response based upon this request's
	// header fields and stored Vary header fields.
	FwdReasonVaryMiss FwdReason = "vary-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request (to be used when an implementation cannot
	// distinguish between uri-miss and vary-miss).
	FwdReasonMiss FwdReason = "miss"

	// The cache was able to select a response for the request, but
	// it was stale.
	FwdReasonStale FwdReason = "stale"
)

// CacheStatus is one member of the Cache-Status list, i.e. the status reported by one cache.
type CacheStatus struct {
	Cache     string
	Status    Status
	FwdReason FwdReason
	Stored    bool
	Detail    string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

// §  2.  The Cache-Status HTTP Response Header Field
// §
// §     Cache-Status   = #( cache-identifier *( ";" parameter ) )
func (cs CacheStatus) String() string {
	status := cs.Cache
	if cs.Status == StatusHit {
		status += "; hit"
	} else if cs.FwdReason != "" {
		status = fmt.Sprintf("%s; fwd=%s", status, cs.FwdReason)
	}
	if cs.Stored {
		status += "; stored"
	}
	if cs.Detail != "" {
		status += "; detail=" + strconv.Quote(cs.Detail)
	}
	return status
}

// §  2.1.  The hit Parameter
// §
// §     "hit", when true, indicates that the request was satisfied by the
// §     cache; that is, it was not forwarded, and the response was obtained
// §     from the cache.
//
// IsHit reports whether any member of the given Cache-Status field lines reports a hit.
// The hit parameter is a boolean; "hit=?0" is false.
func IsHit(lines []string) bool {
	for _, line := range lines {
		for _, member := range splitUnquoted(line, ',') {
			params := splitUnquoted(member, ';')
			for _, param := range params[1:] {
				param = strings.TrimSpace(param)
				if strings.EqualFold(param, "hit") || strings.EqualFold(param, "hit=?1") {
					return true
				}
			}
		}
	}
	return false
}

// splitUnquoted splits s at sep, except inside quoted strings.
func splitUnquoted(s string, sep byte) []string {
	var parts []string
	quoted, escaped := false, false
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case quoted && c == '\\':
			escaped = true
		case c == '"':
			quoted = !quoted
		case !quoted && c == sep:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}
