package rfc9111

import "strings"

// §  4.1.  Calculating Cache Keys with the Vary Header Field
// §
// §     When a cache receives a request that can be satisfied by a stored
// §     response and that stored response contains a Vary header field
// §     (Section 12.5.5 of [HTTP]), the cache MUST NOT use that stored
// §     response without revalidation unless all the presented request header
// §     fields nominated by that Vary field value match those fields in the
// §     original request (i.e., the request that caused the cached response
// §     to be stored).
// §
// §     The header fields from two requests are defined to match if and only
// §     if those in the first request can be transformed to those in the
// §     second request by applying any of the following:
// §
// §     *  adding or removing whitespace, where allowed in the header field's
// §        syntax
// §
// §     *  combining multiple header field lines with the same field name
// §        (see Section 5.2 of [HTTP])
//
// NormalizeFieldValue combines the field lines of a nominated request field
// into a single comparable value.
// Whitespace around list members is removed, the members are joined by ", ".
func NormalizeFieldValue(lines []string) string {
	members := make([]string, 0, len(lines))
	for _, line := range lines {
		for _, member := range strings.Split(line, ",") {
			member = strings.Join(strings.Fields(member), " ")
			if member != "" {
				members = append(members, member)
			}
		}
	}
	return strings.Join(members, ", ")
}

// §     If (after any normalization that might take place) a header field is
// §     absent from a request, it can only match another request if it is
// §     also absent there.
// §
// §     A stored response with a Vary header field value containing a member
// §     "*" always fails to match.
func VaryWildcard(vary []string) bool {
	for _, name := range vary {
		if name == "*" {
			return true
		}
	}
	return false
}

// §     If multiple stored responses match, the cache will need to choose one
// §     to use.  When a nominated request header field has a known mechanism
// §     for ranking preference (e.g., qvalues on Accept and similar request
// §     header fields), that mechanism MAY be used to choose a preferred
// §     response.  If such a mechanism is not available, or leads to equally
// §     preferred responses, the most recent response (as determined by the
// §     Date header field) is chosen, as per Section 4.
// §
// §     If no stored response matches, the cache cannot satisfy the presented
// §     request.  Typically, the request is forwarded to the origin server,
// §     potentially with preconditions added to describe what responses the
// §     cache has already stored (Section 4.3).
