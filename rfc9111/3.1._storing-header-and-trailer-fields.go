package rfc9111

import "strings"

// §  3.1.  Storing Header and Trailer Fields
// §
// §     Caches MUST include all received response header fields -- including
// §     unrecognized ones -- when storing a response; this assures that new
// §     HTTP header fields can be successfully deployed.  However, the
// §     following exceptions are made:
// §
// §     *  The Connection header field and fields whose names are listed in
// §        it are required by Section 7.6.1 of [HTTP] to be removed before
// §        forwarding the message.  This MAY be implemented by doing so
// §        before storage.
// §
// §     *  Likewise, some fields' semantics require them to be removed before
// §        forwarding the message, and this MAY be implemented by doing so
// §        before storage; see Section 7.6.1 of [HTTP] for some examples.
var hopByHopFields = []string{
	"connection",
	"proxy-connection",
	"keep-alive",
	"te",
	"transfer-encoding",
	"upgrade",
}

// §     *  Header fields that are specific to the proxy that a cache uses
// §        when forwarding a request MUST NOT be stored, unless the cache
// §        incorporates the identity of the proxy into the cache key.
// §        Effectively, this is limited to Proxy-Authenticate (Section 11.7.1
// §        of [HTTP]), Proxy-Authentication-Info (Section 11.7.3 of [HTTP]),
// §        and Proxy-Authorization (Section 11.7.2 of [HTTP]).
var proxyFields = []string{
	"proxy-authenticate",
	"proxy-authentication-info",
	"proxy-authorization",
}

// UnstorableFields returns the (lower-cased) names of the fields that are not stored
// with a response, given the values of its Connection field.
func UnstorableFields(connection []string) []string {
	names := make([]string, 0, len(hopByHopFields)+len(proxyFields)+len(connection))
	names = append(names, hopByHopFields...)
	names = append(names, proxyFields...)
	for _, name := range ParseList(connection) {
		names = append(names, strings.ToLower(name))
	}
	return names
}

// IsHopByHop reports whether the field is always removed before storage.
func IsHopByHop(name string) bool {
	return contains(hopByHopFields, strings.ToLower(name)) || contains(proxyFields, strings.ToLower(name))
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
