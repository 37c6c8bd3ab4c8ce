package rfc9111

import "strings"

// §  3.2.  Updating Stored Header Fields
// §
// §     Caches are required to update a stored response's header fields from
// §     another (typically newer) response in several situations; for
// §     example, see Sections 3.4, 4.3.4, and 4.3.5.
// §
// §     When doing so, the cache MUST add each header field in the provided
// §     response to the stored response, replacing field values that are
// §     already present, with the following exceptions:
// §
// §     *  Header fields excepted from storage in Section 3.1,
// §
// §     *  Header fields that the cache's stored response depends upon, as
// §        described below,
// §
// §     *  Header fields that are automatically processed and removed by the
// §        recipient, as described below, and
// §
// §     *  The Content-Length header field.
// §
// §     [...]
// §
// §     For example, a browser might decode the content coding of a response
// §     while it is being received, creating a disconnect between the data it
// §     has stored and the response's original metadata.  Updating that
// §     stored metadata with a different Content-Encoding header field would
// §     be problematic.
// §
// §     Furthermore, some fields are automatically processed and removed by
// §     the HTTP implementation, such as the Content-Range header field.
// §     Implementations MAY automatically omit such header fields from
// §     updates, even when the processing does not actually occur.

// ExcludedFromUpdate reports whether a field of a 304 (Not Modified) response
// must not replace the corresponding field of the stored response.
//
// The stored payload is kept as received, so the fields describing its
// encoding and length stay with it.
func ExcludedFromUpdate(name string) bool {
	switch strings.ToLower(name) {
	case "content-length", "content-encoding", "content-range", "content-type":
		return true
	}
	return IsHopByHop(name)
}
