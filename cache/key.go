package cache

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/net/idna"
)

const methodSeparator = ":"

// Key identifies all stored variants of a resource: the request method and
// the canonical target URI.
// Keys are comparable and their string form is stable across restarts.
type Key struct {
	Method string
	URI    string
}

// NewKey creates the key for a request with the given method and target URI.
//
// The method must be an HTTP token and is kept as is. The URI is canonicalized: scheme and host are
// lower-cased, international host names converted to their ASCII form,
// default ports removed, the fragment dropped and an empty path replaced by "/".
func NewKey(method string, u *url.URL) (Key, error) {
	if method == "" {
		return Key{}, fmt.Errorf("Empty method")
	}
	for _, r := range method {
		if !httpguts.IsTokenRune(r) {
			return Key{}, fmt.Errorf("Invalid method %q", method)
		}
	}
	if u == nil {
		return Key{}, fmt.Errorf("Missing URI")
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if host != "" && net.ParseIP(host) == nil {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return Key{}, fmt.Errorf("Invalid host %q: %w", host, err)
		}
		host = ascii
	}
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	hostport := host
	if port != "" {
		hostport = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		hostport = "[" + host + "]"
	}
	canonical := url.URL{
		Scheme:   scheme,
		Host:     hostport,
		Path:     u.Path,
		RawPath:  u.RawPath,
		RawQuery: u.RawQuery,
	}
	if canonical.Path == "" {
		canonical.Path = "/"
		canonical.RawPath = ""
	}
	return Key{Method: method, URI: canonical.String()}, nil
}

// MustKey is like NewKey but takes a raw URI and panics on error.
func MustKey(method, rawURI string) Key {
	u, err := url.Parse(rawURI)
	if err != nil {
		panic(err)
	}
	key, err := NewKey(method, u)
	if err != nil {
		panic(err)
	}
	return key
}

func (k Key) String() string {
	return k.Method + methodSeparator + k.URI
}

// ParseKey parses the string form of a key.
func ParseKey(s string) (Key, error) {
	method, uri, found := strings.Cut(s, methodSeparator)
	if !found || method == "" || uri == "" {
		return Key{}, fmt.Errorf("Malformed key: %s", s)
	}
	return Key{Method: method, URI: uri}, nil
}
