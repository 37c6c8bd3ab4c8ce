package cache

import (
	"sort"
	"strings"

	"github.com/always-cache/httpcache"
	"github.com/always-cache/httpcache/rfc9111"
)

const (
	varySeparator = "\n"
	varyWildcard  = "*"
)

// VaryField is one request field nominated by a stored response's Vary field.
type VaryField struct {
	// Lower-cased field name.
	Name string
	// Normalized value; empty if the field was absent.
	Value   string
	Present bool
}

// Vary is the discriminator of a stored variant: the nominated request
// fields as they were presented when the response was stored.
type Vary struct {
	fields   []VaryField
	wildcard bool
}

// NewVary computes the discriminator for a response stored for a request with the given headers.
func NewVary(response, request httpcache.Headers) Vary {
	var v Vary
	seen := make(map[string]bool)
	for _, name := range response.Vary() {
		if name == varyWildcard {
			v.wildcard = true
			continue
		}
		name = strings.ToLower(name)
		if seen[name] {
			continue
		}
		seen[name] = true
		f := VaryField{Name: name, Present: request.Has(name)}
		if f.Present {
			f.Value = rfc9111.NormalizeFieldValue(request.Values(name))
		}
		v.fields = append(v.fields, f)
	}
	sort.Slice(v.fields, func(i, j int) bool { return v.fields[i].Name < v.fields[j].Name })
	return v
}

func (v Vary) Fields() []VaryField {
	return append([]VaryField(nil), v.fields...)
}

func (v Vary) Wildcard() bool { return v.wildcard }

// ID returns the variant identifier. Variants of one key with equal IDs replace each other.
// The ID of a response without Vary is empty.
func (v Vary) ID() string {
	if v.wildcard {
		return varyWildcard
	}
	lines := make([]string, 0, len(v.fields))
	for _, f := range v.fields {
		if f.Present {
			lines = append(lines, f.Name+": "+f.Value)
		} else {
			lines = append(lines, f.Name)
		}
	}
	return strings.Join(lines, varySeparator)
}

// Matches reports whether a request with the given headers may be served the variant.
// A wildcard Vary never matches.
func (v Vary) Matches(request httpcache.Headers) bool {
	if v.wildcard {
		return false
	}
	for _, f := range v.fields {
		if request.Has(f.Name) != f.Present {
			return false
		}
		if f.Present && rfc9111.NormalizeFieldValue(request.Values(f.Name)) != f.Value {
			return false
		}
	}
	return true
}

// RequestHeaders returns the nominated fields that were present, as header lines.
func (v Vary) RequestHeaders() httpcache.Headers {
	var h httpcache.Headers
	for _, f := range v.fields {
		if f.Present {
			h = h.Add(f.Name, f.Value)
		}
	}
	return h
}
