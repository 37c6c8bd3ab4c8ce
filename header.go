package httpcache

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/http/httpguts"

	"github.com/always-cache/httpcache/payload"
	"github.com/always-cache/httpcache/rfc9111"
)

// Header is a single header field line.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered multimap of header fields.
// Names are compared case-insensitively and insertion order is preserved.
//
// Headers is immutable: the mutating methods return a modified copy,
// which makes it safe to share between goroutines and stored responses.
type Headers struct {
	fields []Header
}

// NewHeaders creates headers from the given field lines.
// Lines with invalid names or values are dropped.
func NewHeaders(fields ...Header) Headers {
	var h Headers
	for _, f := range fields {
		h = h.Add(f.Name, f.Value)
	}
	return h
}

// FromHTTPHeader converts a net/http header map.
// Map order is not defined, so field names are sorted.
func FromHTTPHeader(header http.Header) Headers {
	names := make([]string, 0, len(header))
	for name := range header {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := make([]Header, 0, len(header))
	for _, name := range names {
		for _, value := range header[name] {
			fields = append(fields, Header{Name: name, Value: value})
		}
	}
	return NewHeaders(fields...)
}

// HTTPHeader converts the headers to a net/http header map.
func (h Headers) HTTPHeader() http.Header {
	header := make(http.Header, len(h.fields))
	for _, f := range h.fields {
		header.Add(f.Name, f.Value)
	}
	return header
}

func (h Headers) Len() int { return len(h.fields) }

// All returns a copy of all field lines in order.
func (h Headers) All() []Header {
	return append([]Header(nil), h.fields...)
}

// Get returns the first value of the named field.
func (h Headers) Get(name string) (string, bool) {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// Values returns all values of the named field in order.
func (h Headers) Values(name string) []string {
	var values []string
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			values = append(values, f.Value)
		}
	}
	return values
}

func (h Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Add returns a copy of h with the field line appended.
func (h Headers) Add(name, value string) Headers {
	if !validField(name, value) {
		return h
	}
	fields := make([]Header, len(h.fields), len(h.fields)+1)
	copy(fields, h.fields)
	return Headers{fields: append(fields, Header{Name: name, Value: value})}
}

// Set returns a copy of h where the named field has the single given value.
// The field keeps the position of its first occurrence.
func (h Headers) Set(name, value string) Headers {
	if !validField(name, value) {
		return h
	}
	fields := make([]Header, 0, len(h.fields)+1)
	replaced := false
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, name) {
			fields = append(fields, f)
		} else if !replaced {
			fields = append(fields, Header{Name: name, Value: value})
			replaced = true
		}
	}
	if !replaced {
		fields = append(fields, Header{Name: name, Value: value})
	}
	return Headers{fields: fields}
}

// Del returns a copy of h without the named field.
func (h Headers) Del(name string) Headers {
	fields := make([]Header, 0, len(h.fields))
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, name) {
			fields = append(fields, f)
		}
	}
	return Headers{fields: fields}
}

// Merge returns a copy of h where every field present in update replaces the
// field of the same name, except fields for which skip returns true.
func (h Headers) Merge(update Headers, skip func(name string) bool) Headers {
	merged := h
	done := make(map[string]bool)
	for _, f := range update.fields {
		key := strings.ToLower(f.Name)
		if done[key] || (skip != nil && skip(f.Name)) {
			continue
		}
		done[key] = true
		values := update.Values(f.Name)
		merged = merged.Set(f.Name, values[0])
		for _, v := range values[1:] {
			merged = merged.Add(f.Name, v)
		}
	}
	return merged
}

// Equal reports whether both headers have the same field lines in the same order.
// Names are compared case-insensitively.
func (h Headers) Equal(other Headers) bool {
	if len(h.fields) != len(other.fields) {
		return false
	}
	for i, f := range h.fields {
		o := other.fields[i]
		if !strings.EqualFold(f.Name, o.Name) || f.Value != o.Value {
			return false
		}
	}
	return true
}

// ETag returns the entity tag, including quotes and weakness indicator.
func (h Headers) ETag() (string, bool) {
	etag, ok := h.Get("ETag")
	etag = strings.TrimSpace(etag)
	return etag, ok && etag != ""
}

// LastModified returns the parsed Last-Modified date.
func (h Headers) LastModified() (time.Time, bool) {
	value, ok := h.Get("Last-Modified")
	if !ok {
		return time.Time{}, false
	}
	date, err := rfc9111.HttpDate(value)
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}

// Allow returns the methods listed in the Allow field.
func (h Headers) Allow() []string {
	return rfc9111.ParseList(h.Values("Allow"))
}

// Vary returns the field names listed in the Vary field.
func (h Headers) Vary() []string {
	return rfc9111.ParseList(h.Values("Vary"))
}

// ContentType returns the parsed Content-Type.
func (h Headers) ContentType() (payload.MIMEType, bool) {
	value, ok := h.Get("Content-Type")
	if !ok {
		return payload.MIMEType{}, false
	}
	t, err := payload.ParseMIMEType(value)
	if err != nil {
		return payload.MIMEType{}, false
	}
	return t, true
}

// ContentLength returns the Content-Length, or payload.UnknownLength if it is
// absent or not a valid non-negative number.
func (h Headers) ContentLength() int64 {
	value, ok := h.Get("Content-Length")
	if !ok {
		return payload.UnknownLength
	}
	length, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || length < 0 {
		return payload.UnknownLength
	}
	return length
}

func validField(name, value string) bool {
	if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
		log.Debug().Str("name", name).Msg("Dropping invalid header field")
		return false
	}
	return true
}
