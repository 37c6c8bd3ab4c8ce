package payload

import (
	"fmt"
	"mime"
	"strings"
)

// MIMEType is a media type with an optional charset.
// It is a comparable value: two MIME types are equal if they are ==.
type MIMEType struct {
	mediaType string
	charset   string
}

var (
	ApplicationOctetStream = MIMEType{mediaType: "application/octet-stream"}
	TextPlain              = MIMEType{mediaType: "text/plain"}
)

// NewMIMEType creates a MIME type from a media type and charset.
// Both are lower-cased, so that equality is case-insensitive like the values themselves.
func NewMIMEType(mediaType, charset string) MIMEType {
	return MIMEType{
		mediaType: strings.ToLower(strings.TrimSpace(mediaType)),
		charset:   strings.ToLower(strings.TrimSpace(charset)),
	}
}

// ParseMIMEType parses a Content-Type field value.
// Parameters other than charset are dropped.
func ParseMIMEType(value string) (MIMEType, error) {
	mediaType, params, err := mime.ParseMediaType(value)
	if err != nil {
		return MIMEType{}, fmt.Errorf("invalid media type %q: %w", value, err)
	}
	return NewMIMEType(mediaType, params["charset"]), nil
}

func (t MIMEType) MediaType() string { return t.mediaType }

func (t MIMEType) Charset() string { return t.charset }

// IsZero reports whether no media type is set.
func (t MIMEType) IsZero() bool { return t.mediaType == "" }

// String formats the MIME type as a Content-Type field value.
func (t MIMEType) String() string {
	if t.charset == "" {
		return t.mediaType
	}
	return mime.FormatMediaType(t.mediaType, map[string]string{"charset": t.charset})
}
