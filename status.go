package httpcache

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Status is an HTTP status code with its reason phrase.
type Status struct {
	Code   int
	Reason string
}

// NewStatus creates a status with the standard reason phrase for code.
func NewStatus(code int) Status {
	return Status{Code: code, Reason: http.StatusText(code)}
}

// IsBodyContentAllowed reports whether a response with this status may carry content.
// Informational (1xx), 204 (No Content) and 304 (Not Modified) responses never do.
func (s Status) IsBodyContentAllowed() bool {
	switch {
	case s.Code >= 100 && s.Code < 200:
		return false
	case s.Code == http.StatusNoContent, s.Code == http.StatusNotModified:
		return false
	}
	return true
}

func (s Status) String() string {
	if s.Reason == "" {
		return strconv.Itoa(s.Code)
	}
	return strconv.Itoa(s.Code) + " " + s.Reason
}

const defaultVersion = "HTTP/1.1"

// StatusLine is the first line of an HTTP/1.x response.
type StatusLine struct {
	Status  Status
	Version string
}

// NewStatusLine creates an HTTP/1.1 status line for code.
func NewStatusLine(code int) StatusLine {
	return StatusLine{Status: NewStatus(code), Version: defaultVersion}
}

func (l StatusLine) String() string {
	version := l.Version
	if version == "" {
		version = defaultVersion
	}
	return version + " " + l.Status.String()
}

// ParseStatusLine parses a line like "HTTP/1.1 200 OK".
// The reason phrase is optional.
func ParseStatusLine(line string) (StatusLine, error) {
	version, rest, ok := strings.Cut(strings.TrimRight(line, "\r\n"), " ")
	if !ok || !strings.HasPrefix(version, "HTTP/") {
		return StatusLine{}, fmt.Errorf("Malformed status line: %q", line)
	}
	codeStr, reason, _ := strings.Cut(rest, " ")
	code, err := strconv.Atoi(codeStr)
	if err != nil || code < 100 || code > 999 {
		return StatusLine{}, fmt.Errorf("Malformed status code in status line: %q", line)
	}
	return StatusLine{Status: Status{Code: code, Reason: reason}, Version: version}, nil
}
