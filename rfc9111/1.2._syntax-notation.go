package rfc9111

import (
	"fmt"
	"strings"
	"time"
)

// §  1.2.  Syntax Notation
// §
// §     This specification uses the Augmented Backus-Naur Form (ABNF)
// §     notation of [RFC5234], extended with the notation for case-
// §     sensitivity in strings defined in [RFC7405].
// §
// §     It also uses a list extension, defined in Section 5.6.1 of [HTTP],
// §     that allows for compact definition of comma-separated lists using a
// §     "#" operator (similar to how the "*" operator indicates repetition).

// ParseList splits the field lines of a list-based field into its members.
// Empty members are dropped, as required for recipients by Section 5.6.1 of [HTTP].
func ParseList(lines []string) []string {
	list := make([]string, 0, len(lines))
	for _, line := range lines {
		for _, item := range strings.Split(line, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
	}
	return list
}

// This section is from the HTTP specification (RFC9110), not the cache specification
//
// §  5.6.7.  Date/Time Formats
// §
// §       HTTP-date    = IMF-fixdate / obs-date
// §
// §     An example of the preferred format is
// §
// §       Sun, 06 Nov 1994 08:49:37 GMT    ; IMF-fixdate
// §
// §     Examples of the two obsolete formats are
// §
// §       Sunday, 06-Nov-94 08:49:37 GMT   ; obsolete RFC 850 format
// §       Sun Nov  6 08:49:37 1994         ; ANSI C's asctime() format
// §
// §     A recipient that parses a timestamp value in an HTTP field MUST
// §     accept all three HTTP-date formats.  When a sender generates a field
// §     that contains one or more timestamps defined as HTTP-date, the sender
// §     MUST generate those timestamps in the IMF-fixdate format.
func HttpDate(dateStr string) (time.Time, error) {
	date, err := imfDate(dateStr)
	if err == nil {
		return date, nil
	}
	if date, err := obsDate(dateStr); err == nil {
		return date, nil
	}
	// return original error if unsuccessful
	return date, err
}

// ToHttpDate formats t as an IMF-fixdate.
func ToHttpDate(t time.Time) string {
	return t.UTC().Format(imfDateLayout)
}

const imfDateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

func imfDate(dateStr string) (time.Time, error) {
	date, err := time.Parse(time.RFC1123, normalizeDateStr(dateStr))
	if err != nil {
		return date, err
	}
	if name, _ := date.Zone(); name != "GMT" && name != "UTC" {
		return date, fmt.Errorf("Date %s is not in GMT time, but %s", dateStr, name)
	}
	return date.UTC(), nil
}

// §       obs-date     = rfc850-date / asctime-date
func obsDate(dateStr string) (time.Time, error) {
	str := normalizeDateStr(dateStr)
	if date, err := time.Parse(time.RFC850, str); err == nil {
		return date.UTC(), nil
	}
	date, err := time.Parse(time.ANSIC, dateStr)
	return date.UTC(), err
}

// §     HTTP-date is case sensitive.  Note that Section 4.2 of [CACHING]
// §     relaxes this for cache recipients.
//
// Only the zone is normalized: Go's layouts match day and month names
// case-sensitively in their canonical form.
func normalizeDateStr(dateStr string) string {
	dateStr = strings.TrimSpace(dateStr)
	if i := strings.LastIndexByte(dateStr, ' '); i >= 0 {
		return dateStr[:i+1] + strings.ToUpper(dateStr[i+1:])
	}
	return dateStr
}
