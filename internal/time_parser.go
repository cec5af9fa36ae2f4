// internal/time_parser.go
// ------------------------
// Helpers for the time-valued cookie attributes relayed between environments.
//
// Functions:
// - ParseMaxAge: convert a Max-Age attribute into http.Cookie.MaxAge semantics.
// - ParseExpires: parse an Expires attribute in any of the formats browsers accept.
// - IsInFuture: check whether a time lies ahead of now.
package internal

import (
	"strconv"
	"strings"
	"time"
)

var expiresLayouts = []string{
	time.RFC1123,
	"Mon, 02-Jan-2006 15:04:05 MST",
	time.RFC850,
	time.ANSIC,
	time.RFC3339,
}

// ParseMaxAge converts a Max-Age attribute in seconds. An empty or malformed value
// yields 0 (unset); zero or negative seconds yield -1 (delete now).
func ParseMaxAge(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	secs, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	if secs <= 0 {
		return -1
	}
	return secs
}

// ParseExpires returns the zero time when s matches no known layout.
func ParseExpires(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range expiresLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// IsInFuture checks if t is after the current time.
func IsInFuture(t time.Time) bool {
	return t.After(time.Now())
}
