// Package cookies parses Set-Cookie headers and converts cookies to and from the JSON
// form relayed to the set-cookie route.
package cookies

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/opengovern/resilient-fetch/internal"
)

// Cookie names shared by the gateway and the credential adapters.
const (
	AccessToken  = "access_token"
	RefreshToken = "refresh_token"
	UserID       = "user_id"
	CSRFToken    = "csrftoken"
)

// SessionCookies are cleared on logout.
var SessionCookies = []string{AccessToken, RefreshToken, UserID, CSRFToken}

// Attributes are the cookie attributes as relayed in JSON. Keys match the lower-cased
// attribute names of the Set-Cookie header.
type Attributes struct {
	HTTPOnly bool   `json:"httponly,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	Path     string `json:"path,omitempty"`
	SameSite string `json:"samesite,omitempty"`
	Expires  string `json:"expires,omitempty"`
	Domain   string `json:"domain,omitempty"`
	MaxAge   string `json:"max-age,omitempty"`
}

type Cookie struct {
	Name       string     `json:"name"`
	Value      string     `json:"value"`
	Attributes Attributes `json:"attributes"`
}

// ParseSetCookie parses Set-Cookie header values. Each value may itself hold several
// cookies joined by commas, as happens when a proxy folds the header; commas inside
// an Expires date are kept. Malformed cookies are skipped.
func ParseSetCookie(values []string) []*http.Cookie {
	var out []*http.Cookie
	for _, value := range values {
		for _, part := range splitCombined(value) {
			c, err := http.ParseSetCookie(part)
			if err != nil {
				continue
			}
			out = append(out, c)
		}
	}
	return out
}

func splitCombined(header string) []string {
	var parts []string
	for _, piece := range strings.Split(header, ",") {
		if n := len(parts); n > 0 && continuesPrevious(parts[n-1], piece) {
			parts[n-1] += "," + piece
			continue
		}
		parts = append(parts, piece)
	}

	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// continuesPrevious reports whether piece is the tail of an Expires date started in
// prev, or otherwise cannot be the start of a cookie.
func continuesPrevious(prev, piece string) bool {
	if !strings.Contains(piece, "=") {
		return true
	}
	last := prev
	if i := strings.LastIndex(prev, ";"); i >= 0 {
		last = prev[i+1:]
	}
	last = strings.ToLower(strings.TrimSpace(last))
	return strings.HasPrefix(last, "expires=") && !strings.Contains(last, ",")
}

// FromHTTP converts c to its JSON form.
func FromHTTP(c *http.Cookie) Cookie {
	out := Cookie{
		Name:  c.Name,
		Value: c.Value,
		Attributes: Attributes{
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
			Path:     c.Path,
			Domain:   c.Domain,
			SameSite: sameSiteName(c.SameSite),
		},
	}
	switch {
	case c.RawExpires != "":
		out.Attributes.Expires = c.RawExpires
	case !c.Expires.IsZero():
		out.Attributes.Expires = c.Expires.UTC().Format(http.TimeFormat)
	}
	switch {
	case c.MaxAge > 0:
		out.Attributes.MaxAge = strconv.Itoa(c.MaxAge)
	case c.MaxAge < 0:
		out.Attributes.MaxAge = "0"
	}
	return out
}

// FromHTTPList converts every cookie of cs.
func FromHTTPList(cs []*http.Cookie) []Cookie {
	out := make([]Cookie, 0, len(cs))
	for _, c := range cs {
		out = append(out, FromHTTP(c))
	}
	return out
}

// ToHTTP converts c back to an *http.Cookie ready for http.SetCookie.
func (c Cookie) ToHTTP() *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Attributes.Path,
		Domain:   c.Attributes.Domain,
		Expires:  internal.ParseExpires(c.Attributes.Expires),
		MaxAge:   internal.ParseMaxAge(c.Attributes.MaxAge),
		Secure:   c.Attributes.Secure,
		HttpOnly: c.Attributes.HTTPOnly,
		SameSite: parseSameSite(c.Attributes.SameSite),
	}
}

func sameSiteName(s http.SameSite) string {
	switch s {
	case http.SameSiteLaxMode:
		return "Lax"
	case http.SameSiteStrictMode:
		return "Strict"
	case http.SameSiteNoneMode:
		return "None"
	default:
		return ""
	}
}

func parseSameSite(s string) http.SameSite {
	switch strings.ToLower(s) {
	case "lax":
		return http.SameSiteLaxMode
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}
