// server_adapter.go
// -----------------
// ServerCredentials forwards the cookies of an incoming request to every outgoing
// request made on its behalf. It is request-scoped: build one per incoming request,
// together with its own Fetcher, because the credentials belong to that request.
//
// Cookies issued by a token refresh replace the forwarded ones of the same name, so a
// rotated refresh token is used by any later refresh in the same scope.
package adapters

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	resilientfetch "github.com/opengovern/resilient-fetch"
	"github.com/opengovern/resilient-fetch/cookies"
)

type ServerCredentials struct {
	mu      sync.Mutex
	cookies []*http.Cookie
}

// NewServerCredentials captures the cookies of r.
func NewServerCredentials(r *http.Request) *ServerCredentials {
	return &ServerCredentials{cookies: r.Cookies()}
}

// NewServerFetcher builds a Fetcher scoped to the incoming request r.
func NewServerFetcher(r *http.Request, cfg resilientfetch.FetcherConfig) (*resilientfetch.Fetcher, *ServerCredentials, error) {
	creds := NewServerCredentials(r)
	cfg.Credentials = creds
	f, err := resilientfetch.NewFetcher(cfg)
	if err != nil {
		return nil, nil, err
	}
	return f, creds, nil
}

// Apply sets the forwarded Cookie header.
func (s *ServerCredentials) Apply(req *http.Request) {
	if header := s.CookieHeader(); header != "" {
		req.Header.Set("Cookie", header)
	}
}

// CookieHeader renders the forwarded cookies as a single Cookie header value.
func (s *ServerCredentials) CookieHeader() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := make([]string, 0, len(s.cookies))
	for _, c := range s.cookies {
		parts = append(parts, (&http.Cookie{Name: c.Name, Value: c.Value}).String())
	}
	return strings.Join(parts, "; ")
}

func (s *ServerCredentials) RefreshCredentials() (string, string, bool) {
	refresh := s.value(cookies.RefreshToken)
	csrf := s.value(cookies.CSRFToken)
	if refresh == "" || csrf == "" {
		return "", "", false
	}
	return refresh, csrf, true
}

// SetCookies merges issued cookies into the forwarded set. Expired cookies are
// dropped.
func (s *ServerCredentials) SetCookies(_ *url.URL, issued []*http.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range issued {
		s.cookies = removeCookie(s.cookies, c.Name)
		if c.MaxAge < 0 || c.Value == "" {
			continue
		}
		s.cookies = append(s.cookies, &http.Cookie{Name: c.Name, Value: c.Value})
	}
}

func (s *ServerCredentials) value(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cookies {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func removeCookie(cs []*http.Cookie, name string) []*http.Cookie {
	out := cs[:0]
	for _, c := range cs {
		if c.Name != name {
			out = append(out, c)
		}
	}
	return out
}

var (
	_ resilientfetch.CredentialSource = (*ServerCredentials)(nil)
	_ resilientfetch.CookieSink       = (*ServerCredentials)(nil)
)
