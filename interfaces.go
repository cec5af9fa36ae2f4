package resilientfetch

import (
	"net/http"
	"net/url"
)

// CredentialSource supplies the ambient credentials of the environment a Fetcher runs
// in: forwarded request cookies on the server, a cookie jar on the client.
type CredentialSource interface {
	// Apply attaches environment credentials to an outgoing request.
	Apply(req *http.Request)

	// RefreshCredentials returns the refresh and CSRF tokens when the environment can
	// read them directly. ok is false when they only travel as opaque cookies.
	RefreshCredentials() (refresh, csrf string, ok bool)
}

// CookieSink is implemented by credential sources that keep the cookies issued by a
// token refresh. Its method set matches http.CookieJar.SetCookies.
type CookieSink interface {
	SetCookies(u *url.URL, cookies []*http.Cookie)
}

// Doer executes HTTP requests; *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NoCredentials is the CredentialSource of a Fetcher without ambient credentials.
type NoCredentials struct{}

func (NoCredentials) Apply(*http.Request) {}

func (NoCredentials) RefreshCredentials() (string, string, bool) { return "", "", false }
