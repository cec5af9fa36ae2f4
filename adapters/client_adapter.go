package adapters

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	resilientfetch "github.com/opengovern/resilient-fetch"
)

// ClientCredentials keeps cookies in a jar the way a browser does and attaches the
// matching ones to each request. Refresh credentials are only reachable as cookies,
// so the refresh route reads them itself.
type ClientCredentials struct {
	jar *cookiejar.Jar
}

var (
	defaultClientOnce sync.Once
	defaultClient     *ClientCredentials
)

func NewClientCredentials() *ClientCredentials {
	// cookiejar.New only fails on a broken PublicSuffixList, and nil is used here.
	jar, _ := cookiejar.New(nil)
	return &ClientCredentials{jar: jar}
}

// DefaultClientCredentials returns the process-wide client credentials.
func DefaultClientCredentials() *ClientCredentials {
	defaultClientOnce.Do(func() {
		defaultClient = NewClientCredentials()
	})
	return defaultClient
}

func (c *ClientCredentials) Apply(req *http.Request) {
	for _, ck := range c.jar.Cookies(req.URL) {
		req.AddCookie(ck)
	}
}

func (c *ClientCredentials) RefreshCredentials() (string, string, bool) {
	return "", "", false
}

// SetCookies stores cookies for u.
func (c *ClientCredentials) SetCookies(u *url.URL, cookies []*http.Cookie) {
	c.jar.SetCookies(u, cookies)
}

// Cookies returns the cookies that would be sent to u.
func (c *ClientCredentials) Cookies(u *url.URL) []*http.Cookie {
	return c.jar.Cookies(u)
}

var (
	_ resilientfetch.CredentialSource = (*ClientCredentials)(nil)
	_ resilientfetch.CookieSink       = (*ClientCredentials)(nil)
	_ http.CookieJar                  = (*ClientCredentials)(nil)
)
