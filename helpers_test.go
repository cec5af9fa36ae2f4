package resilientfetch_test

import (
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	resilientfetch "github.com/opengovern/resilient-fetch"
	"github.com/opengovern/resilient-fetch/mock"
)

const (
	baseURL     = "http://api.test"
	refreshPath = resilientfetch.DefaultRefreshEndpoint
)

func fastPolicy() resilientfetch.RetryPolicy {
	return resilientfetch.RetryPolicy{
		MaxAttempts:   3,
		BackoffFactor: 2,
		MinDelay:      time.Millisecond,
		MaxDelay:      4 * time.Millisecond,
	}
}

func newFetcher(t *testing.T, tr *mock.Transport, configure ...func(*resilientfetch.FetcherConfig)) *resilientfetch.Fetcher {
	t.Helper()
	cfg := resilientfetch.FetcherConfig{
		BaseURL:    baseURL,
		Retry:      fastPolicy(),
		HTTPClient: tr.Client(),
	}
	for _, fn := range configure {
		fn(&cfg)
	}
	f, err := resilientfetch.NewFetcher(cfg)
	require.NoError(t, err)
	return f
}

// sessionCreds reads refresh credentials directly and records the cookies a refresh
// hands back.
type sessionCreds struct {
	refresh, csrf string

	mu     sync.Mutex
	issued []*http.Cookie
}

func (s *sessionCreds) Apply(req *http.Request) {
	req.Header.Set("Cookie", "refresh_token="+s.refresh+"; csrftoken="+s.csrf)
}

func (s *sessionCreds) RefreshCredentials() (string, string, bool) {
	return s.refresh, s.csrf, s.refresh != ""
}

func (s *sessionCreds) SetCookies(_ *url.URL, cs []*http.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued = append(s.issued, cs...)
}

func (s *sessionCreds) Issued() []*http.Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*http.Cookie(nil), s.issued...)
}

// requireBearer answers body when the request carries token and the missing-token 401
// otherwise, whatever order the requests arrive in.
func requireBearer(token, body string) func(*http.Request) mock.Response {
	return func(r *http.Request) mock.Response {
		if r.Header.Get("Authorization") == "Bearer "+token {
			return mock.OK(body)
		}
		return mock.NoAccessToken()
	}
}

// authHeaders waits for n requests on path and returns their Authorization headers.
func authHeaders(t *testing.T, tr *mock.Transport, path string, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return tr.Calls(path) == n }, time.Second, time.Millisecond, path)
	var out []string
	for _, r := range tr.Requests(path) {
		out = append(out, r.Header.Get("Authorization"))
	}
	return out
}
