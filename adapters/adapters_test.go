package adapters

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	resilientfetch "github.com/opengovern/resilient-fetch"
	"github.com/opengovern/resilient-fetch/cookies"
	"github.com/opengovern/resilient-fetch/mock"
)

const baseURL = "http://api.test"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fetcherConfig(tr *mock.Transport) resilientfetch.FetcherConfig {
	return resilientfetch.FetcherConfig{
		BaseURL:    baseURL,
		HTTPClient: tr.Client(),
		Retry: resilientfetch.RetryPolicy{
			MaxAttempts:   3,
			BackoffFactor: 2,
			MinDelay:      time.Millisecond,
			MaxDelay:      4 * time.Millisecond,
		},
	}
}

func incoming(cs ...*http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/activities/1", nil)
	for _, c := range cs {
		r.AddCookie(c)
	}
	return r
}

func TestServerCredentialsForwardCookies(t *testing.T) {
	creds := NewServerCredentials(incoming(
		&http.Cookie{Name: cookies.RefreshToken, Value: "R1"},
		&http.Cookie{Name: cookies.CSRFToken, Value: "C1"},
	))

	assert.Equal(t, "refresh_token=R1; csrftoken=C1", creds.CookieHeader())

	refresh, csrf, ok := creds.RefreshCredentials()
	assert.True(t, ok)
	assert.Equal(t, "R1", refresh)
	assert.Equal(t, "C1", csrf)

	out := httptest.NewRequest(http.MethodGet, baseURL+"/api/x", nil)
	creds.Apply(out)
	assert.Equal(t, "refresh_token=R1; csrftoken=C1", out.Header.Get("Cookie"))
}

func TestServerCredentialsWithoutSession(t *testing.T) {
	creds := NewServerCredentials(incoming(&http.Cookie{Name: cookies.RefreshToken, Value: "R1"}))
	_, _, ok := creds.RefreshCredentials()
	assert.False(t, ok, "csrf token is required too")

	empty := NewServerCredentials(incoming())
	out := httptest.NewRequest(http.MethodGet, baseURL+"/api/x", nil)
	empty.Apply(out)
	assert.Empty(t, out.Header.Get("Cookie"))
}

func TestServerCredentialsSetCookies(t *testing.T) {
	creds := NewServerCredentials(incoming(
		&http.Cookie{Name: cookies.RefreshToken, Value: "R1"},
		&http.Cookie{Name: cookies.CSRFToken, Value: "C1"},
		&http.Cookie{Name: cookies.UserID, Value: "7"},
	))

	creds.SetCookies(nil, []*http.Cookie{
		{Name: cookies.RefreshToken, Value: "R2"},
		{Name: cookies.AccessToken, Value: "T2"},
		{Name: cookies.UserID, MaxAge: -1},
	})

	assert.Equal(t, "csrftoken=C1; refresh_token=R2; access_token=T2", creds.CookieHeader())
}

func TestServerFetcherRefreshRotatesForwardedCookies(t *testing.T) {
	tr := mock.New().
		On("/api/activities", mock.NoAccessToken(), mock.OK(`[]`)).
		On(resilientfetch.DefaultRefreshEndpoint, mock.Refreshed("T2", "refresh_token=R2; Path=/; HttpOnly"))

	f, creds, err := NewServerFetcher(incoming(
		&http.Cookie{Name: cookies.RefreshToken, Value: "R1"},
		&http.Cookie{Name: cookies.CSRFToken, Value: "C1"},
	), fetcherConfig(tr))
	require.NoError(t, err)

	result, err := f.RunBatch(context.Background(), []*resilientfetch.NormalizedRequest{
		resilientfetch.NewGetRequest("/api/activities"),
	})
	require.NoError(t, err)
	assert.True(t, result.Refreshed)

	refreshReq := tr.Requests(resilientfetch.DefaultRefreshEndpoint)[0]
	assert.Equal(t, "C1", refreshReq.Header.Get(resilientfetch.CSRFHeader))
	assert.Equal(t, "refresh_token=R1; csrftoken=C1", refreshReq.Header.Get("Cookie"))

	replay := tr.Requests("/api/activities")[1]
	assert.Equal(t, "Bearer T2", replay.Header.Get("Authorization"))
	assert.Equal(t, "csrftoken=C1; refresh_token=R2", replay.Header.Get("Cookie"))

	refresh, _, ok := creds.RefreshCredentials()
	assert.True(t, ok)
	assert.Equal(t, "R2", refresh)
}

func TestClientCredentialsJar(t *testing.T) {
	creds := NewClientCredentials()
	u, _ := url.Parse(baseURL)
	creds.SetCookies(u, []*http.Cookie{{Name: cookies.RefreshToken, Value: "R1", Path: "/"}})

	out := httptest.NewRequest(http.MethodGet, baseURL+"/api/x", nil)
	creds.Apply(out)
	c, err := out.Cookie(cookies.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "R1", c.Value)

	other := httptest.NewRequest(http.MethodGet, "http://other.test/api/x", nil)
	creds.Apply(other)
	assert.Empty(t, other.Cookies())

	_, _, ok := creds.RefreshCredentials()
	assert.False(t, ok)
	assert.Same(t, DefaultClientCredentials(), DefaultClientCredentials())
}

func TestClientFetcherStoresRefreshedCookies(t *testing.T) {
	tr := mock.New().
		On("/api/me", mock.NoAccessToken(), mock.OK(`{"id":7}`)).
		On(resilientfetch.DefaultRefreshEndpoint, mock.Refreshed("T2", "access_token=T2; Path=/", "csrftoken=C2; Path=/"))

	creds := NewClientCredentials()
	u, _ := url.Parse(baseURL)
	creds.SetCookies(u, []*http.Cookie{{Name: cookies.RefreshToken, Value: "R1", Path: "/"}})

	cfg := fetcherConfig(tr)
	cfg.Credentials = creds
	f, err := resilientfetch.NewFetcher(cfg)
	require.NoError(t, err)

	_, err = f.RunBatch(context.Background(), []*resilientfetch.NormalizedRequest{resilientfetch.NewGetRequest("/api/me")})
	require.NoError(t, err)

	refreshReq := tr.Requests(resilientfetch.DefaultRefreshEndpoint)[0]
	assert.Empty(t, refreshReq.Header.Get(resilientfetch.CSRFHeader))
	rc, err := refreshReq.Cookie(cookies.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "R1", rc.Value)

	names := map[string]string{}
	for _, c := range creds.Cookies(u) {
		names[c.Name] = c.Value
	}
	assert.Equal(t, map[string]string{"refresh_token": "R1", "access_token": "T2", "csrftoken": "C2"}, names)
}

func TestSetCookieRelayPostsCookies(t *testing.T) {
	tr := mock.New().On(DefaultSetCookieEndpoint, mock.OK(`{"message":"set cookie successful"}`))
	f, err := resilientfetch.NewFetcher(fetcherConfig(tr))
	require.NoError(t, err)

	relay := NewSetCookieRelay(f, "", nil)
	err = relay.Relay(context.Background(), []*http.Cookie{
		{Name: cookies.AccessToken, Value: "T2", Path: "/", HttpOnly: true, MaxAge: 300},
	})
	require.NoError(t, err)

	reqs := tr.Requests(DefaultSetCookieEndpoint)
	require.Len(t, reqs, 1)
	body, err := io.ReadAll(reqs[0].Body)
	require.NoError(t, err)

	var got setCookieRequest
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got.SetCookies, 1)
	assert.Equal(t, cookies.AccessToken, got.SetCookies[0].Name)
	assert.Equal(t, "300", got.SetCookies[0].Attributes.MaxAge)
	assert.True(t, got.SetCookies[0].Attributes.HTTPOnly)
}

func TestSetCookieRelayNothingToSend(t *testing.T) {
	tr := mock.New()
	f, err := resilientfetch.NewFetcher(fetcherConfig(tr))
	require.NoError(t, err)

	require.NoError(t, NewSetCookieRelay(f, "", nil).Relay(context.Background(), nil))
	assert.Equal(t, 0, tr.Calls(DefaultSetCookieEndpoint))
}

func TestSetCookieRelayFailures(t *testing.T) {
	tr := mock.New().
		On("/bad", mock.JSON(http.StatusBadRequest, `{"error":"invalid request"}`)).
		On("/down", mock.ServerError())
	f, err := resilientfetch.NewFetcher(fetcherConfig(tr))
	require.NoError(t, err)
	cs := []*http.Cookie{{Name: cookies.AccessToken, Value: "T2"}}

	err = NewSetCookieRelay(f, "/bad", nil).Relay(context.Background(), cs)
	assert.ErrorIs(t, err, resilientfetch.ErrTerminal)
	assert.Equal(t, 1, tr.Calls("/bad"))

	err = NewSetCookieRelay(f, "/down", nil).Relay(context.Background(), cs)
	assert.ErrorIs(t, err, resilientfetch.ErrRetryExhausted)
	assert.Equal(t, 3, tr.Calls("/down"))
}

func TestSetCookieRelayDeduplicatesConcurrentCalls(t *testing.T) {
	release := make(chan struct{})
	tr := mock.New().On(DefaultSetCookieEndpoint, mock.Response{StatusCode: http.StatusOK, Body: `{}`, Wait: release})
	f, err := resilientfetch.NewFetcher(fetcherConfig(tr))
	require.NoError(t, err)
	relay := NewSetCookieRelay(f, "", nil)
	cs := []*http.Cookie{{Name: cookies.AccessToken, Value: "T2"}}

	const n = 5
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			assert.NoError(t, relay.Relay(context.Background(), cs))
		}()
	}

	require.Eventually(t, func() bool { return tr.Calls(DefaultSetCookieEndpoint) == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, 1, tr.Calls(DefaultSetCookieEndpoint))
}
