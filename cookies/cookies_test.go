package cookies

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSetCookieFoldedHeader(t *testing.T) {
	folded := "access_token=T2; Expires=Wed, 21 Oct 2026 07:28:00 GMT; Path=/; HttpOnly, refresh_token=R2; Path=/; Max-Age=3600"

	cs := ParseSetCookie([]string{folded})
	require.Len(t, cs, 2)

	assert.Equal(t, "access_token", cs[0].Name)
	assert.Equal(t, "T2", cs[0].Value)
	assert.True(t, cs[0].HttpOnly)
	assert.Equal(t, time.Date(2026, time.October, 21, 7, 28, 0, 0, time.UTC), cs[0].Expires.UTC())

	assert.Equal(t, "refresh_token", cs[1].Name)
	assert.Equal(t, 3600, cs[1].MaxAge)
}

func TestParseSetCookieSeparateHeaders(t *testing.T) {
	cs := ParseSetCookie([]string{
		"csrftoken=C2; Path=/; SameSite=Lax",
		"user_id=7; Path=/",
		"garbage",
		"",
	})
	require.Len(t, cs, 2)
	assert.Equal(t, "csrftoken", cs[0].Name)
	assert.Equal(t, http.SameSiteLaxMode, cs[0].SameSite)
	assert.Equal(t, "user_id", cs[1].Name)
}

func TestParseSetCookieNone(t *testing.T) {
	assert.Empty(t, ParseSetCookie(nil))
}

func TestCookieJSONForm(t *testing.T) {
	c := FromHTTP(&http.Cookie{
		Name:     RefreshToken,
		Value:    "R2",
		Path:     "/",
		Domain:   "example.test",
		MaxAge:   3600,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"name": "refresh_token",
		"value": "R2",
		"attributes": {
			"httponly": true,
			"secure": true,
			"path": "/",
			"samesite": "Strict",
			"domain": "example.test",
			"max-age": "3600"
		}
	}`, string(data))

	back := c.ToHTTP()
	assert.Equal(t, RefreshToken, back.Name)
	assert.Equal(t, "R2", back.Value)
	assert.Equal(t, 3600, back.MaxAge)
	assert.Equal(t, http.SameSiteStrictMode, back.SameSite)
	assert.True(t, back.Secure)
	assert.True(t, back.HttpOnly)
}

func TestExpiredCookieStaysExpired(t *testing.T) {
	c := FromHTTP(&http.Cookie{Name: AccessToken, MaxAge: -1})
	assert.Equal(t, "0", c.Attributes.MaxAge)
	assert.Equal(t, -1, c.ToHTTP().MaxAge)
}

func TestExpiresSurvivesRelay(t *testing.T) {
	cs := ParseSetCookie([]string{"access_token=T2; Expires=Wed, 21 Oct 2026 07:28:00 GMT"})
	require.Len(t, cs, 1)

	relayed := FromHTTPList(cs)
	require.Len(t, relayed, 1)
	assert.Equal(t, "Wed, 21 Oct 2026 07:28:00 GMT", relayed[0].Attributes.Expires)
	assert.True(t, relayed[0].ToHTTP().Expires.Equal(cs[0].Expires))
}
