package resilientfetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/opengovern/resilient-fetch/cookies"
	"github.com/opengovern/resilient-fetch/utils"
)

// CSRFHeader carries the CSRF token on state-changing requests.
const CSRFHeader = "X-CSRFToken"

const refreshFlight = "refresh"

// RefreshResult is what a successful refresh hands to every waiter.
type RefreshResult struct {
	Token      *oauth2.Token
	SetCookies []*http.Cookie
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
}

// RefreshCoordinator mints access tokens from the refresh credentials of its
// CredentialSource. At most one refresh call is in flight at any time: callers that
// arrive while one is running wait for its result instead of issuing another.
type RefreshCoordinator struct {
	endpoint    string
	transport   *HTTPTransport
	executor    *RequestExecutor
	credentials CredentialSource
	logger      *zap.Logger

	group singleflight.Group
}

func NewRefreshCoordinator(endpoint string, transport *HTTPTransport, executor *RequestExecutor, credentials CredentialSource, logger *zap.Logger) *RefreshCoordinator {
	if credentials == nil {
		credentials = NoCredentials{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefreshCoordinator{
		endpoint:    endpoint,
		transport:   transport,
		executor:    executor,
		credentials: credentials,
		logger:      logger,
	}
}

// Refresh returns a fresh access token. It fails with AuthInvalid when the refresh
// credentials are rejected and with RefreshExhausted when every attempt failed
// transiently. The shared refresh keeps running if ctx is cancelled; only this
// caller stops waiting.
func (c *RefreshCoordinator) Refresh(ctx context.Context) (*RefreshResult, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(refreshFlight, func() (any, error) {
		return c.refresh(detached)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for token refresh: %w", ctx.Err())
	case res := <-ch:
		if res.Shared {
			c.logger.Debug("joined in-flight token refresh")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*RefreshResult), nil
	}
}

func (c *RefreshCoordinator) refresh(ctx context.Context) (*RefreshResult, error) {
	req := &NormalizedRequest{
		Method:   http.MethodPost,
		Endpoint: c.endpoint,
		Headers:  map[string]string{},
	}
	if refreshToken, csrf, ok := c.credentials.RefreshCredentials(); ok {
		req.Headers[CSRFHeader] = csrf
		req.Body = map[string]string{"refresh": refreshToken}
	}

	c.logger.Debug("refreshing access token", zap.String("endpoint", c.endpoint))
	resp, err := c.executor.ExecuteWithRetry(ctx, "token refresh", func(ctx context.Context) (*NormalizedResponse, error) {
		// The expired access token is never sent to the refresh endpoint.
		return c.transport.Send(ctx, req, nil)
	})
	if err != nil {
		switch KindOf(err) {
		case OutcomeRetryExhausted:
			return nil, &FetchError{Kind: OutcomeRefreshExhausted, Endpoint: c.endpoint, StatusCode: StatusOf(err), Err: err}
		case OutcomeAuthMissing:
			// Any 401 from the refresh endpoint means the refresh token was rejected.
			return nil, &FetchError{Kind: OutcomeAuthInvalid, Endpoint: c.endpoint, StatusCode: StatusOf(err), Err: err}
		}
		return nil, err
	}

	var body refreshResponse
	if err := resp.Decode(&body); err != nil || body.AccessToken == "" {
		return nil, &FetchError{
			Kind:       OutcomeAuthInvalid,
			Endpoint:   c.endpoint,
			StatusCode: resp.StatusCode,
			Response:   resp,
			Err:        fmt.Errorf("refresh response carries no access token"),
		}
	}

	token := &oauth2.Token{AccessToken: body.AccessToken, TokenType: "Bearer"}
	if claims, err := utils.ParseClaims(body.AccessToken); err == nil {
		if claims.Expired() {
			return nil, &FetchError{
				Kind:       OutcomeAuthInvalid,
				Endpoint:   c.endpoint,
				StatusCode: resp.StatusCode,
				Response:   resp,
				Err:        fmt.Errorf("refresh issued an access token that expired at %s", claims.ExpiresAt.Format(time.RFC3339)),
			}
		}
		token.Expiry = claims.ExpiresAt
	} else {
		c.logger.Debug("access token is not a readable JWT", zap.Error(err))
	}

	setCookies := cookies.ParseSetCookie(resp.Headers.Values("Set-Cookie"))
	if sink, ok := c.credentials.(CookieSink); ok && len(setCookies) > 0 {
		if u, err := url.Parse(c.transport.Resolve(c.endpoint)); err == nil {
			sink.SetCookies(u, setCookies)
		}
	}

	c.logger.Debug("access token refreshed", zap.Int("set_cookies", len(setCookies)), zap.Time("expiry", token.Expiry))
	return &RefreshResult{Token: token, SetCookies: setCookies}, nil
}
