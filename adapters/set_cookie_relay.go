package adapters

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	resilientfetch "github.com/opengovern/resilient-fetch"
	"github.com/opengovern/resilient-fetch/cookies"
)

// DefaultSetCookieEndpoint is the gateway route that turns relayed cookies into
// Set-Cookie headers.
const DefaultSetCookieEndpoint = "/api/auth/set-cookie"

type setCookieRequest struct {
	SetCookies []cookies.Cookie `json:"setCookies"`
}

// SetCookieRelay hands cookies issued during a server-side refresh to the client by
// posting them to the set-cookie route. Concurrent relays share one request, like
// token refreshes do.
type SetCookieRelay struct {
	endpoint  string
	transport *resilientfetch.HTTPTransport
	executor  *resilientfetch.RequestExecutor
	logger    *zap.Logger

	group singleflight.Group
}

// NewSetCookieRelay builds a relay that reuses f's transport and retry policy.
func NewSetCookieRelay(f *resilientfetch.Fetcher, endpoint string, logger *zap.Logger) *SetCookieRelay {
	if endpoint == "" {
		endpoint = DefaultSetCookieEndpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SetCookieRelay{
		endpoint:  endpoint,
		transport: f.Transport(),
		executor:  f.Executor(),
		logger:    logger,
	}
}

// Relay posts cs to the set-cookie route. 4xx responses fail immediately; transient
// failures are retried and end in a RetryExhausted error.
func (r *SetCookieRelay) Relay(ctx context.Context, cs []*http.Cookie) error {
	if len(cs) == 0 {
		return nil
	}
	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan("set-cookie", func() (any, error) {
		return nil, r.relay(detached, cs)
	})
	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for cookie relay: %w", ctx.Err())
	case res := <-ch:
		return res.Err
	}
}

func (r *SetCookieRelay) relay(ctx context.Context, cs []*http.Cookie) error {
	req := &resilientfetch.NormalizedRequest{
		Method:   http.MethodPost,
		Endpoint: r.endpoint,
		Body:     setCookieRequest{SetCookies: cookies.FromHTTPList(cs)},
	}
	_, err := r.executor.ExecuteWithRetry(ctx, "cookie set", func(ctx context.Context) (*resilientfetch.NormalizedResponse, error) {
		return r.transport.Send(ctx, req, nil)
	})
	if err != nil {
		r.logger.Warn("cookie relay failed", zap.Int("cookies", len(cs)), zap.Error(err))
		return err
	}
	r.logger.Debug("cookies relayed", zap.Int("cookies", len(cs)))
	return nil
}
