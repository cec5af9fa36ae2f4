// sdk.go
// ------
// The sdk.go file contains the Fetcher, the main entry point of the library.
//
// Key functionalities include:
// - Building a Fetcher with NewFetcher()
// - Running authenticated batches with RunBatch(), which refreshes the access token
//   once when the origin reports that no token was sent, then replays the batch
// - Plain single requests with Get() and Post()
//
// The Fetcher relies on an HTTPTransport, a RequestExecutor and a RefreshCoordinator
// so that every request shares the same retry and refresh behavior.
package resilientfetch

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/oauth2"
)

type Fetcher struct {
	logger    *zap.Logger
	transport *HTTPTransport
	executor  *RequestExecutor
	refresher *RefreshCoordinator
	state     credentialState

	debug atomic.Bool // Mirrors levels the configured logger drops to DebugOutput
}

func NewFetcher(cfg FetcherConfig) (*Fetcher, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	f := &Fetcher{}
	f.logger = cfg.Logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		debugCore := zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
			zapcore.Lock(cfg.DebugOutput),
			zap.LevelEnablerFunc(func(l zapcore.Level) bool {
				return f.debug.Load() && !core.Enabled(l)
			}),
		)
		return zapcore.NewTee(core, debugCore)
	}))

	f.transport = NewHTTPTransport(cfg.BaseURL, client, cfg.Credentials, f.logger)
	f.transport.maxBody = cfg.MaxResponseBytes
	f.executor = NewRequestExecutor(cfg.Retry, f.logger)
	f.refresher = NewRefreshCoordinator(cfg.RefreshEndpoint, f.transport, f.executor, cfg.Credentials, f.logger)
	return f, nil
}

// SetDebug enables or disables debug logging to FetcherConfig.DebugOutput. It is safe
// to call while requests are running.
func (f *Fetcher) SetDebug(enabled bool) {
	f.debug.Store(enabled)
}

// Debugging reports whether debug logging is enabled.
func (f *Fetcher) Debugging() bool {
	return f.debug.Load()
}

// AccessToken returns a copy of the token currently held in the credential state,
// or nil. It is only non-nil while a refreshed batch is running.
func (f *Fetcher) AccessToken() *oauth2.Token {
	return f.state.get()
}

// Transport exposes the transport so adapters can reuse its base URL and credentials.
func (f *Fetcher) Transport() *HTTPTransport {
	return f.transport
}

// Executor exposes the retry executor shared by the Fetcher.
func (f *Fetcher) Executor() *RequestExecutor {
	return f.executor
}

// Refresh runs (or joins) a token refresh without touching the credential state.
func (f *Fetcher) Refresh(ctx context.Context) (*RefreshResult, error) {
	return f.refresher.Refresh(ctx)
}

type batchOptions struct {
	timeout  time.Duration
	deadline time.Time
}

// BatchOption customizes a single RunBatch call.
type BatchOption func(*batchOptions)

// WithTimeout bounds the whole batch, refresh and replay included.
func WithTimeout(d time.Duration) BatchOption {
	return func(o *batchOptions) { o.timeout = d }
}

// WithDeadline bounds the whole batch by an absolute time.
func WithDeadline(t time.Time) BatchOption {
	return func(o *batchOptions) { o.deadline = t }
}

// RunBatch issues every request concurrently and returns all responses in order, or
// the first propagating failure without waiting for the other requests. When that failure says no access token was sent it
// refreshes the token once and replays the whole batch once; a second missing-token
// failure is terminal. The credential state is cleared when RunBatch returns.
func (f *Fetcher) RunBatch(ctx context.Context, reqs []*NormalizedRequest, opts ...BatchOption) (*BatchResult, error) {
	var o batchOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	if !o.deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, o.deadline)
		defer cancel()
	}
	defer f.state.reset()

	if len(reqs) == 0 {
		return &BatchResult{}, nil
	}

	responses, err := f.sendAll(ctx, reqs, f.state.get())
	if err == nil {
		return &BatchResult{Responses: responses}, nil
	}
	if KindOf(err) != OutcomeAuthMissing {
		return nil, err
	}

	f.logger.Debug("access token missing, refreshing before replay", zap.Int("requests", len(reqs)))
	refreshed, err := f.refresher.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	f.state.set(refreshed.Token)

	responses, err = f.sendAll(ctx, reqs, refreshed.Token)
	if err != nil {
		if KindOf(err) == OutcomeAuthMissing {
			return nil, &FetchError{Kind: OutcomeTerminalFailure, Endpoint: endpointOf(err), StatusCode: http.StatusUnauthorized, Err: err}
		}
		return nil, err
	}
	return &BatchResult{Responses: responses, SetCookies: refreshed.SetCookies, Refreshed: true}, nil
}

// Get sends a single GET with retry. It does not refresh the access token.
func (f *Fetcher) Get(ctx context.Context, endpoint string) (*NormalizedResponse, error) {
	return f.send(ctx, NewGetRequest(endpoint), f.state.get())
}

// Post sends a single JSON POST with retry, adding the CSRF header when csrfToken is
// set. It does not refresh the access token.
func (f *Fetcher) Post(ctx context.Context, endpoint, csrfToken string, body any) (*NormalizedResponse, error) {
	req := &NormalizedRequest{Method: http.MethodPost, Endpoint: endpoint, Body: body}
	if csrfToken != "" {
		req.Headers = map[string]string{CSRFHeader: csrfToken}
	}
	return f.send(ctx, req, f.state.get())
}

type sendResult struct {
	index int
	resp  *NormalizedResponse
	err   error
}

// sendAll issues every request concurrently. It returns as soon as one request fails;
// siblings still in flight are left to finish and their results are dropped.
func (f *Fetcher) sendAll(ctx context.Context, reqs []*NormalizedRequest, token *oauth2.Token) ([]*NormalizedResponse, error) {
	results := make(chan sendResult, len(reqs))
	for i, req := range reqs {
		go func() {
			resp, err := f.send(ctx, req, token)
			results <- sendResult{index: i, resp: resp, err: err}
		}()
	}

	responses := make([]*NormalizedResponse, len(reqs))
	for range reqs {
		r := <-results
		if r.err != nil {
			return nil, r.err
		}
		responses[r.index] = r.resp
	}
	return responses, nil
}

func (f *Fetcher) send(ctx context.Context, req *NormalizedRequest, token *oauth2.Token) (*NormalizedResponse, error) {
	name := req.Method + " " + req.Endpoint
	return f.executor.ExecuteWithRetry(ctx, name, func(ctx context.Context) (*NormalizedResponse, error) {
		return f.transport.Send(ctx, req, token)
	})
}

func endpointOf(err error) string {
	if fe, ok := err.(*FetchError); ok {
		return fe.Endpoint
	}
	return ""
}
