package resilientfetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

var absoluteURL = regexp.MustCompile(`(?i)^(?:[a-z]+:)?//`)

// HTTPTransport performs exactly one HTTP exchange per Send and classifies the result.
// It never retries.
type HTTPTransport struct {
	baseURL     string
	client      Doer
	credentials CredentialSource
	logger      *zap.Logger
	maxBody     int64
}

func NewHTTPTransport(baseURL string, client Doer, credentials CredentialSource, logger *zap.Logger) *HTTPTransport {
	if credentials == nil {
		credentials = NoCredentials{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPTransport{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      client,
		credentials: credentials,
		logger:      logger,
		maxBody:     DefaultMaxResponseBytes,
	}
}

// Resolve turns endpoint into an absolute URL using the transport base URL.
func (t *HTTPTransport) Resolve(endpoint string) string {
	if absoluteURL.MatchString(endpoint) || t.baseURL == "" {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return t.baseURL + endpoint
}

// Send issues req once. token, when non-nil, is sent as a bearer credential. Any
// non-success outcome is returned as a *FetchError alongside the response, if any.
func (t *HTTPTransport) Send(ctx context.Context, req *NormalizedRequest, token *oauth2.Token) (*NormalizedResponse, error) {
	httpReq, err := t.build(ctx, req, token)
	if err != nil {
		return nil, &FetchError{Kind: OutcomeTerminalFailure, Endpoint: req.Endpoint, Err: err}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		t.logger.Debug("request failed", zap.String("method", httpReq.Method), zap.String("endpoint", req.Endpoint), zap.Error(err))
		return nil, Classify(nil, err).AsError(req.Endpoint)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody+1))
	if err != nil {
		return nil, Classify(nil, fmt.Errorf("read response body: %w", err)).AsError(req.Endpoint)
	}
	if int64(len(data)) > t.maxBody {
		return nil, &FetchError{
			Kind:       OutcomeTerminalFailure,
			Endpoint:   req.Endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("response body exceeds %d bytes", t.maxBody),
		}
	}

	normalized := &NormalizedResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Data:       data,
	}
	outcome := Classify(normalized, nil)
	t.logger.Debug("response received",
		zap.String("method", httpReq.Method),
		zap.String("endpoint", req.Endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Stringer("outcome", outcome.Kind))
	return normalized, outcome.AsError(req.Endpoint)
}

func (t *HTTPTransport) build(ctx context.Context, req *NormalizedRequest, token *oauth2.Token) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, t.Resolve(req.Endpoint), body)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if token != nil && token.AccessToken != "" {
		token.SetAuthHeader(httpReq)
	}
	if cc := cacheControl(req.Cache); cc != "" {
		httpReq.Header.Set("Cache-Control", cc)
	}
	t.credentials.Apply(httpReq)
	return httpReq, nil
}

func encodeBody(body any) (io.Reader, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return bytes.NewReader(b), nil
	case json.RawMessage:
		return bytes.NewReader(b), nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		return bytes.NewReader(data), nil
	}
}

// cacheControl maps fetch-style cache modes onto a Cache-Control request header.
func cacheControl(mode string) string {
	switch mode {
	case "", "no-cache", "reload":
		return "no-cache"
	case "no-store":
		return "no-store"
	default:
		return ""
	}
}
