package mock

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	resilientfetch "github.com/opengovern/resilient-fetch"
)

// ErrNetwork is returned by Network responses.
var ErrNetwork = errors.New("mock: connection refused")

// Response is one scripted reply. Err makes the round trip fail without a response.
type Response struct {
	StatusCode int
	Body       string
	Headers    http.Header
	Err        error
	Delay      time.Duration   // Sleep before answering
	Wait       <-chan struct{} // Block until closed before answering
}

// Transport is a scripted http.RoundTripper keyed by URL path. Each path replays its
// responses in order and repeats the last one once the script is used up. Unknown
// paths answer 404.
type Transport struct {
	mu       sync.Mutex
	scripts  map[string][]Response
	handlers map[string]func(*http.Request) Response
	requests map[string][]*http.Request
}

func New() *Transport {
	return &Transport{
		scripts:  make(map[string][]Response),
		handlers: make(map[string]func(*http.Request) Response),
		requests: make(map[string][]*http.Request),
	}
}

// On scripts the responses for path.
func (t *Transport) On(path string, responses ...Response) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scripts[path] = append(t.scripts[path], responses...)
	return t
}

// OnFunc answers path with fn, taking precedence over scripted responses.
func (t *Transport) OnFunc(path string, fn func(*http.Request) Response) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[path] = fn
	return t
}

// Client returns an *http.Client that uses the transport.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	path := req.URL.Path
	recorded := req.Clone(req.Context())
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		_ = req.Body.Close()
		recorded.Body = io.NopCloser(bytes.NewReader(data))
	}

	t.mu.Lock()
	t.requests[path] = append(t.requests[path], recorded)
	handler := t.handlers[path]
	var r Response
	switch script := t.scripts[path]; {
	case handler != nil:
	case len(script) == 0:
		r = Response{StatusCode: http.StatusNotFound, Body: `{"detail":"Not found."}`}
	case len(script) == 1:
		r = script[0]
	default:
		r = script[0]
		t.scripts[path] = script[1:]
	}
	t.mu.Unlock()

	if handler != nil {
		r = handler(recorded)
	}

	if r.Wait != nil {
		select {
		case <-r.Wait:
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}
	if r.Err != nil {
		return nil, r.Err
	}

	headers := http.Header{"Content-Type": []string{"application/json"}}
	for k, vs := range r.Headers {
		headers[k] = append([]string(nil), vs...)
	}
	return &http.Response{
		StatusCode: r.StatusCode,
		Status:     http.StatusText(r.StatusCode),
		Header:     headers,
		Body:       io.NopCloser(bytes.NewBufferString(r.Body)),
		Request:    req,
	}, nil
}

// Calls returns how many requests reached path.
func (t *Transport) Calls(path string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests[path])
}

// Requests returns the recorded requests for path, bodies readable.
func (t *Transport) Requests(path string) []*http.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*http.Request(nil), t.requests[path]...)
}

// JSON answers status with body.
func JSON(status int, body string) Response {
	return Response{StatusCode: status, Body: body}
}

// OK answers 200 with body.
func OK(body string) Response {
	return JSON(http.StatusOK, body)
}

// NoAccessToken answers the 401 the origin sends when no token was supplied.
func NoAccessToken() Response {
	return JSON(http.StatusUnauthorized, `{"detail":"`+resilientfetch.NoAccessTokenDetail+`","code":"token_not_valid"}`)
}

// InvalidToken answers the 401 the origin sends for a rejected token.
func InvalidToken() Response {
	return JSON(http.StatusUnauthorized, `{"detail":"Given token not valid for any token type","code":"token_not_valid"}`)
}

// ServerError answers 500.
func ServerError() Response {
	return JSON(http.StatusInternalServerError, `{"detail":"A server error occurred."}`)
}

// Network fails the round trip without a response.
func Network() Response {
	return Response{Err: ErrNetwork}
}

// Refreshed answers a successful refresh issuing token and the given Set-Cookie lines.
func Refreshed(token string, setCookies ...string) Response {
	return Response{
		StatusCode: http.StatusOK,
		Body:       `{"message":"access token refresh successful","access_token":"` + token + `"}`,
		Headers:    http.Header{"Set-Cookie": setCookies},
	}
}
