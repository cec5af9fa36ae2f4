package resilientfetch

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// NormalizedRequest describes one request of a batch. Endpoint is either an absolute
// URL or a path relative to the Fetcher base URL.
type NormalizedRequest struct {
	Method   string
	Endpoint string
	Headers  map[string]string
	Body     any
	Cache    string
}

type NormalizedResponse struct {
	StatusCode int
	Headers    http.Header
	Data       []byte
}

// Decode unmarshals the JSON response body into v.
func (r *NormalizedResponse) Decode(v any) error {
	if r == nil || len(r.Data) == 0 {
		return fmt.Errorf("empty response body")
	}
	return json.Unmarshal(r.Data, v)
}

// NewGetRequest builds a GET descriptor for endpoint.
func NewGetRequest(endpoint string) *NormalizedRequest {
	return &NormalizedRequest{Method: http.MethodGet, Endpoint: endpoint}
}

// BatchResult holds the responses of a batch in request order. SetCookies carries the
// session cookies issued by the refresh endpoint and is empty unless the batch had to
// refresh its access token.
type BatchResult struct {
	Responses  []*NormalizedResponse
	SetCookies []*http.Cookie
	Refreshed  bool
}
