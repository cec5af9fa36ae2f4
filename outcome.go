package resilientfetch

import (
	"encoding/json"
	"net/http"
)

// OutcomeKind tags the result of a request attempt.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	// OutcomeAuthMissing means the origin received no access token at all.
	OutcomeAuthMissing
	// OutcomeAuthInvalid means a token was sent but rejected.
	OutcomeAuthInvalid
	OutcomeTransientFailure
	OutcomeTerminalFailure
	OutcomeRetryExhausted
	OutcomeRefreshExhausted
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeAuthMissing:
		return "auth_missing"
	case OutcomeAuthInvalid:
		return "auth_invalid"
	case OutcomeTransientFailure:
		return "transient_failure"
	case OutcomeTerminalFailure:
		return "terminal_failure"
	case OutcomeRetryExhausted:
		return "retry_exhausted"
	case OutcomeRefreshExhausted:
		return "refresh_exhausted"
	default:
		return "unknown"
	}
}

// NoAccessTokenDetail is the 401 body marker the backend sets when a request carried
// no access token. Every other 401 is treated as an invalid token.
const NoAccessTokenDetail = "No access token in request"

type errorBody struct {
	Detail string `json:"detail"`
}

// Outcome is the classification of a single transport attempt.
type Outcome struct {
	Kind     OutcomeKind
	Response *NormalizedResponse
	Cause    error
}

// Classify maps the raw result of one HTTP exchange onto an Outcome. A non-nil err
// means no response was received and is always transient.
func Classify(resp *NormalizedResponse, err error) Outcome {
	if err != nil || resp == nil {
		return Outcome{Kind: OutcomeTransientFailure, Response: resp, Cause: err}
	}

	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return Outcome{Kind: OutcomeSuccess, Response: resp}
	case code == http.StatusUnauthorized:
		var body errorBody
		if json.Unmarshal(resp.Data, &body) == nil && body.Detail == NoAccessTokenDetail {
			return Outcome{Kind: OutcomeAuthMissing, Response: resp}
		}
		return Outcome{Kind: OutcomeAuthInvalid, Response: resp}
	case code >= 500:
		return Outcome{Kind: OutcomeTransientFailure, Response: resp}
	default:
		return Outcome{Kind: OutcomeTerminalFailure, Response: resp}
	}
}

// AsError converts a failed outcome into a *FetchError for endpoint. It returns nil
// for a successful outcome.
func (o Outcome) AsError(endpoint string) error {
	if o.Kind == OutcomeSuccess {
		return nil
	}
	fe := &FetchError{Kind: o.Kind, Endpoint: endpoint, Response: o.Response, Err: o.Cause}
	if o.Response != nil {
		fe.StatusCode = o.Response.StatusCode
	}
	return fe
}
