package resilientfetch

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrAuthMissing      = errors.New("no access token in request")
	ErrAuthInvalid      = errors.New("access token invalid")
	ErrTransient        = errors.New("transient fetch failure")
	ErrTerminal         = errors.New("data fetch error")
	ErrRetryExhausted   = errors.New("fetch retry over")
	ErrRefreshExhausted = errors.New("refresh token retry over")
)

// FetchError is returned by every failing fetch operation. Kind matches one of the
// package sentinels through errors.Is.
type FetchError struct {
	Kind       OutcomeKind
	Endpoint   string
	StatusCode int
	Attempts   int
	Response   *NormalizedResponse
	Err        error
}

func (e *FetchError) Error() string {
	msg := e.sentinel().Error()
	switch {
	case e.StatusCode != 0:
		msg = fmt.Sprintf("%s (%s - %s(%d))", msg, e.Endpoint, http.StatusText(e.StatusCode), e.StatusCode)
	case e.Endpoint != "":
		msg = fmt.Sprintf("%s (%s)", msg, e.Endpoint)
	}
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s after %d attempts", msg, e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *FetchError) sentinel() error {
	switch e.Kind {
	case OutcomeAuthMissing:
		return ErrAuthMissing
	case OutcomeAuthInvalid:
		return ErrAuthInvalid
	case OutcomeTransientFailure:
		return ErrTransient
	case OutcomeRetryExhausted:
		return ErrRetryExhausted
	case OutcomeRefreshExhausted:
		return ErrRefreshExhausted
	default:
		return ErrTerminal
	}
}

// KindOf returns the kind of the outermost *FetchError in err's chain. Errors that
// carry no FetchError are terminal.
func KindOf(err error) OutcomeKind {
	if err == nil {
		return OutcomeSuccess
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return OutcomeTerminalFailure
}

// NeedsReauth reports whether err should send the user back to the login flow rather
// than to a generic failure page.
func NeedsReauth(err error) bool {
	switch KindOf(err) {
	case OutcomeAuthInvalid, OutcomeRefreshExhausted:
		return true
	}
	return false
}

// StatusOf returns the first HTTP status code found in err's chain, or 0.
func StatusOf(err error) int {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if fe, ok := e.(*FetchError); ok && fe.StatusCode != 0 {
			return fe.StatusCode
		}
	}
	return 0
}
