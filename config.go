// config.go
// ----------
// This file defines RetryPolicy, the exponential-backoff settings shared by every
// request, refresh and cookie relay, and FetcherConfig, which wires a Fetcher to its
// base URL, refresh endpoint, HTTP client and ambient credentials.
//
// A zero RetryPolicy in FetcherConfig selects DefaultRetryPolicy.
package resilientfetch

import (
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	DefaultRefreshEndpoint  = "/api/auth/token/refresh"
	DefaultTimeout          = 30 * time.Second
	DefaultMaxResponseBytes = 10 << 20
)

// RetryPolicy configures exponential backoff. It is immutable once built and safe to
// share between goroutines.
type RetryPolicy struct {
	MaxAttempts   int           // Total attempts, including the first one
	BackoffFactor float64       // Multiplier applied to the delay after each retry
	MinDelay      time.Duration // Delay before the first retry
	MaxDelay      time.Duration // Upper bound for any single delay
	Jitter        bool          // Randomize delays by up to +50%
}

// DefaultRetryPolicy retries three times with 0.5s, 1s and 2s pauses.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   4,
		BackoffFactor: 2,
		MinDelay:      500 * time.Millisecond,
		MaxDelay:      2 * time.Second,
	}
}

func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry policy: max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BackoffFactor <= 1 {
		return fmt.Errorf("retry policy: backoff factor must be greater than 1, got %v", p.BackoffFactor)
	}
	if p.MinDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("retry policy: delays must not be negative")
	}
	if p.MaxDelay < p.MinDelay {
		return fmt.Errorf("retry policy: max delay %v is below min delay %v", p.MaxDelay, p.MinDelay)
	}
	return nil
}

// Backoff returns the pause before retry number n (1-based):
// MinDelay * BackoffFactor^(n-1), capped at MaxDelay.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := float64(p.MinDelay) * math.Pow(p.BackoffFactor, float64(n-1))
	if p.Jitter && delay > 0 {
		delay += rand.Float64() * delay / 2
	}
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// FetcherConfig wires a Fetcher.
type FetcherConfig struct {
	BaseURL         string           // Prefix for relative endpoints
	RefreshEndpoint string           // Token refresh route; DefaultRefreshEndpoint if empty
	Retry           RetryPolicy      // DefaultRetryPolicy if zero
	Timeout         time.Duration    // Per-attempt timeout of the default HTTP client
	HTTPClient      Doer             // Overrides the default *http.Client
	Credentials     CredentialSource // Ambient credentials; none if nil
	Logger          *zap.Logger      // zap.NewNop() if nil

	DebugOutput      zapcore.WriteSyncer // Receives debug logs after SetDebug(true); stderr if nil
	MaxResponseBytes int64               // Larger response bodies fail the request; DefaultMaxResponseBytes if zero
}

func (c FetcherConfig) withDefaults() (FetcherConfig, error) {
	if c.RefreshEndpoint == "" {
		c.RefreshEndpoint = DefaultRefreshEndpoint
	}
	if c.Retry == (RetryPolicy{}) {
		c.Retry = DefaultRetryPolicy()
	}
	if err := c.Retry.Validate(); err != nil {
		return c, err
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Credentials == nil {
		c.Credentials = NoCredentials{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.DebugOutput == nil {
		c.DebugOutput = zapcore.AddSync(os.Stderr)
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = DefaultMaxResponseBytes
	}
	return c, nil
}
