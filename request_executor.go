package resilientfetch

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Operation is one attempt of a retried call.
type Operation func(ctx context.Context) (*NormalizedResponse, error)

// RequestExecutor handles retry logic and backoff. Only transient failures are
// retried; every other failure propagates on the attempt that produced it.
type RequestExecutor struct {
	policy RetryPolicy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRequestExecutor(policy RetryPolicy, logger *zap.Logger) *RequestExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestExecutor{policy: policy, logger: logger, sleep: sleepContext}
}

// Policy returns the retry policy of the executor.
func (re *RequestExecutor) Policy() RetryPolicy {
	return re.policy
}

// ExecuteWithRetry runs operation up to MaxAttempts times. When every attempt failed
// transiently it returns a RetryExhausted *FetchError wrapping the last failure.
func (re *RequestExecutor) ExecuteWithRetry(ctx context.Context, name string, operation Operation) (*NormalizedResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= re.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := re.policy.Backoff(attempt - 1)
			re.logger.Debug("retrying after backoff",
				zap.String("operation", name),
				zap.Duration("backoff", wait),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", re.policy.MaxAttempts))
			if err := re.sleep(ctx, wait); err != nil {
				return nil, &FetchError{Kind: OutcomeTerminalFailure, Endpoint: name, Attempts: attempt - 1, Err: err}
			}
		}

		resp, err := operation(ctx)
		if err == nil {
			if attempt > 1 {
				re.logger.Debug("request succeeded after retries", zap.String("operation", name), zap.Int("attempts", attempt))
			}
			return resp, nil
		}

		if KindOf(err) != OutcomeTransientFailure {
			re.logger.Debug("non-retryable failure", zap.String("operation", name), zap.Error(err))
			return resp, err
		}
		if ctx.Err() != nil {
			return resp, err
		}
		lastErr = err
	}

	re.logger.Warn("max attempts reached", zap.String("operation", name), zap.Int("attempts", re.policy.MaxAttempts), zap.Error(lastErr))
	return nil, &FetchError{
		Kind:       OutcomeRetryExhausted,
		Endpoint:   name,
		StatusCode: StatusOf(lastErr),
		Attempts:   re.policy.MaxAttempts,
		Err:        lastErr,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
