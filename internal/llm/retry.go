package llm

import (
	"context"
	"errors"
	"time"
)

// retryClient wraps another client with bounded exponential backoff on
// transient failures. Non-transient errors and context cancellation return
// immediately.
type retryClient struct {
	inner    Client
	attempts int
	base     time.Duration
}

// WithRetry wraps c. attempts < 1 means a single try; base <= 0 picks a
// sane default.
func WithRetry(c Client, attempts int, base time.Duration) Client {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	return &retryClient{inner: c, attempts: attempts, base: base}
}

func (r *retryClient) Available() bool { return r.inner.Available() }

func (r *retryClient) Decide(ctx context.Context, req DecisionRequest) (Decision, error) {
	var lastErr error
	delay := r.base
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Decision{}, ErrTimeout
			case <-time.After(delay):
			}
			delay *= 2
		}

		dec, err := r.inner.Decide(ctx, req)
		if err == nil {
			return dec, nil
		}
		lastErr = err
		if errors.Is(err, ErrTimeout) || ctx.Err() != nil {
			return Decision{}, ErrTimeout
		}
		if !IsTransient(err) {
			return Decision{}, err
		}
	}
	return Decision{}, errors.Join(ErrUnavailable, lastErr)
}
