package client

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"robottelo/pkg/logging"
)

// retrying repeats only the read-only calls of the wrapped client.
type retrying struct {
	Client
	attempts int
	delay    time.Duration
}

// WithRetry wraps c so that Search and Read are retried up to attempts times
// on retryable errors, doubling delay between tries. Mutating calls go
// straight through.
func WithRetry(c Client, attempts int, delay time.Duration) Client {
	if attempts < 1 {
		attempts = 1
	}
	return &retrying{Client: c, attempts: attempts, delay: delay}
}

func (r *retrying) Search(ctx context.Context, kind Kind, query string) ([]*Entity, error) {
	var out []*Entity
	err := r.retry(ctx, "search", kind, func(ctx context.Context) error {
		var err error
		out, err = r.Client.Search(ctx, kind, query)
		return err
	})
	return out, err
}

func (r *retrying) Read(ctx context.Context, kind Kind, id int) (*Entity, error) {
	var out *Entity
	err := r.retry(ctx, "read", kind, func(ctx context.Context) error {
		var err error
		out, err = r.Client.Read(ctx, kind, id)
		return err
	})
	return out, err
}

func (r *retrying) retry(ctx context.Context, op string, kind Kind, call func(context.Context) error) error {
	var lastErr error
	attempt := 0
	backoff := wait.Backoff{Duration: r.delay, Factor: 2, Steps: r.attempts}
	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		attempt++
		lastErr = call(ctx)
		if lastErr == nil {
			return true, nil
		}
		if !IsRetryable(lastErr) {
			return false, lastErr
		}
		logging.Debug("RESTClient", "%s %s failed (attempt %d/%d): %v", op, kind, attempt, r.attempts, lastErr)
		return false, nil
	})
	if err != nil && lastErr != nil {
		return lastErr
	}
	return err
}
