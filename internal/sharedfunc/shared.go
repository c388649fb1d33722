package sharedfunc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"robottelo/internal/settings"
	"robottelo/pkg/logging"
)

// ErrWaitTimeout is returned when no worker published a result before the
// lock timeout elapsed.
var ErrWaitTimeout = errors.New("timed out waiting for shared result")

// SharedCallError carries the failure reported by the worker that computed
// the shared result.
type SharedCallError struct {
	Key     string
	Message string
}

func (e *SharedCallError) Error() string {
	return fmt.Sprintf("shared call %s failed: %s", e.Key, e.Message)
}

// Options controls Shared.
type Options struct {
	Enabled      bool
	LockTimeout  time.Duration
	ShareTimeout time.Duration
	// Retries is the number of extra attempts after a failed call.
	Retries int
}

// OptionsFromSettings maps the shared_function section.
func OptionsFromSettings(cfg settings.SharedFunction) Options {
	return Options{
		Enabled:      cfg.Enabled,
		LockTimeout:  time.Duration(cfg.LockTimeout) * time.Second,
		ShareTimeout: time.Duration(cfg.ShareTimeout) * time.Second,
		Retries:      cfg.CallRetries,
	}
}

type entry struct {
	Status string `yaml:"status"`
	Value  string `yaml:"value,omitempty"`
	Error  string `yaml:"error,omitempty"`
}

const (
	statusDone   = "done"
	statusFailed = "failed"
)

var group singleflight.Group

// Shared runs fn once across every worker using the same storage and key.
// The worker that wins the lock computes and stores the result; the others
// wait for it and decode their copy. When sharing is disabled fn runs
// directly.
func Shared[T any](ctx context.Context, st Storage, key string, opts Options, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if !opts.Enabled || st == nil {
		return fn(ctx)
	}
	raw, err, _ := group.Do(fmt.Sprintf("%p/%s", st, key), func() (any, error) {
		return share(ctx, st, key, opts, func(ctx context.Context) (string, error) {
			v, err := fn(ctx)
			if err != nil {
				return "", err
			}
			out, err := yaml.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("failed to encode shared result: %w", err)
			}
			return string(out), nil
		})
	})
	if err != nil {
		return zero, err
	}
	var out T
	if err := yaml.Unmarshal([]byte(raw.(string)), &out); err != nil {
		return zero, fmt.Errorf("failed to decode shared result %s: %w", key, err)
	}
	return out, nil
}

func share(ctx context.Context, st Storage, key string, opts Options, call func(context.Context) (string, error)) (string, error) {
	resultKey := key + ":result"
	lockKey := key + ":lock"
	lockTTL := opts.LockTimeout
	if lockTTL <= 0 {
		lockTTL = time.Hour
	}
	deadline := time.Now().Add(lockTTL)
	owner := uuid.NewString()

	for {
		if raw, err := st.Get(ctx, resultKey); err == nil {
			var e entry
			if err := yaml.Unmarshal(raw, &e); err != nil {
				return "", fmt.Errorf("corrupt shared result %s: %w", key, err)
			}
			if e.Status == statusFailed {
				return "", &SharedCallError{Key: key, Message: e.Error}
			}
			return e.Value, nil
		} else if !errors.Is(err, ErrNotFound) {
			return "", err
		}

		won, err := st.SetNX(ctx, lockKey, []byte(owner), lockTTL)
		if err != nil {
			return "", err
		}
		if won {
			return compute(ctx, st, key, resultKey, lockKey, opts, call)
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: %s", ErrWaitTimeout, key)
		}
		if err := st.Wait(ctx, resultKey); err != nil {
			return "", err
		}
	}
}

func compute(ctx context.Context, st Storage, key, resultKey, lockKey string, opts Options, call func(context.Context) (string, error)) (string, error) {
	defer func() {
		if err := st.Delete(context.WithoutCancel(ctx), lockKey); err != nil {
			logging.Warn("SharedFunction", "Failed to release lock for %s: %v", key, err)
		}
	}()

	var (
		value string
		err   error
	)
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if value, err = call(ctx); err == nil {
			break
		}
		logging.Warn("SharedFunction", "Call %s failed (attempt %d/%d): %v", key, attempt+1, opts.Retries+1, err)
		if ctx.Err() != nil {
			break
		}
	}

	e := entry{Status: statusDone, Value: value}
	if err != nil {
		e = entry{Status: statusFailed, Error: err.Error()}
	}
	raw, mErr := yaml.Marshal(&e)
	if mErr != nil {
		return "", mErr
	}
	if sErr := st.Set(context.WithoutCancel(ctx), resultKey, raw, opts.ShareTimeout); sErr != nil {
		logging.Error("SharedFunction", sErr, "Failed to store shared result for %s", key)
	}
	if err != nil {
		return "", err
	}
	logging.Debug("SharedFunction", "Computed shared result for %s", key)
	return value, nil
}
