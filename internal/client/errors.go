package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrNotFound is wrapped by errors for entities that do not exist.
	ErrNotFound = errors.New("entity not found")
	// ErrTransient marks failures worth retrying on idempotent calls.
	ErrTransient = errors.New("transient remote failure")
)

// RemoteOperationError is any failure reported by the server or transport.
type RemoteOperationError struct {
	Op         string
	Kind       Kind
	ID         int
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteOperationError) Error() string {
	target := string(e.Kind)
	if e.ID != 0 {
		target = fmt.Sprintf("%s/%d", e.Kind, e.ID)
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s failed (HTTP %d): %s", e.Op, target, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Op, target, msg)
}

func (e *RemoteOperationError) Unwrap() error {
	return e.Err
}

// Is matches ErrNotFound for 404 responses even when Err is unset.
func (e *RemoteOperationError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// NotFound builds the error returned for a missing entity.
func NotFound(op string, kind Kind, id int) error {
	return &RemoteOperationError{Op: op, Kind: kind, ID: id, StatusCode: http.StatusNotFound, Err: ErrNotFound}
}

// IsRetryable reports whether a failed idempotent call may be repeated.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var remote *RemoteOperationError
	if errors.As(err, &remote) {
		return remote.StatusCode == http.StatusTooManyRequests || remote.StatusCode >= 500
	}
	return false
}
