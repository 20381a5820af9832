// Package retry wraps the client-go backoff helpers with the policy used for
// every outbound call: retry transport failures, never application errors.
package retry

import (
	"context"
	"errors"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"
)

// DefaultBackoff allows three attempts with 200ms and 400ms pauses between them.
var DefaultBackoff = wait.Backoff{
	Steps:    3,
	Duration: 200 * time.Millisecond,
	Factor:   2.0,
}

// TransportError marks a failure to reach the remote end or to read its reply.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// Transport wraps err as a TransportError. A nil err stays nil.
func Transport(err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Err: err}
}

// IsTransport reports whether err is, or wraps, a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// OnTransport returns a predicate that retries transport errors as long as
// ctx has not been cancelled.
func OnTransport(ctx context.Context) func(error) bool {
	return func(err error) bool {
		return ctx.Err() == nil && IsTransport(err)
	}
}

// Do calls fn until it succeeds, fails with an error retriable rejects, or the
// backoff is exhausted. It returns the last result, the number of attempts
// made and the last error.
func Do[T any](backoff wait.Backoff, retriable func(error) bool, fn func() (T, error)) (T, int, error) {
	if backoff.Steps < 1 {
		backoff.Steps = 1
	}
	var (
		result   T
		attempts int
	)
	err := retry.OnError(backoff, retriable, func() error {
		attempts++
		var err error
		result, err = fn()
		return err
	})
	return result, attempts, err
}
