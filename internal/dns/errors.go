package dns

import (
	"fmt"
	"strings"
)

// StoreAPIError is an application-level rejection returned by the record
// store, such as a validation error or "record already exists". It is never
// retried.
type StoreAPIError struct {
	Op       string
	Status   int
	Messages []string
}

func (e *StoreAPIError) Error() string {
	msg := strings.Join(e.Messages, "; ")
	if msg == "" {
		msg = "no error detail"
	}
	return fmt.Sprintf("%s: record store rejected request (status %d): %s", e.Op, e.Status, msg)
}

// StoreUnavailableError means the record store could not be reached within
// the retry budget.
type StoreUnavailableError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s: record store unavailable after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }
