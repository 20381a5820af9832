package collector

import "fmt"

// FeedFetchError means the remote address feed could not be read: it was
// unreachable after retries or answered with a non-success status.
type FeedFetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FeedFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("collector: feed %s returned status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("collector: feed %s unreachable: %v", e.URL, e.Err)
}

func (e *FeedFetchError) Unwrap() error { return e.Err }

// NoAddressesError means no valid address survived validation.
type NoAddressesError struct {
	Source Source
}

func (e *NoAddressesError) Error() string {
	return fmt.Sprintf("collector: no valid addresses from %s source", e.Source)
}

// ResolutionError means a hostname entry could not be resolved. It only
// excludes that entry.
type ResolutionError struct {
	Name string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("collector: resolve %q: %v", e.Name, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }
