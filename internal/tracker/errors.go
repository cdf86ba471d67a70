package tracker

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict signals a uniqueness violation, e.g. a duplicate (user, url).
	ErrConflict = errors.New("record already exists")
	// ErrFetch is matched by every *FetchError.
	ErrFetch = errors.New("fetch failed")
	// ErrPersistence wraps storage write failures.
	ErrPersistence = errors.New("persistence failed")
	// ErrEndpointGone is returned when a push service reports 404/410.
	ErrEndpointGone = errors.New("push endpoint gone")
	// ErrInvalidInput marks caller mistakes that map to a client error.
	ErrInvalidInput = errors.New("invalid input")
	// ErrBusy is returned when a batch refresh is already in progress.
	ErrBusy = errors.New("refresh already running")
)

// FetchError reports that a page did not render as expected.
type FetchError struct {
	URL        string
	StatusCode int
	Reason     string
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Reason)
	}
}

// Unwrap exposes the underlying transport error, if any.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrFetch) true for any FetchError.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetch
}

// Temporary reports whether retrying the fetch could plausibly succeed.
func (e *FetchError) Temporary() bool {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= http.StatusInternalServerError:
		return true
	case e.StatusCode != 0:
		return false
	default:
		return e.Err != nil
	}
}

// PersistenceError wraps err so that errors.Is(err, ErrPersistence) holds.
func PersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// InvalidInput builds a client-facing validation error.
func InvalidInput(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
