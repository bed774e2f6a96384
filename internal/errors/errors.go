package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskExists   = errors.New("task already exists")

	ErrNoFiles       = errors.New("asset has no files")
	ErrNoVariant     = errors.New("asset has neither a resolution nor a blend file")
	ErrNoStorageRoot = errors.New("no usable storage root")

	ErrMissingContentLength = errors.New("response has no content length")
	ErrTruncated            = errors.New("download ended before content length was reached")
	ErrInsufficientSpace    = errors.New("not enough free disk space")
	ErrCancelled            = errors.New("download cancelled")

	ErrNoBinaryPath = errors.New("no processing executable configured")
	ErrShuttingDown = errors.New("service is shutting down")
)

// PortUnavailableError is returned when none of the preferred ports can be bound.
type PortUnavailableError struct {
	Host  string
	Ports []int
	Errs  []error
}

func (e *PortUnavailableError) Error() string {
	ports := make([]string, len(e.Ports))
	for i, p := range e.Ports {
		ports[i] = fmt.Sprint(p)
	}
	return fmt.Sprintf("all available ports are blocked on %s: [%s]", e.Host, strings.Join(ports, " "))
}

func (e *PortUnavailableError) Unwrap() []error {
	return e.Errs
}

// PathTooLongError marks a storage root skipped because the asset path exceeds the
// platform limit.
type PathTooLongError struct {
	Root  string
	Path  string
	Limit int
}

func (e *PathTooLongError) Error() string {
	return fmt.Sprintf("path %q is longer than %d characters", e.Path, e.Limit)
}

// TransportError is a network-layer failure or a malformed response while fetching
// asset bytes.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ResolveError is a failure to obtain the signed download URL from the asset server.
// Message is the text shown to the user.
type ResolveError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ResolveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve download url: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("resolve download url: %s (status %d)", e.Message, e.StatusCode)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}
