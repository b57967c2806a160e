package source

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a failed external request.
type ErrorKind string

const (
	RateLimited  ErrorKind = "rate_limited"
	Timeout      ErrorKind = "timeout"
	ServerError  ErrorKind = "server_error"
	NetworkError ErrorKind = "network_error"
)

// Retryable reports whether the Fetcher should back off and try again.
func (k ErrorKind) Retryable() bool {
	return k == RateLimited || k == Timeout
}

// ExternalServiceError is the failure of one or more attempts against the
// external service. Attempts is zero for a single raw failure returned by a
// WaySource and set by the Fetcher once it gives up.
type ExternalServiceError struct {
	Kind       ErrorKind
	StatusCode int
	Attempts   int
	Err        error
}

func (e *ExternalServiceError) Error() string {
	msg := string(e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s after %d attempts", msg, e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "external service " + msg
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// Classify converts an arbitrary transport error into an ExternalServiceError.
func Classify(err error) *ExternalServiceError {
	var ese *ExternalServiceError
	if errors.As(err, &ese) {
		return ese
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ExternalServiceError{Kind: Timeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ExternalServiceError{Kind: Timeout, Err: err}
	}
	return &ExternalServiceError{Kind: NetworkError, Err: err}
}
