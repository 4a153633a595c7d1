package orderapi

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound         = errors.New("order not found")
	ErrAlreadyCancelled = errors.New("order already cancelled")
	ErrPolicyRejected   = errors.New("cancellation rejected by policy")
	// ErrTransport covers connection failures and timeouts: the store may
	// or may not have processed the request.
	ErrTransport = errors.New("order store unreachable")
)

// APIError is a non-success HTTP answer from the order store.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: order store returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: order store returned %d: %s", e.Op, e.StatusCode, e.Message)
}

// Is maps well-known status codes to the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrAlreadyCancelled:
		return e.StatusCode == http.StatusConflict
	case ErrPolicyRejected:
		return e.StatusCode == http.StatusForbidden
	}
	return false
}

// TransportError wraps a failure to get any answer from the store.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }
