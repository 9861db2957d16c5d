// =============================================================================
// Merchant Analytics - CRM Errors
// =============================================================================
//
// RetryableError: 429, 5xx, timeouts and network failures
// FatalError:     any other 4xx and undecodable responses
//
// =============================================================================

package crm

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is returned without calling the API while the breaker is open.
var ErrCircuitOpen = errors.New("crm circuit breaker is open")

// RetryableError is a transient failure: a network error, a timeout or a
// 5xx response.
type RetryableError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *RetryableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("crm %s: retryable status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("crm %s: retryable: %v", e.Endpoint, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError is a failure that retrying cannot fix, such as a 4xx response
// or an undecodable body.
type FatalError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *FatalError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("crm %s: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("crm %s: %v", e.Endpoint, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsFatal reports whether err is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
