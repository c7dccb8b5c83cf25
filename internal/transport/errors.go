package transport

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitedError is the transport telling us to back off for Wait before
// retrying the exact same call. Callers wait it out; it is never fatal.
type RateLimitedError struct {
	Wait time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.Wait)
}

// AsRateLimited extracts the rate-limit signal carrying the wait duration.
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// AuthError means the session's credentials are no longer valid.
// The owning session moves to failed and takes no further work.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authorization failed: %s", e.Reason)
}

func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// ForbiddenError means the channel is private or the session lacks access.
// The containing batch is marked invalid and the run continues.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Reason)
}

func IsForbidden(err error) bool {
	var fe *ForbiddenError
	return errors.As(err, &fe)
}

// TransientError wraps a failure that is worth retrying a bounded number
// of times (network resets, timeouts, internal server errors).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
