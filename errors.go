package tahan

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every upstream failure is absorbed internally and converted
// to a fallback response; these types drive the bookkeeping along the way.
const (
	ErrorTypeRateLimited          = "RateLimited"
	ErrorTypeServer               = "UpstreamServerError"
	ErrorTypeNetwork              = "NetworkError"
	ErrorTypeTimeout              = "Timeout"
	ErrorTypeParse                = "ParseError"
	ErrorTypeExhaustedCredentials = "ExhaustedCredentials"
	ErrorTypeBatchSplit           = "BatchSplitFailure"
	ErrorTypeQuota                = "QuotaExceeded"
	ErrorTypeValidation           = "Validation"
)

// Sentinel errors for local (non-upstream) refusals.
var (
	// ErrCircuitOpen is returned internally when the circuit breaker refuses a call.
	ErrCircuitOpen = errors.New("tahan: circuit open")

	// ErrBackoffActive is returned internally when the required interval has not elapsed.
	ErrBackoffActive = errors.New("tahan: backoff interval active")

	// ErrQuotaExceeded is returned internally when the local per-minute quota is spent.
	ErrQuotaExceeded = errors.New("tahan: local quota exceeded")

	// ErrExhaustedCredentials is returned when every credential is blacklisted.
	ErrExhaustedCredentials = errors.New("tahan: all credentials blacklisted")

	// ErrGatewayClosed is returned by Submit after Close.
	ErrGatewayClosed = errors.New("tahan: gateway closed")

	// ErrQueueFull is returned internally when a service queue cannot accept work.
	ErrQueueFull = errors.New("tahan: service queue full")
)

// GatewayError is a structured upstream or validation error.
type GatewayError struct {
	Type       string
	Service    ServiceType
	Message    string
	StatusCode int
	Cause      error
}

// Error implements error.
func (e *GatewayError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Service != "" {
		msg = fmt.Sprintf("%s [service=%s]", msg, e.Service)
	}
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *GatewayError) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*GatewayError); ok {
		return e.Type == t.Type
	}
	return false
}

func newGatewayError(errType string, service ServiceType, message string, cause error) *GatewayError {
	return &GatewayError{Type: errType, Service: service, Message: message, Cause: cause}
}

// ErrorType extracts the taxonomy type of err, or "" for plain errors.
func ErrorType(err error) string {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Type
	}
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return ErrorTypeQuota
	case errors.Is(err, ErrExhaustedCredentials):
		return ErrorTypeExhaustedCredentials
	}
	return ""
}

// IsRateLimited reports whether err is a distinguished rate-limit-class
// failure (HTTP 429 equivalent). Rate limits drive credential blacklisting,
// backoff growth and breaker failure counting.
func IsRateLimited(err error) bool {
	return ErrorType(err) == ErrorTypeRateLimited
}

// IsTransient reports whether a failed attempt is worth one more try within
// the caller's remaining budget. Credential exhaustion, quota denial and
// validation errors are terminal for the attempt window.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch ErrorType(err) {
	case ErrorTypeRateLimited, ErrorTypeServer, ErrorTypeNetwork, ErrorTypeTimeout:
		return true
	}
	return false
}
