package tahan

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestGatewayErrorFormatting(t *testing.T) {
	err := &GatewayError{
		Type:       ErrorTypeRateLimited,
		Service:    ServiceVision,
		Message:    "upstream rate limit",
		StatusCode: 429,
	}

	msg := err.Error()
	for _, want := range []string{"RateLimited", "vision", "429"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected %q in message %q", want, msg)
		}
	}
}

func TestGatewayErrorUnwrap(t *testing.T) {
	cause := errors.New("socket closed")
	err := &GatewayError{Type: ErrorTypeNetwork, Message: "call failed", Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is to reach the cause")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	var ge *GatewayError
	if !errors.As(wrapped, &ge) {
		t.Fatal("Expected errors.As to find GatewayError")
	}
	if ge.Type != ErrorTypeNetwork {
		t.Errorf("Expected network type, got %s", ge.Type)
	}
}

func TestGatewayErrorIsByType(t *testing.T) {
	a := &GatewayError{Type: ErrorTypeRateLimited, Message: "one"}
	b := &GatewayError{Type: ErrorTypeRateLimited, Message: "another"}
	c := &GatewayError{Type: ErrorTypeNetwork, Message: "other"}

	if !errors.Is(a, b) {
		t.Error("Expected same-type errors to match")
	}
	if errors.Is(a, c) {
		t.Error("Expected different-type errors not to match")
	}
}

func TestErrorTypeExtraction(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&GatewayError{Type: ErrorTypeParse}, ErrorTypeParse},
		{fmt.Errorf("wrap: %w", &GatewayError{Type: ErrorTypeTimeout}), ErrorTypeTimeout},
		{ErrQuotaExceeded, ErrorTypeQuota},
		{ErrExhaustedCredentials, ErrorTypeExhaustedCredentials},
		{errors.New("plain"), ""},
		{nil, ""},
	}

	for _, tc := range cases {
		if got := ErrorType(tc.err); got != tc.want {
			t.Errorf("ErrorType(%v): expected %q, got %q", tc.err, tc.want, got)
		}
	}
}

func TestIsTransient(t *testing.T) {
	transient := []string{ErrorTypeRateLimited, ErrorTypeServer, ErrorTypeNetwork, ErrorTypeTimeout}
	for _, typ := range transient {
		if !IsTransient(&GatewayError{Type: typ}) {
			t.Errorf("Expected %s to be transient", typ)
		}
	}

	terminal := []error{
		&GatewayError{Type: ErrorTypeValidation},
		&GatewayError{Type: ErrorTypeBatchSplit},
		ErrQuotaExceeded,
		ErrExhaustedCredentials,
		nil,
	}
	for _, err := range terminal {
		if IsTransient(err) {
			t.Errorf("Expected %v not to be transient", err)
		}
	}
}
