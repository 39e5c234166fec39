package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Gateway errors
	ErrGatewayNotFound    = errors.New("payment gateway not found")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("payment rejected by gateway")
	ErrGatewayTimeout     = errors.New("gateway request timeout")
	ErrReferenceNotFound  = errors.New("reference not recognised by gateway")
	ErrAllGatewaysFailed  = errors.New("all payment gateways failed")
	ErrVerificationFailed = errors.New("no gateway recognised the reference")

	// Webhook errors
	ErrSignatureVerification = errors.New("webhook signature verification failed")
	ErrWebhookParse          = errors.New("webhook payload could not be parsed")
	ErrDuplicateWebhook      = errors.New("webhook already processed")

	// Order errors
	ErrOrderNotFound = errors.New("order not found")
	ErrInvalidAmount = errors.New("invalid amount")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// GatewayErrorKind classifies a failed gateway call.
type GatewayErrorKind string

const (
	KindUnavailable GatewayErrorKind = "unavailable"
	KindTimeout     GatewayErrorKind = "timeout"
	KindRejected    GatewayErrorKind = "rejected"
	KindNotFound    GatewayErrorKind = "not_found"
	KindParse       GatewayErrorKind = "parse"
)

// GatewayError is returned by adapters for any failed provider call.
type GatewayError struct {
	Gateway string
	Kind    GatewayErrorKind
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s %s: %v", e.Gateway, e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Is lets callers match a GatewayError against the sentinel for its kind.
func (e *GatewayError) Is(target error) bool {
	switch e.Kind {
	case KindUnavailable:
		return target == ErrGatewayUnavailable
	case KindTimeout:
		return target == ErrGatewayTimeout || target == ErrGatewayUnavailable
	case KindRejected:
		return target == ErrGatewayRejected
	case KindNotFound:
		return target == ErrReferenceNotFound
	case KindParse:
		return target == ErrWebhookParse
	}
	return false
}

// NewGatewayError creates a new gateway error.
func NewGatewayError(gateway string, kind GatewayErrorKind, err error) *GatewayError {
	return &GatewayError{Gateway: gateway, Kind: kind, Err: err}
}

// KindOf extracts the gateway error kind, treating anything unclassified as unavailable.
func KindOf(err error) GatewayErrorKind {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	if errors.Is(err, ErrGatewayTimeout) {
		return KindTimeout
	}
	return KindUnavailable
}

// AttemptFailure is the per-gateway summary carried by AllGatewaysFailedError.
type AttemptFailure struct {
	Gateway string
	Kind    GatewayErrorKind
	Reason  string
}

// AllGatewaysFailedError is returned when every gateway in a ProcessPayment call failed.
type AllGatewaysFailedError struct {
	Failures []AttemptFailure
}

func (e *AllGatewaysFailedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s(%s)", f.Gateway, f.Kind))
	}
	return fmt.Sprintf("%v: %s", ErrAllGatewaysFailed, strings.Join(parts, ", "))
}

func (e *AllGatewaysFailedError) Unwrap() error {
	return ErrAllGatewaysFailed
}

// SignatureError records which gateway rejected a webhook and why.
type SignatureError struct {
	Gateway string
	Reason  string
}

func (e *SignatureError) Error() string {
	if e.Gateway == "" {
		return fmt.Sprintf("%v: %s", ErrSignatureVerification, e.Reason)
	}
	return fmt.Sprintf("%v (%s): %s", ErrSignatureVerification, e.Gateway, e.Reason)
}

func (e *SignatureError) Unwrap() error {
	return ErrSignatureVerification
}

// NewSignatureError creates a new signature error.
func NewSignatureError(gateway, reason string) *SignatureError {
	return &SignatureError{Gateway: gateway, Reason: reason}
}
