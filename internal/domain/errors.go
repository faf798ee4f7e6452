package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")

	// ErrAlreadyConfirmed is returned by a store when the confirmed flag was
	// already set at write time.
	ErrAlreadyConfirmed = errors.New("opt-in already confirmed")
	// ErrPersistence wraps any failed store write.
	ErrPersistence = errors.New("persistence failure")
	// ErrDuplicateEmail is the validator result for an address already
	// registered on the same form.
	ErrDuplicateEmail = errors.New("email already registered for this form")
	// ErrOptIn is the parent of every *OptInError.
	ErrOptIn = errors.New("opt-in failed")
)

// ErrorCode enumerates the failures CreateOptIn can report.
type ErrorCode string

const (
	CodeSubmissionCancelled  ErrorCode = "SUBMISSION_CANCELLED"
	CodeNoRecipient          ErrorCode = "NO_RECIPIENT"
	CodeRateLimitIP          ErrorCode = "RATE_LIMIT_IP"
	CodeRateLimitEmail       ErrorCode = "RATE_LIMIT_EMAIL"
	CodeRecipientInvalid     ErrorCode = "RECIPIENT_INVALID"
	CodeUniqueEmailDuplicate ErrorCode = "UNIQUE_EMAIL_DUPLICATE"
	CodeSaveFailed           ErrorCode = "SAVE_FAILED"
)

var defaultMessages = map[ErrorCode]string{
	CodeSubmissionCancelled:  "The submission was cancelled.",
	CodeNoRecipient:          "No recipient email address could be found.",
	CodeRateLimitIP:          "Too many submissions from your network. Please try again later.",
	CodeRateLimitEmail:       "Too many submissions for this email address. Please try again later.",
	CodeRecipientInvalid:     "The email address could not be validated.",
	CodeUniqueEmailDuplicate: "This email address is already registered.",
	CodeSaveFailed:           "Your submission could not be saved. Please try again.",
}

// DefaultMessage returns the user-facing text for code.
func (c ErrorCode) DefaultMessage() string {
	if m, ok := defaultMessages[c]; ok {
		return m
	}
	return "An unexpected error occurred."
}

// Valid reports whether c belongs to the closed set above.
func (c ErrorCode) Valid() bool {
	_, ok := defaultMessages[c]
	return ok
}

// OptInError is the structured failure returned by the opt-in engine.
// Context is for logs and telemetry; it is never rendered to end users.
type OptInError struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

// NewOptInError builds an OptInError with the code's default message when msg is empty.
func NewOptInError(code ErrorCode, msg string, ctx map[string]any) *OptInError {
	if msg == "" {
		msg = code.DefaultMessage()
	}
	if ctx == nil {
		ctx = map[string]any{}
	}
	return &OptInError{Code: code, Message: msg, Context: ctx}
}

func (e *OptInError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *OptInError) Unwrap() error { return ErrOptIn }

// IsRateLimit reports whether the error is one of the rate limit codes.
func (e *OptInError) IsRateLimit() bool {
	return e.Code == CodeRateLimitIP || e.Code == CodeRateLimitEmail
}

// AsOptInError extracts an *OptInError from err.
func AsOptInError(err error) (*OptInError, bool) {
	var oe *OptInError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}
