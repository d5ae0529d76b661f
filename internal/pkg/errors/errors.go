package errors

import (
	"fmt"
	"net/http"
)

// AppError represents an application error with additional context
type AppError struct {
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	StatusCode int         `json:"-"`
	Internal   error       `json:"-"`
	Details    interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}
	return e.Message
}

// Unwrap returns the internal error for errors.Is and errors.As
func (e *AppError) Unwrap() error {
	return e.Internal
}

// Common error codes
const (
	ErrCodeInternal            = "INTERNAL_ERROR"
	ErrCodeBadRequest          = "BAD_REQUEST"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeDatabase            = "DATABASE_ERROR"
	ErrCodeInvalidTier         = "INVALID_TIER"
	ErrCodeInvalidUpgradePath  = "INVALID_UPGRADE_PATH"
	ErrCodeNoCustomerOnFile    = "NO_CUSTOMER_ON_FILE"
	ErrCodeCard                = "CARD_ERROR"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeConfiguration       = "CONFIGURATION_ERROR"
)

// New creates a new AppError
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with an AppError
func Wrap(err error, code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Internal:   err,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// Common error constructors

// Internal creates an internal server error
func Internal(message string, err error) *AppError {
	return Wrap(err, ErrCodeInternal, message, http.StatusInternalServerError)
}

// BadRequest creates a bad request error
func BadRequest(message string) *AppError {
	return New(ErrCodeBadRequest, message, http.StatusBadRequest)
}

// Unauthorized creates an unauthorized error
func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

// NotFound creates a not found error
func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// Conflict creates a conflict error
func Conflict(message string) *AppError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

// ValidationError creates a validation error
func ValidationError(message string, details interface{}) *AppError {
	return New(ErrCodeValidation, message, http.StatusBadRequest).WithDetails(details)
}

// DatabaseError creates a database error
func DatabaseError(message string, err error) *AppError {
	return Wrap(err, ErrCodeDatabase, message, http.StatusInternalServerError)
}

// InvalidTier creates an error for an unrecognized subscription tier
func InvalidTier(tier string) *AppError {
	return New(ErrCodeInvalidTier, fmt.Sprintf("Unknown subscription tier: %s", tier), http.StatusBadRequest)
}

// InvalidUpgradePath creates an error for a tier change that violates upgrade ordering
func InvalidUpgradePath(from, to string) *AppError {
	return New(ErrCodeInvalidUpgradePath,
		fmt.Sprintf("Cannot upgrade from %s to %s", from, to),
		http.StatusBadRequest)
}

// NoCustomerOnFile creates an error for billing operations without a stored customer reference
func NoCustomerOnFile() *AppError {
	return New(ErrCodeNoCustomerOnFile, "No billing customer on file for this account", http.StatusBadRequest)
}

// CardError creates a payment error whose message is surfaced to the user verbatim
func CardError(message string, err error) *AppError {
	return Wrap(err, ErrCodeCard, message, http.StatusPaymentRequired)
}

// ProviderUnavailable creates an error for billing provider infrastructure failures
func ProviderUnavailable(err error) *AppError {
	return Wrap(err, ErrCodeProviderUnavailable,
		"Billing provider is temporarily unavailable",
		http.StatusInternalServerError)
}

// RateLimited creates a rate limited error
func RateLimited(message string) *AppError {
	return New(ErrCodeRateLimited, message, http.StatusTooManyRequests)
}

// Configuration creates an error for missing or invalid server credentials
func Configuration(message string) *AppError {
	return New(ErrCodeConfiguration, message, http.StatusInternalServerError)
}
