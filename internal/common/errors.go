package common

import (
	"errors"
	"net/http"
)

// Canonical error codes used across the checkout pipeline.
const (
	CodeValidation             = "VALIDATION"
	CodeGatewayInitFailed      = "GATEWAY_INIT_FAILED"
	CodeSettlementNotConfirmed = "SETTLEMENT_NOT_CONFIRMED"
	CodeStoreConflict          = "STORE_CONFLICT"
	CodeStoreSchema            = "STORE_SCHEMA"
	CodeStoreFatal             = "STORE_FATAL"
	CodeInternal               = "INTERNAL"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// ValidationError rejects a request before any gateway or store call.
func ValidationError(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message, HTTPStatus: http.StatusBadRequest}
}

// GatewayInitError wraps a payment gateway session/intent creation failure.
// The user-facing message stays generic; detail travels on the wrapped error.
func GatewayInitError(err error) *AppError {
	return &AppError{
		Code:       CodeGatewayInitFailed,
		Message:    "cannot start payment, try again",
		HTTPStatus: http.StatusPaymentRequired,
		Err:        err,
	}
}

// SettlementNotConfirmedError reports a settlement status other than paid.
func SettlementNotConfirmedError(status string) *AppError {
	return &AppError{
		Code:       CodeSettlementNotConfirmed,
		Message:    "payment not completed",
		HTTPStatus: http.StatusPaymentRequired,
		Details:    map[string]any{"status": status},
	}
}

// StoreError wraps a data store failure under the provided code.
func StoreError(code string, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    "order could not be finalized, contact support",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// ErrorCode extracts the canonical code from an error chain, defaulting to
// INTERNAL for plain errors.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr.Code
	}
	return CodeInternal
}
