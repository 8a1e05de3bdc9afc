package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Parsing errors (PARSE_*)
	ErrorCodeParseFailed ErrorCode = "PARSE_FAILED"

	// Reservation errors (RESERVATION_*)
	ErrorCodeReservationNotFound ErrorCode = "RESERVATION_NOT_FOUND"
	ErrorCodeReservationExists   ErrorCode = "RESERVATION_EXISTS"
	ErrorCodeReservationExpired  ErrorCode = "RESERVATION_EXPIRED"

	// Reconciliation workflow errors (ENTRY_*)
	ErrorCodeEntryNotFound         ErrorCode = "ENTRY_NOT_FOUND"
	ErrorCodeEntryAlreadyProcessed ErrorCode = "ENTRY_ALREADY_PROCESSED"
	ErrorCodeEntryCandidateInvalid ErrorCode = "ENTRY_CANDIDATE_INVALID"

	// Signing errors (SIGNATURE_*, TIMESTAMP_*)
	ErrorCodeSignatureInvalid ErrorCode = "SIGNATURE_INVALID"
	ErrorCodeSignatureMissing ErrorCode = "SIGNATURE_MISSING"
	ErrorCodeTimestampExpired ErrorCode = "TIMESTAMP_EXPIRED"

	// Callback delivery errors (CALLBACK_*)
	ErrorCodeDeliveryFailed        ErrorCode = "CALLBACK_DELIVERY_FAILED"
	ErrorCodeCallbackConfigMissing ErrorCode = "CALLBACK_CONFIG_MISSING"
	ErrorCodeCallbackURLInvalid    ErrorCode = "CALLBACK_URL_INVALID"

	// Merchant errors (MERCHANT_*)
	ErrorCodeMerchantNotFound ErrorCode = "MERCHANT_NOT_FOUND"
	ErrorCodeMerchantInactive ErrorCode = "MERCHANT_INACTIVE"

	// Payment errors (PAYMENT_*)
	ErrorCodePaymentNotFound ErrorCode = "PAYMENT_NOT_FOUND"

	// Validation errors (VALIDATION_*)
	ErrorCodeValidationFailed        ErrorCode = "VALIDATION_FAILED"
	ErrorCodeValidationAmountInvalid ErrorCode = "VALIDATION_AMOUNT_INVALID"

	// Internal errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeStorageError  ErrorCode = "INTERNAL_STORAGE_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// WithDetail returns a copy of the error with one detail field added. The
// receiver is left untouched so the shared sentinel instances stay clean.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	clone := &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: make(map[string]interface{}, len(e.Details)+1),
	}
	for k, v := range e.Details {
		clone.Details[k] = v
	}
	clone.Details[key] = value
	return clone
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsNotFoundError checks if an error represents a "not found" condition
func IsNotFoundError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeReservationNotFound ||
		code == ErrorCodeEntryNotFound ||
		code == ErrorCodeMerchantNotFound ||
		code == ErrorCodePaymentNotFound
}

// IsSecurityError checks if an error is signature/replay related.
// Security failures are always rejected and never retried automatically.
func IsSecurityError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeSignatureInvalid ||
		code == ErrorCodeSignatureMissing ||
		code == ErrorCodeTimestampExpired
}

// IsRetryableDeliveryError checks if a callback failure may be retried.
// Missing configuration is fatal for the delivery until config changes.
func IsRetryableDeliveryError(err error) bool {
	return GetErrorCode(err) == ErrorCodeDeliveryFailed
}

// Structured error instances
var (
	ErrParseFailed = NewDomainError(ErrorCodeParseFailed, "unable to parse payment notification")

	ErrReservationNotFound = NewDomainError(ErrorCodeReservationNotFound, "amount reservation not found")
	ErrReservationExists   = NewDomainError(ErrorCodeReservationExists, "reservation already exists for order")

	ErrEntryNotFound         = NewDomainError(ErrorCodeEntryNotFound, "unmatched entry not found")
	ErrEntryAlreadyProcessed = NewDomainError(ErrorCodeEntryAlreadyProcessed, "entry already confirmed or ignored")
	ErrEntryCandidateInvalid = NewDomainError(ErrorCodeEntryCandidateInvalid, "order is not a candidate for this payment")

	ErrSignatureInvalid = NewDomainError(ErrorCodeSignatureInvalid, "signature verification failed")
	ErrSignatureMissing = NewDomainError(ErrorCodeSignatureMissing, "payload has no signature")
	ErrTimestampExpired = NewDomainError(ErrorCodeTimestampExpired, "timestamp outside replay window")

	ErrDeliveryFailed        = NewDomainError(ErrorCodeDeliveryFailed, "callback delivery failed")
	ErrCallbackConfigMissing = NewDomainError(ErrorCodeCallbackConfigMissing, "no usable callback destination")
	ErrCallbackURLInvalid    = NewDomainError(ErrorCodeCallbackURLInvalid, "callback URL rejected")

	ErrMerchantNotFound = NewDomainError(ErrorCodeMerchantNotFound, "merchant not found")
	ErrMerchantInactive = NewDomainError(ErrorCodeMerchantInactive, "merchant is not active")

	ErrPaymentNotFound = NewDomainError(ErrorCodePaymentNotFound, "payment record not found")

	ErrValidationAmountInvalid = NewDomainError(ErrorCodeValidationAmountInvalid, "invalid amount")
)
