// Package errors provides structured error types for the Tessera engine.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by failure domain.
type ErrorCategory string

const (
	ErrCategorySchema      ErrorCategory = "SCHEMA"
	ErrCategoryValidation  ErrorCategory = "VALIDATION"
	ErrCategoryComputation ErrorCategory = "COMPUTATION"
	ErrCategoryStorage     ErrorCategory = "STORAGE"
	ErrCategoryIndex       ErrorCategory = "INDEX"
	ErrCategoryInternal    ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Schema codes
	CodeCyclicDependency  = "CYCLIC_DEPENDENCY"
	CodeTypeMismatch      = "TYPE_MISMATCH"
	CodeDanglingReference = "DANGLING_REFERENCE"
	CodeDependencyExists  = "DEPENDENCY_EXISTS"
	CodeDuplicateName     = "DUPLICATE_NAME"
	CodeNotFound          = "NOT_FOUND"

	// Validation codes
	CodeMalformedRow   = "MALFORMED_ROW"
	CodeEmptyBatch     = "EMPTY_BATCH"
	CodeComputedTarget = "COMPUTED_TARGET"

	// Computation codes
	CodeUDFFailed        = "UDF_FAILED"
	CodeUDFTimeout       = "UDF_TIMEOUT"
	CodeRateLimited      = "RATE_LIMITED"
	CodeTransientIO      = "TRANSIENT_IO"
	CodeDependencyFailed = "DEPENDENCY_FAILED"

	// Storage codes
	CodeTxFailed         = "TX_FAILED"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeRowNotFound      = "ROW_NOT_FOUND"

	// Index codes
	CodeIndexUnavailable  = "INDEX_UNAVAILABLE"
	CodeDimensionMismatch = "DIMENSION_MISMATCH"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// TesseraError is the structured error type used throughout the system.
type TesseraError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *TesseraError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *TesseraError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *TesseraError) Is(target error) bool {
	var t *TesseraError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new TesseraError.
func New(category ErrorCategory, code, message string) *TesseraError {
	return &TesseraError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new TesseraError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *TesseraError {
	return &TesseraError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *TesseraError) WithDetails(details map[string]interface{}) *TesseraError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var te *TesseraError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a TesseraError.
func GetCategory(err error) ErrorCategory {
	var te *TesseraError
	if errors.As(err, &te) {
		return te.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a TesseraError.
func GetCode(err error) string {
	var te *TesseraError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// isRetryable determines if an error code is retryable. Only computation
// failures caused by transient conditions qualify; structural errors require
// the caller to fix the schema, the row, or the store first.
func isRetryable(category ErrorCategory, code string) bool {
	if category != ErrCategoryComputation {
		return false
	}
	switch code {
	case CodeUDFTimeout, CodeRateLimited, CodeTransientIO:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewSchemaError(code, message string) *TesseraError {
	return New(ErrCategorySchema, code, message)
}

func NewValidationError(code, message string) *TesseraError {
	return New(ErrCategoryValidation, code, message)
}

func NewComputationError(code, message string, cause error) *TesseraError {
	return Wrap(ErrCategoryComputation, code, message, cause)
}

func NewStorageError(code, message string, cause error) *TesseraError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewIndexError(code, message string, cause error) *TesseraError {
	return Wrap(ErrCategoryIndex, code, message, cause)
}

func NewInternalError(message string, cause error) *TesseraError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
