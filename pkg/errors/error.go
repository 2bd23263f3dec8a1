// Package errors provides structured error handling with typed error codes.
//
// Error codes are organized into categories:
//   - General errors (1-99): Unknown errors and cancellation
//   - Validation errors (100-199): Invalid funds, windows, frequencies and configuration
//   - Data/Resource errors (200-299): Missing symbols, unavailable ranges and data gaps
//   - Cache errors (300-399): Price cache read, write and corruption errors
//   - Simulation errors (400-499): Fund simulation failures
//   - Backtest errors (600-699): Orchestration and cross validation errors
//   - Market data errors (700-799): Market data fetching and parsing errors
//   - Export errors (800-899): Result export failures
//
// Usage:
//
//	// Create a new error
//	err := errors.New(errors.ErrCodeInvalidFund, "fund has no holdings")
//
//	// Wrap an existing error
//	err := errors.Wrap(errors.ErrCodeMarketDataTransient, "proxy timed out", originalErr)
//
//	// Check error code
//	if errors.HasCode(err, errors.ErrCodeDataGap) { ... }
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Error represents a structured error with an error code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   nil,
	}
}

// Newf creates a new Error with the given code and formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   nil,
	}
}

// Wrap wraps an existing error with a new Error containing the given code and message.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Wrapf wraps an existing error with a new Error containing the given code and formatted message.
func Wrapf(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}

	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// GetCode extracts the ErrorCode of the outermost *Error or *DataGapError in
// err's chain. A DataGapError reports ErrCodeDataGap. Returns ErrCodeUnknown otherwise.
func GetCode(err error) ErrorCode {
	for err != nil {
		switch e := err.(type) { //nolint:errorlint // walking the chain by hand
		case *Error:
			return e.Code
		case *DataGapError:
			return ErrCodeDataGap
		}

		err = errors.Unwrap(err)
	}

	return ErrCodeUnknown
}

// HasCode checks if an error has a specific ErrorCode.
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// IsTransient reports whether the failure is worth retrying.
func IsTransient(err error) bool {
	return HasCode(err, ErrCodeMarketDataTransient)
}

// IsDataUnavailable reports whether the source has no data for the request.
func IsDataUnavailable(err error) bool {
	return HasCode(err, ErrCodeDataUnavailable)
}

// IsSchemaError reports whether a response could not be understood.
func IsSchemaError(err error) bool {
	return HasCode(err, ErrCodeMarketDataParseFailed)
}

// IsConfigurationError reports whether the failure comes from an invalid fund,
// window or configuration. These errors are fatal for a batch.
func IsConfigurationError(err error) bool {
	switch GetCode(err) {
	case ErrCodeInvalidConfiguration, ErrCodeInvalidFund, ErrCodeInvalidWindow,
		ErrCodeInvalidFrequency, ErrCodeInvalidStrategy, ErrCodeInvalidParameter,
		ErrCodeMissingParameter:
		return true
	default:
		return false
	}
}

// DataGapError is returned when a required price series has no close for a
// date the simulation needs, or could not be resolved at all.
type DataGapError struct {
	Symbol string    // Symbol missing the data
	Date   time.Time // First date without a close; zero when the whole series is missing
	Cause  error     // Optional: the fetch failure that left the gap
}

// NewDataGapError creates a new DataGapError.
func NewDataGapError(symbol string, date time.Time, cause error) *DataGapError {
	return &DataGapError{
		Symbol: symbol,
		Date:   date,
		Cause:  cause,
	}
}

// Error implements the error interface.
func (e *DataGapError) Error() string {
	msg := "data gap for " + e.Symbol
	if !e.Date.IsZero() {
		msg += " on " + e.Date.Format(time.DateOnly)
	}

	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}

	return msg
}

// Unwrap returns the underlying error cause.
func (e *DataGapError) Unwrap() error {
	return e.Cause
}

// IsDataGap checks if an error is a DataGapError or carries ErrCodeDataGap.
func IsDataGap(err error) bool {
	return HasCode(err, ErrCodeDataGap)
}
