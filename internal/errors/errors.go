package errors

import (
	"errors"
	"fmt"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Cause:   appErr,
		}
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// GetCode returns the error code if it's an AppError, otherwise returns "UNKNOWN"
func GetCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Predefined error codes
const (
	CodeConfigInvalid          = "CONFIG_INVALID"
	CodeDatabaseError          = "DATABASE_ERROR"
	CodeInvalidInput           = "INVALID_INPUT"
	CodeInternalError          = "INTERNAL_ERROR"
	CodeInvalidGroup           = "INVALID_GROUP"
	CodeDegenerateVLR          = "DEGENERATE_VLR"
	CodePermutationDisabled    = "PERMUTATION_DISABLED"
	CodeModerationPrecondition = "MODERATION_PRECONDITION"
	CodeReferenceZero          = "REFERENCE_ZERO"
)

// Common error constructors

func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func DatabaseError(message string) *AppError {
	return New(CodeDatabaseError, message)
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

func InternalError(message string) *AppError {
	return New(CodeInternalError, message)
}

// InvalidGroup reports a group vector that does not partition the samples
// into exactly two groups. Raised at construction, fatal.
func InvalidGroup(message string) *AppError {
	return New(CodeInvalidGroup, message)
}

// PermutationDisabled reports an FDR call on an analysis constructed with
// zero permutations.
func PermutationDisabled() *AppError {
	return New(CodePermutationDisabled, "permutation testing disabled: analysis was built with 0 permutations")
}

// ModerationPrecondition reports a moderated operation requested while its
// preconditions do not hold (wrong active statistic, or no fit available).
func ModerationPrecondition(message string) *AppError {
	return New(CodeModerationPrecondition, message)
}

// ReferenceZero reports a log-ratio reference whose geometric mean collapses
// to zero in at least one sample.
func ReferenceZero(sample int) *AppError {
	return New(CodeReferenceZero, fmt.Sprintf("reference geometric mean is zero in sample %d", sample))
}
