package path

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an invalid path graph or an edit that refers
// to something the graph does not know. These are detected when the
// offending edge or reference is created, never at query time.
type ConfigurationError struct {
	// Code identifies the error category.
	Code ConfigurationErrorCode

	// Message is a human-readable description.
	Message string

	// Cycle lists the path names forming a cycle (PATH_CYCLE only).
	Cycle []string
}

// ConfigurationErrorCode categorizes configuration errors.
type ConfigurationErrorCode string

const (
	// ErrCodeCycle indicates an origin edge would close a cycle.
	ErrCodeCycle ConfigurationErrorCode = "PATH_CYCLE"

	// ErrCodeUnknownPath indicates a reference to an undefined path.
	ErrCodeUnknownPath ConfigurationErrorCode = "UNKNOWN_PATH"

	// ErrCodeDuplicatePath indicates a path id or name defined twice.
	ErrCodeDuplicatePath ConfigurationErrorCode = "DUPLICATE_PATH"

	// ErrCodeInvalidPath indicates a malformed path definition.
	ErrCodeInvalidPath ConfigurationErrorCode = "INVALID_PATH"
)

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsConfigurationError reports whether err is (or wraps) a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsCycleError reports whether err is a PATH_CYCLE configuration error.
func IsCycleError(err error) bool {
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeCycle
	}
	return false
}

func unknownPath(id int) *ConfigurationError {
	return &ConfigurationError{
		Code:    ErrCodeUnknownPath,
		Message: fmt.Sprintf("path %d is not defined", id),
	}
}
