// Package errors provides structured error handling for netinventory.
// Errors carry a code so the orchestrator can tell input errors, probe
// engine outages and persistence problems apart without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodePermission    ErrorCode = "PERMISSION"

	// Probing errors.
	CodeTargetInvalid    ErrorCode = "TARGET_INVALID"
	CodeProfileInvalid   ErrorCode = "PROFILE_INVALID"
	CodeProbeUnavailable ErrorCode = "PROBE_UNAVAILABLE"
	CodeDiscoveryFailed  ErrorCode = "DISCOVERY_FAILED"
	CodeScanFailed       ErrorCode = "SCAN_FAILED"
	CodeHostUnreachable  ErrorCode = "HOST_UNREACHABLE"

	// Artifact errors.
	CodeStatusPersist   ErrorCode = "STATUS_PERSIST"
	CodeResultPersist   ErrorCode = "RESULT_PERSIST"
	CodeFileNotFound    ErrorCode = "FILE_NOT_FOUND"
	CodeFilePermission  ErrorCode = "FILE_PERMISSION"
	CodeDirectoryCreate ErrorCode = "DIRECTORY_CREATE"
)

// ScanError represents an error that occurred during scanning operations.
type ScanError struct {
	Code    ErrorCode
	Message string
	Target  string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Target != "" {
		msg = fmt.Sprintf("%s (target: %s)", msg, e.Target)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Context: make(map[string]interface{}),
	}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// DiscoveryError represents liveness sweep errors.
type DiscoveryError struct {
	Code    ErrorCode
	Message string
	Targets []string
	Cause   error
}

// Error implements the error interface.
func (e *DiscoveryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DiscoveryError) Unwrap() error {
	return e.Cause
}

// NewDiscoveryError creates a new discovery error.
func NewDiscoveryError(code ErrorCode, message string) *DiscoveryError {
	return &DiscoveryError{Code: code, Message: message}
}

// WrapDiscoveryError wraps an existing error as a discovery error.
func WrapDiscoveryError(code ErrorCode, message string, err error) *DiscoveryError {
	return &DiscoveryError{Code: code, Message: message, Cause: err}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// GetCode extracts the error code from the first coded error in the chain.
func GetCode(err error) ErrorCode {
	var scanErr *ScanError
	if stderrors.As(err, &scanErr) {
		return scanErr.Code
	}
	var discErr *DiscoveryError
	if stderrors.As(err, &discErr) {
		return discErr.Code
	}
	var cfgErr *ConfigError
	if stderrors.As(err, &cfgErr) {
		return cfgErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// IsInputError reports whether err was caused by the caller's request
// rather than by the environment.
func IsInputError(err error) bool {
	switch GetCode(err) {
	case CodeValidation, CodeTargetInvalid, CodeProfileInvalid, CodeConfiguration:
		return true
	default:
		return false
	}
}

// IsFatal determines if an error indicates a condition that should stop the scan.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeProbeUnavailable, CodePermission, CodeDiscoveryFailed, CodeConfiguration:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrInvalidTarget creates an error for invalid scan targets.
func ErrInvalidTarget(target string) *ScanError {
	return NewScanErrorWithTarget(CodeTargetInvalid, "Invalid target specification", target)
}

// ErrInvalidProfile creates an error for unknown scan profile names.
func ErrInvalidProfile(name string) *ScanError {
	return NewScanErrorWithTarget(CodeProfileInvalid, "Invalid scan profile", name)
}

// ErrProbeUnavailable creates an error for a probe engine that cannot be invoked.
func ErrProbeUnavailable(err error) *DiscoveryError {
	return WrapDiscoveryError(CodeProbeUnavailable, "Probe engine unavailable", err)
}

// ErrDiscoveryFailed creates an error for discovery failures.
func ErrDiscoveryFailed(targets []string, err error) *DiscoveryError {
	e := WrapDiscoveryError(CodeDiscoveryFailed, "Host discovery failed", err)
	e.Targets = targets
	return e
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
