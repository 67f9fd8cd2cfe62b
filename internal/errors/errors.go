// Package errors provides centralized error definitions and error handling utilities
// for Uplink. It defines the orchestrator's error taxonomy, sentinel errors,
// error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// Pipeline errors are recorded on the failing task and never returned to the
// caller of Submit:
//   - ConfigurationError: the provider is not registered or misconfigured
//   - AuthenticationError: the handshake was cancelled, rejected, or the token exchange failed
//   - TransportError: the provider adapter's remote call failed
//   - CancellationError: the task was cancelled while in flight (informational)
//
// ValidationError is the only error returned synchronously, for programmer
// errors in the arguments passed to Submit.
//
// # Usage
//
//	err := errors.NewAuthenticationError("cancelled", errors.ErrAuthCancelled).WithProvider("photos")
//	fmt.Println(err) // "Authentication failed [provider=photos]: cancelled: authentication cancelled"
//
//	if errors.Is(err, errors.ErrAuthCancelled) { ... }
//
//	var authErr *errors.AuthenticationError
//	if errors.As(err, &authErr) { ... }
//
//	errors.Kind(err) // "authentication"
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Error kinds reported by Kind and stored on failed tasks.
const (
	KindConfiguration  = "configuration"
	KindAuthentication = "authentication"
	KindTransport      = "transport"
	KindCancellation   = "cancellation"
	KindValidation     = "validation"
	KindInternal       = "internal"
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Provider-related sentinel errors
var (
	// ErrProviderNotRegistered indicates that no adapter is registered for a provider id.
	ErrProviderNotRegistered = New("provider not registered")
	// ErrUnsupportedKind indicates that an adapter does not serve the requested task kind.
	ErrUnsupportedKind = New("unsupported task kind")
	// ErrUnsupportedCapability indicates that an adapter lacks an optional capability.
	ErrUnsupportedCapability = New("capability not supported by provider")
)

// Authentication-related sentinel errors
var (
	// ErrAuthCancelled indicates that the user closed the authentication surface.
	ErrAuthCancelled = New("authentication cancelled")
	// ErrAuthRejected indicates that the adapter rejected the session.
	ErrAuthRejected = New("session rejected by provider")
	// ErrTokenExchange indicates that exchanging the authorization code failed.
	ErrTokenExchange = New("token exchange failed")
	// ErrStateMismatch indicates that the completion signal carried a foreign state value.
	ErrStateMismatch = New("authorization state mismatch")
	// ErrSessionNotFound indicates that no stored session exists for a provider.
	ErrSessionNotFound = New("session not found")
)

// Task-related sentinel errors
var (
	// ErrTaskNotFound indicates that a task could not be found.
	ErrTaskNotFound = New("task not found")
	// ErrInvalidTransition indicates a status change the state machine forbids.
	ErrInvalidTransition = New("invalid status transition")
	// ErrTaskCancelled indicates that a task was cancelled while in flight.
	ErrTaskCancelled = New("task cancelled")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// UplinkError is the base interface for all Uplink errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type UplinkError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// format renders "<prefix> [k=v, ...]: message: cause", skipping empty parts.
func (e *baseError) format(prefix string, parts []string) string {
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}
	msg := prefix
	if e.message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.message)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

func providerParts(providerID, taskID string) []string {
	var parts []string
	if providerID != "" {
		parts = append(parts, fmt.Sprintf("provider=%s", providerID))
	}
	if taskID != "" {
		parts = append(parts, fmt.Sprintf("task=%s", taskID))
	}
	return parts
}

// -----------------------------------------------------------------------------
// Orchestration Errors
// -----------------------------------------------------------------------------

// ConfigurationError represents a missing or invalid provider configuration.
//
// Example:
//
//	err := errors.NewConfigurationError("no adapter for provider", errors.ErrProviderNotRegistered)
//	err = err.WithProvider("photos")
//	fmt.Println(err) // "configuration error [provider=photos]: no adapter for provider: provider not registered"
type ConfigurationError struct {
	baseError
	ProviderID string
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(message string, cause error) *ConfigurationError {
	return &ConfigurationError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithProvider adds a provider id to the error context.
func (e *ConfigurationError) WithProvider(id string) *ConfigurationError {
	e.ProviderID = id
	return e
}

// Error returns the formatted error message.
func (e *ConfigurationError) Error() string {
	return e.format("configuration error", providerParts(e.ProviderID, ""))
}

// Is checks if this error matches the target.
func (e *ConfigurationError) Is(target error) bool {
	if _, ok := target.(*ConfigurationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// AuthenticationError represents a failed, rejected, or cancelled handshake.
// Its message always starts with "Authentication failed".
type AuthenticationError struct {
	baseError
	ProviderID string
}

// NewAuthenticationError creates a new AuthenticationError. The reason is a
// short description such as "cancelled" or the token endpoint's response.
func NewAuthenticationError(reason string, cause error) *AuthenticationError {
	return &AuthenticationError{
		baseError: baseError{
			message:    reason,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithProvider adds a provider id to the error context.
func (e *AuthenticationError) WithProvider(id string) *AuthenticationError {
	e.ProviderID = id
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *AuthenticationError) WithRetryable(r bool) *AuthenticationError {
	e.retryable = r
	return e
}

// Reason returns the short failure reason.
func (e *AuthenticationError) Reason() string {
	return e.message
}

// Error returns the formatted error message.
func (e *AuthenticationError) Error() string {
	return e.format("Authentication failed", providerParts(e.ProviderID, ""))
}

// Is checks if this error matches the target.
func (e *AuthenticationError) Is(target error) bool {
	if _, ok := target.(*AuthenticationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TransportError represents a failed remote call made by a provider adapter.
// Without an explicit message it renders exactly the adapter's error text.
type TransportError struct {
	baseError
	ProviderID string
	TaskID     string
}

// NewTransportError creates a new TransportError.
func NewTransportError(message string, cause error) *TransportError {
	return &TransportError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  true,
			userFacing: true,
		},
	}
}

// WithProvider adds a provider id to the error context.
func (e *TransportError) WithProvider(id string) *TransportError {
	e.ProviderID = id
	return e
}

// WithTaskID adds a task id to the error context.
func (e *TransportError) WithTaskID(id string) *TransportError {
	e.TaskID = id
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *TransportError) WithRetryable(r bool) *TransportError {
	e.retryable = r
	return e
}

// Error returns the adapter's message, prefixed by the explicit message when set.
func (e *TransportError) Error() string {
	if e.message == "" && e.cause != nil {
		return e.cause.Error()
	}
	return e.baseError.Error()
}

// Is checks if this error matches the target.
func (e *TransportError) Is(target error) bool {
	if _, ok := target.(*TransportError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// CancellationError records that a task was cancelled while its pipeline was
// in flight. It is informational: it is logged, never returned to callers.
type CancellationError struct {
	baseError
	TaskID string
}

// NewCancellationError creates a new CancellationError for the given task.
func NewCancellationError(taskID string) *CancellationError {
	return &CancellationError{
		baseError: baseError{
			message:    "task cancelled while in flight",
			cause:      ErrTaskCancelled,
			severity:   SeverityInfo,
			retryable:  false,
			userFacing: true,
		},
		TaskID: taskID,
	}
}

// Error returns the formatted error message.
func (e *CancellationError) Error() string {
	return e.format("cancellation", providerParts("", e.TaskID))
}

// Is checks if this error matches the target.
func (e *CancellationError) Is(target error) bool {
	if _, ok := target.(*CancellationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ValidationError represents invalid input.
//
// Example:
//
//	err := errors.NewValidationError("payload is required").WithField("payload")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return e.format("validation error", parts)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var uplinkErr UplinkError
	if As(err, &uplinkErr) {
		return uplinkErr.IsRetryable()
	}
	return Is(err, ErrTimeout)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var uplinkErr UplinkError
	if As(err, &uplinkErr) {
		return uplinkErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity of err, defaulting to SeverityError for
// errors outside the taxonomy.
func GetSeverity(err error) Severity {
	var uplinkErr UplinkError
	if As(err, &uplinkErr) {
		return uplinkErr.Severity()
	}
	return SeverityError
}

// Kind classifies err into one of the Kind* constants. Nil yields "".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var (
		configErr *ConfigurationError
		authErr   *AuthenticationError
		transport *TransportError
		cancelErr *CancellationError
		validErr  *ValidationError
	)
	switch {
	case As(err, &configErr):
		return KindConfiguration
	case As(err, &authErr):
		return KindAuthentication
	case As(err, &transport):
		return KindTransport
	case As(err, &cancelErr):
		return KindCancellation
	case As(err, &validErr):
		return KindValidation
	default:
		return KindInternal
	}
}
