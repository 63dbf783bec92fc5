// Package errors provides a structured error system for objstore with error codes, categories, and context.
package errors

import (
	"encoding/json"
	stderr "errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for storage operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration Errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// Connection Errors
	ErrCodeConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeNetworkError      ErrorCode = "NETWORK_ERROR"

	// Storage Backend Errors
	ErrCodeObjectNotFound      ErrorCode = "OBJECT_NOT_FOUND"
	ErrCodeBucketNotFound      ErrorCode = "BUCKET_NOT_FOUND"
	ErrCodeStorageRead         ErrorCode = "STORAGE_READ"
	ErrCodeProviderError       ErrorCode = "STORAGE_PROVIDER_ERROR"
	ErrCodePartialBatchFailure ErrorCode = "STORAGE_PARTIAL_BATCH_FAILURE"
	ErrCodeAccessDenied        ErrorCode = "ACCESS_DENIED"

	// Operation Errors
	ErrCodeInvalidArgument   ErrorCode = "INVALID_ARGUMENT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryConnection    ErrorCategory = "connection"
	CategoryStorage       ErrorCategory = "storage"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// StorageError represents a structured error with context and metadata.
type StorageError struct {
	// Core error information
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	// Provider side information for errors returned by a backend.
	ProviderCode    string `json:"provider_code,omitempty"`
	ProviderMessage string `json:"provider_message,omitempty"`

	// Contextual information
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"` // Not serialized to avoid circular refs
	Timestamp time.Time         `json:"timestamp"`

	// Operational metadata
	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// Error handling hints
	Retryable  bool `json:"retryable"`
	HTTPStatus int  `json:"http_status,omitempty"`
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	msg := e.Message
	if e.ProviderCode != "" {
		msg = fmt.Sprintf("%s (provider code %s)", msg, e.ProviderCode)
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *StorageError) Is(target error) bool {
	if storageErr, ok := target.(*StorageError); ok {
		return e.Code == storageErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *StorageError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}

	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}

	if e.ProviderCode != "" {
		parts = append(parts, fmt.Sprintf("ProviderCode=%s", e.ProviderCode))
	}

	if e.RequestID != "" {
		parts = append(parts, fmt.Sprintf("RequestID=%s", e.RequestID))
	}

	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}

	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("StorageError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *StorageError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new storage error with default values.
func NewError(code ErrorCode, message string) *StorageError {
	return &StorageError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		Retryable:  IsRetryableByDefault(code),
		HTTPStatus: GetDefaultHTTPStatus(code),
	}
}

// NotFound reports an absent object.
func NotFound(path string) *StorageError {
	return NewError(ErrCodeObjectNotFound, fmt.Sprintf("object %q does not exist", path)).
		WithContext("path", path)
}

// InvalidArgument reports a request rejected before reaching the backend.
func InvalidArgument(format string, args ...interface{}) *StorageError {
	return NewError(ErrCodeInvalidArgument, fmt.Sprintf(format, args...))
}

// providerCodes are backend codes with an error code of their own.
var providerCodes = map[string]ErrorCode{
	"NoSuchBucket": ErrCodeBucketNotFound,
	"AccessDenied": ErrCodeAccessDenied,
}

// NewProviderError wraps a backend failure keeping its code and message.
func NewProviderError(providerCode, providerMessage string, cause error) *StorageError {
	msg := providerMessage
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	code := ErrCodeProviderError
	if c, ok := providerCodes[providerCode]; ok {
		code = c
	}
	e := NewError(code, msg).WithCause(cause)
	e.ProviderCode = providerCode
	e.ProviderMessage = providerMessage
	return e
}

// NewNetworkError classifies a transport failure that survived the client
// retries: failed dials, timeouts and other net.Error values. It returns
// nil when err carries no net.Error.
func NewNetworkError(err error) *StorageError {
	var netErr net.Error
	if !stderr.As(err, &netErr) {
		return nil
	}
	var opErr *net.OpError
	switch {
	case netErr.Timeout():
		return NewError(ErrCodeConnectionTimeout, err.Error()).WithCause(err)
	case stderr.As(err, &opErr) && opErr.Op == "dial":
		return NewError(ErrCodeConnectionFailed, err.Error()).WithCause(err)
	default:
		return NewError(ErrCodeNetworkError, err.Error()).WithCause(err)
	}
}

// NewPartialBatchFailure reports a chunked batch that failed after some chunks were applied.
func NewPartialBatchFailure(applied, total int, cause error) *StorageError {
	return NewError(ErrCodePartialBatchFailure,
		fmt.Sprintf("batch failed after %d of %d items were applied", applied, total)).
		WithDetail("applied", applied).
		WithDetail("total", total).
		WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "CONNECTION_") || strings.HasPrefix(codeStr, "NETWORK_"):
		return CategoryConnection
	case strings.HasPrefix(codeStr, "OBJECT_") || strings.HasPrefix(codeStr, "BUCKET_") ||
		strings.HasPrefix(codeStr, "STORAGE_") || strings.HasPrefix(codeStr, "ACCESS_"):
		return CategoryStorage
	case strings.HasPrefix(codeStr, "INVALID_ARGUMENT") || strings.HasPrefix(codeStr, "OPERATION_") ||
		strings.HasPrefix(codeStr, "RETRY_"):
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeConnectionTimeout: true,
		ErrCodeConnectionFailed:  true,
		ErrCodeNetworkError:      true,
		ErrCodeStorageRead:       true,
	}
	return retryableCodes[code]
}

// GetDefaultHTTPStatus returns the default HTTP status for an error code.
func GetDefaultHTTPStatus(code ErrorCode) int {
	statusMap := map[ErrorCode]int{
		ErrCodeInvalidConfig:       400, // Bad Request
		ErrCodeInvalidArgument:     400,
		ErrCodeAccessDenied:        403, // Forbidden
		ErrCodeObjectNotFound:      404, // Not Found
		ErrCodeBucketNotFound:      404,
		ErrCodeOperationCanceled:   499, // Client Closed Request
		ErrCodeProviderError:       502, // Bad Gateway
		ErrCodePartialBatchFailure: 502,
		ErrCodeConnectionFailed:    502,
		ErrCodeNetworkError:        502,
		ErrCodeRetryExhausted:      503, // Service Unavailable
		ErrCodeConnectionTimeout:   504, // Gateway Timeout
	}

	if status, ok := statusMap[code]; ok {
		return status
	}
	return 500
}

// WithContext adds contextual information to an error
func (e *StorageError) WithContext(key, value string) *StorageError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *StorageError) WithDetail(key string, value interface{}) *StorageError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *StorageError) WithComponent(component string) *StorageError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *StorageError) WithOperation(operation string) *StorageError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *StorageError) WithCause(cause error) *StorageError {
	e.Cause = cause
	return e
}

// WithRequestID records the provider request id
func (e *StorageError) WithRequestID(id string) *StorageError {
	e.RequestID = id
	return e
}

// AsStorageError finds the first StorageError in err's chain.
func AsStorageError(err error) (*StorageError, bool) {
	var se *StorageError
	if stderr.As(err, &se) {
		return se, true
	}
	return nil, false
}

// HasCode reports whether any StorageError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		se, ok := AsStorageError(err)
		if !ok {
			return false
		}
		if se.Code == code {
			return true
		}
		err = se.Cause
	}
	return false
}

// IsNotFound reports whether err denotes an absent object.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeObjectNotFound)
}

// IsInvalidArgument reports whether err denotes a rejected argument.
func IsInvalidArgument(err error) bool {
	return HasCode(err, ErrCodeInvalidArgument)
}

// IsPartialBatchFailure reports whether err denotes a partially applied batch.
func IsPartialBatchFailure(err error) bool {
	return HasCode(err, ErrCodePartialBatchFailure)
}

// ProviderCode returns the backend error code carried by err, if any.
func ProviderCode(err error) string {
	for err != nil {
		se, ok := AsStorageError(err)
		if !ok {
			return ""
		}
		if se.ProviderCode != "" {
			return se.ProviderCode
		}
		err = se.Cause
	}
	return ""
}
