package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeInvalidConfig, "configuration is invalid")
		if err == nil {
			t.Fatal("NewError returned nil")
		}
		if err.Code != ErrCodeInvalidConfig {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
		}
		if err.Category != CategoryConfiguration {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
		}
		if err.Details == nil || err.Context == nil {
			t.Error("Details and Context maps must be initialized")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets correct retryable defaults", func(t *testing.T) {
		if !NewError(ErrCodeConnectionTimeout, "timeout").Retryable {
			t.Error("ConnectionTimeout should be retryable by default")
		}
		if NewError(ErrCodeInvalidArgument, "bad").Retryable {
			t.Error("InvalidArgument should not be retryable by default")
		}
	})
}

func TestGetCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code     ErrorCode
		expected ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeConnectionFailed, CategoryConnection},
		{ErrCodeNetworkError, CategoryConnection},
		{ErrCodeObjectNotFound, CategoryStorage},
		{ErrCodeBucketNotFound, CategoryStorage},
		{ErrCodeProviderError, CategoryStorage},
		{ErrCodePartialBatchFailure, CategoryStorage},
		{ErrCodeAccessDenied, CategoryStorage},
		{ErrCodeInvalidArgument, CategoryOperation},
		{ErrCodeRetryExhausted, CategoryOperation},
		{ErrorCode("SOMETHING_ELSE"), CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := GetCategory(tt.code); got != tt.expected {
				t.Errorf("GetCategory(%v) = %v, want %v", tt.code, got, tt.expected)
			}
		})
	}
}

func TestGetDefaultHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{ErrCodeInvalidArgument, 400},
		{ErrCodeAccessDenied, 403},
		{ErrCodeObjectNotFound, 404},
		{ErrCodeBucketNotFound, 404},
		{ErrCodeProviderError, 502},
		{ErrCodeRetryExhausted, 503},
		{ErrCodeConnectionTimeout, 504},
		{ErrorCode("UNKNOWN_CODE"), 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := GetDefaultHTTPStatus(tt.code); got != tt.wantStatus {
				t.Errorf("GetDefaultHTTPStatus(%v) = %d, want %d", tt.code, got, tt.wantStatus)
			}
		})
	}
}

func TestStorageError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *StorageError
		want string
	}{
		{
			name: "with component and operation",
			err: &StorageError{
				Code:      ErrCodeObjectNotFound,
				Component: "s3",
				Operation: "read_object",
				Message:   "object does not exist",
			},
			want: "[s3:read_object] OBJECT_NOT_FOUND: object does not exist",
		},
		{
			name: "with provider code",
			err: &StorageError{
				Code:         ErrCodeProviderError,
				Component:    "s3",
				Message:      "too big",
				ProviderCode: "EntityTooLarge",
			},
			want: "[s3] STORAGE_PROVIDER_ERROR: too big (provider code EntityTooLarge)",
		},
		{
			name: "bare",
			err:  &StorageError{Code: ErrCodeInvalidArgument, Message: "append unsupported"},
			want: "INVALID_ARGUMENT: append unsupported",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorsIsAndUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := NewProviderError("InternalError", "backend failure", cause).WithOperation("head_object")

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if !errors.Is(err, NewError(ErrCodeProviderError, "")) {
		t.Error("errors.Is should match by code")
	}
	if errors.Is(err, NewError(ErrCodeObjectNotFound, "")) {
		t.Error("errors.Is should not match a different code")
	}
}

func TestClassificationHelpers(t *testing.T) {
	t.Parallel()

	notFound := NotFound("data/a.bin")
	wrapped := fmt.Errorf("reading part: %w", notFound)

	if !IsNotFound(wrapped) {
		t.Error("IsNotFound should see through fmt.Errorf wrapping")
	}
	if IsNotFound(errors.New("plain")) {
		t.Error("IsNotFound should be false for plain errors")
	}
	if notFound.Context["path"] != "data/a.bin" {
		t.Errorf("path context = %q", notFound.Context["path"])
	}

	if !IsInvalidArgument(InvalidArgument("mode %s", "append")) {
		t.Error("IsInvalidArgument should match")
	}

	provider := NewProviderError("EntityTooLarge", "", errors.New("413"))
	partial := NewPartialBatchFailure(1000, 2500, provider)
	if !IsPartialBatchFailure(partial) {
		t.Error("IsPartialBatchFailure should match")
	}
	if got := ProviderCode(partial); got != "EntityTooLarge" {
		t.Errorf("ProviderCode() = %q, want EntityTooLarge", got)
	}
	if !HasCode(partial, ErrCodeProviderError) {
		t.Error("HasCode should walk into the cause chain")
	}
	if got := ProviderCode(errors.New("plain")); got != "" {
		t.Errorf("ProviderCode() = %q, want empty", got)
	}
	if provider.Message != "413" {
		t.Errorf("provider message should fall back to cause, got %q", provider.Message)
	}
}

func TestNewProviderError_Codes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		providerCode string
		want         ErrorCode
	}{
		{"NoSuchBucket", ErrCodeBucketNotFound},
		{"AccessDenied", ErrCodeAccessDenied},
		{"SlowDown", ErrCodeProviderError},
		{"", ErrCodeProviderError},
	}

	for _, tt := range tests {
		t.Run(tt.providerCode, func(t *testing.T) {
			err := NewProviderError(tt.providerCode, "from backend", nil)
			if err.Code != tt.want {
				t.Errorf("Code = %v, want %v", err.Code, tt.want)
			}
			if got := ProviderCode(err); got != tt.providerCode {
				t.Errorf("ProviderCode() = %q, want %q", got, tt.providerCode)
			}
		})
	}
}

func TestNewNetworkError(t *testing.T) {
	t.Parallel()

	refused := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	tests := []struct {
		name      string
		err       error
		want      ErrorCode
		retryable bool
	}{
		{"dial", refused, ErrCodeConnectionFailed, true},
		{"wrapped dial", fmt.Errorf("send request: %w", refused), ErrCodeConnectionFailed, true},
		{"timeout", &net.DNSError{Err: "i/o timeout", Name: "s3.local", IsTimeout: true}, ErrCodeConnectionTimeout, true},
		{"reset", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}, ErrCodeNetworkError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewNetworkError(tt.err)
			if got == nil {
				t.Fatal("NewNetworkError returned nil")
			}
			if got.Code != tt.want {
				t.Errorf("Code = %v, want %v", got.Code, tt.want)
			}
			if got.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", got.Retryable, tt.retryable)
			}
			if !errors.Is(got, tt.err) {
				t.Error("errors.Is should reach the transport error")
			}
		})
	}

	if NewNetworkError(errors.New("plain")) != nil {
		t.Error("plain errors are not network errors")
	}
}

func TestStorageError_StringAndJSON(t *testing.T) {
	t.Parallel()

	err := NewProviderError("SlowDown", "reduce request rate", nil).
		WithComponent("s3").
		WithOperation("put_object").
		WithRequestID("req-1").
		WithDetail("attempt", 3)

	s := err.String()
	for _, want := range []string{"Code=STORAGE_PROVIDER_ERROR", "Component=s3", "ProviderCode=SlowDown", "RequestID=req-1"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}

	var decoded map[string]interface{}
	if jerr := json.Unmarshal([]byte(err.JSON()), &decoded); jerr != nil {
		t.Fatalf("JSON() produced invalid JSON: %v", jerr)
	}
	if decoded["provider_code"] != "SlowDown" {
		t.Errorf("provider_code = %v", decoded["provider_code"])
	}
}
