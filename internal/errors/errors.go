package errors

import (
	stderrors "errors"
	"fmt"
)

// AmanError is the structured error type for amanrag.
// It carries enough context for logging, MCP responses and CLI output.
type AmanError struct {
	// Code is the unique error code (e.g., "ERR_201_FILE_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *AmanError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *AmanError) Unwrap() error {
	return e.Cause
}

// Is matches by code, so errors.Is(err, ErrNotFound) holds for any
// AmanError carrying ErrCodeFileNotFound.
func (e *AmanError) Is(target error) bool {
	if t, ok := target.(*AmanError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *AmanError) WithDetail(key, value string) *AmanError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *AmanError) WithSuggestion(suggestion string) *AmanError {
	e.Suggestion = suggestion
	return e
}

// New creates a new AmanError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *AmanError {
	return &AmanError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an AmanError from an existing error.
func Wrap(code string, err error) *AmanError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is checks. They match any AmanError with the same
// code and must not be mutated.
var (
	ErrNotFound            = New(ErrCodeFileNotFound, "not found", nil)
	ErrUnsupportedType     = New(ErrCodeUnsupportedType, "unsupported file type", nil)
	ErrEmptyContent        = New(ErrCodeEmptyContent, "no content extracted", nil)
	ErrTranscriptionFailed = New(ErrCodeTranscriptionFailed, "transcription failed", nil)
	ErrNoSpeech            = New(ErrCodeNoSpeech, "no speech detected", nil)
	ErrBuildConflict       = New(ErrCodeBuildConflict, "collection exists in an unexpected state", nil)
	ErrBuildFailed         = New(ErrCodeBuildFailed, "index build failed", nil)
	ErrCollectionNotFound  = New(ErrCodeCollectionNotFound, "collection not found", nil)
	ErrRefreshLocked       = New(ErrCodeRefreshLocked, "another refresh holds the lock", nil)
)

// NotFound creates a missing file or folder error.
func NotFound(path string, cause error) *AmanError {
	return New(ErrCodeFileNotFound, fmt.Sprintf("not found: %s", path), cause).
		WithDetail("path", path)
}

// UnsupportedType creates an error for an extension no loader handles.
func UnsupportedType(ext string) *AmanError {
	return New(ErrCodeUnsupportedType, fmt.Sprintf("unsupported file type: %s", ext), nil).
		WithDetail("ext", ext)
}

// EmptyContent creates an error for a file that yielded no text.
func EmptyContent(path string) *AmanError {
	return New(ErrCodeEmptyContent, fmt.Sprintf("no content loaded from %s", path), nil).
		WithDetail("path", path)
}

// BuildFailed wraps a per-file build failure.
func BuildFailed(filename string, cause error) *AmanError {
	return New(ErrCodeBuildFailed, fmt.Sprintf("build %s: %v", filename, cause), cause).
		WithDetail("file", filename)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *AmanError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// NetworkError creates a network-related error.
// Network errors are retryable.
func NetworkError(message string, cause error) *AmanError {
	return New(ErrCodeNetworkUnavailable, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *AmanError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *AmanError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable reports whether any AmanError in the chain is retryable.
func IsRetryable(err error) bool {
	var ae *AmanError
	if stderrors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var ae *AmanError
	if stderrors.As(err, &ae) {
		return ae.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first AmanError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var ae *AmanError
	if stderrors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// GetCategory extracts the category from the first AmanError in the chain.
func GetCategory(err error) Category {
	var ae *AmanError
	if stderrors.As(err, &ae) {
		return ae.Category
	}
	return ""
}
