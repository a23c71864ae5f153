package imagesieve

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorCategory represents the category of an error for handling decisions.
type ErrorCategory string

const (
	ErrorCategoryNetwork    ErrorCategory = "network"    // Network connectivity issues
	ErrorCategoryRateLimit  ErrorCategory = "rate_limit" // Rate limiting
	ErrorCategoryTimeout    ErrorCategory = "timeout"    // Request timeout
	ErrorCategoryAuth       ErrorCategory = "auth"       // Authentication/authorization
	ErrorCategoryConfig     ErrorCategory = "config"     // Configuration issues
	ErrorCategoryValidation ErrorCategory = "validation" // Input validation
	ErrorCategoryAnalyzer   ErrorCategory = "analyzer"   // Analyzer-specific errors
	ErrorCategoryInternal   ErrorCategory = "internal"   // Internal errors
)

// Common errors. Stage-level analyzer failures are absorbed into fail-closed
// signal fallbacks; these sentinels cover the request-level and wiring errors
// that genuinely surface to callers.
var (
	ErrNoImage            = errors.New("imagesieve: no image reference provided")
	ErrImageUndecodable   = errors.New("imagesieve: image cannot be decoded")
	ErrUnknownContext     = errors.New("imagesieve: unknown context type")
	ErrAnalyzerNotFound   = errors.New("imagesieve: analyzer not configured")
	ErrStoreNotConfigured = errors.New("imagesieve: store not configured")
	ErrEvaluationNotFound = errors.New("imagesieve: evaluation not found")
	ErrTimeout            = errors.New("imagesieve: operation timeout")
	ErrRateLimited        = errors.New("imagesieve: rate limited by analyzer")

	// Network errors
	ErrNetworkUnreachable = errors.New("imagesieve: network unreachable")
	ErrConnectionRefused  = errors.New("imagesieve: connection refused")
	ErrDNSResolution      = errors.New("imagesieve: DNS resolution failed")

	// Auth errors
	ErrAuthFailed        = errors.New("imagesieve: authentication failed")
	ErrInvalidCredential = errors.New("imagesieve: invalid credentials")

	// Config errors
	ErrMissingConfig = errors.New("imagesieve: missing required configuration")
	ErrInvalidConfig = errors.New("imagesieve: invalid configuration")
)

// AnalyzerError represents an error from an external content analyzer.
type AnalyzerError struct {
	Analyzer   string        // Analyzer name (aliyun, tencent, huawei, remote)
	Code       string        // Error code from the analyzer
	Message    string        // Error message
	StatusCode int           // HTTP status code if applicable
	Category   ErrorCategory // Error category for handling
	Retryable  bool          // Whether the analyzer client may retry
	Raw        any           // Raw error response
	Err        error         // Underlying error
}

func (e *AnalyzerError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("imagesieve: analyzer %s error [%d/%s]: %s", e.Analyzer, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("imagesieve: analyzer %s error [%s]: %s", e.Analyzer, e.Code, e.Message)
}

func (e *AnalyzerError) Unwrap() error {
	return e.Err
}

// NewAnalyzerError creates a new analyzer error.
func NewAnalyzerError(analyzer, code, message string) *AnalyzerError {
	ae := &AnalyzerError{
		Analyzer: analyzer,
		Code:     code,
		Message:  message,
		Category: ErrorCategoryAnalyzer,
	}
	ae.Retryable = ae.isRetryable()
	return ae
}

// WithStatusCode sets the HTTP status code.
func (e *AnalyzerError) WithStatusCode(code int) *AnalyzerError {
	e.StatusCode = code
	e.Category = categorizeByStatusCode(code)
	e.Retryable = e.isRetryable()
	return e
}

// WithCategory sets the error category.
func (e *AnalyzerError) WithCategory(cat ErrorCategory) *AnalyzerError {
	e.Category = cat
	e.Retryable = e.isRetryable()
	return e
}

// WithRaw sets the raw error response.
func (e *AnalyzerError) WithRaw(raw any) *AnalyzerError {
	e.Raw = raw
	return e
}

// WithCause sets the underlying error.
func (e *AnalyzerError) WithCause(err error) *AnalyzerError {
	e.Err = err
	return e
}

func (e *AnalyzerError) isRetryable() bool {
	switch e.Category {
	case ErrorCategoryNetwork, ErrorCategoryRateLimit, ErrorCategoryTimeout:
		return true
	}
	switch e.StatusCode {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

func categorizeByStatusCode(code int) ErrorCategory {
	switch {
	case code == 401 || code == 403:
		return ErrorCategoryAuth
	case code == 429:
		return ErrorCategoryRateLimit
	case code == 408 || code == 504:
		return ErrorCategoryTimeout
	case code >= 500:
		return ErrorCategoryInternal
	default:
		return ErrorCategoryAnalyzer
	}
}

// ValidationError represents a request validation error.
type ValidationError struct {
	Field   string // Field that failed validation
	Message string // Validation error message
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("imagesieve: validation error on %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// StoreError represents a database/store error.
type StoreError struct {
	Operation string // Operation that failed (create, update, query)
	Table     string // Table name
	Err       error  // Underlying error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("imagesieve: store error during %s on %s: %v", e.Operation, e.Table, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new store error.
func NewStoreError(operation, table string, err error) *StoreError {
	return &StoreError{Operation: operation, Table: table, Err: err}
}

// IsAnalyzerError checks if an error is an analyzer error.
func IsAnalyzerError(err error) bool {
	var ae *AnalyzerError
	return errors.As(err, &ae)
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsRetryable checks if an error is retryable by an analyzer client.
// The pipeline itself never retries; only analyzer clients consult this.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrNetworkUnreachable) || errors.Is(err, ErrConnectionRefused) {
		return true
	}

	var ae *AnalyzerError
	if errors.As(err, &ae) {
		return ae.Retryable
	}

	return IsNetworkError(err)
}

// IsNetworkError checks if an error is a network-related error.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrNetworkUnreachable) || errors.Is(err, ErrConnectionRefused) ||
		errors.Is(err, ErrDNSResolution) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"i/o timeout",
		"connection timed out",
		"dial tcp",
	}
	for _, pattern := range networkPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}

// GetErrorCategory returns the category of an error.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	var ae *AnalyzerError
	if errors.As(err, &ae) {
		return ae.Category
	}

	if IsNetworkError(err) {
		return ErrorCategoryNetwork
	}
	if errors.Is(err, ErrTimeout) {
		return ErrorCategoryTimeout
	}
	if errors.Is(err, ErrRateLimited) {
		return ErrorCategoryRateLimit
	}
	if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrInvalidCredential) {
		return ErrorCategoryAuth
	}
	if errors.Is(err, ErrMissingConfig) || errors.Is(err, ErrInvalidConfig) {
		return ErrorCategoryConfig
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return ErrorCategoryValidation
	}

	return ErrorCategoryInternal
}

// WrapNetworkError wraps a network error with the matching sentinel.
func WrapNetworkError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") {
		return fmt.Errorf("%w: %v", ErrConnectionRefused, err)
	}
	if strings.Contains(msg, "no such host") || strings.Contains(msg, "dns") {
		return fmt.Errorf("%w: %v", ErrDNSResolution, err)
	}
	if strings.Contains(msg, "network is unreachable") {
		return fmt.Errorf("%w: %v", ErrNetworkUnreachable, err)
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return err
}
