package domain

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

var (
	ErrAlreadyStarted   = errors.New("already started")
	ErrNotStarted       = errors.New("not started")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
	ErrNotFound         = errors.New("resource not found")
	ErrClosed           = errors.New("closed")
	ErrTimeout          = errors.New("operation timeout")
	ErrInvalidInput     = errors.New("invalid input")
)

func IsAlreadyStarted(err error) bool {
	return errors.Is(err, ErrAlreadyStarted)
}

func IsNotStarted(err error) bool {
	return errors.Is(err, ErrNotStarted)
}

func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryNetwork       ErrorCategory = "network"
	CategoryStorage       ErrorCategory = "storage"
	CategoryDocument      ErrorCategory = "document"
	CategorySync          ErrorCategory = "sync"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

type ErrorSeverity string

const (
	SeverityDebug    ErrorSeverity = "debug"
	SeverityInfo     ErrorSeverity = "info"
	SeverityWarning  ErrorSeverity = "warning"
	SeverityError    ErrorSeverity = "error"
	SeverityCritical ErrorSeverity = "critical"
)

// ErrorContext carries structured metadata about where and how an error
// occurred, for logs and user-facing reporting.
type ErrorContext struct {
	WorkflowID string         `json:"workflow_id,omitempty"`
	NodeID     string         `json:"node_id,omitempty"`
	Operation  string         `json:"operation,omitempty"`
	Component  string         `json:"component,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	File       string         `json:"file,omitempty"`
	Line       int            `json:"line,omitempty"`
	Function   string         `json:"function,omitempty"`
}

// DomainError is the rich error type used across the module. Category
// drives retry and reporting behavior; Code is a stable machine-readable
// identifier inferred from the message when not set explicitly.
type DomainError struct {
	Category   ErrorCategory `json:"category"`
	Severity   ErrorSeverity `json:"severity"`
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	Cause      error         `json:"-"`
	Retryable  bool          `json:"retryable"`
	UserFacing bool          `json:"user_facing"`
	Timestamp  time.Time     `json:"timestamp"`
	Context    ErrorContext  `json:"context"`
}

type ErrorOption func(*DomainError)

func WithCode(code string) ErrorOption {
	return func(e *DomainError) {
		e.Code = code
	}
}

func WithSeverity(severity ErrorSeverity) ErrorOption {
	return func(e *DomainError) {
		e.Severity = severity
	}
}

func WithComponent(component string) ErrorOption {
	return func(e *DomainError) {
		e.Context.Component = component
	}
}

func WithContextDetail(key string, value any) ErrorOption {
	return func(e *DomainError) {
		if e.Context.Details == nil {
			e.Context.Details = make(map[string]any)
		}
		e.Context.Details[key] = value
	}
}

func NewValidationError(message string, cause error, opts ...ErrorOption) *DomainError {
	return newDomainError(CategoryValidation, message, cause, opts...)
}

func NewNetworkError(message string, cause error, opts ...ErrorOption) *DomainError {
	return newDomainError(CategoryNetwork, message, cause, opts...)
}

func NewStorageError(message string, cause error, opts ...ErrorOption) *DomainError {
	return newDomainError(CategoryStorage, message, cause, opts...)
}

func NewDocumentError(message string, cause error, opts ...ErrorOption) *DomainError {
	return newDomainError(CategoryDocument, message, cause, opts...)
}

func NewSyncError(message string, cause error, opts ...ErrorOption) *DomainError {
	return newDomainError(CategorySync, message, cause, opts...)
}

func NewTimeoutError(message string, cause error, opts ...ErrorOption) *DomainError {
	return newDomainError(CategoryTimeout, message, cause, opts...)
}

func NewConfigurationError(message string, cause error, opts ...ErrorOption) *DomainError {
	return newDomainError(CategoryConfiguration, message, cause, opts...)
}

func NewInternalError(message string, cause error, opts ...ErrorOption) *DomainError {
	return newDomainError(CategoryInternal, message, cause, opts...)
}

// NewDomainErrorWithCategory builds an error for an arbitrary category,
// applying the same defaults and code inference the typed constructors use.
func NewDomainErrorWithCategory(category ErrorCategory, message string, cause error, opts ...ErrorOption) *DomainError {
	return newDomainError(category, message, cause, opts...)
}

func newDomainError(category ErrorCategory, message string, cause error, opts ...ErrorOption) *DomainError {
	e := &DomainError{
		Category:   category,
		Severity:   SeverityError,
		Message:    message,
		Cause:      cause,
		Retryable:  categoryRetryable(category),
		UserFacing: categoryUserFacing(category),
		Timestamp:  time.Now(),
	}

	if pc, file, line, ok := runtime.Caller(2); ok {
		e.Context.File = file
		e.Context.Line = line
		if fn := runtime.FuncForPC(pc); fn != nil {
			e.Context.Function = fn.Name()
		}
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.Code == "" {
		e.Code = inferErrorCode(category, message)
	}

	return e
}

func categoryRetryable(category ErrorCategory) bool {
	switch category {
	case CategoryNetwork, CategoryTimeout:
		return true
	default:
		return false
	}
}

func categoryUserFacing(category ErrorCategory) bool {
	switch category {
	case CategoryValidation, CategoryConfiguration:
		return true
	default:
		return false
	}
}

func inferErrorCode(category ErrorCategory, message string) string {
	lower := strings.ToLower(message)

	switch category {
	case CategoryValidation:
		switch {
		case strings.Contains(lower, "required"):
			return "VALIDATION_REQUIRED"
		case strings.Contains(lower, "duplicate"):
			return "VALIDATION_DUPLICATE"
		case strings.Contains(lower, "cycle"):
			return "VALIDATION_CYCLE"
		case strings.Contains(lower, "not found"):
			return "VALIDATION_NOT_FOUND"
		case strings.Contains(lower, "invalid"):
			return "VALIDATION_INVALID"
		}
		return "VALIDATION_ERROR"
	case CategoryNetwork:
		switch {
		case strings.Contains(lower, "timeout"):
			return "NETWORK_TIMEOUT"
		case strings.Contains(lower, "connection"):
			return "NETWORK_CONNECTION"
		case strings.Contains(lower, "closed"):
			return "NETWORK_CLOSED"
		}
		return "NETWORK_ERROR"
	case CategoryStorage:
		switch {
		case strings.Contains(lower, "not found"):
			return "STORAGE_NOT_FOUND"
		case strings.Contains(lower, "conflict"):
			return "STORAGE_CONFLICT"
		case strings.Contains(lower, "closed"):
			return "STORAGE_CLOSED"
		}
		return "STORAGE_ERROR"
	case CategoryDocument:
		switch {
		case strings.Contains(lower, "not connected"):
			return "DOCUMENT_NOT_CONNECTED"
		case strings.Contains(lower, "not found"):
			return "DOCUMENT_NOT_FOUND"
		}
		return "DOCUMENT_ERROR"
	case CategorySync:
		switch {
		case strings.Contains(lower, "path"):
			return "SYNC_PATH"
		case strings.Contains(lower, "stale"):
			return "SYNC_STALE"
		case strings.Contains(lower, "decode"):
			return "SYNC_DECODE"
		}
		return "SYNC_ERROR"
	case CategoryTimeout:
		return "TIMEOUT"
	case CategoryConfiguration:
		switch {
		case strings.Contains(lower, "missing"):
			return "CONFIG_MISSING"
		case strings.Contains(lower, "required"):
			return "CONFIG_REQUIRED"
		case strings.Contains(lower, "invalid"):
			return "CONFIG_INVALID"
		}
		return "CONFIG_ERROR"
	case CategoryInternal:
		if strings.Contains(lower, "panic") {
			return "INTERNAL_PANIC"
		}
		return "INTERNAL_ERROR"
	}

	return strings.ToUpper(string(category)) + "_ERROR"
}

func (e *DomainError) Error() string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(string(e.Category))
	if e.Context.Component != "" {
		b.WriteByte(':')
		b.WriteString(e.Context.Component)
	}
	b.WriteString("] ")
	b.WriteString(e.Code)
	b.WriteString(" ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is treats two domain errors of the same category as equivalent, so
// errors.Is can be used for category-level matching.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if errors.As(target, &other) {
		return e.Category == other.Category
	}
	return false
}

func (e *DomainError) WithWorkflowID(id string) *DomainError {
	e.Context.WorkflowID = id
	return e
}

func (e *DomainError) WithNodeID(id string) *DomainError {
	e.Context.NodeID = id
	return e
}

func (e *DomainError) WithOperation(op string) *DomainError {
	e.Context.Operation = op
	return e
}

func (e *DomainError) WithContext(key string, value any) *DomainError {
	if e.Context.Details == nil {
		e.Context.Details = make(map[string]any)
	}
	e.Context.Details[key] = value
	return e
}

func IsDomainError(err error) bool {
	var derr *DomainError
	return errors.As(err, &derr)
}

func GetErrorCategory(err error) ErrorCategory {
	var derr *DomainError
	if errors.As(err, &derr) {
		return derr.Category
	}
	return ""
}

func GetErrorSeverity(err error) ErrorSeverity {
	var derr *DomainError
	if errors.As(err, &derr) {
		return derr.Severity
	}
	return ""
}

func GetErrorContext(err error) *ErrorContext {
	var derr *DomainError
	if errors.As(err, &derr) {
		return &derr.Context
	}
	return nil
}

// IsRetryableError reports whether the operation that produced err is
// worth retrying. Non-domain errors are classified by message keywords.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var derr *DomainError
	if errors.As(err, &derr) {
		return derr.Retryable
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "unavailable") ||
		strings.Contains(lower, "temporarily")
}

func IsUserFacingError(err error) bool {
	var derr *DomainError
	if errors.As(err, &derr) {
		return derr.UserFacing
	}
	return false
}

// UserMessage renders err as text safe to show in a notification. Raw
// cause text never leaks; non-user-facing errors collapse to a generic
// sentence for their category.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var derr *DomainError
	if !errors.As(err, &derr) {
		return "Something went wrong. Please try again."
	}
	if derr.UserFacing {
		return derr.Message
	}
	switch derr.Category {
	case CategoryNetwork, CategoryTimeout:
		return "Your changes could not be saved. Check your connection and retry."
	case CategoryStorage:
		return "Your changes could not be written to local storage."
	case CategorySync:
		return "The editor is out of sync with the server. A refresh may be needed."
	case CategoryDocument:
		return "The collaborative session is not available right now."
	default:
		return "Something went wrong. Please try again."
	}
}

// NewPanicError wraps a recovered panic value, capturing the stack so
// dispatch loops can log it and keep going.
func NewPanicError(component string, value any) *DomainError {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return NewInternalError(
		fmt.Sprintf("panic recovered: %v", value),
		nil,
		WithComponent(component),
		WithSeverity(SeverityCritical),
		WithContextDetail("stack", string(buf[:n])),
	)
}
