// Package errors defines the structured error type shared by the template
// store, the HTTP handlers and the configuration layer.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeTemplateNotFound ErrorType = "template_not_found"
	ErrorTypeTemplateParse    ErrorType = "template_parse"
	ErrorTypeRender           ErrorType = "render"
	ErrorTypeEnvironment      ErrorType = "environment"
	ErrorTypeValidation       ErrorType = "validation"
	ErrorTypeConfig           ErrorType = "config"
	ErrorTypeIO               ErrorType = "io"
)

// Common error codes.
const (
	ErrCodeTemplateNotFound = "ERR_TEMPLATE_NOT_FOUND"
	ErrCodeTemplateParse    = "ERR_TEMPLATE_PARSE"
	ErrCodeRenderFailed     = "ERR_RENDER_FAILED"
	ErrCodeWatchFailed      = "ERR_WATCH_FAILED"
	ErrCodeNoEnvironment    = "ERR_NO_ENVIRONMENT"
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeInvalidPath      = "ERR_INVALID_PATH"
	ErrCodeFormInvalid      = "ERR_FORM_INVALID"
	ErrCodeFieldMissing     = "ERR_FIELD_MISSING"
	ErrCodeWalkFailed       = "ERR_WALK_FAILED"
	ErrCodeUnsupportedMedia = "ERR_UNSUPPORTED_MEDIA"
	ErrCodeBodyTooLarge     = "ERR_BODY_TOO_LARGE"
)

// Sentinels usable with errors.Is. Matching compares Type only.
var (
	ErrTemplateNotFound = &AppError{Type: ErrorTypeTemplateNotFound}
	ErrTemplateParse    = &AppError{Type: ErrorTypeTemplateParse}
	ErrRender           = &AppError{Type: ErrorTypeRender}
	ErrEnvironment      = &AppError{Type: ErrorTypeEnvironment}
)

// AppError is a structured error type with context.
type AppError struct {
	Type     ErrorType
	Code     string
	Message  string
	Cause    error
	Context  map[string]interface{}
	Template string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Template != "" {
		parts = append(parts, "template:"+e.Template)
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else {
		parts = append(parts, string(e.Type))
	}

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports a match when target is an *AppError of the same Type and,
// if target has a Code, the same Code.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	if e.Type != t.Type {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

// WithContext adds context information to the error.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithTemplate records the template name the error concerns.
func (e *AppError) WithTemplate(name string) *AppError {
	e.Template = name

	return e
}

// NewTemplateNotFoundError reports a template name absent from the environment.
func NewTemplateNotFoundError(name string) *AppError {
	return &AppError{
		Type:     ErrorTypeTemplateNotFound,
		Code:     ErrCodeTemplateNotFound,
		Message:  "template not found",
		Template: name,
	}
}

// NewTemplateParseError wraps a syntax error for a template file.
func NewTemplateParseError(name string, cause error) *AppError {
	return &AppError{
		Type:     ErrorTypeTemplateParse,
		Code:     ErrCodeTemplateParse,
		Message:  "template failed to parse",
		Cause:    cause,
		Template: name,
	}
}

// NewRenderError wraps a failure while executing a template.
func NewRenderError(name string, cause error) *AppError {
	return &AppError{
		Type:     ErrorTypeRender,
		Code:     ErrCodeRenderFailed,
		Message:  "template render failed",
		Cause:    cause,
		Template: name,
	}
}

// NewEnvironmentError reports a failure acquiring or maintaining the
// template environment (missing snapshot, watcher failure).
func NewEnvironmentError(code, message string, cause error) *AppError {
	return &AppError{
		Type:    ErrorTypeEnvironment,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *AppError {
	return &AppError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *AppError {
	return &AppError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsType reports whether err wraps an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Type == t
	}

	return false
}

// TypeOf returns the ErrorType of err, or "unknown" for foreign errors.
func TypeOf(err error) ErrorType {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Type
	}

	return "unknown"
}

// HTTPStatus maps an error to the status code a handler should answer with.
// Everything between route dispatch and the response writer is a 500;
// only request validation failures are the caller's fault.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var ae *AppError
	if errors.As(err, &ae) && ae.Type == ErrorTypeValidation {
		switch ae.Code {
		case ErrCodeFormInvalid:
			return http.StatusBadRequest
		case ErrCodeUnsupportedMedia:
			return http.StatusUnsupportedMediaType
		case ErrCodeBodyTooLarge:
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusUnprocessableEntity
	}

	return http.StatusInternalServerError
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// ErrorHandler provides centralized error logging.
type ErrorHandler struct {
	logger Logger
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs err at a level matching its type.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var ae *AppError
	if !errors.As(err, &ae) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch ae.Type {
	case ErrorTypeValidation:
		h.logger.Warn(ctx, err, "Validation error occurred",
			"type", ae.Type,
			"code", ae.Code)
	default:
		h.logger.Error(ctx, err, "Error occurred",
			"type", ae.Type,
			"code", ae.Code,
			"template", ae.Template)
	}
}
