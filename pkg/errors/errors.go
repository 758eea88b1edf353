// Package errors defines the categorized error type used across the ledger
// reconstruction pipeline.
//
// Errors fall into two broad families that drive the processing policy:
//   - fatal errors (undetectable layout version, unreadable mandatory catalog,
//     empty input) abort the current filing and carry enough context for the
//     batch driver to continue with the next one;
//   - recoverable conditions (malformed lines, missing optional relations) are
//     never represented as errors at all — they are logged skips or empty
//     relations handled at the call site.
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryFile           ErrorCategory = "file"
	CategoryLayout         ErrorCategory = "layout"
	CategoryParse          ErrorCategory = "parse"
	CategoryCatalog        ErrorCategory = "catalog"
	CategoryReconciliation ErrorCategory = "reconciliation"
	CategoryInternal       ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"
	CodeEmptyInput     ErrorCode = "empty_input"

	// Layout errors
	CodeVersionUndetected ErrorCode = "version_undetected"
	CodeLayoutUnknown     ErrorCode = "layout_unknown"
	CodeLayoutInvalid     ErrorCode = "layout_invalid"

	// Parse errors
	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeInvalidData   ErrorCode = "invalid_data"

	// Catalog errors
	CodeCatalogUnreadable ErrorCode = "catalog_unreadable"
	CodeChartUnreadable   ErrorCode = "chart_unreadable"

	// Reconciliation errors
	CodeMissingRelation ErrorCode = "missing_relation"
	CodeProcessingError ErrorCode = "processing_error"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// PipelineError is the base error type for all application errors
type PipelineError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *PipelineError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryLayout, CategoryParse:
		return 3
	case CategoryCatalog:
		return 4
	case CategoryReconciliation, CategoryInternal:
		return 5
	default:
		return 1
	}
}

// IsFatal reports whether the error aborts the current filing. Every
// PipelineError that actually gets returned is fatal for its filing;
// recoverable conditions never become PipelineErrors.
func (e *PipelineError) IsFatal() bool {
	return true
}

// WithContext adds context information to the error
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *PipelineError) WithSuggestion(suggestion string) *PipelineError {
	e.Suggestion = suggestion
	return e
}

// New creates a new PipelineError
func New(category ErrorCategory, code ErrorCode, message string) *PipelineError {
	return &PipelineError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with PipelineError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *PipelineError {
	if err == nil {
		return nil
	}

	return &PipelineError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Specific error constructors

// FileError creates a file-related error
func FileError(code ErrorCode, path string, err error) *PipelineError {
	var message string
	var suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", path)
		suggestion = "check if the file path is correct and the file exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing file: %s", path)
		suggestion = "check file permissions and ensure you have read access"
	case CodeEmptyInput:
		message = fmt.Sprintf("input stream is empty: %s", path)
		suggestion = "verify the bookkeeping file was exported completely"
	default:
		message = fmt.Sprintf("file error: %s", path)
		suggestion = "check the file and try again"
	}

	var result *PipelineError
	if err != nil {
		result = Wrap(err, CategoryFile, code, message)
	} else {
		result = New(CategoryFile, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("file_path", path)
}

// LayoutError creates a layout-detection or layout-definition error. Layout
// problems are always fatal for the filing: there is no safe default layout.
func LayoutError(code ErrorCode, file, version string, err error) *PipelineError {
	var message string
	var suggestion string

	switch code {
	case CodeVersionUndetected:
		message = fmt.Sprintf("layout version marker not found in %s", file)
		suggestion = "verify the file carries a version-marker record near the top"
	case CodeLayoutUnknown:
		message = fmt.Sprintf("no layout definition registered for version %s (file %s)", version, file)
		suggestion = "install the layout document for this version in the layout directory"
	case CodeLayoutInvalid:
		message = fmt.Sprintf("layout document for version %s is invalid", version)
		suggestion = "validate the layout JSON against the expected structure"
	default:
		message = fmt.Sprintf("layout error for %s", file)
		suggestion = "check the layout configuration"
	}

	var result *PipelineError
	if err != nil {
		result = Wrap(err, CategoryLayout, code, message)
	} else {
		result = New(CategoryLayout, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("file", file).
		WithContext("version", version)
}

// ParseError creates a parsing-related error
func ParseError(code ErrorCode, file string, line int, record string, err error) *PipelineError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidFormat:
		message = fmt.Sprintf("invalid format in file %s at line %d (record %s)", file, line, record)
		suggestion = "check the line structure and the field delimiters"
	case CodeInvalidData:
		message = fmt.Sprintf("invalid data in file %s at line %d (record %s)", file, line, record)
		suggestion = "correct the field value or remove the invalid line"
	default:
		message = fmt.Sprintf("parse error in file %s at line %d", file, line)
		suggestion = "check the file format and data integrity"
	}

	var result *PipelineError
	if err != nil {
		result = Wrap(err, CategoryParse, code, message)
	} else {
		result = New(CategoryParse, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("file", file).
		WithContext("line", line).
		WithContext("record", record)
}

// CatalogError creates a reference-catalog error. Only raised when mapping is
// mandatory for the run; an absent catalog entry is otherwise "no mapping
// possible", not an error.
func CatalogError(code ErrorCode, path string, err error) *PipelineError {
	var message string
	var suggestion string

	switch code {
	case CodeCatalogUnreadable:
		message = fmt.Sprintf("reference catalog unreadable: %s", path)
		suggestion = "check the catalog index file exists and is valid JSON"
	case CodeChartUnreadable:
		message = fmt.Sprintf("reference chart table unreadable: %s", path)
		suggestion = "check the chart table file exists and is pipe-delimited"
	default:
		message = fmt.Sprintf("catalog error: %s", path)
		suggestion = "check the reference catalog installation"
	}

	var result *PipelineError
	if err != nil {
		result = Wrap(err, CategoryCatalog, code, message)
	} else {
		result = New(CategoryCatalog, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("path", path)
}

// ReconciliationError creates a reconciliation-related error
func ReconciliationError(code ErrorCode, operation string, err error) *PipelineError {
	var message string
	var suggestion string

	switch code {
	case CodeMissingRelation:
		message = fmt.Sprintf("required relation missing during %s", operation)
		suggestion = "verify the filing contains the record types this step needs"
	case CodeProcessingError:
		message = fmt.Sprintf("processing error during %s", operation)
		suggestion = "check the filing data and try again"
	default:
		message = fmt.Sprintf("reconciliation error during %s", operation)
		suggestion = "review the data and configuration"
	}

	var result *PipelineError
	if err != nil {
		result = Wrap(err, CategoryReconciliation, code, message)
	} else {
		result = New(CategoryReconciliation, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *PipelineError {
	message := fmt.Sprintf("internal error during %s", operation)
	suggestion := "this is likely a bug - please report it with the error details"

	var result *PipelineError
	if err != nil {
		result = Wrap(err, CategoryInternal, code, message)
	} else {
		result = New(CategoryInternal, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors, typically collected by
// the batch driver across filings.
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*PipelineError      `json:"errors"`
	SampleErrors []*PipelineError      `json:"sample_errors,omitempty"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*PipelineError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if len(errs) == 0 {
		summary.Errors = []*PipelineError{}
		return summary
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	maxSamples := 5
	if len(errs) > maxSamples {
		summary.SampleErrors = errs[:maxSamples]
	} else {
		summary.SampleErrors = errs
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	count, exists := es.ByCategory[category]
	return exists && count > 0
}

// GetExitCode returns the highest priority exit code from all errors
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}

	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}

	return maxCode
}

// AsPipelineError extracts a PipelineError from an error chain
func AsPipelineError(err error) (*PipelineError, bool) {
	var pipelineErr *PipelineError
	if errors.As(err, &pipelineErr) {
		return pipelineErr, true
	}
	return nil, false
}

// WrapIfNeeded wraps an error if it's not already a PipelineError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *PipelineError {
	if err == nil {
		return nil
	}

	if pipelineErr, ok := AsPipelineError(err); ok {
		return pipelineErr
	}

	return Wrap(err, category, code, message)
}
