package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrConflict is a generic sentinel for logical conflicts (duplicate create, stale flag).
	ErrConflict = errors.New("conflict")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Severity levels matching FHIR OperationOutcome.
type Severity string

const (
	SeverityFatal       Severity = "fatal"
	SeverityError       Severity = "error"
	SeverityWarning     Severity = "warning"
	SeverityInformation Severity = "information"
)

// Standard error codes for the pipeline platform.
const (
	// General (1xxx)
	CodeInternal           = "PAGW-1000"
	CodeInvalidRequest     = "PAGW-1001"
	CodeValidation         = "PAGW-1002"
	CodeNotFound           = "PAGW-1003"
	CodeDuplicate          = "PAGW-1004"
	CodeTimeout            = "PAGW-1005"
	CodeServiceUnavailable = "PAGW-1006"
	CodeConflict           = "PAGW-1007"

	// Processing (5xxx)
	CodeProcessingFailed = "PAGW-5001"
	CodeDownstream       = "PAGW-5002"
	CodeCallbackFailed   = "PAGW-5003"
	CodeSyncTimeout      = "PAGW-5006"

	// Infrastructure (6xxx)
	CodeDatabase = "PAGW-6001"
	CodeStorage  = "PAGW-6002"
	CodeQueue    = "PAGW-6003"
	CodeCache    = "PAGW-6005"
	CodeNetwork  = "PAGW-6006"
)

// PipelineError carries an error code and the pagw id for correlation across
// services. Durability failures are wrapped in one of these and never swallowed.
type PipelineError struct {
	Code     string
	PagwID   string
	Tenant   string
	Severity Severity
	Message  string
	Cause    error
}

func (e *PipelineError) Error() string {
	if e.PagwID != "" {
		return fmt.Sprintf("%s: %s (pagw_id=%s)", e.Code, e.Message, e.PagwID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Cause }

// New builds a PipelineError with error severity.
func New(code, message, pagwID string) *PipelineError {
	return &PipelineError{Code: code, Message: message, PagwID: pagwID, Severity: SeverityError}
}

// Wrap builds a PipelineError around an underlying cause.
func Wrap(code, message, pagwID string, cause error) *PipelineError {
	return &PipelineError{Code: code, Message: message, PagwID: pagwID, Severity: SeverityError, Cause: cause}
}

// CodeOf extracts the pipeline error code from err, or CodeInternal if it does
// not carry one.
func CodeOf(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeInternal
}
