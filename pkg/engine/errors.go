package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error.
type ErrorClass string

const (
	// ErrorClassInput indicates the caller supplied an invalid desired state.
	// Input errors are detected before any call to the remote system.
	ErrorClassInput ErrorClass = "input"

	// ErrorClassRemote indicates the remote system rejected or failed an operation.
	ErrorClassRemote ErrorClass = "remote"

	// ErrorClassConflict indicates a state conflict on the remote system.
	// Examples: a name collision on create, a delete blocked by references.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPolicy indicates a guardrail policy denied the planned operation.
	ErrorClassPolicy ErrorClass = "policy"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the resource name that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if inner := e.unwrapMessage(); inner != "" {
		msg = msg + ": " + inner
	}
	if e.Resource != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s)", e.Class, msg, e.Resource, e.Operation)
	}
	if e.Resource != "" {
		return fmt.Sprintf("[%s] %s (resource=%s)", e.Class, msg, e.Resource)
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// unwrapMessage returns the error message from the underlying error chain.
func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
// Two engine errors match when both class and code match.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewInputError creates a new caller input error.
func NewInputError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInput,
		Message: message,
		Err:     err,
	}
}

// NewRemoteError creates a new remote error.
func NewRemoteError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassRemote,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Message: message,
		Err:     err,
	}
}

// NewPolicyError creates a new policy denial error.
func NewPolicyError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPolicy,
		Message: message,
		Code:    ErrCodePolicyDenied,
		Err:     err,
	}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(name string) *EngineError {
	e.Resource = name
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Error codes.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeContainerSelection = "CONTAINER_SELECTION"
	ErrCodeTypeSelection      = "TYPE_SELECTION"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeInvalid            = "INVALID"
	ErrCodeNameNotUnique      = "NAME_NOT_UNIQUE"
	ErrCodeStillReferenced    = "STILL_REFERENCED"
	ErrCodePolicyDenied       = "POLICY_DENIED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// Sentinel errors for errors.Is matching. Collaborators signal outcomes by
// returning (or wrapping) an EngineError with the same class and code, e.g.
//
//	return engine.NewRemoteError("address web not found", nil).WithCode(engine.ErrCodeNotFound)
var (
	ErrValidation         = &EngineError{Class: ErrorClassInput, Code: ErrCodeValidation, Message: "invalid desired state"}
	ErrContainerSelection = &EngineError{Class: ErrorClassInput, Code: ErrCodeContainerSelection, Message: "exactly one container is required"}
	ErrTypeSelection      = &EngineError{Class: ErrorClassInput, Code: ErrCodeTypeSelection, Message: "exactly one variant is required"}
	ErrNotFound           = &EngineError{Class: ErrorClassRemote, Code: ErrCodeNotFound, Message: "resource not found"}
	ErrInvalid            = &EngineError{Class: ErrorClassRemote, Code: ErrCodeInvalid, Message: "invalid request"}
	ErrNameNotUnique      = &EngineError{Class: ErrorClassConflict, Code: ErrCodeNameNotUnique, Message: "name not unique"}
	ErrStillReferenced    = &EngineError{Class: ErrorClassConflict, Code: ErrCodeStillReferenced, Message: "resource still referenced"}
	ErrPolicyDenied       = &EngineError{Class: ErrorClassPolicy, Code: ErrCodePolicyDenied, Message: "denied by policy"}
)

// NotFoundError returns the error a collaborator reports when a lookup misses.
func NotFoundError(format string, args ...interface{}) *EngineError {
	return NewRemoteError(fmt.Sprintf(format, args...), nil).WithCode(ErrCodeNotFound)
}

// InvalidError returns the error a collaborator reports for a rejected request.
func InvalidError(format string, args ...interface{}) *EngineError {
	return NewRemoteError(fmt.Sprintf(format, args...), nil).WithCode(ErrCodeInvalid)
}

// NameNotUniqueError returns the error a collaborator reports for a create
// that collides with an existing name in the same container.
func NameNotUniqueError(format string, args ...interface{}) *EngineError {
	return NewConflictError(fmt.Sprintf(format, args...), nil).WithCode(ErrCodeNameNotUnique)
}

// StillReferencedError returns the error a collaborator reports when a delete
// is blocked by dependent resources.
func StillReferencedError(format string, args ...interface{}) *EngineError {
	return NewConflictError(fmt.Sprintf(format, args...), nil).WithCode(ErrCodeStillReferenced)
}

// IsNotFound returns true if the error signals a missing remote resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalid returns true if the error signals a rejected remote request.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalid)
}

// IsNameNotUnique returns true if the error signals a name collision on create.
func IsNameNotUnique(err error) bool {
	return errors.Is(err, ErrNameNotUnique)
}

// IsStillReferenced returns true if the error signals a delete blocked by references.
func IsStillReferenced(err error) bool {
	return errors.Is(err, ErrStillReferenced)
}

// IsInputError returns true if the error was caused by the caller's desired state.
func IsInputError(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassInput
	}
	return false
}

// IsPolicyDenied returns true if a guardrail policy denied the operation.
func IsPolicyDenied(err error) bool {
	return errors.Is(err, ErrPolicyDenied)
}

// ClassOf returns the class and code of an engine error, or empty strings.
func ClassOf(err error) (ErrorClass, string) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class, e.Code
	}
	return "", ""
}
