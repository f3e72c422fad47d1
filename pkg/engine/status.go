package engine

import (
	"fmt"
)

// State is the desired lifecycle state of a resource.
type State string

const (
	// StatePresent converges the resource to exist with the desired fields.
	StatePresent State = "present"

	// StateAbsent converges the resource to not exist.
	StateAbsent State = "absent"
)

// Validate checks if the state is valid.
func (s State) Validate() error {
	switch s {
	case StatePresent, StateAbsent:
		return nil
	default:
		return fmt.Errorf("invalid state: %q (must be present or absent)", s)
	}
}

// OperationType represents the operation performed on a resource.
type OperationType string

const (
	// OperationCreate indicates a new resource was created.
	OperationCreate OperationType = "create"

	// OperationUpdate indicates an existing resource was updated.
	OperationUpdate OperationType = "update"

	// OperationDelete indicates an existing resource was deleted.
	OperationDelete OperationType = "delete"

	// OperationNoop indicates the resource was already in the desired state.
	OperationNoop OperationType = "noop"
)

// IsDestructive returns true if the operation destroys resources.
func (o OperationType) IsDestructive() bool {
	return o == OperationDelete
}

// Validate checks if the operation type is valid.
func (o OperationType) Validate() error {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete, OperationNoop:
		return nil
	default:
		return fmt.Errorf("invalid operation type: %s", o)
	}
}

// RunStatus represents the overall status of a batch run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every item succeeded.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates every item failed.
	RunStatusFailed RunStatus = "failed"

	// RunStatusPartial indicates some items failed.
	RunStatusPartial RunStatus = "partial"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusPartial
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusPartial:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// ProbeOutcome classifies an existence probe.
type ProbeOutcome string

const (
	// ProbeFound means the remote resource exists.
	ProbeFound ProbeOutcome = "found"

	// ProbeNotFound means the remote resource does not exist.
	ProbeNotFound ProbeOutcome = "not_found"
)
