package engine

import (
	"fmt"
	"time"
)

// DesiredState is the caller's desired field values for one resource, with
// control fields stripped and unset values dropped. Absent keys mean "not
// specified"; they are never treated as explicit nulls.
type DesiredState map[string]interface{}

// Name returns the desired resource name.
func (d DesiredState) Name() string {
	s, _ := d["name"].(string)
	return s
}

// Clone returns a deep copy of the desired state.
func (d DesiredState) Clone() DesiredState {
	if d == nil {
		return nil
	}
	return DesiredState(cloneMap(d))
}

// ContainerSelector is the single location (folder, snippet or device) that
// scopes a resource.
type ContainerSelector struct {
	// Field is the container field name, e.g. "folder".
	Field string `json:"field"`

	// Value is the container name, e.g. "Texas".
	Value string `json:"value"`
}

// IsZero reports whether no container was selected.
func (c ContainerSelector) IsZero() bool {
	return c.Field == ""
}

// String renders the selector as field=value.
func (c ContainerSelector) String() string {
	if c.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s=%s", c.Field, c.Value)
}

// RemoteResource is an object returned by the remote API. It is read through
// named field accessors; fields the schema does not model are never inspected.
type RemoteResource map[string]interface{}

// Get returns the value of a field. Null values count as absent.
func (r RemoteResource) Get(field string) (interface{}, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// String returns a string field, or "".
func (r RemoteResource) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// ID returns the server-assigned identifier.
func (r RemoteResource) ID() string {
	return r.String("id")
}

// Name returns the resource name.
func (r RemoteResource) Name() string {
	return r.String("name")
}

// Clone returns a deep copy of the resource.
func (r RemoteResource) Clone() RemoteResource {
	if r == nil {
		return nil
	}
	return RemoteResource(cloneMap(r))
}

// Patch is the complete payload sent to the remote update operation: identity
// fields, the container, and every modelled field of the existing resource
// overlaid with the desired values that differ.
type Patch map[string]interface{}

// ChangeAction represents the type of change to a field.
type ChangeAction string

const (
	// ChangeActionAdd sets a field the remote resource does not have.
	ChangeActionAdd ChangeAction = "add"

	// ChangeActionModify replaces an existing value.
	ChangeActionModify ChangeAction = "modify"

	// ChangeActionRemove drops a field, e.g. the previous member of a variant group.
	ChangeActionRemove ChangeAction = "remove"
)

// Change describes one field-level difference.
type Change struct {
	// Path is the dotted field path, e.g. "lifetime.hours".
	Path string `json:"path"`

	// Before is the existing value.
	Before interface{} `json:"before,omitempty"`

	// After is the desired value.
	After interface{} `json:"after,omitempty"`

	// Action is the kind of change.
	Action ChangeAction `json:"action"`
}

// RedactedValue replaces secret values in reported changes.
const RedactedValue = "(sensitive)"

// Result is the outcome of a single reconciliation.
type Result struct {
	// Changed reports whether the remote resource was (or in dry-run, would be) modified.
	Changed bool `json:"changed"`

	// Operation is the operation that was (or would be) performed.
	Operation OperationType `json:"operation"`

	// Resource is the final remote resource. In dry-run it is the projected
	// resource: the desired payload for create, the patch for update and the
	// found resource for delete. Nil after a delete or when absent.
	Resource RemoteResource `json:"resource,omitempty"`

	// Patch is the update payload, set for updates only.
	Patch Patch `json:"patch,omitempty"`

	// Changes lists field-level differences for reporting.
	Changes []Change `json:"changes,omitempty"`

	// DryRun is true when no side-effecting call was made.
	DryRun bool `json:"dry_run"`
}

// Run is a batch of independent reconciliations.
type Run struct {
	// ID is the unique identifier for this run.
	ID string `json:"id"`

	// Status is the final run status.
	Status RunStatus `json:"status"`

	// DryRun is true for check-mode runs.
	DryRun bool `json:"dry_run"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run completed.
	CompletedAt time.Time `json:"completed_at"`

	// Summary contains counts by outcome.
	Summary RunSummary `json:"summary"`

	// Outcomes holds one entry per item, in input order.
	Outcomes []Outcome `json:"outcomes"`
}

// RunSummary contains summary statistics for a run.
type RunSummary struct {
	Total     int `json:"total"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// Outcome is the result of one item of a batch run. It never carries desired
// or remote payloads.
type Outcome struct {
	// Key identifies the item within the run, e.g. "address/web".
	Key string `json:"key"`

	// ResourceType is the schema type of the item.
	ResourceType string `json:"resource_type"`

	// Name is the resource name.
	Name string `json:"name"`

	// Container is the resolved container, e.g. "folder=Texas".
	Container string `json:"container,omitempty"`

	// Operation is the operation performed.
	Operation OperationType `json:"operation,omitempty"`

	// Changed reports whether the item changed.
	Changed bool `json:"changed"`

	// Changes lists field-level differences.
	Changes []Change `json:"changes,omitempty"`

	// Error is the failure message, if any.
	Error string `json:"error,omitempty"`

	// ErrorCode is the engine error code of the failure, if any.
	ErrorCode string `json:"error_code,omitempty"`

	// Duration is how long the item took.
	Duration time.Duration `json:"duration"`

	// Err is the original error.
	Err error `json:"-"`
}

// Failed reports whether the item failed.
func (o Outcome) Failed() bool {
	return o.Error != ""
}
