package engine

import (
	"context"
)

// Client is the per-resource-type transport collaborator. Implementations
// signal outcomes with the sentinel errors of this package:
//
//   - Fetch fails with ErrNotFound or ErrInvalid.
//   - Create fails with ErrNameNotUnique or ErrInvalid.
//   - Update fails with ErrInvalid.
//   - Delete fails with ErrNotFound or ErrStillReferenced.
//
// Any other error is propagated unmodified. Retries and timeouts are the
// collaborator's responsibility.
type Client interface {
	// Fetch returns the resource with the given name in the container.
	Fetch(ctx context.Context, name string, container ContainerSelector) (RemoteResource, error)

	// Create creates a resource from the desired payload.
	Create(ctx context.Context, payload DesiredState) (RemoteResource, error)

	// Update replaces a resource with the complete patch.
	Update(ctx context.Context, patch Patch) (RemoteResource, error)

	// Delete deletes the resource with the given id.
	Delete(ctx context.Context, id string) error
}

// GuardInput describes a planned side-effecting operation.
type GuardInput struct {
	ResourceType string
	Operation    OperationType
	Name         string
	Container    ContainerSelector
	Desired      DesiredState
	Changes      []Change
	DryRun       bool
}

// Guard vets planned operations before any side-effecting call. A non-nil
// error aborts the reconciliation; denials should match ErrPolicyDenied.
type Guard interface {
	Check(ctx context.Context, in GuardInput) error
}

// Journal records completed batch runs.
type Journal interface {
	RecordRun(ctx context.Context, run *Run) error
}
