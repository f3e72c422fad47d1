package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/openfroyo/polsync/pkg/schema"
	"github.com/openfroyo/polsync/pkg/telemetry"
)

// Request is one reconciliation: a desired state for a resource type.
type Request struct {
	// Schema is the resource type description.
	Schema *schema.ResourceSchema

	// Desired is the desired state, usually built with BuildDesiredState.
	Desired DesiredState

	// State is present or absent. Empty means present.
	State State

	// DryRun performs the probe and diff but no side-effecting call.
	DryRun bool
}

// Reconciler drives one remote resource toward its desired state through a
// fixed sequence: resolve container, probe, diff, act. It holds no state
// between calls and performs no caching or retries.
type Reconciler struct {
	client Client
	guard  Guard
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithGuard installs a guard consulted before every side-effecting operation.
func WithGuard(g Guard) ReconcilerOption {
	return func(r *Reconciler) {
		r.guard = g
	}
}

// NewReconciler creates a reconciler for the given collaborator.
func NewReconciler(client Client, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{client: client}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile is the single-call form of Reconciler.Reconcile.
func Reconcile(ctx context.Context, client Client, desired DesiredState, s *schema.ResourceSchema, state State, dryRun bool) (bool, RemoteResource, error) {
	res, err := NewReconciler(client).Reconcile(ctx, Request{
		Schema:  s,
		Desired: desired,
		State:   state,
		DryRun:  dryRun,
	})
	if err != nil {
		return false, nil, err
	}
	return res.Changed, res.Resource, nil
}

// Reconcile converges the remote resource described by req.
//
//	present, not found -> create
//	present, found     -> noop or update(patch)
//	absent,  found     -> delete
//	absent,  not found -> noop
//
// Container and variant selection errors are returned before any call to the
// collaborator. A create that loses a race against a concurrent create is
// reported as unchanged once a re-probe finds the resource; a delete of an
// already deleted resource is a noop. Every other collaborator error is
// returned unmodified.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (result *Result, err error) {
	if req.Schema == nil {
		return nil, NewInputError("schema is required", nil).WithCode(ErrCodeValidation)
	}
	if req.State == "" {
		req.State = StatePresent
	}
	if err := req.State.Validate(); err != nil {
		return nil, NewInputError(err.Error(), nil).WithCode(ErrCodeValidation)
	}

	s := req.Schema
	name := req.Desired.Name()
	if name == "" {
		return nil, NewInputError(fmt.Sprintf("%s: name is required", s.Type), nil).WithCode(ErrCodeValidation)
	}

	container, err := ResolveContainer(req.Desired, s)
	if err != nil {
		return nil, err
	}

	desired := req.Desired
	if req.State == StatePresent {
		if _, err := ResolveVariants(desired, s); err != nil {
			return nil, withResource(err, name)
		}
		desired = ApplyVariantSelection(desired, s)
	}

	ic := telemetry.StartOperation(ctx, "reconcile",
		telemetry.AttrResourceType.String(s.Type),
		telemetry.AttrResourceName.String(name),
		telemetry.AttrContainer.String(container.String()),
		telemetry.AttrDesiredState.String(string(req.State)),
		telemetry.AttrDryRun.Bool(req.DryRun),
	)
	ctx = ic.Ctx
	logger := ic.Logger.WithResource(s.Type, name)
	defer func() {
		r.observe(ctx, ic, s.Type, result, err)
	}()

	probe, err := Probe(ctx, r.client, name, container)
	if err != nil {
		return nil, err
	}
	logger.Debugf("probe %s in %s: %s", name, container, probe.Outcome)

	switch {
	case req.State == StatePresent && !probe.Found():
		return r.create(ctx, req, desired, name, container)

	case req.State == StatePresent:
		return r.update(ctx, req, desired, name, container, probe.Resource)

	case probe.Found():
		return r.delete(ctx, req, name, container, probe.Resource)

	default:
		return &Result{Operation: OperationNoop, DryRun: req.DryRun}, nil
	}
}

func (r *Reconciler) create(ctx context.Context, req Request, desired DesiredState, name string, container ContainerSelector) (*Result, error) {
	changes := creationChanges(desired, req.Schema)
	if err := r.check(ctx, req, OperationCreate, desired, name, container, changes); err != nil {
		return nil, err
	}

	if req.DryRun {
		return &Result{
			Changed:   true,
			Operation: OperationCreate,
			Resource:  RemoteResource(desired.Clone()),
			Changes:   changes,
			DryRun:    true,
		}, nil
	}

	created, err := r.client.Create(ctx, desired)
	if err != nil {
		if !IsNameNotUnique(err) {
			return nil, err
		}
		// Lost a race against a concurrent create: already satisfied if the
		// resource is there now.
		telemetry.FromContext(ctx).Debugf("create of %s collided, re-probing", name)
		probe, perr := Probe(ctx, r.client, name, container)
		if perr != nil || !probe.Found() {
			return nil, err
		}
		return &Result{Operation: OperationNoop, Resource: probe.Resource}, nil
	}

	return &Result{
		Changed:   true,
		Operation: OperationCreate,
		Resource:  created,
		Changes:   changes,
	}, nil
}

func (r *Reconciler) update(ctx context.Context, req Request, desired DesiredState, name string, container ContainerSelector, found RemoteResource) (*Result, error) {
	diff := Diff(desired, found, req.Schema)
	if !diff.Changed {
		return &Result{Operation: OperationNoop, Resource: found, DryRun: req.DryRun}, nil
	}

	if err := r.check(ctx, req, OperationUpdate, desired, name, container, diff.Changes); err != nil {
		return nil, err
	}

	if req.DryRun {
		return &Result{
			Changed:   true,
			Operation: OperationUpdate,
			Resource:  RemoteResource(cloneMap(diff.Patch)),
			Patch:     diff.Patch,
			Changes:   diff.Changes,
			DryRun:    true,
		}, nil
	}

	updated, err := r.client.Update(ctx, diff.Patch)
	if err != nil {
		return nil, err
	}
	return &Result{
		Changed:   true,
		Operation: OperationUpdate,
		Resource:  updated,
		Patch:     diff.Patch,
		Changes:   diff.Changes,
	}, nil
}

func (r *Reconciler) delete(ctx context.Context, req Request, name string, container ContainerSelector, found RemoteResource) (*Result, error) {
	changes := []Change{{Path: ".", Before: name, Action: ChangeActionRemove}}
	if err := r.check(ctx, req, OperationDelete, req.Desired, name, container, changes); err != nil {
		return nil, err
	}

	if req.DryRun {
		return &Result{
			Changed:   true,
			Operation: OperationDelete,
			Resource:  found,
			Changes:   changes,
			DryRun:    true,
		}, nil
	}

	if err := r.client.Delete(ctx, found.ID()); err != nil {
		if IsNotFound(err) {
			return &Result{Operation: OperationNoop}, nil
		}
		return nil, err
	}
	return &Result{Changed: true, Operation: OperationDelete, Changes: changes}, nil
}

func (r *Reconciler) check(ctx context.Context, req Request, op OperationType, desired DesiredState, name string, container ContainerSelector, changes []Change) error {
	if r.guard == nil {
		return nil
	}
	err := r.guard.Check(ctx, GuardInput{
		ResourceType: req.Schema.Type,
		Operation:    op,
		Name:         name,
		Container:    container,
		Desired:      desired,
		Changes:      changes,
		DryRun:       req.DryRun,
	})
	if err != nil {
		return withResource(err, name)
	}
	return nil
}

func (r *Reconciler) observe(ctx context.Context, ic *telemetry.InstrumentedContext, resourceType string, result *Result, err error) {
	op, outcome := "error", "failed"
	var class ErrorClass
	var code string
	switch {
	case err != nil:
		class, code = ClassOf(err)
		if class == "" {
			class = "unclassified"
		}
		ic.SetAttributes(
			telemetry.AttrErrorClass.String(string(class)),
			telemetry.AttrErrorCode.String(code),
		)
		ic.Logger.WithError(err).Debug("reconcile failed")
	case result != nil:
		op, outcome = string(result.Operation), "unchanged"
		if result.Changed {
			outcome = "changed"
		}
		ic.SetAttributes(
			telemetry.AttrOperation.String(op),
			telemetry.AttrChanged.Bool(result.Changed),
		)
		ic.Logger.Debugf("%s -> %s (changed=%t)", resourceType, op, result.Changed)
	}
	ic.End(err)

	tel := telemetry.FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	tel.Metrics.RecordReconcile(resourceType, op, outcome, ic.Timer.Duration())
	if err != nil {
		tel.Metrics.RecordError(string(class), code)
	}
}

// creationChanges lists every desired field as an addition, sorted by path.
func creationChanges(desired DesiredState, s *schema.ResourceSchema) []Change {
	changes := make([]Change, 0, len(desired))
	for k, v := range desired {
		f, _ := s.Field(k)
		after := v
		if f.Kind == schema.KindSecret || containsSecret(f) {
			after = RedactedValue
		}
		changes = append(changes, Change{Path: k, After: after, Action: ChangeActionAdd})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

// containsSecret reports whether a nested field holds a secret anywhere below it.
func containsSecret(f schema.Field) bool {
	if f.Nested == nil {
		return false
	}
	for _, sub := range f.Nested.Fields {
		if sub.Kind == schema.KindSecret || containsSecret(sub) {
			return true
		}
	}
	return false
}

// withResource attaches the resource name to engine errors; other errors pass
// through untouched.
func withResource(err error, name string) error {
	e, ok := err.(*EngineError)
	if !ok || e.Resource != "" {
		return err
	}
	cp := *e
	cp.Resource = name
	return &cp
}
