package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/polsync/pkg/schema"
	"github.com/openfroyo/polsync/pkg/telemetry"
)

// Item is one independent reconciliation within a batch.
type Item struct {
	// Key identifies the item in outcomes, e.g. "address/web".
	Key string

	// Schema is the resource type description.
	Schema *schema.ResourceSchema

	// Client is the collaborator for the item's resource type.
	Client Client

	// Desired is the desired state.
	Desired DesiredState

	// State is present or absent.
	State State
}

// BatchRunner reconciles many items in parallel. Items share nothing but the
// remote system, so one failure never affects the others.
type BatchRunner struct {
	maxParallel int
	guard       Guard
	journal     Journal
}

// BatchOption configures a BatchRunner.
type BatchOption func(*BatchRunner)

// WithParallelism limits the number of concurrent reconciliations.
func WithParallelism(n int) BatchOption {
	return func(b *BatchRunner) {
		if n > 0 {
			b.maxParallel = n
		}
	}
}

// WithBatchGuard installs a guard for every item.
func WithBatchGuard(g Guard) BatchOption {
	return func(b *BatchRunner) {
		b.guard = g
	}
}

// WithJournal records every completed run.
func WithJournal(j Journal) BatchOption {
	return func(b *BatchRunner) {
		b.journal = j
	}
}

// NewBatchRunner creates a batch runner. The default parallelism is 4.
func NewBatchRunner(opts ...BatchOption) *BatchRunner {
	b := &BatchRunner{maxParallel: 4}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run reconciles every item and returns the run with one outcome per item in
// input order. The error is non-nil only when the journal could not record
// the run; item failures are reported in the outcomes and the run status.
func (b *BatchRunner) Run(ctx context.Context, items []Item, dryRun bool) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		Status:    RunStatusRunning,
		DryRun:    dryRun,
		StartedAt: time.Now(),
		Outcomes:  make([]Outcome, len(items)),
	}

	rc := telemetry.StartRun(ctx, run.ID, len(items))
	ctx = rc.Ctx
	logger := telemetry.FromContext(ctx)
	logger.Infof("starting run with %d resources (dry_run=%t, parallel=%d)", len(items), dryRun, b.maxParallel)

	var g errgroup.Group
	g.SetLimit(b.maxParallel)
	for i := range items {
		i := i
		g.Go(func() error {
			run.Outcomes[i] = b.reconcileItem(ctx, run.ID, items[i], dryRun)
			return nil
		})
	}
	_ = g.Wait()

	run.CompletedAt = time.Now()
	run.Summary = summarize(run.Outcomes)
	run.Status = statusOf(run.Summary)

	var runErr error
	if run.Summary.Failed > 0 {
		runErr = fmt.Errorf("%d of %d resources failed", run.Summary.Failed, run.Summary.Total)
	}
	rc.End(string(run.Status), runErr)
	logger.Infof("run %s %s: %d created, %d updated, %d deleted, %d unchanged, %d failed",
		run.ID, run.Status, run.Summary.Created, run.Summary.Updated,
		run.Summary.Deleted, run.Summary.Unchanged, run.Summary.Failed)

	if b.journal != nil {
		if err := b.journal.RecordRun(ctx, run); err != nil {
			return run, fmt.Errorf("failed to record run %s: %w", run.ID, err)
		}
	}
	return run, nil
}

func (b *BatchRunner) reconcileItem(ctx context.Context, runID string, item Item, dryRun bool) Outcome {
	start := time.Now()
	out := Outcome{
		Key:  item.Key,
		Name: item.Desired.Name(),
	}
	if item.Schema != nil {
		out.ResourceType = item.Schema.Type
		if c, err := ResolveContainer(item.Desired, item.Schema); err == nil {
			out.Container = c.String()
		}
	}
	if out.Key == "" {
		out.Key = out.ResourceType + "/" + out.Name
	}

	fail := func(err error) Outcome {
		out.Err = err
		out.Error = err.Error()
		_, out.ErrorCode = ClassOf(err)
		out.Duration = time.Since(start)
		if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
			_ = tel.Events.PublishResourceFailed(runID, out.ResourceType, out.Name, out.Error)
		}
		return out
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if item.Client == nil {
		return fail(NewInputError("no client for resource type "+out.ResourceType, nil).WithCode(ErrCodeInternal))
	}

	var opts []ReconcilerOption
	if b.guard != nil {
		opts = append(opts, WithGuard(b.guard))
	}
	res, err := NewReconciler(item.Client, opts...).Reconcile(ctx, Request{
		Schema:  item.Schema,
		Desired: item.Desired,
		State:   item.State,
		DryRun:  dryRun,
	})
	if err != nil {
		return fail(err)
	}

	out.Operation = res.Operation
	out.Changed = res.Changed
	out.Changes = res.Changes
	out.Duration = time.Since(start)
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		_ = tel.Events.PublishResourceReconciled(runID, out.ResourceType, out.Name, string(out.Operation), out.Changed, dryRun)
	}
	return out
}

func summarize(outcomes []Outcome) RunSummary {
	s := RunSummary{Total: len(outcomes)}
	for _, o := range outcomes {
		switch {
		case o.Failed():
			s.Failed++
		case !o.Changed:
			s.Unchanged++
		case o.Operation == OperationCreate:
			s.Created++
		case o.Operation == OperationUpdate:
			s.Updated++
		case o.Operation == OperationDelete:
			s.Deleted++
		}
	}
	return s
}

func statusOf(s RunSummary) RunStatus {
	switch {
	case s.Failed == 0:
		return RunStatusSucceeded
	case s.Failed == s.Total:
		return RunStatusFailed
	default:
		return RunStatusPartial
	}
}
