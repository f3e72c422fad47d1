// Package engine is the state-reconciliation core of polsync.
//
// # Overview
//
// Given a desired resource description and the remote resource (if any), the
// engine decides whether the two are equivalent and, if not, converges the
// remote toward the desired state with a single create, update or delete.
// Every reconciliation runs the same strict sequence:
//
//  1. Resolve - exactly one container (folder, snippet or device) and one
//     member per variant group; input errors surface before any network call
//  2. Probe - fetch by (name, container), classified as found or not found
//  3. Diff - compare per the resource schema and build a carry-forward patch
//  4. Act - create, update, delete or nothing; dry-run stops before acting
//
// # Collaborators
//
// The remote API is reached through the Client interface, one per resource
// type. Outcomes are signalled with sentinel errors matched via errors.Is:
//
//	if engine.IsNotFound(err) {
//	    // treat as absent
//	}
//
// # Patches
//
// The remote update endpoint only accepts complete objects, so every patch
// carries the identity fields, the container and every modelled field of the
// existing resource. Only the fields that differ take the desired value:
//
//	diff := engine.Diff(desired, found, addressSchema)
//	if diff.Changed {
//	    updated, err := client.Update(ctx, diff.Patch)
//	}
//
// # Concurrency
//
// A Reconciler holds no mutable state; concurrent reconciliations of the same
// resource stay idempotent through race-tolerant create and delete handling.
// BatchRunner reconciles independent items in parallel with a bounded number
// of workers.
package engine
