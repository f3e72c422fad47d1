// Package policy provides Open Policy Agent (OPA) guardrails for polsync.
//
// The Engine implements engine.Guard: the reconciler consults it after the
// diff and before any side-effecting call, in dry-run too, so check mode
// reports the same denials a real run would hit.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//	    return err
//	}
//	r := engine.NewReconciler(client, engine.WithGuard(eng))
//
// # Input
//
// Every policy sees the planned operation as input:
//
//	{
//	  "resource_type": "address",
//	  "operation": "create",
//	  "name": "web",
//	  "container": {"field": "folder", "value": "Texas"},
//	  "desired": {...},
//	  "changes": [{"path": "ip_netmask", "action": "modify", ...}],
//	  "dry_run": false
//	}
//
// Secret values are redacted in both desired and changes.
//
// # Built-in Policies
//
//  1. predefined-snippet - Denies changes inside the read-only predefined snippet
//  2. name-length - Denies names longer than 63 characters
//  3. delete-guard - Warns on every delete
//
// # Custom Policies
//
// Policies define a "deny" set. Members are either strings or objects with
// message, severity and remediation keys:
//
//	package custom.policies.tags
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.resource_type == "address"
//	    not "managed" in input.desired.tag
//	    violation := {
//	        "message": sprintf("address '%s' must carry the managed tag", [input.name]),
//	        "severity": "error",
//	    }
//	}
//
// Policies are loaded from .rego files, or from JSON/YAML files holding one
// policy or a bundle of them.
//
// # Severity Levels
//
//   - info, warning: reported, never block
//   - error, critical: deny the operation with engine.ErrPolicyDenied
package policy
