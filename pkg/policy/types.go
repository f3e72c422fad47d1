package policy

import (
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that block the operation.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity denies the operation.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name" yaml:"name"`

	// Description provides a human-readable description.
	Description string `json:"description" yaml:"description"`

	// Rego contains the Rego policy code. The module must define a
	// "deny" set in its package.
	Rego string `json:"rego" yaml:"rego"`

	// Severity is the default severity for violations that do not carry one.
	Severity Severity `json:"severity" yaml:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at" yaml:"-"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// UnmarshalJSON decodes a policy definition. An omitted "enabled" means enabled.
func (p *Policy) UnmarshalJSON(data []byte) error {
	type plain Policy
	out := plain{Enabled: true}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*p = Policy(out)
	return nil
}

// UnmarshalYAML decodes a policy definition. An omitted "enabled" means enabled.
func (p *Policy) UnmarshalYAML(node *yaml.Node) error {
	type plain Policy
	out := plain{Enabled: true}
	if err := node.Decode(&out); err != nil {
		return err
	}
	*p = Policy(out)
	return nil
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// ResourceType and Resource identify the reconciled resource.
	ResourceType string `json:"resource_type,omitempty"`
	Resource     string `json:"resource,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Remediation provides a suggested fix.
	Remediation string `json:"remediation,omitempty"`
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed indicates if the operation is allowed.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists violations that don't block the operation.
	Warnings []Violation `json:"warnings,omitempty"`

	// Errors lists policies that failed to evaluate.
	Errors []string `json:"errors,omitempty"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document policies see as "input".
type Input struct {
	ResourceType string                 `json:"resource_type"`
	Operation    string                 `json:"operation"`
	Name         string                 `json:"name"`
	Container    Container              `json:"container"`
	Desired      map[string]interface{} `json:"desired,omitempty"`
	Changes      []Change               `json:"changes,omitempty"`
	DryRun       bool                   `json:"dry_run"`
}

// Container is the resolved container of the resource.
type Container struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Change is a planned field change. Secret values arrive redacted.
type Change struct {
	Path   string      `json:"path"`
	Action string      `json:"action"`
	Before interface{} `json:"before,omitempty"`
	After  interface{} `json:"after,omitempty"`
}

// Bundle is a versioned collection of policies shipped as one JSON or YAML file.
type Bundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name" yaml:"name"`

	// Version is the bundle version.
	Version string `json:"version" yaml:"version"`

	// Description provides a human-readable description.
	Description string `json:"description" yaml:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies" yaml:"policies"`
}
