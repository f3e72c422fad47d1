package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/polsync/pkg/engine"
	"github.com/openfroyo/polsync/pkg/telemetry"
)

// Engine evaluates Rego guardrails against planned operations. It implements
// engine.Guard and is safe for concurrent use.
type Engine struct {
	mu              sync.RWMutex
	policies        map[string]*compiledPolicy
	store           storage.Store
	logger          zerolog.Logger
	builtinPolicies []Policy
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

var _ engine.Guard = (*Engine)(nil)

// NewEngine creates a new policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies:        make(map[string]*compiledPolicy),
		store:           inmem.New(),
		logger:          logger.With().Str("component", "policy-engine").Logger(),
		builtinPolicies: GetBuiltinPolicies(),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// InputFrom converts a guard request into the policy input document.
func InputFrom(in engine.GuardInput) Input {
	changes := make([]Change, 0, len(in.Changes))
	for _, c := range in.Changes {
		changes = append(changes, Change{
			Path:   c.Path,
			Action: string(c.Action),
			Before: c.Before,
			After:  c.After,
		})
	}
	return Input{
		ResourceType: in.ResourceType,
		Operation:    string(in.Operation),
		Name:         in.Name,
		Container:    Container{Field: in.Container.Field, Value: in.Container.Value},
		Desired:      redactSecrets(in.Desired, in.Changes),
		Changes:      changes,
		DryRun:       in.DryRun,
	}
}

// redactSecrets hides top-level desired values whose changes were redacted.
func redactSecrets(desired engine.DesiredState, changes []engine.Change) map[string]interface{} {
	if desired == nil {
		return nil
	}
	out := map[string]interface{}(desired.Clone())
	for _, c := range changes {
		if c.After != engine.RedactedValue {
			continue
		}
		top := strings.SplitN(c.Path, ".", 2)[0]
		if _, ok := out[top]; ok {
			out[top] = engine.RedactedValue
		}
	}
	return out
}

// Check implements engine.Guard. Warnings are logged and published; blocking
// violations deny the operation with engine.ErrPolicyDenied.
func (e *Engine) Check(ctx context.Context, in engine.GuardInput) error {
	result, err := e.Evaluate(ctx, InputFrom(in))
	if err != nil {
		return err
	}

	tel := telemetry.FromTelemetryContext(ctx)
	report := func(v Violation) {
		if tel == nil {
			return
		}
		tel.Metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
		_ = tel.Events.PublishPolicyViolation(v.ResourceType, v.Resource, v.Policy, string(v.Severity), v.Message)
	}

	for _, w := range result.Warnings {
		e.logger.Warn().
			Str("policy", w.Policy).
			Str("resource_type", w.ResourceType).
			Str("resource", w.Resource).
			Msg(w.Message)
		report(w)
	}
	if result.Allowed {
		return nil
	}

	messages := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		report(v)
		messages = append(messages, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return engine.NewPolicyError(strings.Join(messages, "; "), nil).
		WithResource(in.Name).
		WithOperation(string(in.Operation)).
		WithDetail("violations", result.Violations)
}

// Evaluate runs every enabled policy against the input. A policy that fails
// to evaluate is reported in Result.Errors and does not block.
func (e *Engine) Evaluate(ctx context.Context, in Input) (*Result, error) {
	startTime := time.Now()

	doc, err := toDocument(in)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, doc, in)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Str("resource", in.Name).
				Msg("Policy evaluation failed")
			result.Errors = append(result.Errors, fmt.Sprintf("policy %s evaluation failed: %v", name, err))
			continue
		}

		for _, v := range violations {
			if v.Severity.Blocks() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}

	result.EvaluatedAt = time.Now()
	result.Duration = time.Since(startTime)
	e.logger.Debug().
		Str("resource_type", in.ResourceType).
		Str("resource", in.Name).
		Str("operation", in.Operation).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

// toDocument converts the input into plain JSON values for Rego.
func toDocument(in Input) (interface{}, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy input: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode policy input: %w", err)
	}
	return doc, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, doc interface{}, in Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d, in))
		}
	}

	return violations, nil
}

// createViolation creates a Violation from a deny set member.
func createViolation(policy *Policy, result interface{}, in Input) Violation {
	violation := Violation{
		Policy:       policy.Name,
		ResourceType: in.ResourceType,
		Resource:     in.Name,
		Severity:     policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok && sev != "" {
			violation.Severity = Severity(sev)
		}
		if rem, ok := v["remediation"].(string); ok {
			violation.Remediation = rem
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// LoadPolicies loads policy files and directories and adds them to the engine.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for i := range policies {
		if err := e.AddPolicy(ctx, policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// AddPolicy compiles a policy and adds or replaces it by name.
func (e *Engine) AddPolicy(ctx context.Context, policy Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compileAndStorePolicy(ctx, &policy)
}

// compileAndStorePolicy compiles a policy and stores it. Callers hold mu.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	if policy.Name == "" {
		return fmt.Errorf("policy name is required")
	}
	if policy.Severity == "" {
		policy.Severity = SeverityWarning
	}

	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(e.store),
		rego.Query(module.Package.Path.String()+".deny"),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Str("package", module.Package.Path.String()).
		Msg("Policy compiled successfully")

	return nil
}

// loadBuiltinPolicies loads the built-in policies. Callers hold mu or own e.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	for i := range e.builtinPolicies {
		p := e.builtinPolicies[i]
		if err := e.compileAndStorePolicy(ctx, &p); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(e.builtinPolicies)).
		Msg("Built-in policies loaded")

	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}

	return policies
}

// ReloadPolicies drops every loaded policy and reloads the built-ins.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)
	return e.loadBuiltinPolicies(ctx)
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")

	return nil
}
