package policy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/openfroyo/polsync/pkg/engine"
	"github.com/openfroyo/polsync/pkg/telemetry"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	want := []string{"delete-guard", "name-length", "predefined-snippet"}
	if len(policies) != len(want) {
		t.Fatalf("Expected %d built-in policies, got %d", len(want), len(policies))
	}
	for i, p := range policies {
		if p.Name != want[i] {
			t.Errorf("policy %d = %s, want %s", i, p.Name, want[i])
		}
	}
}

func TestBuiltinPolicies(t *testing.T) {
	eng := newTestEngine(t)
	texas := engine.ContainerSelector{Field: "folder", Value: "Texas"}
	predefined := engine.ContainerSelector{Field: "snippet", Value: PredefinedSnippet}

	tests := []struct {
		name         string
		input        engine.GuardInput
		wantAllowed  bool
		wantPolicy   string
		wantWarnings int
	}{
		{
			name:        "plain create",
			input:       engine.GuardInput{ResourceType: "address", Operation: engine.OperationCreate, Name: "web", Container: texas},
			wantAllowed: true,
		},
		{
			name:        "write to predefined snippet",
			input:       engine.GuardInput{ResourceType: "tag", Operation: engine.OperationUpdate, Name: "prod", Container: predefined},
			wantAllowed: false,
			wantPolicy:  "predefined-snippet",
		},
		{
			name:        "name too long",
			input:       engine.GuardInput{ResourceType: "address", Operation: engine.OperationCreate, Name: strings.Repeat("a", MaxNameLength+1), Container: texas},
			wantAllowed: false,
			wantPolicy:  "name-length",
		},
		{
			name:        "name at the limit",
			input:       engine.GuardInput{ResourceType: "address", Operation: engine.OperationCreate, Name: strings.Repeat("a", MaxNameLength), Container: texas},
			wantAllowed: true,
		},
		{
			name:         "delete warns",
			input:        engine.GuardInput{ResourceType: "address", Operation: engine.OperationDelete, Name: "web", Container: texas},
			wantAllowed:  true,
			wantWarnings: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.Evaluate(context.Background(), InputFrom(tt.input))
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if result.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v (violations %+v)", result.Allowed, tt.wantAllowed, result.Violations)
			}
			if tt.wantPolicy != "" {
				if len(result.Violations) != 1 || result.Violations[0].Policy != tt.wantPolicy {
					t.Errorf("violations = %+v, want one from %s", result.Violations, tt.wantPolicy)
				}
			}
			if len(result.Warnings) != tt.wantWarnings {
				t.Errorf("warnings = %+v, want %d", result.Warnings, tt.wantWarnings)
			}
			if len(result.Errors) != 0 {
				t.Errorf("evaluation errors: %v", result.Errors)
			}
			if len(result.EvaluatedPolicies) != 3 {
				t.Errorf("evaluated %v", result.EvaluatedPolicies)
			}
		})
	}
}

func TestCheckDenies(t *testing.T) {
	eng := newTestEngine(t)

	err := eng.Check(context.Background(), engine.GuardInput{
		ResourceType: "tag",
		Operation:    engine.OperationCreate,
		Name:         "prod",
		Container:    engine.ContainerSelector{Field: "snippet", Value: PredefinedSnippet},
		DryRun:       true,
	})
	if !engine.IsPolicyDenied(err) {
		t.Fatalf("Check() error = %v, want policy denial", err)
	}
	if !strings.Contains(err.Error(), "predefined-snippet") {
		t.Errorf("error %q does not name the policy", err)
	}

	var ee *engine.EngineError
	if !errors.As(err, &ee) || ee.Resource != "prod" || ee.Operation != "create" {
		t.Errorf("error context = %+v", ee)
	}
}

func TestCheckRecordsTelemetry(t *testing.T) {
	eng := newTestEngine(t)
	cfg := telemetry.DefaultConfig()
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	var events []telemetry.Event
	tel.Events.Subscribe(func(e telemetry.Event) {
		events = append(events, e)
	}, telemetry.FilterByType(telemetry.EventTypePolicyViolation))

	ctx := tel.WithContext(context.Background())
	err = eng.Check(ctx, engine.GuardInput{
		ResourceType: "address",
		Operation:    engine.OperationDelete,
		Name:         "web",
		Container:    engine.ContainerSelector{Field: "folder", Value: "Texas"},
	})
	if err != nil {
		t.Fatalf("warnings must not block: %v", err)
	}
	if len(events) != 1 || events[0].Resource != "web" {
		t.Errorf("events = %+v", events)
	}

	n, err := testutil.GatherAndCount(tel.Metrics.Registry(), "polsync_policy_violations_total")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("violation series = %d, want 1", n)
	}
}

func TestInputFromRedactsSecrets(t *testing.T) {
	in := InputFrom(engine.GuardInput{
		ResourceType: "ike_gateway",
		Operation:    engine.OperationCreate,
		Name:         "gw",
		Desired: engine.DesiredState{
			"name":           "gw",
			"authentication": map[string]interface{}{"pre_shared_key": map[string]interface{}{"key": "s3cret"}},
		},
		Changes: []engine.Change{
			{Path: "authentication", After: engine.RedactedValue, Action: engine.ChangeActionAdd},
			{Path: "name", After: "gw", Action: engine.ChangeActionAdd},
		},
	})

	if in.Desired["authentication"] != engine.RedactedValue {
		t.Errorf("authentication = %v, want redacted", in.Desired["authentication"])
	}
	if in.Desired["name"] != "gw" {
		t.Errorf("name = %v", in.Desired["name"])
	}
	if len(in.Changes) != 2 || in.Changes[0].Action != "add" {
		t.Errorf("changes = %+v", in.Changes)
	}
}

func TestCustomPolicyOnDesiredState(t *testing.T) {
	eng := newTestEngine(t)
	err := eng.AddPolicy(context.Background(), Policy{
		Name:     "address-description",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package polsync.policies.custom

import rego.v1

deny contains msg if {
	input.resource_type == "address"
	input.operation == "create"
	not input.desired.description
	msg := sprintf("address '%s' needs a description", [input.name])
}`,
	})
	if err != nil {
		t.Fatalf("AddPolicy() error = %v", err)
	}

	base := engine.GuardInput{
		ResourceType: "address",
		Operation:    engine.OperationCreate,
		Name:         "web",
		Container:    engine.ContainerSelector{Field: "folder", Value: "Texas"},
		Desired:      engine.DesiredState{"name": "web", "tag": []string{"A"}},
	}
	if err := eng.Check(context.Background(), base); !engine.IsPolicyDenied(err) {
		t.Errorf("Check() without description error = %v, want denial", err)
	}

	base.Desired = engine.DesiredState{"name": "web", "description": "frontend"}
	if err := eng.Check(context.Background(), base); err != nil {
		t.Errorf("Check() with description error = %v", err)
	}
}

func TestAddPolicyInvalid(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name   string
		policy Policy
	}{
		{"no name", Policy{Rego: "package x\n"}},
		{"syntax error", Policy{Name: "broken", Rego: "package x\n\ndeny contains if {"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := eng.AddPolicy(context.Background(), tt.policy); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	in := engine.GuardInput{
		ResourceType: "tag",
		Operation:    engine.OperationCreate,
		Name:         "prod",
		Container:    engine.ContainerSelector{Field: "snippet", Value: PredefinedSnippet},
	}

	if err := eng.DisablePolicy("predefined-snippet"); err != nil {
		t.Fatalf("DisablePolicy() error = %v", err)
	}
	if err := eng.Check(context.Background(), in); err != nil {
		t.Errorf("disabled policy still blocks: %v", err)
	}

	if err := eng.EnablePolicy("predefined-snippet"); err != nil {
		t.Fatalf("EnablePolicy() error = %v", err)
	}
	if err := eng.Check(context.Background(), in); !engine.IsPolicyDenied(err) {
		t.Errorf("re-enabled policy does not block: %v", err)
	}

	if err := eng.EnablePolicy("nonexistent"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestReloadPolicies(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.AddPolicy(context.Background(), Policy{Name: "extra", Enabled: true, Rego: "package extra\n\nimport rego.v1\n\ndeny contains \"no\" if { false }"}); err != nil {
		t.Fatal(err)
	}
	if len(eng.ListPolicies()) != 4 {
		t.Fatalf("policies = %d, want 4", len(eng.ListPolicies()))
	}

	if err := eng.ReloadPolicies(context.Background()); err != nil {
		t.Fatalf("ReloadPolicies() error = %v", err)
	}
	if _, err := eng.GetPolicy("extra"); err == nil {
		t.Error("custom policy survived reload")
	}
	if _, err := eng.GetPolicy("name-length"); err != nil {
		t.Errorf("built-in missing after reload: %v", err)
	}
}
