package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

const denyTestRego = `# Blocks the test address.
# severity: critical
package test.policy

import rego.v1

deny contains msg if {
	input.name == "invalid"
	msg := "invalid resource name"
}`

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	policyFile := filepath.Join(t.TempDir(), "test-policy.rego")
	writeFile(t, policyFile, denyTestRego)

	policies, err := loader.loadFromFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}

	policy := policies[0]
	if policy.Name != "test-policy" {
		t.Errorf("Expected name 'test-policy', got '%s'", policy.Name)
	}
	if policy.Description != "Blocks the test address." {
		t.Errorf("description = %q", policy.Description)
	}
	if policy.Severity != SeverityCritical {
		t.Errorf("severity = %s, want critical", policy.Severity)
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
	if policy.Metadata["source"] != policyFile {
		t.Errorf("source = %v", policy.Metadata["source"])
	}
}

func TestLoadFromFile_Definitions(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name        string
		file        string
		content     string
		wantNames   []string
		wantEnabled []bool
	}{
		{
			name:        "json policy",
			file:        "one.json",
			content:     `{"name": "json-policy", "severity": "error", "rego": "package a\n"}`,
			wantNames:   []string{"json-policy"},
			wantEnabled: []bool{true},
		},
		{
			name: "yaml bundle",
			file: "bundle.yaml",
			content: `name: site
version: "1.0"
policies:
  - name: first
    rego: "package b\n"
  - name: second
    enabled: false
    rego: "package c\n"
`,
			wantNames:   []string{"first", "second"},
			wantEnabled: []bool{true, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			writeFile(t, path, tt.content)

			policies, err := NewLoader(zerolog.Nop()).loadFromFile(path)
			if err != nil {
				t.Fatalf("loadFromFile() error = %v", err)
			}
			if len(policies) != len(tt.wantNames) {
				t.Fatalf("got %d policies, want %d", len(policies), len(tt.wantNames))
			}
			for i, p := range policies {
				if p.Name != tt.wantNames[i] || p.Enabled != tt.wantEnabled[i] {
					t.Errorf("policy %d = %s enabled=%v", i, p.Name, p.Enabled)
				}
				if p.Severity == "" {
					t.Errorf("policy %s has no default severity", p.Name)
				}
			}
		})
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unsupported type", "policy.txt", "not a policy"},
		{"invalid json", "bad.json", "{not json"},
		{"missing rego", "norego.json", `{"name": "x"}`},
		{"missing name", "noname.yaml", "rego: \"package x\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			writeFile(t, path, tt.content)
			if _, err := NewLoader(zerolog.Nop()).loadFromFile(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadFromDirectory_Recursive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.rego"), denyTestRego)
	writeFile(t, filepath.Join(dir, "nested", "deeper", "b.rego"), denyTestRego)
	writeFile(t, filepath.Join(dir, "nested", "broken.json"), "{")
	writeFile(t, filepath.Join(dir, "README.md"), "# policies")

	policies, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if len(policies) != 2 {
		t.Errorf("Expected 2 policies (broken and non-policy files skipped), got %d", len(policies))
	}
}

func TestLoadFromPath_NonExistent(t *testing.T) {
	_, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{"/nonexistent/path"})
	if err == nil {
		t.Error("Expected error for non-existent path")
	}
}

func TestEngineLoadPolicies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "deny-invalid.rego"), denyTestRego)

	eng := newTestEngine(t)
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}

	result, err := eng.Evaluate(context.Background(), Input{ResourceType: "address", Operation: "create", Name: "invalid"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed || len(result.Violations) != 1 || result.Violations[0].Severity != SeverityCritical {
		t.Errorf("result = %+v", result)
	}
}

func TestExtractHeader(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		wantDesc     string
		wantSeverity Severity
	}{
		{"single line", "# Simple policy\npackage test", "Simple policy", SeverityWarning},
		{"multi line", "# First line\n# Second line\n#\npackage test", "First line Second line", SeverityWarning},
		{"severity", "# severity: error\n# Blocks things\npackage test", "Blocks things", SeverityError},
		{"comments after package ignored", "package test\n# not a header", "", SeverityWarning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, sev := extractHeader(tt.content)
			if desc != tt.wantDesc || sev != tt.wantSeverity {
				t.Errorf("extractHeader() = %q, %s; want %q, %s", desc, sev, tt.wantDesc, tt.wantSeverity)
			}
		})
	}
}
