package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/polsync/pkg/engine"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func findResource(resources []ResourceConfig, id string) *ResourceConfig {
	for i := range resources {
		if resources[i].ID == id {
			return &resources[i]
		}
	}
	return nil
}

func TestCUEParser_ParseInline(t *testing.T) {
	parser := NewCUEParser()
	ctx := context.Background()

	tests := []struct {
		name      string
		content   string
		wantErr   bool
		checkFunc func(*testing.T, *ParsedConfig)
	}{
		{
			name: "resources map",
			content: `
workspace: {
	name: "lab"
}

resources: {
	web: {
		type: "address"
		config: {
			name:       "web"
			folder:     "Texas"
			ip_netmask: "10.0.0.0/24"
			tag: ["A", "B"]
		}
	}
	old: {
		type:  "tag"
		state: "absent"
		config: {name: "old", folder: "Texas"}
	}
}
`,
			checkFunc: func(t *testing.T, pc *ParsedConfig) {
				if pc.Workspace.Name != "lab" {
					t.Errorf("workspace = %q, want lab", pc.Workspace.Name)
				}
				if len(pc.Resources) != 2 {
					t.Fatalf("got %d resources, want 2", len(pc.Resources))
				}
				// Sorted by ID.
				if pc.Resources[0].ID != "old" || pc.Resources[1].ID != "web" {
					t.Errorf("ids = %s, %s", pc.Resources[0].ID, pc.Resources[1].ID)
				}
				web := pc.Resources[1]
				if web.Lifecycle() != engine.StatePresent {
					t.Errorf("web state = %s, want present by default", web.Lifecycle())
				}
				if web.Name() != "web" || web.Type != "address" {
					t.Errorf("web = %+v", web)
				}
				tags, ok := web.Config["tag"].([]interface{})
				if !ok || len(tags) != 2 {
					t.Errorf("tag = %#v, want a two element list", web.Config["tag"])
				}
				if pc.Resources[0].Lifecycle() != engine.StateAbsent {
					t.Errorf("old state = %s, want absent", pc.Resources[0].Lifecycle())
				}
			},
		},
		{
			name: "resources list",
			content: `
resources: [
	{type: "tag", config: {name: "prod", folder: "Texas", color: "Red"}},
	{id: "custom", type: "tag", config: {name: "stage", folder: "Texas"}},
]
`,
			checkFunc: func(t *testing.T, pc *ParsedConfig) {
				if findResource(pc.Resources, "tag/prod") == nil {
					t.Error("list entry without id should default to tag/prod")
				}
				if findResource(pc.Resources, "custom") == nil {
					t.Error("explicit id should be kept")
				}
			},
		},
		{
			name: "numbers decode uniformly",
			content: `
application_filter: risky: {folder: "Texas", risk: [4, 5]}
`,
			checkFunc: func(t *testing.T, pc *ParsedConfig) {
				rc := findResource(pc.Resources, "application_filter/risky")
				if rc == nil {
					t.Fatal("resource not found")
				}
				risk := rc.Config["risk"].([]interface{})
				if _, ok := risk[0].(float64); !ok {
					t.Errorf("risk[0] is %T, want float64", risk[0])
				}
			},
		},
		{
			name: "invalid CUE syntax",
			content: `
workspace: {
	name: "test"
	invalid syntax here
}
`,
			wantErr: true,
		},
		{
			name: "missing config name",
			content: `
resources: web: {
	type: "address"
	config: {folder: "Texas"}
}
`,
			wantErr: true,
		},
		{
			name: "invalid state",
			content: `
resources: web: {
	type:  "address"
	state: "gone"
	config: {name: "web"}
}
`,
			wantErr: true,
		},
		{
			name: "unknown resource field",
			content: `
resources: web: {
	type:   "address"
	colour: "red"
	config: {name: "web"}
}
`,
			wantErr: true,
		},
		{
			name:    "scalar at top level",
			content: `version: "1.0"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc, err := parser.ParseInline(ctx, tt.content)
			if err != nil {
				t.Fatalf("ParseInline() error = %v", err)
			}

			if tt.wantErr {
				if len(pc.Errors) == 0 {
					t.Fatal("expected validation errors, got none")
				}
				if pc.Err() == nil {
					t.Error("Err() should summarise the validation errors")
				}
				return
			}
			if len(pc.Errors) > 0 {
				t.Fatalf("unexpected errors: %v", pc.Errors)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, pc)
			}
		})
	}
}

func TestCUEParser_ConciseEntries(t *testing.T) {
	parser := NewCUEParser()

	pc, err := parser.ParseInline(context.Background(), `
address: {
	web: {folder: "Texas", ip_netmask: "10.0.0.0/24"}
	db: {folder: "Texas", fqdn: "db.example.com", state: "absent"}
	"renamed-key": {name: "api", folder: "Texas", fqdn: "api.example.com"}
}
`)
	if err != nil {
		t.Fatal(err)
	}
	if len(pc.Errors) > 0 {
		t.Fatalf("unexpected errors: %v", pc.Errors)
	}

	web := findResource(pc.Resources, "address/web")
	if web == nil {
		t.Fatal("address/web not found")
	}
	if web.Name() != "web" || web.Lifecycle() != engine.StatePresent {
		t.Errorf("web = %+v", web)
	}

	db := findResource(pc.Resources, "address/db")
	if db == nil {
		t.Fatal("address/db not found")
	}
	if db.Lifecycle() != engine.StateAbsent {
		t.Errorf("db state = %s, want absent", db.Lifecycle())
	}
	if _, ok := db.Config["state"]; ok {
		t.Error("state should be removed from the config")
	}

	if findResource(pc.Resources, "address/api") == nil {
		t.Error("an explicit name should win over the entry key")
	}
}

func TestCUEParser_Parse(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, dir, "00-workspace.cue", `workspace: name: "lab"`)
	writeFile(t, dir, "objects/addresses.yaml", `
resources:
  web:
    type: address
    config:
      name: web
      folder: Texas
      ip_netmask: 10.0.0.0/24
---
tag:
  prod:
    folder: Texas
    color: Red
`)
	writeFile(t, dir, "objects/services.json", `{
  "service": {"https": {"folder": "Texas", "protocol": {"tcp": {"port": "443"}}}}
}`)
	writeFile(t, dir, "README.md", "not a document")

	parser := NewCUEParser()
	pc, err := parser.Parse(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(pc.Errors) > 0 {
		t.Fatalf("unexpected errors: %v", pc.Errors)
	}

	if len(pc.SourceFiles) != 3 {
		t.Errorf("SourceFiles = %v, want 3 document files", pc.SourceFiles)
	}
	if pc.Workspace.Name != "lab" {
		t.Errorf("workspace = %q, want lab", pc.Workspace.Name)
	}

	for _, id := range []string{"web", "tag/prod", "service/https"} {
		rc := findResource(pc.Resources, id)
		if rc == nil {
			t.Errorf("resource %s not found", id)
			continue
		}
		if !strings.HasPrefix(rc.Source, dir) {
			t.Errorf("%s source = %q", id, rc.Source)
		}
	}
}

func TestCUEParser_ParseErrors(t *testing.T) {
	dir := t.TempDir()
	parser := NewCUEParser()
	ctx := context.Background()

	t.Run("duplicate ids across files", func(t *testing.T) {
		a := writeFile(t, dir, "a.cue", `tag: prod: folder: "Texas"`)
		b := writeFile(t, dir, "b.yaml", "tag:\n  prod:\n    folder: Shared\n")

		pc, err := parser.Parse(ctx, []string{a, b})
		if err != nil {
			t.Fatal(err)
		}
		if len(pc.Resources) != 1 || len(pc.Errors) != 1 {
			t.Fatalf("resources = %d, errors = %v", len(pc.Resources), pc.Errors)
		}
		if !strings.Contains(pc.Errors[0].Message, "duplicate resource id") {
			t.Errorf("error = %q", pc.Errors[0].Message)
		}
	})

	t.Run("conflicting workspaces", func(t *testing.T) {
		a := writeFile(t, dir, "ws1.cue", `workspace: name: "one"`)
		b := writeFile(t, dir, "ws2.cue", `workspace: name: "two"`)

		pc, err := parser.Parse(ctx, []string{a, b})
		if err != nil {
			t.Fatal(err)
		}
		if len(pc.Errors) != 1 || pc.Errors[0].Path != "workspace.name" {
			t.Errorf("errors = %v", pc.Errors)
		}
	})

	t.Run("error location", func(t *testing.T) {
		path := writeFile(t, dir, "bad.cue", "resources: web: {\n\ttype: 42\n\tconfig: name: \"web\"\n}\n")

		pc, err := parser.Parse(ctx, []string{path})
		if err != nil {
			t.Fatal(err)
		}
		if len(pc.Errors) == 0 {
			t.Fatal("expected errors")
		}
		if pc.Errors[0].File == "" || pc.Errors[0].Line == 0 {
			t.Errorf("error should carry a location: %+v", pc.Errors[0])
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeFile(t, dir, "bad.yaml", "resources: [unclosed\n")

		pc, err := parser.Parse(ctx, []string{path})
		if err != nil {
			t.Fatal(err)
		}
		if len(pc.Errors) != 1 || pc.Errors[0].File != path {
			t.Errorf("errors = %v", pc.Errors)
		}
	})

	t.Run("missing source", func(t *testing.T) {
		if _, err := parser.Parse(ctx, []string{filepath.Join(dir, "missing.cue")}); err == nil {
			t.Error("Parse() of a missing file should fail")
		}
	})

	t.Run("no sources", func(t *testing.T) {
		if _, err := parser.Parse(ctx, nil); err == nil {
			t.Error("Parse() without sources should fail")
		}
	})

	t.Run("evaluate fails on invalid documents", func(t *testing.T) {
		path := writeFile(t, dir, "invalid.cue", `resources: web: {type: "address", config: {}}`)
		if _, err := parser.Evaluate(ctx, []string{path}); err == nil {
			t.Error("Evaluate() should fail on invalid documents")
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		path := writeFile(t, dir, "ok.cue", `tag: ok: folder: "Texas"`)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := parser.Parse(cctx, []string{path}); err == nil {
			t.Error("Parse() with a cancelled context should fail")
		}
	})
}

func TestIsDocumentFile(t *testing.T) {
	tests := map[string]bool{
		"a.cue":       true,
		"a.yaml":      true,
		"a.YML":       true,
		"a.json":      true,
		"policy.rego": false,
		"README.md":   false,
	}
	for path, want := range tests {
		if got := IsDocumentFile(path); got != want {
			t.Errorf("IsDocumentFile(%q) = %t, want %t", path, got, want)
		}
	}
}
