package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// Built-in schema names.
const (
	SchemaDocument  = "document"
	SchemaResource  = "resource"
	SchemaWorkspace = "workspace"
	SchemaEntries   = "entries"
)

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	return newSchemaRegistry(cuecontext.New())
}

func newSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas. They share one
// source so definitions can refer to each other.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	definitions := map[string]string{
		SchemaDocument:  "#Document",
		SchemaResource:  "#Resource",
		SchemaWorkspace: "#Workspace",
		SchemaEntries:   "#Entries",
	}
	for name, def := range definitions {
		if err := sr.RegisterSchema(name, def, builtinDocumentSchema); err != nil {
			panic(fmt.Sprintf("built-in schema %s: %v", name, err))
		}
	}
}

// RegisterSchema compiles source and registers its definition def (e.g.
// "#Document") under name.
func (sr *SchemaRegistry) RegisterSchema(name, def, source string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	defVal := val.LookupPath(cue.ParsePath(def))
	if !defVal.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, def)
	}
	if err := defVal.Err(); err != nil {
		return fmt.Errorf("schema %s: %w", name, err)
	}

	sr.schemas[name] = defVal
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	_, err := sr.Unify(schemaName, dataVal)
	return err
}

// Unify unifies val with a named schema and requires the result to be
// concrete. Defaults declared by the schema are applied.
func (sr *SchemaRegistry) Unify(schemaName string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, err
	}

	return unified, nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// builtinDocumentSchema describes desired-state documents. A document holds
// an optional workspace, a "resources" map or list, and any number of
// concise blocks keyed by resource type then resource name:
//
//	address: web: {folder: "Texas", ip_netmask: "10.0.0.0/24"}
const builtinDocumentSchema = `
#Type: string & =~"^[a-z][a-z0-9_]*$"

#State: *"present" | "absent"

#Workspace: {
	name:         string & =~"^[a-zA-Z0-9_.-]+$"
	description?: string
	metadata?: {[string]: _}
}

#Resource: {
	id?:   string & !=""
	type:  #Type
	state: #State
	config: {
		name: string & !=""
		...
	}
	labels?: {[string]: string}
}

#Entries: {
	[string]: {
		state?: "present" | "absent"
		name?:  string & !=""
		...
	}
}

#Document: {
	workspace?: #Workspace
	resources?: {[string]: #Resource} | [...#Resource]
	...
}
`
