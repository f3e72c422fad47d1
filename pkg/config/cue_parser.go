package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// CUEParser parses and validates desired-state documents written in CUE,
// YAML or JSON. Every document is validated against the built-in #Document
// schema; resources are additionally checked with validator struct tags.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
	validator      *validator.Validate
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	ctx := cuecontext.New()
	return &CUEParser{
		ctx:            ctx,
		schemaRegistry: newSchemaRegistry(ctx),
		validator:      validator.New(),
	}
}

// IsDocumentFile reports whether the parser reads files with this name.
func IsDocumentFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue", ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// Evaluate parses the sources and fails when any document is invalid.
func (cp *CUEParser) Evaluate(ctx context.Context, sources []string) (*ParsedConfig, error) {
	parsed, err := cp.Parse(ctx, sources)
	if err != nil {
		return nil, err
	}
	if err := parsed.Err(); err != nil {
		return nil, err
	}
	return parsed, nil
}

// Parse parses documents from the given files and directories. Directories
// are walked recursively. I/O failures are returned as errors; invalid
// documents are reported in ParsedConfig.Errors.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*ParsedConfig, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	files, err := cp.collectFiles(sources)
	if err != nil {
		return nil, err
	}

	parsed := &ParsedConfig{
		SourceFiles: files,
		ParsedAt:    time.Now(),
	}
	m := newMerger(parsed)

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		values, errs := cp.loadFile(file)
		parsed.Errors = append(parsed.Errors, errs...)
		for _, val := range values {
			doc := cp.extractDocument(val, file)
			m.add(doc)
		}
	}

	return parsed, nil
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*ParsedConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parsed := &ParsedConfig{
		SourceFiles: []string{"inline"},
		ParsedAt:    time.Now(),
	}

	val := cp.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		parsed.Errors = cp.convertCUEErrors(err, "inline")
		return parsed, nil
	}

	newMerger(parsed).add(cp.extractDocument(val, "inline"))
	return parsed, nil
}

// collectFiles expands directories into their document files.
func (cp *CUEParser) collectFiles(sources []string) ([]string, error) {
	var files []string
	seen := make(map[string]bool)

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		if !info.IsDir() {
			if !seen[source] {
				seen[source] = true
				files = append(files, source)
			}
			continue
		}

		found, err := cp.LoadFromDirectory(source)
		if err != nil {
			return nil, err
		}
		for _, f := range found {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}

	return files, nil
}

// LoadFromDirectory lists the document files below a directory in lexical order.
func (cp *CUEParser) LoadFromDirectory(dir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() && IsDocumentFile(path) {
			files = append(files, path)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return files, nil
}

// loadFile compiles a file into one CUE value per document. YAML files may
// hold several documents separated by "---".
func (cp *CUEParser) loadFile(path string) ([]cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return cp.loadYAML(path, content)
	default:
		// JSON is valid CUE.
		val := cp.ctx.CompileBytes(content, cue.Filename(path))
		if err := val.Err(); err != nil {
			return nil, cp.convertCUEErrors(err, path)
		}
		return []cue.Value{val}, nil
	}
}

func (cp *CUEParser) loadYAML(path string, content []byte) ([]cue.Value, []ValidationError) {
	var values []cue.Value

	dec := yaml.NewDecoder(bytes.NewReader(content))
	for i := 0; ; i++ {
		var doc interface{}
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, []ValidationError{{
				File:     path,
				Message:  fmt.Sprintf("invalid YAML in document %d: %v", i, err),
				Severity: "error",
			}}
		}
		if doc == nil {
			continue
		}

		val := cp.ctx.Encode(doc)
		if err := val.Err(); err != nil {
			return nil, cp.convertCUEErrors(err, path)
		}
		values = append(values, val)
	}

	return values, nil
}

// document is the decoded content of one validated document.
type document struct {
	file      string
	workspace *WorkspaceConfig
	resources []ResourceConfig
	errors    []ValidationError
}

// extractDocument validates a value against #Document and decodes it.
func (cp *CUEParser) extractDocument(val cue.Value, file string) document {
	doc := document{file: file}

	unified, err := cp.schemaRegistry.Unify(SchemaDocument, val)
	if err != nil {
		doc.errors = cp.convertCUEErrors(err, file)
		return doc
	}

	iter, err := unified.Fields()
	if err != nil {
		doc.errors = cp.convertCUEErrors(err, file)
		return doc
	}

	for iter.Next() {
		key := iter.Selector().Unquoted()
		field := iter.Value()

		switch key {
		case "workspace":
			var ws WorkspaceConfig
			if err := decodeJSON(field, &ws); err != nil {
				doc.errors = append(doc.errors, fileError(file, "workspace", err))
				continue
			}
			doc.workspace = &ws

		case "resources":
			doc.resources = append(doc.resources, cp.extractResources(field, file, &doc.errors)...)

		default:
			doc.resources = append(doc.resources, cp.extractEntries(key, field, file, &doc.errors)...)
		}
	}

	sort.SliceStable(doc.resources, func(i, j int) bool {
		return doc.resources[i].ID < doc.resources[j].ID
	})
	return doc
}

// extractResources decodes the "resources" map or list.
func (cp *CUEParser) extractResources(val cue.Value, file string, errs *[]ValidationError) []ResourceConfig {
	var resources []ResourceConfig

	if val.Kind() == cue.ListKind {
		list, err := val.List()
		if err != nil {
			*errs = append(*errs, fileError(file, "resources", err))
			return nil
		}
		for idx := 0; list.Next(); idx++ {
			path := fmt.Sprintf("resources[%d]", idx)
			if rc, ok := cp.extractResource("", list.Value(), file, path, errs); ok {
				resources = append(resources, rc)
			}
		}
		return resources
	}

	iter, err := val.Fields()
	if err != nil {
		*errs = append(*errs, fileError(file, "resources", err))
		return nil
	}
	for iter.Next() {
		key := iter.Selector().Unquoted()
		path := "resources." + iter.Selector().String()
		if rc, ok := cp.extractResource(key, iter.Value(), file, path, errs); ok {
			resources = append(resources, rc)
		}
	}
	return resources
}

// extractResource decodes one #Resource. A map key becomes the ID unless
// the resource sets its own.
func (cp *CUEParser) extractResource(key string, val cue.Value, file, path string, errs *[]ValidationError) (ResourceConfig, bool) {
	var rc ResourceConfig
	if err := decodeJSON(val, &rc); err != nil {
		*errs = append(*errs, fileError(file, path, err))
		return rc, false
	}

	if rc.ID == "" {
		rc.ID = key
	}
	return cp.finishResource(rc, file, path, errs)
}

// extractEntries decodes a concise block: resource type, then resource name.
func (cp *CUEParser) extractEntries(resourceType string, val cue.Value, file string, errs *[]ValidationError) []ResourceConfig {
	if _, err := cp.schemaRegistry.Unify(SchemaEntries, val); err != nil {
		*errs = append(*errs, cp.convertCUEErrors(err, file)...)
		return nil
	}

	var entries map[string]map[string]interface{}
	if err := decodeJSON(val, &entries); err != nil {
		*errs = append(*errs, fileError(file, resourceType, err))
		return nil
	}

	resources := make([]ResourceConfig, 0, len(entries))
	for name, fields := range entries {
		if fields == nil {
			fields = make(map[string]interface{})
		}
		state, _ := fields["state"].(string)
		delete(fields, "state")
		if _, ok := fields["name"]; !ok {
			fields["name"] = name
		}

		rc := ResourceConfig{
			Type:   resourceType,
			State:  state,
			Config: fields,
		}
		if rc, ok := cp.finishResource(rc, file, resourceType+"."+name, errs); ok {
			resources = append(resources, rc)
		}
	}
	return resources
}

func (cp *CUEParser) finishResource(rc ResourceConfig, file, path string, errs *[]ValidationError) (ResourceConfig, bool) {
	if rc.State == "" {
		rc.State = string(rc.Lifecycle())
	}
	if rc.ID == "" {
		rc.ID = rc.Type + "/" + rc.Name()
	}
	rc.Source = file

	if err := cp.validator.Struct(rc); err != nil {
		*errs = append(*errs, fileError(file, path, fmt.Errorf("validation failed: %w", err)))
		return rc, false
	}
	return rc, true
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error, file string) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			File:     file,
			Path:     strings.Join(e.Path(), "."),
			Message:  cueerrors.Details(e, nil),
			Severity: "error",
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 && pos[0].Filename() != "" {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		validationErrors = append(validationErrors, ve)
	}

	return validationErrors
}

// decodeJSON decodes a CUE value through its JSON form so numbers decode
// the same way whatever the source format.
func decodeJSON(val cue.Value, out interface{}) error {
	data, err := val.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func fileError(file, path string, err error) ValidationError {
	return ValidationError{
		File:     file,
		Path:     path,
		Message:  err.Error(),
		Severity: "error",
	}
}

// merger combines documents, rejecting duplicate resource IDs and
// conflicting workspace names.
type merger struct {
	parsed *ParsedConfig
	ids    map[string]string
}

func newMerger(parsed *ParsedConfig) *merger {
	return &merger{parsed: parsed, ids: make(map[string]string)}
}

func (m *merger) add(doc document) {
	m.parsed.Errors = append(m.parsed.Errors, doc.errors...)

	if ws := doc.workspace; ws != nil {
		switch {
		case m.parsed.Workspace.Name == "":
			m.parsed.Workspace = *ws
		case m.parsed.Workspace.Name != ws.Name:
			m.parsed.Errors = append(m.parsed.Errors, ValidationError{
				File:     doc.file,
				Path:     "workspace.name",
				Message:  fmt.Sprintf("workspace %q conflicts with %q", ws.Name, m.parsed.Workspace.Name),
				Severity: "error",
			})
		}
	}

	for _, rc := range doc.resources {
		if prev, ok := m.ids[rc.ID]; ok {
			m.parsed.Errors = append(m.parsed.Errors, ValidationError{
				File:     doc.file,
				Path:     rc.ID,
				Message:  fmt.Sprintf("duplicate resource id %q (first defined in %s)", rc.ID, prev),
				Severity: "error",
			})
			continue
		}
		m.ids[rc.ID] = doc.file
		m.parsed.Resources = append(m.parsed.Resources, rc)
	}
}
