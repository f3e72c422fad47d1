package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/polsync/pkg/engine"
	"github.com/openfroyo/polsync/pkg/schema"
)

// ResourceConfig is one desired resource from a document.
type ResourceConfig struct {
	// ID identifies the resource across documents. Defaults to "<type>/<name>".
	ID string `json:"id" validate:"required"`

	// Type is the resource type (e.g. "address", "security_rule").
	Type string `json:"type" validate:"required"`

	// State is present or absent.
	State string `json:"state" validate:"required,oneof=present absent"`

	// Config holds the resource fields, including its name and container.
	Config map[string]interface{} `json:"config" validate:"required"`

	// Labels are key-value pairs for selecting resources.
	Labels map[string]string `json:"labels,omitempty"`

	// Source is the file the resource was read from.
	Source string `json:"source,omitempty"`
}

// Name returns the resource name from its config.
func (rc ResourceConfig) Name() string {
	name, _ := rc.Config[schema.NameField].(string)
	return name
}

// Desired returns a copy of the config as desired state.
func (rc ResourceConfig) Desired() engine.DesiredState {
	return engine.DesiredState(rc.Config).Clone()
}

// Lifecycle returns the desired lifecycle state.
func (rc ResourceConfig) Lifecycle() engine.State {
	if rc.State == "" {
		return engine.StatePresent
	}
	return engine.State(rc.State)
}

// WorkspaceConfig names the set of documents being converged.
type WorkspaceConfig struct {
	// Name is the workspace name.
	Name string `json:"name" validate:"required"`

	// Description is a human readable summary.
	Description string `json:"description,omitempty"`

	// Metadata contains additional workspace metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ParsedConfig represents the fully parsed desired-state documents.
type ParsedConfig struct {
	// Workspace is the workspace configuration.
	Workspace WorkspaceConfig `json:"workspace"`

	// Resources are all resources defined in the documents, in file order
	// and sorted by ID within a file.
	Resources []ResourceConfig `json:"resources"`

	// SourceFiles are the files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the documents were parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// Err returns the validation errors as a single error, or nil.
func (pc *ParsedConfig) Err() error {
	if len(pc.Errors) == 0 {
		return nil
	}
	msgs := make([]string, len(pc.Errors))
	for i, e := range pc.Errors {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%d validation error(s):\n  %s", len(msgs), strings.Join(msgs, "\n  "))
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the document path to the error (e.g., "resources.web.config").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}
