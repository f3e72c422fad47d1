package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Loader loads policies from .rego files and from JSON or YAML definitions.
// A definition file holds either one policy or a bundle with a "policies" list.
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// LoadFromPaths loads policies from a list of file or directory paths.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var allPolicies []Policy

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		policies, err := l.loadFromPath(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		allPolicies = append(allPolicies, policies...)
	}

	l.logger.Debug().
		Int("total", len(allPolicies)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")

	return allPolicies, nil
}

// IsPolicyFile reports whether the loader reads files with this name.
func IsPolicyFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".rego", ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// loadFromPath loads policies from a single path (file or directory).
func (l *Loader) loadFromPath(path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	if info.IsDir() {
		return l.loadFromDirectory(path)
	}
	return l.loadFromFile(path)
}

// loadFromDirectory loads every policy file below a directory. Files that
// fail to parse are logged and skipped.
func (l *Loader) loadFromDirectory(dirPath string) ([]Policy, error) {
	var policies []Policy

	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsPolicyFile(path) {
			return nil
		}

		loaded, err := l.loadFromFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to load policy file")
			return nil
		}

		policies = append(policies, loaded...)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return policies, nil
}

// loadFromFile loads the policies defined in a single file.
func (l *Loader) loadFromFile(filePath string) ([]Policy, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var policies []Policy
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".rego":
		policies = []Policy{l.parseRegoFile(filePath, data)}
	case ".json":
		policies, err = parseDefinition(data, json.Unmarshal)
	case ".yaml", ".yml":
		policies, err = parseDefinition(data, yaml.Unmarshal)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filePath, err)
	}

	for i := range policies {
		if policies[i].Metadata == nil {
			policies[i].Metadata = make(map[string]interface{})
		}
		policies[i].Metadata["source"] = filePath
		l.logger.Debug().
			Str("path", filePath).
			Str("policy", policies[i].Name).
			Msg("Policy loaded from file")
	}

	return policies, nil
}

// parseRegoFile parses a .rego file into a Policy named after the file.
// Leading comments become the description; a "# severity: <level>" comment
// sets the default severity.
func (l *Loader) parseRegoFile(filePath string, data []byte) Policy {
	name := strings.TrimSuffix(filepath.Base(filePath), ".rego")
	description, severity := extractHeader(string(data))

	return Policy{
		Name:        name,
		Description: description,
		Rego:        string(data),
		Severity:    severity,
		Enabled:     true,
		Tags:        []string{},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
}

// parseDefinition decodes a single policy or a bundle.
func parseDefinition(data []byte, unmarshal func([]byte, interface{}) error) ([]Policy, error) {
	var bundle Bundle
	if err := unmarshal(data, &bundle); err != nil {
		return nil, err
	}

	var policies []Policy
	if len(bundle.Policies) > 0 {
		policies = bundle.Policies
	} else {
		var policy Policy
		if err := unmarshal(data, &policy); err != nil {
			return nil, err
		}
		policies = []Policy{policy}
	}

	for i := range policies {
		p := &policies[i]
		if p.Name == "" {
			return nil, fmt.Errorf("policy %d has no name", i)
		}
		if p.Rego == "" {
			return nil, fmt.Errorf("policy %s has no rego", p.Name)
		}
		if p.Severity == "" {
			p.Severity = SeverityWarning
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now()
		}
		p.UpdatedAt = time.Now()
	}
	return policies, nil
}

// extractHeader extracts the description and severity from the comments
// before the package clause.
func extractHeader(content string) (string, Severity) {
	var description strings.Builder
	severity := SeverityWarning

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "#") {
			break
		}

		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if level, ok := strings.CutPrefix(comment, "severity:"); ok {
			severity = Severity(strings.TrimSpace(level))
			continue
		}
		if comment == "" {
			continue
		}
		if description.Len() > 0 {
			description.WriteString(" ")
		}
		description.WriteString(comment)
	}

	return description.String(), severity
}
