package schema

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is the on-disk form of one or more resource schemas.
//
//	schemas:
//	  - type: nat_rule
//	    fields:
//	      - {name: name, kind: scalar}
//	      - {name: folder, kind: scalar}
//	      - {name: snippet, kind: scalar}
//	    groups:
//	      - {name: container, role: container, members: [folder, snippet], required: true}
type Definition struct {
	Schemas []*ResourceSchema `yaml:"schemas"`
}

// ParseDefinition decodes a YAML definition. Unknown keys are rejected.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("failed to decode schema definition: %w", err)
	}
	return &def, nil
}

// Build validates every schema of the definition and adds it to the registry.
func (d *Definition) Build(r *Registry) error {
	for _, s := range d.Schemas {
		if err := r.Register(s); err != nil {
			return err
		}
	}
	return nil
}

// LoadDefinitions loads every .yaml/.yml file under path (a file or a
// directory) into the registry.
func LoadDefinitions(r *Registry, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	files := []string{path}
	if info.IsDir() {
		files = nil
		err := filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			ext := strings.ToLower(filepath.Ext(p))
			if !fi.IsDir() && (ext == ".yaml" || ext == ".yml") {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to walk %s: %w", path, err)
		}
	}

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", f, err)
		}
		def, err := ParseDefinition(data)
		if err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
		if err := def.Build(r); err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
	}
	return nil
}
