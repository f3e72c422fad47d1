package schema

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Well-known identity field names shared by every resource type.
const (
	// IDField is the server-assigned identifier.
	IDField = "id"

	// NameField is the caller-chosen name, unique within a container.
	NameField = "name"
)

// ComparisonKind selects how a field is compared by the diff engine.
type ComparisonKind string

const (
	// KindScalar compares by equality.
	KindScalar ComparisonKind = "scalar"

	// KindSet compares lists order-independently.
	KindSet ComparisonKind = "set"

	// KindOrderedList compares lists of entries. When the field declares a
	// SortKey both sides are sorted by it before comparison.
	KindOrderedList ComparisonKind = "ordered-list"

	// KindNested compares a sub-object field by field using a nested schema.
	KindNested ComparisonKind = "nested-object"

	// KindSecret marks a write-only value the remote never echoes back.
	// Any provided value counts as a change.
	KindSecret ComparisonKind = "opaque-secret"
)

// GroupRole distinguishes the container group from variant groups.
type GroupRole string

const (
	// RoleContainer marks the location group (folder, snippet, device).
	RoleContainer GroupRole = "container"

	// RoleVariant marks a type-selection group (e.g. ip_netmask vs fqdn).
	RoleVariant GroupRole = "variant"
)

// Field describes one field of a resource type.
type Field struct {
	// Name is the field name as it appears in desired state and remote payloads.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Kind is the comparison semantics for the field.
	Kind ComparisonKind `json:"kind" yaml:"kind" validate:"required,oneof=scalar set ordered-list nested-object opaque-secret"`

	// CaseInsensitive compares string values with case folding.
	CaseInsensitive bool `json:"case_insensitive,omitempty" yaml:"case_insensitive,omitempty"`

	// SortKey is the entry key used to normalise ordered lists of objects.
	SortKey string `json:"sort_key,omitempty" yaml:"sort_key,omitempty"`

	// Nested is the schema of a nested object, or of the entries of a list.
	Nested *ResourceSchema `json:"nested,omitempty" yaml:"nested,omitempty"`

	// ReadOnly fields are set by the server: never diffed, always carried through.
	ReadOnly bool `json:"read_only,omitempty" yaml:"read_only,omitempty"`

	// ListTyped marks a scalar-kind field whose remote representation is a list.
	// Set and ordered-list fields are always list typed.
	ListTyped bool `json:"list_typed,omitempty" yaml:"list_typed,omitempty"`

	// References names the resource type whose names this field holds.
	References string `json:"references,omitempty" yaml:"references,omitempty"`
}

// IsList reports whether the field's remote representation is a list.
func (f Field) IsList() bool {
	return f.ListTyped || f.Kind == KindSet || f.Kind == KindOrderedList
}

// ExclusiveGroup is a set of mutually exclusive fields.
type ExclusiveGroup struct {
	// Name identifies the group in errors.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Role is container or variant.
	Role GroupRole `json:"role" yaml:"role" validate:"required,oneof=container variant"`

	// Members are the mutually exclusive field names.
	Members []string `json:"members" yaml:"members" validate:"min=2,dive,required"`

	// Required demands that exactly one member is set.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`

	// Precedence resolves ties when several members are set: the first listed
	// member that is set wins. Empty means several members set is an error.
	Precedence []string `json:"precedence,omitempty" yaml:"precedence,omitempty"`
}

// Has reports whether name is a member of the group.
func (g ExclusiveGroup) Has(name string) bool {
	for _, m := range g.Members {
		if m == name {
			return true
		}
	}
	return false
}

// ResourceSchema is the declarative description of one resource type.
type ResourceSchema struct {
	// Type is the resource type name (e.g. "address").
	Type string `json:"type" yaml:"type" validate:"required"`

	// Description is a human readable summary.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// IdentityFields are always copied into patches. Defaults to id and name
	// for top-level schemas.
	IdentityFields []string `json:"identity_fields,omitempty" yaml:"identity_fields,omitempty"`

	// Fields lists every modelled field.
	Fields []Field `json:"fields" yaml:"fields" validate:"dive"`

	// Groups lists the exclusive groups.
	Groups []ExclusiveGroup `json:"groups,omitempty" yaml:"groups,omitempty" validate:"dive"`

	// ControlFields are stripped from raw input in addition to the defaults.
	ControlFields []string `json:"control_fields,omitempty" yaml:"control_fields,omitempty"`

	index map[string]int
}

// Field returns the field with the given name.
func (s *ResourceSchema) Field(name string) (Field, bool) {
	s.ensureIndex()
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// HasField reports whether name is a declared field.
func (s *ResourceSchema) HasField(name string) bool {
	_, ok := s.Field(name)
	return ok
}

// ContainerGroup returns the container group, if the schema declares one.
func (s *ResourceSchema) ContainerGroup() (ExclusiveGroup, bool) {
	for _, g := range s.Groups {
		if g.Role == RoleContainer {
			return g, true
		}
	}
	return ExclusiveGroup{}, false
}

// VariantGroups returns every variant group.
func (s *ResourceSchema) VariantGroups() []ExclusiveGroup {
	var groups []ExclusiveGroup
	for _, g := range s.Groups {
		if g.Role == RoleVariant {
			groups = append(groups, g)
		}
	}
	return groups
}

// GroupOf returns the group a field belongs to.
func (s *ResourceSchema) GroupOf(name string) (ExclusiveGroup, bool) {
	for _, g := range s.Groups {
		if g.Has(name) {
			return g, true
		}
	}
	return ExclusiveGroup{}, false
}

// Identity returns the identity fields. Schemas that declare a name field
// and no explicit identity get id and name, validated or not.
func (s *ResourceSchema) Identity() []string {
	if len(s.IdentityFields) > 0 || !s.HasField(NameField) {
		return s.IdentityFields
	}
	return []string{IDField, NameField}
}

// IsIdentity reports whether name is an identity field.
func (s *ResourceSchema) IsIdentity(name string) bool {
	for _, id := range s.Identity() {
		if id == name {
			return true
		}
	}
	return false
}

// IsControl reports whether name is a control field to strip from input.
func (s *ResourceSchema) IsControl(name string) bool {
	for _, c := range DefaultControlFields {
		if c == name {
			return true
		}
	}
	for _, c := range s.ControlFields {
		if c == name {
			return true
		}
	}
	return false
}

// ReferenceFields returns the fields that hold names of other resources.
func (s *ResourceSchema) ReferenceFields() []Field {
	var refs []Field
	for _, f := range s.Fields {
		if f.References != "" {
			refs = append(refs, f)
		}
	}
	return refs
}

func (s *ResourceSchema) ensureIndex() {
	if s.index != nil && len(s.index) == len(s.Fields) {
		return
	}
	s.index = make(map[string]int, len(s.Fields))
	for i, f := range s.Fields {
		s.index[f.Name] = i
	}
}

// DefaultControlFields are transport and control inputs that never reach the
// remote system.
var DefaultControlFields = []string{
	"state",
	"provider",
	"auth",
	"client_id",
	"client_secret",
	"tsg_id",
	"log_level",
	"check_mode",
}

var validate = validator.New()

// Validate checks the schema definition for internal consistency.
func (s *ResourceSchema) Validate() error {
	s.nameNested()
	return s.validate(true)
}

// nameNested gives anonymous nested schemas a dotted type name.
func (s *ResourceSchema) nameNested() {
	for _, f := range s.Fields {
		if f.Nested == nil {
			continue
		}
		if f.Nested.Type == "" {
			f.Nested.Type = s.Type + "." + f.Name
		}
		f.Nested.nameNested()
	}
}

func (s *ResourceSchema) validate(root bool) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("schema %q: %w", s.Type, err)
	}

	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if seen[f.Name] {
			return fmt.Errorf("schema %q: duplicate field %q", s.Type, f.Name)
		}
		seen[f.Name] = true

		switch f.Kind {
		case KindNested:
			if f.Nested == nil {
				return fmt.Errorf("schema %q: nested field %q has no nested schema", s.Type, f.Name)
			}
		case KindOrderedList:
			if f.SortKey != "" && f.Nested != nil && !f.Nested.HasField(f.SortKey) {
				return fmt.Errorf("schema %q: sort key %q of %q is not a field of its entries", s.Type, f.SortKey, f.Name)
			}
		}
		if f.SortKey != "" && f.Kind != KindOrderedList {
			return fmt.Errorf("schema %q: sort key is only valid on ordered lists (field %q)", s.Type, f.Name)
		}
		if f.Nested != nil {
			if err := f.Nested.validate(false); err != nil {
				return err
			}
		}
	}

	containers := 0
	grouped := make(map[string]string)
	for _, g := range s.Groups {
		if g.Role == RoleContainer {
			containers++
			if !root {
				return fmt.Errorf("schema %q: container group %q is only valid at the top level", s.Type, g.Name)
			}
		}
		for _, m := range g.Members {
			if !seen[m] {
				return fmt.Errorf("schema %q: group %q member %q is not a declared field", s.Type, g.Name, m)
			}
			if other, dup := grouped[m]; dup {
				return fmt.Errorf("schema %q: field %q belongs to groups %q and %q", s.Type, m, other, g.Name)
			}
			grouped[m] = g.Name
		}
		for _, p := range g.Precedence {
			if !g.Has(p) {
				return fmt.Errorf("schema %q: group %q precedence names non-member %q", s.Type, g.Name, p)
			}
		}
	}
	if containers > 1 {
		return fmt.Errorf("schema %q: at most one container group is allowed", s.Type)
	}

	if root {
		if !seen[NameField] {
			return fmt.Errorf("schema %q: top-level schemas must declare %q", s.Type, NameField)
		}
		if len(s.IdentityFields) == 0 {
			s.IdentityFields = []string{IDField, NameField}
		}
	}

	for _, c := range s.ControlFields {
		if seen[c] {
			return fmt.Errorf("schema %q: control field %q is also a declared field", s.Type, c)
		}
	}

	s.ensureIndex()
	return nil
}

// Describe renders a compact, human readable summary of the schema.
func (s *ResourceSchema) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", s.Type)
	if s.Description != "" {
		fmt.Fprintf(&b, " - %s", s.Description)
	}
	b.WriteString("\n")
	s.describeFields(&b, "  ")
	for _, g := range s.Groups {
		req := "optional"
		if g.Required {
			req = "required"
		}
		fmt.Fprintf(&b, "  group %s (%s, %s): %s", g.Name, g.Role, req, strings.Join(g.Members, " | "))
		if len(g.Precedence) > 0 {
			fmt.Fprintf(&b, " precedence=%s", strings.Join(g.Precedence, ">"))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (s *ResourceSchema) describeFields(b *strings.Builder, indent string) {
	for _, f := range s.Fields {
		var flags []string
		if f.ReadOnly {
			flags = append(flags, "read-only")
		}
		if f.CaseInsensitive {
			flags = append(flags, "case-insensitive")
		}
		if f.SortKey != "" {
			flags = append(flags, "sort="+f.SortKey)
		}
		if f.References != "" {
			flags = append(flags, "ref="+f.References)
		}
		fmt.Fprintf(b, "%s%-28s %s", indent, f.Name, f.Kind)
		if len(flags) > 0 {
			fmt.Fprintf(b, " [%s]", strings.Join(flags, ","))
		}
		b.WriteString("\n")
		if f.Nested != nil {
			f.Nested.describeFields(b, indent+"  ")
		}
	}
}
