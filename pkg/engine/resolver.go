package engine

import (
	"fmt"
	"strings"

	"github.com/openfroyo/polsync/pkg/schema"
)

// ResolveContainer validates that exactly one member of the schema's
// container group is set and returns it. It never touches the network.
// Schemas without a container group resolve to the zero selector.
func ResolveContainer(desired DesiredState, s *schema.ResourceSchema) (ContainerSelector, error) {
	g, ok := s.ContainerGroup()
	if !ok {
		return ContainerSelector{}, nil
	}

	set := setMembers(desired, g)
	if len(set) != 1 {
		return ContainerSelector{}, containerError(s, g, set)
	}

	value, ok := desired[set[0]].(string)
	if !ok || value == "" {
		return ContainerSelector{}, NewInputError(
			fmt.Sprintf("%s: %s must be a non-empty string", s.Type, set[0]), nil).
			WithCode(ErrCodeContainerSelection).
			WithResource(desired.Name())
	}

	return ContainerSelector{Field: set[0], Value: value}, nil
}

func containerError(s *schema.ResourceSchema, g schema.ExclusiveGroup, set []string) *EngineError {
	msg := fmt.Sprintf("%s: exactly one of %s is required", s.Type, strings.Join(g.Members, ", "))
	if len(set) > 1 {
		msg = fmt.Sprintf("%s: %s are mutually exclusive", s.Type, strings.Join(set, ", "))
	}
	return NewInputError(msg, nil).
		WithCode(ErrCodeContainerSelection).
		WithDetail("members", g.Members)
}

// ResolveVariants checks every variant group, including those of nested
// objects and list entries, and returns the selected member keyed by the
// dotted group path (e.g. "address_type" or "lifetime.unit"). Groups with no
// member set are omitted unless they are required.
func ResolveVariants(desired DesiredState, s *schema.ResourceSchema) (map[string]string, error) {
	selection := make(map[string]string)
	if err := resolveVariants(desired, s, "", selection); err != nil {
		return nil, err
	}
	return selection, nil
}

func resolveVariants(obj map[string]interface{}, s *schema.ResourceSchema, prefix string, selection map[string]string) error {
	for _, g := range s.VariantGroups() {
		member, err := selectMember(obj, g)
		if err != nil {
			return NewInputError(fmt.Sprintf("%s: %v", s.Type, err), nil).
				WithCode(ErrCodeTypeSelection).
				WithDetail("group", prefix+g.Name).
				WithDetail("members", g.Members)
		}
		if member == "" {
			if g.Required {
				return NewInputError(
					fmt.Sprintf("%s: exactly one of %s is required", s.Type, strings.Join(g.Members, ", ")), nil).
					WithCode(ErrCodeTypeSelection).
					WithDetail("group", prefix+g.Name).
					WithDetail("members", g.Members)
			}
			continue
		}
		selection[prefix+g.Name] = member
	}

	for _, f := range s.Fields {
		if f.Nested == nil {
			continue
		}
		v, ok := obj[f.Name]
		if !ok || v == nil {
			continue
		}
		switch f.Kind {
		case schema.KindNested:
			m, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			if err := resolveVariants(m, f.Nested, prefix+f.Name+".", selection); err != nil {
				return err
			}
		case schema.KindOrderedList, schema.KindSet:
			list, _ := v.([]interface{})
			for i, e := range list {
				m, ok := e.(map[string]interface{})
				if !ok {
					continue
				}
				if err := resolveVariants(m, f.Nested, fmt.Sprintf("%s%s[%d].", prefix, f.Name, i), selection); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// selectMember returns the member of g set in obj. When several are set the
// group's precedence decides; without a precedence it is an error.
func selectMember(obj map[string]interface{}, g schema.ExclusiveGroup) (string, error) {
	set := setMembers(obj, g)
	switch len(set) {
	case 0:
		return "", nil
	case 1:
		return set[0], nil
	}

	for _, p := range g.Precedence {
		for _, m := range set {
			if m == p {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("%s are mutually exclusive", strings.Join(set, ", "))
}

// setMembers lists the members of g present with a non-nil value, in
// declaration order.
func setMembers(obj map[string]interface{}, g schema.ExclusiveGroup) []string {
	var set []string
	for _, m := range g.Members {
		if v, ok := obj[m]; ok && v != nil {
			set = append(set, m)
		}
	}
	return set
}

// ApplyVariantSelection returns a copy of desired with the losing members of
// every variant group removed, so payloads only ever carry one member.
func ApplyVariantSelection(desired DesiredState, s *schema.ResourceSchema) DesiredState {
	out := desired.Clone()
	pruneVariants(out, s)
	return out
}

func pruneVariants(obj map[string]interface{}, s *schema.ResourceSchema) {
	for _, g := range s.VariantGroups() {
		winner, err := selectMember(obj, g)
		if err != nil || winner == "" {
			continue
		}
		for _, m := range g.Members {
			if m != winner {
				delete(obj, m)
			}
		}
	}

	for _, f := range s.Fields {
		if f.Nested == nil {
			continue
		}
		switch v := obj[f.Name].(type) {
		case map[string]interface{}:
			pruneVariants(v, f.Nested)
		case []interface{}:
			for _, e := range v {
				if m, ok := e.(map[string]interface{}); ok {
					pruneVariants(m, f.Nested)
				}
			}
		}
	}
}
