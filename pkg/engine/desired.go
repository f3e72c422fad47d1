package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/polsync/pkg/schema"
)

// BuildDesiredState turns raw caller input into a DesiredState: control
// fields are stripped, unset (nil) values dropped and values normalized.
// Fields the schema does not declare, read-only fields and values of the
// wrong shape are rejected with ErrCodeValidation.
func BuildDesiredState(raw map[string]interface{}, s *schema.ResourceSchema) (DesiredState, error) {
	if s == nil {
		return nil, NewInputError("schema is nil", nil).WithCode(ErrCodeValidation)
	}

	out, problems := buildObject(raw, s, "", true)
	if len(problems) > 0 {
		sort.Strings(problems)
		name, _ := raw[schema.NameField].(string)
		return nil, NewInputError(
			fmt.Sprintf("%s: invalid desired state: %s", s.Type, strings.Join(problems, "; ")), nil).
			WithCode(ErrCodeValidation).
			WithResource(name).
			WithDetail("problems", problems)
	}
	return DesiredState(out), nil
}

func buildObject(raw map[string]interface{}, s *schema.ResourceSchema, prefix string, root bool) (map[string]interface{}, []string) {
	out := make(map[string]interface{}, len(raw))
	var problems []string

	for k, v := range raw {
		if root && s.IsControl(k) {
			continue
		}
		if v == nil {
			continue
		}
		path := prefix + k

		f, ok := s.Field(k)
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown field %q", path))
			continue
		}
		if f.ReadOnly {
			problems = append(problems, fmt.Sprintf("field %q is read-only", path))
			continue
		}

		value, fieldProblems := buildValue(normalize(v), f, path)
		if len(fieldProblems) > 0 {
			problems = append(problems, fieldProblems...)
			continue
		}
		out[k] = value
	}

	if root {
		if name, ok := out[schema.NameField].(string); !ok || name == "" {
			problems = append(problems, fmt.Sprintf("field %q must be a non-empty string", schema.NameField))
		}
	}
	return out, problems
}

func buildValue(v interface{}, f schema.Field, path string) (interface{}, []string) {
	switch {
	case f.Kind == schema.KindNested:
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, []string{fmt.Sprintf("field %q must be an object", path)}
		}
		return buildObject(m, f.Nested, path+".", false)

	case f.IsList():
		list, ok := v.([]interface{})
		if !ok {
			return nil, []string{fmt.Sprintf("field %q must be a list", path)}
		}
		if f.Nested == nil {
			return list, nil
		}
		var problems []string
		entries := make([]interface{}, 0, len(list))
		for i, e := range list {
			m, ok := e.(map[string]interface{})
			if !ok {
				problems = append(problems, fmt.Sprintf("entry %s[%d] must be an object", path, i))
				continue
			}
			entry, p := buildObject(m, f.Nested, fmt.Sprintf("%s[%d].", path, i), false)
			problems = append(problems, p...)
			entries = append(entries, entry)
		}
		return entries, problems

	case f.Kind == schema.KindSecret:
		if _, ok := v.(string); !ok {
			return nil, []string{fmt.Sprintf("field %q must be a string", path)}
		}
	}
	return v, nil
}
