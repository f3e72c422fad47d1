package policy

import (
	"time"
)

// MaxNameLength is the longest resource name the management API accepts.
const MaxNameLength = 63

// PredefinedSnippet is the read-only snippet shipped by the vendor.
const PredefinedSnippet = "predefined"

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		predefinedSnippetPolicy(),
		nameLengthPolicy(),
		deleteGuardPolicy(),
	}
}

// predefinedSnippetPolicy blocks writes to the vendor's predefined snippet.
func predefinedSnippetPolicy() Policy {
	return Policy{
		Name:        "predefined-snippet",
		Description: "Denies changes to objects in the read-only predefined snippet",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"containers", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package polsync.policies.predefined

import rego.v1

deny contains violation if {
	input.container.field == "snippet"
	input.container.value == "predefined"
	violation := {
		"message": sprintf("%s '%s': the predefined snippet is read-only", [input.resource_type, input.name]),
		"severity": "error",
		"remediation": "copy the object into a folder or a custom snippet",
	}
}`,
	}
}

// nameLengthPolicy rejects names the API would truncate or refuse.
func nameLengthPolicy() Policy {
	return Policy{
		Name:        "name-length",
		Description: "Denies resource names longer than 63 characters",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package polsync.policies.naming

import rego.v1

deny contains violation if {
	input.operation in {"create", "update"}
	count(input.name) > 63
	violation := {
		"message": sprintf("%s name '%s' must not exceed 63 characters", [input.resource_type, input.name]),
		"severity": "error",
	}
}`,
	}
}

// deleteGuardPolicy surfaces every delete for review without blocking it.
func deleteGuardPolicy() Policy {
	return Policy{
		Name:        "delete-guard",
		Description: "Warns on every delete",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package polsync.policies.deletes

import rego.v1

deny contains violation if {
	input.operation == "delete"
	violation := {
		"message": sprintf("%s '%s' will be deleted from %s %s", [input.resource_type, input.name, input.container.field, input.container.value]),
		"severity": "warning",
	}
}`,
	}
}
