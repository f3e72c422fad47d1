// Package config loads polsync settings and desired-state documents.
//
// # Settings
//
// The settings file (polsync.yaml) is YAML validated with struct tags:
//
//	store:
//	  path: .polsync/sandbox.db
//	engine:
//	  parallelism: 4
//	  rate_limit: 10
//	  burst: 5
//	policy:
//	  enabled: true
//	  paths: [policies/]
//	telemetry:
//	  log_level: info
//	  log_format: console
//
// # Documents
//
// Desired state is written in CUE, YAML or JSON. Every document is validated
// against the built-in #Document schema. Resources are listed under
// "resources", as a map keyed by ID or as a list:
//
//	workspace: name: "lab"
//
//	resources: {
//		web: {
//			type: "address"
//			config: {
//				name:       "web"
//				folder:     "Texas"
//				ip_netmask: "10.0.0.0/24"
//			}
//		}
//		old: {
//			type:  "tag"
//			state: "absent"
//			config: {name: "old", folder: "Texas"}
//		}
//	}
//
// or in concise blocks keyed by resource type and name:
//
//	address: db: {folder: "Texas", ip_netmask: "10.0.2.0/24"}
//	tag: stale: {folder: "Texas", state: "absent"}
//
// The state defaults to present. Map keys become IDs, otherwise IDs default
// to "<type>/<name>"; they must be unique across all documents. YAML files may hold several documents.
//
// # Watching
//
// Watcher reports changed document or policy files after a debounce
// period; polsync apply --watch uses it to re-run convergence.
package config
