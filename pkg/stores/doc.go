// Package stores provides the SQLite-backed sandbox for polsync.
//
// The sandbox stands in for the remote management API: Client returns an
// engine.Client per resource type that enforces the same rules the API does
// (server-assigned ids, unique names per container, write-only secrets and
// no deletes of referenced objects). The store also implements engine.Journal
// and keeps a history of batch runs and their per-resource outcomes.
//
// The database runs with WAL mode and connection pooling; the schema is
// created by embedded golang-migrate migrations.
package stores
