// Package persistence implements the PersistentStore collaborator: a
// best-effort, single-bucket BoltDB record of query state transitions.
// Nothing in this module reads the store back to recover in-flight
// queries across a coordinator restart; it exists purely as an audit
// trail ForemanResult.close writes to on its way out.
package persistence
