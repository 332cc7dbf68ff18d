// Package journal persists publish history to a SQLite database under
// the workspace's target/ directory, next to cargo's own build output
// so it never pollutes version control.
//
// The journal is an audit trail, not a gate: callers log journal
// errors as warnings and carry on. A publish that succeeded against
// the registry must never be reported as failed because a local
// database write did not go through.
package journal
