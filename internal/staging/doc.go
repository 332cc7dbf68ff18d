// Package staging creates and disposes of the temporary publishable
// copies of workspace crates.
//
// A crate is never published from its working directory: the publish
// manifest differs from the checked-in one (pinned versions, detached
// workspace), so each crate is copied into a fresh stage directory, the
// rewritten Cargo.toml is written there, and the publish tool runs
// against the copy. The original tree is never modified.
//
// The Stager tracks every directory it creates so a single deferred
// CleanupAll removes them all regardless of how the run ended. SweepStale
// handles directories left behind by interrupted earlier runs.
package staging
