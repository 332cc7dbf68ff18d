// Package workspace discovers Cargo workspaces and computes the order in
// which members must be published.
//
// Discovery walks upward from a starting directory to the first
// Cargo.toml with a [workspace] table, mirroring how cargo itself
// resolves workspace membership. A standalone package manifest with no
// enclosing workspace becomes a single-member workspace.
//
// Publish ordering builds a directed graph over the selected members
// (one edge per intra-workspace path dependency, dependency first) and
// topologically sorts it. The sort is stable: independent members come
// out in alphabetical order, so repeated runs produce identical plans.
// Dev-dependencies never contribute edges because cargo drops path-only
// dev-dependencies from published manifests, which also keeps the
// common core-lib <-> test-helpers cycle legal.
package workspace
