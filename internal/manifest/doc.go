// Package manifest handles parsing and publish-oriented rewriting of
// Cargo.toml files.
//
// Parsing uses github.com/pelletier/go-toml/v2 into a typed Manifest with
// interface{} fields where Cargo allows multiple shapes (a dependency can
// be a version string or an inline table; package fields can be literal
// values or workspace-inheritance markers).
//
// Rewriting is deliberately textual: RewriteForPublish walks the original
// manifest line by line and substitutes only the lines that must change
// for a staged copy to be publishable (workspace-inherited fields, sibling
// path dependencies, documentation asset paths). Every untouched line is
// preserved byte for byte, so the staged manifest keeps the author's
// layout and comments.
package manifest
