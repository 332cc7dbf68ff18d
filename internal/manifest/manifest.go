// manifest.go handles loading and interpreting Cargo.toml files.
//
// The Manifest struct captures only the fields stevedore needs; other
// fields survive untouched because rewriting operates on the original
// bytes (see rewrite.go), never on a re-serialization of this struct.
package manifest

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/tidegate/stevedore/internal/model"
)

// Manifest represents the subset of a Cargo.toml file relevant to
// publishing. A manifest can describe a package, a workspace root, or
// both (a root package with a [workspace] table).
//
// Several fields use interface{} types because Cargo allows multiple
// value shapes for the same field (e.g., a dependency can be a plain
// version string or an inline table; publish can be a bool or a list
// of registry names).
type Manifest struct {
	// Package is the [package] table. Nil for virtual workspace roots.
	Package *PackageSection `toml:"package"`

	// Workspace is the [workspace] table. Nil for plain member crates.
	Workspace *WorkspaceSection `toml:"workspace"`

	// Dependencies, DevDependencies, and BuildDependencies map dependency
	// names to either a version string or an inline table.
	Dependencies      map[string]interface{} `toml:"dependencies"`
	DevDependencies   map[string]interface{} `toml:"dev-dependencies"`
	BuildDependencies map[string]interface{} `toml:"build-dependencies"`

	// Target holds platform-specific dependency tables, keyed by cfg
	// expression, then by section kind (dependencies, dev-dependencies,
	// build-dependencies), then by dependency name.
	Target map[string]map[string]map[string]interface{} `toml:"target"`
}

// PackageSection is the [package] table of a crate manifest.
type PackageSection struct {
	// Name is the crate name.
	Name string `toml:"name"`

	// Version is either a version string or {workspace = true}.
	Version interface{} `toml:"version"`

	// Publish controls registry publication: absent means publishable,
	// false forbids it, and a list restricts the allowed registries.
	Publish interface{} `toml:"publish"`

	// Readme is the readme path: a string, false (no readme), or
	// {workspace = true}.
	Readme interface{} `toml:"readme"`

	// LicenseFile is the license file path, same shapes as Readme.
	LicenseFile interface{} `toml:"license-file"`
}

// WorkspaceSection is the [workspace] table of a workspace root manifest.
type WorkspaceSection struct {
	// Members lists member directory globs (e.g. "crates/*").
	Members []string `toml:"members"`

	// Exclude lists directories that match a member glob but should not
	// be treated as members.
	Exclude []string `toml:"exclude"`

	// Package is the [workspace.package] table: field values that member
	// crates inherit via `key.workspace = true`.
	Package map[string]interface{} `toml:"package"`

	// Dependencies is the [workspace.dependencies] table: dependency
	// definitions that members reference via `dep = { workspace = true }`.
	Dependencies map[string]interface{} `toml:"dependencies"`
}

// Load reads a Cargo.toml file and parses it into a Manifest.
//
// Returns a CLIError with ExitWorkspaceError if the file does not exist,
// since a missing manifest means the workspace layout is broken.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.WrapCLIError(
				model.ExitWorkspaceError,
				fmt.Sprintf("manifest not found: %s", path),
				err,
			)
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes raw Cargo.toml bytes into a Manifest. Unknown fields are
// silently ignored; only the tables stevedore interprets are captured.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// IsWorkspaceRoot reports whether the manifest declares a [workspace]
// table, making it the root of a Cargo workspace.
func (m *Manifest) IsWorkspaceRoot() bool {
	return m.Workspace != nil
}

// Name returns the crate name, or "" for virtual workspace roots.
func (m *Manifest) Name() string {
	if m.Package == nil {
		return ""
	}
	return m.Package.Name
}

// Version returns the crate's declared version string. The second return
// value is true when the member inherits its version from the workspace
// root (version.workspace = true), in which case the string is empty and
// the caller must resolve it from [workspace.package].
func (m *Manifest) Version() (string, bool) {
	if m.Package == nil {
		return "", false
	}
	switch v := m.Package.Version.(type) {
	case string:
		return v, false
	case map[string]interface{}:
		if ws, ok := v["workspace"].(bool); ok && ws {
			return "", true
		}
	}
	return "", false
}

// IsPublishable reports whether the crate may be published. Cargo treats
// an absent publish field as publishable, false as forbidden, and an
// empty registry list as forbidden.
func (m *Manifest) IsPublishable() bool {
	if m.Package == nil {
		return false
	}
	switch v := m.Package.Publish.(type) {
	case nil:
		return true
	case bool:
		return v
	case []interface{}:
		return len(v) > 0
	default:
		return true
	}
}

// ReadmePath returns the explicit readme path declared in the manifest,
// or "" when the field is absent, false, or workspace-inherited.
// Workspace-inherited readmes are resolved during rewriting instead.
func (m *Manifest) ReadmePath() string {
	if m.Package == nil {
		return ""
	}
	if s, ok := m.Package.Readme.(string); ok {
		return s
	}
	return ""
}

// LicenseFilePath returns the explicit license-file path declared in the
// manifest, or "" when absent or workspace-inherited.
func (m *Manifest) LicenseFilePath() string {
	if m.Package == nil {
		return ""
	}
	if s, ok := m.Package.LicenseFile.(string); ok {
		return s
	}
	return ""
}

// DependencyTable is one dependency section of a manifest.
type DependencyTable struct {
	// Table is the normalized header path of the section as it appears
	// in the manifest text, e.g. "dependencies" or
	// "target.cfg(windows).dev-dependencies". The same dependency name
	// may legally appear in several tables, so rewrites are keyed by
	// Table, never by Kind alone.
	Table string

	// Kind is the canonical section kind: "dependencies",
	// "dev-dependencies", or "build-dependencies". Kind-specific rules
	// (dev-dependency dropping) apply to target tables through this.
	Kind string

	// Deps maps dependency names to their raw TOML values.
	Deps map[string]interface{}
}

// depKinds enumerates the dependency section kinds in the order they are
// processed. dev- and build- come before the bare kind so substring
// matching elsewhere never confuses them.
var depKinds = []string{"dev-dependencies", "build-dependencies", "dependencies"}

// DependencyTables returns every dependency section in the manifest,
// including platform-specific [target.*] sections, in deterministic
// order. Headers are normalized the way parseTableHeader normalizes
// them, so each Table value compares equal to the walker's view of the
// same section.
func (m *Manifest) DependencyTables() []DependencyTable {
	var tables []DependencyTable
	add := func(table, kind string, deps map[string]interface{}) {
		if len(deps) > 0 {
			tables = append(tables, DependencyTable{Table: table, Kind: kind, Deps: deps})
		}
	}

	add("dependencies", "dependencies", m.Dependencies)
	add("dev-dependencies", "dev-dependencies", m.DevDependencies)
	add("build-dependencies", "build-dependencies", m.BuildDependencies)

	cfgs := make([]string, 0, len(m.Target))
	for cfg := range m.Target {
		cfgs = append(cfgs, cfg)
	}
	sort.Strings(cfgs)
	for _, cfg := range cfgs {
		for _, kind := range depKinds {
			add("target."+cfg+"."+kind, kind, m.Target[cfg][kind])
		}
	}
	return tables
}

// DependencyRef is the normalized form of a single dependency value.
// It abstracts over the string form (`dep = "1.0"`) and the inline table
// form (`dep = { version = "1.0", features = [...] }`).
type DependencyRef struct {
	// Version is the declared version requirement, if any.
	Version string

	// Path is the local path for path dependencies, if any.
	Path string

	// Registry is an alternative registry name, if any.
	Registry string

	// PackageRename is the real crate name when the dependency key is an
	// alias (`dep = { package = "real-name", ... }`).
	PackageRename string

	// Features lists additionally enabled features.
	Features []string

	// Optional marks the dependency optional. OptionalSet distinguishes
	// an explicit false from an absent field.
	Optional    bool
	OptionalSet bool

	// DefaultFeatures mirrors the default-features field, with
	// DefaultFeaturesSet distinguishing explicit false from absent.
	DefaultFeatures    bool
	DefaultFeaturesSet bool

	// Workspace is true for `dep = { workspace = true }` references that
	// must be materialized from [workspace.dependencies].
	Workspace bool

	// UnknownKeys lists table keys ParseDependency does not model, such as
	// git/branch/rev. Rewrites refuse to touch dependencies carrying them
	// rather than silently dropping fields.
	UnknownKeys []string
}

// CrateName returns the real crate name for the dependency: the package
// rename when present, otherwise the given manifest key.
func (r DependencyRef) CrateName(key string) string {
	if r.PackageRename != "" {
		return r.PackageRename
	}
	return key
}

// ParseDependency converts a raw TOML dependency value into a
// DependencyRef. The value must be a version string or an inline table.
func ParseDependency(value interface{}) (DependencyRef, error) {
	switch v := value.(type) {
	case string:
		return DependencyRef{Version: v}, nil
	case map[string]interface{}:
		var ref DependencyRef
		if s, ok := v["version"].(string); ok {
			ref.Version = s
		}
		if s, ok := v["path"].(string); ok {
			ref.Path = s
		}
		if s, ok := v["registry"].(string); ok {
			ref.Registry = s
		}
		if s, ok := v["package"].(string); ok {
			ref.PackageRename = s
		}
		if b, ok := v["workspace"].(bool); ok {
			ref.Workspace = b
		}
		if b, ok := v["optional"].(bool); ok {
			ref.Optional = b
			ref.OptionalSet = true
		}
		if b, ok := v["default-features"].(bool); ok {
			ref.DefaultFeatures = b
			ref.DefaultFeaturesSet = true
		}
		if feats, ok := v["features"].([]interface{}); ok {
			for _, f := range feats {
				if s, ok := f.(string); ok {
					ref.Features = append(ref.Features, s)
				}
			}
		}
		for key := range v {
			switch key {
			case "version", "path", "registry", "package", "workspace", "optional", "default-features", "features":
			default:
				ref.UnknownKeys = append(ref.UnknownKeys, key)
			}
		}
		sort.Strings(ref.UnknownKeys)
		return ref, nil
	default:
		return DependencyRef{}, fmt.Errorf("unsupported dependency value of type %T", value)
	}
}

// versionLineRegex matches a `version = "..."` assignment line,
// tolerating surrounding whitespace and a trailing comment.
var versionLineRegex = regexp.MustCompile(`^\s*version\s*=\s*"([^"]+)"\s*(?:#.*)?$`)

// ExtractVersion scans raw manifest bytes for the version declared in the
// [package] table using line pattern matching, without a full TOML parse.
//
// Returns an error when the table or the version line is missing, which
// includes the workspace-inheritance case (version.workspace = true),
// where no literal version string exists in the member manifest.
func ExtractVersion(raw []byte) (string, error) {
	return extractTableVersion(raw, "package")
}

// ExtractWorkspaceVersion scans raw manifest bytes for the version in the
// [workspace.package] table. This is the value members inherit when they
// declare version.workspace = true.
func ExtractWorkspaceVersion(raw []byte) (string, error) {
	return extractTableVersion(raw, "workspace.package")
}

// extractTableVersion finds the first version assignment inside the named
// table. Table tracking uses the same header normalization as the
// rewriter so the two stay consistent.
func extractTableVersion(raw []byte, table string) (string, error) {
	current := ""
	for _, line := range strings.Split(string(raw), "\n") {
		if header, ok := parseTableHeader(line); ok {
			current = header
			continue
		}
		if current != table {
			continue
		}
		if m := versionLineRegex.FindStringSubmatch(line); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("no version found in [%s] table", table)
}

// tableHeaderRegex matches [table] and [[array-of-tables]] headers,
// capturing the dotted path between the brackets.
var tableHeaderRegex = regexp.MustCompile(`^\s*\[\[?([^\]]+)\]\]?\s*(?:#.*)?$`)

// parseTableHeader reports whether the line opens a TOML table and
// returns the normalized header path (quotes stripped, whitespace
// trimmed) so that `[target.'cfg(unix)'.dependencies]` and its decoded
// form compare equal.
func parseTableHeader(line string) (string, bool) {
	m := tableHeaderRegex.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	header := strings.TrimSpace(m[1])
	header = strings.ReplaceAll(header, `'`, "")
	header = strings.ReplaceAll(header, `"`, "")
	return header, true
}
