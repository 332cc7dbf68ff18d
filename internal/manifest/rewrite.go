// rewrite.go generates publish-ready Cargo.toml content for staged crates.
//
// The original manifest is NEVER modified. Instead, this module:
//  1. Parses the manifest structurally to plan dependency rewrites
//  2. Walks the original text line by line, substituting only the lines
//     that block publishing (workspace inheritance markers, sibling path
//     dependencies, asset paths escaping the crate directory)
//  3. Appends an empty [workspace] table so the staged copy is not
//     adopted by whatever workspace encloses the staging directory
//
// Working on the original bytes (instead of re-serializing the parsed
// struct) preserves every field, comment, and formatting choice the
// rewrite does not explicitly touch. Serializing the typed Manifest would
// lose all fields it does not model.
package manifest

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// RewriteSpec carries the workspace context a rewrite needs: the versions
// of sibling crates for path-dependency pinning, and the root manifest's
// inheritance tables for materializing `workspace = true` markers.
type RewriteSpec struct {
	// SiblingVersions maps workspace member crate names to their resolved
	// versions. Path dependencies must resolve here or the rewrite fails.
	SiblingVersions map[string]string

	// WorkspacePackage is the root [workspace.package] table, used to
	// materialize inherited package fields (version, edition, license...).
	WorkspacePackage map[string]interface{}

	// WorkspaceDependencies is the root [workspace.dependencies] table,
	// used to materialize `dep = { workspace = true }` references.
	WorkspaceDependencies map[string]interface{}

	// MemberDir is the member's directory relative to the workspace root
	// (e.g. "crates/acme-ui"). Workspace-inherited readme and license-file
	// paths are root-relative and get rebased through this before the
	// asset rule sees them.
	MemberDir string
}

// AssetCopy describes a documentation asset the staged crate needs copied
// next to its manifest because the declared path escapes the crate dir.
type AssetCopy struct {
	// Source is the path as declared in the manifest, relative to the
	// crate directory (e.g. "../../README.md").
	Source string `json:"source"`

	// Dest is the bare filename the rewritten manifest references
	// (e.g. "README.md"), resolved against the stage root.
	Dest string `json:"dest"`
}

// RewriteResult is the outcome of RewriteForPublish.
type RewriteResult struct {
	// Manifest is the rewritten Cargo.toml content, ending in a newline.
	Manifest []byte

	// Assets lists files that must be copied into the stage root for the
	// rewritten readme/license-file paths to resolve.
	Assets []AssetCopy

	// Changes describes each substitution in human-readable form, in the
	// order applied. Used by plan output and verbose logging.
	Changes []string
}

// depAction is one planned dependency rewrite: the final dependency value
// to render where the dependency is declared in its own table, or a drop
// when the declaration must disappear from the published manifest. Plans
// are per table, so [dependencies] and [target.*] entries sharing a name
// stay independent.
type depAction struct {
	ref    DependencyRef
	drop   bool
	change string
}

// RewriteForPublish produces a publishable manifest from the raw bytes of
// a workspace member's Cargo.toml.
//
// The rewrite applies, in order:
//  1. Package field materialization: `key.workspace = true` and
//     `key = { workspace = true }` lines in [package] are replaced with
//     the literal value from the root's [workspace.package].
//  2. Dependency pinning: workspace-inherited dependencies are
//     materialized, and path dependencies on workspace siblings are
//     replaced with exact version pins ("=X.Y.Z"), preserving features,
//     optional, and default-features. Path-only dev-dependencies are
//     dropped and versioned ones keep their version requirement,
//     matching cargo's own packaging behavior.
//  3. Asset path rewriting: readme/license-file values escaping the crate
//     directory become bare filenames, reported as AssetCopy entries.
//  4. Workspace detachment: an empty [workspace] table is appended when
//     the manifest lacks one.
//
// Lines not named by one of these rules are preserved byte for byte.
func RewriteForPublish(raw []byte, spec RewriteSpec) (*RewriteResult, error) {
	m, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	plan, err := buildDepPlan(m, spec)
	if err != nil {
		return nil, err
	}

	result := &RewriteResult{}
	applied := make(map[string]bool, len(plan))

	lines := strings.Split(string(raw), "\n")
	out := make([]string, 0, len(lines)+2)

	currentTable := ""
	sawWorkspaceTable := false
	// skipSection is true while the walker is inside a section-form
	// dependency table whose body was replaced at the header.
	skipSection := false
	// absorb tracks unclosed brackets in a rewritten dependency value
	// that spans lines (a multi-line array inside an inline table). The
	// continuation lines belong to the replaced value and are consumed
	// here instead of leaking into the output.
	absorb := 0
	absorbFor := ""

	for _, line := range lines {
		if absorb > 0 {
			absorb += bracketBalance(line)
			continue
		}

		if header, ok := parseTableHeader(line); ok {
			skipSection = false
			currentTable = header
			if header == "workspace" || strings.HasPrefix(header, "workspace.") {
				sawWorkspaceTable = true
			}

			// Section-form dependency tables ([dependencies.name]) with a
			// planned rewrite get their entire body replaced here; the
			// original body lines are skipped until the next header. A
			// dropped dependency loses the header too.
			if _, depName, isDep := depSectionFor(header); isDep && depName != "" {
				parent := strings.TrimSuffix(header, "."+depName)
				key := planKey(parent, depName)
				if action, ok := plan[key]; ok {
					if applied[key] {
						skipSection = true
						continue
					}
					applied[key] = true
					result.Changes = append(result.Changes, action.change)
					skipSection = true
					if !action.drop {
						out = append(out, line)
						out = append(out, renderDepSection(action.ref)...)
					}
					continue
				}
			}

			out = append(out, line)
			continue
		}

		if skipSection {
			continue
		}

		switch {
		case currentTable == "package":
			newLine, change, err := materializePackageField(line, spec)
			if err != nil {
				return nil, err
			}
			if change != "" {
				result.Changes = append(result.Changes, change)
				line = newLine
			}

			newLine, asset, assetChange := rewriteAssetLine(line)
			if asset != nil {
				result.Assets = append(result.Assets, *asset)
				result.Changes = append(result.Changes, assetChange)
				line = newLine
			}
			out = append(out, line)

		default:
			_, depName, isDep := depSectionFor(currentTable)
			if !isDep || depName != "" {
				// Not a dependency table, or inside an unplanned
				// section-form body: preserve as-is.
				out = append(out, line)
				continue
			}

			// Dotted form first: `serde.workspace = true` spreads one
			// dependency across several lines. The first line for a
			// planned dependency becomes the full inline render and the
			// rest are absorbed.
			if m := dottedDepRegex.FindStringSubmatch(line); m != nil {
				key := planKey(currentTable, m[2])
				if action, ok := plan[key]; ok {
					if bal := bracketBalance(line[len(m[0]):]); bal > 0 {
						absorb = bal
						absorbFor = m[2]
					}
					if applied[key] {
						continue
					}
					applied[key] = true
					result.Changes = append(result.Changes, action.change)
					if !action.drop {
						out = append(out, m[1]+m[2]+" = "+renderDepInline(action.ref))
					}
					continue
				}
				out = append(out, line)
				continue
			}

			if m := depLineRegex.FindStringSubmatch(line); m != nil {
				lookup := strings.Trim(m[2], `"`)
				key := planKey(currentTable, lookup)
				if action, ok := plan[key]; ok {
					if bal := bracketBalance(m[3]); bal > 0 {
						absorb = bal
						absorbFor = lookup
					}
					if applied[key] {
						continue
					}
					applied[key] = true
					result.Changes = append(result.Changes, action.change)
					if !action.drop {
						out = append(out, m[1]+m[2]+" = "+renderDepInline(action.ref))
					}
					continue
				}
			}
			out = append(out, line)
		}
	}

	if absorb > 0 {
		return nil, fmt.Errorf("unterminated value for dependency %q: bracket left open at end of manifest", absorbFor)
	}

	// Every planned rewrite must have found its declaration in the text;
	// a miss means the manifest uses a layout the walker cannot patch.
	for key, action := range plan {
		if !applied[key] {
			return nil, fmt.Errorf("could not locate declaration to rewrite: %s (wanted %s)", key, renderDepInline(action.ref))
		}
	}

	// Detach the staged copy from any enclosing workspace. Cargo resolves
	// workspace membership by walking up the directory tree, so a staged
	// manifest without its own [workspace] table could be adopted by an
	// unrelated workspace above the staging directory.
	if !sawWorkspaceTable {
		out = trimTrailingEmpty(out)
		out = append(out, "", "[workspace]", "")
		result.Changes = append(result.Changes, "appended [workspace] table to detach staged copy")
	} else {
		out = trimTrailingEmpty(out)
		out = append(out, "")
	}

	result.Manifest = []byte(strings.Join(out, "\n"))
	return result, nil
}

// planKey builds the plan map key for a dependency declared in a given
// table. Keys carry the full normalized table path because the same
// dependency name may appear in [dependencies] and in any number of
// [target.*] tables, each with its own value.
func planKey(table, name string) string {
	return table + "/" + name
}

// buildDepPlan inspects every dependency table structurally and decides
// which dependencies need rewriting. Only workspace-inherited and path
// dependencies produce actions; registry and git dependencies pass through.
func buildDepPlan(m *Manifest, spec RewriteSpec) (map[string]depAction, error) {
	plan := make(map[string]depAction)

	for _, table := range m.DependencyTables() {
		for name, value := range table.Deps {
			ref, err := ParseDependency(value)
			if err != nil {
				return nil, fmt.Errorf("dependency %q in [%s]: %w", name, table.Table, err)
			}

			materialized := false
			if ref.Workspace {
				wsValue, ok := spec.WorkspaceDependencies[name]
				if !ok {
					return nil, fmt.Errorf("dependency %q in [%s] inherits from the workspace, but [workspace.dependencies] does not define it", name, table.Table)
				}
				wsRef, err := ParseDependency(wsValue)
				if err != nil {
					return nil, fmt.Errorf("workspace dependency %q: %w", name, err)
				}
				if len(wsRef.UnknownKeys) > 0 {
					return nil, fmt.Errorf("workspace dependency %q uses keys %v that cannot be published (git dependencies need a registry version)", name, wsRef.UnknownKeys)
				}
				ref = mergeWorkspaceDep(wsRef, ref)
				materialized = true
			}

			if ref.Path == "" {
				if materialized {
					plan[planKey(table.Table, name)] = depAction{
						ref:    ref,
						change: fmt.Sprintf("materialized workspace dependency %q in [%s]", name, table.Table),
					}
				}
				continue
			}

			// Cargo drops path-only dev-dependencies from published
			// manifests and keeps the version requirement for versioned
			// ones. Mirror that instead of pinning, so dev-only siblings
			// (test helpers, usually publish = false) stay unpublished.
			if table.Kind == "dev-dependencies" {
				if ref.Version == "" {
					plan[planKey(table.Table, name)] = depAction{
						drop:   true,
						change: fmt.Sprintf("dropped path-only dev-dependency %q", name),
					}
					continue
				}
				if len(ref.UnknownKeys) > 0 {
					return nil, fmt.Errorf("dev-dependency %q uses unsupported keys %v", name, ref.UnknownKeys)
				}
				stripped := ref
				stripped.Path = ""
				stripped.Workspace = false
				plan[planKey(table.Table, name)] = depAction{
					ref:    stripped,
					change: fmt.Sprintf("stripped path from dev-dependency %q, kept version %s", name, ref.Version),
				}
				continue
			}

			if len(ref.UnknownKeys) > 0 {
				return nil, fmt.Errorf("path dependency %q uses unsupported keys %v", name, ref.UnknownKeys)
			}

			crate := ref.CrateName(name)
			version, ok := spec.SiblingVersions[crate]
			if !ok {
				return nil, fmt.Errorf("path dependency %q (crate %q) in [%s] does not resolve to a workspace member", name, crate, table.Table)
			}

			pinned := ref
			pinned.Path = ""
			pinned.Workspace = false
			pinned.Version = "=" + version

			change := fmt.Sprintf("pinned path dependency %q to version %s in [%s]", name, pinned.Version, table.Table)
			if materialized {
				change = fmt.Sprintf("materialized workspace dependency %q and pinned to version %s in [%s]", name, pinned.Version, table.Table)
			}
			plan[planKey(table.Table, name)] = depAction{ref: pinned, change: change}
		}
	}

	return plan, nil
}

// mergeWorkspaceDep combines a [workspace.dependencies] definition with a
// member's `{ workspace = true, ... }` reference. Member features are
// additive; optional and default-features follow the member when set.
func mergeWorkspaceDep(ws, member DependencyRef) DependencyRef {
	merged := ws
	merged.Workspace = false

	seen := make(map[string]bool, len(ws.Features))
	for _, f := range ws.Features {
		seen[f] = true
	}
	for _, f := range member.Features {
		if !seen[f] {
			merged.Features = append(merged.Features, f)
			seen[f] = true
		}
	}

	if member.OptionalSet {
		merged.Optional = member.Optional
		merged.OptionalSet = true
	}
	if member.DefaultFeaturesSet {
		merged.DefaultFeatures = member.DefaultFeatures
		merged.DefaultFeaturesSet = true
	}
	return merged
}

// renderDepInline renders a dependency value for the inline position
// (`name = <value>`). A bare version requirement renders as a plain
// string; anything richer renders as an inline table with keys in a
// fixed order for deterministic output.
func renderDepInline(ref DependencyRef) string {
	parts := renderDepParts(ref)
	if len(parts) == 1 && strings.HasPrefix(parts[0], "version = ") {
		return strconv.Quote(ref.Version)
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

// renderDepSection renders a dependency as section-form body lines
// (inside a [dependencies.name] table).
func renderDepSection(ref DependencyRef) []string {
	return renderDepParts(ref)
}

// renderDepParts produces `key = value` fragments for a dependency in a
// fixed key order. Explicit no-op values (optional = false,
// default-features = true) are dropped since they equal Cargo's defaults.
func renderDepParts(ref DependencyRef) []string {
	var parts []string
	if ref.Version != "" {
		parts = append(parts, "version = "+strconv.Quote(ref.Version))
	}
	if ref.PackageRename != "" {
		parts = append(parts, "package = "+strconv.Quote(ref.PackageRename))
	}
	if ref.Registry != "" {
		parts = append(parts, "registry = "+strconv.Quote(ref.Registry))
	}
	if len(ref.Features) > 0 {
		quoted := make([]string, 0, len(ref.Features))
		for _, f := range ref.Features {
			quoted = append(quoted, strconv.Quote(f))
		}
		parts = append(parts, "features = ["+strings.Join(quoted, ", ")+"]")
	}
	if ref.OptionalSet && ref.Optional {
		parts = append(parts, "optional = true")
	}
	if ref.DefaultFeaturesSet && !ref.DefaultFeatures {
		parts = append(parts, "default-features = false")
	}
	return parts
}

// Workspace-inheritance marker forms in [package]:
//
//	version.workspace = true
//	version = { workspace = true }
var (
	wsFieldDottedRegex = regexp.MustCompile(`^(\s*)([A-Za-z0-9_-]+)\.workspace\s*=\s*true\s*(?:#.*)?$`)
	wsFieldInlineRegex = regexp.MustCompile(`^(\s*)([A-Za-z0-9_-]+)\s*=\s*\{\s*workspace\s*=\s*true\s*\}\s*(?:#.*)?$`)
)

// materializePackageField replaces a workspace-inheritance marker line in
// [package] with the literal value from [workspace.package]. Returns the
// original line and an empty change string when the line is not a marker.
func materializePackageField(line string, spec RewriteSpec) (string, string, error) {
	m := wsFieldDottedRegex.FindStringSubmatch(line)
	if m == nil {
		m = wsFieldInlineRegex.FindStringSubmatch(line)
	}
	if m == nil {
		return line, "", nil
	}

	indent, key := m[1], m[2]
	if spec.WorkspacePackage == nil {
		return "", "", fmt.Errorf("package field %q inherits from the workspace, but the root manifest has no [workspace.package] table", key)
	}
	value, ok := spec.WorkspacePackage[key]
	if !ok {
		return "", "", fmt.Errorf("package field %q inherits from the workspace, but [workspace.package] does not define it", key)
	}

	// Inherited asset paths are relative to the workspace root; rebase
	// them to the member directory so the asset rule applies afterwards.
	if key == "readme" || key == "license-file" {
		if s, ok := value.(string); ok {
			value = rebaseRootPath(spec.MemberDir, s)
		}
	}

	rendered, err := renderTOMLValue(value)
	if err != nil {
		return "", "", fmt.Errorf("cannot materialize workspace field %q: %w", key, err)
	}

	return indent + key + " = " + rendered,
		fmt.Sprintf("materialized workspace field %q in [package]", key),
		nil
}

// assetLineRegex matches readme/license-file string assignments.
var assetLineRegex = regexp.MustCompile(`^(\s*)(readme|license-file)\s*=\s*"([^"]+)"\s*(?:#.*)?$`)

// rewriteAssetLine rewrites a readme or license-file value that escapes
// the crate directory to its bare filename and reports the file for
// staging. Paths already inside the crate directory are left alone; the
// tree copy brings them along.
func rewriteAssetLine(line string) (string, *AssetCopy, string) {
	m := assetLineRegex.FindStringSubmatch(line)
	if m == nil {
		return line, nil, ""
	}

	indent, key, value := m[1], m[2], m[3]
	clean := path.Clean(value)
	if !strings.HasPrefix(clean, "../") {
		return line, nil, ""
	}

	dest := path.Base(clean)
	newLine := indent + key + " = " + strconv.Quote(dest)
	change := fmt.Sprintf("rewrote %s path %q to %q", key, value, dest)
	return newLine, &AssetCopy{Source: value, Dest: dest}, change
}

// Dependency line forms inside dependency tables: the plain key form and
// the dotted form (`serde.workspace = true`). Dotted is matched first
// because the plain form's key charset includes dots for quoted keys.
var (
	depLineRegex   = regexp.MustCompile(`^(\s*)("?[A-Za-z0-9_][A-Za-z0-9_.-]*"?)\s*=\s*(.+)$`)
	dottedDepRegex = regexp.MustCompile(`^(\s*)([A-Za-z0-9_-]+)\.[A-Za-z0-9-]+\s*=`)
)

// bracketBalance returns the net count of `{` and `[` opened on the line,
// ignoring brackets inside strings and after a comment marker. A positive
// result means the value continues on the next line, which TOML permits
// for arrays nested in inline tables.
func bracketBalance(s string) int {
	depth := 0
	var quote byte
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\' && quote == '"':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '#':
			return depth
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		}
	}
	return depth
}

// depSectionFor classifies a normalized table header. It returns the
// canonical dependency kind and, for section-form tables, the dependency
// name. ok is false for non-dependency tables.
//
// Recognized shapes:
//
//	dependencies                         → ("dependencies", "", true)
//	dependencies.serde                   → ("dependencies", "serde", true)
//	target.cfg(unix).dev-dependencies    → ("dev-dependencies", "", true)
//	target.cfg(unix).dependencies.libc   → ("dependencies", "libc", true)
func depSectionFor(header string) (string, string, bool) {
	for _, kind := range depKinds {
		if header == kind {
			return kind, "", true
		}
		if strings.HasPrefix(header, kind+".") {
			return kind, strings.TrimPrefix(header, kind+"."), true
		}
		if strings.HasPrefix(header, "target.") {
			marker := "." + kind
			idx := strings.Index(header, marker)
			if idx < 0 {
				continue
			}
			rest := header[idx+len(marker):]
			if rest == "" {
				return kind, "", true
			}
			if strings.HasPrefix(rest, ".") {
				return kind, rest[1:], true
			}
		}
	}
	return "", "", false
}

// renderTOMLValue renders a decoded TOML value back to TOML syntax.
// Supports the scalar and string-array shapes that appear in
// [workspace.package]; nested tables are rejected.
func renderTOMLValue(v interface{}) (string, error) {
	switch value := v.(type) {
	case string:
		return strconv.Quote(value), nil
	case bool:
		return strconv.FormatBool(value), nil
	case int64:
		return strconv.FormatInt(value, 10), nil
	case float64:
		return strconv.FormatFloat(value, 'g', -1, 64), nil
	case []interface{}:
		parts := make([]string, 0, len(value))
		for _, item := range value {
			rendered, err := renderTOMLValue(item)
			if err != nil {
				return "", err
			}
			parts = append(parts, rendered)
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// rebaseRootPath converts a workspace-root-relative path into one
// relative to the given member directory by prefixing one "../" per path
// segment of the member directory.
func rebaseRootPath(memberDir, value string) string {
	clean := path.Clean(memberDir)
	if clean == "." || clean == "" || clean == "/" {
		return value
	}
	depth := strings.Count(clean, "/") + 1
	return strings.Repeat("../", depth) + value
}

// trimTrailingEmpty drops trailing empty lines so the caller controls the
// file's final newline count exactly.
func trimTrailingEmpty(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
