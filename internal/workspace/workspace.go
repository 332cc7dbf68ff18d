// workspace.go implements workspace discovery and member loading.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidegate/stevedore/internal/manifest"
	"github.com/tidegate/stevedore/internal/model"
)

// Workspace is a discovered Cargo workspace: its root directory, the
// parsed root manifest, and every member package that has a [package]
// table.
type Workspace struct {
	// Root is the absolute path of the directory holding the root
	// Cargo.toml.
	Root string

	// Manifest is the parsed root manifest. Its [workspace.package] and
	// [workspace.dependencies] tables feed manifest rewriting.
	Manifest *manifest.Manifest

	// Members lists the workspace's packages sorted by crate name. For a
	// standalone package this holds exactly one entry.
	Members []*model.Package
}

// Discover walks up from start to the nearest Cargo.toml with a
// [workspace] table and loads its members.
//
// When the walk finds package manifests but never a workspace table, the
// closest package becomes a single-member workspace; cargo applies the
// same fallback to standalone crates. Reaching the filesystem root
// without finding any manifest is a workspace error.
func Discover(start string) (*Workspace, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve start directory %q: %w", start, err)
	}

	standaloneDir := ""
	var standalone *manifest.Manifest

	for {
		manifestPath := filepath.Join(dir, "Cargo.toml")
		if _, statErr := os.Stat(manifestPath); statErr == nil {
			m, err := manifest.Load(manifestPath)
			if err != nil {
				return nil, err
			}
			if m.IsWorkspaceRoot() {
				return load(dir, m)
			}
			if m.Package != nil && standalone == nil {
				standaloneDir, standalone = dir, m
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if standalone != nil {
		return load(standaloneDir, standalone)
	}

	return nil, model.NewCLIError(model.ExitWorkspaceError,
		fmt.Sprintf("no Cargo.toml with a [workspace] table found at or above %s", start))
}

// load builds the Workspace for a root directory whose manifest has
// already been parsed.
func load(root string, rootManifest *manifest.Manifest) (*Workspace, error) {
	dirs, err := memberDirs(root, rootManifest)
	if err != nil {
		return nil, err
	}

	type loadedMember struct {
		pkg *model.Package
		man *manifest.Manifest
	}

	members := make([]loadedMember, 0, len(dirs))
	byName := make(map[string]bool, len(dirs))
	for _, dir := range dirs {
		pkg, man, err := loadMember(root, dir, rootManifest)
		if err != nil {
			return nil, err
		}
		if pkg == nil {
			// A member glob matched a directory whose manifest has no
			// [package] table. Nothing to publish there.
			continue
		}
		if byName[pkg.Name] {
			return nil, model.NewCLIError(model.ExitWorkspaceError,
				fmt.Sprintf("duplicate crate name %q in workspace", pkg.Name))
		}
		byName[pkg.Name] = true
		members = append(members, loadedMember{pkg: pkg, man: man})
	}

	// Internal dependencies can only be resolved once the full member set
	// is known, so this is a second pass.
	pkgs := make([]*model.Package, 0, len(members))
	for _, member := range members {
		member.pkg.InternalDeps = internalDeps(member.man, byName, rootManifest)
		pkgs = append(pkgs, member.pkg)
	}

	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })

	return &Workspace{Root: root, Manifest: rootManifest, Members: pkgs}, nil
}

// memberDirs expands the [workspace] member globs into concrete crate
// directories. Exclusions are honored, duplicates collapse, and a root
// package counts as a member of its own workspace.
func memberDirs(root string, m *manifest.Manifest) ([]string, error) {
	if m.Workspace == nil {
		return []string{filepath.Clean(root)}, nil
	}

	excluded := make(map[string]bool, len(m.Workspace.Exclude))
	for _, e := range m.Workspace.Exclude {
		excluded[filepath.Clean(filepath.Join(root, e))] = true
	}

	seen := make(map[string]bool)
	var dirs []string
	for _, pattern := range m.Workspace.Members {
		matches, err := filepath.Glob(filepath.Join(root, pattern))
		if err != nil {
			return nil, model.WrapCLIError(model.ExitWorkspaceError,
				fmt.Sprintf("invalid workspace member pattern %q", pattern), err)
		}
		// A literal (non-glob) member that matches nothing is a broken
		// workspace; a glob that matches nothing is fine.
		if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
			return nil, model.NewCLIError(model.ExitWorkspaceError,
				fmt.Sprintf("workspace member %q does not exist under %s", pattern, root))
		}

		for _, match := range matches {
			clean := filepath.Clean(match)
			if seen[clean] || excluded[clean] {
				continue
			}
			info, err := os.Stat(clean)
			if err != nil || !info.IsDir() {
				continue
			}
			if _, err := os.Stat(filepath.Join(clean, "Cargo.toml")); err != nil {
				continue
			}
			seen[clean] = true
			dirs = append(dirs, clean)
		}
	}

	if m.Package != nil {
		clean := filepath.Clean(root)
		if !seen[clean] && !excluded[clean] {
			dirs = append(dirs, clean)
		}
	}

	sort.Strings(dirs)
	return dirs, nil
}

// loadMember parses one member manifest into a model.Package, resolving
// a workspace-inherited version through [workspace.package]. Returns a
// nil package for virtual manifests.
func loadMember(root, dir string, rootManifest *manifest.Manifest) (*model.Package, *manifest.Manifest, error) {
	manifestPath := filepath.Join(dir, "Cargo.toml")

	var m *manifest.Manifest
	var err error
	if dir == filepath.Clean(root) {
		m = rootManifest
	} else {
		m, err = manifest.Load(manifestPath)
		if err != nil {
			return nil, nil, err
		}
	}

	if m.Package == nil {
		return nil, nil, nil
	}

	name := m.Name()
	if err := model.ValidateCrateName(name); err != nil {
		return nil, nil, model.WrapCLIError(model.ExitWorkspaceError,
			fmt.Sprintf("invalid crate name in %s", manifestPath), err)
	}

	version, inherited := m.Version()
	if inherited {
		version, err = workspaceVersion(rootManifest)
		if err != nil {
			return nil, nil, model.WrapCLIError(model.ExitWorkspaceError,
				fmt.Sprintf("crate %q inherits its version from the workspace", name), err)
		}
	}
	if version == "" {
		return nil, nil, model.NewCLIError(model.ExitWorkspaceError,
			fmt.Sprintf("crate %q declares no version", name))
	}

	relDir, err := filepath.Rel(root, dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute relative path for %s: %w", dir, err)
	}

	pkg := &model.Package{
		Name:         name,
		Version:      version,
		Dir:          dir,
		RelDir:       filepath.ToSlash(relDir),
		ManifestPath: manifestPath,
		Publishable:  m.IsPublishable(),
		Readme:       m.ReadmePath(),
		LicenseFile:  m.LicenseFilePath(),
	}
	return pkg, m, nil
}

// workspaceVersion returns the version members inherit via
// version.workspace = true.
func workspaceVersion(m *manifest.Manifest) (string, error) {
	if m.Workspace == nil || m.Workspace.Package == nil {
		return "", fmt.Errorf("root manifest has no [workspace.package] table")
	}
	v, ok := m.Workspace.Package["version"].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("[workspace.package] does not define a version")
	}
	return v, nil
}

// internalDeps collects the crate names of workspace members this
// manifest depends on through path or workspace-inherited dependencies.
// Dev-dependencies are ignored: path-only ones are dropped from the
// published manifest, so they impose no publish ordering.
func internalDeps(m *manifest.Manifest, members map[string]bool, rootManifest *manifest.Manifest) []string {
	seen := make(map[string]bool)
	var deps []string

	for _, table := range m.DependencyTables() {
		if table.Kind == "dev-dependencies" {
			continue
		}
		for name, value := range table.Deps {
			ref, err := manifest.ParseDependency(value)
			if err != nil {
				continue
			}
			if ref.Workspace && rootManifest.Workspace != nil {
				if wsValue, ok := rootManifest.Workspace.Dependencies[name]; ok {
					if wsRef, err := manifest.ParseDependency(wsValue); err == nil {
						ref.Path = wsRef.Path
						if wsRef.PackageRename != "" {
							ref.PackageRename = wsRef.PackageRename
						}
					}
				}
			}
			if ref.Path == "" {
				continue
			}
			crate := ref.CrateName(name)
			if members[crate] && !seen[crate] {
				seen[crate] = true
				deps = append(deps, crate)
			}
		}
	}

	sort.Strings(deps)
	return deps
}

// Select returns the members matching the given crate names, or every
// publishable member when names is empty. Unknown names and explicitly
// named publish = false crates are errors; duplicates collapse.
func (ws *Workspace) Select(names []string) ([]*model.Package, error) {
	if len(names) == 0 {
		var pkgs []*model.Package
		for _, pkg := range ws.Members {
			if pkg.Publishable {
				pkgs = append(pkgs, pkg)
			}
		}
		if len(pkgs) == 0 {
			return nil, model.NewCLIError(model.ExitWorkspaceError,
				"workspace has no publishable members")
		}
		return pkgs, nil
	}

	byName := make(map[string]*model.Package, len(ws.Members))
	for _, pkg := range ws.Members {
		byName[pkg.Name] = pkg
	}

	seen := make(map[string]bool, len(names))
	pkgs := make([]*model.Package, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		pkg, ok := byName[name]
		if !ok {
			return nil, model.NewCLIError(model.ExitWorkspaceError,
				fmt.Sprintf("crate %q is not a workspace member (members: %s)",
					name, strings.Join(memberNames(ws.Members), ", ")))
		}
		if !pkg.Publishable {
			return nil, model.NewCLIError(model.ExitWorkspaceError,
				fmt.Sprintf("crate %q has publish = false and cannot be published", name))
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, nil
}

func memberNames(pkgs []*model.Package) []string {
	names := make([]string, 0, len(pkgs))
	for _, pkg := range pkgs {
		names = append(names, pkg.Name)
	}
	return names
}
