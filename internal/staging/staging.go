// staging.go implements stage directory creation, crate tree copying,
// and cleanup.
package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidegate/stevedore/internal/manifest"
	"github.com/tidegate/stevedore/internal/model"
)

// stagePrefix starts every stage directory name, so stale directories
// from interrupted runs are recognizable.
const stagePrefix = "stevedore-"

// Stager creates stage directories under a common root and remembers
// them for cleanup. Safe for concurrent use; parallel verification
// stages several crates at once.
type Stager struct {
	root string
	keep bool

	mu      sync.Mutex
	created []string
}

// NewStager returns a Stager placing stage directories under root. An
// empty root means the system temp directory. With keep set, CleanupAll
// leaves the directories in place for inspection.
func NewStager(root string, keep bool) *Stager {
	return &Stager{root: root, keep: keep}
}

// Stage copies the package's crate tree into a fresh temporary directory
// and returns its path.
//
// The copy skips entries that must not be published: the top-level
// target/ build directory, hidden entries (.git and friends), symlinks,
// and the root Cargo.toml, which WriteManifest writes separately after
// rewriting.
func (s *Stager) Stage(pkg *model.Package) (string, error) {
	root := s.root
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", model.WrapCLIError(model.ExitStagingError,
			fmt.Sprintf("failed to create staging root %s", root), err)
	}

	stageDir, err := os.MkdirTemp(root, stagePrefix+pkg.Name+"-*")
	if err != nil {
		return "", model.WrapCLIError(model.ExitStagingError,
			fmt.Sprintf("failed to create stage directory for %s", pkg.Name), err)
	}

	s.mu.Lock()
	s.created = append(s.created, stageDir)
	s.mu.Unlock()

	if err := copyTree(pkg.Dir, stageDir); err != nil {
		return "", model.WrapCLIError(model.ExitStagingError,
			fmt.Sprintf("failed to stage %s", pkg.Name), err)
	}
	return stageDir, nil
}

// WriteManifest writes the rewritten Cargo.toml into a stage directory.
func (s *Stager) WriteManifest(stageDir string, raw []byte) error {
	path := filepath.Join(stageDir, "Cargo.toml")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return model.WrapCLIError(model.ExitStagingError,
			fmt.Sprintf("failed to write staged manifest %s", path), err)
	}
	return nil
}

// CopyAsset copies a readme or license file that lives outside the crate
// directory into the stage root, where the rewritten manifest expects it.
func (s *Stager) CopyAsset(stageDir, crateDir string, asset manifest.AssetCopy) error {
	src := filepath.Clean(filepath.Join(crateDir, filepath.FromSlash(asset.Source)))
	info, err := os.Stat(src)
	if err != nil {
		return model.WrapCLIError(model.ExitStagingError,
			fmt.Sprintf("manifest references %s, which does not exist", src), err)
	}
	if info.IsDir() {
		return model.NewCLIError(model.ExitStagingError,
			fmt.Sprintf("manifest references %s, which is a directory", src))
	}

	dst := filepath.Join(stageDir, asset.Dest)
	if err := copyFile(src, dst, info.Mode()); err != nil {
		return model.WrapCLIError(model.ExitStagingError,
			fmt.Sprintf("failed to copy %s into stage", asset.Dest), err)
	}
	return nil
}

// CleanupAll removes every stage directory this Stager created. Callers
// defer it right after constructing the Stager so staged copies are
// removed no matter how the run ends. With keep set it does nothing.
func (s *Stager) CleanupAll() error {
	if s.keep {
		return nil
	}

	s.mu.Lock()
	dirs := make([]string, len(s.created))
	copy(dirs, s.created)
	s.created = s.created[:0]
	s.mu.Unlock()

	var errs []error
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", dir, err))
		}
	}
	return errors.Join(errs...)
}

// StaleDirs lists leftover stage directories under root from earlier
// interrupted runs. Only directories carrying the stage prefix count.
func StaleDirs(root string) ([]string, error) {
	if root == "" {
		root = os.TempDir()
	}

	matches, err := filepath.Glob(filepath.Join(root, stagePrefix+"*"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s for stale stage directories: %w", root, err)
	}

	var dirs []string
	for _, match := range matches {
		if info, err := os.Stat(match); err == nil && info.IsDir() {
			dirs = append(dirs, match)
		}
	}
	return dirs, nil
}

// SweepStale removes leftover stage directories under root and reports
// how many were removed.
func SweepStale(root string) (int, error) {
	dirs, err := StaleDirs(root)
	if err != nil {
		return 0, err
	}

	removed := 0
	var errs []error
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", dir, err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// copyTree copies the crate tree at src into dst, which must already
// exist. Skips the crate's top-level target/, hidden entries, symlinks,
// and the root manifest.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("error walking crate tree at %s: %w", path, walkErr)
		}

		relPath, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("failed to compute relative path for %s: %w", path, err)
		}
		if relPath == "." {
			return nil
		}

		base := filepath.Base(path)
		if strings.HasPrefix(base, ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}

		dstPath := filepath.Join(dst, relPath)

		if info.IsDir() {
			// Build output never belongs in a published crate. Only the
			// crate root holds cargo's build directory; a tracked
			// src/target/ is ordinary source and must be copied.
			if relPath == "target" {
				return filepath.SkipDir
			}
			if err := os.MkdirAll(dstPath, info.Mode()); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dstPath, err)
			}
			return nil
		}

		// The root manifest is written separately after rewriting. Nested
		// Cargo.toml files (test fixtures, examples) are copied as-is.
		if relPath == "Cargo.toml" {
			return nil
		}

		return copyFile(path, dstPath, info.Mode())
	})
}

// copyFile streams a single file from src to dst, preserving the mode.
func copyFile(src, dst string, mode os.FileMode) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", src, err)
	}
	defer func() { _ = srcFile.Close() }()

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", dst, err)
	}
	defer func() { _ = dstFile.Close() }()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return nil
}
