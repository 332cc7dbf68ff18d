package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidegate/stevedore/internal/model"
)

func writeConfig(t *testing.T, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// --- Load tests ---

// TestLoad_FullConfig verifies decoding of a complete JSONC file,
// including comments, and that explicit values survive defaulting.
func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "stevedore.jsonc", `{
	// registry to publish to
	"registry": {
		"name": "tidegate",
		"indexUrl": "https://crates.tidegate.io/index",
		"tool": "cargo",
		"extraArgs": ["--locked"]
	},
	"packages": ["acme-ui", "acme-ui-widgets"],
	"staging": { "root": "/var/tmp/stevedore", "keep": true },
	"verify": { "mode": "sandbox", "image": "rust:1.80", "timeoutSeconds": 900, "parallel": 4 },
	"publish": {
		"allowDirty": false,
		"noVerify": true,
		"retries": 0, // fail fast
		"backoffSeconds": 5,
		"waitAvailable": false,
		"waitTimeoutSeconds": 60,
		"delaySeconds": 0
	},
	"hooks": {
		"prePublish": ["git diff --quiet"],
		"postPublish": ["echo done"]
	}
}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tidegate", cfg.Registry.Name)
	assert.Equal(t, "https://crates.tidegate.io/index", cfg.Registry.IndexURL)
	assert.Equal(t, []string{"--locked"}, cfg.Registry.ExtraArgs)
	assert.Equal(t, []string{"acme-ui", "acme-ui-widgets"}, cfg.Packages)
	assert.Equal(t, "/var/tmp/stevedore", cfg.Staging.Root)
	assert.True(t, cfg.Staging.Keep)
	assert.Equal(t, "sandbox", cfg.Verify.Mode)
	assert.Equal(t, 900*time.Second, cfg.Verify.Timeout())
	assert.Equal(t, 4, cfg.Verify.Parallel)

	assert.False(t, *cfg.Publish.AllowDirty,
		"an explicit false must survive the default-true rule")
	assert.True(t, cfg.Publish.NoVerify)
	assert.Equal(t, 0, cfg.Publish.MaxRetries(),
		"an explicit 0 must survive the default-3 rule")
	assert.Equal(t, 5*time.Second, cfg.Publish.Backoff())
	assert.False(t, *cfg.Publish.WaitAvailable)
	assert.Equal(t, time.Duration(0), cfg.Publish.Delay(),
		"an explicit 0 delay must survive defaulting")
	assert.Equal(t, []string{"git diff --quiet"}, cfg.Hooks.PrePublish)
}

// TestLoad_Defaults verifies that an empty file yields the documented
// defaults.
func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "stevedore.jsonc", `{}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "crates-io", cfg.Registry.Name)
	assert.Equal(t, "https://index.crates.io", cfg.Registry.IndexURL)
	assert.Equal(t, "cargo", cfg.Registry.Tool)
	assert.Empty(t, cfg.Packages)
	assert.Equal(t, "local", cfg.Verify.Mode)
	assert.Equal(t, "rust:1-slim", cfg.Verify.Image)
	assert.Equal(t, 600*time.Second, cfg.Verify.Timeout())
	assert.Equal(t, 2, cfg.Verify.Parallel)
	assert.True(t, *cfg.Publish.AllowDirty)
	assert.False(t, cfg.Publish.NoVerify)
	assert.Equal(t, 3, cfg.Publish.MaxRetries())
	assert.Equal(t, 2*time.Second, cfg.Publish.Backoff())
	assert.True(t, *cfg.Publish.WaitAvailable)
	assert.Equal(t, 120*time.Second, cfg.Publish.WaitTimeout())
	assert.Equal(t, 5*time.Second, cfg.Publish.Delay())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.jsonc"))
	require.Error(t, err)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitConfigError, cliErr.Code)
}

func TestLoad_MalformedJSON(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "stevedore.jsonc", `{"registry": `)

	_, err := Load(path)
	require.Error(t, err)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitConfigError, cliErr.Code)
}

// --- Discovery tests ---

// TestFind verifies the candidate order: .stevedore/config.jsonc wins
// over stevedore.jsonc at the workspace root.
func TestFind(t *testing.T) {
	root := t.TempDir()
	fallback := writeConfig(t, root, "stevedore.jsonc", `{}`)

	path, ok := Find(root)
	require.True(t, ok)
	assert.Equal(t, fallback, path)

	preferred := writeConfig(t, root, filepath.Join(".stevedore", "config.jsonc"), `{}`)

	path, ok = Find(root)
	require.True(t, ok)
	assert.Equal(t, preferred, path)
}

func TestFind_None(t *testing.T) {
	_, ok := Find(t.TempDir())
	assert.False(t, ok)
}

func TestLoadOrDefault(t *testing.T) {
	root := t.TempDir()

	// No file anywhere: defaults, empty path.
	cfg, path, err := LoadOrDefault(root, "")
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, "crates-io", cfg.Registry.Name)

	// Discovered file.
	discovered := writeConfig(t, root, "stevedore.jsonc", `{"registry": {"name": "tidegate"}}`)
	cfg, path, err = LoadOrDefault(root, "")
	require.NoError(t, err)
	assert.Equal(t, discovered, path)
	assert.Equal(t, "tidegate", cfg.Registry.Name)

	// Explicit path wins over the discovered file.
	explicit := writeConfig(t, root, "other.jsonc", `{"registry": {"name": "internal"}}`)
	cfg, path, err = LoadOrDefault(root, explicit)
	require.NoError(t, err)
	assert.Equal(t, explicit, path)
	assert.Equal(t, "internal", cfg.Registry.Name)

	// An explicit path that does not exist is an error, not a fallback.
	_, _, err = LoadOrDefault(root, filepath.Join(root, "missing.jsonc"))
	assert.Error(t, err)
}

// --- Validate tests ---

// TestValidate collects the interesting violations; each case names the
// field expected in the error message.
func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(cfg *Config)
		wantPart string
	}{
		{
			name:     "bad index url",
			mutate:   func(cfg *Config) { cfg.Registry.IndexURL = "ftp://example.com" },
			wantPart: "registry.indexUrl",
		},
		{
			name:     "bad verify mode",
			mutate:   func(cfg *Config) { cfg.Verify.Mode = "paranoid" },
			wantPart: "verify.mode",
		},
		{
			name:     "parallel out of bounds",
			mutate:   func(cfg *Config) { cfg.Verify.Parallel = 9 },
			wantPart: "verify.parallel",
		},
		{
			name:     "negative timeout",
			mutate:   func(cfg *Config) { cfg.Verify.TimeoutSeconds = -1 },
			wantPart: "verify.timeoutSeconds",
		},
		{
			name:     "retries out of bounds",
			mutate:   func(cfg *Config) { cfg.Publish.Retries = intPtr(11) },
			wantPart: "publish.retries",
		},
		{
			name:     "invalid package name",
			mutate:   func(cfg *Config) { cfg.Packages = []string{"9lives"} },
			wantPart: "packages",
		},
		{
			name:     "negative delay",
			mutate:   func(cfg *Config) { cfg.Publish.DelaySeconds = intPtr(-1) },
			wantPart: "publish.delaySeconds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var cliErr *model.CLIError
			require.True(t, errors.As(err, &cliErr))
			assert.Equal(t, model.ExitConfigError, cliErr.Code)
			assert.Contains(t, err.Error(), tt.wantPart)
		})
	}
}

func TestValidate_DefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

// TestValidate_CollectsAllProblems verifies that multiple violations are
// reported together rather than one at a time.
func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Verify.Mode = "paranoid"
	cfg.Verify.Parallel = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verify.mode")
	assert.Contains(t, err.Error(), "verify.parallel")
}
