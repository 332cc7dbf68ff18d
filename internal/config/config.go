// config.go defines the configuration schema, discovery, loading, and
// defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/tidegate/stevedore/internal/model"
)

// candidatePaths lists the configuration locations probed relative to
// the workspace root, in priority order.
var candidatePaths = []string{
	filepath.Join(".stevedore", "config.jsonc"),
	"stevedore.jsonc",
}

// Config is the root configuration object. All fields are optional in
// the file; Load fills defaults before validation.
type Config struct {
	// Registry selects the target registry and the publish tool.
	Registry RegistryConfig `json:"registry"`

	// Packages restricts publishing to the named crates (in the given
	// order) when the publish command receives no positional arguments.
	// Empty means every publishable workspace member.
	Packages []string `json:"packages"`

	// Staging controls where temporary publishable copies live.
	Staging StagingConfig `json:"staging"`

	// Verify controls pre-publish verification.
	Verify VerifyConfig `json:"verify"`

	// Publish tunes the publish invocation and retry behavior.
	Publish PublishConfig `json:"publish"`

	// Hooks declares shell snippets run before and after publishing.
	Hooks HooksConfig `json:"hooks"`
}

// RegistryConfig identifies the registry and the external tool.
type RegistryConfig struct {
	// Name is the cargo registry name. The default, crates-io, is
	// cargo's built-in registry and adds no --registry flag.
	Name string `json:"name"`

	// IndexURL is the sparse index base URL used for published-version
	// queries.
	IndexURL string `json:"indexUrl"`

	// Tool is the publish command, cargo unless overridden.
	Tool string `json:"tool"`

	// ExtraArgs are appended verbatim to every publish invocation.
	ExtraArgs []string `json:"extraArgs"`
}

// StagingConfig controls stage directory placement and retention.
type StagingConfig struct {
	// Root is the parent directory for stage directories. Empty means
	// the system temp directory.
	Root string `json:"root"`

	// Keep leaves stage directories in place after the run.
	Keep bool `json:"keep"`
}

// VerifyConfig controls the verification step that runs before each
// publish.
type VerifyConfig struct {
	// Mode is none, local, or sandbox.
	Mode string `json:"mode"`

	// Image is the container image for sandbox verification.
	Image string `json:"image"`

	// TimeoutSeconds bounds a single verification run.
	TimeoutSeconds int `json:"timeoutSeconds"`

	// Parallel is how many crates verify concurrently (1-8).
	Parallel int `json:"parallel"`
}

// Timeout returns the verification timeout as a duration.
func (v VerifyConfig) Timeout() time.Duration {
	return time.Duration(v.TimeoutSeconds) * time.Second
}

// PublishConfig tunes the publish invocation.
//
// AllowDirty and WaitAvailable are pointers so an explicit false in the
// file is distinguishable from an absent field; Load leaves them non-nil.
type PublishConfig struct {
	// AllowDirty passes --allow-dirty. Defaults to true: stage
	// directories are fresh copies outside version control, which cargo
	// would otherwise reject as dirty.
	AllowDirty *bool `json:"allowDirty"`

	// NoVerify passes --no-verify, skipping cargo's own build
	// verification during publish.
	NoVerify bool `json:"noVerify"`

	// Retries is how many times a transient publish failure is retried.
	// A pointer because an explicit 0 (never retry) must survive
	// defaulting.
	Retries *int `json:"retries"`

	// BackoffSeconds is the base of the exponential retry backoff.
	BackoffSeconds int `json:"backoffSeconds"`

	// WaitAvailable waits for each published version to appear in the
	// registry index before publishing its dependents.
	WaitAvailable *bool `json:"waitAvailable"`

	// WaitTimeoutSeconds bounds that wait.
	WaitTimeoutSeconds int `json:"waitTimeoutSeconds"`

	// DelaySeconds pauses between consecutive publishes. A pointer for
	// the same reason as Retries: 0 is a valid setting.
	DelaySeconds *int `json:"delaySeconds"`
}

// Backoff returns the base retry backoff as a duration.
func (p PublishConfig) Backoff() time.Duration {
	return time.Duration(p.BackoffSeconds) * time.Second
}

// WaitTimeout returns the index availability timeout as a duration.
func (p PublishConfig) WaitTimeout() time.Duration {
	return time.Duration(p.WaitTimeoutSeconds) * time.Second
}

// Delay returns the inter-publish pause as a duration.
func (p PublishConfig) Delay() time.Duration {
	if p.DelaySeconds == nil {
		return 0
	}
	return time.Duration(*p.DelaySeconds) * time.Second
}

// MaxRetries returns the retry count, 0 when retries are disabled.
func (p PublishConfig) MaxRetries() int {
	if p.Retries == nil {
		return 0
	}
	return *p.Retries
}

// HooksConfig declares pre- and post-publish shell snippets.
type HooksConfig struct {
	// PrePublish snippets run before any crate is staged; a failure
	// aborts the run.
	PrePublish []string `json:"prePublish"`

	// PostPublish snippets run after all publishes; a failure is
	// reported but rolls nothing back.
	PostPublish []string `json:"postPublish"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Find probes the candidate paths under the workspace root and returns
// the first configuration file that exists.
func Find(workspaceRoot string) (string, bool) {
	for _, candidate := range candidatePaths {
		path := filepath.Join(workspaceRoot, candidate)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// Load reads, decodes, defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError,
			fmt.Sprintf("failed to read config %s", path), err)
	}

	// Strip JSONC comments and trailing commas before decoding.
	clean := jsonc.ToJSON(data)

	cfg := &Config{}
	if err := json.Unmarshal(clean, cfg); err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError,
			fmt.Sprintf("failed to parse config %s", path), err)
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault resolves the effective configuration: an explicit path
// wins, then the discovered file, then defaults. The returned path names
// the file used, empty when running on defaults.
func LoadOrDefault(workspaceRoot, explicitPath string) (*Config, string, error) {
	if explicitPath != "" {
		cfg, err := Load(explicitPath)
		return cfg, explicitPath, err
	}
	if path, ok := Find(workspaceRoot); ok {
		cfg, err := Load(path)
		return cfg, path, err
	}
	return Default(), "", nil
}

func applyDefaults(cfg *Config) {
	if cfg.Registry.Name == "" {
		cfg.Registry.Name = "crates-io"
	}
	if cfg.Registry.IndexURL == "" {
		cfg.Registry.IndexURL = "https://index.crates.io"
	}
	if cfg.Registry.Tool == "" {
		cfg.Registry.Tool = "cargo"
	}

	if cfg.Verify.Mode == "" {
		cfg.Verify.Mode = model.VerifyLocal.String()
	}
	if cfg.Verify.Image == "" {
		cfg.Verify.Image = "rust:1-slim"
	}
	if cfg.Verify.TimeoutSeconds == 0 {
		cfg.Verify.TimeoutSeconds = 600
	}
	if cfg.Verify.Parallel == 0 {
		cfg.Verify.Parallel = 2
	}

	if cfg.Publish.AllowDirty == nil {
		cfg.Publish.AllowDirty = boolPtr(true)
	}
	if cfg.Publish.Retries == nil {
		cfg.Publish.Retries = intPtr(3)
	}
	if cfg.Publish.BackoffSeconds == 0 {
		cfg.Publish.BackoffSeconds = 2
	}
	if cfg.Publish.WaitAvailable == nil {
		cfg.Publish.WaitAvailable = boolPtr(true)
	}
	if cfg.Publish.WaitTimeoutSeconds == 0 {
		cfg.Publish.WaitTimeoutSeconds = 120
	}
	if cfg.Publish.DelaySeconds == nil {
		cfg.Publish.DelaySeconds = intPtr(5)
	}
}

func boolPtr(b bool) *bool {
	return &b
}

func intPtr(i int) *int {
	return &i
}
