// Package model defines the domain types for the stevedore CLI.
//
// All entities in this package represent the publish pipeline's view of a
// Cargo workspace: which crates exist, what order they publish in, and how
// far each one made it through the stage → verify → publish lifecycle.
//
// Key design decision: the pipeline never mutates the workspace itself.
// Every Package points back at the original crate directory, and all
// publish-time modifications happen on staged copies, so these types carry
// both the source location and the transient staging state.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// PublishState represents how far a package progressed through the
// publish pipeline. The state transitions are:
//
//	planned → staged → verified → published
//	planned → skipped (version already on the registry)
//	any     → failed
type PublishState string

const (
	// StatePlanned indicates the package is selected for publishing but
	// no work has happened yet.
	StatePlanned PublishState = "planned"

	// StateStaged indicates the package's source tree was copied into a
	// temporary directory and its manifest was rewritten for publishing.
	StateStaged PublishState = "staged"

	// StateVerified indicates the staged copy passed verification
	// (local dry-run or sandboxed build).
	StateVerified PublishState = "verified"

	// StatePublished indicates the registry accepted the package.
	StatePublished PublishState = "published"

	// StateSkipped indicates the exact version is already present on the
	// registry, so the package was not re-published.
	StateSkipped PublishState = "skipped"

	// StateFailed indicates staging, verification, or the publish command
	// failed. Detail carries the reason.
	StateFailed PublishState = "failed"
)

// String returns the string representation of PublishState.
// This method satisfies the fmt.Stringer interface, enabling
// human-readable output in CLI commands and logging.
func (s PublishState) String() string {
	return string(s)
}

// IsValid checks whether the PublishState value is one of the
// predefined valid states.
func (s PublishState) IsValid() bool {
	switch s {
	case StatePlanned, StateStaged, StateVerified, StatePublished, StateSkipped, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the state is an end state of the pipeline.
// Terminal packages receive no further processing in the current run.
func (s PublishState) IsTerminal() bool {
	return s == StatePublished || s == StateSkipped || s == StateFailed
}

// ParsePublishState converts a string to a PublishState.
// Returns an error if the string does not match any valid state.
func ParsePublishState(s string) (PublishState, error) {
	state := PublishState(strings.ToLower(s))
	if !state.IsValid() {
		return "", fmt.Errorf("invalid publish state: %q (valid: planned, staged, verified, published, skipped, failed)", s)
	}
	return state, nil
}

// VerifyMode selects how a staged package is verified before publishing.
//
//	none    → no verification beyond the registry's own server-side checks
//	local   → run the publish tool's dry-run mode on the host
//	sandbox → run the dry-run inside a disposable container
type VerifyMode string

const (
	// VerifyNone disables pre-publish verification.
	VerifyNone VerifyMode = "none"

	// VerifyLocal runs `cargo publish --dry-run` on the host toolchain.
	VerifyLocal VerifyMode = "local"

	// VerifySandbox runs the dry-run inside a labeled container so the
	// host toolchain is never involved.
	VerifySandbox VerifyMode = "sandbox"
)

// String returns the string representation of VerifyMode.
func (m VerifyMode) String() string {
	return string(m)
}

// IsValid checks whether the VerifyMode value is one of the
// predefined valid modes.
func (m VerifyMode) IsValid() bool {
	switch m {
	case VerifyNone, VerifyLocal, VerifySandbox:
		return true
	default:
		return false
	}
}

// ParseVerifyMode converts a string to a VerifyMode.
// Returns an error if the string does not match any valid mode.
func ParseVerifyMode(s string) (VerifyMode, error) {
	mode := VerifyMode(strings.ToLower(s))
	if !mode.IsValid() {
		return "", fmt.Errorf("invalid verify mode: %q (valid: none, local, sandbox)", s)
	}
	return mode, nil
}

// Package represents a single publishable crate within a Cargo workspace.
// This is the primary aggregate entity in the domain.
//
// All fields are resolved from the workspace's manifests at plan time:
// Version already has workspace inheritance applied, and InternalDeps
// lists only dependencies that are themselves members of the workspace.
type Package struct {
	// Name is the crate name as declared in [package].
	Name string `json:"name"`

	// Version is the resolved crate version. When the member declares
	// version.workspace = true, this is the version from the workspace
	// root's [workspace.package] table.
	Version string `json:"version"`

	// Dir is the absolute filesystem path to the crate directory.
	Dir string `json:"dir"`

	// RelDir is the crate directory relative to the workspace root,
	// used for display and for receipt/journal records.
	RelDir string `json:"relDir"`

	// ManifestPath is the absolute path to the crate's Cargo.toml.
	ManifestPath string `json:"manifestPath"`

	// Publishable is false when the manifest sets publish = false.
	// Unpublishable members participate in ordering (their dependents
	// cannot publish) but are never selected.
	Publishable bool `json:"publishable"`

	// InternalDeps lists workspace-sibling crate names this package
	// depends on by path. These determine publish order.
	InternalDeps []string `json:"internalDeps,omitempty"`

	// Readme is the readme path as declared in the manifest, relative to
	// the crate directory. Empty when not declared.
	Readme string `json:"readme,omitempty"`

	// LicenseFile is the license-file path as declared in the manifest,
	// relative to the crate directory. Empty when not declared.
	LicenseFile string `json:"licenseFile,omitempty"`
}

// crateNameRegex validates crate names: must start with an ASCII letter,
// followed by letters, digits, hyphens, or underscores.
var crateNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// maxCrateNameLen is the registry's limit on crate name length.
const maxCrateNameLen = 64

// ValidateCrateName checks if the given name is a valid registry crate name.
// Valid names start with a letter and contain only letters, digits,
// hyphens, and underscores, up to 64 characters.
func ValidateCrateName(name string) error {
	if name == "" {
		return fmt.Errorf("crate name must not be empty")
	}
	if len(name) > maxCrateNameLen {
		return fmt.Errorf("crate name %q exceeds %d characters", name, maxCrateNameLen)
	}
	if !crateNameRegex.MatchString(name) {
		return fmt.Errorf("invalid crate name %q: must start with a letter and contain only letters, digits, hyphens, and underscores", name)
	}
	return nil
}

// PackageResult records the outcome of the pipeline for a single package
// within one run. A RunReport aggregates these in publish order.
type PackageResult struct {
	// Name is the crate name.
	Name string `json:"name"`

	// Version is the version that was (or would have been) published.
	Version string `json:"version"`

	// State is the package's final pipeline state for this run.
	State PublishState `json:"state"`

	// Detail carries supplementary information: the skip reason, the
	// failure message, or the trailing output of the publish tool.
	Detail string `json:"detail,omitempty"`

	// StageDir is the temporary directory the package was staged into.
	// Empty if staging never happened or the directory was removed.
	StageDir string `json:"stageDir,omitempty"`

	// StartedAt and FinishedAt bracket the package's pipeline work.
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Duration returns how long the package spent in the pipeline.
// Returns zero when the result has not finished.
func (r *PackageResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunReport is the aggregate outcome of one stevedore invocation.
// It feeds three consumers: command output (text/JSON), the YAML receipt,
// and the SQLite journal.
type RunReport struct {
	// RunID uniquely identifies this invocation, e.g. "20260825-101530-ab12".
	RunID string `json:"runId"`

	// Registry is the registry name the run targeted (e.g. "crates-io").
	Registry string `json:"registry"`

	// WorkspaceRoot is the absolute path of the workspace that was published.
	WorkspaceRoot string `json:"workspaceRoot"`

	// DryRun is true when no package was actually sent to the registry.
	DryRun bool `json:"dryRun"`

	// Results holds per-package outcomes in publish order.
	Results []PackageResult `json:"results"`

	// StartedAt and FinishedAt bracket the whole run.
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Published returns the results that reached StatePublished.
func (r *RunReport) Published() []PackageResult {
	var out []PackageResult
	for _, res := range r.Results {
		if res.State == StatePublished {
			out = append(out, res)
		}
	}
	return out
}

// Failed reports whether any package in the run ended in StateFailed.
func (r *RunReport) Failed() bool {
	for _, res := range r.Results {
		if res.State == StateFailed {
			return true
		}
	}
	return false
}

// NewRunID generates a run identifier from the current UTC time plus a
// short random suffix. The timestamp prefix keeps receipts and journal
// rows naturally sorted; the suffix disambiguates runs within a second.
func NewRunID(now time.Time) string {
	suffix := make([]byte, 2)
	// rand.Read on crypto/rand never fails on supported platforms; if it
	// ever does, the zero suffix is still a usable (if non-unique) ID.
	_, _ = rand.Read(suffix)
	return now.UTC().Format("20060102-150405") + "-" + hex.EncodeToString(suffix)
}

// ExitCode defines standard CLI exit codes. These codes allow scripts and
// CI systems to programmatically determine the outcome of a command.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitConfigError indicates the stevedore configuration file is
	// missing required values or failed validation.
	ExitConfigError ExitCode = 2

	// ExitWorkspaceError indicates workspace discovery failed, a manifest
	// could not be parsed, or the dependency graph contains a cycle.
	ExitWorkspaceError ExitCode = 3

	// ExitStagingError indicates the staged copy could not be created or
	// the manifest rewrite failed.
	ExitStagingError ExitCode = 4

	// ExitPublishError indicates the publish tool failed or the registry
	// never reported the published version as available.
	ExitPublishError ExitCode = 5

	// ExitSandboxError indicates the Docker daemon is unreachable or a
	// sandboxed verification container failed.
	ExitSandboxError ExitCode = 6

	// ExitInternalError indicates a bug: an invariant the pipeline relies
	// on did not hold.
	ExitInternalError ExitCode = 7
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
// This follows Go's error wrapping convention introduced in Go 1.13.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
