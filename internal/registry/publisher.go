package registry

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/tidegate/stevedore/internal/model"
)

// defaultRegistryName is the registry cargo publishes to when no
// --registry flag is given. Passing the flag for it would require the
// name to exist in the user's cargo config, so we omit it.
const defaultRegistryName = "crates-io"

// errorTailLines limits how much tool output is folded into an error
// message. Cargo's verify build can emit hundreds of lines; the tail is
// where the actual error lives.
const errorTailLines = 20

// ErrAlreadyPublished is returned by Publish when the registry rejects
// the upload because the exact version already exists. The preflight
// index check catches this case up front, but a publish racing another
// CI job can still hit it, and it must not be retried.
var ErrAlreadyPublished = errors.New("crate version is already uploaded to the registry")

// ExecCommandFunc is the function signature for creating exec.Cmd.
// This allows injection of mock implementations for testing.
type ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

// PublishOptions control the flags passed to the publish tool for a
// single invocation. They are resolved from configuration by the caller.
type PublishOptions struct {
	// AllowDirty passes --allow-dirty. Staged copies live outside the
	// workspace's VCS checkout, so this is on by default.
	AllowDirty bool

	// NoVerify passes --no-verify, skipping the tool's own build step
	// during publish. Useful when stevedore already verified the
	// staged copy.
	NoVerify bool
}

// Publisher invokes the external publish tool against staged crate
// directories. It never touches the original workspace.
type Publisher struct {
	tool        string
	registry    string
	extraArgs   []string
	execCommand ExecCommandFunc
}

// NewPublisher creates a Publisher for the given tool binary and
// registry name. extraArgs are appended verbatim to every invocation,
// after the flags stevedore itself sets.
func NewPublisher(tool, registry string, extraArgs []string) *Publisher {
	if tool == "" {
		tool = "cargo"
	}
	return &Publisher{
		tool:        tool,
		registry:    registry,
		extraArgs:   extraArgs,
		execCommand: exec.CommandContext,
	}
}

// BuildPublishArgs returns the argument list for a real publish.
// The flag order is stable so tests and logs are deterministic:
// publish, --allow-dirty, --no-verify, --registry <name>, extra args.
func (p *Publisher) BuildPublishArgs(opts PublishOptions) []string {
	args := []string{"publish"}
	if opts.AllowDirty {
		args = append(args, "--allow-dirty")
	}
	if opts.NoVerify {
		args = append(args, "--no-verify")
	}
	args = p.appendRegistry(args)
	return append(args, p.extraArgs...)
}

// BuildVerifyArgs returns the argument list for a dry-run verification.
// NoVerify is deliberately ignored here: a dry run that skips the build
// would verify nothing.
func (p *Publisher) BuildVerifyArgs(opts PublishOptions) []string {
	args := []string{"publish", "--dry-run"}
	if opts.AllowDirty {
		args = append(args, "--allow-dirty")
	}
	args = p.appendRegistry(args)
	return append(args, p.extraArgs...)
}

// appendRegistry adds --registry <name> for any registry other than
// the tool's built-in default.
func (p *Publisher) appendRegistry(args []string) []string {
	if p.registry != "" && p.registry != defaultRegistryName {
		args = append(args, "--registry", p.registry)
	}
	return args
}

// Publish uploads the staged crate in dir to the registry.
// It returns the tool's stdout on success. If the registry reports the
// version as already uploaded, the error is ErrAlreadyPublished and
// stdout is still returned.
func (p *Publisher) Publish(ctx context.Context, dir string, opts PublishOptions) (string, error) {
	return p.run(ctx, dir, p.BuildPublishArgs(opts))
}

// Verify runs the tool's dry-run mode against the staged crate in dir.
// The crate is packaged and built exactly as a real publish would, but
// nothing is uploaded.
func (p *Publisher) Verify(ctx context.Context, dir string, opts PublishOptions) (string, error) {
	return p.run(ctx, dir, p.BuildVerifyArgs(opts))
}

// run executes the publish tool with the given arguments in dir.
//
// Stdout and stderr are captured separately: stdout is returned on
// success, and the tail of stderr is folded into the error message on
// failure. The "already uploaded" rejection is recognized from stderr
// and mapped to ErrAlreadyPublished so callers can skip instead of
// retrying a hopeless upload.
func (p *Publisher) run(ctx context.Context, dir string, args []string) (string, error) {
	// #nosec G204 -- args are constructed internally, not from user input
	cmd := p.execCommand(ctx, p.tool, args...)
	cmd.Dir = dir

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		stderrStr := strings.TrimSpace(stderr.String())
		if isAlreadyPublished(stderrStr) {
			return stdout.String(), ErrAlreadyPublished
		}
		message := fmt.Sprintf("%s %s failed", p.tool, strings.Join(args, " "))
		if stderrStr != "" {
			message = fmt.Sprintf("%s: %s", message, lastLines(stderrStr, errorTailLines))
		}
		return "", model.WrapCLIError(model.ExitPublishError, message, err)
	}

	return stdout.String(), nil
}

// isAlreadyPublished reports whether the tool's stderr indicates the
// version is already on the registry. crates.io phrases it "is already
// uploaded"; some alternative registries say "already exists".
func isAlreadyPublished(stderr string) bool {
	return strings.Contains(stderr, "already uploaded") ||
		strings.Contains(stderr, "already exists")
}

// lastLines returns the final n lines of s, used to keep cargo's long
// build output out of error messages while preserving the failure.
func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
