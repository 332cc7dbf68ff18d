package hooks

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/tidegate/stevedore/internal/model"
)

// Env carries the run metadata exposed to hook snippets as
// STEVEDORE_* environment variables.
type Env struct {
	// RunID identifies the current invocation.
	RunID string

	// Registry is the registry name the run targets.
	Registry string

	// Workspace is the absolute workspace root path.
	Workspace string

	// Published lists name@version pairs that reached the registry.
	// Only post-publish hooks see it.
	Published []string
}

// environ returns the process environment extended with the hook
// variables. STEVEDORE_PUBLISHED is always set for post hooks, even
// when empty, so scripts can rely on its presence.
func (e Env) environ(includePublished bool) []string {
	env := append(os.Environ(),
		"STEVEDORE_RUN_ID="+e.RunID,
		"STEVEDORE_REGISTRY="+e.Registry,
		"STEVEDORE_WORKSPACE="+e.Workspace,
	)
	if includePublished {
		env = append(env, "STEVEDORE_PUBLISHED="+strings.Join(e.Published, " "))
	}
	return env
}

// Runner executes hook snippets in a workspace.
type Runner struct {
	workspaceRoot string
	stdout        io.Writer
	stderr        io.Writer
}

// NewRunner creates a Runner. Hook output is streamed to the given
// writers; nil writers discard it.
func NewRunner(workspaceRoot string, stdout, stderr io.Writer) *Runner {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return &Runner{workspaceRoot: workspaceRoot, stdout: stdout, stderr: stderr}
}

// RunPre executes the pre-publish snippets in order. The first failure
// stops the sequence and aborts the run with config error semantics:
// a broken hook is an operator configuration problem, not a publish
// failure.
func (r *Runner) RunPre(ctx context.Context, snippets []string, env Env) error {
	idx, err := r.run(ctx, "pre-publish", snippets, env.environ(false))
	if err != nil {
		return model.WrapCLIError(model.ExitConfigError,
			fmt.Sprintf("pre-publish hook %d failed", idx), err)
	}
	return nil
}

// RunPost executes the post-publish snippets in order. Failures are
// returned for reporting but nothing is rolled back; the crates are
// already live.
func (r *Runner) RunPost(ctx context.Context, snippets []string, env Env) error {
	idx, err := r.run(ctx, "post-publish", snippets, env.environ(true))
	if err != nil {
		return fmt.Errorf("post-publish hook %d failed: %w", idx, err)
	}
	return nil
}

// run executes each snippet through the embedded shell, stopping at
// the first failure. It returns the 1-based index of the snippet that
// failed together with its error.
func (r *Runner) run(ctx context.Context, kind string, snippets []string, environ []string) (int, error) {
	for i, snippet := range snippets {
		name := fmt.Sprintf("%s[%d]", kind, i+1)

		prog, err := syntax.NewParser().Parse(strings.NewReader(snippet), name)
		if err != nil {
			return i + 1, fmt.Errorf("parse %s: %w", name, err)
		}

		runner, err := interp.New(
			interp.Dir(r.workspaceRoot),
			interp.Env(expand.ListEnviron(environ...)),
			interp.StdIO(nil, r.stdout, r.stderr),
		)
		if err != nil {
			return i + 1, fmt.Errorf("create shell interpreter: %w", err)
		}

		if err := runner.Run(ctx, prog); err != nil {
			return i + 1, err
		}
	}
	return 0, nil
}
