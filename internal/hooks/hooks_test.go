package hooks

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidegate/stevedore/internal/model"
)

func testEnv(workspace string) Env {
	return Env{
		RunID:     "20260825-101530-ab12",
		Registry:  "crates-io",
		Workspace: workspace,
	}
}

// TestRunPre_Success verifies snippets run in the workspace root with
// the run variables in their environment.
func TestRunPre_Success(t *testing.T) {
	root := t.TempDir()
	var out bytes.Buffer
	r := NewRunner(root, &out, &out)

	err := r.RunPre(context.Background(), []string{
		`echo "starting $STEVEDORE_RUN_ID on $STEVEDORE_REGISTRY"`,
		`echo ok > hook-ran.txt`,
	}, testEnv(root))

	require.NoError(t, err)
	assert.Contains(t, out.String(), "starting 20260825-101530-ab12 on crates-io")

	// The second snippet wrote relative to the interpreter's working
	// directory, which must be the workspace root.
	data, err := os.ReadFile(filepath.Join(root, "hook-ran.txt"))
	require.NoError(t, err)
	assert.Equal(t, "ok\n", string(data))
}

// TestRunPre_FailureAborts verifies the first failing snippet stops
// the sequence and surfaces config error semantics.
func TestRunPre_FailureAborts(t *testing.T) {
	var out bytes.Buffer
	r := NewRunner(t.TempDir(), &out, &out)

	err := r.RunPre(context.Background(), []string{
		`echo first`,
		`exit 3`,
		`echo never`,
	}, testEnv(t.TempDir()))

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitConfigError, cliErr.Code)
	assert.Contains(t, cliErr.Message, "hook 2")

	assert.Contains(t, out.String(), "first")
	assert.NotContains(t, out.String(), "never")
}

// TestRunPre_ParseError verifies a syntactically broken snippet is
// rejected before anything executes.
func TestRunPre_ParseError(t *testing.T) {
	r := NewRunner(t.TempDir(), nil, nil)

	err := r.RunPre(context.Background(), []string{`if then fi`}, testEnv(t.TempDir()))

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitConfigError, cliErr.Code)
	assert.Contains(t, err.Error(), "parse")
}

// TestRunPost_PublishedEnv verifies post hooks see the published
// name@version list.
func TestRunPost_PublishedEnv(t *testing.T) {
	var out bytes.Buffer
	r := NewRunner(t.TempDir(), &out, &out)

	env := testEnv(t.TempDir())
	env.Published = []string{"acme-ui@0.4.2", "acme-ui-widgets@0.4.2"}

	err := r.RunPost(context.Background(), []string{
		`echo "published: $STEVEDORE_PUBLISHED"`,
	}, env)

	require.NoError(t, err)
	assert.Contains(t, out.String(), "published: acme-ui@0.4.2 acme-ui-widgets@0.4.2")
}

// TestRunPost_PublishedAlwaysSet verifies STEVEDORE_PUBLISHED is
// present (empty) even when nothing was published.
func TestRunPost_PublishedAlwaysSet(t *testing.T) {
	var out bytes.Buffer
	r := NewRunner(t.TempDir(), &out, &out)

	err := r.RunPost(context.Background(), []string{
		`if [ -z "${STEVEDORE_PUBLISHED+x}" ]; then echo unset; else echo "set:[$STEVEDORE_PUBLISHED]"; fi`,
	}, testEnv(t.TempDir()))

	require.NoError(t, err)
	assert.Contains(t, out.String(), "set:[]")
}

// TestRunPost_FailureIsPlainError verifies a post hook failure is an
// ordinary error, not a config error: the publishes already happened
// and must not be reported with pre-flight semantics.
func TestRunPost_FailureIsPlainError(t *testing.T) {
	r := NewRunner(t.TempDir(), nil, nil)

	err := r.RunPost(context.Background(), []string{`exit 1`}, testEnv(t.TempDir()))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "post-publish hook 1 failed")

	var cliErr *model.CLIError
	assert.False(t, errors.As(err, &cliErr))
}

// TestRun_NoSnippets verifies empty hook lists are a no-op.
func TestRun_NoSnippets(t *testing.T) {
	r := NewRunner(t.TempDir(), nil, nil)

	require.NoError(t, r.RunPre(context.Background(), nil, testEnv(t.TempDir())))
	require.NoError(t, r.RunPost(context.Background(), nil, testEnv(t.TempDir())))
}

// TestRunPre_ContextCanceled verifies a hung snippet is interrupted by
// the context rather than blocking the run forever.
func TestRunPre_ContextCanceled(t *testing.T) {
	r := NewRunner(t.TempDir(), nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := r.RunPre(ctx, []string{`sleep 5`}, testEnv(t.TempDir()))

	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}
