package registry

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidegate/stevedore/internal/model"
)

// execRecorder captures publish tool invocations and simulates their
// outcome via the TestHelperProcess pattern.
type execRecorder struct {
	stdout string
	stderr string
	exit   int

	calls []recordedCall
	cmds  []*exec.Cmd
}

type recordedCall struct {
	name string
	args []string
}

// commandFunc returns an ExecCommandFunc that records the invocation
// and substitutes a helper process producing the configured output.
func (r *execRecorder) commandFunc(t *testing.T) ExecCommandFunc {
	t.Helper()
	return func(ctx context.Context, name string, arg ...string) *exec.Cmd {
		r.calls = append(r.calls, recordedCall{name: name, args: arg})

		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, arg...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = []string{
			"GO_WANT_HELPER_PROCESS=1",
			"HELPER_STDOUT=" + r.stdout,
			"HELPER_STDERR=" + r.stderr,
			"HELPER_EXIT=" + strconv.Itoa(r.exit),
		}
		r.cmds = append(r.cmds, cmd)
		return cmd
	}
}

// TestHelperProcess is not a real test. It is exec'd by execRecorder's
// fake commands to stand in for the publish tool.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	fmt.Fprint(os.Stdout, os.Getenv("HELPER_STDOUT"))
	fmt.Fprint(os.Stderr, os.Getenv("HELPER_STDERR"))
	code, _ := strconv.Atoi(os.Getenv("HELPER_EXIT"))
	os.Exit(code)
}

// TestBuildPublishArgs_Defaults verifies the minimal flag set for a
// publish against the default registry.
func TestBuildPublishArgs_Defaults(t *testing.T) {
	p := NewPublisher("cargo", "crates-io", nil)

	args := p.BuildPublishArgs(PublishOptions{AllowDirty: true})

	assert.Equal(t, []string{"publish", "--allow-dirty"}, args)
}

// TestBuildPublishArgs_AllFlags verifies the full flag set, including
// a non-default registry and configured extra arguments, in their
// documented order.
func TestBuildPublishArgs_AllFlags(t *testing.T) {
	p := NewPublisher("cargo", "acme-internal", []string{"--token", "sekrit"})

	args := p.BuildPublishArgs(PublishOptions{AllowDirty: true, NoVerify: true})

	assert.Equal(t, []string{
		"publish", "--allow-dirty", "--no-verify",
		"--registry", "acme-internal",
		"--token", "sekrit",
	}, args)
}

// TestBuildPublishArgs_DefaultRegistryOmitted verifies that --registry
// is never passed for crates-io or an unset registry name. Cargo only
// accepts the flag for registries declared in its own configuration.
func TestBuildPublishArgs_DefaultRegistryOmitted(t *testing.T) {
	for _, registry := range []string{"crates-io", ""} {
		p := NewPublisher("cargo", registry, nil)

		args := p.BuildPublishArgs(PublishOptions{})

		assert.NotContains(t, args, "--registry", "registry %q", registry)
	}
}

// TestBuildVerifyArgs verifies the dry-run flag set and that NoVerify
// is ignored: a dry run that skips the build would verify nothing.
func TestBuildVerifyArgs(t *testing.T) {
	p := NewPublisher("cargo", "crates-io", nil)

	args := p.BuildVerifyArgs(PublishOptions{AllowDirty: true, NoVerify: true})

	assert.Equal(t, []string{"publish", "--dry-run", "--allow-dirty"}, args)
	assert.NotContains(t, args, "--no-verify")
}

// TestPublish_Success verifies a successful publish invocation: the
// tool runs in the staged directory with the built argument list and
// its stdout is returned.
func TestPublish_Success(t *testing.T) {
	rec := &execRecorder{stdout: "Uploading demo v0.1.0\n"}
	p := NewPublisher("cargo", "crates-io", nil)
	p.execCommand = rec.commandFunc(t)
	dir := t.TempDir()

	out, err := p.Publish(context.Background(), dir, PublishOptions{AllowDirty: true})

	require.NoError(t, err)
	assert.Equal(t, "Uploading demo v0.1.0\n", out)

	require.Len(t, rec.calls, 1)
	assert.Equal(t, "cargo", rec.calls[0].name)
	assert.Equal(t, []string{"publish", "--allow-dirty"}, rec.calls[0].args)
	assert.Equal(t, dir, rec.cmds[0].Dir)
}

// TestPublish_Failure verifies that a failing tool invocation is
// wrapped in a CLIError with the publish exit code and that the tail
// of stderr makes it into the message.
func TestPublish_Failure(t *testing.T) {
	rec := &execRecorder{
		stderr: "   Compiling demo v0.1.0\nerror: failed to verify package tarball",
		exit:   101,
	}
	p := NewPublisher("cargo", "crates-io", nil)
	p.execCommand = rec.commandFunc(t)

	out, err := p.Publish(context.Background(), t.TempDir(), PublishOptions{})

	require.Error(t, err)
	assert.Empty(t, out)

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitPublishError, cliErr.Code)
	assert.Contains(t, cliErr.Message, "cargo publish failed")
	assert.Contains(t, cliErr.Message, "failed to verify package tarball")
}

// TestPublish_FailureTruncatesOutput verifies that only the tail of a
// long stderr stream is folded into the error message.
func TestPublish_FailureTruncatesOutput(t *testing.T) {
	var lines []string
	for i := 1; i <= 40; i++ {
		lines = append(lines, fmt.Sprintf("build line %d", i))
	}
	rec := &execRecorder{stderr: strings.Join(lines, "\n"), exit: 101}
	p := NewPublisher("cargo", "crates-io", nil)
	p.execCommand = rec.commandFunc(t)

	_, err := p.Publish(context.Background(), t.TempDir(), PublishOptions{})

	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Contains(t, cliErr.Message, "build line 40")
	assert.NotContains(t, cliErr.Message, "build line 1\n")
}

// TestPublish_AlreadyUploaded verifies that the registry's "already
// uploaded" rejection maps to ErrAlreadyPublished instead of a generic
// failure, so the pipeline can skip rather than retry.
func TestPublish_AlreadyUploaded(t *testing.T) {
	rec := &execRecorder{
		stdout: "    Updating crates.io index\n",
		stderr: "error: crate version `0.4.2` is already uploaded",
		exit:   101,
	}
	p := NewPublisher("cargo", "crates-io", nil)
	p.execCommand = rec.commandFunc(t)

	out, err := p.Publish(context.Background(), t.TempDir(), PublishOptions{})

	require.ErrorIs(t, err, ErrAlreadyPublished)
	assert.Equal(t, "    Updating crates.io index\n", out)
}

// TestVerify_Success verifies that Verify runs the dry-run argument
// list in the staged directory.
func TestVerify_Success(t *testing.T) {
	rec := &execRecorder{stdout: "Packaging demo v0.1.0\n"}
	p := NewPublisher("cargo", "crates-io", nil)
	p.execCommand = rec.commandFunc(t)

	out, err := p.Verify(context.Background(), t.TempDir(), PublishOptions{AllowDirty: true})

	require.NoError(t, err)
	assert.Equal(t, "Packaging demo v0.1.0\n", out)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, []string{"publish", "--dry-run", "--allow-dirty"}, rec.calls[0].args)
}

// TestNewPublisher_DefaultTool verifies an empty tool name falls back
// to cargo.
func TestNewPublisher_DefaultTool(t *testing.T) {
	rec := &execRecorder{}
	p := NewPublisher("", "crates-io", nil)
	p.execCommand = rec.commandFunc(t)

	_, err := p.Publish(context.Background(), t.TempDir(), PublishOptions{})

	require.NoError(t, err)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, "cargo", rec.calls[0].name)
}

// TestLastLines covers the stderr tail helper.
func TestLastLines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "shorter than limit", in: "a\nb", n: 5, want: "a\nb"},
		{name: "exactly at limit", in: "a\nb\nc", n: 3, want: "a\nb\nc"},
		{name: "trimmed to tail", in: "a\nb\nc\nd", n: 2, want: "c\nd"},
		{name: "single line", in: "only", n: 1, want: "only"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lastLines(tt.in, tt.n))
		})
	}
}

// TestIsAlreadyPublished covers both registry phrasings of the
// duplicate-version rejection.
func TestIsAlreadyPublished(t *testing.T) {
	assert.True(t, isAlreadyPublished("error: crate version `1.0.0` is already uploaded"))
	assert.True(t, isAlreadyPublished("error: version 1.0.0 already exists on this registry"))
	assert.False(t, isAlreadyPublished("error: failed to publish"))
	assert.False(t, isAlreadyPublished(""))
}
