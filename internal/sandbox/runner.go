package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"

	"github.com/tidegate/stevedore/internal/model"
)

// execCommand creates the docker CLI process for a verification run.
// Tests replace it to capture invocations.
var execCommand = exec.CommandContext

// verifyTailLines limits how much build output is folded into a
// verification failure message.
const verifyTailLines = 20

// VerifyOptions parameterize one sandboxed verification run.
type VerifyOptions struct {
	// StageDir is the staged crate directory mounted into the container.
	StageDir string

	// Image is the container image holding the Rust toolchain.
	Image string

	// Tool is the publish tool binary inside the image. Empty means cargo.
	Tool string

	// RunID labels the container with the publish run that started it.
	RunID string

	// Package is the crate under verification, used for labels and
	// error messages.
	Package *model.Package

	// Timeout aborts the container run when it exceeds this duration.
	// Zero means no limit beyond the caller's context.
	Timeout time.Duration
}

// BuildRunArgs assembles the `docker run` argument list for a
// verification container. Labels are emitted in sorted key order so
// the command line is deterministic.
//
// The staged directory mounts read-write at /src: the dry-run build
// writes a target/ directory inside the stage, which is discarded with
// the stage itself.
func BuildRunArgs(stageDir, image string, labels map[string]string, command []string) []string {
	args := []string{"run", "--rm"}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--label", k+"="+labels[k])
	}

	args = append(args, "-v", stageDir+":/src", "-w", "/src", image)
	return append(args, command...)
}

// VerifyInContainer runs the publish tool's dry-run inside a disposable
// container with the staged crate mounted at /src. It returns the
// combined output on success.
//
// The --rm flag makes the daemon remove the container when it exits;
// the stevedore labels exist for the crash case, where `stevedore
// clean` finds whatever --rm never got to remove.
func VerifyInContainer(ctx context.Context, opts VerifyOptions) (string, error) {
	tool := opts.Tool
	if tool == "" {
		tool = "cargo"
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	labels := BuildLabels(opts.RunID, opts.Package, time.Now())
	command := []string{tool, "publish", "--dry-run", "--allow-dirty"}
	args := BuildRunArgs(opts.StageDir, opts.Image, labels, command)

	// #nosec G204 -- args are constructed internally, not from user input
	cmd := execCommand(ctx, "docker", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", model.WrapCLIError(model.ExitSandboxError,
				fmt.Sprintf("sandboxed verification of %s timed out after %s", opts.Package.Name, opts.Timeout), err)
		}
		msg := fmt.Sprintf("sandboxed verification of %s failed", opts.Package.Name)
		if trimmed := strings.TrimSpace(string(output)); trimmed != "" {
			msg = fmt.Sprintf("%s: %s", msg, tailLines(trimmed, verifyTailLines))
		}
		return "", model.WrapCLIError(model.ExitSandboxError, msg, err)
	}

	return string(output), nil
}

// ListManaged returns every container carrying the stevedore labels,
// including stopped ones. Containers whose metadata labels were
// stripped are still listed with empty fields: anything matching the
// managed-by filter must remain visible to clean.
func ListManaged(ctx context.Context, cli *Client) ([]ContainerInfo, error) {
	containers, err := cli.Inner().ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: managedFilterArgs(),
	})
	if err != nil {
		return nil, model.WrapCLIError(model.ExitSandboxError,
			"failed to list sandbox containers", err)
	}

	result := make([]ContainerInfo, 0, len(containers))
	for _, c := range containers {
		info := ContainerInfo{
			ID:     c.ID,
			Name:   summaryName(c),
			Status: c.State,
		}
		if meta, err := ParseLabels(c.Labels); err == nil {
			info.RunID = meta.RunID
			info.Package = meta.Package
			info.Version = meta.Version
			info.CreatedAt = meta.CreatedAt
		}
		result = append(result, info)
	}
	return result, nil
}

// RemoveManaged removes stevedore's leftover containers. Running
// containers are skipped unless force is set, in which case the daemon
// kills them first. It returns what was removed and what was skipped;
// individual removal failures are joined so one stubborn container
// does not halt the sweep.
func RemoveManaged(ctx context.Context, cli *Client, force bool) (removed, skipped []ContainerInfo, err error) {
	infos, err := ListManaged(ctx, cli)
	if err != nil {
		return nil, nil, err
	}

	var errs []error
	for _, info := range infos {
		if info.Status == "running" && !force {
			skipped = append(skipped, info)
			continue
		}
		rmErr := cli.Inner().ContainerRemove(ctx, info.ID, container.RemoveOptions{Force: force})
		if rmErr != nil {
			errs = append(errs, fmt.Errorf("remove container %s: %w", info.ID, rmErr))
			continue
		}
		removed = append(removed, info)
	}

	if len(errs) > 0 {
		return removed, skipped, model.WrapCLIError(model.ExitSandboxError,
			"failed to remove some sandbox containers", errors.Join(errs...))
	}
	return removed, skipped, nil
}

// summaryName extracts a display name from a container summary. The
// API reports names with a leading slash.
func summaryName(c container.Summary) string {
	if len(c.Names) == 0 {
		return ""
	}
	return strings.TrimPrefix(c.Names[0], "/")
}

// tailLines returns the final n lines of s.
func tailLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
