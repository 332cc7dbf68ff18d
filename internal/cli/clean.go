// clean.go implements the "stevedore clean" command.
//
// Clean removes leftovers from interrupted runs: stale stage
// directories under the staging root and exited sandbox containers
// carrying stevedore labels. Running containers are skipped unless
// --force is given.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tidegate/stevedore/internal/model"
	"github.com/tidegate/stevedore/internal/sandbox"
	"github.com/tidegate/stevedore/internal/staging"
)

// cleanFlags holds the flag values for the clean command.
type cleanFlags struct {
	dryRun bool // --dry-run: list what would be removed, remove nothing
	force  bool // --force: remove running sandbox containers too
}

// NewCleanCommand creates the "clean" cobra command.
func NewCleanCommand() *cobra.Command {
	flags := &cleanFlags{}

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove stale stage directories and sandbox containers",
		Long: `Remove leftovers from interrupted runs: stage directories under the
staging root and sandbox verification containers.

Running containers are skipped unless --force is given. When Docker is
unavailable, only stage directories are cleaned.

Examples:
  stevedore clean
  stevedore clean --dry-run
  stevedore clean --force`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runClean(cmd, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "List what would be removed without removing anything")
	cmd.Flags().BoolVar(&flags.force, "force", false, "Remove running sandbox containers as well")

	return cmd
}

// cleanResult is the output structure for the clean command.
type cleanResult struct {
	DryRun         bool                    `json:"dryRun"`
	StagingRoot    string                  `json:"stagingRoot"`
	StageDirs      []string                `json:"stageDirs"`
	Containers     []sandbox.ContainerInfo `json:"containers"`
	SkippedRunning []sandbox.ContainerInfo `json:"skippedRunning"`
	SandboxError   string                  `json:"sandboxError,omitempty"`
}

// runClean is the main logic function for the clean command.
func runClean(cmd *cobra.Command, flags *cleanFlags) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	_, cfg, err := loadWorkspaceAndConfig()
	if err != nil {
		return err
	}

	stagingRoot := cfg.Staging.Root
	if stagingRoot == "" {
		stagingRoot = os.TempDir()
	}

	result := cleanResult{
		DryRun:         flags.dryRun,
		StagingRoot:    stagingRoot,
		StageDirs:      []string{},
		Containers:     []sandbox.ContainerInfo{},
		SkippedRunning: []sandbox.ContainerInfo{},
	}

	dirs, err := staging.StaleDirs(cfg.Staging.Root)
	if err != nil {
		return model.WrapCLIError(model.ExitStagingError, "failed to scan stage directories", err)
	}
	result.StageDirs = append(result.StageDirs, dirs...)

	if !flags.dryRun {
		removed, err := staging.SweepStale(cfg.Staging.Root)
		if err != nil {
			return model.WrapCLIError(model.ExitStagingError, "failed to remove stage directories", err)
		}
		logger.Debug("stage directories removed", "count", removed)
	}

	// Docker being unavailable must not block the filesystem cleanup,
	// so a failed client setup degrades to a warning.
	var sandboxErr error
	client, err := sandbox.NewClient()
	if err != nil {
		logger.Warn("sandbox cleanup skipped", "err", err)
		result.SandboxError = err.Error()
	} else {
		defer func() { _ = client.Close() }()
		sandboxErr = cleanContainers(ctx, client, flags, &result)
	}

	printCleanResult(out, result)
	return sandboxErr
}

// cleanContainers fills in the container portion of the result. On a
// dry run it only lists; otherwise it removes.
func cleanContainers(ctx context.Context, client *sandbox.Client, flags *cleanFlags, result *cleanResult) error {
	if flags.dryRun {
		managed, err := sandbox.ListManaged(ctx, client)
		if err != nil {
			return err
		}
		for _, info := range managed {
			if info.Status == "running" && !flags.force {
				result.SkippedRunning = append(result.SkippedRunning, info)
				continue
			}
			result.Containers = append(result.Containers, info)
		}
		return nil
	}

	removed, skipped, err := sandbox.RemoveManaged(ctx, client, flags.force)
	result.Containers = append(result.Containers, removed...)
	result.SkippedRunning = append(result.SkippedRunning, skipped...)
	return err
}

// printCleanResult outputs the cleanup report in text or JSON format,
// depending on the global --json flag.
func printCleanResult(out io.Writer, result cleanResult) {
	if jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(out, string(data))
		return
	}

	verb := "removed"
	if result.DryRun {
		verb = "would remove"
	}

	fmt.Fprintln(out, titleStyle.Render("Stage directories under "+result.StagingRoot))
	if len(result.StageDirs) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("  (none)"))
	}
	for _, dir := range result.StageDirs {
		fmt.Fprintf(out, "  %s %s\n", verb, dir)
	}

	fmt.Fprintln(out, titleStyle.Render("Sandbox containers"))
	if result.SandboxError != "" {
		fmt.Fprintf(out, "  %s\n", warnStyle.Render("skipped: "+result.SandboxError))
	} else if len(result.Containers) == 0 && len(result.SkippedRunning) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("  (none)"))
	}
	for _, info := range result.Containers {
		fmt.Fprintf(out, "  %s %s %s\n", verb, info.Name, mutedStyle.Render("("+info.Status+")"))
	}
	for _, info := range result.SkippedRunning {
		fmt.Fprintf(out, "  %s %s\n", warnStyle.Render("skipped"), info.Name+" (running; pass --force to remove)")
	}
}
