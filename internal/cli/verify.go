// verify.go implements the "stevedore verify" command.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tidegate/stevedore/internal/config"
	"github.com/tidegate/stevedore/internal/model"
	"github.com/tidegate/stevedore/internal/registry"
	"github.com/tidegate/stevedore/internal/staging"
	"github.com/tidegate/stevedore/internal/workspace"
)

// verifyFlags holds the flag values for the verify command.
type verifyFlags struct {
	mode        string // --mode: override the configured verification mode
	keepStaging bool   // --keep-staging: leave stage directories for inspection
}

// NewVerifyCommand creates the "verify" cobra command.
func NewVerifyCommand() *cobra.Command {
	flags := &verifyFlags{}

	cmd := &cobra.Command{
		Use:   "verify [crate...]",
		Short: "Stage and verify crates without publishing",
		Long: `Stage the selected members with rewritten manifests and run the
publish tool's verification against each staged copy. Crates are
verified concurrently up to the configured parallelism.

In sandbox mode each verification runs inside a disposable container,
so a crate's build scripts never touch the host checkout.

Examples:
  stevedore verify
  stevedore verify acme-ui --mode sandbox
  stevedore verify --keep-staging`,

		Args: cobra.ArbitraryArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, args, flags)
		},
	}

	cmd.Flags().StringVar(&flags.mode, "mode", "", "Verification mode: local or sandbox (default from config)")
	cmd.Flags().BoolVar(&flags.keepStaging, "keep-staging", false, "Leave stage directories in place after the run")

	return cmd
}

// verifyEntry is one crate's slot in the verify output.
type verifyEntry struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Ok       bool   `json:"ok"`
	Detail   string `json:"detail,omitempty"`
	Duration string `json:"duration"`

	err error
}

// verifyResult is the JSON wrapper for the verify output.
type verifyResult struct {
	Mode   string        `json:"mode"`
	Crates []verifyEntry `json:"crates"`
}

func runVerify(cmd *cobra.Command, args []string, flags *verifyFlags) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	ws, cfg, err := loadWorkspaceAndConfig()
	if err != nil {
		return err
	}

	// The verify command always verifies something: a configured mode
	// of none falls back to local, and --mode can force either mode.
	if flags.mode != "" {
		cfg.Verify.Mode = flags.mode
	}
	if cfg.Verify.Mode == model.VerifyNone.String() {
		cfg.Verify.Mode = model.VerifyLocal.String()
	}
	if _, err := model.ParseVerifyMode(cfg.Verify.Mode); err != nil {
		return model.WrapCLIError(model.ExitConfigError, "invalid verification mode", err)
	}

	ordered, err := selectOrdered(ws, cfg, args)
	if err != nil {
		return err
	}

	runID := model.NewRunID(time.Now())
	stager := staging.NewStager(cfg.Staging.Root, cfg.Staging.Keep || flags.keepStaging)
	defer func() {
		if cleanupErr := stager.CleanupAll(); cleanupErr != nil {
			logger.Warn("stage cleanup failed", "err", cleanupErr)
		}
	}()

	pub := newPublisher(cfg)

	parallel := cfg.Verify.Parallel
	if parallel < 1 {
		parallel = 1
	}

	if !jsonOutput {
		fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Verifying %d crate(s) in %s mode", len(ordered), cfg.Verify.Mode)))
	}

	// Every crate gets verified even when a sibling fails; failures are
	// collected per slot and the first one becomes the command error.
	entries := make([]verifyEntry, len(ordered))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for i, pkg := range ordered {
		g.Go(func() error {
			logger.Debug("verifying", "package", pkg.Name, "mode", cfg.Verify.Mode)
			start := time.Now()

			verifyErr := verifyOne(gctx, stager, cfg, pub, runID, ws, pkg)

			entry := verifyEntry{
				Name:     pkg.Name,
				Version:  pkg.Version,
				Ok:       verifyErr == nil,
				Duration: formatDuration(time.Since(start)),
				err:      verifyErr,
			}
			if verifyErr != nil {
				entry.Detail = verifyErr.Error()
			}
			entries[i] = entry
			return nil
		})
	}
	_ = g.Wait()

	printVerifyResult(out, verifyResult{Mode: cfg.Verify.Mode, Crates: entries})

	for _, entry := range entries {
		if entry.err != nil {
			return entry.err
		}
	}
	return nil
}

// verifyOne stages a single crate and verifies the staged copy.
func verifyOne(ctx context.Context, stager *staging.Stager, cfg *config.Config, pub *registry.Publisher, runID string, ws *workspace.Workspace, pkg *model.Package) error {
	rewritten, err := rewriteMember(ws, pkg)
	if err != nil {
		return err
	}

	stageDir, err := stageMember(stager, pkg, rewritten)
	if err != nil {
		return err
	}

	return verifyStaged(ctx, cfg, pub, runID, pkg, stageDir)
}

// printVerifyResult outputs the verification summary in text or JSON
// format.
func printVerifyResult(out io.Writer, result verifyResult) {
	if jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(out, string(data))
		return
	}

	failed := 0
	for _, entry := range result.Crates {
		if entry.Ok {
			fmt.Fprintf(out, "  %s %s %s %s\n",
				successStyle.Render(fmt.Sprintf("%-8s", "ok")),
				entry.Name, entry.Version, mutedStyle.Render("("+entry.Duration+")"))
			continue
		}
		failed++
		fmt.Fprintf(out, "  %s %s %s: %s\n",
			errorStyle.Render(fmt.Sprintf("%-8s", "failed")),
			entry.Name, entry.Version, entry.Detail)
	}

	fmt.Fprintln(out)
	if failed > 0 {
		fmt.Fprintln(out, errorStyle.Render(fmt.Sprintf("%d of %d crate(s) failed verification", failed, len(result.Crates))))
		return
	}
	fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("All %d crate(s) verified", len(result.Crates))))
}
