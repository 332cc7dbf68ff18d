// publish.go implements the "stevedore publish" command.
//
// Orchestration steps:
//  1. Discover the workspace and load configuration
//  2. Select members and compute the publish order
//  3. Preflight the registry index (already-published detection,
//     unselected-dependency coverage)
//  4. Confirm the plan (unless --yes or --dry-run)
//  5. Run pre-publish hooks
//  6. Per package: rewrite, stage, verify, publish, await the index
//  7. Record the run (journal + receipt)
//  8. Run post-publish hooks
//
// Stage directories are removed on every path unless --keep-staging or
// staging.keep is set.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tidegate/stevedore/internal/config"
	"github.com/tidegate/stevedore/internal/hooks"
	"github.com/tidegate/stevedore/internal/journal"
	"github.com/tidegate/stevedore/internal/model"
	"github.com/tidegate/stevedore/internal/receipt"
	"github.com/tidegate/stevedore/internal/registry"
	"github.com/tidegate/stevedore/internal/staging"
	"github.com/tidegate/stevedore/internal/workspace"
)

// publishFlags holds the flag values for the publish command.
type publishFlags struct {
	dryRun       bool // --dry-run: run the pipeline but never invoke the real publish
	showManifest bool // --show-manifest: print each rewritten manifest to stdout
	keepStaging  bool // --keep-staging: leave stage directories for inspection
	skipVerify   bool // --skip-verify: skip the verification step
	yes          bool // --yes: skip the interactive confirmation
}

// NewPublishCommand creates the "publish" cobra command.
func NewPublishCommand() *cobra.Command {
	flags := &publishFlags{}

	cmd := &cobra.Command{
		Use:   "publish [crate...]",
		Short: "Stage, verify, and publish workspace crates in dependency order",
		Long: `Publish the selected workspace members to the configured registry.

Each crate is copied into a temporary stage directory, its manifest is
rewritten to be self-contained, the staged copy is verified, and the
publish tool is invoked on it. Crates are processed in dependency
order; versions already present on the registry are skipped.

Without positional arguments, the config's packages list (or every
publishable member) is selected.

Examples:
  stevedore publish
  stevedore publish acme-ui acme-ui-widgets
  stevedore publish --dry-run --show-manifest
  stevedore publish --yes --json`,

		Args: cobra.ArbitraryArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, args, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Run the pipeline without publishing anything")
	cmd.Flags().BoolVar(&flags.showManifest, "show-manifest", false, "Print each rewritten manifest to stdout")
	cmd.Flags().BoolVar(&flags.keepStaging, "keep-staging", false, "Leave stage directories in place after the run")
	cmd.Flags().BoolVar(&flags.skipVerify, "skip-verify", false, "Skip pre-publish verification")
	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

// publishRun bundles what the per-package pipeline needs, so the steps
// don't each take ten parameters.
type publishRun struct {
	ws     *workspace.Workspace
	cfg    *config.Config
	flags  *publishFlags
	runID  string
	stager *staging.Stager
	pub    *registry.Publisher
	index  *registry.Index
	out    io.Writer
}

// runPublish is the main orchestration function for the publish command.
func runPublish(cmd *cobra.Command, args []string, flags *publishFlags) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	ws, cfg, err := loadWorkspaceAndConfig()
	if err != nil {
		return err
	}

	ordered, err := selectOrdered(ws, cfg, args)
	if err != nil {
		return err
	}

	runID := model.NewRunID(time.Now())
	logger.Debug("run starting", "runId", runID, "packages", len(ordered))

	index := registry.NewIndex(cfg.Registry.IndexURL)
	defer func() { _ = index.Close() }()

	already, err := preflight(ctx, index, ws, ordered)
	if err != nil {
		return err
	}

	if !jsonOutput {
		printPublishPlan(out, cfg, runID, ordered, already, flags.dryRun)
	}

	if !flags.dryRun && !flags.yes {
		if jsonOutput {
			return model.NewCLIError(model.ExitGeneralError,
				"refusing to prompt for confirmation in --json mode; pass --yes")
		}
		ok, err := confirm(cmd, fmt.Sprintf("Publish %d crate(s) to %s?", len(ordered), cfg.Registry.Name))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	report := &model.RunReport{
		RunID:         runID,
		Registry:      cfg.Registry.Name,
		WorkspaceRoot: ws.Root,
		DryRun:        flags.dryRun,
		StartedAt:     time.Now().UTC(),
	}

	stager := staging.NewStager(cfg.Staging.Root, cfg.Staging.Keep || flags.keepStaging)
	defer func() {
		if cleanupErr := stager.CleanupAll(); cleanupErr != nil {
			logger.Warn("stage cleanup failed", "err", cleanupErr)
		}
	}()

	hookEnv := hooks.Env{RunID: runID, Registry: cfg.Registry.Name, Workspace: ws.Root}

	// Hooks never fire on a dry run: previewing a release must not
	// trigger operator automation.
	if !flags.dryRun && len(cfg.Hooks.PrePublish) > 0 {
		hookRunner := hooks.NewRunner(ws.Root, os.Stderr, os.Stderr)
		if err := hookRunner.RunPre(ctx, cfg.Hooks.PrePublish, hookEnv); err != nil {
			return err
		}
	}

	run := &publishRun{
		ws:     ws,
		cfg:    cfg,
		flags:  flags,
		runID:  runID,
		stager: stager,
		pub:    newPublisher(cfg),
		index:  index,
		out:    out,
	}

	var runErr error
	for i, pkg := range ordered {
		if !jsonOutput {
			fmt.Fprintf(out, "%s %s %s\n",
				titleStyle.Render(fmt.Sprintf("[%d/%d]", i+1, len(ordered))),
				pkg.Name, mutedStyle.Render(pkg.Version))
		}

		result, pkgErr := run.publishOne(ctx, pkg, already[pkg.Name])
		report.Results = append(report.Results, result)

		if pkgErr != nil {
			if result.State == model.StateFailed {
				run.printStep("failed", result.Detail)
			}
			runErr = pkgErr
			break
		}

		// Pause between consecutive publishes so the registry is not
		// hammered; skips and the final crate need no pause.
		if result.State == model.StatePublished && i < len(ordered)-1 && cfg.Publish.Delay() > 0 {
			logger.Debug("pausing between publishes", "delay", cfg.Publish.Delay())
			select {
			case <-ctx.Done():
				runErr = ctx.Err()
			case <-time.After(cfg.Publish.Delay()):
			}
			if runErr != nil {
				break
			}
		}
	}

	// Crates the failure cut off still appear in the record.
	for _, pkg := range ordered[len(report.Results):] {
		report.Results = append(report.Results, model.PackageResult{
			Name:    pkg.Name,
			Version: pkg.Version,
			State:   model.StatePlanned,
			Detail:  "not attempted",
		})
	}
	report.FinishedAt = time.Now().UTC()

	// The journal and receipt are written before the post hooks so a
	// broken hook cannot lose the record of what was published.
	if err := recordRun(ws.Root, report); err != nil {
		logger.Warn("journal write failed", "err", err)
	}
	receiptPath := ""
	if !flags.dryRun {
		path, err := receipt.Write(report)
		if err != nil {
			logger.Warn("receipt write failed", "err", err)
		} else {
			receiptPath = path
		}
	}

	if !flags.dryRun && len(cfg.Hooks.PostPublish) > 0 {
		hookEnv.Published = publishedRefs(report)
		hookRunner := hooks.NewRunner(ws.Root, os.Stderr, os.Stderr)
		if hookErr := hookRunner.RunPost(ctx, cfg.Hooks.PostPublish, hookEnv); hookErr != nil {
			if runErr == nil {
				runErr = hookErr
			} else {
				logger.Warn("post-publish hook failed", "err", hookErr)
			}
		}
	}

	printPublishResult(out, report, receiptPath)
	return runErr
}

// publishOne runs the pipeline for a single crate. The returned error,
// when non-nil, aborts the run; the PackageResult records the final
// state either way.
func (r *publishRun) publishOne(ctx context.Context, pkg *model.Package, alreadyPublished bool) (res model.PackageResult, err error) {
	res = model.PackageResult{
		Name:      pkg.Name,
		Version:   pkg.Version,
		State:     model.StatePlanned,
		StartedAt: time.Now().UTC(),
	}
	defer func() {
		res.FinishedAt = time.Now().UTC()
		// A crate that already reached an end state keeps it even when a
		// later step (index wait) errors out; only in-flight states
		// collapse to failed.
		if err != nil && !res.State.IsTerminal() {
			res.State = model.StateFailed
			res.Detail = err.Error()
		}
	}()

	if alreadyPublished {
		res.State = model.StateSkipped
		res.Detail = "version already on registry"
		r.printStep("skipped", res.Detail)
		return res, nil
	}

	rewritten, err := rewriteMember(r.ws, pkg)
	if err != nil {
		return res, err
	}
	for _, change := range rewritten.Changes {
		logger.Debug("manifest rewrite", "package", pkg.Name, "change", change)
	}

	stageDir, err := stageMember(r.stager, pkg, rewritten)
	if err != nil {
		return res, err
	}
	res.State = model.StateStaged
	res.StageDir = stageDir
	r.printStep("staged", stageDir)

	if r.flags.showManifest && !jsonOutput {
		fmt.Fprintln(r.out, string(rewritten.Manifest))
	}

	if !r.flags.skipVerify {
		if err := verifyStaged(ctx, r.cfg, r.pub, r.runID, pkg, stageDir); err != nil {
			return res, err
		}
		if r.cfg.Verify.Mode != model.VerifyNone.String() {
			res.State = model.StateVerified
			r.printStep("verified", r.cfg.Verify.Mode)
		}
	}

	if r.flags.dryRun {
		res.Detail = "dry run"
		r.printStep("dry-run", "publish skipped")
		return res, nil
	}

	publishStart := time.Now()
	attempts := r.cfg.Publish.MaxRetries() + 1
	err = registry.RetryWithBackoff(ctx, attempts, r.cfg.Publish.Backoff(), func(attempt int) (bool, error) {
		if attempt > 0 {
			logger.Info("retrying publish", "package", pkg.Name, "attempt", attempt+1, "maxAttempts", attempts)
		}
		if _, pubErr := r.pub.Publish(ctx, stageDir, publishOptions(r.cfg)); pubErr != nil {
			if errors.Is(pubErr, registry.ErrAlreadyPublished) {
				return false, pubErr
			}
			return registry.IsTransient(pubErr), pubErr
		}
		return false, nil
	})
	if errors.Is(err, registry.ErrAlreadyPublished) {
		res.State = model.StateSkipped
		res.Detail = "version already on registry"
		r.printStep("skipped", res.Detail)
		return res, nil
	}
	if err != nil {
		return res, err
	}

	res.State = model.StatePublished
	r.printStep("published", formatDuration(time.Since(publishStart)))

	if r.cfg.Publish.WaitAvailable != nil && *r.cfg.Publish.WaitAvailable {
		if waitErr := r.index.WaitAvailable(ctx, pkg.Name, pkg.Version, r.cfg.Publish.WaitTimeout()); waitErr != nil {
			res.Detail = "published, but the index never listed the version within the timeout"
			return res, waitErr
		}
		r.printStep("indexed", "version visible in the registry index")
	}

	return res, nil
}

// printStep renders one pipeline step line under the crate header.
func (r *publishRun) printStep(state, detail string) {
	if jsonOutput {
		return
	}
	fmt.Fprintf(r.out, "  %s %s\n", stateStyle(state).Render(fmt.Sprintf("%-10s", state)), mutedStyle.Render(detail))
}

// preflight queries the registry index for every crate the run touches:
// the selected crates (already-published detection) and their workspace
// dependencies outside the selection. A dependent cannot be published
// unless each of its path dependencies is either selected for this run
// or already on the registry at the pinned version.
//
// Index lookups that fail degrade to warnings: the registry rejects
// duplicates and unresolvable dependencies server-side anyway, so a
// broken index connection should not block an otherwise valid run.
func preflight(ctx context.Context, index *registry.Index, ws *workspace.Workspace, ordered []*model.Package) (map[string]bool, error) {
	selected := make(map[string]bool, len(ordered))
	for _, pkg := range ordered {
		selected[pkg.Name] = true
	}
	versions := siblingVersions(ws)

	already := make(map[string]bool, len(ordered))
	depChecked := make(map[string]bool)

	for _, pkg := range ordered {
		ok, err := index.IsPublished(ctx, pkg.Name, pkg.Version)
		if err != nil {
			logger.Warn("index lookup failed", "package", pkg.Name, "err", err)
		} else if ok {
			already[pkg.Name] = true
		}

		for _, dep := range pkg.InternalDeps {
			if selected[dep] || depChecked[dep] {
				continue
			}
			depChecked[dep] = true

			depVersion, known := versions[dep]
			if !known {
				continue
			}
			ok, err := index.IsPublished(ctx, dep, depVersion)
			if err != nil {
				logger.Warn("index lookup failed", "package", dep, "err", err)
				continue
			}
			if !ok {
				return nil, model.NewCLIError(model.ExitWorkspaceError,
					fmt.Sprintf("%s depends on workspace sibling %s@%s, which is neither selected for this run nor published; include %s in the selection or publish it first",
						pkg.Name, dep, depVersion, dep))
			}
			logger.Debug("dependency already on registry", "package", dep, "version", depVersion)
		}
	}
	return already, nil
}

// printPublishPlan lists the publish order before anything runs.
func printPublishPlan(out io.Writer, cfg *config.Config, runID string, ordered []*model.Package, already map[string]bool, dryRun bool) {
	header := fmt.Sprintf("Publishing %d crate(s) to %s", len(ordered), cfg.Registry.Name)
	if dryRun {
		header += " (dry run)"
	}
	fmt.Fprintln(out, titleStyle.Render(header), mutedStyle.Render("run "+runID))

	for i, pkg := range ordered {
		line := fmt.Sprintf("  %d. %s %s", i+1, pkg.Name, pkg.Version)
		if already[pkg.Name] {
			line += " " + warnStyle.Render("(already on registry, will skip)")
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out)
}

// confirm prompts and reads a single line from the command's stdin.
// Only an explicit yes proceeds.
func confirm(cmd *cobra.Command, prompt string) (bool, error) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", prompt)

	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, model.WrapCLIError(model.ExitGeneralError, "failed to read confirmation", err)
	}

	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// recordRun writes the report to the journal under the workspace's
// target directory.
func recordRun(workspaceRoot string, report *model.RunReport) error {
	j, err := journal.Open(journal.DefaultPath(workspaceRoot))
	if err != nil {
		return err
	}
	defer func() { _ = j.Close() }()
	return j.Record(report)
}

// publishedRefs renders the published crates as name@version strings
// for the post-publish hook environment.
func publishedRefs(report *model.RunReport) []string {
	published := report.Published()
	refs := make([]string, 0, len(published))
	for _, res := range published {
		refs = append(refs, res.Name+"@"+res.Version)
	}
	return refs
}

// printPublishResult outputs the run summary in text or JSON format.
func printPublishResult(out io.Writer, report *model.RunReport, receiptPath string) {
	if jsonOutput {
		payload := struct {
			*model.RunReport
			Receipt string `json:"receipt,omitempty"`
		}{RunReport: report, Receipt: receiptPath}

		data, _ := json.MarshalIndent(payload, "", "  ")
		fmt.Fprintln(out, string(data))
		return
	}

	counts := make(map[model.PublishState]int)
	for _, res := range report.Results {
		counts[res.State]++
	}

	fmt.Fprintln(out)
	if report.DryRun {
		prepared := counts[model.StateStaged] + counts[model.StateVerified]
		fmt.Fprintf(out, "Dry run complete: %d crate(s) prepared, %d skipped, nothing sent to the registry.\n",
			prepared, counts[model.StateSkipped])
		return
	}

	summary := fmt.Sprintf("%d published, %d skipped, %d failed",
		counts[model.StatePublished], counts[model.StateSkipped], counts[model.StateFailed])

	if report.Failed() {
		fmt.Fprintln(out, errorStyle.Render("Run failed:"), summary)
	} else {
		fmt.Fprintln(out, successStyle.Render("Run complete:"), summary)
	}
	if receiptPath != "" {
		fmt.Fprintln(out, mutedStyle.Render("receipt: "+receiptPath))
	}
}
