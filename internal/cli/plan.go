// plan.go implements the "stevedore plan" command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tidegate/stevedore/internal/manifest"
	"github.com/tidegate/stevedore/internal/model"
)

// planFlags holds the flag values for the plan command.
type planFlags struct {
	quiet bool // --quiet: omit the full rewritten manifests
}

// NewPlanCommand creates the "plan" cobra command.
func NewPlanCommand() *cobra.Command {
	flags := &planFlags{}

	cmd := &cobra.Command{
		Use:   "plan [crate...]",
		Short: "Show the publish order and rewritten manifests without staging anything",
		Long: `Compute the dependency-ordered publish plan for the selected members
and print, per crate, the rewrites staging would apply and the
resulting manifest.

Nothing is copied, verified, or published; plan only reads the
workspace. Pass --quiet to keep just the order and the change
summaries.

Examples:
  stevedore plan
  stevedore plan acme-ui
  stevedore plan --quiet --json`,

		Args: cobra.ArbitraryArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, args, flags)
		},
	}

	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "Omit the rewritten manifests from the output")

	return cmd
}

// planEntry is one crate's slot in the plan output.
type planEntry struct {
	Position int      `json:"position"`
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Dir      string   `json:"dir"`
	Changes  []string `json:"changes"`
	Manifest string   `json:"manifest,omitempty"`
}

// planResult is the JSON wrapper for the plan output.
type planResult struct {
	Registry string      `json:"registry"`
	Crates   []planEntry `json:"crates"`
}

func runPlan(cmd *cobra.Command, args []string, flags *planFlags) error {
	out := cmd.OutOrStdout()

	ws, cfg, err := loadWorkspaceAndConfig()
	if err != nil {
		return err
	}

	ordered, err := selectOrdered(ws, cfg, args)
	if err != nil {
		return err
	}

	entries := make([]planEntry, 0, len(ordered))
	for i, pkg := range ordered {
		rewritten, err := rewriteMember(ws, pkg)
		if err != nil {
			return err
		}
		entries = append(entries, newPlanEntry(i+1, pkg, rewritten, !flags.quiet))
	}

	result := planResult{Registry: cfg.Registry.Name, Crates: entries}
	if jsonOutput {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return model.WrapCLIError(model.ExitInternalError, "failed to serialize plan", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	printPlanText(out, result)
	return nil
}

// newPlanEntry builds the output entry for one crate.
func newPlanEntry(position int, pkg *model.Package, rewritten *manifest.RewriteResult, includeManifest bool) planEntry {
	entry := planEntry{
		Position: position,
		Name:     pkg.Name,
		Version:  pkg.Version,
		Dir:      pkg.RelDir,
		Changes:  rewritten.Changes,
	}
	if entry.Changes == nil {
		entry.Changes = []string{}
	}
	if includeManifest {
		entry.Manifest = string(rewritten.Manifest)
	}
	return entry
}

func printPlanText(out io.Writer, result planResult) {
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Publish plan: %d crate(s) to %s", len(result.Crates), result.Registry)))
	fmt.Fprintln(out)

	for _, entry := range result.Crates {
		fmt.Fprintf(out, "%d. %s %s %s\n", entry.Position, entry.Name, entry.Version, mutedStyle.Render("("+entry.Dir+")"))

		if len(entry.Changes) == 0 {
			fmt.Fprintf(out, "   %s\n", mutedStyle.Render("manifest unchanged"))
		}
		for _, change := range entry.Changes {
			fmt.Fprintf(out, "   - %s\n", change)
		}

		if entry.Manifest != "" {
			fmt.Fprintln(out)
			fmt.Fprintln(out, entry.Manifest)
		}
	}
}
