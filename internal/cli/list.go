// list.go implements the "stevedore list" command.
//
// The list command displays every workspace member with its version,
// whether it is publishable, and its directory relative to the
// workspace root. With --remote, the registry index is queried per
// publishable crate to show whether the current version is already
// published.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tidegate/stevedore/internal/registry"
)

// listFlags holds the flag values for the list command.
type listFlags struct {
	// remote enables the per-crate registry index lookup.
	remote bool
}

// NewListCommand creates the "list" cobra command.
func NewListCommand() *cobra.Command {
	flags := &listFlags{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workspace members and their versions",
		Long: `List every workspace member with its version, whether it is
publishable, and its directory relative to the workspace root.

With --remote, the registry index is queried for each publishable
crate to show whether the current version is already published.

Examples:
  stevedore list
  stevedore list --remote
  stevedore list --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.remote, "remote", false, "Query the registry index for each publishable crate")

	return cmd
}

// listCrate is the output structure for a single workspace member in
// the list command.
type listCrate struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Publishable bool   `json:"publishable"`
	Dir         string `json:"dir"`
	Registry    string `json:"registry,omitempty"`
}

// runList is the main logic function for the list command.
func runList(cmd *cobra.Command, flags *listFlags) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	ws, cfg, err := loadWorkspaceAndConfig()
	if err != nil {
		return err
	}

	// Use an empty slice instead of nil so JSON output shows [] when
	// the workspace has no members.
	crates := make([]listCrate, 0, len(ws.Members))
	for _, pkg := range ws.Members {
		crates = append(crates, listCrate{
			Name:        pkg.Name,
			Version:     pkg.Version,
			Publishable: pkg.Publishable,
			Dir:         pkg.RelDir,
		})
	}

	if flags.remote {
		index := registry.NewIndex(cfg.Registry.IndexURL)
		defer func() { _ = index.Close() }()

		for i := range crates {
			if !crates[i].Publishable {
				continue
			}
			crates[i].Registry = indexState(ctx, index, crates[i].Name, crates[i].Version)
		}
	}

	printListResult(out, ws.Root, crates, flags.remote)
	return nil
}

// indexState renders a crate's index status for display. A failed
// lookup degrades to "unknown" rather than aborting the listing.
func indexState(ctx context.Context, index *registry.Index, name, version string) string {
	published, err := index.IsPublished(ctx, name, version)
	if err != nil {
		logger.Warn("index lookup failed", "package", name, "err", err)
		return "unknown"
	}
	if published {
		return "published"
	}
	return "absent"
}

// printListResult outputs the member list in text or JSON format,
// depending on the global --json flag.
func printListResult(out io.Writer, workspaceRoot string, crates []listCrate, remote bool) {
	if jsonOutput {
		result := struct {
			Workspace string      `json:"workspace"`
			Crates    []listCrate `json:"crates"`
		}{Workspace: workspaceRoot, Crates: crates}

		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(out, string(data))
		return
	}

	if len(crates) == 0 {
		fmt.Fprintln(out, "No workspace members found.")
		return
	}

	if remote {
		fmt.Fprintf(out, "%-24s %-12s %-12s %-12s %s\n", "NAME", "VERSION", "PUBLISHABLE", "REGISTRY", "DIR")
	} else {
		fmt.Fprintf(out, "%-24s %-12s %-12s %s\n", "NAME", "VERSION", "PUBLISHABLE", "DIR")
	}

	for _, crate := range crates {
		if remote {
			fmt.Fprintf(out, "%-24s %-12s %-12s %-12s %s\n",
				crate.Name, crate.Version, formatPublishable(crate.Publishable), registryColumn(crate), crate.Dir)
			continue
		}
		fmt.Fprintf(out, "%-24s %-12s %-12s %s\n",
			crate.Name, crate.Version, formatPublishable(crate.Publishable), crate.Dir)
	}
}

// formatPublishable renders the publishable flag for the text table.
func formatPublishable(publishable bool) string {
	if publishable {
		return "yes"
	}
	return "no"
}

// registryColumn renders the REGISTRY column value. Crates that were
// never queried (publish = false) show a dash.
func registryColumn(crate listCrate) string {
	if crate.Registry == "" {
		return "-"
	}
	return crate.Registry
}
