// history.go implements the "stevedore history" command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tidegate/stevedore/internal/journal"
)

// historyFlags holds the flag values for the history command.
type historyFlags struct {
	pkg   string // --package: restrict to one crate
	limit int    // --limit: maximum number of entries, newest first
}

// NewHistoryCommand creates the "history" cobra command.
func NewHistoryCommand() *cobra.Command {
	flags := &historyFlags{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded publish runs",
		Long: `Show the publish journal for this workspace, newest entries first.

Every publish and dry run records one row per crate with its final
state. --package restricts the output to a single crate.

Examples:
  stevedore history
  stevedore history --package acme-ui
  stevedore history --limit 10 --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.pkg, "package", "p", "", "Restrict the output to one crate")
	cmd.Flags().IntVarP(&flags.limit, "limit", "n", 50, "Maximum number of entries to show")

	return cmd
}

// runHistory is the main logic function for the history command.
func runHistory(cmd *cobra.Command, flags *historyFlags) error {
	out := cmd.OutOrStdout()

	ws, _, err := loadWorkspaceAndConfig()
	if err != nil {
		return err
	}

	j, err := journal.Open(journal.DefaultPath(ws.Root))
	if err != nil {
		return err
	}
	defer func() { _ = j.Close() }()

	filter := journal.Filter{Package: flags.pkg, Limit: flags.limit}

	entries, err := j.List(filter)
	if err != nil {
		return err
	}
	logger.Debug("journal queried", "entries", len(entries), "package", filter.Package)

	printHistoryResult(out, entries)
	return nil
}

// printHistoryResult outputs the journal entries in text or JSON
// format, depending on the global --json flag.
func printHistoryResult(out io.Writer, entries []journal.Entry) {
	if jsonOutput {
		result := struct {
			Entries []journal.Entry `json:"entries"`
		}{Entries: entries}
		if result.Entries == nil {
			result.Entries = []journal.Entry{}
		}

		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(out, string(data))
		return
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "No publish history recorded yet.")
		return
	}

	fmt.Fprintf(out, "%-22s %-24s %-12s %-11s %-17s %s\n",
		"RUN", "PACKAGE", "VERSION", "STATE", "FINISHED", "DETAIL")

	for _, entry := range entries {
		fmt.Fprintf(out, "%-22s %-24s %-12s %-11s %-17s %s\n",
			entry.RunID,
			entry.Package,
			entry.Version,
			entry.State,
			entry.FinishedAt.Local().Format("2006-01-02 15:04"),
			historyDetail(entry),
		)
	}
}

// historyDetail renders the DETAIL column, marking dry-run rows that
// carry no other detail.
func historyDetail(entry journal.Entry) string {
	if entry.Detail != "" {
		return entry.Detail
	}
	if entry.DryRun {
		return "dry run"
	}
	return "-"
}
