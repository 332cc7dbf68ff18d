// Package cli implements the cobra-based CLI commands for stevedore.
//
// Each subcommand (publish, plan, verify, list, history, clean) is
// defined in its own file within this package. This file defines the
// root command, the global flags, and the error-to-exit-code mapping.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/tidegate/stevedore/internal/config"
	"github.com/tidegate/stevedore/internal/model"
	"github.com/tidegate/stevedore/internal/workspace"
)

// Global flag variables shared across all subcommands. These are bound
// to cobra persistent flags on the root command, which makes them
// available to every subcommand automatically.
var (
	// jsonOutput switches stdout payloads to machine-readable JSON.
	jsonOutput bool

	// verbose raises the logger to debug level.
	verbose bool

	// configPath is an explicit configuration file, overriding discovery.
	configPath string

	// workspaceDir is where workspace discovery starts; empty means the
	// current directory.
	workspaceDir string
)

// Version, Commit, and Date are set at build time via ldflags. They are
// injected from the main package to display version information.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// logger writes key-value logs to stderr so stdout stays reserved for
// command output.
var logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "stevedore"})

// NewRootCommand creates and configures the root cobra command.
//
// The root command itself does not perform any action. Actual
// functionality is provided by subcommands.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stevedore",
		Short: "Publish Cargo workspace crates in dependency order",
		Long: `stevedore publishes the publishable members of a Cargo workspace to a
registry in dependency order. Each crate is staged into a temporary
directory, its manifest rewritten to be self-contained (workspace
inheritance materialized, sibling path dependencies pinned to exact
versions), verified, published, and recorded.`,

		// Errors are formatted by Execute; cobra must not print usage or
		// the error on top of that.
		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		// Flags are parsed by the time PersistentPreRun fires, so the
		// logger level can follow --verbose.
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logger.SetLevel(log.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a stevedore config file")
	rootCmd.PersistentFlags().StringVarP(&workspaceDir, "workspace", "w", "", "Workspace directory (default: walk up from the current directory)")

	rootCmd.AddCommand(NewPublishCommand())
	rootCmd.AddCommand(NewPlanCommand())
	rootCmd.AddCommand(NewVerifyCommand())
	rootCmd.AddCommand(NewListCommand())
	rootCmd.AddCommand(NewHistoryCommand())
	rootCmd.AddCommand(NewCleanCommand())

	return rootCmd
}

// Execute runs the root command and handles exit codes. This is the
// main entry point called from main.go.
//
// CLIError values carry their own exit codes; other errors default to
// the general error code.
func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) {
			printError(cliErr.Code, cliErr.Message, cliErr.Err)
			os.Exit(int(cliErr.Code))
		}

		printError(model.ExitGeneralError, err.Error(), nil)
		os.Exit(int(model.ExitGeneralError))
	}
}

// printError outputs an error message in the appropriate format (JSON
// or text) based on the --json global flag. Errors always go to stderr;
// stdout is reserved for successful command output.
func printError(code model.ExitCode, message string, underlying error) {
	if jsonOutput {
		errBody := map[string]interface{}{
			"code":    int(code),
			"message": message,
		}
		if underlying != nil {
			errBody["detail"] = underlying.Error()
		}
		data, _ := json.MarshalIndent(map[string]interface{}{"error": errBody}, "", "  ")
		fmt.Fprintln(os.Stderr, string(data))
		return
	}

	if underlying != nil {
		fmt.Fprintf(os.Stderr, "%s %s: %v\n", errorStyle.Render("error:"), message, underlying)
	} else {
		fmt.Fprintf(os.Stderr, "%s %s\n", errorStyle.Render("error:"), message)
	}
}

// loadWorkspaceAndConfig resolves the workspace (honoring --workspace)
// and the effective configuration (honoring --config). Every subcommand
// that operates on a workspace starts here.
func loadWorkspaceAndConfig() (*workspace.Workspace, *config.Config, error) {
	start := workspaceDir
	if start == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, nil, model.WrapCLIError(model.ExitGeneralError, "failed to get current directory", err)
		}
		start = cwd
	}

	ws, err := workspace.Discover(start)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("workspace discovered", "root", ws.Root, "members", len(ws.Members))

	cfg, cfgPath, err := config.LoadOrDefault(ws.Root, configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfgPath != "" {
		logger.Debug("config loaded", "path", cfgPath)
	} else {
		logger.Debug("no config file found, using defaults")
	}
	return ws, cfg, nil
}
