// Package cmd provides the command-line interface.
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"dbbridge/bootstrap"
	"dbbridge/config"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags
var (
	outputJSON bool
	configDir  string
	noColor    bool
	quiet      bool
)

const defaultTimeout = 5 * time.Minute

// NewRootCmd builds the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dbbridge",
		Short: "Multi-database client backend",
		Long: `dbbridge manages saved database connections and runs queries against
PostgreSQL, SQLite, Redis, and ClickHouse backends, optionally through
SSH tunnels.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configDir, "config", ".", "Config directory")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")

	rootCmd.AddCommand(NewConnectionsCmd())
	rootCmd.AddCommand(newTablesCmd())
	rootCmd.AddCommand(newDataCmd())
	rootCmd.AddCommand(newStructureCmd())
	rootCmd.AddCommand(newSchemaCmd())
	rootCmd.AddCommand(newQueryCmd())
	rootCmd.AddCommand(NewRowCmd())
	rootCmd.AddCommand(NewKeysCmd())
	rootCmd.AddCommand(NewQueriesCmd())

	return rootCmd
}

// Execute runs the CLI.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		errorColor.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// initApp assembles the application for one command invocation.
func initApp() (*bootstrap.App, func(), error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, nil, err
	}
	app, err := bootstrap.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return app, func() { app.Close() }, nil
}

func outputAsJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// newSpinner starts a progress spinner unless quiet or JSON output is
// requested. The returned stop function is safe to call regardless.
func newSpinner(message string) func() {
	if quiet || outputJSON {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Start()
	return s.Stop
}
